// Package output provides output formatting for pagevault-cli.
//
// Commands build Table values explicitly and hand them to a
// Formatter; the JSON formatter renders the raw result structures
// instead, for scripting.
package output
