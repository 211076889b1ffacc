// pagevault-cli manages a running pagevaultd.
//
// Examples:
//
//	pagevault-cli basis create journal
//	pagevault-cli basis mount
//	pagevault-cli kv put -b journal notes -f notes.txt
//	pagevault-cli kv get -b journal notes
//	pagevault-cli system status -o json
package main
