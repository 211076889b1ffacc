// Package command provides CLI command definitions for pagevault-cli.
//
// Commands talk to a running pagevaultd over its management socket:
//
//   - basis: create, mount, unmount, list
//   - kv: list, get, put, rm, size
//   - system: status, free
//
// Output defaults to aligned tables; --output json switches to raw
// JSON for scripting.
package command
