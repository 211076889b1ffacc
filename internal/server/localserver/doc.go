// Package localserver provides the Unix socket management interface.
//
// The daemon listens on a Unix domain socket and speaks
// newline-delimited JSON: one request object per line, one response
// object per line. Passwords travel over this socket, so it is
// created with 0600 permissions and never exposed on the network.
//
// Operations:
//
//   - system.status: daemon and medium status
//   - basis.create / basis.mount / basis.unmount / basis.list
//   - kv.list / kv.get / kv.put / kv.delete / kv.size
//   - free.estimate: obfuscated free space estimate
package localserver
