// Package connection provides the management socket client for
// pagevault-cli.
//
// The daemon's management interface is a Unix domain socket speaking
// newline-delimited JSON; SocketClient wraps one connection and the
// request/response framing.
package connection
