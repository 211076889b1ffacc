// pagevaultd is the PageVault daemon.
//
// It opens (or formats) a flash medium, runs the storage engine, and
// serves the management API on a local Unix socket. Configuration
// comes from a YAML file and PAGEVAULT_ environment variables.
//
// Usage:
//
//	pagevaultd -config /etc/pagevaultd/config.yaml
//	pagevaultd -config config.yaml -format   # destroys existing contents
package main
