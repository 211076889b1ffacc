package command

import (
	"bufio"
	"encoding/json"
	"flag"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pagevault-go/internal/server/localserver"
)

// fakeDaemon runs a socket server answering with reply. It records
// every request it sees.
type fakeDaemon struct {
	path     string
	requests chan localserver.Request
}

func newFakeDaemon(t *testing.T, reply func(localserver.Request) localserver.Response) *fakeDaemon {
	t.Helper()
	d := &fakeDaemon{
		path:     filepath.Join(t.TempDir(), "pv.sock"),
		requests: make(chan localserver.Request, 16),
	}
	ln, err := net.Listen("unix", d.path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				enc := json.NewEncoder(conn)
				for scanner.Scan() {
					var req localserver.Request
					if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
						return
					}
					d.requests <- req
					if err := enc.Encode(reply(req)); err != nil {
						return
					}
				}
			}()
		}
	}()
	return d
}

// lastRequest pops one recorded request.
func (d *fakeDaemon) lastRequest(t *testing.T) localserver.Request {
	t.Helper()
	select {
	case req := <-d.requests:
		return req
	default:
		t.Fatal("no request recorded")
		return localserver.Request{}
	}
}

func okReply(result any) func(localserver.Request) localserver.Response {
	return func(req localserver.Request) localserver.Response {
		return localserver.Response{ID: req.ID, OK: true, Result: result}
	}
}

// testContext builds a cli.Context pointing at the fake daemon, with
// any extra string flags a subcommand needs.
func testContext(d *fakeDaemon, extraFlags map[string]string, args ...string) *cli.Context {
	app := &cli.App{Name: "test", Flags: globalFlags()}

	set := flag.NewFlagSet("test", flag.ContinueOnError)
	defined := make(map[string]bool)
	for _, f := range app.Flags {
		f.Apply(set)
		for _, name := range f.Names() {
			defined[name] = true
		}
	}
	for name := range extraFlags {
		if defined[name] {
			continue
		}
		(&cli.StringFlag{Name: name}).Apply(set)
	}

	full := []string{"--socket", d.path}
	for name, val := range extraFlags {
		full = append(full, "--"+name, val)
	}
	full = append(full, args...)
	set.Parse(full)

	return cli.NewContext(app, set, nil)
}

// captureStdout runs fn with os.Stdout redirected to a pipe and
// returns what it wrote.
func captureStdout(t *testing.T, fn func() error) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fnErr := fn()
	w.Close()
	out := make([]byte, 0, 1024)
	buf := make([]byte, 1024)
	for {
		n, rerr := r.Read(buf)
		out = append(out, buf[:n]...)
		if rerr != nil {
			break
		}
	}
	r.Close()
	if fnErr != nil {
		t.Fatalf("command failed: %v", fnErr)
	}
	return string(out)
}
