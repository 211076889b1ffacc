package connection

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/yndnr/pagevault-go/internal/server/localserver"
)

// fakeDaemon answers each request line with the response produced by
// reply.
func fakeDaemon(t *testing.T, reply func(localserver.Request) localserver.Response) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake.sock")
	ln, err := net.Listen("unix", path)
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
					if err := enc.Encode(reply(req)); err != nil {
						return
					}
				}
			}()
		}
	}()
	return path
}

func TestCall_DecodesResult(t *testing.T) {
	path := fakeDaemon(t, func(req localserver.Request) localserver.Response {
		if req.Op != localserver.OpFreeEstimate {
			t.Errorf("op = %q", req.Op)
		}
		return localserver.Response{ID: req.ID, OK: true, Result: localserver.FreeResult{Pages: 123}}
	})

	c := NewSocketClient(path)
	defer c.Close()

	var free localserver.FreeResult
	if err := c.Call(localserver.OpFreeEstimate, nil, &free); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if free.Pages != 123 {
		t.Errorf("pages = %d, want 123", free.Pages)
	}
}

func TestCall_SendsParams(t *testing.T) {
	path := fakeDaemon(t, func(req localserver.Request) localserver.Response {
		var p localserver.KVKeyParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return localserver.Response{OK: false, Error: &localserver.ErrorBody{Message: err.Error()}}
		}
		if p.Basis != "alpha" || p.Key != "notes" {
			return localserver.Response{OK: false, Error: &localserver.ErrorBody{Message: "wrong params"}}
		}
		return localserver.Response{ID: req.ID, OK: true, Result: localserver.SizeResult{Size: 9}}
	})

	c := NewSocketClient(path)
	defer c.Close()

	var size localserver.SizeResult
	err := c.Call(localserver.OpKVSize, localserver.KVKeyParams{Basis: "alpha", Key: "notes"}, &size)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if size.Size != 9 {
		t.Errorf("size = %d, want 9", size.Size)
	}
}

func TestCall_ServerError(t *testing.T) {
	path := fakeDaemon(t, func(req localserver.Request) localserver.Response {
		return localserver.Response{ID: req.ID, OK: false, Error: &localserver.ErrorBody{
			Code:    "PV-BAS-4011",
			Message: "basis unlock failed",
		}}
	})

	c := NewSocketClient(path)
	defer c.Close()

	err := c.Call(localserver.OpBasisMount, localserver.BasisMountParams{Password: "x"}, nil)
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *ServerError", err)
	}
	if se.Code != "PV-BAS-4011" {
		t.Errorf("code = %q", se.Code)
	}
}

func TestCall_MissingSocket(t *testing.T) {
	c := NewSocketClient(filepath.Join(t.TempDir(), "absent.sock"))
	if err := c.Call(localserver.OpSystemStatus, nil, nil); err == nil {
		t.Fatal("Call succeeded against a missing socket")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := NewSocketClient("unused")
	if err := c.Close(); err != nil {
		t.Errorf("Close on unconnected client: %v", err)
	}
}
