package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	l.Info("engine opened", "pages", 4096)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "engine opened" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["pages"] != float64(4096) {
		t.Errorf("pages = %v", entry["pages"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "json", Output: &buf})

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info leaked through warn level: %s", buf.String())
	}
	l.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("warn entry missing")
	}
}

func TestSetLevel_Dynamic(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", Output: &buf})

	l.Debug("before")
	if buf.Len() != 0 {
		t.Fatal("debug leaked at info level")
	}

	SetLevel("debug")
	defer SetLevel("info")
	if GetLevel() != "debug" {
		t.Errorf("GetLevel = %q", GetLevel())
	}
	l.Debug("after")
	if !strings.Contains(buf.String(), "after") {
		t.Error("debug entry missing after SetLevel")
	}
}

func TestRedact_SensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	l.Info("mount attempt",
		"basis", "alpha",
		"password", "hunter2",
		"device_secret", "root-of-trust")

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "root-of-trust") {
		t.Fatalf("secret value leaked: %s", out)
	}
	if !strings.Contains(out, redactedValue) {
		t.Error("redaction placeholder missing")
	}
	if !strings.Contains(out, "alpha") {
		t.Error("non-sensitive value was lost")
	}
}

func TestRedact_ByteSlicesAndHex(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	l.Info("derived",
		"material", []byte{0xde, 0xad, 0xbe, 0xef},
		"dump", "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718")

	out := buf.String()
	if strings.Contains(out, "dead") || strings.Contains(out, "a1b2c3d4") {
		t.Fatalf("key-shaped value leaked: %s", out)
	}
}

func TestContext_RequestID(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := WithLogger(context.Background(), l)
	ctx = WithRequestID(ctx, "01J5TESTULID")

	L(ctx).Info("handled")
	if !strings.Contains(buf.String(), "01J5TESTULID") {
		t.Errorf("request_id missing: %s", buf.String())
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("empty context produced a request id")
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"basis_key", true},
		{"DeviceSecret", true},
		{"passphrase", true},
		{"basis", false},
		{"pages", false},
	}
	for _, tt := range tests {
		if got := IsSensitiveKey(tt.key); got != tt.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
