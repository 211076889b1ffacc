package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestEngineError_Is(t *testing.T) {
	err := ErrPageNotMapped.WithDetails("vaddr 42")
	if !errors.Is(err, ErrPageNotMapped) {
		t.Error("WithDetails broke errors.Is matching")
	}
	if errors.Is(err, ErrNameNotFound) {
		t.Error("errors.Is matched across different codes")
	}
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("disk on fire")
	err := ErrMediaFault.WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !errors.Is(err, ErrMediaFault) {
		t.Error("WithCause broke code matching")
	}
}

func TestEngineError_Message(t *testing.T) {
	base := ErrAuthFailure.Error()
	detailed := ErrAuthFailure.WithDetails("pair 3").Error()
	if base == detailed {
		t.Error("details not rendered")
	}
	want := fmt.Sprintf("[%s] %s", ErrAuthFailure.Code, ErrAuthFailure.Message)
	if base != want {
		t.Errorf("Error() = %q, want %q", base, want)
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(ErrCapacityExhausted); got != "PV-SPC-5070" {
		t.Errorf("GetErrorCode = %q", got)
	}
	if got := GetErrorCode(errors.New("plain")); got != "" {
		t.Errorf("GetErrorCode(plain) = %q, want empty", got)
	}
	wrapped := fmt.Errorf("context: %w", ErrTableCorrupt)
	if got := GetErrorCode(wrapped); got != "PV-TBL-5002" {
		t.Errorf("GetErrorCode(wrapped) = %q", got)
	}
}

func TestIsEngineError(t *testing.T) {
	if !IsEngineError(ErrBasisNotMounted.WithDetails("alpha"), "PV-BAS-4040") {
		t.Error("IsEngineError missed a matching code")
	}
	if IsEngineError(ErrBasisNotMounted, "PV-BAS-4090") {
		t.Error("IsEngineError matched a different code")
	}
}
