package domain

import (
	"errors"
	"fmt"
)

// EngineError represents a storage engine error with a structured error code.
type EngineError struct {
	Code    string // Error code (e.g., "PV-TBL-5002")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new EngineError with the given code and message.
func NewEngineError(code, message string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *EngineError) WithDetails(details string) *EngineError {
	return &EngineError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *EngineError) WithCause(cause error) *EngineError {
	return &EngineError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsEngineError checks if an error is an EngineError with the given code.
// If code is empty, it only checks if the error is an EngineError.
func IsEngineError(err error, code string) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		if code == "" {
			return true
		}
		return ee.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's an EngineError.
func GetErrorCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// ============================================================================
// Media Errors (MED)
// ============================================================================

var (
	// ErrMediaFault indicates a flash I/O failure. Fatal to the in-flight
	// operation and surfaced to the caller; this layer never retries.
	ErrMediaFault = NewEngineError("PV-MED-5001", "flash media fault")

	// ErrOutOfRange indicates a page address outside medium geometry.
	ErrOutOfRange = NewEngineError("PV-MED-4000", "page address out of range")

	// ErrProgramConflict indicates a program attempt that would set a
	// cleared bit without an intervening erase.
	ErrProgramConflict = NewEngineError("PV-MED-4001", "program would set erased bit")
)

// ============================================================================
// Crypto Errors (CRY)
// ============================================================================

var (
	// ErrIntegrityFault indicates AEAD authentication failed on a page or
	// table. Either corruption or hostile tampering; never auto-repaired.
	ErrIntegrityFault = NewEngineError("PV-CRY-4010", "page authentication failed")

	// ErrKeyDerivation indicates basis key derivation failed.
	ErrKeyDerivation = NewEngineError("PV-CRY-5010", "key derivation failed")
)

// ============================================================================
// Basis Errors (BAS)
// ============================================================================

var (
	// ErrAuthFailure indicates a basis unlock failed. Wrong password and
	// nonexistent basis return this same value through the same code path.
	ErrAuthFailure = NewEngineError("PV-BAS-4011", "basis unlock failed")

	// ErrBasisMounted indicates the basis is already mounted.
	ErrBasisMounted = NewEngineError("PV-BAS-4090", "basis already mounted")

	// ErrBasisNotMounted indicates no mounted basis under the given handle.
	ErrBasisNotMounted = NewEngineError("PV-BAS-4040", "basis not mounted")

	// ErrAnchorsFull indicates no free root anchor slots remain for a
	// new basis.
	ErrAnchorsFull = NewEngineError("PV-BAS-5070", "no free basis anchor slots")
)

// ============================================================================
// Page Table Errors (TBL)
// ============================================================================

var (
	// ErrTableCorrupt indicates no valid table generation was found at
	// mount. Unrecoverable without out-of-band backup.
	ErrTableCorrupt = NewEngineError("PV-TBL-5002", "no valid page table generation")

	// ErrPageNotMapped indicates a logical page with no valid entry.
	ErrPageNotMapped = NewEngineError("PV-TBL-4040", "logical page not mapped")

	// ErrTxnCommitted indicates an abort attempt after the root advance.
	ErrTxnCommitted = NewEngineError("PV-TBL-4091", "transaction already committed")
)

// ============================================================================
// Free Space Errors (SPC)
// ============================================================================

var (
	// ErrCapacityExhausted indicates no free pages are available.
	ErrCapacityExhausted = NewEngineError("PV-SPC-5070", "no free pages available")
)

// ============================================================================
// Dictionary Errors (DCT)
// ============================================================================

var (
	// ErrNameExists indicates a dictionary name collision within a basis.
	ErrNameExists = NewEngineError("PV-DCT-4090", "entry name already exists")

	// ErrNameNotFound indicates the named dictionary entry does not exist.
	ErrNameNotFound = NewEngineError("PV-DCT-4040", "entry name not found")

	// ErrNameTooLong indicates the entry name exceeds the descriptor limit.
	ErrNameTooLong = NewEngineError("PV-DCT-4001", "entry name too long")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewEngineError("PV-ARG-1001", "invalid argument")

	// ErrEngineClosed indicates an operation against a closed engine.
	ErrEngineClosed = NewEngineError("PV-ARG-1002", "engine closed")
)

// ============================================================================
// Management Socket Errors (SRV)
// ============================================================================

var (
	// ErrBadRequest indicates a malformed management request.
	ErrBadRequest = NewEngineError("PV-SRV-4000", "malformed request")

	// ErrUnknownOperation indicates an unrecognized operation name.
	ErrUnknownOperation = NewEngineError("PV-SRV-4004", "unknown operation")
)
