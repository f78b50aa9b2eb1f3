package attestation

import (
	"errors"
	"fmt"
)

// Code classifies why an attestation operation failed.
type Code uint32

const (
	// OK is reported for a nil error.
	OK Code = iota
	// InvalidParameter means caller input was empty or malformed. No boundary call was made.
	InvalidParameter
	// BoundaryTransportFailure means the round trip to the quoting or verification service could not complete.
	BoundaryTransportFailure
	// BoundaryLogicFailure means the service was reached but reported an internal error.
	BoundaryLogicFailure
	// ProvenanceValidationFailure means a buffer claimed to be untrusted memory is not.
	ProvenanceValidationFailure
	// VerifyQuoteFailed means quote verification failed or its outcome is not accepted by the policy.
	VerifyQuoteFailed
	// VerifyUserDataFailed means the report data of the quote does not match the expected user data.
	VerifyUserDataFailed
	// VerifyTimeStampFailed means the timestamp bound into the evidence is outside the validity window.
	VerifyTimeStampFailed
	// CollateralExpired means the collateral used for verification is stale.
	CollateralExpired
	// EnclaveInDebugMode means the producing enclave runs in debug mode.
	EnclaveInDebugMode
)

var codeNames = map[Code]string{
	OK:                          "OK",
	InvalidParameter:            "InvalidParameter",
	BoundaryTransportFailure:    "BoundaryTransportFailure",
	BoundaryLogicFailure:        "BoundaryLogicFailure",
	ProvenanceValidationFailure: "ProvenanceValidationFailure",
	VerifyQuoteFailed:           "VerifyQuoteFailed",
	VerifyUserDataFailed:        "VerifyUserDataFailed",
	VerifyTimeStampFailed:       "VerifyTimeStampFailed",
	CollateralExpired:           "CollateralExpired",
	EnclaveInDebugMode:          "EnclaveInDebugMode",
}

// String returns the name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Sentinel errors, one per code. Match them with errors.Is.
var (
	ErrInvalidParameter            = &Error{Code: InvalidParameter}
	ErrBoundaryTransportFailure    = &Error{Code: BoundaryTransportFailure}
	ErrBoundaryLogicFailure        = &Error{Code: BoundaryLogicFailure}
	ErrProvenanceValidationFailure = &Error{Code: ProvenanceValidationFailure}
	ErrVerifyQuoteFailed           = &Error{Code: VerifyQuoteFailed}
	ErrVerifyUserDataFailed        = &Error{Code: VerifyUserDataFailed}
	ErrVerifyTimeStampFailed       = &Error{Code: VerifyTimeStampFailed}
	ErrCollateralExpired           = &Error{Code: CollateralExpired}
	ErrEnclaveInDebugMode          = &Error{Code: EnclaveInDebugMode}
)

// Error is the error type returned by attestation operations.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

// Errorf returns an *Error with the given code and a formatted message.
// If the arguments contain an error wrapped with %w, it is kept as the cause.
func Errorf(code Code, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Code: code, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Msg
}

// Unwrap returns the cause of the error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain.
// It returns OK for a nil error and VerifyQuoteFailed for errors outside the taxonomy.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Code
	}
	return VerifyQuoteFailed
}

// MessageOf returns the message of the first *Error in err's chain, or err.Error() otherwise.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Msg
	}
	return err.Error()
}
