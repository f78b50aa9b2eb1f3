// Package ocall implements the bridge between an enclave and its untrusted host.
//
// The host registers one [Handler] per [CallID] in a [Registry]. Handlers return
// their results in buffers allocated from an [Arena], i.e. in untrusted memory.
// The enclave side must not trust such a buffer until [Guard.CopyIn] validated
// its provenance and copied it into enclave memory.
package ocall

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
)

// CallID identifies a call across the enclave boundary.
type CallID uint32

const (
	// GetTargetInfo returns the target info of the quoting enclave.
	GetTargetInfo CallID = iota + 1
	// GetQuote converts a local report into a quote.
	GetQuote
	// VerifyQuote verifies a quote and returns its outcome and metadata.
	VerifyQuote
)

var callNames = map[CallID]string{
	GetTargetInfo: "GetTargetInfo",
	GetQuote:      "GetQuote",
	VerifyQuote:   "VerifyQuote",
}

// String returns the name of the call.
func (c CallID) String() string {
	if name, ok := callNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CallID(%d)", uint32(c))
}

var (
	// ErrTransport is returned if a call could not be carried across the boundary.
	ErrTransport = errors.New("ocall transport failure")
	// ErrProvenance is returned if a buffer handed over by the host is not located in untrusted memory.
	ErrProvenance = errors.New("buffer is not located in untrusted memory")
)

// ServiceError is returned if the call reached the host but its handler failed.
type ServiceError struct {
	Call CallID
	Err  error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Call, e.Err)
}

// Unwrap returns the error of the handler.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Handler serves a call on the host.
// The returned buffer must be allocated from the arena the enclave frees it with.
type Handler func(ctx context.Context, request []byte) ([]byte, error)

// Caller performs calls across the boundary.
type Caller interface {
	Call(ctx context.Context, id CallID, request []byte) ([]byte, error)
}

// Memory describes the untrusted memory handler results are placed in.
type Memory interface {
	IsOutsideEnclave(buf []byte) bool
	Free(buf []byte) error
}

// Code classifies an error returned by a boundary call.
// Handler errors and unknown errors are logic failures.
func Code(err error) attestation.Code {
	switch {
	case err == nil:
		return attestation.OK
	case errors.Is(err, ErrProvenance):
		return attestation.ProvenanceValidationFailure
	case errors.Is(err, ErrTransport), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return attestation.BoundaryTransportFailure
	default:
		return attestation.BoundaryLogicFailure
	}
}
