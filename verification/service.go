package verification

import (
	"context"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
)

// Service verifies quotes. It is implemented by the platform's quote verification library,
// either directly on the host or through the enclave boundary.
type Service interface {
	VerifyQuote(ctx context.Context, req Request) (Response, error)
}

// Request is a quote verification request.
type Request struct {
	// Quote is the raw quote.
	Quote []byte
	// ExpirationCheckDate is the time the collateral's validity is checked against.
	ExpirationCheckDate time.Time
	// Nonce and TargetInfo are set if the verifying enclave requests a proof of the verification.
	// The service then returns a report targeted at TargetInfo, binding the nonce and the result.
	Nonce      []byte
	TargetInfo []byte
}

// Response is the result of a quote verification.
type Response struct {
	Outcome           attestation.Outcome
	CollateralExpired bool
	// Supplemental is opaque supplemental data of the verification library.
	Supplemental []byte
	// QvEReport is the report of the Quote Verification Enclave (QvE), if a proof was requested.
	QvEReport []byte
}
