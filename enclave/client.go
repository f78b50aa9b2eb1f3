package enclave

import (
	"context"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/internal/wire"
	"github.com/edgelesssys/go-sgx-evidence/ocall"
	"github.com/edgelesssys/go-sgx-evidence/verification"
	"go.uber.org/zap"
)

// VerificationClient calls the verification service of the host.
// It implements [verification.Service] for verifiers running inside an enclave.
type VerificationClient struct {
	bridge ocall.Caller
	guard  ocall.Guard
	log    *zap.Logger
}

// NewVerificationClient returns a client calling the host through bridge.
// mem describes the untrusted memory the host returns its results in.
func NewVerificationClient(bridge ocall.Caller, mem ocall.Memory, log *zap.Logger) *VerificationClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &VerificationClient{
		bridge: bridge,
		guard:  ocall.Guard{Memory: mem},
		log:    log,
	}
}

// VerifyQuote implements [verification.Service].
// The returned metadata is copied into enclave memory.
func (c *VerificationClient) VerifyQuote(ctx context.Context, req verification.Request) (verification.Response, error) {
	request := wire.VerifyQuoteRequest{
		Quote:               req.Quote,
		ExpirationCheckDate: req.ExpirationCheckDate.Unix(),
		Nonce:               req.Nonce,
		TargetInfo:          req.TargetInfo,
	}
	resp, err := copyCall(ctx, c.bridge, c.guard, c.log, ocall.VerifyQuote, request.Marshal())
	if err != nil {
		return verification.Response{}, err
	}

	var response wire.VerifyQuoteResponse
	if err := response.Unmarshal(resp); err != nil {
		return verification.Response{}, attestation.Errorf(attestation.BoundaryLogicFailure, "decoding verification response: %w", err)
	}
	outcome := attestation.Outcome(response.Outcome)
	if !outcome.Valid() {
		return verification.Response{}, attestation.Errorf(attestation.BoundaryLogicFailure, "unknown verification outcome %#x", response.Outcome)
	}
	return verification.Response{
		Outcome:           outcome,
		CollateralExpired: response.CollateralExpired,
		Supplemental:      response.Supplemental,
		QvEReport:         response.QvEReport,
	}, nil
}
