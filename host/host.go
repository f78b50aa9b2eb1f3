// Package host serves the quoting and verification services of the untrusted host to an enclave.
//
// Each service is registered as a set of [ocall.Handler]s. Handlers decode the request,
// call the service, and return the encoded response in a buffer allocated from the arena,
// which the enclave frees after copying the response.
package host

import (
	"context"
	"fmt"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/internal/wire"
	"github.com/edgelesssys/go-sgx-evidence/ocall"
	"github.com/edgelesssys/go-sgx-evidence/verification"
)

// QuotingService creates quotes from local reports.
type QuotingService interface {
	// TargetInfo returns the target info of the quoting enclave.
	TargetInfo(ctx context.Context) ([]byte, error)
	// Quote converts a local report targeted at the quoting enclave into a quote.
	Quote(ctx context.Context, report []byte) ([]byte, error)
}

// RegisterQuoting registers the handlers of [ocall.GetTargetInfo] and [ocall.GetQuote].
func RegisterQuoting(reg *ocall.Registry, arena *ocall.Arena, svc QuotingService) error {
	if err := reg.Register(ocall.GetTargetInfo, func(ctx context.Context, _ []byte) ([]byte, error) {
		targetInfo, err := svc.TargetInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting target info: %w", err)
		}
		resp := wire.TargetInfoResponse{TargetInfo: targetInfo}
		return arena.Copy(resp.Marshal()), nil
	}); err != nil {
		return err
	}

	if err := reg.Register(ocall.GetQuote, func(ctx context.Context, request []byte) ([]byte, error) {
		var req wire.QuoteRequest
		if err := req.Unmarshal(request); err != nil {
			return nil, fmt.Errorf("decoding quote request: %w", err)
		}
		quote, err := svc.Quote(ctx, req.Report)
		if err != nil {
			return nil, fmt.Errorf("getting quote: %w", err)
		}
		resp := wire.QuoteResponse{Quote: quote}
		return arena.Copy(resp.Marshal()), nil
	}); err != nil {
		reg.Unregister(ocall.GetTargetInfo)
		return err
	}
	return nil
}

// RegisterVerification registers the handler of [ocall.VerifyQuote].
func RegisterVerification(reg *ocall.Registry, arena *ocall.Arena, svc verification.Service) error {
	return reg.Register(ocall.VerifyQuote, func(ctx context.Context, request []byte) ([]byte, error) {
		var req wire.VerifyQuoteRequest
		if err := req.Unmarshal(request); err != nil {
			return nil, fmt.Errorf("decoding verification request: %w", err)
		}
		resp, err := svc.VerifyQuote(ctx, verification.Request{
			Quote:               req.Quote,
			ExpirationCheckDate: time.Unix(req.ExpirationCheckDate, 0),
			Nonce:               req.Nonce,
			TargetInfo:          req.TargetInfo,
		})
		if err != nil {
			return nil, fmt.Errorf("verifying quote: %w", err)
		}
		out := wire.VerifyQuoteResponse{
			Outcome:           uint32(resp.Outcome),
			CollateralExpired: resp.CollateralExpired,
			Supplemental:      resp.Supplemental,
			QvEReport:         resp.QvEReport,
		}
		return arena.Copy(out.Marshal()), nil
	})
}
