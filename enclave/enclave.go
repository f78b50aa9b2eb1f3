// Package enclave produces evidence inside an enclave.
//
// A [Producer] binds user data into a local report targeted at the quoting enclave
// and lets the host convert the report into a quote. Every buffer returned by the host
// is validated and copied into enclave memory before it is used.
package enclave

import (
	"context"
	"encoding/base64"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/internal/wire"
	"github.com/edgelesssys/go-sgx-evidence/ocall"
	"go.uber.org/zap"
)

// Hardware creates local reports.
type Hardware interface {
	// Report returns a local report binding data, targeted at the enclave described by targetInfo.
	Report(targetInfo []byte, data attestation.UserData) ([]byte, error)
}

// Producer creates evidence.
// It holds no per-call state and is safe for concurrent use if its dependencies are.
type Producer struct {
	hw     Hardware
	bridge ocall.Caller
	guard  ocall.Guard
	log    *zap.Logger
}

// Option configures a Producer.
type Option func(*Producer)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Producer) { p.log = log }
}

// New returns a Producer creating reports with hw and quotes through bridge.
// mem describes the untrusted memory the host returns its results in.
func New(hw Hardware, bridge ocall.Caller, mem ocall.Memory, opts ...Option) *Producer {
	p := &Producer{
		hw:     hw,
		bridge: bridge,
		guard:  ocall.Guard{Memory: mem},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateReport returns a base64 encoded quote whose report data holds userData.
func (p *Producer) CreateReport(ctx context.Context, userData attestation.UserData) (string, error) {
	resp, err := p.call(ctx, ocall.GetTargetInfo, nil)
	if err != nil {
		return "", err
	}
	var targetInfo wire.TargetInfoResponse
	if err := targetInfo.Unmarshal(resp); err != nil {
		return "", attestation.Errorf(attestation.BoundaryLogicFailure, "decoding target info: %w", err)
	}
	if len(targetInfo.TargetInfo) == 0 {
		return "", attestation.Errorf(attestation.BoundaryLogicFailure, "host returned empty target info")
	}

	report, err := p.hw.Report(targetInfo.TargetInfo, userData)
	if err != nil {
		return "", attestation.Errorf(attestation.BoundaryLogicFailure, "creating local report: %w", err)
	}

	req := wire.QuoteRequest{Report: report}
	resp, err = p.call(ctx, ocall.GetQuote, req.Marshal())
	if err != nil {
		return "", err
	}
	var quote wire.QuoteResponse
	if err := quote.Unmarshal(resp); err != nil {
		return "", attestation.Errorf(attestation.BoundaryLogicFailure, "decoding quote: %w", err)
	}
	if len(quote.Quote) == 0 {
		return "", attestation.Errorf(attestation.BoundaryLogicFailure, "host returned empty quote")
	}

	p.log.Debug("Created quote", zap.Int("size", len(quote.Quote)))
	return base64.StdEncoding.EncodeToString(quote.Quote), nil
}

// CreateReportForInfo returns a quote binding SHA-256(info).
func (p *Producer) CreateReportForInfo(ctx context.Context, info string) (string, error) {
	userData, err := attestation.UserDataFromInfo(info)
	if err != nil {
		return "", err
	}
	return p.CreateReport(ctx, userData)
}

// CreateReportForInfoAt returns a quote binding info together with a Unix timestamp.
// Verifiers check the timestamp against their validity window.
func (p *Producer) CreateReportForInfoAt(ctx context.Context, info string, timestamp uint64) (string, error) {
	userData, err := attestation.UserDataFromInfoAt(info, timestamp)
	if err != nil {
		return "", err
	}
	return p.CreateReport(ctx, userData)
}

// call performs a boundary call and copies the response into enclave memory.
func (p *Producer) call(ctx context.Context, id ocall.CallID, request []byte) ([]byte, error) {
	return copyCall(ctx, p.bridge, p.guard, p.log, id, request)
}

func copyCall(ctx context.Context, bridge ocall.Caller, guard ocall.Guard, log *zap.Logger, id ocall.CallID, request []byte) ([]byte, error) {
	hostBuf, err := bridge.Call(ctx, id, request)
	if err != nil {
		code := ocall.Code(err)
		log.Error("Boundary call failed", zap.Stringer("call", id), zap.Stringer("code", code), zap.Error(err))
		return nil, attestation.Errorf(code, "calling %s: %w", id, err)
	}
	resp, err := guard.CopyIn(hostBuf)
	if err != nil {
		code := ocall.Code(err)
		log.Error("Rejected host buffer", zap.Stringer("call", id), zap.Stringer("code", code), zap.Error(err))
		return nil, attestation.Errorf(code, "copying %s response: %w", id, err)
	}
	return resp, nil
}
