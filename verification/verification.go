/*
# Evidence Verification

This package verifies evidence produced by an enclave: a base64 encoded SGX or TDX quote
whose report data binds 64 bytes of user data, optionally derived from an info string and a timestamp.

Verification follows these steps:

  - Decode the quote. Empty or malformed input is rejected without contacting the verification service.

  - Let the [Service] verify the quote. The expiration check date is the current time.

  - In trusted mode, check the proof returned alongside the result using a [Prover].
    The proof binds a fresh nonce, the quote, and the complete result.

  - Reject quotes that failed cryptographic verification (see [attestation.Outcome.Verified]), whatever the policy.

  - Reject quotes of enclaves running in debug mode, whatever the policy.

  - Compare the report data of the quote with the expected user data.

  - Accept the outcome only if it is part of the policy. The default policy only accepts [attestation.Ok].

  - Reject evidence verified with expired collateral.

  - For timestamped evidence, check the timestamp lies within the validity window.

The result is the code identity of the quote: MRENCLAVE for SGX, MRTD for TDX.
*/
package verification

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/ocall"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const metricsNamespace = "evidence"

// Verifier verifies evidence.
// It is safe for concurrent use.
type Verifier struct {
	svc    Service
	prover Prover // nil in untrusted mode

	policyMux sync.RWMutex
	policy    attestation.Policy

	clock   clock.PassiveClock
	log     *zap.Logger
	metrics *verifierMetrics
}

// Option configures a Verifier.
type Option func(*config)

type config struct {
	policy     attestation.Policy
	clock      clock.PassiveClock
	log        *zap.Logger
	registerer prometheus.Registerer
}

// WithPolicy sets the initial acceptance policy.
func WithPolicy(policy attestation.Policy) Option {
	return func(c *config) { c.policy = policy }
}

// WithClock sets the clock used for the expiration check date and timestamp checks.
func WithClock(clock clock.PassiveClock) Option {
	return func(c *config) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithRegisterer registers the verifier's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// NewUntrusted returns a Verifier for use outside an enclave.
// Results of svc are trusted as they are.
func NewUntrusted(svc Service, opts ...Option) *Verifier {
	return newVerifier(svc, nil, opts)
}

// NewTrusted returns a Verifier for use inside an enclave.
// Every result of svc must carry a proof accepted by prover.
func NewTrusted(svc Service, prover Prover, opts ...Option) *Verifier {
	return newVerifier(svc, prover, opts)
}

func newVerifier(svc Service, prover Prover, opts []Option) *Verifier {
	cfg := config{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.log
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		svc:     svc,
		prover:  prover,
		policy:  cfg.policy,
		clock:   cfg.clock,
		log:     log,
		metrics: newVerifierMetrics(promauto.With(cfg.registerer), metricsNamespace),
	}
}

// SetAcceptableResults replaces the acceptance policy.
// Calling it without outcomes restores the default policy, which accepts only [attestation.Ok].
func (v *Verifier) SetAcceptableResults(outcomes ...attestation.Outcome) {
	policy := attestation.NewPolicy(outcomes...)
	v.policyMux.Lock()
	v.policy = policy
	v.policyMux.Unlock()
	v.log.Info("Updated acceptance policy", zap.Stringer("policy", policy))
}

// AcceptableResults returns the outcomes accepted by the current policy.
func (v *Verifier) AcceptableResults() []attestation.Outcome {
	v.policyMux.RLock()
	defer v.policyMux.RUnlock()
	return v.policy.Outcomes()
}

// VerifyReport verifies a base64 encoded quote whose report data must equal userData.
// On success, it returns the code identity of the quote.
func (v *Verifier) VerifyReport(ctx context.Context, userData attestation.UserData, encodedQuote string) (attestation.CodeIdentity, error) {
	identity, err := v.verify(ctx, userData, encodedQuote, v.clock.Now())
	v.observe(err)
	return identity, err
}

// VerifyReportForInfo verifies a quote created with the given info string.
func (v *Verifier) VerifyReportForInfo(ctx context.Context, info, encodedQuote string) (attestation.CodeIdentity, error) {
	userData, err := attestation.UserDataFromInfo(info)
	if err != nil {
		v.observe(err)
		return nil, err
	}
	return v.VerifyReport(ctx, userData, encodedQuote)
}

// VerifyReportForInfoAt verifies a quote created with the given info string at the given Unix timestamp.
// The timestamp must not lie in the future or more than validity in the past.
// It is checked only after the quote itself verified.
func (v *Verifier) VerifyReportForInfoAt(ctx context.Context, info string, timestamp uint64, validity time.Duration, encodedQuote string) (attestation.CodeIdentity, error) {
	identity, err := v.verifyAt(ctx, info, timestamp, validity, encodedQuote)
	v.observe(err)
	return identity, err
}

func (v *Verifier) verifyAt(ctx context.Context, info string, timestamp uint64, validity time.Duration, encodedQuote string) (attestation.CodeIdentity, error) {
	if validity < 0 {
		return nil, attestation.Errorf(attestation.InvalidParameter, "validity must not be negative, got %s", validity)
	}
	userData, err := attestation.UserDataFromInfoAt(info, timestamp)
	if err != nil {
		return nil, err
	}

	now := v.clock.Now()
	identity, err := v.verify(ctx, userData, encodedQuote, now)
	if err != nil {
		return nil, err
	}

	nowUnix := now.Unix()
	if nowUnix < 0 || timestamp > uint64(nowUnix) {
		return nil, attestation.Errorf(attestation.VerifyTimeStampFailed, "timestamp %d lies in the future (now: %d)", timestamp, nowUnix)
	}
	if age := uint64(nowUnix) - timestamp; age > uint64(validity/time.Second) {
		return nil, attestation.Errorf(attestation.VerifyTimeStampFailed, "evidence is %d seconds old, validity is %s", age, validity)
	}
	return identity, nil
}

func (v *Verifier) verify(ctx context.Context, userData attestation.UserData, encodedQuote string, now time.Time) (attestation.CodeIdentity, error) {
	if encodedQuote == "" {
		return nil, attestation.Errorf(attestation.InvalidParameter, "quote is empty")
	}
	rawQuote, err := base64.StdEncoding.DecodeString(encodedQuote)
	if err != nil {
		return nil, attestation.Errorf(attestation.InvalidParameter, "decoding quote: %w", err)
	}

	req := Request{Quote: rawQuote, ExpirationCheckDate: now}
	var challenge Challenge
	if v.prover != nil {
		challenge, err = v.prover.Challenge()
		if err != nil {
			return nil, attestation.Errorf(attestation.BoundaryLogicFailure, "preparing verification proof: %w", err)
		}
		req.Nonce = challenge.Nonce
		req.TargetInfo = challenge.TargetInfo
	}

	resp, err := v.svc.VerifyQuote(ctx, req)
	if err != nil {
		code := ocall.Code(err)
		var attErr *attestation.Error
		if errors.As(err, &attErr) {
			code = attErr.Code
		}
		v.log.Error("Quote verification service failed", zap.Stringer("code", code), zap.Error(err))
		return nil, attestation.Errorf(code, "verifying quote: %w", err)
	}
	v.metrics.outcomes.WithLabelValues(resp.Outcome.String()).Inc()

	if v.prover != nil {
		if err := v.prover.Check(challenge, req, resp); err != nil {
			v.log.Error("Verification proof rejected", zap.Error(err))
			return nil, attestation.Errorf(attestation.VerifyQuoteFailed, "checking verification proof: %w", err)
		}
	}

	// No field of an unverified quote is evaluated.
	if !resp.Outcome.Verified() {
		return nil, attestation.Errorf(attestation.VerifyQuoteFailed, "quote failed verification with outcome %s", resp.Outcome)
	}

	quote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return nil, attestation.Errorf(attestation.VerifyQuoteFailed, "parsing quote: %w", err)
	}
	if quote.Debug() {
		return nil, attestation.Errorf(attestation.EnclaveInDebugMode, "quote was produced by an enclave in debug mode")
	}

	reportData := quote.ReportData()
	if subtle.ConstantTimeCompare(reportData[:], userData[:]) != 1 {
		return nil, attestation.Errorf(attestation.VerifyUserDataFailed, "report data of quote does not match user data")
	}

	v.policyMux.RLock()
	policy := v.policy
	v.policyMux.RUnlock()
	if !policy.Accepts(resp.Outcome) {
		return nil, attestation.Errorf(attestation.VerifyQuoteFailed, "outcome %s is not accepted (accepted: %s)", resp.Outcome, policy)
	}
	if resp.Outcome != attestation.Ok {
		v.log.Warn("Accepting non-Ok verification outcome", zap.Stringer("outcome", resp.Outcome))
	}

	if resp.CollateralExpired {
		return nil, attestation.Errorf(attestation.CollateralExpired, "collateral expired before %s", now.UTC().Format(time.RFC3339))
	}

	return attestation.CodeIdentity(quote.CodeIdentity()), nil
}

func (v *Verifier) observe(err error) {
	code := attestation.CodeOf(err)
	v.metrics.verifications.WithLabelValues(code.String()).Inc()
	if err != nil {
		v.log.Debug("Evidence verification failed", zap.Stringer("code", code), zap.Error(err))
	}
}
