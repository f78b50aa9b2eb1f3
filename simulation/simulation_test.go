package simulation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/enclave"
	"github.com/edgelesssys/go-sgx-evidence/host"
	"github.com/edgelesssys/go-sgx-evidence/ocall"
	"github.com/edgelesssys/go-sgx-evidence/verification"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	testclock "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	appIdentity = EnclaveIdentity{
		MRENCLAVE:       sha256.Sum256([]byte("app")),
		MRSIGNER:        sha256.Sum256([]byte("app signer")),
		ProductID:       1,
		SecurityVersion: 2,
	}
	verifierIdentity = EnclaveIdentity{
		MRENCLAVE: sha256.Sum256([]byte("verifier")),
		MRSIGNER:  sha256.Sum256([]byte("app signer")),
		ProductID: 2,
	}
)

func TestEndToEnd(t *testing.T) {
	testCases := map[string]struct {
		trusted bool
	}{
		"untrusted verifier": {},
		"trusted verifier":   {trusted: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			clock := testclock.NewFakeClock(testNow)
			platform := newTestPlatform(t, clock)
			reg, arena := newTestHost(t, platform)

			producer := enclave.New(platform.NewEnclave(appIdentity), reg, arena)
			quote, err := producer.CreateReportForInfoAt(ctx, "info", uint64(testNow.Unix()))
			require.NoError(err)

			var verifier *verification.Verifier
			if tc.trusted {
				client := enclave.NewVerificationClient(reg, arena, zaptest.NewLogger(t))
				prover := verification.NewQvEProver(platform.NewEnclave(verifierIdentity), platform.QvEIdentity())
				verifier = verification.NewTrusted(client, prover, verification.WithClock(clock))
			} else {
				verifier = verification.NewUntrusted(platform, verification.WithClock(clock))
			}

			clock.Step(time.Minute)
			identity, err := verifier.VerifyReportForInfoAt(ctx, "info", uint64(testNow.Unix()), time.Hour, quote)
			require.NoError(err)
			assert.Equal(appIdentity.MRENCLAVE[:], []byte(identity))

			_, err = verifier.VerifyReportForInfoAt(ctx, "other info", uint64(testNow.Unix()), time.Hour, quote)
			assert.Equal(attestation.VerifyUserDataFailed, attestation.CodeOf(err))

			_, err = verifier.VerifyReportForInfoAt(ctx, "info", uint64(testNow.Unix()), time.Second, quote)
			assert.Equal(attestation.VerifyTimeStampFailed, attestation.CodeOf(err))

			assert.Zero(arena.Live())
		})
	}
}

func TestTrustedVerifierRejectsForeignQvE(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	clock := testclock.NewFakeClock(testNow)
	platform := newTestPlatform(t, clock)
	reg, arena := newTestHost(t, platform)

	producer := enclave.New(platform.NewEnclave(appIdentity), reg, arena)
	userData, err := attestation.NewUserData([]byte("hello"))
	require.NoError(err)
	quote, err := producer.CreateReport(ctx, userData)
	require.NoError(err)

	// the verifier expects a QvE of another vendor
	qveIdentity := platform.QvEIdentity()
	qveIdentity.MRSIGNER[0] ^= 0xFF
	client := enclave.NewVerificationClient(reg, arena, nil)
	prover := verification.NewQvEProver(platform.NewEnclave(verifierIdentity), qveIdentity)
	verifier := verification.NewTrusted(client, prover, verification.WithClock(clock))

	_, err = verifier.VerifyReport(ctx, userData, quote)
	assert.Equal(attestation.VerifyQuoteFailed, attestation.CodeOf(err))
	assert.Zero(arena.Live())
}

func TestTamperedQuote(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	clock := testclock.NewFakeClock(testNow)
	platform := newTestPlatform(t, clock)
	userData, err := attestation.NewUserData([]byte("hello"))
	require.NoError(err)
	rawQuote := newTestQuote(t, platform, appIdentity, userData)

	verifier := verification.NewUntrusted(platform, verification.WithClock(clock))
	verifier.SetAcceptableResults(attestation.Outcomes()...)
	_, err = verifier.VerifyReport(ctx, userData, base64.StdEncoding.EncodeToString(rawQuote))
	require.NoError(err)

	for i := range rawQuote {
		tampered := append([]byte{}, rawQuote...)
		tampered[i] ^= 1 << (i % 8)

		_, err := verifier.VerifyReport(ctx, userData, base64.StdEncoding.EncodeToString(tampered))
		if !assert.Equal(t, attestation.VerifyQuoteFailed, attestation.CodeOf(err), "bit %d of byte %d flipped", i%8, i) {
			return
		}
	}
}

func TestForgedQuote(t *testing.T) {
	const (
		attributesOffset = types.QuoteHeaderSize + 48
		mrenclaveOffset  = types.QuoteHeaderSize + 64
		reportDataOffset = types.QuoteHeaderSize + 320
		signatureOffset  = types.QuoteHeaderSize + types.EnclaveReportSize + 4
	)

	userData, err := attestation.NewUserData([]byte("hello"))
	require.NoError(t, err)
	otherUserData, err := attestation.NewUserData([]byte("world"))
	require.NoError(t, err)

	testCases := map[string]struct {
		forge    func(raw []byte)
		userData attestation.UserData
	}{
		"flipped signature bit": {
			forge:    func(raw []byte) { raw[signatureOffset] ^= 0x01 },
			userData: userData,
		},
		"replaced MRENCLAVE": {
			forge: func(raw []byte) {
				mrenclave := sha256.Sum256([]byte("forged"))
				copy(raw[mrenclaveOffset:], mrenclave[:])
			},
			userData: userData,
		},
		// An unverified quote is rejected before its DEBUG flag or report data are looked at.
		"DEBUG attribute set": {
			forge:    func(raw []byte) { raw[attributesOffset] |= types.AttributeDebug },
			userData: userData,
		},
		"replaced report data": {
			forge:    func(raw []byte) { copy(raw[reportDataOffset:], otherUserData[:]) },
			userData: otherUserData,
		},
	}

	for name, tc := range testCases {
		for _, trusted := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s trusted=%t", name, trusted), func(t *testing.T) {
				assert := assert.New(t)
				ctx := context.Background()

				clock := testclock.NewFakeClock(testNow)
				platform := newTestPlatform(t, clock)
				reg, arena := newTestHost(t, platform)
				rawQuote := newTestQuote(t, platform, appIdentity, userData)
				tc.forge(rawQuote)

				var verifier *verification.Verifier
				if trusted {
					client := enclave.NewVerificationClient(reg, arena, zaptest.NewLogger(t))
					prover := verification.NewQvEProver(platform.NewEnclave(verifierIdentity), platform.QvEIdentity())
					verifier = verification.NewTrusted(client, prover, verification.WithClock(clock))
				} else {
					verifier = verification.NewUntrusted(platform, verification.WithClock(clock))
				}
				verifier.SetAcceptableResults(attestation.Outcomes()...)

				identity, err := verifier.VerifyReport(ctx, tc.userData, base64.StdEncoding.EncodeToString(rawQuote))
				assert.Equal(attestation.VerifyQuoteFailed, attestation.CodeOf(err))
				assert.Nil(identity)
				assert.Zero(arena.Live())
			})
		}
	}
}

func TestDebugEnclave(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	clock := testclock.NewFakeClock(testNow)
	platform := newTestPlatform(t, clock)
	userData, err := attestation.NewUserData([]byte("hello"))
	require.NoError(t, err)

	debugIdentity := appIdentity
	debugIdentity.Debug = true
	rawQuote := newTestQuote(t, platform, debugIdentity, userData)

	resp, err := platform.VerifyQuote(ctx, verification.Request{Quote: rawQuote, ExpirationCheckDate: testNow})
	require.NoError(t, err)
	assert.Equal(attestation.Ok, resp.Outcome)

	verifier := verification.NewUntrusted(platform, verification.WithClock(clock))
	verifier.SetAcceptableResults(attestation.Outcomes()...)
	_, err = verifier.VerifyReport(ctx, userData, base64.StdEncoding.EncodeToString(rawQuote))
	assert.Equal(attestation.EnclaveInDebugMode, attestation.CodeOf(err))
}

func TestVerifyQuote(t *testing.T) {
	userData, err := attestation.NewUserData([]byte("hello"))
	require.NoError(t, err)

	testCases := map[string]struct {
		prepare          func(t *testing.T, p *Platform) []byte
		expirationDate   time.Time
		wantOutcome      attestation.Outcome
		wantExpired      bool
		wantPCKCRLNumber uint64
	}{
		"valid quote": {
			prepare: func(t *testing.T, p *Platform) []byte {
				return newTestQuote(t, p, appIdentity, userData)
			},
			wantOutcome: attestation.Ok,
		},
		"configured outcome": {
			prepare: func(t *testing.T, p *Platform) []byte {
				require.NoError(t, p.SetOutcome(attestation.SwHardeningNeeded))
				return newTestQuote(t, p, appIdentity, userData)
			},
			wantOutcome: attestation.SwHardeningNeeded,
		},
		"revoked PCK": {
			prepare: func(t *testing.T, p *Platform) []byte {
				require.NoError(t, p.RevokePCK())
				return newTestQuote(t, p, appIdentity, userData)
			},
			wantOutcome:      attestation.Revoked,
			wantPCKCRLNumber: 1,
		},
		"expired collateral": {
			prepare: func(t *testing.T, p *Platform) []byte {
				return newTestQuote(t, p, appIdentity, userData)
			},
			expirationDate: testNow.Add(DefaultCollateralValidity + time.Second),
			wantOutcome:    attestation.Ok,
			wantExpired:    true,
		},
		"collateral expiring at check date": {
			prepare: func(t *testing.T, p *Platform) []byte {
				return newTestQuote(t, p, appIdentity, userData)
			},
			expirationDate: testNow.Add(DefaultCollateralValidity),
			wantOutcome:    attestation.Ok,
		},
		"quote of other platform": {
			prepare: func(t *testing.T, _ *Platform) []byte {
				return newTestQuote(t, newTestPlatform(t, testclock.NewFakeClock(testNow)), appIdentity, userData)
			},
			wantOutcome: attestation.InvalidSignature,
		},
		"malformed quote": {
			prepare: func(*testing.T, *Platform) []byte {
				return []byte("not a quote")
			},
			wantOutcome: attestation.InvalidSignature,
		},
		"PCK certificate expired at check date": {
			prepare: func(t *testing.T, p *Platform) []byte {
				return newTestQuote(t, p, appIdentity, userData)
			},
			expirationDate: testNow.AddDate(10, 0, 1),
			wantOutcome:    attestation.InvalidSignature,
			wantExpired:    true,
		},
		"PCK certificate not yet valid at check date": {
			prepare: func(t *testing.T, p *Platform) []byte {
				return newTestQuote(t, p, appIdentity, userData)
			},
			expirationDate: testNow.Add(-2 * time.Hour),
			wantOutcome:    attestation.InvalidSignature,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			platform := newTestPlatform(t, testclock.NewFakeClock(testNow))
			rawQuote := tc.prepare(t, platform)
			expirationDate := tc.expirationDate
			if expirationDate.IsZero() {
				expirationDate = testNow
			}

			resp, err := platform.VerifyQuote(context.Background(), verification.Request{Quote: rawQuote, ExpirationCheckDate: expirationDate})
			require.NoError(err)
			assert.Equal(tc.wantOutcome, resp.Outcome)
			assert.Equal(tc.wantExpired, resp.CollateralExpired)
			assert.Empty(resp.QvEReport)

			supplemental, err := ParseSupplemental(resp.Supplemental)
			require.NoError(err)
			assert.EqualValues(supplementalVersion, supplemental.Version)
			assert.Equal(testNow.Add(DefaultCollateralValidity).Unix(), supplemental.EarliestExpirationDate)
			assert.Equal(tc.wantPCKCRLNumber, supplemental.PCKCRLNumber)
		})
	}
}

func TestVerifyQuoteProof(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	platform := newTestPlatform(t, testclock.NewFakeClock(testNow))
	userData, err := attestation.NewUserData([]byte("hello"))
	require.NoError(err)
	rawQuote := newTestQuote(t, platform, appIdentity, userData)

	verifierEnclave := platform.NewEnclave(verifierIdentity)
	targetInfo, err := verifierEnclave.TargetInfo()
	require.NoError(err)
	nonce := []byte("0123456789abcdef")

	_, err = platform.VerifyQuote(ctx, verification.Request{Quote: rawQuote, ExpirationCheckDate: testNow, Nonce: nonce})
	assert.Error(err)
	_, err = platform.VerifyQuote(ctx, verification.Request{Quote: rawQuote, ExpirationCheckDate: testNow, TargetInfo: targetInfo})
	assert.Error(err)

	resp, err := platform.VerifyQuote(ctx, verification.Request{Quote: rawQuote, ExpirationCheckDate: testNow, Nonce: nonce, TargetInfo: targetInfo})
	require.NoError(err)

	report, err := verifierEnclave.VerifyReport(resp.QvEReport)
	require.NoError(err)
	assert.Equal(QvEIdentity.MRENCLAVE, report.MRENCLAVE)
	assert.Equal(QvEIdentity.MRSIGNER, report.MRSIGNER)
	assert.Equal(verification.QvEReportData(nonce, rawQuote, testNow.Unix(), false, attestation.Ok, resp.Supplemental), report.ReportData)

	// only the targeted enclave accepts the report
	_, err = platform.NewEnclave(appIdentity).VerifyReport(resp.QvEReport)
	assert.Error(err)
}

func TestLocalReport(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	platform := newTestPlatform(t, testclock.NewFakeClock(testNow))
	app := platform.NewEnclave(appIdentity)
	target := platform.NewEnclave(verifierIdentity)
	targetInfo, err := target.TargetInfo()
	require.NoError(err)

	userData, err := attestation.NewUserData([]byte("hello"))
	require.NoError(err)
	report, err := app.Report(targetInfo, userData)
	require.NoError(err)
	assert.Len(report, types.ReportSize)

	body, err := target.VerifyReport(report)
	require.NoError(err)
	assert.Equal(appIdentity.MRENCLAVE, body.MRENCLAVE)
	assert.Equal(appIdentity.MRSIGNER, body.MRSIGNER)
	assert.Equal([64]byte(userData), body.ReportData)
	assert.False(body.Debug())

	// wrong target
	_, err = app.VerifyReport(report)
	assert.Error(err)

	// other platform
	other := newTestPlatform(t, testclock.NewFakeClock(testNow))
	_, err = other.NewEnclave(verifierIdentity).VerifyReport(report)
	assert.Error(err)

	// tampered body
	report[48] ^= attributeInit
	_, err = target.VerifyReport(report)
	assert.Error(err)

	_, err = app.Report([]byte("short"), userData)
	assert.Error(err)
}

func TestQuoteRejectsReportForOtherTarget(t *testing.T) {
	require := require.New(t)

	platform := newTestPlatform(t, testclock.NewFakeClock(testNow))
	app := platform.NewEnclave(appIdentity)
	targetInfo, err := platform.NewEnclave(verifierIdentity).TargetInfo()
	require.NoError(err)
	report, err := app.Report(targetInfo, attestation.UserData{})
	require.NoError(err)

	_, err = platform.Quote(context.Background(), report)
	require.Error(err)
}

func TestSetOutcome(t *testing.T) {
	assert := assert.New(t)

	platform := newTestPlatform(t, testclock.NewFakeClock(testNow))
	assert.Error(platform.SetOutcome(attestation.Outcome(0x1234)))
	assert.Equal(attestation.Ok, platform.Outcome())
	assert.NoError(platform.SetOutcome(attestation.OutOfDate))
	assert.Equal(attestation.OutOfDate, platform.Outcome())
}

func TestMarshalBinary(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	platform := newTestPlatform(t, testclock.NewFakeClock(testNow))
	require.NoError(platform.SetOutcome(attestation.ConfigNeeded))
	userData, err := attestation.NewUserData([]byte("hello"))
	require.NoError(err)
	rawQuote := newTestQuote(t, platform, appIdentity, userData)

	data, err := platform.MarshalBinary()
	require.NoError(err)
	loaded, err := Load(data, WithLogger(zaptest.NewLogger(t)))
	require.NoError(err)

	assert.Equal(attestation.ConfigNeeded, loaded.Outcome())
	assert.Equal(platform.CollateralNextUpdate().Unix(), loaded.CollateralNextUpdate().Unix())
	assert.True(platform.RootCertificate().Equal(loaded.RootCertificate()))

	// quotes created before persisting still verify
	resp, err := loaded.VerifyQuote(ctx, verification.Request{Quote: rawQuote, ExpirationCheckDate: testNow})
	require.NoError(err)
	assert.Equal(attestation.ConfigNeeded, resp.Outcome)

	// local reports stay valid
	report, err := platform.NewEnclave(appIdentity).Report(mustTargetInfo(t, loaded.NewEnclave(verifierIdentity)), userData)
	require.NoError(err)
	_, err = loaded.NewEnclave(verifierIdentity).VerifyReport(report)
	assert.NoError(err)

	// revocation is persisted
	require.NoError(loaded.RevokePCK())
	data, err = loaded.MarshalBinary()
	require.NoError(err)
	reloaded, err := Load(data)
	require.NoError(err)
	resp, err = reloaded.VerifyQuote(ctx, verification.Request{Quote: rawQuote, ExpirationCheckDate: testNow})
	require.NoError(err)
	assert.Equal(attestation.Revoked, resp.Outcome)
}

func TestLoadErrors(t *testing.T) {
	platform := newTestPlatform(t, testclock.NewFakeClock(testNow))
	valid, err := platform.MarshalBinary()
	require.NoError(t, err)

	otherPlatform := newTestPlatform(t, testclock.NewFakeClock(testNow))

	mutate := func(f func(*platformState)) []byte {
		var state platformState
		require.NoError(t, decMode.Unmarshal(valid, &state))
		f(&state)
		data, err := encMode.Marshal(state)
		require.NoError(t, err)
		return data
	}

	testCases := map[string][]byte{
		"empty":         nil,
		"not cbor":      []byte("not cbor"),
		"trailing data": append(append([]byte{}, valid...), 0x00),
		"short seed": mutate(func(s *platformState) {
			s.ReportKeySeed = s.ReportKeySeed[:16]
		}),
		"invalid outcome": mutate(func(s *platformState) {
			s.Outcome = attestation.Outcome(0x42)
		}),
		"invalid key": mutate(func(s *platformState) {
			s.AttestKey = []byte("key")
		}),
		"invalid certificate": mutate(func(s *platformState) {
			s.Root = []byte("cert")
		}),
		"PCK of other platform": mutate(func(s *platformState) {
			s.PCK = otherPlatform.pck.Raw
		}),
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(data)
			assert.Error(t, err)
		})
	}
}

func newTestPlatform(t *testing.T, clock *testclock.FakeClock) *Platform {
	t.Helper()
	platform, err := New(WithClock(clock), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return platform
}

// newTestHost serves the quoting and verification services of platform.
func newTestHost(t *testing.T, platform *Platform) (*ocall.Registry, *ocall.Arena) {
	t.Helper()
	reg := ocall.NewRegistry(zaptest.NewLogger(t))
	arena := ocall.NewArena()
	require.NoError(t, host.RegisterQuoting(reg, arena, platform))
	require.NoError(t, host.RegisterVerification(reg, arena, platform))
	return reg, arena
}

func newTestQuote(t *testing.T, platform *Platform, identity EnclaveIdentity, userData attestation.UserData) []byte {
	t.Helper()
	ctx := context.Background()
	targetInfo, err := platform.TargetInfo(ctx)
	require.NoError(t, err)
	report, err := platform.NewEnclave(identity).Report(targetInfo, userData)
	require.NoError(t, err)
	rawQuote, err := platform.Quote(ctx, report)
	require.NoError(t, err)
	return rawQuote
}

func mustTargetInfo(t *testing.T, e *Enclave) []byte {
	t.Helper()
	targetInfo, err := e.TargetInfo()
	require.NoError(t, err)
	return targetInfo
}
