package verification

import (
	"errors"
	"testing"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testQvEIdentity = QvEIdentity{
	MRSIGNER:  [32]byte{0x8c, 0x4f, 0x57, 0x75},
	ISVProdID: 2,
	MinISVSVN: 3,
}

func TestQvEProverChallenge(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	local := &stubLocalVerifier{targetInfo: []byte{0x42}}
	prover := NewQvEProver(local, testQvEIdentity)

	first, err := prover.Challenge()
	require.NoError(err)
	assert.Len(first.Nonce, NonceSize)
	assert.Equal([]byte{0x42}, first.TargetInfo)

	second, err := prover.Challenge()
	require.NoError(err)
	assert.NotEqual(first.Nonce, second.Nonce)

	local.targetInfoErr = errors.New("failed")
	_, err = prover.Challenge()
	assert.Error(err)
}

func TestQvEProverCheck(t *testing.T) {
	challenge := Challenge{Nonce: []byte("0123456789abcdef")}
	req := Request{Quote: []byte("quote"), ExpirationCheckDate: testNow, Nonce: challenge.Nonce}
	resp := Response{Outcome: attestation.ConfigNeeded, Supplemental: []byte("supplemental"), QvEReport: []byte("report")}

	validReport := func() types.EnclaveReport {
		return types.EnclaveReport{
			MRSIGNER:   testQvEIdentity.MRSIGNER,
			ISVProdID:  testQvEIdentity.ISVProdID,
			ISVSVN:     testQvEIdentity.MinISVSVN,
			ReportData: QvEReportData(challenge.Nonce, req.Quote, testNow.Unix(), false, attestation.ConfigNeeded, []byte("supplemental")),
		}
	}

	testCases := map[string]struct {
		report    func() types.EnclaveReport
		verifyErr error
		resp      func(Response) Response
		wantErr   bool
	}{
		"valid proof": {
			report: validReport,
		},
		"newer QvE": {
			report: func() types.EnclaveReport {
				r := validReport()
				r.ISVSVN++
				return r
			},
		},
		"missing report": {
			report: validReport,
			resp: func(r Response) Response {
				r.QvEReport = nil
				return r
			},
			wantErr: true,
		},
		"report does not verify": {
			report:    validReport,
			verifyErr: errors.New("invalid MAC"),
			wantErr:   true,
		},
		"wrong signer": {
			report: func() types.EnclaveReport {
				r := validReport()
				r.MRSIGNER[0] ^= 0xFF
				return r
			},
			wantErr: true,
		},
		"wrong product": {
			report: func() types.EnclaveReport {
				r := validReport()
				r.ISVProdID++
				return r
			},
			wantErr: true,
		},
		"outdated QvE": {
			report: func() types.EnclaveReport {
				r := validReport()
				r.ISVSVN--
				return r
			},
			wantErr: true,
		},
		"debug QvE": {
			report: func() types.EnclaveReport {
				r := validReport()
				r.Attributes[0] |= types.AttributeDebug
				return r
			},
			wantErr: true,
		},
		"outcome changed": {
			report: validReport,
			resp: func(r Response) Response {
				r.Outcome = attestation.Ok
				return r
			},
			wantErr: true,
		},
		"collateral expiry hidden": {
			report: validReport,
			resp: func(r Response) Response {
				r.CollateralExpired = true
				return r
			},
			wantErr: true,
		},
		"supplemental data changed": {
			report: validReport,
			resp: func(r Response) Response {
				r.Supplemental = nil
				return r
			},
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			prover := NewQvEProver(&stubLocalVerifier{report: tc.report(), verifyErr: tc.verifyErr}, testQvEIdentity)
			r := resp
			if tc.resp != nil {
				r = tc.resp(r)
			}
			err := prover.Check(challenge, req, r)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
		})
	}
}

func TestQvEReportData(t *testing.T) {
	assert := assert.New(t)

	data := QvEReportData([]byte("nonce"), []byte("quote"), 1700000000, false, attestation.Ok, nil)
	assert.Equal(make([]byte, 32), data[32:])
	assert.NotEqual(make([]byte, 32), data[:32])

	// every input is bound
	assert.NotEqual(data, QvEReportData([]byte("nonce2"), []byte("quote"), 1700000000, false, attestation.Ok, nil))
	assert.NotEqual(data, QvEReportData([]byte("nonce"), []byte("quote2"), 1700000000, false, attestation.Ok, nil))
	assert.NotEqual(data, QvEReportData([]byte("nonce"), []byte("quote"), 1700000001, false, attestation.Ok, nil))
	assert.NotEqual(data, QvEReportData([]byte("nonce"), []byte("quote"), 1700000000, true, attestation.Ok, nil))
	assert.NotEqual(data, QvEReportData([]byte("nonce"), []byte("quote"), 1700000000, false, attestation.OutOfDate, nil))
	assert.NotEqual(data, QvEReportData([]byte("nonce"), []byte("quote"), 1700000000, false, attestation.Ok, []byte{0x01}))
}

type stubLocalVerifier struct {
	targetInfo    []byte
	targetInfoErr error
	report        types.EnclaveReport
	verifyErr     error
}

func (s *stubLocalVerifier) TargetInfo() ([]byte, error) {
	return s.targetInfo, s.targetInfoErr
}

func (s *stubLocalVerifier) VerifyReport([]byte) (types.EnclaveReport, error) {
	return s.report, s.verifyErr
}
