package simulation

import (
	"context"
	"fmt"

	"github.com/edgelesssys/go-sgx-evidence/verification"
	"github.com/edgelesssys/go-sgx-evidence/verification/crypto"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"go.uber.org/zap"
)

// pceSVN is the security version of the simulated Provisioning Certification Enclave.
const pceSVN = 13

// qeAuthData is the authentication data the simulated QE binds into its report.
var qeAuthData = func() []byte {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}()

// TargetInfo returns the target info of the simulated Quoting Enclave.
func (p *Platform) TargetInfo(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	targetInfo := types.TargetInfoFor(enclaveBody(QuotingEnclaveIdentity))
	raw := targetInfo.Marshal()
	return raw[:], nil
}

// Quote converts a local report targeted at the simulated Quoting Enclave into a v3 SGX quote.
func (p *Platform) Quote(ctx context.Context, report []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := p.verifyReport(QuotingEnclaveIdentity.MRENCLAVE, report)
	if err != nil {
		return nil, fmt.Errorf("verifying report: %w", err)
	}

	p.mux.RLock()
	defer p.mux.RUnlock()

	attestKey, err := crypto.MarshalECDSAPublicKey(&p.attestKey.PublicKey)
	if err != nil {
		return nil, err
	}

	qeReport := enclaveBody(QuotingEnclaveIdentity)
	copy(qeReport.ReportData[:32], verification.QEReportData(attestKey, qeAuthData))
	rawQEReport := qeReport.Marshal()
	qeReportSignature, err := crypto.SignECDSA(p.pckKey, rawQEReport[:])
	if err != nil {
		return nil, fmt.Errorf("signing QE report: %w", err)
	}

	quote := types.Quote{
		Header: types.QuoteHeader{
			Version:            3,
			AttestationKeyType: types.AttestationKeyTypeECDSA256,
			TEEType:            types.TEETypeSGX,
			QESVN:              QuotingEnclaveIdentity.SecurityVersion,
			PCESVN:             pceSVN,
			QEVendorID:         intelQEVendorID,
		},
		EnclaveBody: &body,
		Signature: types.ECDSA256QuoteAuthData{
			PublicKey: attestKey,
			CertificationData: types.CertificationData{
				Type: types.PCK_ID_QE_REPORT_CERTIFICATION_DATA,
				Data: types.QEReportCertificationData{
					EnclaveReport: qeReport,
					Signature:     qeReportSignature,
					QEAuthData:    types.QEAuthData{Data: qeAuthData},
					CertificationData: types.CertificationData{
						Type: types.PCK_ID_PCK_CERT_CHAIN,
						Data: crypto.EncodePEMCertificateChain(p.pck, p.intermediate, p.root),
					},
				},
			},
		},
	}
	if quote.Signature.Signature, err = crypto.SignECDSA(p.attestKey, quote.SignedData()); err != nil {
		return nil, fmt.Errorf("signing quote: %w", err)
	}

	rawQuote, err := quote.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling quote: %w", err)
	}
	p.log.Debug("Created quote", zap.Binary("mrenclave", body.MRENCLAVE[:]), zap.Int("size", len(rawQuote)))
	return rawQuote, nil
}
