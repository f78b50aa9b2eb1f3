package simulation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/verification"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"go.uber.org/zap"
)

// supplementalVersion is the version of the supplemental data returned by the platform.
const supplementalVersion = 1

// Supplemental is the supplemental data the platform returns alongside a verification result.
type Supplemental struct {
	Version                uint16 `cbor:"1,keyasint"`
	EarliestIssueDate      int64  `cbor:"2,keyasint"`
	EarliestExpirationDate int64  `cbor:"3,keyasint"`
	PCKCRLNumber           uint64 `cbor:"4,keyasint,omitempty"`
	PCKSerialNumber        []byte `cbor:"5,keyasint"`
	RootKeyID              []byte `cbor:"6,keyasint"`
	QESVN                  uint16 `cbor:"7,keyasint"`
	PCESVN                 uint16 `cbor:"8,keyasint"`
}

// ParseSupplemental decodes supplemental data returned by [Platform.VerifyQuote].
func ParseSupplemental(data []byte) (Supplemental, error) {
	var supplemental Supplemental
	if err := decMode.Unmarshal(data, &supplemental); err != nil {
		return Supplemental{}, fmt.Errorf("decoding supplemental data: %w", err)
	}
	return supplemental, nil
}

// VerifyQuote implements [verification.Service].
//
// The quote must be signed by the platform's attestation key and certified by its PCK certificate chain.
// Such quotes verify with the configured outcome, or [attestation.Revoked] after [Platform.RevokePCK].
// Other quotes verify with [attestation.InvalidSignature], which no verifier policy accepts.
// Certificates must be valid at the request's expiration check date.
// If req carries a nonce and target info, the result is proven by a report of the simulated QvE.
func (p *Platform) VerifyQuote(ctx context.Context, req verification.Request) (verification.Response, error) {
	if err := ctx.Err(); err != nil {
		return verification.Response{}, err
	}
	if (len(req.Nonce) == 0) != (len(req.TargetInfo) == 0) {
		return verification.Response{}, errors.New("nonce and target info must be set together")
	}

	p.mux.RLock()
	outcome, err := p.verifyQuote(req.Quote, req.ExpirationCheckDate)
	nextUpdate := p.nextUpdate
	supplemental := Supplemental{
		Version:                supplementalVersion,
		EarliestIssueDate:      p.pck.NotBefore.Unix(),
		EarliestExpirationDate: nextUpdate.Unix(),
		PCKSerialNumber:        p.pck.SerialNumber.Bytes(),
		RootKeyID:              p.root.SubjectKeyId,
		QESVN:                  QuotingEnclaveIdentity.SecurityVersion,
		PCESVN:                 pceSVN,
	}
	if p.crl != nil {
		supplemental.PCKCRLNumber = p.crl.Number.Uint64()
	}
	p.mux.RUnlock()
	if err != nil {
		p.log.Info("Quote failed verification", zap.Stringer("outcome", outcome), zap.Error(err))
	}

	rawSupplemental, err := encMode.Marshal(supplemental)
	if err != nil {
		return verification.Response{}, fmt.Errorf("encoding supplemental data: %w", err)
	}
	resp := verification.Response{
		Outcome:           outcome,
		CollateralExpired: req.ExpirationCheckDate.After(nextUpdate),
		Supplemental:      rawSupplemental,
	}

	if len(req.Nonce) > 0 {
		qve := p.NewEnclave(QvEIdentity)
		reportData := verification.QvEReportData(req.Nonce, req.Quote, req.ExpirationCheckDate.Unix(), resp.CollateralExpired, resp.Outcome, resp.Supplemental)
		resp.QvEReport, err = qve.Report(req.TargetInfo, reportData)
		if err != nil {
			return verification.Response{}, fmt.Errorf("creating QvE report: %w", err)
		}
	}
	return resp, nil
}

// verifyQuote returns the outcome of verifying rawQuote.
// The returned error explains outcomes other than the configured one.
func (p *Platform) verifyQuote(rawQuote []byte, checkDate time.Time) (attestation.Outcome, error) {
	quote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return attestation.InvalidSignature, err
	}
	pck, err := verification.VerifyQuoteSignature(quote)
	if err != nil {
		return attestation.InvalidSignature, err
	}
	_, intermediate, root, err := verification.PCKCertChain(quote)
	if err != nil {
		return attestation.InvalidSignature, err
	}
	if !root.Equal(p.root) {
		return attestation.InvalidSignature, errors.New("PCK certificate chain does not end in the platform's root CA")
	}
	if err := intermediate.CheckSignatureFrom(p.root); err != nil {
		return attestation.InvalidSignature, fmt.Errorf("verifying platform CA certificate: %w", err)
	}
	if err := verification.VerifyPCKCert(pck, intermediate, p.crl, checkDate); err != nil {
		if errors.Is(err, verification.ErrPCKRevoked) {
			return attestation.Revoked, err
		}
		return attestation.InvalidSignature, err
	}

	qeReport, err := quote.Signature.QEReport()
	if err != nil {
		return attestation.InvalidSignature, err
	}
	qe := qeReport.EnclaveReport
	if !bytes.Equal(qe.MRSIGNER[:], QuotingEnclaveIdentity.MRSIGNER[:]) ||
		qe.ISVProdID != QuotingEnclaveIdentity.ProductID ||
		qe.ISVSVN < QuotingEnclaveIdentity.SecurityVersion {
		return attestation.InvalidSignature, errors.New("quote was not created by the platform's quoting enclave")
	}
	return p.outcome, nil
}
