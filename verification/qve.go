package verification

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
)

// NonceSize is the size of the nonce sent to the verification service in trusted mode.
const NonceSize = 16

// Prover lets a verifier running inside an enclave demand a proof that the verification
// service really verified the quote.
type Prover interface {
	// Challenge returns a fresh nonce and the target info of the calling enclave.
	Challenge() (Challenge, error)
	// Check verifies that resp carries a valid proof for req and challenge.
	Check(challenge Challenge, req Request, resp Response) error
}

// Challenge is the input of a verification proof.
type Challenge struct {
	Nonce      []byte
	TargetInfo []byte
}

// LocalVerifier verifies local reports targeted at the calling enclave.
type LocalVerifier interface {
	// TargetInfo returns the target info of the calling enclave.
	TargetInfo() ([]byte, error)
	// VerifyReport checks the MAC of a local report and returns its body.
	VerifyReport(report []byte) (types.EnclaveReport, error)
}

// QvEIdentity is the expected identity of the Quote Verification Enclave.
type QvEIdentity struct {
	MRSIGNER  [32]byte
	ISVProdID uint16
	MinISVSVN uint16
}

// QvEProver checks the local report the Quote Verification Enclave (QvE) returns
// alongside a verification result.
type QvEProver struct {
	local    LocalVerifier
	identity QvEIdentity
}

// NewQvEProver returns a QvEProver verifying QvE reports with local
// and accepting QvEs of the given identity.
func NewQvEProver(local LocalVerifier, identity QvEIdentity) *QvEProver {
	return &QvEProver{local: local, identity: identity}
}

// Challenge draws a fresh nonce and fetches the target info of the calling enclave.
func (p *QvEProver) Challenge() (Challenge, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Challenge{}, fmt.Errorf("generating nonce: %w", err)
	}
	targetInfo, err := p.local.TargetInfo()
	if err != nil {
		return Challenge{}, fmt.Errorf("getting target info: %w", err)
	}
	return Challenge{Nonce: nonce, TargetInfo: targetInfo}, nil
}

// Check verifies the QvE report of resp.
// The report must be valid for the calling enclave, come from the expected QvE,
// and bind the nonce, the quote, and every part of the result.
func (p *QvEProver) Check(challenge Challenge, req Request, resp Response) error {
	if len(resp.QvEReport) == 0 {
		return errors.New("verification service did not return a QvE report")
	}
	report, err := p.local.VerifyReport(resp.QvEReport)
	if err != nil {
		return fmt.Errorf("verifying QvE report: %w", err)
	}

	if !bytes.Equal(report.MRSIGNER[:], p.identity.MRSIGNER[:]) {
		return fmt.Errorf("QvE MRSIGNER %x does not match expected %x", report.MRSIGNER, p.identity.MRSIGNER)
	}
	if report.ISVProdID != p.identity.ISVProdID {
		return fmt.Errorf("QvE product ID %d does not match expected %d", report.ISVProdID, p.identity.ISVProdID)
	}
	if report.ISVSVN < p.identity.MinISVSVN {
		return fmt.Errorf("QvE security version %d is lower than required %d", report.ISVSVN, p.identity.MinISVSVN)
	}
	if report.Debug() {
		return errors.New("QvE runs in debug mode")
	}

	want := QvEReportData(challenge.Nonce, req.Quote, req.ExpirationCheckDate.Unix(), resp.CollateralExpired, resp.Outcome, resp.Supplemental)
	if subtle.ConstantTimeCompare(report.ReportData[:], want[:]) != 1 {
		return errors.New("QvE report data does not match the verification result")
	}
	return nil
}

// QvEReportData returns the report data a QvE binds into its report:
// SHA-256(nonce || quote || expiration check date || collateral expired || outcome || supplemental data),
// followed by 32 zero bytes. Integers are encoded little endian.
func QvEReportData(nonce, quote []byte, expirationCheckDate int64, collateralExpired bool, outcome attestation.Outcome, supplemental []byte) [64]byte {
	var expired uint32
	if collateralExpired {
		expired = 1
	}

	h := sha256.New()
	h.Write(nonce)
	h.Write(quote)
	h.Write(binary.LittleEndian.AppendUint64(nil, uint64(expirationCheckDate)))
	h.Write(binary.LittleEndian.AppendUint32(nil, expired))
	h.Write(binary.LittleEndian.AppendUint32(nil, uint32(outcome)))
	h.Write(supplemental)

	var reportData [64]byte
	copy(reportData[:], h.Sum(nil))
	return reportData
}
