package verification

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/verification/crypto"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
)

// ErrPCKRevoked is returned by [VerifyPCKCert] if the PCK certificate was revoked.
var ErrPCKRevoked = errors.New("PCK certificate revoked by CRL")

// SignatureError is returned if the signature chain of a quote does not verify.
type SignatureError struct {
	Err error
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	return fmt.Sprintf("invalid quote signature: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SignatureError) Unwrap() error {
	return e.Err
}

// VerifyQuoteSignature verifies the signature chain embedded in a quote.
//
// The QE report must be signed by the PCK certificate, the QE report data must bind the
// attestation key and QE authentication data, and the attestation key must have signed the
// quote header and report body.
// It returns the PCK certificate, which the caller must verify using [VerifyPCKCert].
func VerifyQuoteSignature(quote types.Quote) (*x509.Certificate, error) {
	pckCert, err := parsePCKCertChain(quote)
	if err != nil {
		return nil, &SignatureError{Err: err}
	}

	// 4.1.2.4.12
	// verify QE Report
	qeReport, err := quote.Signature.QEReport()
	if err != nil {
		return nil, &SignatureError{Err: err}
	}
	enclaveReport := qeReport.EnclaveReport.Marshal()
	if err := crypto.VerifyECDSASignature(pckCert.PublicKey, enclaveReport[:], qeReport.Signature[:]); err != nil {
		return nil, &SignatureError{Err: fmt.Errorf("verifying QE report signature: %w", err)}
	}

	// 4.1.2.4.13
	if !bytes.Equal(qeReport.EnclaveReport.ReportData[:32], QEReportData(quote.Signature.PublicKey, qeReport.QEAuthData.Data)) {
		return nil, &SignatureError{Err: errors.New("QE report data does not match QE authentication data")}
	}

	// 4.1.2.4.16
	// verify quote signature
	key := crypto.BuildECDSAPublicKey(quote.Signature.PublicKey) // This key is called attestKey in Intel's code.
	if err := crypto.VerifyECDSASignature(key, quote.SignedData(), quote.Signature.Signature[:]); err != nil {
		return nil, &SignatureError{Err: fmt.Errorf("verifying quote signature: %w", err)}
	}

	return pckCert, nil
}

// QEReportData returns the first 32 bytes of the QE report data,
// SHA-256 over the attestation key followed by the QE authentication data.
func QEReportData(attestKey [64]byte, qeAuthData []byte) []byte {
	concatSHA256 := sha256.Sum256(append(attestKey[:], qeAuthData...))
	return concatSHA256[:]
}

// VerifyPCKCert verifies the PCK certificate was not revoked and is signed by pckCA.
// The pckCA certificate is assumed to be trusted and should be verified by the caller using a trusted root CA.
// pckCRL may be nil if no revocation list is available.
// Both certificates must be valid at checkDate. The zero time checks against the current time.
func VerifyPCKCert(pckCert, pckCA *x509.Certificate, pckCRL *x509.RevocationList, checkDate time.Time) error {
	// check if PCK cert is revoked
	if pckCRL != nil {
		if err := pckCRL.CheckSignatureFrom(pckCA); err != nil {
			return fmt.Errorf("verifying PCK CRL signature: %w", err)
		}
		for _, crlEntry := range pckCRL.RevokedCertificateEntries {
			if crlEntry.SerialNumber.Cmp(pckCert.SerialNumber) == 0 {
				return fmt.Errorf("checking PCK certificate validity: %w", ErrPCKRevoked)
			}
		}
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(pckCA) // intermediate cert is trusted
	if _, err := pckCert.Verify(x509.VerifyOptions{Roots: certPool, CurrentTime: checkDate}); err != nil {
		return fmt.Errorf("verifying PCK certificate: %w", err)
	}

	return nil
}

// parsePCKCertChain returns the PCK certificate of a quote.
// We assume the PCK certificate is the first certificate in the chain.
func parsePCKCertChain(quote types.Quote) (*x509.Certificate, error) {
	pckCert, _, _, err := PCKCertChain(quote)
	return pckCert, err
}

// PCKCertChain returns the PCK, intermediate, and root certificates embedded in a quote.
// The chain must hold exactly these 3 certificates, in this order, PEM encoded and terminated by a \0 byte.
func PCKCertChain(quote types.Quote) (pck, intermediate, root *x509.Certificate, err error) {
	qeReport, err := quote.Signature.QEReport()
	if err != nil {
		return nil, nil, nil, err
	}
	certChainPEM, err := qeReport.PCKCertChain()
	if err != nil {
		return nil, nil, nil, err
	}
	certChain, err := crypto.ParsePEMCertificateChain(certChainPEM)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parsing PCK certificate chain: %w", err)
	}
	if len(certChain) != 3 {
		return nil, nil, nil, fmt.Errorf("PCK certificate chain must have 3 certificates, got %d", len(certChain))
	}
	// The chain is not covered by any signature. Reject any encoding but the canonical one.
	if !bytes.Equal(crypto.EncodePEMCertificateChain(certChain...), certChainPEM) {
		return nil, nil, nil, errors.New("PCK certificate chain contains unexpected data")
	}
	return certChain[0], certChain[1], certChain[2], nil
}
