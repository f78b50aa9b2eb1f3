// Package simulation implements a software SGX platform.
//
// The platform creates local reports for simulated enclaves, converts them into quotes
// signed the way the Intel Quoting Enclave signs them, and verifies such quotes like the
// Intel Quote Verification Library, including the QvE report proving the result.
// It provides no security whatsoever and exists to run the evidence protocol without SGX hardware.
package simulation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/verification"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// DefaultCollateralValidity is the time until the next collateral update of a new platform.
const DefaultCollateralValidity = 30 * 24 * time.Hour

var (
	// intelQEVendorID is the vendor ID of Intel's Quoting Enclave.
	intelQEVendorID = [16]byte{0x93, 0x9a, 0x72, 0x33, 0xf7, 0x9c, 0x4c, 0xa9, 0x94, 0x0a, 0x0d, 0xb3, 0x95, 0x7f, 0x06, 0x07}

	// QuotingEnclaveIdentity is the identity of the simulated Quoting Enclave.
	QuotingEnclaveIdentity = EnclaveIdentity{
		MRENCLAVE:       sha256.Sum256([]byte("simulated quoting enclave")),
		MRSIGNER:        sha256.Sum256([]byte("simulated platform vendor")),
		ProductID:       1,
		SecurityVersion: 8,
	}

	// QvEIdentity is the identity of the simulated Quote Verification Enclave.
	QvEIdentity = EnclaveIdentity{
		MRENCLAVE:       sha256.Sum256([]byte("simulated quote verification enclave")),
		MRSIGNER:        sha256.Sum256([]byte("simulated platform vendor")),
		ProductID:       2,
		SecurityVersion: 3,
	}
)

// Platform is a simulated SGX platform.
// It is safe for concurrent use.
type Platform struct {
	mux sync.RWMutex

	reportKeySeed []byte
	attestKey     *ecdsa.PrivateKey
	pckKey        *ecdsa.PrivateKey
	caKey         *ecdsa.PrivateKey

	root         *x509.Certificate
	intermediate *x509.Certificate
	pck          *x509.Certificate
	crl          *x509.RevocationList

	outcome    attestation.Outcome
	nextUpdate time.Time

	clock clock.PassiveClock
	log   *zap.Logger
}

// Option configures a Platform.
type Option func(*Platform)

// WithClock sets the clock used to issue certificates and collateral.
func WithClock(clock clock.PassiveClock) Option {
	return func(p *Platform) { p.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Platform) { p.log = log }
}

// New creates a platform with fresh keys and a fresh PCK certificate chain.
// Quotes verify with outcome [attestation.Ok] until [DefaultCollateralValidity] elapsed.
func New(opts ...Option) (*Platform, error) {
	p := newPlatform(opts)

	p.reportKeySeed = make([]byte, 32)
	if _, err := rand.Read(p.reportKeySeed); err != nil {
		return nil, fmt.Errorf("generating report key seed: %w", err)
	}

	var err error
	if p.attestKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		return nil, fmt.Errorf("generating attestation key: %w", err)
	}
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating root CA key: %w", err)
	}
	if p.caKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		return nil, fmt.Errorf("generating platform CA key: %w", err)
	}
	if p.pckKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		return nil, fmt.Errorf("generating PCK: %w", err)
	}

	now := p.clock.Now()
	if p.root, err = newCertificate(1, "Simulated SGX Root CA", now, true, &rootKey.PublicKey, rootKey, nil); err != nil {
		return nil, fmt.Errorf("creating root CA certificate: %w", err)
	}
	if p.intermediate, err = newCertificate(2, "Simulated SGX PCK Platform CA", now, true, &p.caKey.PublicKey, rootKey, p.root); err != nil {
		return nil, fmt.Errorf("creating platform CA certificate: %w", err)
	}
	if p.pck, err = newCertificate(3, "Simulated SGX PCK Certificate", now, false, &p.pckKey.PublicKey, p.caKey, p.intermediate); err != nil {
		return nil, fmt.Errorf("creating PCK certificate: %w", err)
	}

	p.outcome = attestation.Ok
	p.nextUpdate = now.Add(DefaultCollateralValidity)
	p.log.Info("Created simulated SGX platform", zap.Time("nextUpdate", p.nextUpdate))
	return p, nil
}

func newPlatform(opts []Option) *Platform {
	p := &Platform{
		clock: clock.RealClock{},
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetOutcome sets the outcome reported for quotes with a valid signature.
func (p *Platform) SetOutcome(outcome attestation.Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("invalid outcome %s", outcome)
	}
	p.mux.Lock()
	p.outcome = outcome
	p.mux.Unlock()
	return nil
}

// Outcome returns the outcome reported for quotes with a valid signature.
func (p *Platform) Outcome() attestation.Outcome {
	p.mux.RLock()
	defer p.mux.RUnlock()
	return p.outcome
}

// SetCollateralNextUpdate sets the time the collateral expires.
// Verifications with a later expiration check date report expired collateral.
func (p *Platform) SetCollateralNextUpdate(t time.Time) {
	p.mux.Lock()
	p.nextUpdate = t
	p.mux.Unlock()
}

// CollateralNextUpdate returns the time the collateral expires.
func (p *Platform) CollateralNextUpdate() time.Time {
	p.mux.RLock()
	defer p.mux.RUnlock()
	return p.nextUpdate
}

// RevokePCK revokes the PCK certificate of the platform.
// Quotes of the platform then verify with outcome [attestation.Revoked].
func (p *Platform) RevokePCK() error {
	p.mux.Lock()
	defer p.mux.Unlock()

	now := p.clock.Now()
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: now,
		NextUpdate: p.nextUpdate,
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: p.pck.SerialNumber, RevocationTime: now},
		},
	}, p.intermediate, p.caKey)
	if err != nil {
		return fmt.Errorf("creating PCK CRL: %w", err)
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return fmt.Errorf("parsing PCK CRL: %w", err)
	}
	p.crl = crl
	p.log.Info("Revoked PCK certificate", zap.String("serial", p.pck.SerialNumber.String()))
	return nil
}

// RootCertificate returns the root CA certificate of the platform's PCK certificate chain.
func (p *Platform) RootCertificate() *x509.Certificate {
	return p.root
}

// QvEIdentity returns the identity a trusted verifier must expect from the platform's QvE.
func (p *Platform) QvEIdentity() verification.QvEIdentity {
	return verification.QvEIdentity{
		MRSIGNER:  QvEIdentity.MRSIGNER,
		ISVProdID: QvEIdentity.ProductID,
		MinISVSVN: QvEIdentity.SecurityVersion,
	}
}

func newCertificate(serial int64, name string, now time.Time, isCA bool, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey, parent *x509.Certificate) (*x509.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{Organization: []string{"Simulated SGX Platform"}, CommonName: name},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  isCA,
	}
	if isCA {
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
	if parent == nil {
		parent = template
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// enclaveBody returns the report body of an enclave, with report data unset.
func enclaveBody(id EnclaveIdentity) types.EnclaveReport {
	body := types.EnclaveReport{
		MRENCLAVE: id.MRENCLAVE,
		MRSIGNER:  id.MRSIGNER,
		ISVProdID: id.ProductID,
		ISVSVN:    id.SecurityVersion,
	}
	body.Attributes[0] = attributeInit | attributeMode64Bit
	if id.Debug {
		body.Attributes[0] |= types.AttributeDebug
	}
	return body
}
