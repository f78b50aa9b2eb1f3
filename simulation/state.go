package simulation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

var (
	encMode = func() cbor.EncMode {
		em, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
		return em
	}()
	decMode = func() cbor.DecMode {
		dm, err := cbor.DecOptions{
			DupMapKey:   cbor.DupMapKeyEnforcedAPF,
			IndefLength: cbor.IndefLengthForbidden,
		}.DecMode()
		if err != nil {
			panic(err)
		}
		return dm
	}()
)

// platformState is the persisted state of a platform.
type platformState struct {
	ReportKeySeed []byte              `cbor:"1,keyasint"`
	AttestKey     []byte              `cbor:"2,keyasint"` // PKCS #8
	PCKKey        []byte              `cbor:"3,keyasint"` // PKCS #8
	CAKey         []byte              `cbor:"4,keyasint"` // PKCS #8
	Root          []byte              `cbor:"5,keyasint"` // DER
	Intermediate  []byte              `cbor:"6,keyasint"` // DER
	PCK           []byte              `cbor:"7,keyasint"` // DER
	CRL           []byte              `cbor:"8,keyasint,omitempty"`
	Outcome       attestation.Outcome `cbor:"9,keyasint"`
	NextUpdate    int64               `cbor:"10,keyasint"`
}

// MarshalBinary encodes the platform's keys, certificates, and settings as canonical CBOR.
// The result holds private keys and must be stored accordingly.
func (p *Platform) MarshalBinary() ([]byte, error) {
	p.mux.RLock()
	defer p.mux.RUnlock()

	state := platformState{
		ReportKeySeed: p.reportKeySeed,
		Root:          p.root.Raw,
		Intermediate:  p.intermediate.Raw,
		PCK:           p.pck.Raw,
		Outcome:       p.outcome,
		NextUpdate:    p.nextUpdate.Unix(),
	}
	var err error
	if state.AttestKey, err = x509.MarshalPKCS8PrivateKey(p.attestKey); err != nil {
		return nil, fmt.Errorf("marshaling attestation key: %w", err)
	}
	if state.PCKKey, err = x509.MarshalPKCS8PrivateKey(p.pckKey); err != nil {
		return nil, fmt.Errorf("marshaling PCK: %w", err)
	}
	if state.CAKey, err = x509.MarshalPKCS8PrivateKey(p.caKey); err != nil {
		return nil, fmt.Errorf("marshaling platform CA key: %w", err)
	}
	if p.crl != nil {
		state.CRL = p.crl.Raw
	}
	return encMode.Marshal(state)
}

// Load restores a platform encoded by [Platform.MarshalBinary].
func Load(data []byte, opts ...Option) (*Platform, error) {
	var state platformState
	if err := decMode.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding platform state: %w", err)
	}
	reencoded, err := encMode.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding platform state: %w", err)
	}
	if !bytes.Equal(reencoded, data) {
		return nil, errors.New("platform state is not canonically encoded")
	}

	if len(state.ReportKeySeed) != 32 {
		return nil, fmt.Errorf("report key seed must be 32 bytes, got %d", len(state.ReportKeySeed))
	}
	if !state.Outcome.Valid() {
		return nil, fmt.Errorf("invalid outcome %s", state.Outcome)
	}

	p := newPlatform(opts)
	p.reportKeySeed = state.ReportKeySeed
	p.outcome = state.Outcome
	p.nextUpdate = time.Unix(state.NextUpdate, 0)

	if p.attestKey, err = parseECDSAKey(state.AttestKey); err != nil {
		return nil, fmt.Errorf("parsing attestation key: %w", err)
	}
	if p.pckKey, err = parseECDSAKey(state.PCKKey); err != nil {
		return nil, fmt.Errorf("parsing PCK: %w", err)
	}
	if p.caKey, err = parseECDSAKey(state.CAKey); err != nil {
		return nil, fmt.Errorf("parsing platform CA key: %w", err)
	}
	if p.root, err = x509.ParseCertificate(state.Root); err != nil {
		return nil, fmt.Errorf("parsing root CA certificate: %w", err)
	}
	if p.intermediate, err = x509.ParseCertificate(state.Intermediate); err != nil {
		return nil, fmt.Errorf("parsing platform CA certificate: %w", err)
	}
	if p.pck, err = x509.ParseCertificate(state.PCK); err != nil {
		return nil, fmt.Errorf("parsing PCK certificate: %w", err)
	}
	if !p.pckKey.PublicKey.Equal(p.pck.PublicKey) {
		return nil, errors.New("PCK does not match PCK certificate")
	}
	if !p.caKey.PublicKey.Equal(p.intermediate.PublicKey) {
		return nil, errors.New("platform CA key does not match platform CA certificate")
	}
	if len(state.CRL) > 0 {
		if p.crl, err = x509.ParseRevocationList(state.CRL); err != nil {
			return nil, fmt.Errorf("parsing PCK CRL: %w", err)
		}
	}

	p.log.Info("Loaded simulated SGX platform", zap.Time("nextUpdate", p.nextUpdate))
	return p, nil
}

func parseECDSAKey(der []byte) (*ecdsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("expected ECDSA key, got %T", key)
	}
	return ecKey, nil
}
