// Package crypto implements common crypto operations used to sign and verify SGX and TDX quotes.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// BuildECDSAPublicKey builds a P-256 ECDSA public key from its raw X || Y encoding.
func BuildECDSAPublicKey(rawPublicKey [64]byte) *ecdsa.PublicKey {
	key := new(ecdsa.PublicKey)
	key.Curve = elliptic.P256()

	// construct the key manually...
	key.X = new(big.Int).SetBytes(rawPublicKey[:32])
	key.Y = new(big.Int).SetBytes(rawPublicKey[32:64])

	return key
}

// MarshalECDSAPublicKey returns the raw X || Y encoding of a P-256 public key, as found in quotes.
func MarshalECDSAPublicKey(publicKey *ecdsa.PublicKey) ([64]byte, error) {
	if publicKey.Curve != elliptic.P256() {
		return [64]byte{}, errors.New("public key is not a P-256 key")
	}
	var raw [64]byte
	publicKey.X.FillBytes(raw[:32])
	publicKey.Y.FillBytes(raw[32:])
	return raw, nil
}

// SignECDSA signs the SHA-256 digest of data and returns the raw r || s signature, as found in quotes.
func SignECDSA(privateKey *ecdsa.PrivateKey, data []byte) ([64]byte, error) {
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, privateKey, digest[:])
	if err != nil {
		return [64]byte{}, fmt.Errorf("signing data: %w", err)
	}
	var signature [64]byte
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signature, nil
}

// VerifyECDSASignature verifies an ECDSA signature was signed
// using the public key of the provided signing certificate.
func VerifyECDSASignature(publicKey crypto.PublicKey, data, signature []byte) error {
	signingKey, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("signing cert public key is not an ECDSA key")
	}
	if len(signature) != 64 {
		return fmt.Errorf("invalid ECDSA signature: expected 64 bytes but got %d bytes", len(signature))
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])

	toVerify := sha256.Sum256(data)
	if !ecdsa.Verify(signingKey, toVerify[:], r, s) {
		return errors.New("failed to verify signature using ECDSA public key")
	}
	return nil
}

// ParsePEMCertificateChain parses a certificate chain from a PEM-encoded byte slice.
// Trailing non-PEM data, such as the terminating \0 byte found in quotes, is ignored.
func ParsePEMCertificateChain(certChainPEM []byte) ([]*x509.Certificate, error) {
	var signingChain []*x509.Certificate
	for block, rest := pem.Decode(certChainPEM); block != nil; block, rest = pem.Decode(rest) {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate from PEM: %w", err)
		}

		signingChain = append(signingChain, cert)
	}
	return signingChain, nil
}

// EncodePEMCertificateChain encodes certificates as a PEM chain terminated with a \0 byte.
func EncodePEMCertificateChain(certs ...*x509.Certificate) []byte {
	var chain []byte
	for _, cert := range certs {
		chain = append(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	return append(chain, 0x00)
}
