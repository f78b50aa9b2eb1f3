package simulation

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
)

const (
	attributeInit      = 0x01
	attributeMode64Bit = 0x04
)

// EnclaveIdentity is the measured identity of a simulated enclave.
type EnclaveIdentity struct {
	MRENCLAVE       [32]byte
	MRSIGNER        [32]byte
	ProductID       uint16
	SecurityVersion uint16
	Debug           bool
}

// Enclave is a simulated enclave running on a [Platform].
// It creates and verifies local reports like the EREPORT instruction and EGETKEY do.
type Enclave struct {
	platform *Platform
	identity EnclaveIdentity
	body     types.EnclaveReport
}

// NewEnclave launches a simulated enclave with the given identity on the platform.
func (p *Platform) NewEnclave(identity EnclaveIdentity) *Enclave {
	return &Enclave{
		platform: p,
		identity: identity,
		body:     enclaveBody(identity),
	}
}

// Identity returns the identity of the enclave.
func (e *Enclave) Identity() EnclaveIdentity {
	return e.identity
}

// Report returns a local report binding data, targeted at the enclave described by targetInfo.
func (e *Enclave) Report(targetInfo []byte, data attestation.UserData) ([]byte, error) {
	target, err := types.ParseTargetInfo(targetInfo)
	if err != nil {
		return nil, fmt.Errorf("parsing target info: %w", err)
	}
	report := types.Report{Body: e.body}
	report.Body.ReportData = [64]byte(data)
	report.MAC = e.platform.reportMAC(target.MRENCLAVE, report.Body)
	raw := report.Marshal()
	return raw[:], nil
}

// TargetInfo returns the target info other enclaves address their reports for this enclave to.
func (e *Enclave) TargetInfo() ([]byte, error) {
	targetInfo := types.TargetInfoFor(e.body)
	raw := targetInfo.Marshal()
	return raw[:], nil
}

// VerifyReport checks the MAC of a local report targeted at this enclave and returns its body.
func (e *Enclave) VerifyReport(report []byte) (types.EnclaveReport, error) {
	return e.platform.verifyReport(e.identity.MRENCLAVE, report)
}

func (p *Platform) verifyReport(target [32]byte, raw []byte) (types.EnclaveReport, error) {
	report, err := types.ParseReport(raw)
	if err != nil {
		return types.EnclaveReport{}, err
	}
	want := p.reportMAC(target, report.Body)
	if !hmac.Equal(report.MAC[:], want[:]) {
		return types.EnclaveReport{}, errors.New("report MAC mismatch: report was not created for this enclave on this platform")
	}
	return report.Body, nil
}

// reportMAC returns the MAC of a report body for the given target enclave.
// The report key of an enclave is derived from the platform's seed and the enclave's MRENCLAVE.
func (p *Platform) reportMAC(target [32]byte, body types.EnclaveReport) [16]byte {
	p.mux.RLock()
	keyMAC := hmac.New(sha256.New, p.reportKeySeed)
	p.mux.RUnlock()
	keyMAC.Write(target[:])
	reportKey := keyMAC.Sum(nil)

	raw := body.Marshal()
	mac := hmac.New(sha256.New, reportKey)
	mac.Write(raw[:])
	return [16]byte(mac.Sum(nil))
}
