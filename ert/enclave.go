//go:build ego_enclave

package ert

import (
	"fmt"

	"github.com/edgelesssys/ego/enclave"
	evidence "github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"go.uber.org/zap"
)

// NewEnclaveVerifier returns a verifier for use inside an EGo enclave.
// Verification runs inside the enclave, so its results can be used with [verification.NewUntrusted].
func NewEnclaveVerifier(log *zap.Logger) *RemoteVerifier {
	return newRemoteVerifier(enclave.VerifyRemoteReport, log)
}

// Hardware creates local reports of the calling EGo enclave.
// It implements [github.com/edgelesssys/go-sgx-evidence/enclave.Hardware].
type Hardware struct{}

// Report returns a local report binding data.
// As EGo derives the target info itself, targetInfo must be a local report of the target enclave.
func (Hardware) Report(targetInfo []byte, data evidence.UserData) ([]byte, error) {
	report, err := enclave.GetLocalReport(data[:], targetInfo)
	if err != nil {
		return nil, fmt.Errorf("getting local report: %w", err)
	}
	return types.StripOEHeader(report), nil
}

// LocalVerifier verifies local reports targeted at the calling EGo enclave.
// It implements [github.com/edgelesssys/go-sgx-evidence/verification.LocalVerifier].
type LocalVerifier struct{}

// TargetInfo returns a local report of the calling enclave, which EGo accepts as target.
func (LocalVerifier) TargetInfo() ([]byte, error) {
	report, err := enclave.GetLocalReport(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("getting self report: %w", err)
	}
	return report, nil
}

// VerifyReport verifies a local report targeted at the calling enclave.
func (LocalVerifier) VerifyReport(report []byte) (types.EnclaveReport, error) {
	parsed, err := enclave.VerifyLocalReport(withOEHeader(report, types.OEReportTypeLocal))
	if err != nil {
		return types.EnclaveReport{}, fmt.Errorf("verifying local report: %w", err)
	}
	return enclaveReportFrom(parsed)
}
