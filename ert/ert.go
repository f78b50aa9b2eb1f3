// Package ert connects the evidence protocol to the Edgeless RT runtime used by EGo enclaves.
//
// Quotes are verified by the Open Enclave verification library that EGo wraps:
// on the host through [NewHostVerifier], inside an enclave through NewEnclaveVerifier,
// which is only available when building with the ego_enclave tag.
package ert

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/edgelesssys/ego/attestation"
	"github.com/edgelesssys/ego/attestation/tcbstatus"
	evidence "github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/verification"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// OutcomeFromTCBStatus returns the verification outcome of a quote with the given TCB status.
func OutcomeFromTCBStatus(status tcbstatus.Status) evidence.Outcome {
	switch status {
	case tcbstatus.UpToDate:
		return evidence.Ok
	case tcbstatus.OutOfDate:
		return evidence.OutOfDate
	case tcbstatus.Revoked:
		return evidence.Revoked
	case tcbstatus.ConfigurationNeeded:
		return evidence.ConfigNeeded
	case tcbstatus.OutOfDateConfigurationNeeded:
		return evidence.OutOfDateConfigNeeded
	case tcbstatus.SWHardeningNeeded:
		return evidence.SwHardeningNeeded
	case tcbstatus.ConfigurationAndSWHardeningNeeded:
		return evidence.ConfigAndSwHardeningNeeded
	default:
		return evidence.Unspecified
	}
}

// Supplemental is the supplemental data returned alongside results of the Open Enclave verification library.
type Supplemental struct {
	TCBStatus     string   `cbor:"1,keyasint"`
	TCBAdvisories []string `cbor:"2,keyasint,omitempty"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// ParseSupplemental decodes supplemental data returned by a [RemoteVerifier].
func ParseSupplemental(data []byte) (Supplemental, error) {
	var supplemental Supplemental
	if err := cbor.Unmarshal(data, &supplemental); err != nil {
		return Supplemental{}, fmt.Errorf("decoding supplemental data: %w", err)
	}
	return supplemental, nil
}

type verifyFunc func(reportBytes []byte) (attestation.Report, error)

// RemoteVerifier verifies quotes using the Open Enclave verification library.
// It implements [verification.Service].
type RemoteVerifier struct {
	verify verifyFunc
	log    *zap.Logger
}

func newRemoteVerifier(verify verifyFunc, log *zap.Logger) *RemoteVerifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteVerifier{verify: verify, log: log}
}

// VerifyQuote implements [verification.Service].
//
// The library checks the expiration of collateral itself and fails verification if it expired.
// Failed verifications other than an invalid TCB level are returned as [evidence.VerifyQuoteFailed] errors.
// Results cannot be proven by a QvE report, so requests carrying a nonce are rejected.
func (v *RemoteVerifier) VerifyQuote(ctx context.Context, req verification.Request) (verification.Response, error) {
	if err := ctx.Err(); err != nil {
		return verification.Response{}, err
	}
	if len(req.Nonce) > 0 || len(req.TargetInfo) > 0 {
		return verification.Response{}, errors.New("Open Enclave verification library does not support verification proofs")
	}

	report, err := v.verify(withOEHeader(req.Quote, types.OEReportTypeRemote))
	var outcome evidence.Outcome
	switch {
	case err == nil:
		outcome = OutcomeFromTCBStatus(report.TCBStatus)
	case errors.Is(err, attestation.ErrTCBLevelInvalid):
		outcome = OutcomeFromTCBStatus(report.TCBStatus)
		v.log.Warn("TCB level is invalid", zap.Stringer("tcbStatus", report.TCBStatus), zap.String("explanation", tcbstatus.Explain(report.TCBStatus)))
	default:
		v.log.Info("Quote failed verification", zap.Error(err))
		return verification.Response{}, evidence.Errorf(evidence.VerifyQuoteFailed, "verifying quote: %w", err)
	}

	supplemental := Supplemental{TCBStatus: report.TCBStatus.String()}
	if report.TCBAdvisoriesErr == nil {
		supplemental.TCBAdvisories = report.TCBAdvisories
	}
	rawSupplemental, err := encMode.Marshal(supplemental)
	if err != nil {
		return verification.Response{}, fmt.Errorf("encoding supplemental data: %w", err)
	}
	return verification.Response{Outcome: outcome, Supplemental: rawSupplemental}, nil
}

// withOEHeader prepends an Open Enclave report header unless raw already has one.
func withOEHeader(raw []byte, reportType uint32) []byte {
	if !bytes.Equal(types.StripOEHeader(raw), raw) {
		return raw
	}
	return types.AddOEHeader(reportType, raw)
}

// enclaveReportFrom converts a report parsed by EGo into an SGX report body.
func enclaveReportFrom(report attestation.Report) (types.EnclaveReport, error) {
	var body types.EnclaveReport
	if len(report.UniqueID) != len(body.MRENCLAVE) {
		return types.EnclaveReport{}, fmt.Errorf("invalid unique ID size %d", len(report.UniqueID))
	}
	if len(report.SignerID) != len(body.MRSIGNER) {
		return types.EnclaveReport{}, fmt.Errorf("invalid signer ID size %d", len(report.SignerID))
	}
	if len(report.ProductID) < 2 {
		return types.EnclaveReport{}, fmt.Errorf("invalid product ID size %d", len(report.ProductID))
	}
	if len(report.Data) > len(body.ReportData) {
		return types.EnclaveReport{}, fmt.Errorf("invalid report data size %d", len(report.Data))
	}
	if report.SecurityVersion > 0xFFFF {
		return types.EnclaveReport{}, fmt.Errorf("invalid security version %d", report.SecurityVersion)
	}

	copy(body.MRENCLAVE[:], report.UniqueID)
	copy(body.MRSIGNER[:], report.SignerID)
	copy(body.ReportData[:], report.Data)
	body.ISVProdID = binary.LittleEndian.Uint16(report.ProductID)
	body.ISVSVN = uint16(report.SecurityVersion)
	if report.Debug {
		body.Attributes[0] |= types.AttributeDebug
	}
	return body, nil
}
