package types

import (
	"encoding/binary"
	"fmt"
)

/*
   Local report and target info structures.
   Based on:
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_report.h
*/

const (
	// ReportSize is the size of an SGX local report (sgx_report_t).
	ReportSize = EnclaveReportSize + 32 + 16
	// TargetInfoSize is the size of an SGX target info structure (sgx_target_info_t).
	TargetInfoSize = 512

	// OEReportHeaderSize is the size of the header Open Enclave prepends to reports.
	OEReportHeaderSize = 16
	// OEReportTypeLocal is the Open Enclave report type of a local report.
	OEReportTypeLocal = 1
	// OEReportTypeRemote is the Open Enclave report type of a remote report (a quote).
	OEReportTypeRemote = 2
)

// Report is an SGX local report (sgx_report_t).
// It can only be verified on the platform it was created on, by the enclave it targets.
type Report struct {
	Body  EnclaveReport
	KeyID [32]byte
	MAC   [16]byte // AES-CMAC over Body using the report key of the target enclave
}

// TargetInfo identifies the enclave a local report is addressed to (sgx_target_info_t).
type TargetInfo struct {
	MRENCLAVE  [32]byte
	Attributes [16]byte
	Reserved1  [2]byte
	ConfigSVN  uint16
	MiscSelect uint32
	Reserved2  [8]byte
	ConfigID   [64]byte
	Reserved3  [384]byte
}

// ParseReport parses an SGX local report. A leading Open Enclave header is removed first.
func ParseReport(raw []byte) (Report, error) {
	raw = StripOEHeader(raw)
	if len(raw) < ReportSize {
		return Report{}, fmt.Errorf("report is too short to be parsed (received: %d bytes)", len(raw))
	}
	body, err := ParseEnclaveReport(raw[:EnclaveReportSize])
	if err != nil {
		return Report{}, err
	}
	return Report{
		Body:  body,
		KeyID: [32]byte(raw[384:416]),
		MAC:   [16]byte(raw[416:432]),
	}, nil
}

// ParseTargetInfo parses an SGX target info structure.
func ParseTargetInfo(raw []byte) (TargetInfo, error) {
	if len(raw) < TargetInfoSize {
		return TargetInfo{}, fmt.Errorf("target info is too short to be parsed (received: %d bytes)", len(raw))
	}
	return TargetInfo{
		MRENCLAVE:  [32]byte(raw[0:32]),
		Attributes: [16]byte(raw[32:48]),
		Reserved1:  [2]byte(raw[48:50]),
		ConfigSVN:  binary.LittleEndian.Uint16(raw[50:52]),
		MiscSelect: binary.LittleEndian.Uint32(raw[52:56]),
		Reserved2:  [8]byte(raw[56:64]),
		ConfigID:   [64]byte(raw[64:128]),
		Reserved3:  [384]byte(raw[128:512]),
	}, nil
}

// TargetInfoFor returns the target info addressing the enclave that produced report.
func TargetInfoFor(report EnclaveReport) TargetInfo {
	return TargetInfo{
		MRENCLAVE:  report.MRENCLAVE,
		Attributes: report.Attributes,
		MiscSelect: report.MiscSelect,
	}
}

// StripOEHeader removes the Open Enclave report header if raw starts with one.
// The header consists of a version (1), a report type (local or remote), and the size of the following report.
// Quotes and reports without this header are returned unchanged.
func StripOEHeader(raw []byte) []byte {
	if len(raw) < OEReportHeaderSize {
		return raw
	}
	version := binary.LittleEndian.Uint32(raw[0:4])
	reportType := binary.LittleEndian.Uint32(raw[4:8])
	size := binary.LittleEndian.Uint64(raw[8:16])
	if version != 1 || (reportType != OEReportTypeLocal && reportType != OEReportTypeRemote) {
		return raw
	}
	if size != uint64(len(raw)-OEReportHeaderSize) {
		return raw
	}
	return raw[OEReportHeaderSize:]
}

// AddOEHeader prepends an Open Enclave report header of the given type.
func AddOEHeader(reportType uint32, report []byte) []byte {
	out := make([]byte, OEReportHeaderSize, OEReportHeaderSize+len(report))
	binary.LittleEndian.PutUint32(out[0:4], 1)
	binary.LittleEndian.PutUint32(out[4:8], reportType)
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(report)))
	return append(out, report...)
}
