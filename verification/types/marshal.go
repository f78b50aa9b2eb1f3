package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Marshal serializes an EnclaveReport to its binary representation found in a report, a Quote Enclave (QE) report, or a quote.
func (er *EnclaveReport) Marshal() [EnclaveReportSize]byte {
	var result [EnclaveReportSize]byte
	copy(result[0:16], er.CPUSVN[:])
	binary.LittleEndian.PutUint32(result[16:20], er.MiscSelect)
	copy(result[20:48], er.Reserved1[:])
	copy(result[48:64], er.Attributes[:])
	copy(result[64:96], er.MRENCLAVE[:])
	copy(result[96:128], er.Reserved2[:])
	copy(result[128:160], er.MRSIGNER[:])
	copy(result[160:256], er.Reserved3[:])
	binary.LittleEndian.PutUint16(result[256:258], er.ISVProdID)
	binary.LittleEndian.PutUint16(result[258:260], er.ISVSVN)
	copy(result[260:320], er.Reserved4[:])
	copy(result[320:384], er.ReportData[:])

	return result
}

// Marshal serializes a quote header into its binary representation typically found in a raw quote.
func (qh *QuoteHeader) Marshal() [QuoteHeaderSize]byte {
	var result [QuoteHeaderSize]byte
	binary.LittleEndian.PutUint16(result[0:2], qh.Version)
	binary.LittleEndian.PutUint16(result[2:4], qh.AttestationKeyType)
	binary.LittleEndian.PutUint32(result[4:8], qh.TEEType)
	binary.LittleEndian.PutUint16(result[8:10], qh.QESVN)
	binary.LittleEndian.PutUint16(result[10:12], qh.PCESVN)
	copy(result[12:28], qh.QEVendorID[:])
	copy(result[28:48], qh.UserData[:])

	return result
}

// Marshal serializes a TDX TDReport (SGXReport2) into its binary representation typically found in a raw quote.
func (qr *SGXReport2) Marshal() [TDReportSize]byte {
	var result [TDReportSize]byte
	copy(result[0:16], qr.TCBSVN[:])
	copy(result[16:64], qr.MRSEAM[:])
	copy(result[64:112], qr.MRSIGNERSEAM[:])
	binary.LittleEndian.PutUint64(result[112:120], qr.SEAMAttributes)
	binary.LittleEndian.PutUint64(result[120:128], qr.TDAttributes)
	binary.LittleEndian.PutUint64(result[128:136], qr.XFAM)
	copy(result[136:184], qr.MRTD[:])
	copy(result[184:232], qr.MRCONFIG[:])
	copy(result[232:280], qr.MROWNER[:])
	copy(result[280:328], qr.MROWNERCONFIG[:])
	for i, rtmr := range qr.RTMR {
		copy(result[328+i*48:376+i*48], rtmr[:])
	}
	copy(result[520:584], qr.ReportData[:])

	return result
}

// Marshal serializes a local report.
func (r *Report) Marshal() [ReportSize]byte {
	var result [ReportSize]byte
	body := r.Body.Marshal()
	copy(result[0:384], body[:])
	copy(result[384:416], r.KeyID[:])
	copy(result[416:432], r.MAC[:])
	return result
}

// Marshal serializes a target info structure.
func (ti *TargetInfo) Marshal() [TargetInfoSize]byte {
	var result [TargetInfoSize]byte
	copy(result[0:32], ti.MRENCLAVE[:])
	copy(result[32:48], ti.Attributes[:])
	copy(result[48:50], ti.Reserved1[:])
	binary.LittleEndian.PutUint16(result[50:52], ti.ConfigSVN)
	binary.LittleEndian.PutUint32(result[52:56], ti.MiscSelect)
	copy(result[56:64], ti.Reserved2[:])
	copy(result[64:128], ti.ConfigID[:])
	copy(result[128:512], ti.Reserved3[:])
	return result
}

// Marshal serializes the QE report certification data.
// The inner CertificationData must hold a PEM certificate chain as []byte.
func (qe *QEReportCertificationData) Marshal() ([]byte, error) {
	chain, err := qe.PCKCertChain()
	if err != nil {
		return nil, err
	}
	if len(qe.QEAuthData.Data) > 0xFFFF {
		return nil, fmt.Errorf("QEAuthData is too large (%d bytes)", len(qe.QEAuthData.Data))
	}

	report := qe.EnclaveReport.Marshal()
	out := append([]byte{}, report[:]...)
	out = append(out, qe.Signature[:]...)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(qe.QEAuthData.Data)))
	out = append(out, qe.QEAuthData.Data...)
	out = binary.LittleEndian.AppendUint16(out, PCK_ID_PCK_CERT_CHAIN)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(chain)))
	return append(out, chain...), nil
}

// Marshal serializes the quote into its raw binary form.
func (q *Quote) Marshal() ([]byte, error) {
	if (q.EnclaveBody == nil) == (q.TDBody == nil) {
		return nil, errors.New("quote must have exactly one report body")
	}
	qeReport, err := q.Signature.QEReport()
	if err != nil {
		return nil, err
	}
	qeReportBytes, err := qeReport.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling QE report: %w", err)
	}

	signature := append([]byte{}, q.Signature.Signature[:]...)
	signature = append(signature, q.Signature.PublicKey[:]...)
	if q.Header.Version != 3 {
		signature = binary.LittleEndian.AppendUint16(signature, PCK_ID_QE_REPORT_CERTIFICATION_DATA)
		signature = binary.LittleEndian.AppendUint32(signature, uint32(len(qeReportBytes)))
	}
	signature = append(signature, qeReportBytes...)

	out := q.SignedData()
	out = binary.LittleEndian.AppendUint32(out, uint32(len(signature)))
	return append(out, signature...), nil
}
