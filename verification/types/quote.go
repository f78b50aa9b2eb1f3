package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
   Quote parser for SGX (v3, v4) and TDX (v4) quotes.
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_3.h
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_4.h#L113
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_report2.h#L61
*/

const (
	// TEETypeSGX is the type number referenced in the Quote header for SGX quotes.
	TEETypeSGX = 0x0
	// TEETypeTDX is the type number referenced in the Quote header for TDX quotes.
	TEETypeTDX = 0x81

	// AttestationKeyTypeECDSA256 is the only attestation key type supported by this package (ECDSA-256-with-P-256 curve).
	AttestationKeyTypeECDSA256 = 2

	// PCK_ID_PCK_CERT_CHAIN is the CertificationData type holding the PCK cert chain (encoded in PEM, \0 byte terminated).
	PCK_ID_PCK_CERT_CHAIN = 5
	// PCK_ID_QE_REPORT_CERTIFICATION_DATA is the CertificationData type holding QEReportCertificationData data.
	PCK_ID_QE_REPORT_CERTIFICATION_DATA = 6

	// QuoteHeaderSize is the size of the quote header for v3 and v4 quotes.
	QuoteHeaderSize = 48
	// EnclaveReportSize is the size of an SGX report body.
	EnclaveReportSize = 384
	// TDReportSize is the size of a TDX report body (SGX Report 2).
	TDReportSize = 584

	// AttributeDebug is the DEBUG flag in the first byte of the SGX attributes.
	AttributeDebug = 0x02
	// TDAttributeDebug is the DEBUG flag (TUD.DEBUG) of the TD attributes.
	TDAttributeDebug = 0x01
)

// QuoteHeader is the header of an SGX/TDX quote.
// For v3 quotes, TEEType is reserved and always zero (SGX).
type QuoteHeader struct {
	Version            uint16
	AttestationKeyType uint16
	TEEType            uint32 // 0x0 = SGX, 0x81 = TDX
	QESVN              uint16 // Reserved for TDX
	PCESVN             uint16 // Reserved for TDX
	QEVendorID         [16]byte
	UserData           [20]byte
}

// SGXReport2 is a TDReport for Intel TDX platforms, originally passed into the quote for signing.
type SGXReport2 struct {
	TCBSVN         [16]byte
	MRSEAM         [48]byte    // SHA384
	MRSIGNERSEAM   [48]byte    // SHA384
	SEAMAttributes uint64      // TEE Attributes: In C code that's a [2]uint32
	TDAttributes   uint64      // TEE Attributes: In C code that's a [2]uint32
	XFAM           uint64      // TEE Attributes: In C code that's a [2]uint32
	MRTD           [48]byte    // SHA384
	MRCONFIG       [48]byte    // SHA384
	MROWNER        [48]byte    // SHA384
	MROWNERCONFIG  [48]byte    // SHA384
	RTMR           [4][48]byte // 4x SHA384 - runtime measurements
	ReportData     [64]byte
}

// EnclaveReport is the report body of an SGX enclave (sgx_report_body_t).
// It is the body of SGX quotes and the report of the Quoting Enclave in both SGX and TDX quotes.
type EnclaveReport struct {
	CPUSVN     [16]byte
	MiscSelect uint32
	Reserved1  [28]byte
	Attributes [16]byte // flags (uint64) followed by xfrm (uint64)
	MRENCLAVE  [32]byte
	Reserved2  [32]byte
	MRSIGNER   [32]byte
	Reserved3  [96]byte
	ISVProdID  uint16
	ISVSVN     uint16
	Reserved4  [60]byte
	ReportData [64]byte
}

// Debug reports whether the enclave was launched in debug mode.
func (er *EnclaveReport) Debug() bool {
	return er.Attributes[0]&AttributeDebug != 0
}

// Quote is a parsed SGX or TDX quote.
// Exactly one of EnclaveBody and TDBody is set.
type Quote struct {
	Header          QuoteHeader
	EnclaveBody     *EnclaveReport
	TDBody          *SGXReport2
	SignatureLength uint32
	Signature       ECDSA256QuoteAuthData
}

// ReportData returns the report data field of the quote body.
func (q *Quote) ReportData() [64]byte {
	if q.TDBody != nil {
		return q.TDBody.ReportData
	}
	return q.EnclaveBody.ReportData
}

// CodeIdentity returns MRENCLAVE for SGX quotes and MRTD for TDX quotes.
func (q *Quote) CodeIdentity() []byte {
	if q.TDBody != nil {
		return append([]byte(nil), q.TDBody.MRTD[:]...)
	}
	return append([]byte(nil), q.EnclaveBody.MRENCLAVE[:]...)
}

// Debug reports whether the quoted enclave or TD runs in debug mode.
func (q *Quote) Debug() bool {
	if q.TDBody != nil {
		return q.TDBody.TDAttributes&TDAttributeDebug != 0
	}
	return q.EnclaveBody.Debug()
}

// SignedData returns the part of the quote covered by the attestation key signature:
// the quote header followed by the report body.
func (q *Quote) SignedData() []byte {
	header := q.Header.Marshal()
	data := append([]byte{}, header[:]...)
	if q.TDBody != nil {
		body := q.TDBody.Marshal()
		return append(data, body[:]...)
	}
	body := q.EnclaveBody.Marshal()
	return append(data, body[:]...)
}

// ParseQuote parses an SGX v3/v4 or TDX v4 quote.
// A leading Open Enclave report header is removed first, see [StripOEHeader].
func ParseQuote(rawQuote []byte) (Quote, error) {
	rawQuote = StripOEHeader(rawQuote)
	quoteLength := len(rawQuote)
	if quoteLength < QuoteHeaderSize {
		return Quote{}, fmt.Errorf("quote structure is too short to be parsed (received: %d bytes)", quoteLength)
	}

	quoteHeader := parseQuoteHeader(rawQuote[:QuoteHeaderSize])
	if quoteHeader.AttestationKeyType != AttestationKeyTypeECDSA256 {
		return Quote{}, fmt.Errorf("unsupported attestation key type (expected: %d, got: %d)", AttestationKeyTypeECDSA256, quoteHeader.AttestationKeyType)
	}

	var bodySize int
	switch {
	case quoteHeader.Version == 3:
		if quoteHeader.TEEType != TEETypeSGX {
			return Quote{}, fmt.Errorf("v3 quote has non-zero reserved TEE type field (got: %d)", quoteHeader.TEEType)
		}
		bodySize = EnclaveReportSize
	case quoteHeader.Version == 4 && quoteHeader.TEEType == TEETypeSGX:
		bodySize = EnclaveReportSize
	case quoteHeader.Version == 4 && quoteHeader.TEEType == TEETypeTDX:
		bodySize = TDReportSize
	case quoteHeader.Version == 4:
		return Quote{}, fmt.Errorf("quote has unknown TEE type (got: %d)", quoteHeader.TEEType)
	default:
		return Quote{}, fmt.Errorf("quote version is not 3 or 4 (got: %d)", quoteHeader.Version)
	}

	signatureOffset := QuoteHeaderSize + bodySize + 4
	if quoteLength < signatureOffset {
		return Quote{}, fmt.Errorf("quote structure is too short to be parsed (received: %d bytes, need at least: %d bytes)", quoteLength, signatureOffset)
	}

	quote := Quote{Header: quoteHeader}
	bodyBytes := rawQuote[QuoteHeaderSize : QuoteHeaderSize+bodySize]
	if bodySize == TDReportSize {
		body := parseSGXReport2(bodyBytes)
		quote.TDBody = &body
	} else {
		body, err := ParseEnclaveReport(bodyBytes)
		if err != nil {
			return Quote{}, fmt.Errorf("parsing report body: %w", err)
		}
		quote.EnclaveBody = &body
	}

	quote.SignatureLength = binary.LittleEndian.Uint32(rawQuote[signatureOffset-4 : signatureOffset])
	// Upgrade to uint64 since we could overflow if SignatureLength is close to the top of uint32.
	endSignature := uint64(signatureOffset) + uint64(quote.SignatureLength)
	if endSignature > uint64(quoteLength) {
		return Quote{}, fmt.Errorf("quote SignatureLength is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", quote.SignatureLength, quoteLength-signatureOffset)
	}
	signatureBytes := rawQuote[signatureOffset:endSignature]

	var signature ECDSA256QuoteAuthData
	var err error
	if quoteHeader.Version == 3 {
		signature, err = parseSignatureV3(signatureBytes)
	} else {
		signature, err = parseSignature(signatureBytes)
	}
	if err != nil {
		return Quote{}, fmt.Errorf("failed parsing quote signature: %w", err)
	}
	quote.Signature = signature

	return quote, nil
}

// ParseEnclaveReport parses an SGX report body (sgx_report_body_t).
func ParseEnclaveReport(raw []byte) (EnclaveReport, error) {
	if len(raw) < EnclaveReportSize {
		return EnclaveReport{}, fmt.Errorf("enclave report is too short to be parsed (received: %d bytes)", len(raw))
	}
	return EnclaveReport{
		CPUSVN:     [16]byte(raw[0:16]),
		MiscSelect: binary.LittleEndian.Uint32(raw[16:20]),
		Reserved1:  [28]byte(raw[20:48]),
		Attributes: [16]byte(raw[48:64]),
		MRENCLAVE:  [32]byte(raw[64:96]),
		Reserved2:  [32]byte(raw[96:128]),
		MRSIGNER:   [32]byte(raw[128:160]),
		Reserved3:  [96]byte(raw[160:256]),
		ISVProdID:  binary.LittleEndian.Uint16(raw[256:258]),
		ISVSVN:     binary.LittleEndian.Uint16(raw[258:260]),
		Reserved4:  [60]byte(raw[260:320]),
		ReportData: [64]byte(raw[320:384]),
	}, nil
}

func parseQuoteHeader(raw []byte) QuoteHeader {
	return QuoteHeader{
		Version:            binary.LittleEndian.Uint16(raw[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(raw[2:4]),
		TEEType:            binary.LittleEndian.Uint32(raw[4:8]),
		QESVN:              binary.LittleEndian.Uint16(raw[8:10]),
		PCESVN:             binary.LittleEndian.Uint16(raw[10:12]),
		QEVendorID:         [16]byte(raw[12:28]),
		UserData:           [20]byte(raw[28:48]),
	}
}

func parseSGXReport2(raw []byte) SGXReport2 {
	return SGXReport2{
		TCBSVN:         [16]byte(raw[0:16]),
		MRSEAM:         [48]byte(raw[16:64]),
		MRSIGNERSEAM:   [48]byte(raw[64:112]),
		SEAMAttributes: binary.LittleEndian.Uint64(raw[112:120]),
		TDAttributes:   binary.LittleEndian.Uint64(raw[120:128]),
		XFAM:           binary.LittleEndian.Uint64(raw[128:136]),
		MRTD:           [48]byte(raw[136:184]),
		MRCONFIG:       [48]byte(raw[184:232]),
		MROWNER:        [48]byte(raw[232:280]),
		MROWNERCONFIG:  [48]byte(raw[280:328]),
		RTMR:           [4][48]byte{[48]byte(raw[328:376]), [48]byte(raw[376:424]), [48]byte(raw[424:472]), [48]byte(raw[472:520])},
		ReportData:     [64]byte(raw[520:584]),
	}
}

/*
   Quote Signature Parsing
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteVerification/QVL/Src/AttestationLibrary/src/QuoteVerification/QuoteStructures.h
*/

// ECDSA256QuoteAuthData is the signature of a quote.
// For v4 quotes, CertificationData wraps the QE report (type 6).
// For v3 quotes, the QE report directly follows the public key. It is wrapped the same way after parsing.
type ECDSA256QuoteAuthData struct {
	Signature         [64]byte
	PublicKey         [64]byte
	CertificationData CertificationData
}

// QEReport returns the QE report certification data of the signature.
func (a *ECDSA256QuoteAuthData) QEReport() (QEReportCertificationData, error) {
	qeReport, ok := a.CertificationData.Data.(QEReportCertificationData)
	if !ok {
		return QEReportCertificationData{}, errors.New("invalid QEReportCertificationData in quote")
	}
	return qeReport, nil
}

// CertificationData is a generic Data wrapper from Intel's library.
// In a quote, this usually is:
// QEReportCertificationData (type == 6: PCK_ID_QE_REPORT_CERTIFICATION_DATA)
// PEM certificate chain (type == 5: PCK_ID_PCK_CERT_CHAIN)
type CertificationData struct {
	Type           uint16
	ParsedDataSize uint32
	Data           any
}

// QEReportCertificationData holds the Quoting Enclave (QE) report.
type QEReportCertificationData struct {
	EnclaveReport     EnclaveReport
	Signature         [64]byte // ECDSA256 signature
	QEAuthData        QEAuthData
	CertificationData CertificationData
}

// PCKCertChain returns the PEM encoded PCK certificate chain.
func (qe *QEReportCertificationData) PCKCertChain() ([]byte, error) {
	chain, ok := qe.CertificationData.Data.([]byte)
	if !ok {
		return nil, errors.New("invalid PCK certification data type in quote")
	}
	return chain, nil
}

// QEAuthData holds the Quoting Enclave (QE) authentication data.
type QEAuthData struct {
	ParsedDataSize uint16
	Data           []byte
}

// parseSignature parses a v4 signature (ECDSA256QuoteV4AuthData).
func parseSignature(signature []byte) (ECDSA256QuoteAuthData, error) {
	signatureLength := len(signature)
	if signatureLength < 134 {
		return ECDSA256QuoteAuthData{}, fmt.Errorf("signature is too short to be parsed (received: %d bytes)", signatureLength)
	}

	quoteSignature := ECDSA256QuoteAuthData{
		Signature: [64]byte(signature[0:64]),   // ECDSA256 signature
		PublicKey: [64]byte(signature[64:128]), // ECDSA256 public key
		CertificationData: CertificationData{
			Type:           binary.LittleEndian.Uint16(signature[128:130]),
			ParsedDataSize: binary.LittleEndian.Uint32(signature[130:134]),
		},
	}

	if quoteSignature.CertificationData.Type != PCK_ID_QE_REPORT_CERTIFICATION_DATA {
		return ECDSA256QuoteAuthData{}, fmt.Errorf("signature.CertificationData.Type is of unexpected (expected PCK_ID_QE_REPORT_CERTIFICATION_DATA (6), got %d)", quoteSignature.CertificationData.Type)
	}

	// Upgrade to uint64 since we could overflow if ParsedDataSize is close to the top of uint32.
	endQEReportCertData := 134 + uint64(quoteSignature.CertificationData.ParsedDataSize)
	if endQEReportCertData > uint64(signatureLength) {
		return ECDSA256QuoteAuthData{}, fmt.Errorf("signature.CertificationData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", quoteSignature.CertificationData.ParsedDataSize, signatureLength-134)
	}

	qeReportCertData, err := parseQEReportCertificationData(signature[134:endQEReportCertData])
	if err != nil {
		return ECDSA256QuoteAuthData{}, err
	}
	quoteSignature.CertificationData.Data = qeReportCertData

	return quoteSignature, nil
}

// parseSignatureV3 parses a v3 signature (sgx_ql_ecdsa_sig_data_t).
// There is no outer CertificationData; the QE report follows the attestation public key.
func parseSignatureV3(signature []byte) (ECDSA256QuoteAuthData, error) {
	signatureLength := len(signature)
	if signatureLength < 128 {
		return ECDSA256QuoteAuthData{}, fmt.Errorf("signature is too short to be parsed (received: %d bytes)", signatureLength)
	}

	qeReportCertData, err := parseQEReportCertificationData(signature[128:])
	if err != nil {
		return ECDSA256QuoteAuthData{}, err
	}

	return ECDSA256QuoteAuthData{
		Signature: [64]byte(signature[0:64]),
		PublicKey: [64]byte(signature[64:128]),
		CertificationData: CertificationData{
			Type:           PCK_ID_QE_REPORT_CERTIFICATION_DATA,
			ParsedDataSize: uint32(signatureLength - 128),
			Data:           qeReportCertData,
		},
	}, nil
}

// parseQEReportCertificationData parses a Quoting Enclave (QE) report and its certification data.
func parseQEReportCertificationData(qeReportCertData []byte) (QEReportCertificationData, error) {
	qeReportCertDataLength := len(qeReportCertData)
	if qeReportCertDataLength < 450 {
		return QEReportCertificationData{}, fmt.Errorf("QEReportCertificationData is too short to be parsed (received: %d bytes)", qeReportCertDataLength)
	}

	enclaveReport, err := ParseEnclaveReport(qeReportCertData[0:EnclaveReportSize])
	if err != nil {
		return QEReportCertificationData{}, err
	}
	qeReport := QEReportCertificationData{
		EnclaveReport: enclaveReport,
		Signature:     [64]byte(qeReportCertData[384:448]),
		QEAuthData: QEAuthData{
			ParsedDataSize: binary.LittleEndian.Uint16(qeReportCertData[448:450]),
		},
	}

	// Upgrade to uint32 since we could overflow if ParsedDataSize is close to the top of uint16.
	endQEAuthData := 450 + uint32(qeReport.QEAuthData.ParsedDataSize)
	if endQEAuthData > uint32(qeReportCertDataLength) {
		return QEReportCertificationData{}, fmt.Errorf("QEAuthData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", qeReport.QEAuthData.ParsedDataSize, qeReportCertDataLength-450)
	}
	qeReport.QEAuthData.Data = qeReportCertData[450:endQEAuthData]

	// There's no expected data size here, so the callee does the size check at the beginning.
	qeReportInnerCertData, err := parseQEReportInnerCertificationData(qeReportCertData[endQEAuthData:])
	if err != nil {
		return QEReportCertificationData{}, err
	}
	qeReport.CertificationData = qeReportInnerCertData

	return qeReport, nil
}

// parseQEReportInnerCertificationData parses CertificationData from a Quoting Enclave (QE) report (QEReportCertificationData).
func parseQEReportInnerCertificationData(qeReportAuthDataCertData []byte) (CertificationData, error) {
	qeReportAuthDataCertDataLength := len(qeReportAuthDataCertData)
	if qeReportAuthDataCertDataLength <= 6 {
		return CertificationData{}, fmt.Errorf("QEReportCertificationData.CertificationData is too short to be parsed (received: %d bytes)", qeReportAuthDataCertDataLength)
	}

	qeAuthDataInnerCertData := CertificationData{
		Type:           binary.LittleEndian.Uint16(qeReportAuthDataCertData[0:2]),
		ParsedDataSize: binary.LittleEndian.Uint32(qeReportAuthDataCertData[2:6]),
	}

	if qeAuthDataInnerCertData.Type != PCK_ID_PCK_CERT_CHAIN {
		return CertificationData{}, fmt.Errorf("QEReportCertificationData.CertificationData.Type is of unexpected (expected PCK_ID_PCK_CERT_CHAIN (5), got %d)", qeAuthDataInnerCertData.Type)
	}

	// Upgrade to uint64 since we could overflow if ParsedDataSize is close to the top of uint32.
	endQEAuthDataInnerCertData := 6 + uint64(qeAuthDataInnerCertData.ParsedDataSize)
	if endQEAuthDataInnerCertData > uint64(qeReportAuthDataCertDataLength) {
		return CertificationData{}, fmt.Errorf("QEReportCertificationData.CertificationData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", qeAuthDataInnerCertData.ParsedDataSize, qeReportAuthDataCertDataLength-6)
	}
	qeAuthDataInnerCertData.Data = qeReportAuthDataCertData[6:endQEAuthDataInnerCertData]

	return qeAuthDataInnerCertData, nil
}
