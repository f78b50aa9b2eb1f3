// Package tdx creates quotes inside an Intel TDX guest using the TDX guest device.
//
// A [Device] creates TD reports like an enclave creates local reports and converts them
// into quotes through the Quote Generation Service (QGS) of the host. It implements both
// [github.com/edgelesssys/go-sgx-evidence/enclave.Hardware] and
// [github.com/edgelesssys/go-sgx-evidence/host.QuotingService].
package tdx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"github.com/vtolstov/go-ioctl"
	"go.uber.org/zap"
)

const (
	// GuestDevice is the path to the TDX guest device.
	GuestDevice = "/dev/tdx_guest"

	// TDReportSize is the size of a TD report (TDREPORT_STRUCT).
	TDReportSize = 1024

	// requestBufferSize is the size of the quote request buffer.
	// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/71557c7d1d869b6bd6f95566c051cbd098549509/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L103
	requestBufferSize = 4 * 4 * 1024
	// quoteHeaderSize is the size of the header of the quote request buffer.
	quoteHeaderSize = 24
	// qgsMessageSizePrefix is the size of the big endian message size preceding a QGS message.
	qgsMessageSizePrefix = 4
	// qgsHeaderSize is the size of a QGS message header.
	qgsHeaderSize = 16
	// getQuoteSuccess is the status of a successfully answered quote request.
	getQuoteSuccess = 0
)

// QGS message types: https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/09666b3b14147145232ea4f28d85762ca5da3c5d/QuoteGeneration/quote_wrapper/qgs_msg_lib/inc/qgs_msg_lib.h#L63-L69
const (
	qgsGetQuoteRequestType = iota
	qgsGetQuoteResponseType
)

// IOCTL calls for report and quote generation
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L53-L56
var (
	requestReport = ioctl.IOWR('T', 0x01, unsafe.Sizeof(reportRequest{}))
	requestQuote  = ioctl.IOR('T', 0x04, unsafe.Sizeof(quoteRequest{}))
)

// device is a handle to the TDX guest device.
type device interface {
	Fd() uintptr
}

type ioctlFunc func(fd, request uintptr, arg unsafe.Pointer) error

// Device creates TD reports and quotes.
type Device struct {
	tdx   device
	ioctl ioctlFunc
	log   *zap.Logger
}

// Open opens the TDX guest device at path.
func Open(path string, log *zap.Logger) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening TDX guest device: %w", err)
	}
	return New(f, log), nil
}

// New returns a Device using the already opened TDX guest device tdx.
func New(tdx device, log *zap.Logger) *Device {
	if log == nil {
		log = zap.NewNop()
	}
	return &Device{tdx: tdx, ioctl: sysIoctl, log: log}
}

// Close closes the TDX guest device if it supports closing.
func (d *Device) Close() error {
	if c, ok := d.tdx.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Report returns a TD report binding data.
// TD reports are not targeted, so targetInfo is ignored.
func (d *Device) Report(_ []byte, data attestation.UserData) ([]byte, error) {
	req := reportRequest{reportData: data}
	if err := d.ioctl(d.tdx.Fd(), requestReport, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("creating TD report: %w", err)
	}
	return req.tdReport[:], nil
}

// TargetInfo returns zeroed target info, as the Quoting Enclave of the host accepts untargeted TD reports.
func (d *Device) TargetInfo(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return make([]byte, types.TargetInfoSize), nil
}

// Quote converts a TD report into a quote using the Quote Generation Service of the host.
func (d *Device) Quote(ctx context.Context, report []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(report) != TDReportSize {
		return nil, fmt.Errorf("TD report must be %d bytes, got %d", TDReportSize, len(report))
	}

	buf, err := encodeQuoteRequest([TDReportSize]byte(report))
	if err != nil {
		return nil, err
	}
	req := quoteRequest{buf: unsafe.Pointer(&buf[0]), length: uint64(len(buf))}
	if err := d.ioctl(d.tdx.Fd(), requestQuote, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("generating quote: %w", err)
	}

	quote, err := decodeQuoteResponse(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding quote response: %w", err)
	}
	d.log.Debug("Generated TDX quote", zap.Int("size", len(quote)))
	return quote, nil
}

// encodeQuoteRequest returns the quote request buffer passed to the TDX guest device.
// It holds a header followed by the big endian size of a QGS get quote request and the request itself.
func encodeQuoteRequest(tdReport [TDReportSize]byte) ([]byte, error) {
	msgSize := qgsHeaderSize + 8 + TDReportSize
	if quoteHeaderSize+qgsMessageSizePrefix+msgSize > requestBufferSize {
		return nil, errors.New("quote request exceeds buffer size")
	}

	buf := make([]byte, requestBufferSize)
	binary.LittleEndian.PutUint64(buf[0:8], 1) // version
	binary.LittleEndian.PutUint64(buf[8:16], 0)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(qgsMessageSizePrefix+msgSize))
	binary.LittleEndian.PutUint32(buf[20:24], 0)

	data := buf[quoteHeaderSize:]
	binary.BigEndian.PutUint32(data[0:4], uint32(msgSize))
	msg := data[qgsMessageSizePrefix:]
	binary.LittleEndian.PutUint16(msg[0:2], 1) // major version
	binary.LittleEndian.PutUint16(msg[2:4], 0) // minor version
	binary.LittleEndian.PutUint32(msg[4:8], qgsGetQuoteRequestType)
	binary.LittleEndian.PutUint32(msg[8:12], uint32(msgSize))
	binary.LittleEndian.PutUint32(msg[12:16], 0) // error code
	binary.LittleEndian.PutUint32(msg[16:20], TDReportSize)
	binary.LittleEndian.PutUint32(msg[20:24], 0) // ID list size
	copy(msg[24:], tdReport[:])
	return buf, nil
}

// decodeQuoteResponse extracts the quote from a quote request buffer answered by the host.
func decodeQuoteResponse(buf []byte) ([]byte, error) {
	if len(buf) < quoteHeaderSize {
		return nil, fmt.Errorf("buffer is too short (received: %d bytes)", len(buf))
	}
	if status := binary.LittleEndian.Uint64(buf[8:16]); status != getQuoteSuccess {
		return nil, fmt.Errorf("quote request failed with status %#x", status)
	}
	outLen := binary.LittleEndian.Uint32(buf[20:24])
	data := buf[quoteHeaderSize:]
	if outLen < qgsMessageSizePrefix || uint64(outLen) > uint64(len(data)) {
		return nil, fmt.Errorf("invalid response size %d", outLen)
	}
	data = data[:outLen]

	msgSize := binary.BigEndian.Uint32(data[0:4])
	msg := data[qgsMessageSizePrefix:]
	if uint64(msgSize) > uint64(len(msg)) || msgSize < qgsHeaderSize+8 {
		return nil, fmt.Errorf("invalid QGS message size %d", msgSize)
	}
	msg = msg[:msgSize]

	if major := binary.LittleEndian.Uint16(msg[0:2]); major != 1 {
		return nil, fmt.Errorf("unsupported QGS message version %d", major)
	}
	if msgType := binary.LittleEndian.Uint32(msg[4:8]); msgType != qgsGetQuoteResponseType {
		return nil, fmt.Errorf("unexpected QGS message type %d", msgType)
	}
	if size := binary.LittleEndian.Uint32(msg[8:12]); size != msgSize {
		return nil, fmt.Errorf("QGS message size %d does not match announced size %d", size, msgSize)
	}
	if errorCode := binary.LittleEndian.Uint32(msg[12:16]); errorCode != 0 {
		return nil, fmt.Errorf("QGS returned error code %#x", errorCode)
	}

	selectedIDSize := uint64(binary.LittleEndian.Uint32(msg[16:20]))
	quoteSize := uint64(binary.LittleEndian.Uint32(msg[20:24]))
	idAndQuote := msg[24:]
	if selectedIDSize+quoteSize != uint64(len(idAndQuote)) {
		return nil, fmt.Errorf("QGS response holds %d bytes, expected %d", len(idAndQuote), selectedIDSize+quoteSize)
	}
	if quoteSize == 0 {
		return nil, errors.New("QGS returned an empty quote")
	}
	return append([]byte{}, idAndQuote[selectedIDSize:]...), nil
}

// reportRequest is the structure used to create TD reports (struct tdx_report_req).
type reportRequest struct {
	reportData [64]byte
	tdReport   [TDReportSize]byte
}

// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L82-L86
type quoteRequest struct {
	buf    unsafe.Pointer
	length uint64
}
