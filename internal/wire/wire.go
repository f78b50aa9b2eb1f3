// Package wire encodes the messages exchanged over the enclave boundary.
//
// Messages use the protobuf wire format. Unknown fields are skipped, so both
// sides can be extended independently.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// TargetInfoResponse carries the target info of the quoting enclave.
type TargetInfoResponse struct {
	TargetInfo []byte // 1
}

// QuoteRequest asks the quoting service to convert a local report into a quote.
type QuoteRequest struct {
	Report []byte // 1
}

// QuoteResponse carries the quote produced by the quoting service.
type QuoteResponse struct {
	Quote []byte // 1
}

// VerifyQuoteRequest asks the verification service to verify a quote.
type VerifyQuoteRequest struct {
	Quote               []byte // 1
	ExpirationCheckDate int64  // 2, Unix seconds
	Nonce               []byte // 3
	TargetInfo          []byte // 4
}

// VerifyQuoteResponse carries the verification result of a quote.
type VerifyQuoteResponse struct {
	Outcome           uint32 // 1
	CollateralExpired bool   // 2
	Supplemental      []byte // 3
	QvEReport         []byte // 4
}

// Marshal encodes the message.
func (m *TargetInfoResponse) Marshal() []byte {
	return appendBytes(nil, 1, m.TargetInfo)
}

// Unmarshal decodes the message.
func (m *TargetInfoResponse) Unmarshal(b []byte) error {
	*m = TargetInfoResponse{}
	return decode(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBytes(typ, b, &m.TargetInfo)
		}
		return skip(num, typ, b)
	})
}

// Marshal encodes the message.
func (m *QuoteRequest) Marshal() []byte {
	return appendBytes(nil, 1, m.Report)
}

// Unmarshal decodes the message.
func (m *QuoteRequest) Unmarshal(b []byte) error {
	*m = QuoteRequest{}
	return decode(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBytes(typ, b, &m.Report)
		}
		return skip(num, typ, b)
	})
}

// Marshal encodes the message.
func (m *QuoteResponse) Marshal() []byte {
	return appendBytes(nil, 1, m.Quote)
}

// Unmarshal decodes the message.
func (m *QuoteResponse) Unmarshal(b []byte) error {
	*m = QuoteResponse{}
	return decode(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBytes(typ, b, &m.Quote)
		}
		return skip(num, typ, b)
	})
}

// Marshal encodes the message.
func (m *VerifyQuoteRequest) Marshal() []byte {
	b := appendBytes(nil, 1, m.Quote)
	b = appendVarint(b, 2, uint64(m.ExpirationCheckDate))
	b = appendBytes(b, 3, m.Nonce)
	return appendBytes(b, 4, m.TargetInfo)
}

// Unmarshal decodes the message.
func (m *VerifyQuoteRequest) Unmarshal(b []byte) error {
	*m = VerifyQuoteRequest{}
	return decode(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(typ, b, &m.Quote)
		case 2:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			m.ExpirationCheckDate = int64(v)
			return n, err
		case 3:
			return consumeBytes(typ, b, &m.Nonce)
		case 4:
			return consumeBytes(typ, b, &m.TargetInfo)
		}
		return skip(num, typ, b)
	})
}

// Marshal encodes the message.
func (m *VerifyQuoteResponse) Marshal() []byte {
	b := appendVarint(nil, 1, uint64(m.Outcome))
	b = appendVarint(b, 2, protowire.EncodeBool(m.CollateralExpired))
	b = appendBytes(b, 3, m.Supplemental)
	return appendBytes(b, 4, m.QvEReport)
}

// Unmarshal decodes the message.
func (m *VerifyQuoteResponse) Unmarshal(b []byte) error {
	*m = VerifyQuoteResponse{}
	return decode(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			if err == nil && v > 0xFFFFFFFF {
				return 0, fmt.Errorf("field %d: value %d overflows uint32", num, v)
			}
			m.Outcome = uint32(v)
			return n, err
		case 2:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			m.CollateralExpired = protowire.DecodeBool(v)
			return n, err
		case 3:
			return consumeBytes(typ, b, &m.Supplemental)
		case 4:
			return consumeBytes(typ, b, &m.QvEReport)
		}
		return skip(num, typ, b)
	})
}

// appendBytes appends a length-delimited field. Empty values are omitted.
func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendVarint appends a varint field. Zero values are omitted.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func decode(b []byte, field fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decoding tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, errors.New("unexpected wire type for bytes field")
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, fmt.Errorf("decoding bytes field: %w", protowire.ParseError(n))
	}
	*dst = append([]byte(nil), v...)
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, errors.New("unexpected wire type for varint field")
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("decoding varint field: %w", protowire.ParseError(n))
	}
	*dst = v
	return n, nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(n))
	}
	return n, nil
}
