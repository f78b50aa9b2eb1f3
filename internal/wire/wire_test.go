package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestVerifyQuoteRequest(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	want := VerifyQuoteRequest{
		Quote:               []byte{0x03, 0x00, 0x02},
		ExpirationCheckDate: 1700000000,
		Nonce:               []byte("0123456789abcdef"),
		TargetInfo:          make([]byte, 512),
	}
	var got VerifyQuoteRequest
	require.NoError(got.Unmarshal(want.Marshal()))
	assert.Equal(want, got)
}

func TestVerifyQuoteResponse(t *testing.T) {
	testCases := map[string]VerifyQuoteResponse{
		"ok without proof": {
			Outcome: 0,
		},
		"expired with proof": {
			Outcome:           0xA002,
			CollateralExpired: true,
			Supplemental:      []byte{0x01},
			QvEReport:         []byte{0x02, 0x03},
		},
	}

	for name, want := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			var got VerifyQuoteResponse
			require.NoError(got.Unmarshal(want.Marshal()))
			assert.Equal(want, got)
		})
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	b := protowire.AppendTag(nil, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = append(b, (&QuoteResponse{Quote: []byte("quote")}).Marshal()...)
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("ignored"))

	var got QuoteResponse
	require.NoError(got.Unmarshal(b))
	assert.Equal([]byte("quote"), got.Quote)
}

func TestUnmarshalErrors(t *testing.T) {
	wrongType := protowire.AppendTag(nil, 1, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 1)

	truncated := (&QuoteRequest{Report: []byte("report")}).Marshal()
	truncated = truncated[:len(truncated)-2]

	overflow := protowire.AppendTag(nil, 1, protowire.VarintType)
	overflow = protowire.AppendVarint(overflow, 1<<33)

	testCases := map[string]struct {
		msg interface{ Unmarshal([]byte) error }
		raw []byte
	}{
		"wrong wire type":  {msg: &QuoteRequest{}, raw: wrongType},
		"truncated bytes":  {msg: &QuoteRequest{}, raw: truncated},
		"broken tag":       {msg: &TargetInfoResponse{}, raw: []byte{0xFF}},
		"outcome overflow": {msg: &VerifyQuoteResponse{}, raw: overflow},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, tc.msg.Unmarshal(tc.raw))
		})
	}
}

func FuzzVerifyQuoteResponse(f *testing.F) {
	f.Add((&VerifyQuoteResponse{Outcome: 0xA001, QvEReport: []byte{0x01}}).Marshal())
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		var resp VerifyQuoteResponse
		assert.NotPanics(func() { _ = resp.Unmarshal(a) })
	})
}
