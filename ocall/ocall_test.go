package ocall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegistryCall(t *testing.T) {
	someErr := errors.New("failed")

	testCases := map[string]struct {
		handler     Handler
		ctx         func() context.Context
		wantResp    []byte
		wantErr     error
		wantService bool
	}{
		"success": {
			handler: func(_ context.Context, req []byte) ([]byte, error) {
				return append([]byte("echo:"), req...), nil
			},
			wantResp: []byte("echo:request"),
		},
		"handler error": {
			handler: func(context.Context, []byte) ([]byte, error) {
				return nil, someErr
			},
			wantErr:     someErr,
			wantService: true,
		},
		"handler panics": {
			handler: func(context.Context, []byte) ([]byte, error) {
				panic("oops")
			},
			wantErr: ErrTransport,
		},
		"handler returns context error": {
			handler: func(ctx context.Context, _ []byte) ([]byte, error) {
				return nil, context.DeadlineExceeded
			},
			wantErr: ErrTransport,
		},
		"canceled context": {
			handler: func(context.Context, []byte) ([]byte, error) {
				t.Error("handler must not be called")
				return nil, nil
			},
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantErr: ErrTransport,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			reg := NewRegistry(zaptest.NewLogger(t))
			require.NoError(reg.Register(GetQuote, tc.handler))

			ctx := context.Background()
			if tc.ctx != nil {
				ctx = tc.ctx()
			}
			resp, err := reg.Call(ctx, GetQuote, []byte("request"))
			if tc.wantErr != nil {
				assert.ErrorIs(err, tc.wantErr)
				assert.Nil(resp)
				var serviceErr *ServiceError
				assert.Equal(tc.wantService, errors.As(err, &serviceErr))
				if tc.wantService {
					assert.Equal(GetQuote, serviceErr.Call)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tc.wantResp, resp)
		})
	}
}

func TestRegistryMissingHandler(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry(nil)
	_, err := reg.Call(context.Background(), VerifyQuote, nil)
	assert.ErrorIs(err, ErrTransport)
}

func TestRegistryRegister(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	handler := func(context.Context, []byte) ([]byte, error) { return nil, nil }
	reg := NewRegistry(nil)
	require.NoError(reg.Register(GetTargetInfo, handler))
	assert.Error(reg.Register(GetTargetInfo, handler))
	assert.Error(reg.Register(GetQuote, nil))

	reg.Unregister(GetTargetInfo)
	assert.NoError(reg.Register(GetTargetInfo, handler))
}

func TestRegistryCopiesRequest(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	reg := NewRegistry(nil)
	require.NoError(reg.Register(GetQuote, func(_ context.Context, req []byte) ([]byte, error) {
		req[0] = 'X'
		return nil, nil
	}))

	request := []byte("request")
	_, err := reg.Call(context.Background(), GetQuote, request)
	require.NoError(err)
	assert.Equal([]byte("request"), request)
}

func TestRegistryConcurrentUse(t *testing.T) {
	reg := NewRegistry(nil)
	handler := func(_ context.Context, req []byte) ([]byte, error) { return req, nil }

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = reg.Call(context.Background(), GetQuote, []byte{0x01})
		}()
		go func() {
			defer wg.Done()
			_ = reg.Register(GetQuote, handler)
		}()
	}
	wg.Wait()
}

func TestArena(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	arena := NewArena()
	buf := arena.Copy([]byte("host data"))
	assert.Equal(1, arena.Live())
	assert.True(arena.IsOutsideEnclave(buf))
	assert.True(arena.IsOutsideEnclave(buf[2:5]))

	enclaveBuf := []byte("host data")
	assert.False(arena.IsOutsideEnclave(enclaveBuf))
	assert.False(arena.IsOutsideEnclave(nil))

	// a slice reaching past the allocation
	assert.False(arena.IsOutsideEnclave(append(buf[:len(buf):len(buf)], 'x')))

	require.NoError(arena.Free(buf))
	assert.Equal(0, arena.Live())
	assert.False(arena.IsOutsideEnclave(buf))
	assert.Error(arena.Free(buf))
	assert.Error(arena.Free(nil))

	empty := arena.Alloc(0)
	assert.True(arena.IsOutsideEnclave(empty))
	assert.NoError(arena.Free(empty))
}

func TestGuardCopyIn(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	arena := NewArena()
	guard := Guard{Memory: arena}

	hostBuf := arena.Copy([]byte("quote"))
	out, err := guard.CopyIn(hostBuf)
	require.NoError(err)
	assert.Equal([]byte("quote"), out)
	assert.Equal(0, arena.Live())

	// out must not alias the host buffer
	hostBuf[0] = 'X'
	assert.Equal([]byte("quote"), out)
}

func TestGuardCopyInRejectsEnclaveMemory(t *testing.T) {
	assert := assert.New(t)

	mem := &stubMemory{}
	guard := Guard{Memory: mem}

	_, err := guard.CopyIn([]byte("forged"))
	assert.ErrorIs(err, ErrProvenance)
	assert.Zero(mem.freed)
}

func TestGuardCopyInFreeFails(t *testing.T) {
	assert := assert.New(t)

	guard := Guard{Memory: &stubMemory{outside: true, freeErr: errors.New("double free")}}
	_, err := guard.CopyIn([]byte("data"))
	assert.Error(err)
	assert.NotErrorIs(err, ErrProvenance)
}

func TestCallIDString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("GetTargetInfo", GetTargetInfo.String())
	assert.Equal("VerifyQuote", VerifyQuote.String())
	assert.Equal("CallID(42)", CallID(42).String())
}

type stubMemory struct {
	outside bool
	freeErr error
	freed   int
}

func (m *stubMemory) IsOutsideEnclave([]byte) bool {
	return m.outside
}

func (m *stubMemory) Free([]byte) error {
	m.freed++
	return m.freeErr
}

func TestCode(t *testing.T) {
	testCases := map[string]struct {
		err  error
		want attestation.Code
	}{
		"nil":              {err: nil, want: attestation.OK},
		"transport":        {err: fmt.Errorf("%w: no handler", ErrTransport), want: attestation.BoundaryTransportFailure},
		"context canceled": {err: context.Canceled, want: attestation.BoundaryTransportFailure},
		"provenance":       {err: fmt.Errorf("copying: %w", ErrProvenance), want: attestation.ProvenanceValidationFailure},
		"service":          {err: &ServiceError{Call: GetQuote, Err: errors.New("failed")}, want: attestation.BoundaryLogicFailure},
		"other":            {err: errors.New("malformed response"), want: attestation.BoundaryLogicFailure},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Code(tc.err))
		})
	}
}
