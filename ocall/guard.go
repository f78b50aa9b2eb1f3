package ocall

import (
	"fmt"

	"github.com/edgelesssys/go-sgx-evidence/internal/fence"
)

// Guard copies host buffers into enclave memory.
type Guard struct {
	Memory Memory
}

// CopyIn validates that buf is located in untrusted memory, copies it, and frees buf.
//
// A buffer failing the provenance check is neither read nor freed, and the returned error wraps [ErrProvenance].
func (g Guard) CopyIn(buf []byte) ([]byte, error) {
	if !g.Memory.IsOutsideEnclave(buf) {
		return nil, fmt.Errorf("%w: %d byte buffer", ErrProvenance, len(buf))
	}
	// The check above must retire before buf is read.
	fence.Barrier()

	out := make([]byte, len(buf))
	copy(out, buf)
	if err := g.Memory.Free(buf); err != nil {
		return nil, fmt.Errorf("freeing host buffer: %w", err)
	}
	return out, nil
}
