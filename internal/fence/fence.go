// Package fence provides a barrier against speculative execution.
//
// Buffers handed over by the untrusted host must only be read after their
// provenance was validated. Barrier ensures the processor does not
// speculatively read a buffer before the preceding check has retired.
package fence

// Barrier stops speculative execution of subsequent loads until all prior instructions completed.
func Barrier() {
	barrier()
}
