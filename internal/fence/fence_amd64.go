//go:build amd64

package fence

// lfence is implemented in fence_amd64.s.
//
//go:noescape
func lfence()

func barrier() {
	lfence()
}
