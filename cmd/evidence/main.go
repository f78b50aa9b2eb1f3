package main

import (
	"os"

	"github.com/edgelesssys/go-sgx-evidence/cmd/evidence/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
