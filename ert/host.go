package ert

import (
	"github.com/edgelesssys/ego/eclient"
	"go.uber.org/zap"
)

// NewHostVerifier returns a verifier for use outside an enclave.
func NewHostVerifier(log *zap.Logger) *RemoteVerifier {
	return newRemoteVerifier(eclient.VerifyRemoteReport, log)
}
