package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/enclave"
	"github.com/edgelesssys/go-sgx-evidence/ert"
	"github.com/edgelesssys/go-sgx-evidence/host"
	"github.com/edgelesssys/go-sgx-evidence/ocall"
	"github.com/edgelesssys/go-sgx-evidence/verification"
	"github.com/spf13/cobra"
)

func (c *cli) newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <evidence-file>",
		Short: "Verify evidence created for an info string",
		Long: `Verify evidence created for an info string.

On success, the code identity (MRENCLAVE) of the enclave that created the evidence is printed.
With --trusted, verification runs inside a simulated enclave, which demands a proof of the
result from the Quote Verification Enclave of the platform.`,
		Args: cobra.ExactArgs(1),
		RunE: c.runVerify,
	}
	cmd.Flags().String("info", "", "Info string the evidence must bind (required)")
	cmd.Flags().Uint64("timestamp", 0, "Unix timestamp the evidence must bind")
	cmd.Flags().Duration("validity", 5*time.Minute, "Maximum age of timestamped evidence")
	cmd.Flags().StringSlice("accept", []string{attestation.Ok.String()}, "Accepted verification outcomes, one of: "+strings.Join(outcomeNames(), ", "))
	cmd.Flags().Bool("trusted", false, "Verify inside a simulated enclave")
	cmd.Flags().Bool("ert", false, "Verify using the Open Enclave verification library instead of the simulated platform")
	return cmd
}

func (c *cli) runVerify(cmd *cobra.Command, args []string) error {
	info := c.v.GetString("info")
	if info == "" {
		return errors.New("--info must be set")
	}
	accepted, err := parseOutcomes(c.v.GetStringSlice("accept"))
	if err != nil {
		return err
	}
	evidence, err := c.fs.ReadFile(args[0])
	if err != nil {
		return err
	}
	quote := strings.TrimSpace(string(evidence))

	verifier, err := c.newVerifier(c.v.GetBool("trusted"), c.v.GetBool("ert"))
	if err != nil {
		return err
	}
	verifier.SetAcceptableResults(accepted...)

	var identity attestation.CodeIdentity
	if timestamp := c.v.GetUint64("timestamp"); timestamp != 0 {
		identity, err = verifier.VerifyReportForInfoAt(cmd.Context(), info, timestamp, c.v.GetDuration("validity"), quote)
	} else {
		identity, err = verifier.VerifyReportForInfo(cmd.Context(), info, quote)
	}
	if err != nil {
		return fmt.Errorf("verification failed with %s: %w", attestation.CodeOf(err), err)
	}
	cmd.Printf("Code identity: %s\n", identity)
	return nil
}

// newVerifier returns a verifier using the verification service of the simulated platform,
// or of the Open Enclave verification library if useERT is set.
// A trusted verifier runs in a simulated enclave and calls the service through the enclave boundary.
func (c *cli) newVerifier(trusted, useERT bool) (*verification.Verifier, error) {
	opts := []verification.Option{verification.WithClock(c.clock), verification.WithLogger(c.log)}
	if useERT {
		if trusted {
			return nil, errors.New("--trusted and --ert are mutually exclusive")
		}
		return verification.NewUntrusted(ert.NewHostVerifier(c.log), opts...), nil
	}

	platform, err := c.loadPlatform()
	if err != nil {
		return nil, err
	}
	if !trusted {
		return verification.NewUntrusted(platform, opts...), nil
	}

	reg := ocall.NewRegistry(c.log)
	arena := ocall.NewArena()
	if err := host.RegisterVerification(reg, arena, platform); err != nil {
		return nil, err
	}
	verifierEnclave := platform.NewEnclave(enclaveIdentity("evidence-verifier", false))
	client := enclave.NewVerificationClient(reg, arena, c.log)
	prover := verification.NewQvEProver(verifierEnclave, platform.QvEIdentity())
	return verification.NewTrusted(client, prover, opts...), nil
}

// parseOutcomes parses outcome names. Elements may hold several comma separated names.
func parseOutcomes(names []string) ([]attestation.Outcome, error) {
	var outcomes []attestation.Outcome
	for _, name := range names {
		for _, n := range strings.Split(name, ",") {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			o, err := attestation.ParseOutcome(n)
			if err != nil {
				return nil, err
			}
			outcomes = append(outcomes, o)
		}
	}
	return outcomes, nil
}
