package cmd

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-sgx-evidence/enclave"
	"github.com/edgelesssys/go-sgx-evidence/host"
	"github.com/edgelesssys/go-sgx-evidence/ocall"
	"github.com/edgelesssys/go-sgx-evidence/simulation"
	"github.com/edgelesssys/go-sgx-evidence/tdx"
	"github.com/spf13/cobra"
)

func (c *cli) newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create evidence for an info string",
		Long: `Create evidence for an info string inside a simulated enclave.

The evidence is a base64 encoded quote binding the SHA-256 hash of the info string,
or of the info string and a timestamp if --timestamp or --now is set.`,
		Args: cobra.NoArgs,
		RunE: c.runCreate,
	}
	cmd.Flags().String("info", "", "Info string bound into the evidence (required)")
	cmd.Flags().Uint64("timestamp", 0, "Unix timestamp bound into the evidence")
	cmd.Flags().Bool("now", false, "Bind the current time into the evidence")
	cmd.Flags().String("enclave", "evidence-enclave", "Name of the simulated enclave, its MRENCLAVE is the SHA-256 hash of the name")
	cmd.Flags().Bool("debug-enclave", false, "Run the simulated enclave in debug mode")
	cmd.Flags().Bool("tdx", false, "Create the evidence in this Intel TDX guest instead of the simulated platform")
	cmd.Flags().StringP("output", "o", "", "File to write the evidence to (default stdout)")
	return cmd
}

func (c *cli) runCreate(cmd *cobra.Command, _ []string) error {
	info := c.v.GetString("info")
	if info == "" {
		return errors.New("--info must be set")
	}
	timestamp := c.v.GetUint64("timestamp")
	if c.v.GetBool("now") {
		if timestamp != 0 {
			return errors.New("--timestamp and --now are mutually exclusive")
		}
		timestamp = uint64(c.clock.Now().Unix())
	}

	var hw enclave.Hardware
	var quoting host.QuotingService
	if c.v.GetBool("tdx") {
		device, err := tdx.Open(tdx.GuestDevice, c.log)
		if err != nil {
			return err
		}
		defer device.Close()
		hw, quoting = device, device
	} else {
		platform, err := c.loadPlatform()
		if err != nil {
			return err
		}
		hw = platform.NewEnclave(enclaveIdentity(c.v.GetString("enclave"), c.v.GetBool("debug-enclave")))
		quoting = platform
	}

	reg := ocall.NewRegistry(c.log)
	arena := ocall.NewArena()
	if err := host.RegisterQuoting(reg, arena, quoting); err != nil {
		return err
	}
	producer := enclave.New(hw, reg, arena, enclave.WithLogger(c.log))

	var quote string
	var err error
	if timestamp == 0 {
		quote, err = producer.CreateReportForInfo(cmd.Context(), info)
	} else {
		quote, err = producer.CreateReportForInfoAt(cmd.Context(), info, timestamp)
	}
	if err != nil {
		return fmt.Errorf("creating evidence: %w", err)
	}

	output := c.v.GetString("output")
	if output == "" {
		cmd.Println(quote)
		return nil
	}
	if err := c.fs.WriteFile(output, []byte(quote), 0o644); err != nil {
		return err
	}
	cmd.Printf("Evidence written to %s\n", output)
	if timestamp != 0 {
		cmd.Printf("Timestamp: %d\n", timestamp)
	}
	return nil
}

// enclaveIdentity returns the identity of the simulated enclave with the given name.
func enclaveIdentity(name string, debug bool) simulation.EnclaveIdentity {
	return simulation.EnclaveIdentity{
		MRENCLAVE:       sha256.Sum256([]byte(name)),
		MRSIGNER:        sha256.Sum256([]byte("evidence CLI")),
		ProductID:       1,
		SecurityVersion: 1,
		Debug:           debug,
	}
}
