// Package cmd implements the commands of the evidence CLI.
package cmd

import (
	"fmt"
	"strings"

	"github.com/edgelesssys/go-sgx-evidence/internal/logging"
	"github.com/edgelesssys/go-sgx-evidence/simulation"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

var globalUsage = `The evidence CLI creates and verifies SGX evidence on a simulated SGX platform.

To create a platform, create evidence for an info string, and verify it, run:

    $ evidence platform init
    $ evidence create --info "hello" -o quote.txt
    $ evidence verify quote.txt --info "hello"

Every flag can also be set through an environment variable prefixed with EVIDENCE_,
e.g. EVIDENCE_PLATFORM or EVIDENCE_ACCEPT.
`

// cli holds the state shared by all commands.
type cli struct {
	fs    afero.Afero
	v     *viper.Viper
	clock clock.PassiveClock
	log   *zap.Logger
}

// Execute starts the CLI.
func Execute() error {
	return NewRootCmd(afero.NewOsFs(), clock.RealClock{}).Execute()
}

// NewRootCmd returns the root command of the CLI operating on fs.
func NewRootCmd(fs afero.Fs, clock clock.PassiveClock) *cobra.Command {
	c := &cli{
		fs:    afero.Afero{Fs: fs},
		v:     viper.New(),
		clock: clock,
		log:   zap.NewNop(),
	}
	c.v.SetEnvPrefix("EVIDENCE")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "evidence",
		Short:         "Create and verify SGX evidence",
		Long:          globalUsage,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if c.v.GetBool("dev") {
				log, err := logging.New(true)
				if err != nil {
					return fmt.Errorf("creating logger: %w", err)
				}
				c.log = log
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().String("platform", "platform.cbor", "File holding the state of the simulated platform")
	rootCmd.PersistentFlags().Bool("dev", false, "Log in human readable form to stderr")

	rootCmd.AddCommand(c.newPlatformCmd())
	rootCmd.AddCommand(c.newCreateCmd())
	rootCmd.AddCommand(c.newVerifyCmd())
	rootCmd.AddCommand(c.newInspectCmd())
	return rootCmd
}

// loadPlatform loads the simulated platform from the file set by the platform flag.
func (c *cli) loadPlatform() (*simulation.Platform, error) {
	path := c.v.GetString("platform")
	data, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading platform state (run 'evidence platform init' first): %w", err)
	}
	platform, err := simulation.Load(data, simulation.WithClock(c.clock), simulation.WithLogger(c.log))
	if err != nil {
		return nil, fmt.Errorf("loading platform state from %s: %w", path, err)
	}
	return platform, nil
}

// savePlatform writes the state of platform to the file set by the platform flag.
func (c *cli) savePlatform(platform *simulation.Platform) error {
	data, err := platform.MarshalBinary()
	if err != nil {
		return err
	}
	return c.fs.WriteFile(c.v.GetString("platform"), data, 0o600)
}
