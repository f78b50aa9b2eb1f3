package cmd

import (
	"errors"
	"fmt"

	"github.com/edgelesssys/go-sgx-evidence/attestation"
	"github.com/edgelesssys/go-sgx-evidence/simulation"
	"github.com/spf13/cobra"
)

func (c *cli) newPlatformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platform",
		Short: "Manage the simulated SGX platform",
		Long:  "Manage the simulated SGX platform",
	}
	cmd.AddCommand(c.newPlatformInitCmd())
	cmd.AddCommand(c.newPlatformOutcomeCmd())
	cmd.AddCommand(c.newPlatformRevokeCmd())
	return cmd
}

func (c *cli) newPlatformInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a simulated SGX platform",
		Long:  "Create a simulated SGX platform with fresh keys and certificates",
		Args:  cobra.NoArgs,
		RunE:  c.runPlatformInit,
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing platform")
	cmd.Flags().Duration("collateral-validity", simulation.DefaultCollateralValidity, "Time until the collateral of the platform expires")
	return cmd
}

func (c *cli) runPlatformInit(cmd *cobra.Command, _ []string) error {
	path := c.v.GetString("platform")
	exists, err := c.fs.Exists(path)
	if err != nil {
		return err
	}
	if exists && !c.v.GetBool("force") {
		return fmt.Errorf("platform %s already exists, use --force to overwrite it", path)
	}
	validity := c.v.GetDuration("collateral-validity")
	if validity <= 0 {
		return errors.New("collateral validity must be positive")
	}

	platform, err := simulation.New(simulation.WithClock(c.clock), simulation.WithLogger(c.log))
	if err != nil {
		return err
	}
	platform.SetCollateralNextUpdate(c.clock.Now().Add(validity))
	if err := c.savePlatform(platform); err != nil {
		return err
	}
	cmd.Printf("Platform written to %s\n", path)
	return nil
}

func (c *cli) newPlatformOutcomeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "outcome <outcome>",
		Short:     "Set the outcome the platform reports for valid quotes",
		Long:      "Set the outcome the platform reports for valid quotes",
		Args:      cobra.ExactArgs(1),
		ValidArgs: outcomeNames(),
		RunE:      c.runPlatformOutcome,
	}
}

func (c *cli) runPlatformOutcome(cmd *cobra.Command, args []string) error {
	outcome, err := attestation.ParseOutcome(args[0])
	if err != nil {
		return err
	}
	platform, err := c.loadPlatform()
	if err != nil {
		return err
	}
	if err := platform.SetOutcome(outcome); err != nil {
		return err
	}
	if err := c.savePlatform(platform); err != nil {
		return err
	}
	cmd.Printf("Platform now reports %s\n", outcome)
	return nil
}

func (c *cli) newPlatformRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the PCK certificate of the platform",
		Long:  "Revoke the PCK certificate of the platform. Its quotes then verify with outcome Revoked.",
		Args:  cobra.NoArgs,
		RunE:  c.runPlatformRevoke,
	}
}

func (c *cli) runPlatformRevoke(cmd *cobra.Command, _ []string) error {
	platform, err := c.loadPlatform()
	if err != nil {
		return err
	}
	if err := platform.RevokePCK(); err != nil {
		return err
	}
	if err := c.savePlatform(platform); err != nil {
		return err
	}
	cmd.Println("PCK certificate revoked")
	return nil
}

func outcomeNames() []string {
	var names []string
	for _, o := range attestation.Outcomes() {
		names = append(names, o.String())
	}
	return names
}
