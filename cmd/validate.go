package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"backupsync/internal/backup"
	"backupsync/pkg/utils"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the source and every enabled destination are ready",
	Long: `Probe the source service and every enabled destination without downloading
or writing any backup data. The result lists one probe per capability.`,
	Example: `  # Validate the configured capabilities
  backupsync validate

  # Validate against a different bucket
  backupsync validate --bucket my-other-bucket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd)
	},
}

func runValidate(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	c := commandConfig(cmd)

	if err := c.Validate(); err != nil {
		err = backup.Wrap(backup.KindFatalConfig, "config", err)
		utils.PrintError(out, backup.UserMessage(err), "validate")
		return err
	}

	logger := newLogger(cmd, c)
	destinations, err := backup.ResolveDestinations(destinationSpecs(c))
	if err != nil {
		err = backup.Wrap(backup.KindFatalConfig, "init", err)
		utils.PrintError(out, backup.UserMessage(err), "validate")
		return err
	}
	defer backup.CloseAll(destinations, logger)

	timeout, _ := cmd.Flags().GetInt("timeout")
	ctx, cancel := context.WithTimeout(commandContext(cmd), time.Duration(timeout)*time.Second)
	defer cancel()

	if isVerbose(cmd) {
		cmd.PrintErrf("Validating source and %d destinations\n", len(destinations))
	}

	report := backup.ValidationGate{Logger: logger}.Validate(ctx, newSource(c), destinations)
	if err := utils.PrintJSON(out, report); err != nil {
		utils.PrintError(out, err.Error(), "validate")
		return err
	}

	if !report.Success {
		return backup.Wrap(backup.KindFatalAuth, "validate",
			fmt.Errorf("capabilities not ready: %s", strings.Join(report.Failed(), ", ")))
	}
	return nil
}

func init() {
	validateCmd.Flags().Int("timeout", 60, "Timeout in seconds for the probes")

	validateCmd.SetUsageTemplate(usageTemplate)
}
