package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"backupsync/config"
	"backupsync/internal/backup"
	"backupsync/internal/models"
	"backupsync/internal/notify"
	"backupsync/pkg/utils"
)

var errNoSuccessfulDownload = errors.New("no target was downloaded successfully")

var runCmd = &cobra.Command{
	Use:   "run [targets...]",
	Short: "Run a backup of the configured targets",
	Long: `Run one backup: validate every enabled capability, download each target,
sync the succeeded downloads to every enabled destination and write a JSON report.

Targets are taken from the arguments and --target flags. When none are given,
TARGETS and TARGETS_FILE from the configuration are used.

A failing target or destination never stops the others. The command exits with
an error when validation fails or when no target could be downloaded.`,
	Example: `  # Back up the targets from the configuration
  backupsync run

  # Back up explicit targets with three parallel downloads
  backupsync run https://example.com/a.zip https://example.com/b.zip --download-concurrency 3

  # Read targets from a file
  backupsync run --targets-file targets.txt

  # Show what would run without downloading anything
  backupsync run --dry-run

  # Use a different bucket
  backupsync run --bucket my-other-bucket --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd, args)
	},
}

type runOutput struct {
	ExecutionID    string                  `json:"execution_id"`
	Status         models.RunStatus        `json:"status"`
	Success        bool                    `json:"success"`
	Summary        models.Summary          `json:"summary"`
	Validation     backup.ValidationReport `json:"validation"`
	ReportLocation string                  `json:"report_location,omitempty"`
	Errors         []string                `json:"errors"`
}

type dryRunOutput struct {
	Targets             []string                 `json:"targets"`
	Destinations        []models.DestinationKind `json:"destinations"`
	BucketName          string                   `json:"bucket_name,omitempty"`
	OutputDir           string                   `json:"output_dir"`
	ReportDir           string                   `json:"report_dir"`
	DownloadConcurrency int                      `json:"download_concurrency"`
	SyncConcurrency     int                      `json:"sync_concurrency"`
	DryRun              bool                     `json:"dry_run"`
}

func runBackup(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	c := commandConfig(cmd)
	if err := applyRunFlags(cmd, c); err != nil {
		utils.PrintError(out, err.Error(), "run")
		return err
	}

	// Destination settings are checked when the orchestrator builds them.
	if err := c.ValidateRun(); err != nil {
		err = backup.Wrap(backup.KindFatalConfig, "config", err)
		notify.New(newLogger(cmd, c)).OnRunError(commandContext(cmd), err)
		utils.PrintError(out, backup.UserMessage(err), "run")
		return err
	}

	targets, err := resolveTargets(cmd, c, args)
	if err != nil {
		utils.PrintError(out, err.Error(), "run")
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		if err := c.Validate(); err != nil {
			err = backup.Wrap(backup.KindFatalConfig, "config", err)
			utils.PrintError(out, backup.UserMessage(err), "run")
			return err
		}
		result := dryRunOutput{
			Targets:             targets,
			Destinations:        enabledDestinations(c),
			OutputDir:           c.OutputDir,
			ReportDir:           c.ReportDir,
			DownloadConcurrency: c.DownloadConcurrency,
			SyncConcurrency:     c.SyncConcurrency,
			DryRun:              true,
		}
		if c.StorageEnabled {
			result.BucketName = c.BucketName
		}
		return utils.PrintJSON(out, result)
	}

	timeout, _ := cmd.Flags().GetInt("timeout")
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	logger := newLogger(cmd, c)
	orchestrator := newOrchestrator(c, logger)
	if isVerbose(cmd) {
		orchestrator.OnProgress = func(done, total int, result models.DownloadResult) {
			status := "ok"
			if !result.Succeeded {
				status = "failed: " + result.Error
			}
			cmd.PrintErrf("[%d/%d] %s %s\n", done, total, result.Target, status)
		}
	}

	outcome, err := orchestrator.Run(ctx, targets)
	if err != nil {
		utils.PrintError(out, backup.UserMessage(err), "run")
		return err
	}

	result := runOutput{
		ExecutionID:    outcome.Context.ID,
		Status:         outcome.Summary.Status,
		Success:        outcome.Success(),
		Summary:        outcome.Summary,
		Validation:     outcome.Validation,
		ReportLocation: outcome.ReportLocation,
		Errors:         append([]string{}, outcome.Context.Errors...),
	}
	if err := utils.PrintJSON(out, result); err != nil {
		utils.PrintError(out, err.Error(), "run")
		return err
	}

	if !outcome.Success() {
		return errNoSuccessfulDownload
	}
	if isVerbose(cmd) {
		cmd.PrintErrf("Backup run %s finished with status %s\n", outcome.Context.ID, outcome.Summary.Status)
	}
	return nil
}

func applyRunFlags(cmd *cobra.Command, c *config.Config) error {
	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		c.OutputDir = dir
	}
	if dir, _ := cmd.Flags().GetString("report-dir"); dir != "" {
		c.ReportDir = dir
	}
	if cmd.Flags().Changed("download-concurrency") {
		c.DownloadConcurrency, _ = cmd.Flags().GetInt("download-concurrency")
	}
	if cmd.Flags().Changed("sync-concurrency") {
		c.SyncConcurrency, _ = cmd.Flags().GetInt("sync-concurrency")
	}
	if timeout, _ := cmd.Flags().GetInt("timeout"); timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// resolveTargets prefers targets given on the command line over the
// configured ones.
func resolveTargets(cmd *cobra.Command, c *config.Config, args []string) ([]string, error) {
	flagTargets, _ := cmd.Flags().GetStringArray("target")
	targets := append(append([]string(nil), args...), flagTargets...)

	if file, _ := cmd.Flags().GetString("targets-file"); file != "" {
		fromFile, err := config.ReadTargetsFile(file)
		if err != nil {
			return nil, err
		}
		targets = append(targets, fromFile...)
	}
	if len(targets) > 0 {
		return targets, nil
	}

	targets, err := c.LoadTargets()
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.New("no targets given; pass them as arguments or set TARGETS")
	}
	return targets, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	runCmd.Flags().StringArrayP("target", "t", nil, "Target to back up (repeatable)")
	runCmd.Flags().String("targets-file", "", "File with one target per line")
	runCmd.Flags().String("output-dir", "", "Directory for downloaded files (overrides SOURCE_OUTPUT_DIR)")
	runCmd.Flags().String("report-dir", "", "Directory for run reports (overrides REPORT_DIR)")
	runCmd.Flags().Int("download-concurrency", 1, "Number of targets downloaded in parallel")
	runCmd.Flags().Int("sync-concurrency", 1, "Number of destinations synced in parallel")
	runCmd.Flags().Bool("dry-run", false, "Show what would run without downloading anything")
	runCmd.Flags().Int("timeout", 3600, "Timeout in seconds for the whole run (default: 1 hour)")

	runCmd.SetUsageTemplate(usageTemplate)
}
