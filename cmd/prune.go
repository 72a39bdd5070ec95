package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"backupsync/config"
	"backupsync/internal/models"
	"backupsync/internal/s3client"
	"backupsync/pkg/utils"
)

type pruner interface {
	DeleteOldFiles(ctx context.Context, folder string, daysOld int, dryRun bool) (*models.DeleteResult, error)
}

var newPruner = func(c *config.Config) (pruner, error) {
	return s3client.New(c)
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored backups older than specified days",
	Long: `Delete backups in the storage bucket that are older than the specified number of days.

The command will:
- List all objects under the folder (STORAGE_PREFIX unless --folder is given)
- Filter objects older than the cutoff date
- Delete matching objects in batches
- Return detailed information about the deletion operation

WARNING: This operation is irreversible. Deleted backups cannot be recovered.`,
	Example: `  # Delete backups older than 30 days under the configured prefix
  backupsync prune --days 30

  # Delete backups older than 7 days from a specific folder
  backupsync prune --days 7 --folder "nightly/2025"

  # Show what would be deleted
  backupsync prune --days 30 --dry-run

  # Skip the confirmation prompt and use a different bucket
  backupsync prune --days 30 --confirm --bucket my-other-bucket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrune(cmd)
	},
}

func runPrune(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	c := commandConfig(cmd)

	days, _ := cmd.Flags().GetInt("days")
	folder, _ := cmd.Flags().GetString("folder")
	confirm, _ := cmd.Flags().GetBool("confirm")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if days <= 0 {
		err := fmt.Errorf("days must be greater than 0")
		utils.PrintError(out, err.Error(), "prune")
		return err
	}
	if !cmd.Flags().Changed("folder") {
		folder = c.StoragePrefix
	}

	if !confirm && !dryRun {
		cutoffDate := time.Now().AddDate(0, 0, -days)

		cmd.Printf("WARNING: This will permanently delete backups older than %d days (%s) from bucket '%s'",
			days, cutoffDate.Format("2006-01-02"), c.BucketName)
		if folder != "" {
			cmd.Printf(" in folder '%s'", folder)
		}
		cmd.Println()
		cmd.Print("Are you sure? (yes/no): ")

		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "yes" && response != "y" && response != "YES" {
			cmd.Println("Operation cancelled.")
			return nil
		}
	}

	client, err := newPruner(c)
	if err != nil {
		utils.PrintError(out, err.Error(), "prune")
		return err
	}

	timeout, _ := cmd.Flags().GetInt("timeout")
	ctx, cancel := context.WithTimeout(commandContext(cmd), time.Duration(timeout)*time.Second)
	defer cancel()

	if isVerbose(cmd) {
		cmd.PrintErrf("Deleting backups older than %d days from bucket: %s\n", days, c.BucketName)
		if folder != "" {
			cmd.PrintErrf("Folder: %s\n", folder)
		}
		if dryRun {
			cmd.PrintErrln("DRY RUN MODE: No files will actually be deleted")
		}
	}

	result, err := client.DeleteOldFiles(ctx, folder, days, dryRun)
	if err != nil {
		utils.PrintError(out, err.Error(), "prune")
		return err
	}

	if err := utils.PrintJSON(out, result); err != nil {
		utils.PrintError(out, err.Error(), "prune")
		return err
	}

	if isVerbose(cmd) {
		cmd.PrintErrln("Prune operation completed successfully")
	}
	return nil
}

func init() {
	pruneCmd.Flags().IntP("days", "d", 0, "Delete backups older than this many days (required)")
	_ = pruneCmd.MarkFlagRequired("days")

	pruneCmd.Flags().StringP("folder", "f", "", "Folder/prefix to search in (defaults to STORAGE_PREFIX)")
	pruneCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")
	pruneCmd.Flags().Bool("dry-run", false, "Show what would be deleted without actually deleting")
	pruneCmd.Flags().Int("timeout", 1800, "Timeout in seconds for the operation (default: 30 minutes)")

	pruneCmd.SetUsageTemplate(usageTemplate)
}
