package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"backupsync/config"
	"backupsync/internal/backup"
	"backupsync/internal/database"
	"backupsync/internal/logging"
	"backupsync/internal/models"
	"backupsync/internal/notify"
	"backupsync/internal/report"
	"backupsync/internal/s3client"
	"backupsync/internal/source"
	"backupsync/internal/vault"
)

type destinationBuilder func(c *config.Config) (backup.SyncDestination, error)

// Constructors for the run's capabilities. Tests replace them with fakes.
var (
	newSource = func(c *config.Config) backup.SourceService {
		return source.New(source.Config{
			OutputDir: c.OutputDir,
			UserAgent: c.UserAgent,
			HealthURL: c.SourceHealthURL,
		})
	}

	destinationBuilders = map[models.DestinationKind]destinationBuilder{
		models.KindStorage: func(c *config.Config) (backup.SyncDestination, error) {
			client, err := s3client.New(c)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		models.KindDatabase: func(c *config.Config) (backup.SyncDestination, error) {
			db, err := database.Open(c.DatabaseURL, c.DatabaseTable)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
		models.KindVault: func(c *config.Config) (backup.SyncDestination, error) {
			mirror, err := vault.Open(c.VaultDir, c.VaultFolder)
			if err != nil {
				return nil, err
			}
			return mirror, nil
		},
	}
)

func destinationSpecs(c *config.Config) []backup.DestinationSpec {
	var specs []backup.DestinationSpec
	for _, d := range c.Destinations() {
		spec := backup.DestinationSpec{Kind: d.Kind, Enabled: d.Enabled}
		if build, ok := destinationBuilders[d.Kind]; ok {
			kind := d.Kind
			spec.Build = func() (backup.SyncDestination, error) {
				if err := c.CheckDestination(kind); err != nil {
					return nil, err
				}
				return build(c)
			}
		}
		specs = append(specs, spec)
	}
	return specs
}

func enabledDestinations(c *config.Config) []models.DestinationKind {
	var kinds []models.DestinationKind
	for _, d := range c.Destinations() {
		if d.Enabled {
			kinds = append(kinds, d.Kind)
		}
	}
	return kinds
}

func newLogger(cmd *cobra.Command, c *config.Config) *slog.Logger {
	return logging.New(c.LogLevel, c.LogFormat, cmd.ErrOrStderr())
}

func newOrchestrator(c *config.Config, logger *slog.Logger) *backup.Orchestrator {
	return &backup.Orchestrator{
		Source:       newSource(c),
		Destinations: destinationSpecs(c),
		Notifier:     notify.New(logger),
		Reports:      report.NewFileSink(c.ReportDir),
		Logger:       logger,
		Options: backup.Options{
			OutputDir:           c.OutputDir,
			DownloadConcurrency: c.DownloadConcurrency,
			SyncConcurrency:     c.SyncConcurrency,
		},
		Now:         func() time.Time { return time.Now().UTC() },
		Environment: backup.RuntimeEnvironment,
	}
}
