package notify

import (
	"context"
	"log/slog"

	"backupsync/internal/backup"
	"backupsync/internal/models"
)

// LogNotifier delivers run notifications as structured log records.
type LogNotifier struct {
	Logger *slog.Logger
}

func New(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger.With("component", "notify")}
}

func (n *LogNotifier) OnRunStart(ctx context.Context, targetCount int) {
	n.Logger.InfoContext(ctx, "backup run started", "targets", targetCount)
}

func (n *LogNotifier) OnRunComplete(ctx context.Context, downloads []models.DownloadResult, summary models.Summary) {
	attrs := []any{
		"status", summary.Status,
		"succeeded", summary.SuccessfulDownloads,
		"failed", summary.FailedDownloads,
		"files", summary.TotalFiles,
		"uploads", summary.TotalUploads,
		"duration", summary.Duration,
	}

	switch summary.Status {
	case models.StatusSuccess:
		n.Logger.InfoContext(ctx, "backup run completed", attrs...)
	case models.StatusPartial:
		attrs = append(attrs, "failed_targets", summary.FailedTargets, "failed_destinations", failedDestinations(summary))
		n.Logger.WarnContext(ctx, "backup run finished with partial completion", attrs...)
	default:
		attrs = append(attrs, "failed_targets", summary.FailedTargets)
		n.Logger.ErrorContext(ctx, "backup run completed without any successful download", attrs...)
	}
}

func (n *LogNotifier) OnRunError(ctx context.Context, err error) {
	kind, _ := backup.KindOf(err)
	n.Logger.ErrorContext(ctx, "backup run failed", "kind", kind, "error", backup.UserMessage(err))
}

func failedDestinations(summary models.Summary) []string {
	var names []string
	for _, d := range summary.Destinations {
		if !d.Succeeded {
			names = append(names, d.Name)
		}
	}
	return names
}
