package backup

import (
	"context"

	"backupsync/internal/models"
)

// SourceService resolves targets into local files.
type SourceService interface {
	DownloadTarget(ctx context.Context, target string, opts models.OutputOptions) (models.DownloadOutput, error)
	// ProbeReadiness must not fail; problems are reported as Valid=false.
	ProbeReadiness(ctx context.Context) models.Probe
}

// SyncDestination receives the whole batch of succeeded downloads once per run.
type SyncDestination interface {
	Name() string
	Kind() models.DestinationKind
	ProbeReadiness(ctx context.Context) models.Probe
	SyncBatch(ctx context.Context, downloads []models.DownloadResult) models.SyncOutcome
}

// NotificationSink is fire-and-forget. Delivery problems stay inside the sink.
type NotificationSink interface {
	OnRunStart(ctx context.Context, targetCount int)
	OnRunComplete(ctx context.Context, downloads []models.DownloadResult, summary models.Summary)
	OnRunError(ctx context.Context, err error)
}

type ReportSink interface {
	Persist(ctx context.Context, report models.Report) (string, error)
}

// DestinationSpec describes one configured destination variant. Build is only
// called for enabled specs.
type DestinationSpec struct {
	Kind    models.DestinationKind
	Enabled bool
	Build   func() (SyncDestination, error)
}
