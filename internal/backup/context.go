package backup

import (
	"time"

	"github.com/google/uuid"

	"backupsync/internal/models"
)

// ExecutionContext tracks identity, timing and accumulated results of one run.
// The Orchestrator owns it for the run's lifetime; once sealed it no longer
// accepts results.
type ExecutionContext struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Targets   []string
	Downloads []models.DownloadResult
	Uploads   []models.UploadItem
	Syncs     []models.SyncResult
	Errors    []string

	sealed bool
}

func NewExecutionContext(targets []string, start time.Time) *ExecutionContext {
	return &ExecutionContext{
		ID:        uuid.NewString(),
		StartTime: start,
		Targets:   append([]string(nil), targets...),
	}
}

// Success is true when at least one target downloaded, regardless of how the
// destinations fared.
func (ec *ExecutionContext) Success() bool {
	for _, d := range ec.Downloads {
		if d.Succeeded {
			return true
		}
	}
	return false
}

func (ec *ExecutionContext) Sealed() bool {
	return ec.sealed
}

func (ec *ExecutionContext) recordDownloads(results []models.DownloadResult) {
	if ec.sealed {
		return
	}
	ec.Downloads = append(ec.Downloads, results...)
}

func (ec *ExecutionContext) recordSyncs(results []models.SyncResult, uploads []models.UploadItem) {
	if ec.sealed {
		return
	}
	ec.Syncs = append(ec.Syncs, results...)
	ec.Uploads = append(ec.Uploads, uploads...)
}

func (ec *ExecutionContext) recordError(err error) {
	if ec.sealed || err == nil {
		return
	}
	ec.Errors = append(ec.Errors, err.Error())
}

func (ec *ExecutionContext) finish(end time.Time) {
	if ec.sealed || !ec.EndTime.IsZero() {
		return
	}
	ec.EndTime = end
}

func (ec *ExecutionContext) seal() {
	ec.sealed = true
}

// Snapshot returns a deep copy that shares no slices with ec.
func (ec *ExecutionContext) Snapshot() ExecutionContext {
	out := ExecutionContext{
		ID:        ec.ID,
		StartTime: ec.StartTime,
		EndTime:   ec.EndTime,
		Targets:   append([]string(nil), ec.Targets...),
		Uploads:   append([]models.UploadItem(nil), ec.Uploads...),
		Syncs:     append([]models.SyncResult(nil), ec.Syncs...),
		Errors:    append([]string(nil), ec.Errors...),
		sealed:    ec.sealed,
	}
	if ec.Downloads != nil {
		out.Downloads = make([]models.DownloadResult, len(ec.Downloads))
		for i, d := range ec.Downloads {
			out.Downloads[i] = d.Clone()
		}
	}
	return out
}
