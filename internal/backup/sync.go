package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"backupsync/internal/models"
)

var errSyncReportedFailure = errors.New("destination reported failure")

// SyncStage hands the batch of succeeded downloads to every destination.
// Destinations are isolated from one another.
type SyncStage struct {
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Run returns one result per destination in destination order, plus the
// uploads the destinations reported, flattened in the same order.
func (s SyncStage) Run(ctx context.Context, downloads []models.DownloadResult, destinations []SyncDestination) ([]models.SyncResult, []models.UploadItem) {
	logger := loggerOrDefault(s.Logger)
	now := clockOrDefault(s.Now)

	outcomes := make([]models.SyncOutcome, len(destinations))
	launched := make([]bool, len(destinations))
	stamps := make([]time.Time, len(destinations))

	var g errgroup.Group
	g.SetLimit(limitOf(s.Concurrency))
	for i, dest := range destinations {
		if ctx.Err() != nil {
			break
		}
		launched[i] = true
		i, dest := i, dest
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = models.SyncOutcome{Err: fmt.Errorf("not started: %w", context.Cause(ctx))}
			} else {
				// Each destination gets its own copy of the batch.
				outcomes[i] = syncOne(ctx, dest, models.SucceededDownloads(downloads))
			}
			stamps[i] = now()
			return nil
		})
	}
	_ = g.Wait()

	results := make([]models.SyncResult, len(destinations))
	var uploads []models.UploadItem
	for i, dest := range destinations {
		if !launched[i] {
			outcomes[i] = models.SyncOutcome{Err: fmt.Errorf("not started: %w", context.Cause(ctx))}
			stamps[i] = now()
		}
		out := outcomes[i]
		result := models.SyncResult{
			Destination: dest.Name(),
			Kind:        dest.Kind(),
			Succeeded:   out.Succeeded && out.Err == nil,
			Detail:      out.Detail,
			Timestamp:   stamps[i],
		}
		if !result.Succeeded {
			err := out.Err
			if err == nil {
				err = errSyncReportedFailure
			}
			result.Error = err.Error()
			logger.Warn("destination sync failed", "destination", result.Destination, "kind", KindDestinationFailed, "error", result.Error)
		} else {
			logger.Info("destination synced", "destination", result.Destination, "detail", result.Detail)
		}
		results[i] = result
		uploads = append(uploads, out.Uploads...)
	}
	return results, uploads
}

func syncOne(ctx context.Context, dest SyncDestination, batch []models.DownloadResult) (out models.SyncOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = models.SyncOutcome{Err: fmt.Errorf("destination panicked: %v", r)}
		}
	}()
	return dest.SyncBatch(ctx, batch)
}
