package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"backupsync/internal/models"
)

var errNoFiles = errors.New("source returned no files")

// ProgressFunc is called once per finished target. Calls are serialized.
type ProgressFunc func(done, total int, result models.DownloadResult)

// DownloadStage runs every target against the source service. A failing
// target never stops the others.
type DownloadStage struct {
	Concurrency int
	Logger      *slog.Logger
	OnProgress  ProgressFunc
	Now         func() time.Time
}

// Run returns exactly one result per target, in target order. Targets that
// could not be started because ctx was cancelled are recorded as failed.
func (s DownloadStage) Run(ctx context.Context, targets []string, source SourceService, opts models.OutputOptions) []models.DownloadResult {
	logger := loggerOrDefault(s.Logger)
	now := clockOrDefault(s.Now)

	results := make([]models.DownloadResult, len(targets))
	launched := make([]bool, len(targets))

	var mu sync.Mutex
	done := 0

	var g errgroup.Group
	g.SetLimit(limitOf(s.Concurrency))
	for i, target := range targets {
		if ctx.Err() != nil {
			break
		}
		launched[i] = true
		i, target := i, target
		g.Go(func() error {
			var result models.DownloadResult
			if ctx.Err() != nil {
				result = notStarted(ctx, target, now())
			} else {
				result = s.download(ctx, target, source, opts, now)
			}
			results[i] = result

			if result.Succeeded {
				logger.Info("target downloaded", "target", target, "files", len(result.Files), "output", result.OutputPath)
			} else {
				logger.Warn("target failed", "target", target, "kind", KindTargetFailed, "error", result.Error)
			}

			mu.Lock()
			done++
			if s.OnProgress != nil {
				s.OnProgress(done, len(targets), result)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for i, target := range targets {
		if !launched[i] {
			results[i] = notStarted(ctx, target, now())
		}
	}
	return results
}

func (s DownloadStage) download(ctx context.Context, target string, source SourceService, opts models.OutputOptions, now func() time.Time) (result models.DownloadResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failedDownload(target, fmt.Errorf("source panicked: %v", r), now())
		}
	}()

	out, err := source.DownloadTarget(ctx, target, opts)
	if err != nil {
		return failedDownload(target, err, now())
	}
	if len(out.Files) == 0 {
		return failedDownload(target, errNoFiles, now())
	}
	return models.DownloadResult{
		Target:     target,
		Succeeded:  true,
		Files:      append([]string(nil), out.Files...),
		OutputPath: out.OutputPath,
		Timestamp:  now(),
	}
}

func failedDownload(target string, err error, at time.Time) models.DownloadResult {
	return models.DownloadResult{
		Target:    target,
		Succeeded: false,
		Error:     err.Error(),
		Timestamp: at,
	}
}

func notStarted(ctx context.Context, target string, at time.Time) models.DownloadResult {
	return failedDownload(target, fmt.Errorf("not started: %w", context.Cause(ctx)), at)
}

func limitOf(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return now
}
