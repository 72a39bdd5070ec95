package backup

import (
	"os"
	"runtime"
	"time"

	"backupsync/internal/models"
)

// BuildReport assembles the persisted artifact from a finished context.
func BuildReport(ec *ExecutionContext, summary models.Summary, generatedAt time.Time, env models.Environment) models.Report {
	snap := ec.Snapshot()
	return models.Report{
		ExecutionID: snap.ID,
		StartTime:   snap.StartTime,
		EndTime:     snap.EndTime,
		Success:     snap.Success(),
		Targets:     nonNil(snap.Targets),
		Downloads:   nonNil(snap.Downloads),
		Uploads:     nonNil(snap.Uploads),
		Syncs:       nonNil(snap.Syncs),
		Errors:      nonNil(snap.Errors),
		Summary:     summary,
		GeneratedAt: generatedAt,
		Environment: env,
	}
}

func RuntimeEnvironment() models.Environment {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return models.Environment{
		Hostname:  host,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		PID:       os.Getpid(),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
