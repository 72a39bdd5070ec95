package models

import "time"

type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusPartial RunStatus = "partial"
	StatusFailed  RunStatus = "failed"
)

type DestinationSummary struct {
	Name      string          `json:"name"`
	Kind      DestinationKind `json:"kind"`
	Succeeded bool            `json:"succeeded"`
	Detail    string          `json:"detail"`
	Error     string          `json:"error,omitempty"`
}

// Summary is derived once from a finished run and never mutated afterwards.
type Summary struct {
	TotalTargets        int                  `json:"total_targets"`
	SuccessfulDownloads int                  `json:"successful_downloads"`
	FailedDownloads     int                  `json:"failed_downloads"`
	TotalFiles          int                  `json:"total_files"`
	TotalUploads        int                  `json:"total_uploads"`
	FailedTargets       []string             `json:"failed_targets"`
	Destinations        []DestinationSummary `json:"destinations"`
	Duration            string               `json:"duration"`
	Status              RunStatus            `json:"status"`
}

type Environment struct {
	Hostname  string `json:"hostname"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
	PID       int    `json:"pid"`
}

// Report is the persisted artifact of one run.
type Report struct {
	ExecutionID string           `json:"execution_id"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     time.Time        `json:"end_time"`
	Success     bool             `json:"success"`
	Targets     []string         `json:"targets"`
	Downloads   []DownloadResult `json:"downloads"`
	Uploads     []UploadItem     `json:"uploads"`
	Syncs       []SyncResult     `json:"syncs"`
	Errors      []string         `json:"errors"`
	Summary     Summary          `json:"summary"`
	GeneratedAt time.Time        `json:"generated_at"`
	Environment Environment      `json:"environment"`
}
