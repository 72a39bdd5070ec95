package models

import "time"

// OutputOptions tells the source service where a run's files belong.
type OutputOptions struct {
	Dir   string `json:"dir"`
	RunID string `json:"run_id"`
}

// DownloadOutput is what the source service produced for a single target.
type DownloadOutput struct {
	Files      []string `json:"files"`
	OutputPath string   `json:"output_path"`
}

// DownloadResult records the outcome of one target. Exactly one of Files or
// Error is populated.
type DownloadResult struct {
	Target     string    `json:"target"`
	Succeeded  bool      `json:"succeeded"`
	Files      []string  `json:"files,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (r DownloadResult) Clone() DownloadResult {
	if r.Files != nil {
		r.Files = append([]string(nil), r.Files...)
	}
	return r
}

// SucceededDownloads returns copies of the succeeded results, in order. The
// returned slice is never nil.
func SucceededDownloads(results []DownloadResult) []DownloadResult {
	out := make([]DownloadResult, 0, len(results))
	for _, r := range results {
		if r.Succeeded {
			out = append(out, r.Clone())
		}
	}
	return out
}
