package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"backupsync/internal/models"
)

const defaultFileName = "index.html"

type Config struct {
	OutputDir string
	UserAgent string
	// HealthURL, when set, must answer a HEAD request with a non-5xx status
	// for the source to be considered ready.
	HealthURL string
	Timeout   time.Duration
}

// HTTPSource downloads each target URL into the run's output directory.
type HTTPSource struct {
	config Config
	client *http.Client
}

func New(cfg Config) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return NewWithClient(cfg, &http.Client{Timeout: timeout})
}

func NewWithClient(cfg Config, client *http.Client) *HTTPSource {
	return &HTTPSource{config: cfg, client: client}
}

func (s *HTTPSource) DownloadTarget(ctx context.Context, target string, opts models.OutputOptions) (models.DownloadOutput, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.DownloadOutput{}, fmt.Errorf("invalid target %q: expected an http(s) URL", target)
	}

	dir := opts.Dir
	if dir == "" {
		dir = s.config.OutputDir
	}
	outputPath := filepath.Join(dir, opts.RunID)
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return models.DownloadOutput{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.DownloadOutput{}, fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return models.DownloadOutput{}, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.DownloadOutput{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	file, err := createUnique(outputPath, fileNameFor(u, resp.Header.Get("Content-Disposition")))
	if err != nil {
		return models.DownloadOutput{}, fmt.Errorf("failed to create output file: %w", err)
	}
	name := file.Name()

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(name)
		return models.DownloadOutput{}, fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(name)
		return models.DownloadOutput{}, fmt.Errorf("failed to close %s: %w", name, err)
	}

	return models.DownloadOutput{
		Files:      []string{name},
		OutputPath: outputPath,
	}, nil
}

func (s *HTTPSource) ProbeReadiness(ctx context.Context) models.Probe {
	probe := models.Probe{Name: "source"}

	if err := checkWritable(s.config.OutputDir); err != nil {
		probe.Detail = err.Error()
		return probe
	}

	if s.config.HealthURL == "" {
		probe.Valid = true
		probe.Detail = fmt.Sprintf("output directory %s is writable", s.config.OutputDir)
		return probe
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.config.HealthURL, nil)
	if err != nil {
		probe.Detail = fmt.Sprintf("invalid health url: %v", err)
		return probe
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		probe.Detail = fmt.Sprintf("health check failed: %v", err)
		return probe
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		probe.Detail = fmt.Sprintf("health check returned status %d", resp.StatusCode)
		return probe
	}
	probe.Valid = true
	probe.Detail = fmt.Sprintf("health check returned status %d", resp.StatusCode)
	return probe
}

func (s *HTTPSource) setHeaders(req *http.Request) {
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}
}

// fileNameFor prefers the Content-Disposition filename, then the last URL
// path segment.
func fileNameFor(u *url.URL, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := sanitize(params["filename"]); name != "" {
				return name
			}
		}
	}
	if name := sanitize(path.Base(u.Path)); name != "" {
		return name
	}
	return defaultFileName
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case ".", "..", "/", "":
		return ""
	}
	return name
}

// createUnique creates name inside dir, adding a numeric suffix when a file of
// that name already exists. Duplicate targets in one run never overwrite each
// other.
func createUnique(dir, name string) (*os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; i < 10000; i++ {
		file, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	return nil, fmt.Errorf("too many files named %s", name)
}

func checkWritable(dir string) error {
	if dir == "" {
		return errors.New("output directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("output directory is not usable: %w", err)
	}
	file, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	name := file.Name()
	file.Close()
	return os.Remove(name)
}
