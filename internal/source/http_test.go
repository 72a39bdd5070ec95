package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backupsync/internal/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/notes.txt", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "backupsync-test", r.UserAgent())
		w.Write([]byte("hello notes"))
	})
	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="export-2024.csv"`)
		w.Write([]byte("a,b\n1,2\n"))
	})
	mux.HandleFunc("/evil", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="../../etc/passwd"`)
		w.Write([]byte("nope"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestDownloadTarget(t *testing.T) {
	server := newTestServer(t)
	dir := t.TempDir()
	src := New(Config{OutputDir: dir, UserAgent: "backupsync-test"})
	opts := models.OutputOptions{Dir: dir, RunID: "run-1"}

	tests := []struct {
		name     string
		path     string
		wantFile string
		wantBody string
	}{
		{"name from url path", "/files/notes.txt", "notes.txt", "hello notes"},
		{"name from content disposition", "/export", "export-2024.csv", "a,b\n1,2\n"},
		{"disposition cannot escape the output dir", "/evil", "passwd", "nope"},
		{"root path falls back to index", "/", "index.html", "<html></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := src.DownloadTarget(context.Background(), server.URL+tt.path, opts)
			require.NoError(t, err)
			require.Len(t, out.Files, 1)

			assert.Equal(t, filepath.Join(dir, "run-1"), out.OutputPath)
			assert.Equal(t, filepath.Join(dir, "run-1", tt.wantFile), out.Files[0])

			data, err := os.ReadFile(out.Files[0])
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(data))
		})
	}
}

func TestDownloadTargetDuplicatesDoNotOverwrite(t *testing.T) {
	server := newTestServer(t)
	dir := t.TempDir()
	src := New(Config{OutputDir: dir, UserAgent: "backupsync-test"})
	opts := models.OutputOptions{RunID: "run-2"}

	var wg sync.WaitGroup
	files := make([]string, 3)
	for i := range files {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := src.DownloadTarget(context.Background(), server.URL+"/files/notes.txt", opts)
			assert.NoError(t, err)
			if len(out.Files) == 1 {
				files[i] = out.Files[0]
			}
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "run-2", "notes.txt"),
		filepath.Join(dir, "run-2", "notes_1.txt"),
		filepath.Join(dir, "run-2", "notes_2.txt"),
	}, files)
}

func TestDownloadTargetErrors(t *testing.T) {
	server := newTestServer(t)
	src := New(Config{OutputDir: t.TempDir()})
	opts := models.OutputOptions{RunID: "run-3"}

	tests := []struct {
		name    string
		target  string
		wantErr string
	}{
		{"not found", server.URL + "/missing", "unexpected status code: 404"},
		{"not a url", "B", "invalid target"},
		{"unsupported scheme", "ftp://example.com/file", "invalid target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := src.DownloadTarget(context.Background(), tt.target, opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, out.Files)
		})
	}
}

func TestDownloadTargetRespectsCancellation(t *testing.T) {
	server := newTestServer(t)
	src := New(Config{OutputDir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.DownloadTarget(ctx, server.URL+"/files/notes.txt", models.OutputOptions{RunID: "run-4"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbeReadiness(t *testing.T) {
	server := newTestServer(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	tests := []struct {
		name      string
		config    Config
		wantValid bool
	}{
		{"writable dir without health url", Config{OutputDir: t.TempDir()}, true},
		{"healthy endpoint", Config{OutputDir: t.TempDir(), HealthURL: server.URL + "/healthz"}, true},
		{"unhealthy endpoint", Config{OutputDir: t.TempDir(), HealthURL: server.URL + "/broken"}, false},
		{"unreachable endpoint", Config{OutputDir: t.TempDir(), HealthURL: "http://127.0.0.1:1/healthz"}, false},
		{"output dir is a file", Config{OutputDir: blocker}, false},
		{"no output dir", Config{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := New(tt.config).ProbeReadiness(context.Background())
			assert.Equal(t, "source", probe.Name)
			assert.Equal(t, tt.wantValid, probe.Valid, probe.Detail)
			assert.NotEmpty(t, probe.Detail)
		})
	}
}

func TestFileNameFor(t *testing.T) {
	parse := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return u
	}

	assert.Equal(t, "a.zip", fileNameFor(parse("https://x.test/dl/a.zip?sig=1"), ""))
	assert.Equal(t, "index.html", fileNameFor(parse("https://x.test"), ""))
	assert.Equal(t, "r.pdf", fileNameFor(parse("https://x.test/a"), `inline; filename="r.pdf"`))
	assert.Equal(t, "a", fileNameFor(parse("https://x.test/a"), "garbage;;"))
}
