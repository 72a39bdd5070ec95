package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backupsync/config"
	"backupsync/internal/backup"
	"backupsync/internal/models"
	"backupsync/internal/report"
)

// resetFlags puts every flag back to its default so commands can be executed
// repeatedly within one test binary.
func resetFlags(cmds ...*cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	for _, c := range cmds {
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
	}
}

func executeCommand(t *testing.T, c *config.Config, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd, runCmd, validateCmd, pruneCmd)
	cfg = c

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		OutputDir:           filepath.Join(root, "downloads"),
		ReportDir:           filepath.Join(root, "reports"),
		VaultEnabled:        true,
		VaultDir:            filepath.Join(root, "vault"),
		VaultFolder:         "Backups",
		DatabaseTable:       "backup_records",
		StoragePrefix:       "nightly",
		DownloadConcurrency: 1,
		SyncConcurrency:     1,
		LogLevel:            "error",
		LogFormat:           "text",
	}
}

func newTargetServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("alpha"))
	})
	mux.HandleFunc("/c.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("gamma"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func decodeRunOutput(t *testing.T, stdout string) runOutput {
	t.Helper()
	var out runOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out), stdout)
	return out
}

func TestRunPartialFailure(t *testing.T) {
	server := newTargetServer(t)
	c := testConfig(t)

	stdout, _, err := executeCommand(t, c, "", "run", server.URL+"/a.txt", server.URL+"/missing", server.URL+"/c.txt")
	require.NoError(t, err)

	out := decodeRunOutput(t, stdout)
	assert.True(t, out.Success)
	assert.Equal(t, models.StatusPartial, out.Status)
	assert.Equal(t, 3, out.Summary.TotalTargets)
	assert.Equal(t, 2, out.Summary.SuccessfulDownloads)
	assert.Equal(t, []string{server.URL + "/missing"}, out.Summary.FailedTargets)
	require.Len(t, out.Summary.Destinations, 1)
	assert.True(t, out.Summary.Destinations[0].Succeeded)

	saved, err := report.Load(out.ReportLocation)
	require.NoError(t, err)
	assert.Equal(t, out.ExecutionID, saved.ExecutionID)
	require.Len(t, saved.Downloads, 3)
	assert.Equal(t, server.URL+"/a.txt", saved.Downloads[0].Target)
	assert.Equal(t, server.URL+"/c.txt", saved.Downloads[2].Target)

	runs, err := os.ReadDir(filepath.Join(c.VaultDir, "Backups"))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	notes, err := os.ReadDir(filepath.Join(c.VaultDir, "Backups", runs[0].Name()))
	require.NoError(t, err)
	assert.Len(t, notes, 3, "two notes and the index")
}

func TestRunAllTargetsFailed(t *testing.T) {
	server := newTargetServer(t)
	c := testConfig(t)

	stdout, _, err := executeCommand(t, c, "", "run", "--target", server.URL+"/missing")
	assert.ErrorIs(t, err, errNoSuccessfulDownload)

	out := decodeRunOutput(t, stdout)
	assert.False(t, out.Success)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Equal(t, 1, out.Summary.FailedDownloads)
	assert.FileExists(t, out.ReportLocation)
}

func TestRunValidationFailureIsFatal(t *testing.T) {
	server := newTargetServer(t)
	c := testConfig(t)
	require.NoError(t, os.MkdirAll(c.VaultDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.VaultDir, "Backups"), []byte("not a folder"), 0o644))

	stdout, _, err := executeCommand(t, c, "", "run", server.URL+"/a.txt")
	require.Error(t, err)
	kind, ok := backup.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, backup.KindFatalAuth, kind)
	assert.Contains(t, stdout, "Validation failed")

	_, statErr := os.Stat(c.ReportDir)
	assert.True(t, os.IsNotExist(statErr), "fatal runs must not write a report")
	_, statErr = os.Stat(c.OutputDir)
	assert.NoError(t, statErr, "the source probe creates the output directory")
	entries, _ := os.ReadDir(c.OutputDir)
	assert.Empty(t, entries, "nothing may be downloaded")
}

func TestRunInvalidConfiguration(t *testing.T) {
	c := testConfig(t)
	c.StorageEnabled = true

	stdout, _, err := executeCommand(t, c, "", "run", "https://example.com/a")
	require.Error(t, err)
	assert.True(t, backup.IsFatal(err))
	kind, _ := backup.KindOf(err)
	assert.Equal(t, backup.KindFatalConfig, kind)
	assert.Contains(t, stdout, "ACCESS_KEY")
}

// notifierLine returns the log record written by the run notifier.
func notifierLine(t *testing.T, stderr string) string {
	t.Helper()
	for _, line := range strings.Split(stderr, "\n") {
		if strings.Contains(line, "component=notify") {
			return line
		}
	}
	t.Fatalf("no notifier record in stderr:\n%s", stderr)
	return ""
}

func TestRunMissingDestinationSettingsNotifies(t *testing.T) {
	c := testConfig(t)
	c.DatabaseEnabled = true
	c.DatabaseURL = ""

	stdout, stderr, err := executeCommand(t, c, "", "run", "https://example.com/a")
	require.Error(t, err)
	kind, ok := backup.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, backup.KindFatalConfig, kind)
	assert.Contains(t, stdout, "DB_URL")

	line := notifierLine(t, stderr)
	assert.Contains(t, line, "backup run failed")
	assert.Contains(t, line, "fatal_config")
	assert.Contains(t, line, "DB_URL")

	_, statErr := os.Stat(c.ReportDir)
	assert.True(t, os.IsNotExist(statErr), "fatal runs must not write a report")
}

func TestRunInvalidRunSettingsNotifies(t *testing.T) {
	c := testConfig(t)
	c.DownloadConcurrency = 0

	stdout, stderr, err := executeCommand(t, c, "", "run", "https://example.com/a")
	require.Error(t, err)
	assert.True(t, backup.IsFatal(err))
	assert.Contains(t, stdout, "concurrency")

	line := notifierLine(t, stderr)
	assert.Contains(t, line, "backup run failed")
	assert.Contains(t, line, "fatal_config")
}

func TestRunDryRunRejectsMissingDestinationSettings(t *testing.T) {
	c := testConfig(t)
	c.StorageEnabled = true

	stdout, _, err := executeCommand(t, c, "", "run", "--dry-run", "https://example.com/a")
	require.Error(t, err)
	assert.Contains(t, stdout, "ACCESS_KEY")
}

func TestRunDryRun(t *testing.T) {
	c := testConfig(t)
	c.Targets = []string{"https://example.com/a", "https://example.com/b"}
	c.DatabaseEnabled = true
	c.DatabaseURL = "postgres://localhost/backups"

	stdout, _, err := executeCommand(t, c, "", "run", "--dry-run", "--download-concurrency", "4")
	require.NoError(t, err)

	var out dryRunOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out), stdout)
	assert.True(t, out.DryRun)
	assert.Equal(t, c.Targets, out.Targets)
	assert.Equal(t, []models.DestinationKind{models.KindDatabase, models.KindVault}, out.Destinations)
	assert.Equal(t, 4, out.DownloadConcurrency)
	assert.Equal(t, 1, out.SyncConcurrency)

	_, statErr := os.Stat(c.OutputDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunTargetsFile(t *testing.T) {
	c := testConfig(t)
	file := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(file, []byte("# daily\nhttps://example.com/x\n"), 0o644))

	stdout, _, err := executeCommand(t, c, "", "run", "--dry-run", "--targets-file", file, "https://example.com/first")
	require.NoError(t, err)

	var out dryRunOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, []string{"https://example.com/first", "https://example.com/x"}, out.Targets)
}

func TestRunWithoutTargets(t *testing.T) {
	stdout, _, err := executeCommand(t, testConfig(t), "", "run")
	require.Error(t, err)
	assert.Contains(t, stdout, "no targets given")
}

func TestValidateCommand(t *testing.T) {
	c := testConfig(t)

	stdout, _, err := executeCommand(t, c, "", "validate")
	require.NoError(t, err)

	var result backup.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Success)
	require.Len(t, result.Probes, 2)
	assert.Equal(t, "source", result.Probes[0].Name)
	assert.Equal(t, "vault", result.Probes[1].Name)
}

func TestValidateCommandReportsFailures(t *testing.T) {
	c := testConfig(t)
	c.SourceHealthURL = "http://127.0.0.1:1/healthz"

	stdout, _, err := executeCommand(t, c, "", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capabilities not ready: source")
	assert.Contains(t, stdout, `"valid": false`)
}

type fakePruner struct {
	calls  int
	folder string
	days   int
	dryRun bool
	err    error
}

func (p *fakePruner) DeleteOldFiles(ctx context.Context, folder string, daysOld int, dryRun bool) (*models.DeleteResult, error) {
	p.calls++
	p.folder, p.days, p.dryRun = folder, daysOld, dryRun
	if p.err != nil {
		return nil, p.err
	}
	return &models.DeleteResult{
		BucketName:   "backups-bucket",
		Folder:       folder,
		DaysOld:      daysOld,
		DeletedFiles: []string{folder + "/old.zip"},
		DryRun:       dryRun,
	}, nil
}

func withFakePruner(t *testing.T, p *fakePruner) {
	t.Helper()
	original := newPruner
	newPruner = func(c *config.Config) (pruner, error) { return p, nil }
	t.Cleanup(func() { newPruner = original })
}

func TestPruneCommand(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		stdin      string
		wantCalls  int
		wantFolder string
		wantDryRun bool
		wantErr    bool
		wantOutput string
	}{
		{
			name:       "dry run uses the storage prefix",
			args:       []string{"prune", "--days", "30", "--dry-run"},
			wantCalls:  1,
			wantFolder: "nightly",
			wantDryRun: true,
			wantOutput: `"dry_run": true`,
		},
		{
			name:       "explicit folder with confirm",
			args:       []string{"prune", "--days", "7", "--folder", "logs/2025", "--confirm"},
			wantCalls:  1,
			wantFolder: "logs/2025",
			wantOutput: `"days_old": 7`,
		},
		{
			name:       "prompt declined",
			args:       []string{"prune", "--days", "7"},
			stdin:      "no\n",
			wantCalls:  0,
			wantOutput: "",
		},
		{
			name:       "prompt accepted",
			args:       []string{"prune", "--days", "7"},
			stdin:      "yes\n",
			wantCalls:  1,
			wantFolder: "nightly",
			wantOutput: `"deleted_files"`,
		},
		{
			name:    "days must be positive",
			args:    []string{"prune", "--days", "0", "--confirm"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePruner{}
			withFakePruner(t, p)

			stdout, _, err := executeCommand(t, testConfig(t), tt.stdin, tt.args...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, stdout, "days must be greater than 0")
				assert.Zero(t, p.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, p.calls)
			if tt.wantCalls > 0 {
				assert.Equal(t, tt.wantFolder, p.folder)
				assert.Equal(t, tt.wantDryRun, p.dryRun)
			}
			assert.Contains(t, stdout, tt.wantOutput)
		})
	}
}

func TestPruneCommandPropagatesErrors(t *testing.T) {
	withFakePruner(t, &fakePruner{err: errors.New("failed to list objects: access denied")})

	stdout, _, err := executeCommand(t, testConfig(t), "", "prune", "--days", "30", "--confirm")
	require.Error(t, err)
	assert.Contains(t, stdout, "access denied")
	assert.Contains(t, stdout, `"command": "prune"`)
}

// Integration tests for the prune command.
// These tests require a real S3 connection and are skipped by default.
// To run these tests, set the environment variable S3_INTEGRATION_TEST=true
func TestPruneCommandIntegration(t *testing.T) {
	if os.Getenv("S3_INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test; set S3_INTEGRATION_TEST=true to run")
	}

	c := testConfig(t)
	c.BucketName = os.Getenv("TEST_BUCKET_NAME")
	c.Region = os.Getenv("TEST_REGION")
	c.ApiURL = os.Getenv("TEST_API_URL")
	c.AccessKey = os.Getenv("TEST_ACCESS_KEY")
	c.SecretKey = os.Getenv("TEST_SECRET_KEY")

	stdout, _, err := executeCommand(t, c, "", "prune", "--folder", "test", "--days", "30", "--dry-run")
	if err != nil {
		t.Fatalf("Prune command failed: %v", err)
	}

	if !strings.Contains(stdout, os.Getenv("TEST_BUCKET_NAME")) {
		t.Errorf("Output doesn't contain bucket name: %s", stdout)
	}
}
