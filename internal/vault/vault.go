package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"backupsync/internal/models"
	"backupsync/pkg/utils"
)

const indexNote = "index.md"

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Mirror is the knowledge-vault destination. Each run gets its own folder of
// Markdown notes, one per succeeded download, plus an index note linking them.
type Mirror struct {
	fs     billy.Filesystem
	folder string
	now    func() time.Time
}

func New(fs billy.Filesystem, folder string) *Mirror {
	return &Mirror{fs: fs, folder: folder, now: time.Now}
}

// Open mirrors into the vault rooted at dir on the local disk.
func Open(dir, folder string) (*Mirror, error) {
	if dir == "" {
		return nil, fmt.Errorf("vault directory is not configured")
	}
	return New(osfs.New(dir), folder), nil
}

func (m *Mirror) Name() string {
	return "vault"
}

func (m *Mirror) Kind() models.DestinationKind {
	return models.KindVault
}

func (m *Mirror) ProbeReadiness(ctx context.Context) models.Probe {
	probe := models.Probe{Name: m.Name()}

	if err := m.fs.MkdirAll(m.folder, 0o755); err != nil {
		probe.Detail = fmt.Sprintf("vault folder %s is not usable: %v", m.folder, err)
		return probe
	}
	tmp, err := util.TempFile(m.fs, m.folder, ".probe-")
	if err != nil {
		probe.Detail = fmt.Sprintf("vault folder %s is not writable: %v", m.folder, err)
		return probe
	}
	name := tmp.Name()
	tmp.Close()
	if err := m.fs.Remove(name); err != nil {
		probe.Detail = fmt.Sprintf("failed to remove probe file: %v", err)
		return probe
	}

	probe.Valid = true
	probe.Detail = fmt.Sprintf("vault folder %s is writable", m.fs.Join(m.fs.Root(), m.folder))
	return probe
}

func (m *Mirror) SyncBatch(ctx context.Context, downloads []models.DownloadResult) models.SyncOutcome {
	if len(downloads) == 0 {
		return models.SyncOutcome{Succeeded: true, Detail: "no notes to write"}
	}

	runAt := m.now().UTC()
	runDir, err := m.runFolder(runAt)
	if err != nil {
		return models.SyncOutcome{Err: err}
	}
	if err := m.fs.MkdirAll(runDir, 0o755); err != nil {
		return models.SyncOutcome{Err: fmt.Errorf("failed to create run folder: %w", err)}
	}

	notes := make([]string, 0, len(downloads))
	for i, d := range downloads {
		if err := ctx.Err(); err != nil {
			return models.SyncOutcome{Err: err}
		}
		name := fmt.Sprintf("%03d-%s.md", i+1, slugify(d.Target))
		if err := util.WriteFile(m.fs, path.Join(runDir, name), renderNote(d), 0o644); err != nil {
			return models.SyncOutcome{Err: fmt.Errorf("failed to write note %s: %w", name, err)}
		}
		notes = append(notes, name)
	}

	if err := util.WriteFile(m.fs, path.Join(runDir, indexNote), renderIndex(runAt, downloads, notes), 0o644); err != nil {
		return models.SyncOutcome{Err: fmt.Errorf("failed to write index note: %w", err)}
	}

	return models.SyncOutcome{
		Succeeded: true,
		Detail:    fmt.Sprintf("wrote %d notes to %s", len(notes), runDir),
	}
}

// runFolder picks the folder for a run started at runAt. A run that lands on an
// existing folder gets a _N suffix instead of overwriting earlier notes.
func (m *Mirror) runFolder(runAt time.Time) (string, error) {
	base := path.Join(m.folder, runAt.Format("2006-01-02_150405"))
	dir := base
	for i := 1; ; i++ {
		_, err := m.fs.Stat(dir)
		if errors.Is(err, os.ErrNotExist) {
			return dir, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check run folder %s: %w", dir, err)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
}

func renderNote(d models.DownloadResult) []byte {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "target: %q\n", d.Target)
	fmt.Fprintf(&b, "output_path: %q\n", d.OutputPath)
	fmt.Fprintf(&b, "file_count: %d\n", len(d.Files))
	fmt.Fprintf(&b, "downloaded_at: %s\n", utils.FormatTime(d.Timestamp))
	b.WriteString("tags: [backup]\n")
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", d.Target)
	b.WriteString("## Files\n\n")
	for _, f := range d.Files {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	return []byte(b.String())
}

func renderIndex(runAt time.Time, downloads []models.DownloadResult, notes []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Backup run %s\n\n", utils.FormatTime(runAt))
	for i, d := range downloads {
		fmt.Fprintf(&b, "- [[%s|%s]] (%d files)\n", strings.TrimSuffix(notes[i], filepath.Ext(notes[i])), d.Target, len(d.Files))
	}
	return []byte(b.String())
}

func slugify(target string) string {
	slug := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(target), "-"), "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	if slug == "" {
		return "target"
	}
	return slug
}
