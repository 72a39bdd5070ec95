package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/lib/pq"

	"backupsync/internal/models"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Postgres is the database destination. Every succeeded download of a run
// becomes one row; a batch is inserted in a single transaction.
type Postgres struct {
	db    *sql.DB
	table string
	now   func() time.Time

	mu           sync.Mutex
	tableCreated bool
}

// Open connects lazily; connectivity is checked by ProbeReadiness.
func Open(dsn, table string) (*Postgres, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return &Postgres{db: db, table: table, now: time.Now}, nil
}

func New(db *sql.DB, table string) (*Postgres, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	return &Postgres{db: db, table: table, now: time.Now}, nil
}

func validateTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

func (p *Postgres) Name() string {
	return "database"
}

func (p *Postgres) Kind() models.DestinationKind {
	return models.KindDatabase
}

func (p *Postgres) ProbeReadiness(ctx context.Context) models.Probe {
	probe := models.Probe{Name: p.Name()}
	if err := p.db.PingContext(ctx); err != nil {
		probe.Detail = fmt.Sprintf("failed to ping db: %v", err)
		return probe
	}
	probe.Valid = true
	probe.Detail = fmt.Sprintf("database reachable, records go to %s", p.table)
	return probe
}

func (p *Postgres) SyncBatch(ctx context.Context, downloads []models.DownloadResult) models.SyncOutcome {
	if len(downloads) == 0 {
		return models.SyncOutcome{Succeeded: true, Detail: "no records to insert"}
	}
	if err := p.ensureTable(ctx); err != nil {
		return models.SyncOutcome{Err: err}
	}

	inserted, err := p.insert(ctx, downloads)
	if err != nil {
		return models.SyncOutcome{Err: err}
	}
	return models.SyncOutcome{
		Succeeded: true,
		Detail:    fmt.Sprintf("inserted %d records into %s", inserted, p.table),
	}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) ensureTable(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tableCreated {
		return nil
	}

	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        id SERIAL PRIMARY KEY,
        target TEXT NOT NULL,
        output_path TEXT NOT NULL,
        files TEXT[] NOT NULL,
        file_count INTEGER NOT NULL,
        downloaded_at TIMESTAMPTZ NOT NULL,
        synced_at TIMESTAMPTZ NOT NULL
    );
`, pq.QuoteIdentifier(p.table)))
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", p.table, err)
	}
	p.tableCreated = true
	return nil
}

func (p *Postgres) insert(ctx context.Context, downloads []models.DownloadResult) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(
		"INSERT INTO %s (target, output_path, files, file_count, downloaded_at, synced_at) VALUES ($1, $2, $3, $4, $5, $6)",
		pq.QuoteIdentifier(p.table),
	)
	syncedAt := p.now().UTC()
	for _, d := range downloads {
		_, err := tx.ExecContext(ctx, query,
			d.Target, d.OutputPath, pq.Array(d.Files), len(d.Files), d.Timestamp.UTC(), syncedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record for %s: %w", d.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit records: %w", err)
	}
	committed = true
	return len(downloads), nil
}
