package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cellpulse/cellpulse/internal/health"
)

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

// schema creates the two tables the service persists into. Metrics are
// unique per (measurement_id, cell_id); notes cascade with their metric.
const schema = `
CREATE TABLE IF NOT EXISTS health_metrics (
	measurement_id   TEXT             NOT NULL,
	cell_id          TEXT             NOT NULL,
	soc_percent      DOUBLE PRECISION NOT NULL,
	soh_percent      DOUBLE PRECISION NOT NULL,
	resistance_mohm  DOUBLE PRECISION NOT NULL,
	temperature_c    DOUBLE PRECISION NOT NULL,
	passes_threshold BOOLEAN          NOT NULL,
	severity         TEXT             NOT NULL,
	created_at       TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (measurement_id, cell_id)
);

CREATE INDEX IF NOT EXISTS health_metrics_cell_idx
	ON health_metrics (cell_id, created_at DESC);

CREATE TABLE IF NOT EXISTS diagnostic_notes (
	id             TEXT        PRIMARY KEY,
	measurement_id TEXT        NOT NULL,
	cell_id        TEXT        NOT NULL,
	author         TEXT        NOT NULL,
	note           TEXT        NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	FOREIGN KEY (measurement_id, cell_id)
		REFERENCES health_metrics (measurement_id, cell_id)
		ON DELETE CASCADE
);
`

// Postgres is the pgx-backed Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn, verifies the connection and ensures the
// schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) SaveBatch(ctx context.Context, res *health.BatchResult) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, m := range res.Metrics {
		_, err := tx.Exec(ctx, `
			INSERT INTO health_metrics
				(measurement_id, cell_id, soc_percent, soh_percent,
				 resistance_mohm, temperature_c, passes_threshold, severity)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			m.MeasurementID, m.CellID, m.SoCPercent, m.SoHPercent,
			m.InternalResistanceMilliohm, m.TemperatureC, m.PassesThreshold, string(m.Severity),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("save batch %s cell %s: %w", m.MeasurementID, m.CellID, ErrDuplicate)
			}
			return fmt.Errorf("store: insert metric: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) MetricsByMeasurement(ctx context.Context, measurementID string) ([]health.HealthMetric, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT measurement_id, cell_id, soc_percent, soh_percent,
		       resistance_mohm, temperature_c, passes_threshold, severity
		FROM health_metrics WHERE measurement_id=$1 ORDER BY cell_id`, measurementID)
	if err != nil {
		return nil, fmt.Errorf("store: query metrics: %w", err)
	}
	defer rows.Close()
	return scanMetrics(rows)
}

func (p *Postgres) LatestByCell(ctx context.Context, cellID string) (health.HealthMetric, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT measurement_id, cell_id, soc_percent, soh_percent,
		       resistance_mohm, temperature_c, passes_threshold, severity
		FROM health_metrics WHERE cell_id=$1
		ORDER BY created_at DESC LIMIT 1`, cellID)

	m, err := scanMetric(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return health.HealthMetric{}, ErrNotFound
	}
	if err != nil {
		return health.HealthMetric{}, fmt.Errorf("store: query latest: %w", err)
	}
	return m, nil
}

func (p *Postgres) LatestAll(ctx context.Context) ([]health.HealthMetric, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT ON (cell_id)
		       measurement_id, cell_id, soc_percent, soh_percent,
		       resistance_mohm, temperature_c, passes_threshold, severity
		FROM health_metrics
		ORDER BY cell_id, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: query latest all: %w", err)
	}
	defer rows.Close()
	return scanMetrics(rows)
}

func (p *Postgres) AddNote(ctx context.Context, n Note) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO diagnostic_notes (id, measurement_id, cell_id, author, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		n.ID, n.MeasurementID, n.CellID, n.Author, n.Text, n.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// Foreign key violation — the referenced metric does not exist.
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("add note: metric %s/%s: %w", n.MeasurementID, n.CellID, ErrNotFound)
		}
		return fmt.Errorf("store: insert note: %w", err)
	}
	return nil
}

func (p *Postgres) NotesByMetric(ctx context.Context, measurementID, cellID string) ([]Note, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, measurement_id, cell_id, author, note, created_at
		FROM diagnostic_notes
		WHERE measurement_id=$1 AND cell_id=$2
		ORDER BY created_at DESC`, measurementID, cellID)
	if err != nil {
		return nil, fmt.Errorf("store: query notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.MeasurementID, &n.CellID, &n.Author, &n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (p *Postgres) DeleteNote(ctx context.Context, noteID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM diagnostic_notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("store: delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete note %s: %w", noteID, ErrNotFound)
	}
	return nil
}

// --- row scanning -----------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetric(row rowScanner) (health.HealthMetric, error) {
	var m health.HealthMetric
	var severity string
	err := row.Scan(&m.MeasurementID, &m.CellID, &m.SoCPercent, &m.SoHPercent,
		&m.InternalResistanceMilliohm, &m.TemperatureC, &m.PassesThreshold, &severity)
	m.Severity = health.Severity(severity)
	return m, err
}

func scanMetrics(rows pgx.Rows) ([]health.HealthMetric, error) {
	out := []health.HealthMetric{}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
