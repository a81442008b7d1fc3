package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cellpulse/cellpulse/internal/health"
)

// ErrNotFound is returned when a requested metric or note does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a batch would overwrite an existing
// (measurement_id, cell_id) pair.
var ErrDuplicate = errors.New("metric already exists for measurement and cell")

// Note is one free-form diagnostic annotation attached to a metric.
type Note struct {
	ID            string    `json:"id"`
	MeasurementID string    `json:"measurement_id"`
	CellID        string    `json:"cell_id"`
	Author        string    `json:"author"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the persistence contract for health metrics and notes.
type Store interface {
	// SaveBatch persists every metric in the result. It fails with
	// ErrDuplicate if any (measurement, cell) pair already exists.
	SaveBatch(ctx context.Context, res *health.BatchResult) error

	// MetricsByMeasurement returns all metrics of one measurement, sorted
	// by cell ID.
	MetricsByMeasurement(ctx context.Context, measurementID string) ([]health.HealthMetric, error)

	// LatestByCell returns the most recently stored metric for a cell.
	LatestByCell(ctx context.Context, cellID string) (health.HealthMetric, error)

	// LatestAll returns the most recent metric of every known cell,
	// sorted by cell ID.
	LatestAll(ctx context.Context) ([]health.HealthMetric, error)

	// AddNote stores a diagnostic note. The referenced metric must exist.
	AddNote(ctx context.Context, n Note) error

	// NotesByMetric returns a metric's notes, newest first.
	NotesByMetric(ctx context.Context, measurementID, cellID string) ([]Note, error)

	// DeleteNote removes a note by ID, ErrNotFound if absent.
	DeleteNote(ctx context.Context, noteID string) error
}

// metricKey identifies one stored metric.
type metricKey struct{ measurementID, cellID string }

// storedMetric pairs a metric with its insertion order, so "latest" is
// well-defined without wall-clock reliance.
type storedMetric struct {
	metric health.HealthMetric
	seq    uint64
}

// Memory is a thread-safe in-memory Store. It is the default when no
// database is configured, and the fixture for handler tests.
type Memory struct {
	mu      sync.RWMutex
	metrics map[metricKey]storedMetric
	notes   map[string]Note
	seq     uint64
	now     func() time.Time // injectable for deterministic tests
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		metrics: make(map[metricKey]storedMetric),
		notes:   make(map[string]Note),
		now:     time.Now,
	}
}

func (m *Memory) SaveBatch(_ context.Context, res *health.BatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, metric := range res.Metrics {
		key := metricKey{metric.MeasurementID, metric.CellID}
		if _, exists := m.metrics[key]; exists {
			return fmt.Errorf("save batch %s cell %s: %w",
				metric.MeasurementID, metric.CellID, ErrDuplicate)
		}
	}
	for _, metric := range res.Metrics {
		m.seq++
		m.metrics[metricKey{metric.MeasurementID, metric.CellID}] = storedMetric{
			metric: metric,
			seq:    m.seq,
		}
	}
	return nil
}

func (m *Memory) MetricsByMeasurement(_ context.Context, measurementID string) ([]health.HealthMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []health.HealthMetric
	for key, sm := range m.metrics {
		if key.measurementID == measurementID {
			out = append(out, sm.metric)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CellID < out[b].CellID })
	return out, nil
}

func (m *Memory) LatestByCell(_ context.Context, cellID string) (health.HealthMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best storedMetric
	found := false
	for key, sm := range m.metrics {
		if key.cellID == cellID && (!found || sm.seq > best.seq) {
			best = sm
			found = true
		}
	}
	if !found {
		return health.HealthMetric{}, ErrNotFound
	}
	return best.metric, nil
}

func (m *Memory) LatestAll(_ context.Context) ([]health.HealthMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[string]storedMetric)
	for key, sm := range m.metrics {
		if cur, ok := latest[key.cellID]; !ok || sm.seq > cur.seq {
			latest[key.cellID] = sm
		}
	}
	out := make([]health.HealthMetric, 0, len(latest))
	for _, sm := range latest {
		out = append(out, sm.metric)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CellID < out[b].CellID })
	return out, nil
}

func (m *Memory) AddNote(_ context.Context, n Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.metrics[metricKey{n.MeasurementID, n.CellID}]; !ok {
		return fmt.Errorf("add note: metric %s/%s: %w", n.MeasurementID, n.CellID, ErrNotFound)
	}
	m.notes[n.ID] = n
	return nil
}

func (m *Memory) NotesByMetric(_ context.Context, measurementID, cellID string) ([]Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Note
	for _, n := range m.notes {
		if n.MeasurementID == measurementID && n.CellID == cellID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteNote(_ context.Context, noteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notes[noteID]; !ok {
		return fmt.Errorf("delete note %s: %w", noteID, ErrNotFound)
	}
	delete(m.notes, noteID)
	return nil
}
