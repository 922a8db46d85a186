package metrics

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/paths"
)

const (
	saveInterval  = 5 * time.Minute
	pruneMaxAge   = 30 * 24 * time.Hour
	dbFileName    = "metrics.db"
	dbOpenOptions = "?_busy_timeout=5000"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS metrics (
	path       TEXT NOT NULL,
	type       TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (path, type)
)`

// DefaultDBPath is ~/.goscribe/metrics.db (or under GOSCRIBE_HOME).
func DefaultDBPath() (string, error) {
	return paths.DataPath(dbFileName)
}

// Open attaches a sqlite store, restores what it holds, prunes stale rows and starts
// a periodic save. Callers degrade to in-memory metrics when it fails.
func (m *MetricsManager) Open(dbPath string) error {
	if m.db != nil {
		return errors.New("metrics: store already open")
	}
	if err := paths.EnsureParentDir(dbPath); err != nil {
		return fmt.Errorf("metrics: create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+dbOpenOptions)
	if err != nil {
		return fmt.Errorf("metrics: open database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("metrics: create schema: %w", err)
	}

	m.db = db
	m.stopSave = make(chan struct{})

	loaded, err := m.Restore()
	if err != nil {
		L_warn("metrics: failed to load persisted data", "error", err)
	} else if loaded > 0 {
		L_info("metrics: loaded persisted data", "count", loaded)
	}

	pruned, err := m.prune()
	if err != nil {
		L_warn("metrics: failed to prune stale data", "error", err)
	} else if pruned > 0 {
		L_debug("metrics: pruned stale metrics", "count", pruned)
	}

	go m.saveLoop(m.stopSave)
	return nil
}

func (m *MetricsManager) saveLoop(stop chan struct{}) {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Persist(); err != nil {
				L_warn("metrics: periodic save failed", "error", err)
			}
		case <-stop:
			return
		}
	}
}

// Close stops the periodic save, writes a final snapshot and closes the store.
// Safe to call when no store was opened.
func (m *MetricsManager) Close() error {
	if m.db == nil {
		return nil
	}
	close(m.stopSave)

	if err := m.Persist(); err != nil {
		L_warn("metrics: final save failed", "error", err)
	}

	err := m.db.Close()
	m.db = nil
	m.stopSave = nil
	return err
}

// Persist upserts every metric in a single transaction.
func (m *MetricsManager) Persist() error {
	if m.db == nil {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO metrics (path, type, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path, type) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := saveMapEntries(stmt, now, m.timings, TypeTiming, marshalTiming); err != nil {
		return err
	}
	if err := saveMapEntries(stmt, now, m.counters, TypeCounter, marshalCounter); err != nil {
		return err
	}
	if err := saveMapEntries(stmt, now, m.successFail, TypeSuccessFail, marshalSuccessFail); err != nil {
		return err
	}

	return tx.Commit()
}

func saveMapEntries[T any](stmt *sql.Stmt, now int64, metrics map[string]*T, metricType MetricType, marshal func(*T) ([]byte, error)) error {
	for path, metric := range metrics {
		data, err := marshal(metric)
		if err != nil {
			L_warn("metrics: failed to marshal metric", "path", path, "type", metricType, "error", err)
			continue
		}
		if _, err := stmt.Exec(path, string(metricType), data, now); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads every persisted metric into memory, replacing same-path entries.
func (m *MetricsManager) Restore() (int, error) {
	if m.db == nil {
		return 0, nil
	}

	rows, err := m.db.Query("SELECT path, type, data FROM metrics")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for rows.Next() {
		var path, metricType string
		var data []byte
		if err := rows.Scan(&path, &metricType, &data); err != nil {
			L_warn("metrics: failed to scan row", "error", err)
			continue
		}
		if err := m.restoreMetric(path, MetricType(metricType), data); err != nil {
			L_warn("metrics: failed to restore metric", "path", path, "type", metricType, "error", err)
			continue
		}
		count++
	}

	return count, rows.Err()
}

func (m *MetricsManager) prune() (int, error) {
	cutoff := time.Now().Add(-pruneMaxAge).Unix()
	result, err := m.db.Exec("DELETE FROM metrics WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// restoreMetric must be called with m.mu held.
func (m *MetricsManager) restoreMetric(path string, metricType MetricType, data []byte) error {
	switch metricType {
	case TypeTiming:
		var p persistTiming
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.timings[path] = &TimingMetric{
			Count: p.Count, Total: p.Total, Min: p.Min, Max: p.Max, Last: p.Last,
			samples: p.Samples,
		}
	case TypeCounter:
		var p persistCounter
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.counters[path] = &CounterMetric{Value: p.Value, Last: p.Last}
	case TypeSuccessFail:
		var p persistSuccessFail
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.FailureReasons == nil {
			p.FailureReasons = make(map[string]int64)
		}
		m.successFail[path] = &SuccessFailMetric{
			Success: p.Success, Failures: p.Failures,
			LastSuccess: p.LastSuccess, LastFailure: p.LastFailure,
			FailureReasons: p.FailureReasons,
		}
	default:
		return fmt.Errorf("unknown metric type %q", metricType)
	}
	return nil
}

// JSON-safe mirrors of the metric structs (no mutex, exported ring buffer).

type persistTiming struct {
	Count   int64           `json:"count"`
	Total   time.Duration   `json:"total"`
	Min     time.Duration   `json:"min"`
	Max     time.Duration   `json:"max"`
	Last    time.Duration   `json:"last"`
	Samples []time.Duration `json:"samples,omitempty"`
}

type persistCounter struct {
	Value int64     `json:"value"`
	Last  time.Time `json:"last"`
}

type persistSuccessFail struct {
	Success        int64            `json:"success"`
	Failures       int64            `json:"failures"`
	LastSuccess    time.Time        `json:"last_success"`
	LastFailure    time.Time        `json:"last_failure"`
	FailureReasons map[string]int64 `json:"failure_reasons,omitempty"`
}

func marshalTiming(t *TimingMetric) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.Marshal(persistTiming{
		Count: t.Count, Total: t.Total, Min: t.Min, Max: t.Max, Last: t.Last,
		Samples: t.samples,
	})
}

func marshalCounter(c *CounterMetric) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(persistCounter{Value: c.Value, Last: c.Last})
}

func marshalSuccessFail(s *SuccessFailMetric) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(persistSuccessFail{
		Success: s.Success, Failures: s.Failures,
		LastSuccess: s.LastSuccess, LastFailure: s.LastFailure,
		FailureReasons: s.FailureReasons,
	})
}
