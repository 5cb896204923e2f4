package episode

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	episode_id        TEXT PRIMARY KEY,
	agent_id          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	steps             TEXT NOT NULL DEFAULT '[]',
	tools_used        TEXT NOT NULL DEFAULT '[]',
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	total_cost_usd    REAL NOT NULL DEFAULT 0,
	total_duration_ms INTEGER NOT NULL DEFAULT 0,
	step_count        INTEGER NOT NULL DEFAULT 0,
	started_at        DATETIME NOT NULL,
	ended_at          DATETIME,
	metadata          TEXT NOT NULL DEFAULT '{}',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_episodes_agent ON episodes(agent_id);
CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(status);
CREATE INDEX IF NOT EXISTS idx_episodes_started ON episodes(started_at);
`

const summaryColumns = `episode_id, agent_id, status, tools_used,
	total_tokens, total_cost_usd, total_duration_ms, step_count,
	started_at, ended_at`

// SQLiteStore implements Store using SQLite in WAL mode. WAL lets readers
// proceed while a write is in flight; concurrent writers serialize inside
// the engine, so a single instance is safe to share across goroutines
// without additional locking.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore creates a store for the database file at path. The
// database is not opened until Initialize is called.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Initialize opens the database, enables WAL mode, and creates the episodes
// table and its indexes if absent. Calling it on an already-initialized
// store is a no-op beyond re-running the idempotent schema.
func (s *SQLiteStore) Initialize() error {
	if s.db == nil {
		if dir := filepath.Dir(s.path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
		if err != nil {
			return fmt.Errorf("failed to open sqlite: %w", err)
		}
		s.db = db
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the database handle. Operations after Close fail with
// ErrNotInitialized.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Create builds a new episode from an ingest payload: it assigns a ULID,
// stamps started_at with the current UTC time, marks ended_at for episodes
// ingested in a terminal state, and saves.
func (s *SQLiteStore) Create(payload EpisodeCreate) (*Episode, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	status := payload.Status
	if status == "" {
		status = StatusRunning
	}

	now := time.Now().UTC()
	var ended *time.Time
	if status != StatusRunning {
		ended = &now
	}

	e := &Episode{
		EpisodeID: ulid.Make().String(),
		AgentID:   payload.AgentID,
		Status:    status,
		Steps:     payload.Steps,
		StartedAt: now,
		EndedAt:   ended,
		Metadata:  payload.Metadata,
	}
	return s.Save(e)
}

// Save recomputes the episode's aggregates from its current step list,
// serializes the blob columns, and inserts one row. The insert is a single
// atomic transaction; a colliding episode id fails with ErrDuplicateID
// rather than overwriting.
func (s *SQLiteStore) Save(e *Episode) (*Episode, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	if e.AgentID == "" {
		return nil, &ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	if !ValidStatus(e.Status) {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", e.Status)}
	}
	for i := range e.Steps {
		if err := e.Steps[i].Validate(); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	if e.Steps == nil {
		e.Steps = []Step{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	e.ComputeAggregates()

	stepsJSON, err := encodeSteps(e.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}
	toolsJSON, err := encodeTools(e.ToolsUsed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tools_used: %w", err)
	}
	metaJSON, err := encodeMetadata(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO episodes (episode_id, agent_id, status, steps, tools_used,
		total_tokens, total_cost_usd, total_duration_ms, step_count,
		started_at, ended_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EpisodeID, e.AgentID, string(e.Status), stepsJSON, toolsJSON,
		e.TotalTokens, e.TotalCostUSD, e.TotalDurationMS, e.StepCount,
		e.StartedAt, e.EndedAt, metaJSON,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, e.EpisodeID)
		}
		return nil, fmt.Errorf("failed to insert episode: %w", err)
	}
	return e, nil
}

// Get fetches a single episode by id, decoding the blob columns back into
// structured form. Returns (nil, nil) when no row matches.
func (s *SQLiteStore) Get(id string) (*Episode, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	e := &Episode{}
	var stepsJSON, toolsJSON, metaJSON string
	var ended sql.NullTime

	err := s.db.QueryRow(`SELECT episode_id, agent_id, status, steps, tools_used,
		total_tokens, total_cost_usd, total_duration_ms, step_count,
		started_at, ended_at, metadata
		FROM episodes WHERE episode_id = ?`, id).Scan(
		&e.EpisodeID, &e.AgentID, &e.Status, &stepsJSON, &toolsJSON,
		&e.TotalTokens, &e.TotalCostUSD, &e.TotalDurationMS, &e.StepCount,
		&e.StartedAt, &ended, &metaJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query episode: %w", err)
	}

	if ended.Valid {
		t := ended.Time
		e.EndedAt = &t
	}
	if e.Steps, err = decodeSteps(stepsJSON); err != nil {
		return nil, &CorruptionError{EpisodeID: e.EpisodeID, Column: "steps", Err: err}
	}
	if e.ToolsUsed, err = decodeTools(toolsJSON); err != nil {
		return nil, &CorruptionError{EpisodeID: e.EpisodeID, Column: "tools_used", Err: err}
	}
	if e.Metadata, err = decodeMetadata(metaJSON); err != nil {
		return nil, &CorruptionError{EpisodeID: e.EpisodeID, Column: "metadata", Err: err}
	}
	return e, nil
}

// List returns lightweight summaries matching the filter, ordered by
// started_at descending with the episode id as a tiebreak so pagination is
// stable, plus the total match count before limit/offset. The steps column
// is never read on this path.
func (s *SQLiteStore) List(filter EpisodeFilter) ([]*EpisodeSummary, int, error) {
	if s.db == nil {
		return nil, 0, ErrNotInitialized
	}

	where, args := buildWhere(filter.AgentID, filter.Status, filter.Since, filter.Until)

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM episodes"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count episodes: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := "SELECT " + summaryColumns + " FROM episodes" + where +
		" ORDER BY started_at DESC, episode_id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	summaries := []*EpisodeSummary{}
	for rows.Next() {
		sum := &EpisodeSummary{}
		var toolsJSON string
		var ended sql.NullTime
		if err := rows.Scan(&sum.EpisodeID, &sum.AgentID, &sum.Status, &toolsJSON,
			&sum.TotalTokens, &sum.TotalCostUSD, &sum.TotalDurationMS, &sum.StepCount,
			&sum.StartedAt, &ended); err != nil {
			return nil, 0, fmt.Errorf("failed to scan episode summary: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			sum.EndedAt = &t
		}
		if sum.ToolsUsed, err = decodeTools(toolsJSON); err != nil {
			return nil, 0, &CorruptionError{EpisodeID: sum.EpisodeID, Column: "tools_used", Err: err}
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate episodes: %w", err)
	}
	return summaries, total, nil
}

// Count returns the number of episodes matching the filters.
func (s *SQLiteStore) Count(agentID string, status Status) (int, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}

	where, args := buildWhere(agentID, status, nil, nil)

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM episodes"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count episodes: %w", err)
	}
	return count, nil
}

// Stats returns aggregate totals across the whole table.
func (s *SQLiteStore) Stats() (*StoreStats, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	stats := &StoreStats{}
	err := s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(total_tokens), 0),
		COALESCE(SUM(total_cost_usd), 0)
		FROM episodes`).Scan(
		&stats.TotalEpisodes, &stats.RunningEpisodes, &stats.TotalTokens, &stats.TotalCostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	return stats, nil
}

func buildWhere(agentID string, status Status, since, until *time.Time) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if agentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, agentID)
	}
	if status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(status))
	}
	if since != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, since.UTC())
	}
	if until != nil {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, until.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
