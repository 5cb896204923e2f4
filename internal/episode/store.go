package episode

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotInitialized is returned by store operations invoked before
	// Initialize() or after Close().
	ErrNotInitialized = errors.New("episode: store not initialized")

	// ErrDuplicateID is returned by Save when an episode with the same id
	// already exists. Inserts never silently overwrite.
	ErrDuplicateID = errors.New("episode: duplicate episode id")
)

// ValidationError reports a structurally invalid input field. It is a
// client fault, rejected before anything reaches persistence.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("episode: invalid %s: %s", e.Field, e.Reason)
}

// CorruptionError reports a persisted blob that failed to decode. It
// signals a storage integrity failure, not a retryable condition.
type CorruptionError struct {
	EpisodeID string
	Column    string
	Err       error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("episode: corrupt %s blob for episode %s: %v", e.Column, e.EpisodeID, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// EpisodeFilter defines query parameters for listing episodes. Zero-value
// fields impose no constraint; filters combine as a conjunction.
type EpisodeFilter struct {
	AgentID string
	Status  Status
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}

// StoreStats holds aggregate totals across all persisted episodes.
type StoreStats struct {
	TotalEpisodes   int     `json:"total_episodes"`
	RunningEpisodes int     `json:"running_episodes"`
	TotalTokens     int64   `json:"total_tokens"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

// Store defines the interface for episode persistence backends.
type Store interface {
	// Initialize opens the database and creates the table and indexes.
	// Safe to call against an already-initialized database.
	Initialize() error

	// Close releases the underlying resources. Subsequent operations
	// fail with ErrNotInitialized.
	Close() error

	// Create assigns a fresh episode id and timestamps to the payload,
	// then saves. EndedAt is set iff the status is not running.
	Create(payload EpisodeCreate) (*Episode, error)

	// Save recomputes aggregates and inserts one row. The insert fails
	// with ErrDuplicateID on a colliding episode id.
	Save(e *Episode) (*Episode, error)

	// Get fetches a full episode by exact id. Returns (nil, nil) when no
	// row matches.
	Get(id string) (*Episode, error)

	// List returns summaries matching the filter, most recent first,
	// along with the total row count before pagination.
	List(filter EpisodeFilter) ([]*EpisodeSummary, int, error)

	// Count returns the number of episodes matching the filters. Empty
	// arguments impose no constraint.
	Count(agentID string, status Status) (int, error)

	// Stats returns aggregate totals across the whole table.
	Stats() (*StoreStats, error)
}
