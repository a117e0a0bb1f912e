package db

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/oakbuilders/bid-finder/internal/models"
)

// Tx is the view of storage inside an identity lock. Rows it returns stay
// locked until the surrounding Atomic call returns.
type Tx interface {
	FindBySourceID(ctx context.Context, source, nativeID string) (models.Opportunity, bool, error)
	FindCandidates(ctx context.Context, q CandidateQuery) ([]models.Opportunity, error)
	Insert(ctx context.Context, o models.Opportunity) error
	Update(ctx context.Context, o models.Opportunity) error
}

// CandidateQuery selects the rows a fuzzy match may pick from: same
// jurisdiction and category, posted between From and To. With BySeen, rows
// last seen in that range qualify too; used when the candidate's posted date
// is only its first-seen day.
type CandidateQuery struct {
	Jurisdiction string
	Category     string
	From, To     time.Time
	BySeen       bool
}

// Backend is durable opportunity storage.
type Backend interface {
	// Atomic runs fn holding the identity keys. Either every write fn makes
	// is kept or none is.
	Atomic(ctx context.Context, keys []string, fn func(Tx) error) error
	// Mutate loads a row, lets fn change it and writes it back when fn
	// reports a change.
	Mutate(ctx context.Context, id uuid.UUID, fn func(*models.Opportunity) (bool, error)) (models.Opportunity, error)

	Get(ctx context.Context, id uuid.UUID) (models.Opportunity, error)
	GetBySourceID(ctx context.Context, source, nativeID string) (models.Opportunity, error)
	// Query yields matching rows ordered by score desc, posted_date desc, id.
	Query(ctx context.Context, f models.Filter) iter.Seq2[models.Opportunity, error]
	// Page returns up to limit rows with ids greater than after, in id order.
	Page(ctx context.Context, after uuid.UUID, limit int) ([]models.Opportunity, error)
	MarkExpired(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)

	RunLedger
	Reviewers
}

// RunLedger records one summary per source run.
type RunLedger interface {
	StartRun(ctx context.Context, source string, at time.Time) (Run, error)
	FinishRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Reviewers stores the accounts allowed to change opportunity status.
type Reviewers interface {
	CreateReviewer(ctx context.Context, r models.Reviewer) error
	ReviewerByEmail(ctx context.Context, email string) (models.Reviewer, error)
}

// HighRelevanceScore is the score from which an opportunity counts as a
// strong fit in Stats.
const HighRelevanceScore = 70

type Stats struct {
	Total          int            `json:"total"`
	Expired        int            `json:"expired"`
	HighRelevance  int            `json:"high_relevance"`
	DueThisWeek    int            `json:"due_this_week"`
	ByStatus       map[string]int `json:"by_status"`
	ByCategory     map[string]int `json:"by_category"`
	ByJurisdiction map[string]int `json:"by_jurisdiction"`
	BySource       map[string]int `json:"by_source"`
}

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is the summary of one source ingestion.
type Run struct {
	ID          uuid.UUID      `json:"run_id"`
	Source      string         `json:"source"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Seen        int            `json:"seen"`
	Normalized  int            `json:"normalized"`
	Skipped     int            `json:"skipped"`
	Inserted    int            `json:"inserted"`
	Merged      int            `json:"merged"`
	Unchanged   int            `json:"unchanged"`
	SkipReasons map[string]int `json:"skip_reasons"`
	Error       string         `json:"error,omitempty"`
}

func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
