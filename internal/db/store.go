package db

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/logger"
	"github.com/oakbuilders/bid-finder/internal/models"
	"github.com/oakbuilders/bid-finder/internal/resolve"
	"github.com/oakbuilders/bid-finder/internal/scoring"
)

// Outcome says what an upsert did with a candidate.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeMerged    Outcome = "merged"
	OutcomeUnchanged Outcome = "unchanged"
)

type UpsertResult struct {
	Opportunity models.Opportunity
	Outcome     Outcome
	// Similarity is set when the candidate matched by title rather than id.
	Similarity float64
}

// Store resolves, merges, scores and persists opportunities on top of a
// Backend. Resolve-then-write is atomic per identity key.
type Store struct {
	backend  Backend
	resolver *resolve.Resolver
	engine   *scoring.Engine
	locks    *keyLock
	log      *zap.Logger
	now      func() time.Time
}

func NewStore(backend Backend, profile *config.Profile, log *zap.Logger) *Store {
	return &Store{
		backend:  backend,
		resolver: resolve.New(profile.Resolver),
		engine:   scoring.NewEngine(profile),
		locks:    newKeyLock(),
		log:      logger.WithFields(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for timestamps and the deadline factor.
func (s *Store) WithClock(now func() time.Time) *Store {
	c := *s
	c.now = now
	return &c
}

func (s *Store) Engine() *scoring.Engine {
	return s.engine
}

func (s *Store) Backend() Backend {
	return s.backend
}

// identityKeys lists the lock keys guarding candidate: one per native id
// and one for the fuzzy bucket it would be matched in.
func identityKeys(c models.Opportunity) []string {
	keys := make([]string, 0, len(c.SourceIDs)+1)
	for source, native := range c.SourceIDs {
		if native != "" {
			keys = append(keys, "native\x00"+source+"\x00"+native)
		}
	}
	keys = append(keys, "bucket\x00"+strings.ToLower(c.Jurisdiction)+"\x00"+c.Category)
	sort.Strings(keys)
	return keys
}

// Upsert resolves candidate against stored rows and inserts or merges it.
// may limits the fields the reporting source can overwrite on a merge.
func (s *Store) Upsert(ctx context.Context, candidate models.Opportunity, may resolve.Authority) (UpsertResult, error) {
	now := s.now()
	keys := identityKeys(candidate)

	unlock := s.locks.Lock(keys)
	defer unlock()

	var result UpsertResult
	err := s.backend.Atomic(ctx, keys, func(tx Tx) error {
		existing, similarity, found, err := s.resolveCandidate(ctx, tx, candidate)
		if err != nil {
			return err
		}

		if !found {
			o := s.prepareInsert(candidate, now)
			if err := tx.Insert(ctx, o); err != nil {
				return err
			}
			result = UpsertResult{Opportunity: o, Outcome: OutcomeInserted}
			return nil
		}

		merged := existing.Clone()
		changed := resolve.Merge(&merged, candidate, may)
		if category := s.engine.Categorize(merged); category != merged.Category {
			merged.Category = category
			changed = true
		}
		if merged.Expired && merged.ResponseDeadline != nil && merged.ResponseDeadline.After(now) {
			merged.Expired = false
			merged.ExpiredAt = nil
			changed = true
		}
		if s.engine.Apply(&merged, now) {
			changed = true
		}
		resolve.Touch(&merged, now)
		if err := tx.Update(ctx, merged); err != nil {
			return err
		}

		outcome := OutcomeUnchanged
		if changed {
			outcome = OutcomeMerged
		}
		result = UpsertResult{Opportunity: merged, Outcome: outcome, Similarity: similarity}
		return nil
	})
	if err != nil {
		return UpsertResult{}, persistErr("upsert", err)
	}
	return result, nil
}

// resolveCandidate finds the stored row candidate describes: first by any
// native id, then by fuzzy title match within the posting window.
func (s *Store) resolveCandidate(ctx context.Context, tx Tx, candidate models.Opportunity) (models.Opportunity, float64, bool, error) {
	for _, source := range candidate.Sources() {
		native := candidate.SourceIDs[source]
		if native == "" {
			continue
		}
		o, ok, err := tx.FindBySourceID(ctx, source, native)
		if err != nil {
			return models.Opportunity{}, 0, false, err
		}
		if ok {
			return o, 1, true, nil
		}
	}

	from, to := s.resolver.Window(candidate.PostedDate)
	rows, err := tx.FindCandidates(ctx, CandidateQuery{
		Jurisdiction: candidate.Jurisdiction,
		Category:     candidate.Category,
		From:         from,
		To:           to,
		BySeen:       candidate.PostedDateEstimated,
	})
	if err != nil {
		return models.Opportunity{}, 0, false, err
	}
	m, ok := s.resolver.BestMatch(candidate, rows)
	if !ok {
		return models.Opportunity{}, 0, false, nil
	}
	s.log.Debug("fuzzy match",
		zap.String(logger.FieldOppID, m.Opportunity.ID.String()),
		zap.Float64("similarity", m.Similarity),
		zap.String("title", logger.Truncate(candidate.Title, 80)),
	)
	return m.Opportunity, m.Similarity, true, nil
}

func (s *Store) prepareInsert(candidate models.Opportunity, now time.Time) models.Opportunity {
	o := candidate.Clone()
	o.ID = uuid.New()
	o.Status = models.StatusNew
	o.Notes = ""
	o.UserEditedFields = nil
	o.Expired = false
	o.ExpiredAt = nil
	o.FirstSeenAt = now
	o.LastSeenAt = now
	if o.Category == "" {
		o.Category = s.engine.Categorize(o)
	}
	s.engine.Apply(&o, now)
	return o
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (models.Opportunity, error) {
	o, err := s.backend.Get(ctx, id)
	if err != nil {
		return models.Opportunity{}, persistErr("get opportunity", err)
	}
	return o, nil
}

// GetBySourceID looks an opportunity up by the identity a source gave it.
func (s *Store) GetBySourceID(ctx context.Context, source, nativeID string) (models.Opportunity, error) {
	if nativeID == "" {
		return models.Opportunity{}, fmt.Errorf("get by source id: %w", ErrNotFound)
	}
	o, err := s.backend.GetBySourceID(ctx, source, nativeID)
	if err != nil {
		return models.Opportunity{}, persistErr("get by source id", err)
	}
	return o, nil
}

// FindByIdentity returns the stored row a candidate would resolve to: by
// any native id it carries, otherwise by fuzzy title match on jurisdiction,
// category and the posting window. Nothing is written.
func (s *Store) FindByIdentity(ctx context.Context, candidate models.Opportunity) (models.Opportunity, error) {
	if candidate.Category == "" {
		candidate.Category = s.engine.Categorize(candidate)
	}
	keys := identityKeys(candidate)
	unlock := s.locks.Lock(keys)
	defer unlock()

	var (
		found bool
		match models.Opportunity
	)
	err := s.backend.Atomic(ctx, keys, func(tx Tx) error {
		var err error
		match, _, found, err = s.resolveCandidate(ctx, tx, candidate)
		return err
	})
	if err != nil {
		return models.Opportunity{}, persistErr("find by identity", err)
	}
	if !found {
		return models.Opportunity{}, fmt.Errorf("find by identity: %w", ErrNotFound)
	}
	return match, nil
}

// Query returns a lazy, finite sequence ordered by score desc then
// posted_date desc. Ranging over it again re-runs the query.
func (s *Store) Query(ctx context.Context, f models.Filter) iter.Seq2[models.Opportunity, error] {
	return s.backend.Query(ctx, f)
}

// Collect drains a query into a slice.
func (s *Store) Collect(ctx context.Context, f models.Filter) ([]models.Opportunity, error) {
	out := []models.Opportunity{}
	for o, err := range s.Query(ctx, f) {
		if err != nil {
			return nil, persistErr("query", err)
		}
		out = append(out, o)
	}
	return out, nil
}

// SetStatus is the explicit user action that moves an opportunity through
// the workflow, including out of a terminal status.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status models.Status) (models.Opportunity, error) {
	if !status.Valid() {
		return models.Opportunity{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	o, err := s.backend.Mutate(ctx, id, func(o *models.Opportunity) (bool, error) {
		if o.Status == status {
			return false, nil
		}
		o.Status = status
		return true, nil
	})
	if err != nil {
		return models.Opportunity{}, persistErr("set status", err)
	}
	return o, nil
}

// ApplyEdit stores reviewer overrides and locks the edited fields against
// ingestion. Text changes are re-categorized and rescored.
func (s *Store) ApplyEdit(ctx context.Context, id uuid.UUID, edit models.Edit) (models.Opportunity, error) {
	now := s.now()
	o, err := s.backend.Mutate(ctx, id, func(o *models.Opportunity) (bool, error) {
		touched := edit.Apply(o)
		if len(touched) == 0 {
			return false, nil
		}
		o.Category = s.engine.Categorize(*o)
		s.engine.Apply(o, now)
		return true, nil
	})
	if err != nil {
		return models.Opportunity{}, persistErr("apply edit", err)
	}
	return o, nil
}

type RescoreResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

// Rescore recomputes every score in id order, batchSize rows at a time,
// and writes only rows whose score, breakdown, keywords or category moved.
func (s *Store) Rescore(ctx context.Context, batchSize int) (RescoreResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	now := s.now()
	var res RescoreResult
	after := uuid.Nil

	for {
		batch, err := s.backend.Page(ctx, after, batchSize)
		if err != nil {
			return res, persistErr("rescore page", err)
		}
		if len(batch) == 0 {
			return res, nil
		}
		for _, o := range batch {
			res.Scanned++
			after = o.ID
			if !s.rescoreNeeded(o, now) {
				continue
			}
			_, err := s.backend.Mutate(ctx, o.ID, func(fresh *models.Opportunity) (bool, error) {
				return s.rescoreRow(fresh, now), nil
			})
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return res, persistErr("rescore update", err)
			}
			res.Updated++
		}
	}
}

func (s *Store) rescoreNeeded(o models.Opportunity, now time.Time) bool {
	return s.rescoreRow(&o, now)
}

func (s *Store) rescoreRow(o *models.Opportunity, now time.Time) bool {
	changed := false
	if category := s.engine.Categorize(*o); category != o.Category {
		o.Category = category
		changed = true
	}
	if s.engine.Apply(o, now) {
		changed = true
	}
	return changed
}

// MarkExpired flags opportunities whose deadline passed while they were
// still new or under review. Nothing is deleted.
func (s *Store) MarkExpired(ctx context.Context) (int, error) {
	n, err := s.backend.MarkExpired(ctx, s.now())
	if err != nil {
		return 0, persistErr("mark expired", err)
	}
	return n, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st, err := s.backend.Stats(ctx, s.now())
	if err != nil {
		return Stats{}, persistErr("stats", err)
	}
	return st, nil
}

func (s *Store) StartRun(ctx context.Context, source string) (Run, error) {
	run, err := s.backend.StartRun(ctx, source, s.now())
	if err != nil {
		return Run{}, persistErr("start run", err)
	}
	return run, nil
}

// FinishRun stamps the run's end time and stores its summary.
func (s *Store) FinishRun(ctx context.Context, run Run) (Run, error) {
	at := s.now()
	run.FinishedAt = &at
	if err := s.backend.FinishRun(ctx, run); err != nil {
		return run, persistErr("finish run", err)
	}
	return run, nil
}

func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	runs, err := s.backend.ListRuns(ctx, limit)
	if err != nil {
		return nil, persistErr("list runs", err)
	}
	return runs, nil
}
