package db

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oakbuilders/bid-finder/internal/models"
)

type sourceKey struct {
	source   string
	nativeID string
}

// MemoryBackend keeps everything in process. It backs tests and dry runs;
// writes are serialized by one mutex, so identity keys need no extra work.
type MemoryBackend struct {
	mu        sync.RWMutex
	rows      map[uuid.UUID]models.Opportunity
	bySource  map[sourceKey]uuid.UUID
	runs      []Run
	reviewers map[string]models.Reviewer
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		rows:      map[uuid.UUID]models.Opportunity{},
		bySource:  map[sourceKey]uuid.UUID{},
		reviewers: map[string]models.Reviewer{},
	}
}

// memoryTx stages writes so a failing fn leaves the backend untouched.
type memoryTx struct {
	b       *MemoryBackend
	pending map[uuid.UUID]models.Opportunity
	order   []uuid.UUID
}

func (t *memoryTx) row(id uuid.UUID) (models.Opportunity, bool) {
	if o, ok := t.pending[id]; ok {
		return o, true
	}
	o, ok := t.b.rows[id]
	return o, ok
}

func (t *memoryTx) FindBySourceID(_ context.Context, source, nativeID string) (models.Opportunity, bool, error) {
	for _, id := range t.order {
		if t.pending[id].SourceIDs[source] == nativeID && nativeID != "" {
			return t.pending[id].Clone(), true, nil
		}
	}
	id, ok := t.b.bySource[sourceKey{source, nativeID}]
	if !ok {
		return models.Opportunity{}, false, nil
	}
	o, ok := t.row(id)
	return o.Clone(), ok, nil
}

func (t *memoryTx) FindCandidates(_ context.Context, q CandidateQuery) ([]models.Opportunity, error) {
	var out []models.Opportunity
	seen := map[uuid.UUID]bool{}
	consider := func(o models.Opportunity) {
		if seen[o.ID] {
			return
		}
		seen[o.ID] = true
		if !strings.EqualFold(o.Jurisdiction, q.Jurisdiction) || o.Category != q.Category {
			return
		}
		if !within(o.PostedDate, q.From, q.To) && !(q.BySeen && within(o.LastSeenAt, q.From, q.To)) {
			return
		}
		out = append(out, o.Clone())
	}
	for _, id := range t.order {
		consider(t.pending[id])
	}
	for _, o := range t.b.rows {
		consider(o)
	}
	return out, nil
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func (t *memoryTx) Insert(_ context.Context, o models.Opportunity) error {
	if _, ok := t.row(o.ID); ok {
		return ErrConflict
	}
	return t.stage(o)
}

func (t *memoryTx) Update(_ context.Context, o models.Opportunity) error {
	if _, ok := t.row(o.ID); !ok {
		return ErrNotFound
	}
	return t.stage(o)
}

func (t *memoryTx) stage(o models.Opportunity) error {
	for source, native := range o.SourceIDs {
		if native == "" {
			continue
		}
		if owner, ok := t.b.bySource[sourceKey{source, native}]; ok && owner != o.ID {
			return ErrConflict
		}
	}
	if _, ok := t.pending[o.ID]; !ok {
		t.order = append(t.order, o.ID)
	}
	t.pending[o.ID] = o.Clone()
	return nil
}

func (b *MemoryBackend) Atomic(_ context.Context, _ []string, fn func(Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx := &memoryTx{b: b, pending: map[uuid.UUID]models.Opportunity{}}
	if err := fn(tx); err != nil {
		return err
	}
	for _, id := range tx.order {
		b.put(tx.pending[id])
	}
	return nil
}

// put writes o and indexes its native ids. Callers hold mu.
func (b *MemoryBackend) put(o models.Opportunity) {
	b.rows[o.ID] = o
	for source, native := range o.SourceIDs {
		if native != "" {
			b.bySource[sourceKey{source, native}] = o.ID
		}
	}
}

func (b *MemoryBackend) Mutate(_ context.Context, id uuid.UUID, fn func(*models.Opportunity) (bool, error)) (models.Opportunity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.rows[id]
	if !ok {
		return models.Opportunity{}, ErrNotFound
	}
	o = o.Clone()
	changed, err := fn(&o)
	if err != nil {
		return models.Opportunity{}, err
	}
	if changed {
		b.put(o)
	}
	return o.Clone(), nil
}

func (b *MemoryBackend) Get(_ context.Context, id uuid.UUID) (models.Opportunity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.rows[id]
	if !ok {
		return models.Opportunity{}, ErrNotFound
	}
	return o.Clone(), nil
}

func (b *MemoryBackend) GetBySourceID(ctx context.Context, source, nativeID string) (models.Opportunity, error) {
	b.mu.RLock()
	id, ok := b.bySource[sourceKey{source, nativeID}]
	b.mu.RUnlock()
	if !ok {
		return models.Opportunity{}, ErrNotFound
	}
	return b.Get(ctx, id)
}

// Query snapshots the matching rows when iteration starts, so every range
// over the sequence sees a consistent, freshly ordered view.
func (b *MemoryBackend) Query(ctx context.Context, f models.Filter) iter.Seq2[models.Opportunity, error] {
	return func(yield func(models.Opportunity, error) bool) {
		b.mu.RLock()
		var matched []models.Opportunity
		for _, o := range b.rows {
			if f.Matches(o) {
				matched = append(matched, o.Clone())
			}
		}
		b.mu.RUnlock()

		sort.Slice(matched, func(i, j int) bool { return models.RankLess(matched[i], matched[j]) })
		if f.Limit > 0 && len(matched) > f.Limit {
			matched = matched[:f.Limit]
		}
		for _, o := range matched {
			if err := ctx.Err(); err != nil {
				yield(models.Opportunity{}, err)
				return
			}
			if !yield(o, nil) {
				return
			}
		}
	}
}

func (b *MemoryBackend) Page(_ context.Context, after uuid.UUID, limit int) ([]models.Opportunity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := slices.Collect(maps.Keys(b.rows))
	slices.SortFunc(ids, func(a, c uuid.UUID) int { return strings.Compare(a.String(), c.String()) })

	cursor := after.String()
	var out []models.Opportunity
	for _, id := range ids {
		if after != uuid.Nil && id.String() <= cursor {
			continue
		}
		out = append(out, b.rows[id].Clone())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *MemoryBackend) MarkExpired(_ context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	marked := 0
	for id, o := range b.rows {
		if !expirable(o, now) {
			continue
		}
		o.Expired = true
		at := now
		o.ExpiredAt = &at
		b.rows[id] = o
		marked++
	}
	return marked, nil
}

// expirable reports whether o's deadline passed while it was still open
// for review.
func expirable(o models.Opportunity, now time.Time) bool {
	if o.Expired || o.ResponseDeadline == nil || !o.ResponseDeadline.Before(now) {
		return false
	}
	return o.Status == models.StatusNew || o.Status == models.StatusReviewing
}

func (b *MemoryBackend) Stats(_ context.Context, now time.Time) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := newStats()
	weekEnd := now.AddDate(0, 0, 7)
	for _, o := range b.rows {
		st.Total++
		if o.Expired {
			st.Expired++
		}
		if o.Score >= HighRelevanceScore {
			st.HighRelevance++
		}
		if d := o.ResponseDeadline; d != nil && !d.Before(now) && !d.After(weekEnd) {
			st.DueThisWeek++
		}
		st.ByStatus[string(o.Status)]++
		st.ByCategory[o.Category]++
		st.ByJurisdiction[o.Jurisdiction]++
		for source := range o.SourceIDs {
			st.BySource[source]++
		}
	}
	return st, nil
}

func newStats() Stats {
	return Stats{
		ByStatus:       map[string]int{},
		ByCategory:     map[string]int{},
		ByJurisdiction: map[string]int{},
		BySource:       map[string]int{},
	}
}

func (b *MemoryBackend) StartRun(_ context.Context, source string, at time.Time) (Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	run := Run{ID: uuid.New(), Source: source, Status: RunRunning, StartedAt: at, SkipReasons: map[string]int{}}
	b.runs = append(b.runs, run)
	return run, nil
}

func (b *MemoryBackend) FinishRun(_ context.Context, run Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.runs {
		if b.runs[i].ID == run.ID {
			run.SkipReasons = maps.Clone(run.SkipReasons)
			b.runs[i] = run
			return nil
		}
	}
	return ErrNotFound
}

// ListRuns returns the newest runs first.
func (b *MemoryBackend) ListRuns(_ context.Context, limit int) ([]Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Run, 0, len(b.runs))
	for i := len(b.runs) - 1; i >= 0; i-- {
		out = append(out, b.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *MemoryBackend) CreateReviewer(_ context.Context, r models.Reviewer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToLower(r.Email)
	if _, ok := b.reviewers[key]; ok {
		return ErrConflict
	}
	b.reviewers[key] = r
	return nil
}

func (b *MemoryBackend) ReviewerByEmail(_ context.Context, email string) (models.Reviewer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.reviewers[strings.ToLower(email)]
	if !ok {
		return models.Reviewer{}, ErrNotFound
	}
	return r, nil
}
