package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakbuilders/bid-finder/internal/models"
)

// PostgresBackend stores opportunities in PostgreSQL. Identity keys become
// transaction-scoped advisory locks, so several ingest processes can share
// one database.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectCols = `o.id, o.title, o.description, o.agency_or_owner,
	o.jurisdiction, o.jurisdiction_resolved, o.category,
	o.estimated_value_low, o.estimated_value_high, o.response_deadline, o.set_aside_type,
	o.posted_date, o.posted_date_estimated,
	o.source_url, o.solicitation_number, o.naics_code, o.contact_name, o.contact_email,
	o.keyword_matches, o.score, o.score_breakdown, o.status, o.notes, o.user_edited_fields,
	o.expired, o.expired_at, o.first_seen_at, o.last_seen_at,
	COALESCE((SELECT jsonb_object_agg(s.source_name, s.native_id)
	          FROM opportunity_sources s WHERE s.opportunity_id = o.id), '{}'::jsonb)`

func scanOpportunity(scan func(dest ...any) error) (models.Opportunity, error) {
	var o models.Opportunity
	var setAside *string
	var status string
	var breakdownRaw, sourcesRaw []byte

	err := scan(
		&o.ID, &o.Title, &o.Description, &o.AgencyOrOwner,
		&o.Jurisdiction, &o.JurisdictionResolved, &o.Category,
		&o.EstimatedValueLow, &o.EstimatedValueHigh, &o.ResponseDeadline, &setAside,
		&o.PostedDate, &o.PostedDateEstimated,
		&o.SourceURL, &o.SolicitationNumber, &o.NAICSCode, &o.ContactName, &o.ContactEmail,
		&o.KeywordMatches, &o.Score, &breakdownRaw, &status, &o.Notes, &o.UserEditedFields,
		&o.Expired, &o.ExpiredAt, &o.FirstSeenAt, &o.LastSeenAt,
		&sourcesRaw,
	)
	if err != nil {
		return o, err
	}

	o.SetAsideType = setAside
	o.Status = models.Status(status)
	if len(breakdownRaw) > 0 {
		if err := json.Unmarshal(breakdownRaw, &o.ScoreBreakdown); err != nil {
			return o, fmt.Errorf("decode score breakdown: %w", err)
		}
	}
	o.SourceIDs = map[string]string{}
	if err := json.Unmarshal(sourcesRaw, &o.SourceIDs); err != nil {
		return o, fmt.Errorf("decode source ids: %w", err)
	}

	o.PostedDate = o.PostedDate.UTC()
	o.FirstSeenAt = o.FirstSeenAt.UTC()
	o.LastSeenAt = o.LastSeenAt.UTC()
	o.ResponseDeadline = utcPtr(o.ResponseDeadline)
	o.ExpiredAt = utcPtr(o.ExpiredAt)
	if o.KeywordMatches == nil {
		o.KeywordMatches = []string{}
	}
	return o, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func loadByIDs(ctx context.Context, q querier, ids []uuid.UUID) ([]models.Opportunity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := q.Query(ctx, "SELECT "+selectCols+" FROM opportunities o WHERE o.id = ANY($1::uuid[]) ORDER BY o.id", keys)
	if err != nil {
		return nil, fmt.Errorf("load opportunities: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func loadOne(ctx context.Context, q querier, id uuid.UUID) (models.Opportunity, error) {
	row := q.QueryRow(ctx, "SELECT "+selectCols+" FROM opportunities o WHERE o.id = $1", id)
	o, err := scanOpportunity(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Opportunity{}, ErrNotFound
	}
	return o, err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindBySourceID(ctx context.Context, source, nativeID string) (models.Opportunity, bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT o.id
		FROM opportunities o
		JOIN opportunity_sources s ON s.opportunity_id = o.id
		WHERE s.source_name = $1 AND s.native_id = $2
		FOR UPDATE OF o
	`, source, nativeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Opportunity{}, false, nil
	}
	if err != nil {
		return models.Opportunity{}, false, fmt.Errorf("find by source id: %w", err)
	}
	o, err := loadOne(ctx, t.tx, id)
	if err != nil {
		return models.Opportunity{}, false, err
	}
	return o, true, nil
}

func (t *pgTx) FindCandidates(ctx context.Context, q CandidateQuery) ([]models.Opportunity, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id
		FROM opportunities
		WHERE lower(jurisdiction) = lower($1)
		  AND category = $2
		  AND (posted_date BETWEEN $3::date AND $4::date
		       OR ($5 AND last_seen_at BETWEEN $6 AND $7))
		FOR UPDATE
	`, q.Jurisdiction, q.Category, q.From, q.To, q.BySeen, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	return loadByIDs(ctx, t.tx, ids)
}

func (t *pgTx) Insert(ctx context.Context, o models.Opportunity) error {
	breakdown, err := json.Marshal(o.ScoreBreakdown)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO opportunities (
			id, title, description, agency_or_owner,
			jurisdiction, jurisdiction_resolved, category,
			estimated_value_low, estimated_value_high, response_deadline, set_aside_type,
			posted_date, posted_date_estimated,
			source_url, solicitation_number, naics_code, contact_name, contact_email,
			keyword_matches, score, score_breakdown, status, notes, user_edited_fields,
			expired, expired_at, first_seen_at, last_seen_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21::jsonb, $22, $23, $24,
			$25, $26, $27, $28
		)`,
		o.ID, o.Title, o.Description, o.AgencyOrOwner,
		o.Jurisdiction, o.JurisdictionResolved, o.Category,
		o.EstimatedValueLow, o.EstimatedValueHigh, o.ResponseDeadline, o.SetAsideType,
		o.PostedDate, o.PostedDateEstimated,
		o.SourceURL, o.SolicitationNumber, o.NAICSCode, o.ContactName, o.ContactEmail,
		nonNil(o.KeywordMatches), o.Score, string(breakdown), string(o.Status), o.Notes, nonNil(o.UserEditedFields),
		o.Expired, o.ExpiredAt, o.FirstSeenAt, o.LastSeenAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	return upsertSources(ctx, t.tx, o)
}

func (t *pgTx) Update(ctx context.Context, o models.Opportunity) error {
	if err := updateRow(ctx, t.tx, o); err != nil {
		return err
	}
	return upsertSources(ctx, t.tx, o)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// updateRow writes every mutable column of o. Callers hold the row lock.
func updateRow(ctx context.Context, q querier, o models.Opportunity) error {
	breakdown, err := json.Marshal(o.ScoreBreakdown)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE opportunities SET
			title = $2, description = $3, agency_or_owner = $4,
			jurisdiction = $5, jurisdiction_resolved = $6, category = $7,
			estimated_value_low = $8, estimated_value_high = $9,
			response_deadline = $10, set_aside_type = $11,
			posted_date = $12, posted_date_estimated = $13,
			source_url = $14, solicitation_number = $15, naics_code = $16,
			contact_name = $17, contact_email = $18,
			keyword_matches = $19, score = $20, score_breakdown = $21::jsonb,
			status = $22, notes = $23, user_edited_fields = $24,
			expired = $25, expired_at = $26, last_seen_at = $27,
			updated_at = NOW()
		WHERE id = $1`,
		o.ID, o.Title, o.Description, o.AgencyOrOwner,
		o.Jurisdiction, o.JurisdictionResolved, o.Category,
		o.EstimatedValueLow, o.EstimatedValueHigh,
		o.ResponseDeadline, o.SetAsideType,
		o.PostedDate, o.PostedDateEstimated,
		o.SourceURL, o.SolicitationNumber, o.NAICSCode,
		o.ContactName, o.ContactEmail,
		nonNil(o.KeywordMatches), o.Score, string(breakdown),
		string(o.Status), o.Notes, nonNil(o.UserEditedFields),
		o.Expired, o.ExpiredAt, o.LastSeenAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// upsertSources records each reporting source. A known native id is never
// replaced by an empty one.
func upsertSources(ctx context.Context, q querier, o models.Opportunity) error {
	for _, source := range o.Sources() {
		_, err := q.Exec(ctx, `
			INSERT INTO opportunity_sources (opportunity_id, source_name, native_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (opportunity_id, source_name) DO UPDATE SET
				native_id = EXCLUDED.native_id
			WHERE opportunity_sources.native_id = '' AND EXCLUDED.native_id <> ''
		`, o.ID, source, o.SourceIDs[source])
		if err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func (b *PostgresBackend) Atomic(ctx context.Context, keys []string, fn func(Tx) error) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		for _, key := range keys {
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
				return fmt.Errorf("advisory lock: %w", err)
			}
		}
		return fn(&pgTx{tx: tx})
	})
}

func (b *PostgresBackend) Mutate(ctx context.Context, id uuid.UUID, fn func(*models.Opportunity) (bool, error)) (models.Opportunity, error) {
	var out models.Opportunity
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT 1 FROM opportunities WHERE id = $1 FOR UPDATE", id); err != nil {
			return err
		}
		o, err := loadOne(ctx, tx, id)
		if err != nil {
			return err
		}
		changed, err := fn(&o)
		if err != nil {
			return err
		}
		if changed {
			if err := updateRow(ctx, tx, o); err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	return out, err
}

func (b *PostgresBackend) Get(ctx context.Context, id uuid.UUID) (models.Opportunity, error) {
	return loadOne(ctx, b.pool, id)
}

func (b *PostgresBackend) GetBySourceID(ctx context.Context, source, nativeID string) (models.Opportunity, error) {
	var id uuid.UUID
	err := b.pool.QueryRow(ctx,
		"SELECT opportunity_id FROM opportunity_sources WHERE source_name = $1 AND native_id = $2",
		source, nativeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Opportunity{}, ErrNotFound
	}
	if err != nil {
		return models.Opportunity{}, err
	}
	return loadOne(ctx, b.pool, id)
}

// buildFilterWhere translates a Filter into a WHERE clause and its args.
func buildFilterWhere(f models.Filter) (string, []any) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if !f.IncludeExpired {
		where += " AND o.expired = false"
	}
	if f.MinScore != nil {
		where += fmt.Sprintf(" AND o.score >= $%d", argIdx)
		args = append(args, *f.MinScore)
		argIdx++
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where += fmt.Sprintf(" AND o.status = ANY($%d)", argIdx)
		args = append(args, statuses)
		argIdx++
	}
	if len(f.Jurisdictions) > 0 {
		where += fmt.Sprintf(" AND lower(o.jurisdiction) = ANY($%d)", argIdx)
		args = append(args, lowerAll(f.Jurisdictions))
		argIdx++
	}
	if len(f.Categories) > 0 {
		where += fmt.Sprintf(" AND lower(o.category) = ANY($%d)", argIdx)
		args = append(args, lowerAll(f.Categories))
		argIdx++
	}
	if f.PostedFrom != nil {
		where += fmt.Sprintf(" AND o.posted_date >= $%d::date", argIdx)
		args = append(args, *f.PostedFrom)
		argIdx++
	}
	if f.PostedTo != nil {
		where += fmt.Sprintf(" AND o.posted_date <= $%d::date", argIdx)
		args = append(args, *f.PostedTo)
		argIdx++
	}
	if f.Limit > 0 {
		where += fmt.Sprintf(" ORDER BY o.score DESC, o.posted_date DESC, o.id ASC LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	} else {
		where += " ORDER BY o.score DESC, o.posted_date DESC, o.id ASC"
	}
	return where, args
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, strings.ToLower(v))
		}
	}
	return out
}

// Query streams rows straight from the cursor; breaking out of the loop
// closes it.
func (b *PostgresBackend) Query(ctx context.Context, f models.Filter) iter.Seq2[models.Opportunity, error] {
	return func(yield func(models.Opportunity, error) bool) {
		where, args := buildFilterWhere(f)
		rows, err := b.pool.Query(ctx, "SELECT "+selectCols+" FROM opportunities o "+where, args...)
		if err != nil {
			yield(models.Opportunity{}, fmt.Errorf("query failed: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			o, err := scanOpportunity(rows.Scan)
			if err != nil {
				yield(models.Opportunity{}, fmt.Errorf("scan failed: %w", err))
				return
			}
			if !yield(o, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Opportunity{}, fmt.Errorf("rows iteration failed: %w", err))
		}
	}
}

func (b *PostgresBackend) Page(ctx context.Context, after uuid.UUID, limit int) ([]models.Opportunity, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT `+selectCols+`
		FROM opportunities o
		WHERE o.id > $1
		ORDER BY o.id
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("page query failed: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("page scan failed: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := b.pool.Exec(ctx, `
		UPDATE opportunities
		SET expired = true, expired_at = $1, updated_at = NOW()
		WHERE expired = false
		  AND response_deadline IS NOT NULL
		  AND response_deadline < $1
		  AND status IN ('new', 'reviewing')
	`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (b *PostgresBackend) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := newStats()
	err := b.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE expired),
		       COUNT(*) FILTER (WHERE score >= $1),
		       COUNT(*) FILTER (WHERE response_deadline BETWEEN $2 AND $2 + INTERVAL '7 days')
		FROM opportunities
	`, HighRelevanceScore, now).Scan(&st.Total, &st.Expired, &st.HighRelevance, &st.DueThisWeek)
	if err != nil {
		return st, fmt.Errorf("stats totals: %w", err)
	}

	groups := []struct {
		sql string
		dst map[string]int
	}{
		{"SELECT status, COUNT(*) FROM opportunities GROUP BY status", st.ByStatus},
		{"SELECT category, COUNT(*) FROM opportunities GROUP BY category", st.ByCategory},
		{"SELECT jurisdiction, COUNT(*) FROM opportunities GROUP BY jurisdiction", st.ByJurisdiction},
		{"SELECT source_name, COUNT(*) FROM opportunity_sources GROUP BY source_name", st.BySource},
	}
	for _, g := range groups {
		rows, err := b.pool.Query(ctx, g.sql)
		if err != nil {
			return st, fmt.Errorf("stats group: %w", err)
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return st, fmt.Errorf("stats scan: %w", err)
			}
			g.dst[key] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (b *PostgresBackend) StartRun(ctx context.Context, source string, at time.Time) (Run, error) {
	run := Run{ID: uuid.New(), Source: source, Status: RunRunning, StartedAt: at, SkipReasons: map[string]int{}}
	_, err := b.pool.Exec(ctx,
		"INSERT INTO ingest_runs (run_id, source_name, status, started_at) VALUES ($1, $2, $3, $4)",
		run.ID, run.Source, run.Status, run.StartedAt)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (b *PostgresBackend) FinishRun(ctx context.Context, run Run) error {
	reasons, err := json.Marshal(run.SkipReasons)
	if err != nil {
		return err
	}
	tag, err := b.pool.Exec(ctx, `
		UPDATE ingest_runs SET
			status = $2,
			finished_at = $3,
			seen = $4,
			normalized = $5,
			skipped = $6,
			inserted = $7,
			merged = $8,
			unchanged = $9,
			skip_reasons = $10::jsonb,
			error = $11
		WHERE run_id = $1`,
		run.ID, run.Status, run.FinishedAt, run.Seen, run.Normalized, run.Skipped,
		run.Inserted, run.Merged, run.Unchanged, string(reasons), nilIfEmpty(run.Error),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *PostgresBackend) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := b.pool.Query(ctx, `
		SELECT run_id, source_name, status, started_at, finished_at,
		       seen, normalized, skipped, inserted, merged, unchanged,
		       skip_reasons, COALESCE(error, '')
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var reasons []byte
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.Seen, &r.Normalized, &r.Skipped, &r.Inserted, &r.Merged, &r.Unchanged,
			&reasons, &r.Error); err != nil {
			return nil, err
		}
		if r.SkipReasons, err = decodeSkipReasons(reasons); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func decodeSkipReasons(raw []byte) (map[string]int, error) {
	reasons := map[string]int{}
	if len(raw) == 0 {
		return reasons, nil
	}
	if err := json.Unmarshal(raw, &reasons); err != nil {
		return nil, fmt.Errorf("decode skip reasons: %w", err)
	}
	return reasons, nil
}

func (b *PostgresBackend) CreateReviewer(ctx context.Context, r models.Reviewer) error {
	_, err := b.pool.Exec(ctx,
		"INSERT INTO reviewers (id, email, password_hash, created_at) VALUES ($1, lower($2), $3, $4)",
		r.ID, r.Email, r.PasswordHash, r.CreatedAt)
	return mapPgError(err)
}

func (b *PostgresBackend) ReviewerByEmail(ctx context.Context, email string) (models.Reviewer, error) {
	var r models.Reviewer
	err := b.pool.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at FROM reviewers WHERE email = lower($1)",
		email).Scan(&r.ID, &r.Email, &r.PasswordHash, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reviewer{}, ErrNotFound
	}
	return r, err
}
