package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oakbuilders/bid-finder/internal/db"
	"github.com/oakbuilders/bid-finder/internal/logger"
	"github.com/oakbuilders/bid-finder/internal/metrics"
)

// Source pairs a registry entry with the adapter that reads it.
type Source struct {
	Config  SourceConfig
	Adapter Adapter
}

// Pipeline drives adapters through normalization into the store. Records
// of one source are processed in order; sources run concurrently.
type Pipeline struct {
	store       *db.Store
	normalizer  *Normalizer
	metrics     *metrics.Metrics
	log         *zap.Logger
	concurrency int
}

func NewPipeline(store *db.Store, normalizer *Normalizer, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:       store,
		normalizer:  normalizer,
		metrics:     m,
		log:         logger.WithFields(log),
		concurrency: 4,
	}
}

// WithConcurrency bounds how many sources run at once.
func (p *Pipeline) WithConcurrency(n int) *Pipeline {
	c := *p
	if n < 1 {
		n = 1
	}
	c.concurrency = n
	return &c
}

// Sources builds a Source for every config using its kind's adapter.
func Sources(configs []SourceConfig, log *zap.Logger) ([]Source, error) {
	out := make([]Source, 0, len(configs))
	for _, cfg := range configs {
		a, err := cfg.Adapter(log)
		if err != nil {
			return nil, err
		}
		out = append(out, Source{Config: cfg, Adapter: a})
	}
	return out, nil
}

// RunSource ingests one source and records the run in the ledger. Records
// that fail normalization are skipped; a store failure aborts the run, but
// every upsert already made stays.
func (p *Pipeline) RunSource(ctx context.Context, src Source) (db.Run, error) {
	name := src.Config.Name
	log := p.log.With(zap.String(logger.FieldSource, name))

	run, err := p.store.StartRun(ctx, name)
	if err != nil {
		return db.Run{}, err
	}
	log = log.With(zap.String(logger.FieldRunID, run.ID.String()))
	log.Info("ingestion started")

	defaults := src.Config.Defaults()
	authority := src.Config.Authority()
	run.SkipReasons = map[string]int{}

	runErr := src.Adapter.Records(ctx, func(raw RawRecord) error {
		if raw.Source == "" {
			raw.Source = name
		}
		run.Seen++
		p.metrics.Record(name, metrics.OutcomeSeen)

		candidate, err := p.normalizer.Normalize(raw, defaults)
		if err != nil {
			var nerr *NormalizationError
			if !errors.As(err, &nerr) {
				return err
			}
			run.Skipped++
			run.SkipReasons[nerr.SkipKey()]++
			p.metrics.Skip(name, nerr.SkipKey())
			log.Warn("record skipped",
				append(logger.SourceFields(raw.Source, raw.NativeID),
					zap.String("field", nerr.Field),
					zap.String("reason", nerr.Reason),
					zap.String("value", logger.Truncate(nerr.Value, 80)),
				)...,
			)
			return nil
		}
		run.Normalized++
		p.metrics.Record(name, metrics.OutcomeNormalized)

		res, err := p.store.Upsert(ctx, candidate, authority)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case db.OutcomeInserted:
			run.Inserted++
		case db.OutcomeMerged:
			run.Merged++
		case db.OutcomeUnchanged:
			run.Unchanged++
		}
		p.metrics.Record(name, string(res.Outcome))
		p.metrics.ObserveScore(res.Opportunity.Score)
		return nil
	})

	run.Status = db.RunCompleted
	if runErr != nil {
		run.Status = db.RunFailed
		run.Error = runErr.Error()
	}

	// The ledger entry is written even when ctx was cancelled.
	finished, err := p.store.FinishRun(context.WithoutCancel(ctx), run)
	if err != nil {
		log.Error("failed to record run", zap.Error(err))
	}
	p.metrics.RunFinished(name, finished.Status, finished.Duration())

	fields := []zap.Field{
		zap.String("status", finished.Status),
		zap.Int("seen", finished.Seen),
		zap.Int("normalized", finished.Normalized),
		zap.Int("skipped", finished.Skipped),
		zap.Int("inserted", finished.Inserted),
		zap.Int("merged", finished.Merged),
		zap.Int("unchanged", finished.Unchanged),
		zap.Any("skip_reasons", finished.SkipReasons),
		zap.Duration("duration", finished.Duration().Round(time.Millisecond)),
	}
	if runErr != nil {
		log.Error("ingestion failed", append(fields, zap.Error(runErr))...)
		return finished, fmt.Errorf("ingest %s: %w", name, runErr)
	}
	log.Info("ingestion finished", fields...)
	return finished, nil
}

// RunSources ingests every source, at most concurrency at a time. A failed
// source does not stop the others; all failures are returned joined.
func (p *Pipeline) RunSources(ctx context.Context, sources []Source) ([]db.Run, error) {
	runs := make([]db.Run, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			runs[i], errs[i] = p.RunSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	return runs, errors.Join(errs...)
}
