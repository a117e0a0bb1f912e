package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/db"
	"github.com/oakbuilders/bid-finder/internal/models"
)

func newTestPipeline(t *testing.T) (*Pipeline, *db.Store, *observer.ObservedLogs) {
	t.Helper()
	p, err := config.Default()
	if err != nil {
		t.Fatalf("default profile: %v", err)
	}
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)

	store := db.NewStore(db.NewMemoryBackend(), p, log).WithClock(func() time.Time { return fixedNow })
	return NewPipeline(store, newTestNormalizer(t), nil, log), store, logs
}

func courthouseRecord(source, nativeID string) RawRecord {
	return RawRecord{
		Source:   source,
		NativeID: nativeID,
		Fields: map[string]string{
			FieldTitle:          "Exterior Waterproofing Courthouse Annex",
			FieldAgency:         "Arlington County Facilities",
			FieldJurisdiction:   "Arlington",
			FieldEstimatedValue: "$120,000",
			FieldDeadline:       "03/20/2026",
			FieldPostedDate:     "2026-02-27",
			FieldSetAside:       "Small Business",
		},
	}
}

func TestRunSourceSummary(t *testing.T) {
	pipe, store, logs := newTestPipeline(t)
	ctx := context.Background()

	other := courthouseRecord("eva", "EVA-2")
	other.Fields[FieldTitle] = "Tenant improvement, suite 200 build-out"

	src := Source{
		Config: SourceConfig{Name: "eva"},
		Adapter: SliceAdapter{
			courthouseRecord("eva", "EVA-1"),
			courthouseRecord("eva", "EVA-1"),
			{Source: "eva", NativeID: "EVA-3", Fields: map[string]string{FieldJurisdiction: "Arlington"}},
			{Source: "eva", NativeID: "EVA-4", Fields: map[string]string{FieldTitle: "Roof repair", FieldJurisdiction: "Arlington", FieldEstimatedValue: "call the office"}},
			other,
		},
	}

	run, err := pipe.RunSource(ctx, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != db.RunCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}
	if run.Seen != 5 || run.Normalized != 3 || run.Skipped != 2 {
		t.Errorf("seen/normalized/skipped = %d/%d/%d, want 5/3/2", run.Seen, run.Normalized, run.Skipped)
	}
	if run.Inserted != 2 || run.Merged != 0 || run.Unchanged != 1 {
		t.Errorf("inserted/merged/unchanged = %d/%d/%d, want 2/0/1", run.Inserted, run.Merged, run.Unchanged)
	}
	if run.SkipReasons["title: missing"] != 1 || run.SkipReasons["currency: unparseable"] != 1 {
		t.Errorf("unexpected skip reasons %v", run.SkipReasons)
	}

	skips := logs.FilterMessage("record skipped").All()
	if len(skips) != 2 {
		t.Fatalf("expected 2 skip log entries, got %d", len(skips))
	}
	if got := skips[0].ContextMap()["field"]; got != "title" {
		t.Errorf("first skip field = %v, want title", got)
	}
	if logs.FilterMessage("ingestion finished").Len() != 1 {
		t.Error("expected a run summary log entry")
	}

	runs, err := store.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Inserted != 2 || runs[0].FinishedAt == nil {
		t.Fatalf("unexpected ledger %+v", runs)
	}

	rows, err := store.Collect(ctx, models.Filter{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 stored rows, got %d", len(rows))
	}
}

func TestRunSourcesMergesAcrossSources(t *testing.T) {
	pipe, store, _ := newTestPipeline(t)
	ctx := context.Background()

	county := courthouseRecord("county-bids", "")
	delete(county.Fields, FieldEstimatedValue)

	sources := []Source{
		{Config: SourceConfig{Name: "eva"}, Adapter: SliceAdapter{courthouseRecord("eva", "EVA-1")}},
		{Config: SourceConfig{Name: "county-bids"}, Adapter: SliceAdapter{county}},
	}

	runs, err := pipe.WithConcurrency(2).RunSources(ctx, sources)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if total := runs[0].Inserted + runs[1].Inserted; total != 1 {
		t.Errorf("expected exactly one insert, got %d", total)
	}
	if total := runs[0].Merged + runs[1].Merged; total != 1 {
		t.Errorf("expected exactly one merge, got %d", total)
	}

	rows, err := store.Collect(ctx, models.Filter{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one merged row, got %d", len(rows))
	}
	if _, ok := rows[0].SourceIDs["county-bids"]; !ok {
		t.Errorf("expected both sources on the row, got %v", rows[0].SourceIDs)
	}
	if rows[0].SourceIDs["eva"] != "EVA-1" {
		t.Errorf("native id lost: %v", rows[0].SourceIDs)
	}
}

func TestRunSourceAdapterFailure(t *testing.T) {
	pipe, store, _ := newTestPipeline(t)
	ctx := context.Background()
	boom := errors.New("portal returned 503")

	src := Source{
		Config: SourceConfig{Name: "eva"},
		Adapter: AdapterFunc(func(ctx context.Context, emit func(RawRecord) error) error {
			if err := emit(courthouseRecord("eva", "EVA-1")); err != nil {
				return err
			}
			return boom
		}),
	}

	run, err := pipe.RunSource(ctx, src)
	if !errors.Is(err, boom) {
		t.Fatalf("expected adapter error, got %v", err)
	}
	if run.Status != db.RunFailed || run.Error == "" {
		t.Errorf("expected failed run with error, got %+v", run)
	}
	if run.Inserted != 1 {
		t.Errorf("upserts before the failure should count, got %d", run.Inserted)
	}

	if _, err := store.GetBySourceID(ctx, "eva", "EVA-1"); err != nil {
		t.Fatalf("earlier upsert should persist: %v", err)
	}
}

func TestRunSourcesStopsOnCancelledContext(t *testing.T) {
	pipe, _, _ := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipe.RunSources(ctx, []Source{
		{Config: SourceConfig{Name: "eva"}, Adapter: SliceAdapter{courthouseRecord("eva", "EVA-1")}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
