package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/oakbuilders/bid-finder/internal/db"
)

func TestMetricsCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Record("eva", OutcomeSeen)
	m.Record("eva", OutcomeSeen)
	m.Skip("eva", "currency: unparseable")
	m.RunFinished("eva", db.RunCompleted, 2*time.Second)
	m.ObserveScore(87.5)

	if got := testutil.ToFloat64(m.records.WithLabelValues("eva", OutcomeSeen)); got != 2 {
		t.Errorf("seen = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.records.WithLabelValues("eva", OutcomeSkipped)); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.skips.WithLabelValues("eva", "currency: unparseable")); got != 1 {
		t.Errorf("skip reason = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("eva", db.RunCompleted)); got != 1 {
		t.Errorf("runs = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Record("eva", OutcomeSeen)
	m.Skip("eva", "title: missing")
	m.ObserveScore(10)
	m.RunFinished("eva", db.RunFailed, time.Second)
}

type statsFunc func(ctx context.Context) (db.Stats, error)

func (f statsFunc) Stats(ctx context.Context) (db.Stats, error) { return f(ctx) }

func TestStoreCollector(t *testing.T) {
	c := NewStoreCollector(statsFunc(func(context.Context) (db.Stats, error) {
		return db.Stats{
			Expired:       3,
			HighRelevance: 4,
			ByStatus:      map[string]int{"new": 5, "won": 1},
		}, nil
	}), nil)

	expected := `
# HELP bidfinder_opportunities Stored opportunities by status
# TYPE bidfinder_opportunities gauge
bidfinder_opportunities{status="new"} 5
bidfinder_opportunities{status="won"} 1
# HELP bidfinder_opportunities_expired Opportunities flagged expired
# TYPE bidfinder_opportunities_expired gauge
bidfinder_opportunities_expired 3
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"bidfinder_opportunities", "bidfinder_opportunities_expired"); err != nil {
		t.Fatal(err)
	}

	failing := NewStoreCollector(statsFunc(func(context.Context) (db.Stats, error) {
		return db.Stats{}, errors.New("connection refused")
	}), nil)
	if n := testutil.CollectAndCount(failing); n != 0 {
		t.Fatalf("expected no metrics on error, got %d", n)
	}
}
