package db

import (
	"context"
	"maps"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/models"
)

func TestBuildFilterWhere_DefaultHidesExpired(t *testing.T) {
	where, args := buildFilterWhere(models.Filter{})

	mustContain := []string{
		"o.expired = false",
		"ORDER BY o.score DESC, o.posted_date DESC, o.id ASC",
	}
	for _, token := range mustContain {
		if !strings.Contains(where, token) {
			t.Fatalf("clause missing token %q: %s", token, where)
		}
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
	if strings.Contains(where, "LIMIT") {
		t.Fatalf("unbounded query must not carry a limit: %s", where)
	}
}

func TestBuildFilterWhere_NumbersArguments(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	where, args := buildFilterWhere(models.Filter{
		MinScore:       ptr(60.0),
		Statuses:       []models.Status{models.StatusNew, models.StatusReviewing},
		Jurisdictions:  []string{" Arlington County ", ""},
		Categories:     []string{"Waterproofing"},
		PostedFrom:     &from,
		IncludeExpired: true,
		Limit:          25,
	})

	for _, token := range []string{
		"o.score >= $1",
		"o.status = ANY($2)",
		"lower(o.jurisdiction) = ANY($3)",
		"lower(o.category) = ANY($4)",
		"o.posted_date >= $5::date",
		"LIMIT $6",
	} {
		if !strings.Contains(where, token) {
			t.Fatalf("clause missing token %q: %s", token, where)
		}
	}
	if strings.Contains(where, "expired = false") {
		t.Fatalf("IncludeExpired must drop the expired predicate: %s", where)
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if j := args[2].([]string); len(j) != 1 || j[0] != "arlington county" {
		t.Fatalf("jurisdictions not normalized: %v", j)
	}
}

func TestDecodeSkipReasons(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]int
		wantErr bool
	}{
		{"empty", "", map[string]int{}, false},
		{"empty object", "{}", map[string]int{}, false},
		{"counts", `{"title:missing": 2, "date:unparseable": 1}`, map[string]int{"title:missing": 2, "date:unparseable": 1}, false},
		{"array", `["title:missing"]`, nil, true},
		{"non-integer count", `{"title:missing": "two"}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeSkipReasons([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !maps.Equal(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMigrationFilesAreOrdered(t *testing.T) {
	files, err := migrationFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 3 || files[0] != "001_opportunities.sql" {
		t.Fatalf("unexpected migrations %v", files)
	}
}

// TestPostgresBackend runs the store contract against a real database when
// DATABASE_URL points at one.
func TestPostgresBackend(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dbURL)
	if err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	defer pool.Close()
	if _, err := ApplyMigrations(ctx, pool, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	p, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(NewPostgresBackend(pool), p, nil)

	native := "it-" + time.Now().Format("150405.000000000")
	first, err := s.Upsert(ctx, courthouseCandidate("integration", native), nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := s.Upsert(ctx, courthouseCandidate("integration", native), nil)
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if second.Opportunity.ID != first.Opportunity.ID {
		t.Fatalf("native id resolved to a new row")
	}

	got, err := s.GetBySourceID(ctx, "integration", native)
	if err != nil {
		t.Fatalf("get by source id: %v", err)
	}
	if got.Score != first.Opportunity.Score || got.SourceIDs["integration"] != native {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := s.SetStatus(ctx, got.ID, models.StatusPassed); err != nil {
		t.Fatalf("set status: %v", err)
	}
	third, err := s.Upsert(ctx, courthouseCandidate("integration", native), nil)
	if err != nil {
		t.Fatal(err)
	}
	if third.Opportunity.Status != models.StatusPassed {
		t.Fatalf("ingestion reverted status to %s", third.Opportunity.Status)
	}
}
