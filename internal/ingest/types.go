package ingest

import (
	"context"
	"fmt"
)

// Raw field keys adapters fill in. Values are untrusted text.
const (
	FieldTitle              = "title"
	FieldDescription        = "description"
	FieldAgency             = "agency"
	FieldJurisdiction       = "jurisdiction"
	FieldEstimatedValue     = "estimated_value"
	FieldDeadline           = "deadline"
	FieldSetAside           = "set_aside"
	FieldPostedDate         = "posted_date"
	FieldURL                = "url"
	FieldSolicitationNumber = "solicitation_number"
	FieldNAICS              = "naics"
	FieldContactName        = "contact_name"
	FieldContactEmail       = "contact_email"
)

// RawRecord is one listing as a source adapter produced it.
type RawRecord struct {
	Source   string
	NativeID string // empty when the source has no stable id
	Fields   map[string]string
}

func (r RawRecord) Get(field string) string {
	return r.Fields[field]
}

// Adapter produces raw records for one source. Implementations stream
// records to emit and stop at the first error emit returns.
type Adapter interface {
	Records(ctx context.Context, emit func(RawRecord) error) error
}

// AdapterFunc lets a plain function serve as an Adapter.
type AdapterFunc func(ctx context.Context, emit func(RawRecord) error) error

func (f AdapterFunc) Records(ctx context.Context, emit func(RawRecord) error) error {
	return f(ctx, emit)
}

// SliceAdapter replays a fixed set of records, used for manual imports and tests.
type SliceAdapter []RawRecord

func (s SliceAdapter) Records(ctx context.Context, emit func(RawRecord) error) error {
	for _, r := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	return nil
}

// Normalization failure reasons.
const (
	ReasonMissing     = "missing"
	ReasonUnparseable = "unparseable"
)

// NormalizationError names the field that made a raw record unusable. The
// record is skipped and the run continues.
type NormalizationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *NormalizationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("normalize %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("normalize %s: %s value %q", e.Field, e.Reason, e.Value)
}

// SkipKey groups skips in run summaries, e.g. "currency: unparseable".
func (e *NormalizationError) SkipKey() string {
	return e.Field + ": " + e.Reason
}
