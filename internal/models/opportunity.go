package models

import (
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Uncategorized is assigned when no keyword category matches.
const Uncategorized = "uncategorized"

type Status string

const (
	StatusNew          Status = "new"
	StatusReviewing    Status = "reviewing"
	StatusBidSubmitted Status = "bid_submitted"
	StatusWon          Status = "won"
	StatusLost         Status = "lost"
	StatusPassed       Status = "passed"
)

var allStatuses = []Status{StatusNew, StatusReviewing, StatusBidSubmitted, StatusWon, StatusLost, StatusPassed}

// Statuses lists every valid status in workflow order.
func Statuses() []Status {
	return slices.Clone(allStatuses)
}

func (s Status) Valid() bool {
	return slices.Contains(allStatuses, s)
}

// Terminal reports whether only an explicit user action may move the
// opportunity out of s.
func (s Status) Terminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusPassed
}

// Fields a reviewer may edit. Edited fields are locked against ingestion.
const (
	FieldTitle         = "title"
	FieldDescription   = "description"
	FieldAgencyOrOwner = "agency_or_owner"
	FieldNotes         = "notes"
)

// ScoreBreakdown holds the per-factor points that make up Score.
type ScoreBreakdown struct {
	Keyword  float64 `json:"keyword"`
	Location float64 `json:"location"`
	Budget   float64 `json:"budget"`
	Deadline float64 `json:"deadline"`
	SetAside float64 `json:"set_aside"`
}

func (b ScoreBreakdown) Sum() float64 {
	return b.Keyword + b.Location + b.Budget + b.Deadline + b.SetAside
}

type Opportunity struct {
	ID                   uuid.UUID         `json:"id"`
	SourceIDs            map[string]string `json:"source_ids"` // source name -> native id ("" when the source has none)
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	AgencyOrOwner        string            `json:"agency_or_owner"`
	Jurisdiction         string            `json:"jurisdiction"`
	JurisdictionResolved bool              `json:"jurisdiction_resolved"`
	Category             string            `json:"category"`
	EstimatedValueLow    *float64          `json:"estimated_value_low"`
	EstimatedValueHigh   *float64          `json:"estimated_value_high"`
	ResponseDeadline     *time.Time        `json:"response_deadline"`
	SetAsideType         *string           `json:"set_aside_type"`
	PostedDate           time.Time         `json:"posted_date"`
	PostedDateEstimated  bool              `json:"posted_date_estimated"` // source gave none; first-seen day used
	SourceURL            string            `json:"source_url"`
	SolicitationNumber   string            `json:"solicitation_number"`
	NAICSCode            string            `json:"naics_code"`
	ContactName          string            `json:"contact_name"`
	ContactEmail         string            `json:"contact_email"`
	KeywordMatches       []string          `json:"keyword_matches"`
	Score                float64           `json:"score"`
	ScoreBreakdown       ScoreBreakdown    `json:"score_breakdown"`
	Status               Status            `json:"status"`
	Notes                string            `json:"notes"`
	UserEditedFields     []string          `json:"user_edited_fields"`
	Expired              bool              `json:"expired"`
	ExpiredAt            *time.Time        `json:"expired_at"`
	FirstSeenAt          time.Time         `json:"first_seen_at"`
	LastSeenAt           time.Time         `json:"last_seen_at"`
}

// Sources returns the source names that contributed to o, sorted.
func (o Opportunity) Sources() []string {
	names := make([]string, 0, len(o.SourceIDs))
	for name := range o.SourceIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UserEdited reports whether a reviewer has locked field.
func (o Opportunity) UserEdited(field string) bool {
	return slices.Contains(o.UserEditedFields, field)
}

// Clone returns a deep copy so stored rows never alias caller memory.
func (o Opportunity) Clone() Opportunity {
	c := o
	c.SourceIDs = maps.Clone(o.SourceIDs)
	c.KeywordMatches = slices.Clone(o.KeywordMatches)
	c.UserEditedFields = slices.Clone(o.UserEditedFields)
	c.EstimatedValueLow = clonePtr(o.EstimatedValueLow)
	c.EstimatedValueHigh = clonePtr(o.EstimatedValueHigh)
	c.ResponseDeadline = clonePtr(o.ResponseDeadline)
	c.SetAsideType = clonePtr(o.SetAsideType)
	c.ExpiredAt = clonePtr(o.ExpiredAt)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Edit carries reviewer overrides. Nil fields are left untouched.
type Edit struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	AgencyOrOwner *string `json:"agency_or_owner,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

// Apply writes the non-nil fields into o and records them as user edited.
// It returns the names of the fields it touched.
func (e Edit) Apply(o *Opportunity) []string {
	var touched []string
	set := func(field string, dst *string, v *string) {
		if v == nil {
			return
		}
		*dst = *v
		touched = append(touched, field)
		if !slices.Contains(o.UserEditedFields, field) {
			o.UserEditedFields = append(o.UserEditedFields, field)
		}
	}
	set(FieldTitle, &o.Title, e.Title)
	set(FieldDescription, &o.Description, e.Description)
	set(FieldAgencyOrOwner, &o.AgencyOrOwner, e.AgencyOrOwner)
	set(FieldNotes, &o.Notes, e.Notes)
	sort.Strings(o.UserEditedFields)
	return touched
}
