package resolve

import (
	"maps"
	"slices"
	"time"

	"github.com/oakbuilders/bid-finder/internal/models"
)

// Mergeable field names, as used in per-source authoritative_fields.
const (
	FieldJurisdiction       = "jurisdiction"
	FieldEstimatedValue     = "estimated_value"
	FieldResponseDeadline   = "response_deadline"
	FieldSetAside           = "set_aside_type"
	FieldPostedDate         = "posted_date"
	FieldSourceURL          = "source_url"
	FieldSolicitationNumber = "solicitation_number"
	FieldNAICS              = "naics_code"
	FieldContact            = "contact"
)

var mergeFields = []string{
	models.FieldTitle,
	models.FieldDescription,
	models.FieldAgencyOrOwner,
	FieldJurisdiction,
	FieldEstimatedValue,
	FieldResponseDeadline,
	FieldSetAside,
	FieldPostedDate,
	FieldSourceURL,
	FieldSolicitationNumber,
	FieldNAICS,
	FieldContact,
}

// MergeFields lists every field ingestion may refresh.
func MergeFields() []string {
	return slices.Clone(mergeFields)
}

// Authority reports whether a source may overwrite field.
type Authority func(field string) bool

// AllFields is the authority of a source with no restrictions.
func AllFields(string) bool { return true }

// OnlyFields limits authority to the named fields. An empty list means all.
func OnlyFields(fields []string) Authority {
	if len(fields) == 0 {
		return AllFields
	}
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return func(field string) bool { return set[field] }
}

// Merge folds a freshly normalized candidate into the stored row dst and
// reports whether any stored field changed. Only non-empty candidate values
// the source is authoritative for are taken. Status, notes and reviewer
// edited fields are never touched. Score and timestamps are left to the
// caller.
func Merge(dst *models.Opportunity, src models.Opportunity, may Authority) bool {
	if may == nil {
		may = AllFields
	}
	changed := false
	setString := func(field string, target *string, v string) {
		if v == "" || *target == v || !may(field) || dst.UserEdited(field) {
			return
		}
		*target = v
		changed = true
	}

	setString(models.FieldTitle, &dst.Title, src.Title)
	setString(models.FieldDescription, &dst.Description, src.Description)
	setString(models.FieldAgencyOrOwner, &dst.AgencyOrOwner, src.AgencyOrOwner)

	// A resolved jurisdiction is never replaced by free text.
	if src.Jurisdiction != "" && may(FieldJurisdiction) && !(dst.JurisdictionResolved && !src.JurisdictionResolved) {
		if dst.Jurisdiction != src.Jurisdiction || dst.JurisdictionResolved != src.JurisdictionResolved {
			dst.Jurisdiction = src.Jurisdiction
			dst.JurisdictionResolved = src.JurisdictionResolved
			changed = true
		}
	}

	if src.EstimatedValueLow != nil && src.EstimatedValueHigh != nil && may(FieldEstimatedValue) {
		if !equalPtr(dst.EstimatedValueLow, src.EstimatedValueLow) || !equalPtr(dst.EstimatedValueHigh, src.EstimatedValueHigh) {
			low, high := *src.EstimatedValueLow, *src.EstimatedValueHigh
			dst.EstimatedValueLow, dst.EstimatedValueHigh = &low, &high
			changed = true
		}
	}

	if src.ResponseDeadline != nil && may(FieldResponseDeadline) {
		if dst.ResponseDeadline == nil || !dst.ResponseDeadline.Equal(*src.ResponseDeadline) {
			d := *src.ResponseDeadline
			dst.ResponseDeadline = &d
			changed = true
		}
	}

	if src.SetAsideType != nil && may(FieldSetAside) && !equalPtr(dst.SetAsideType, src.SetAsideType) {
		code := *src.SetAsideType
		dst.SetAsideType = &code
		changed = true
	}

	// An estimated posted date never replaces one a source reported.
	if !src.PostedDateEstimated && may(FieldPostedDate) {
		if dst.PostedDateEstimated || !dst.PostedDate.Equal(src.PostedDate) {
			dst.PostedDate = src.PostedDate
			dst.PostedDateEstimated = false
			changed = true
		}
	}

	setString(FieldSourceURL, &dst.SourceURL, src.SourceURL)
	setString(FieldSolicitationNumber, &dst.SolicitationNumber, src.SolicitationNumber)
	setString(FieldNAICS, &dst.NAICSCode, src.NAICSCode)
	setString(FieldContact, &dst.ContactName, src.ContactName)
	setString(FieldContact, &dst.ContactEmail, src.ContactEmail)

	if mergeSourceIDs(dst, src.SourceIDs) {
		changed = true
	}
	return changed
}

// mergeSourceIDs records every source that reported the opportunity. A
// known native id is never replaced by an empty one.
func mergeSourceIDs(dst *models.Opportunity, ids map[string]string) bool {
	if dst.SourceIDs == nil {
		dst.SourceIDs = map[string]string{}
	}
	before := maps.Clone(dst.SourceIDs)
	for source, native := range ids {
		if have, ok := dst.SourceIDs[source]; !ok || (have == "" && native != "") {
			dst.SourceIDs[source] = native
		}
	}
	return !maps.Equal(before, dst.SourceIDs)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Touch bumps last_seen_at, keeping it at or after first_seen_at.
func Touch(o *models.Opportunity, now time.Time) {
	if now.Before(o.FirstSeenAt) {
		now = o.FirstSeenAt
	}
	if now.After(o.LastSeenAt) {
		o.LastSeenAt = now
	}
}
