package flaw

import (
	"strings"
	"time"

	"github.com/wasilibs/go-re2"
)

// cvePattern accepts CVE identifiers with a four digit year from 1999 on and a
// sequence of at least four digits. A sequence of 0000 is rejected separately.
var cvePattern = re2.MustCompile(`^CVE-(?:1999|2\d{3})-(?:0\d{3}|[1-9]\d{3,})$`)

// cwePattern accepts a single CWE or a parenthesised chain such as CWE-79->CWE-80.
var cwePattern = re2.MustCompile(`^\(?CWE-[1-9]\d*(?:(?:->|\|)\(?CWE-[1-9]\d*\)?)*\)?$`)

// ValidCVEID reports whether id is a well formed CVE identifier.
func ValidCVEID(id string) bool {
	return cvePattern.MatchString(id) && !strings.HasSuffix(id, "-0000")
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError groups every rule a flaw failed.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is(err, ErrValidation) match any validation error.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Fields lists the distinct field names that failed, in order of appearance.
func (e *ValidationError) Fields() []string {
	seen := make(map[string]struct{}, len(e.Errors))
	var out []string
	for _, fe := range e.Errors {
		if _, ok := seen[fe.Field]; ok {
			continue
		}
		seen[fe.Field] = struct{}{}
		out = append(out, fe.Field)
	}
	return out
}

// Validate checks the business rules of the flaw at time now. It returns nil
// or a *ValidationError listing every failure.
func (f *Flaw) Validate(now time.Time) error {
	var errs []FieldError
	add := func(field, msg string) { errs = append(errs, FieldError{Field: field, Message: msg}) }

	if strings.TrimSpace(f.Title) == "" {
		add(FieldTitle, "Title value is required.")
	}
	if f.Source == SourceNone {
		add(FieldSource, "Source value is required.")
	} else if !f.Source.IsValid() {
		add(FieldSource, "Source value is not a known source.")
	}
	if f.CVEID != "" && !ValidCVEID(f.CVEID) {
		add(FieldCVEID, "CVE ID is not well formed.")
	}
	if f.CWEID != "" && !cwePattern.MatchString(f.CWEID) {
		add(FieldCWEID, "CWE ID is not well formed.")
	}
	if !f.Impact.IsValid() {
		add(FieldImpact, "Impact value is not a known impact.")
	}
	if !f.MajorIncidentState.IsValid() {
		add(FieldMajorIncidentState, "Major incident state is not a known state.")
	}
	if !f.WorkflowState.IsValid() {
		add(FieldWorkflowState, "Workflow state is not a known state.")
	}
	if f.Embargoed && !f.UnembargoAt.IsZero() && f.UnembargoAt.Before(now) {
		add(FieldEmbargoed, "Flaw still embargoed but unembargo date is in the past.")
	}
	if !f.Embargoed && !f.UnembargoAt.IsZero() && f.UnembargoAt.After(now) {
		add(FieldUnembargoAt, "Public flaw has an unembargo date in the future.")
	}
	for _, c := range f.Components {
		if strings.TrimSpace(c) == "" {
			add(FieldComponents, "Components cannot contain empty values.")
			break
		}
	}
	for _, a := range f.Affects {
		for _, fe := range a.validate() {
			errs = append(errs, FieldError{Field: FieldAffects, Message: fe.Field + ": " + fe.Message})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}
