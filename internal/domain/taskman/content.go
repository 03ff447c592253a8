package taskman

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ahrav/flawtracker/internal/domain/flaw"
)

// MaxSummaryLength is the longest summary a tracker accepts.
const MaxSummaryLength = 255

// LabelFlawUUIDPrefix prefixes the label that ties a task to its flaw.
const LabelFlawUUIDPrefix = "flawuuid:"

const (
	embargoNotice = "NOTE THIS ISSUE IS CURRENTLY EMBARGOED, " +
		"DO NOT MAKE PUBLIC COMMITS OR COMMENTS ABOUT THIS ISSUE."
	embargoWarning = "WARNING: NOTICE THAT CHANGING THE SECURITY LEVEL FROM " +
		`"SECURITY ISSUE" TO "RED HAT INTERNAL" MAY BREAK THE EMBARGO.`
	vulnMgmtText = "The following link provides references to all essential vulnerability " +
		"management information. If something is wrong or missing, please contact a member of PSIRT.\n"
)

var majorIncidentPrefixes = map[flaw.MajorIncidentState]string{
	flaw.MajorIncidentApproved:     "[Major Incident]",
	flaw.MajorIncidentCISAApproved: "[CISA Major Incident]",
	flaw.MajorIncidentMinor:        "[Minor Incident]",
	flaw.MajorIncidentZeroDay:      "[0-day]",
}

// ContentBuilder renders the summary, description and labels of a task.
type ContentBuilder struct {
	redact      func(string) string
	vulnMgmtURL string
}

// ContentOption configures a ContentBuilder.
type ContentOption func(*ContentBuilder)

// WithRedactor sets a function applied to free text taken from the flaw.
func WithRedactor(fn func(string) string) ContentOption {
	return func(b *ContentBuilder) { b.redact = fn }
}

// WithVulnMgmtURL appends a link to vulnerability management information.
func WithVulnMgmtURL(url string) ContentOption {
	return func(b *ContentBuilder) { b.vulnMgmtURL = url }
}

// NewContentBuilder creates a ContentBuilder.
func NewContentBuilder(opts ...ContentOption) *ContentBuilder {
	b := &ContentBuilder{redact: func(s string) string { return s }}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Summary renders "<prefixes><cve> <component>: <title>", shortening the
// title and then dropping the CVE until it fits MaxSummaryLength.
func (b *ContentBuilder) Summary(f *flaw.Flaw) string {
	prefixes := summaryPrefixes(f)
	component := ""
	if len(f.Components) > 0 {
		component = f.Components[0] + ": "
	}
	cve := ""
	if f.CVEID != "" {
		cve = f.CVEID + " "
	}
	title := f.Title

	compose := func() string { return prefixes + cve + component + title }

	summary := compose()
	if over := utf8.RuneCountInString(summary) - MaxSummaryLength; over > 0 {
		titleRunes := []rune(title)
		if keep := len(titleRunes) - over - len("..."); keep > 0 {
			title = string(titleRunes[:keep]) + "..."
		} else {
			cve = ""
			title = truncateRunes(f.Title, MaxSummaryLength-utf8.RuneCountInString(prefixes+component))
		}
		summary = compose()
	}
	return truncateRunes(summary, MaxSummaryLength)
}

func summaryPrefixes(f *flaw.Flaw) string {
	var prefixes []string
	if f.Embargoed {
		prefixes = append(prefixes, "EMBARGOED")
	}
	if p, ok := majorIncidentPrefixes[f.MajorIncidentState]; ok {
		prefixes = append(prefixes, p)
	}
	if len(prefixes) == 0 {
		return ""
	}
	slices.Sort(prefixes)
	return strings.Join(prefixes, " ") + " "
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= len("...") {
		return string(r[:n])
	}
	return string(r[:n-len("...")]) + "..."
}

// Description renders the task body as blank line separated parts.
func (b *ContentBuilder) Description(f *flaw.Flaw) string {
	var parts []string
	if f.Embargoed {
		parts = append(parts, embargoNotice, embargoWarning)
	}

	parts = append(parts, "Flaw:\n-----", f.Title)
	if f.CommentZero != "" {
		parts = append(parts, b.redact(f.CommentZero))
	}

	if len(f.Affects) > 0 {
		lines := make([]string, 0, len(f.Affects))
		for _, a := range f.Affects {
			line := fmt.Sprintf("* %s/%s: %s", a.PsModule, a.PsComponent, a.Affectedness)
			if a.Resolution != flaw.ResolutionNone {
				line += " (" + string(a.Resolution) + ")"
			}
			lines = append(lines, line)
		}
		parts = append(parts, "Affects:\n"+strings.Join(lines, "\n"))
	}
	parts = append(parts, "~~~")

	if b.vulnMgmtURL != "" {
		parts = append(parts, vulnMgmtText+b.vulnMgmtURL)
	}
	return strings.Join(parts, "\n\n")
}

// Labels returns the labels every task of f carries.
func (b *ContentBuilder) Labels(f *flaw.Flaw) []string {
	labels := []string{LabelFlawUUIDPrefix + f.ID().String(), "SecurityTracking"}
	if f.Impact != flaw.ImpactNone {
		labels = append(labels, "impact:"+strings.ToLower(string(f.Impact)))
	}
	return labels
}
