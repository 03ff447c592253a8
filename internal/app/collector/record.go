package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ahrav/flawtracker/internal/domain/flaw"
)

// cveRecord is the subset of a CVE JSON 5.x record the collector reads.
type cveRecord struct {
	DataType    string      `json:"dataType"`
	DataVersion string      `json:"dataVersion"`
	Metadata    cveMetadata `json:"cveMetadata"`
	Containers  struct {
		CNA cnaContainer   `json:"cna"`
		ADP []adpContainer `json:"adp"`
	} `json:"containers"`
}

type cveMetadata struct {
	CVEID         string `json:"cveId"`
	State         string `json:"state"`
	DateReserved  string `json:"dateReserved"`
	DatePublished string `json:"datePublished"`
	DateUpdated   string `json:"dateUpdated"`
}

type cnaContainer struct {
	Title        string        `json:"title"`
	Descriptions []description `json:"descriptions"`
	Affected     []affected    `json:"affected"`
	Metrics      []metric      `json:"metrics"`
	ProblemTypes []struct {
		Descriptions []struct {
			CWEID string `json:"cweId"`
			Lang  string `json:"lang"`
		} `json:"descriptions"`
	} `json:"problemTypes"`
}

type adpContainer struct {
	Title   string   `json:"title"`
	Metrics []metric `json:"metrics"`
}

type description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type affected struct {
	Vendor        string    `json:"vendor"`
	Product       string    `json:"product"`
	CollectionURL string    `json:"collectionURL"`
	PackageName   string    `json:"packageName"`
	DefaultStatus string    `json:"defaultStatus"`
	Versions      []version `json:"versions"`
}

type version struct {
	Version         string `json:"version"`
	Status          string `json:"status"`
	LessThan        string `json:"lessThan"`
	LessThanOrEqual string `json:"lessThanOrEqual"`
	VersionType     string `json:"versionType"`
}

type metric struct {
	CVSSv40 *cvss `json:"cvssV4_0"`
	CVSSv31 *cvss `json:"cvssV3_1"`
	CVSSv30 *cvss `json:"cvssV3_0"`
}

type cvss struct {
	BaseSeverity string  `json:"baseSeverity"`
	BaseScore    float64 `json:"baseScore"`
}

const (
	stateRejected = "REJECTED"
	maxTitleLen   = 100
)

var errNotCVERecord = errors.New("not a CVE record")

func parseRecord(data []byte) (*cveRecord, error) {
	var r cveRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding CVE record: %w", err)
	}
	if r.DataType != "CVE_RECORD" || r.Metadata.CVEID == "" {
		return nil, errNotCVERecord
	}
	return &r, nil
}

func (r *cveRecord) rejected() bool { return strings.EqualFold(r.Metadata.State, stateRejected) }

// englishDescription returns the first English description, falling back to
// any description at all.
func (r *cveRecord) englishDescription() string {
	descs := r.Containers.CNA.Descriptions
	for _, d := range descs {
		if strings.HasPrefix(strings.ToLower(d.Lang), "en") {
			return strings.TrimSpace(d.Value)
		}
	}
	if len(descs) > 0 {
		return strings.TrimSpace(descs[0].Value)
	}
	return ""
}

// title prefers the CNA title and otherwise shortens the description.
func (r *cveRecord) title() string {
	if t := strings.TrimSpace(r.Containers.CNA.Title); t != "" {
		return t
	}
	desc := r.englishDescription()
	if desc == "" {
		return r.Metadata.CVEID
	}
	if i := strings.IndexAny(desc, "\n"); i > 0 {
		desc = desc[:i]
	}
	if len(desc) > maxTitleLen {
		desc = strings.TrimSpace(desc[:maxTitleLen-3]) + "..."
	}
	return desc
}

func (r *cveRecord) cweID() string {
	for _, pt := range r.Containers.CNA.ProblemTypes {
		for _, d := range pt.Descriptions {
			if d.CWEID != "" {
				return d.CWEID
			}
		}
	}
	return ""
}

// severity returns the CNA's CVSS base severity. CISA ADP scores are used
// only when the CNA gave none.
func (r *cveRecord) severity() string {
	if s := severityOf(r.Containers.CNA.Metrics); s != "" {
		return s
	}
	for _, adp := range r.Containers.ADP {
		if s := severityOf(adp.Metrics); s != "" {
			return s
		}
	}
	return ""
}

func severityOf(metrics []metric) string {
	for _, m := range metrics {
		for _, c := range []*cvss{m.CVSSv31, m.CVSSv30, m.CVSSv40} {
			if c != nil && c.BaseSeverity != "" {
				return strings.ToUpper(c.BaseSeverity)
			}
		}
	}
	return ""
}

func impactFromSeverity(severity string) flaw.Impact {
	switch severity {
	case "CRITICAL":
		return flaw.ImpactCritical
	case "HIGH":
		return flaw.ImpactImportant
	case "MEDIUM":
		return flaw.ImpactModerate
	case "LOW":
		return flaw.ImpactLow
	default:
		return flaw.ImpactNone
	}
}

func (r *cveRecord) published() time.Time {
	for _, raw := range []string{r.Metadata.DatePublished, r.Metadata.DateReserved} {
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// affects converts the CNA affected products. Entries without a product name
// are skipped and duplicates collapse onto the first occurrence.
func (r *cveRecord) affects(impact flaw.Impact) []*flaw.Affect {
	var out []*flaw.Affect
	seen := make(map[string]struct{})

	for _, p := range r.Containers.CNA.Affected {
		component := p.PackageName
		if component == "" {
			component = p.Product
		}
		if component == "" || strings.EqualFold(component, "n/a") {
			continue
		}
		module := strings.ToLower(strings.TrimSpace(p.Vendor))
		if module == "" || module == "n/a" {
			module = "unknown"
		}

		key := module + "/" + component
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		a := flaw.NewAffect(module, component)
		a.Impact = impact
		a.Affectedness = affectednessOf(p)
		if purl, ok := flaw.PackageURL(p.CollectionURL, p.PackageName, ""); ok {
			a.PURL = purl
			a.AffectedVersions = versionRange(purl, p.Versions)
			if !rangeConsistent(a, p.Versions) {
				a.AffectedVersions = ""
			}
		}
		out = append(out, a)
	}
	return out
}

func affectednessOf(p affected) flaw.Affectedness {
	statuses := make([]string, 0, len(p.Versions)+1)
	for _, v := range p.Versions {
		statuses = append(statuses, strings.ToLower(v.Status))
	}
	if len(statuses) == 0 {
		statuses = append(statuses, strings.ToLower(p.DefaultStatus))
	}

	switch {
	case slices.Contains(statuses, "affected"):
		return flaw.AffectednessAffected
	case len(statuses) > 0 && !slices.ContainsFunc(statuses, func(s string) bool { return s != "unaffected" }):
		return flaw.AffectednessNotAffected
	default:
		return flaw.AffectednessNew
	}
}

// versionRange builds a constraint from the first affected version range.
// Ranges without an upper bound are not representable and yield "".
func versionRange(purl string, versions []version) string {
	for _, v := range versions {
		if !strings.EqualFold(v.Status, "affected") {
			continue
		}

		var clauses []string
		if v.Version != "" && v.Version != "0" && v.Version != "*" {
			clauses = append(clauses, ">="+v.Version)
		}
		switch {
		case v.LessThan != "" && v.LessThan != "*":
			clauses = append(clauses, "<"+v.LessThan)
		case v.LessThanOrEqual != "" && v.LessThanOrEqual != "*":
			clauses = append(clauses, "<="+v.LessThanOrEqual)
		default:
			continue
		}
		return flaw.VersionRange(purl, clauses...)
	}
	return ""
}

// rangeConsistent reports whether the affect's range parses and leaves out
// every version the record lists as unaffected.
func rangeConsistent(a *flaw.Affect, versions []version) bool {
	if a.AffectedVersions == "" {
		return true
	}
	if a.CheckVersionRange() != nil {
		return false
	}
	for _, v := range versions {
		if !strings.EqualFold(v.Status, "unaffected") || v.Version == "" || v.LessThan != "" || v.LessThanOrEqual != "" {
			continue
		}
		affected, err := a.AffectsVersion(v.Version)
		if err == nil && affected {
			return false
		}
	}
	return true
}

// newFlaw builds a flaw from a published record.
func (r *cveRecord) newFlaw() *flaw.Flaw {
	f := flaw.NewFlaw(r.title(), flaw.SourceCVEOrg)
	f.CVEID = r.Metadata.CVEID
	f.CWEID = r.cweID()
	f.CommentZero = r.englishDescription()
	f.Impact = impactFromSeverity(r.severity())
	f.ReportedAt = r.published()
	for _, a := range r.affects(f.Impact) {
		f.AddAffect(a)
	}
	return f
}

// mergeInto fills gaps in an existing flaw. Analyst edits always win: only
// empty fields are populated and only affects for new components are added.
// It reports whether anything changed.
func (r *cveRecord) mergeInto(f *flaw.Flaw) bool {
	changed := false
	if f.CWEID == "" && r.cweID() != "" {
		f.CWEID = r.cweID()
		changed = true
	}
	if f.CommentZero == "" && r.englishDescription() != "" {
		f.CommentZero = r.englishDescription()
		changed = true
	}
	if f.ReportedAt.IsZero() && !r.published().IsZero() {
		f.ReportedAt = r.published()
		changed = true
	}

	existing := make(map[string]struct{}, len(f.Affects))
	for _, a := range f.Affects {
		existing[a.PsModule+"/"+a.PsComponent] = struct{}{}
	}
	for _, a := range r.affects(f.Impact) {
		if _, ok := existing[a.PsModule+"/"+a.PsComponent]; ok {
			continue
		}
		f.AddAffect(a)
		changed = true
	}
	return changed
}

// keywordText is the text keyword lists are matched against.
func (r *cveRecord) keywordText() string {
	return r.title() + "\n" + r.englishDescription()
}
