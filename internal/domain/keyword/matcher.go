package keyword

import (
	"fmt"

	"github.com/wasilibs/go-re2"
)

type compiled struct {
	kw Keyword
	re *re2.Regexp
}

func compile(kw Keyword) (*re2.Regexp, error) {
	if kw.Type.isSpecialCase() {
		return re2.Compile(kw.Value)
	}
	return re2.Compile(`(?i)\b(?:` + kw.Value + `)\b`)
}

// Matcher checks texts against a fixed set of keywords.
type Matcher struct {
	allow []compiled
	block []compiled
}

// NewMatcher compiles keywords into a Matcher.
func NewMatcher(keywords []Keyword) (*Matcher, error) {
	m := new(Matcher)
	for _, kw := range keywords {
		re, err := compile(kw)
		if err != nil {
			return nil, fmt.Errorf("compiling keyword %q: %w", kw.Value, err)
		}
		c := compiled{kw: kw, re: re}
		if kw.Type.isAllow() {
			m.allow = append(m.allow, c)
		} else {
			m.block = append(m.block, c)
		}
	}
	return m, nil
}

// Result lists the keywords that matched a text.
type Result struct {
	Allowed []string
	Blocked []string
}

// Ingest reports whether the text should become a flaw: it must either
// avoid every blocklist entry or hit at least one allowlist entry.
func (r Result) Ingest() bool { return len(r.Blocked) == 0 || len(r.Allowed) > 0 }

// Check matches text against every keyword.
func (m *Matcher) Check(text string) Result {
	var res Result
	for _, c := range m.allow {
		if c.re.MatchString(text) {
			res.Allowed = append(res.Allowed, c.kw.Value)
		}
	}
	for _, c := range m.block {
		if c.re.MatchString(text) {
			res.Blocked = append(res.Blocked, c.kw.Value)
		}
	}
	return res
}

// Len returns the number of compiled keywords.
func (m *Matcher) Len() int { return len(m.allow) + len(m.block) }
