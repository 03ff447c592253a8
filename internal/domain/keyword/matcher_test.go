package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeywords(t *testing.T) []Keyword {
	t.Helper()

	raw := []struct {
		value string
		typ   Type
	}{
		{"kernel", TypeAllowlist},
		{`(?:\W|^)\.NET\b`, TypeAllowlistSpecialCase},
		{".*plugin.*for WordPress", TypeBlocklist},
		{"Cisco", TypeBlocklist},
		{"IBM Tivoli", TypeBlocklist},
		{"iTunes", TypeBlocklist},
		{"iOS", TypeBlocklistSpecialCase},
	}

	kws := make([]Keyword, 0, len(raw))
	for _, r := range raw {
		kw, err := New(r.value, r.typ)
		require.NoError(t, err)
		kws = append(kws, kw)
	}
	return kws
}

func TestMatcher_Check(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher(testKeywords(t))
	require.NoError(t, err)
	assert.Equal(t, 7, m.Len())

	tests := []struct {
		name   string
		text   string
		ingest bool
	}{
		{name: "no keyword", text: "A buffer overflow in libpng allows code execution.", ingest: true},
		{name: "blocked vendor", text: "A flaw in Cisco IOS XE allows privilege escalation.", ingest: false},
		{name: "blocklist is case insensitive", text: "the cisco web UI leaks session ids", ingest: false},
		{name: "wordpress plugin", text: "The Forms plugin for WordPress is vulnerable to XSS.", ingest: false},
		{name: "special case is case sensitive", text: "Apple iOS before 17 leaks data.", ingest: false},
		{name: "special case miss on other casing", text: "The bios firmware ios helper is affected.", ingest: true},
		{name: "allowlist overrides blocklist", text: "Cisco appliances ship a vulnerable Linux kernel.", ingest: true},
		{name: "allowlist needs whole word", text: "Cisco kernels are fine here.", ingest: false},
		{name: "dotnet special case", text: "Cisco tooling built on .NET leaks memory.", ingest: true},
		{name: "dotnet needs exact case", text: "Cisco tooling built on .net leaks memory.", ingest: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.ingest, m.Check(tt.text).Ingest())
		})
	}
}

func TestMatcher_CheckReportsMatches(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher(testKeywords(t))
	require.NoError(t, err)

	res := m.Check("iTunes on Cisco runs a kernel module")
	assert.Equal(t, []string{"kernel"}, res.Allowed)
	assert.ElementsMatch(t, []string{"Cisco", "iTunes"}, res.Blocked)
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		typ   Type
	}{
		{name: "empty", value: "", typ: TypeAllowlist},
		{name: "unknown type", value: "kernel", typ: Type("GREYLIST")},
		{name: "bad regex", value: "kernel(", typ: TypeBlocklist},
		{name: "too long", value: string(make([]byte, MaxLength+1)), typ: TypeBlocklist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.value, tt.typ)
			assert.ErrorIs(t, err, ErrInvalidKeyword)
		})
	}
}
