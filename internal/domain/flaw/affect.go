package flaw

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	npm "github.com/aquasecurity/go-npm-version/pkg"
	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/package-url/packageurl-go"

	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

// Affectedness states whether a product is affected by a flaw.
type Affectedness string

const (
	AffectednessNew         Affectedness = "NEW"
	AffectednessAffected    Affectedness = "AFFECTED"
	AffectednessNotAffected Affectedness = "NOTAFFECTED"
)

// Resolution is the planned handling for an affected product.
type Resolution string

const (
	ResolutionNone     Resolution = ""
	ResolutionDelegate Resolution = "DELEGATED"
	ResolutionWontFix  Resolution = "WONTFIX"
	ResolutionOOSS     Resolution = "OOSS"
	ResolutionDefer    Resolution = "DEFER"
	ResolutionFix      Resolution = "FIX"
)

// Affect records that a flaw affects a product component. Each affect is owned
// by exactly one flaw.
type Affect struct {
	id     uuid.UUID
	flawID uuid.UUID

	PsModule         string
	PsComponent      string
	PURL             string
	AffectedVersions string
	Affectedness     Affectedness
	Resolution       Resolution
	Impact           Impact
}

// NewAffect creates an affect that is not yet attached to a flaw.
func NewAffect(psModule, psComponent string) *Affect {
	return &Affect{
		id:           uuid.New(),
		PsModule:     psModule,
		PsComponent:  psComponent,
		Affectedness: AffectednessNew,
	}
}

// ReconstructAffect rebuilds an affect from storage.
func ReconstructAffect(id, flawID uuid.UUID, content Affect) *Affect {
	a := content
	a.id = id
	a.flawID = flawID
	return &a
}

func (a *Affect) ID() uuid.UUID     { return a.id }
func (a *Affect) FlawID() uuid.UUID { return a.flawID }

// key identifies an affect within its flaw for change detection.
func (a *Affect) key() string {
	return a.PsModule + "/" + a.PsComponent
}

// signature captures every field that matters for the remote task body.
func (a *Affect) signature() string {
	return strings.Join([]string{
		a.key(), a.PURL, a.AffectedVersions,
		string(a.Affectedness), string(a.Resolution), string(a.Impact),
	}, "|")
}

// validate checks the affect and reports problems as field errors.
func (a *Affect) validate() []FieldError {
	var errs []FieldError
	prefix := fmt.Sprintf("affects[%s]", a.key())

	if a.PsModule == "" || a.PsComponent == "" {
		errs = append(errs, FieldError{Field: prefix, Message: "Affect requires both a module and a component."})
	}

	switch a.Affectedness {
	case AffectednessNew, AffectednessAffected, AffectednessNotAffected:
	default:
		errs = append(errs, FieldError{Field: prefix, Message: fmt.Sprintf("Unknown affectedness %q.", a.Affectedness)})
	}

	if a.Affectedness == AffectednessNotAffected && a.Resolution != ResolutionNone {
		errs = append(errs, FieldError{Field: prefix, Message: "Not affected products cannot have a resolution."})
	}

	if !a.Impact.IsValid() {
		errs = append(errs, FieldError{Field: prefix, Message: fmt.Sprintf("Unknown impact %q.", a.Impact)})
	}

	if a.PURL != "" {
		if _, err := packageurl.FromString(a.PURL); err != nil {
			errs = append(errs, FieldError{Field: prefix, Message: fmt.Sprintf("Invalid purl: %v.", err)})
		}
	}

	if a.AffectedVersions != "" {
		if _, err := a.versionCheck(); err != nil {
			errs = append(errs, FieldError{Field: prefix, Message: fmt.Sprintf("Invalid affected versions: %v.", err)})
		}
	}

	return errs
}

// AffectsVersion reports whether version falls in the affected range. An
// empty range affects every version. Ranges are read with the version rules
// of the affect's ecosystem: npm and PyPI purls use their own ordering,
// everything else is treated as semver.
func (a *Affect) AffectsVersion(version string) (bool, error) {
	if a.AffectedVersions == "" {
		return true, nil
	}
	check, err := a.versionCheck()
	if err != nil {
		return false, fmt.Errorf("parsing affected versions: %w", err)
	}
	return check(version)
}

// CheckVersionRange reports whether AffectedVersions parses in the affect's
// ecosystem.
func (a *Affect) CheckVersionRange() error {
	if a.AffectedVersions == "" {
		return nil
	}
	_, err := a.versionCheck()
	return err
}

func (a *Affect) ecosystem() string {
	if a.PURL == "" {
		return ""
	}
	p, err := packageurl.FromString(a.PURL)
	if err != nil {
		return ""
	}
	return p.Type
}

func (a *Affect) versionCheck() (func(string) (bool, error), error) {
	switch a.ecosystem() {
	case packageurl.TypeNPM:
		c, err := npm.NewConstraints(a.AffectedVersions)
		if err != nil {
			return nil, err
		}
		return func(version string) (bool, error) {
			v, err := npm.NewVersion(version)
			if err != nil {
				return false, fmt.Errorf("parsing version %q: %w", version, err)
			}
			return c.Check(v), nil
		}, nil

	case packageurl.TypePyPi:
		s, err := pep440.NewSpecifiers(a.AffectedVersions)
		if err != nil {
			return nil, err
		}
		return func(version string) (bool, error) {
			v, err := pep440.Parse(version)
			if err != nil {
				return false, fmt.Errorf("parsing version %q: %w", version, err)
			}
			return s.Check(v), nil
		}, nil

	default:
		c, err := semver.NewConstraint(a.AffectedVersions)
		if err != nil {
			return nil, err
		}
		return func(version string) (bool, error) {
			v, err := semver.NewVersion(version)
			if err != nil {
				return false, fmt.Errorf("parsing version %q: %w", version, err)
			}
			return c.Check(v), nil
		}, nil
	}
}

// VersionRange renders range clauses such as ">=1.0" and "<1.5" as a single
// constraint string in the syntax of the purl's ecosystem.
func VersionRange(purl string, clauses ...string) string {
	a := Affect{PURL: purl}
	switch a.ecosystem() {
	case packageurl.TypeNPM:
		return strings.Join(clauses, " ")
	case packageurl.TypePyPi:
		return strings.Join(clauses, ",")
	default:
		return strings.Join(clauses, ", ")
	}
}

// PackageURL builds a purl for a component hosted in a known ecosystem. ok is
// false when the collection is not recognised.
func PackageURL(collectionURL, name, version string) (string, bool) {
	purlType, ok := purlTypes[strings.TrimSuffix(strings.ToLower(collectionURL), "/")]
	if !ok || name == "" {
		return "", false
	}

	namespace := ""
	if i := strings.LastIndex(name, "/"); i > 0 && purlType != packageurl.TypeMaven {
		namespace, name = name[:i], name[i+1:]
	}
	if purlType == packageurl.TypeMaven {
		if i := strings.Index(name, ":"); i > 0 {
			namespace, name = name[:i], name[i+1:]
		}
	}

	return packageurl.NewPackageURL(purlType, namespace, name, version, nil, "").ToString(), true
}

var purlTypes = map[string]string{
	"https://pypi.org":                     packageurl.TypePyPi,
	"https://pypi.python.org":              packageurl.TypePyPi,
	"https://www.npmjs.com":                packageurl.TypeNPM,
	"https://registry.npmjs.org":           packageurl.TypeNPM,
	"https://crates.io":                    packageurl.TypeCargo,
	"https://rubygems.org":                 packageurl.TypeGem,
	"https://repo.maven.apache.org/maven2": packageurl.TypeMaven,
	"https://pkg.go.dev":                   packageurl.TypeGolang,
	"https://github.com":                   packageurl.TypeGithub,
	"https://packagist.org":                packageurl.TypeComposer,
	"https://www.nuget.org":                packageurl.TypeNuget,
}
