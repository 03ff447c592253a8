package flaw

import "fmt"

// Impact is the Red Hat style severity rating of a flaw.
type Impact string

const (
	ImpactNone      Impact = ""
	ImpactLow       Impact = "LOW"
	ImpactModerate  Impact = "MODERATE"
	ImpactImportant Impact = "IMPORTANT"
	ImpactCritical  Impact = "CRITICAL"
)

func (i Impact) String() string { return string(i) }

// IsValid reports whether i is a known impact. The empty impact is valid and
// means the flaw has not been rated yet.
func (i Impact) IsValid() bool {
	switch i {
	case ImpactNone, ImpactLow, ImpactModerate, ImpactImportant, ImpactCritical:
		return true
	default:
		return false
	}
}

// ParseImpact converts raw into an Impact.
func ParseImpact(raw string) (Impact, error) {
	i := Impact(raw)
	if !i.IsValid() {
		return "", fmt.Errorf("unknown impact %q", raw)
	}
	return i, nil
}

// Source identifies where a flaw was first reported.
type Source string

const (
	SourceNone        Source = ""
	SourceCustomer    Source = "CUSTOMER"
	SourceCVEOrg      Source = "CVEORG"
	SourceDebian      Source = "DEBIAN"
	SourceGentoo      Source = "GENTOO"
	SourceGitHub      Source = "GITHUB"
	SourceInternet    Source = "INTERNET"
	SourceMailingList Source = "MAILING_LIST"
	SourceNVD         Source = "NVD"
	SourceOSV         Source = "OSV"
	SourceRedHat      Source = "REDHAT"
	SourceResearcher  Source = "RESEARCHER"
	SourceUpstream    Source = "UPSTREAM"
	SourceOther       Source = "OTHER"
)

func (s Source) String() string { return string(s) }

// IsValid reports whether s is a known, non-empty source.
func (s Source) IsValid() bool {
	switch s {
	case SourceCustomer, SourceCVEOrg, SourceDebian, SourceGentoo, SourceGitHub,
		SourceInternet, SourceMailingList, SourceNVD, SourceOSV, SourceRedHat,
		SourceResearcher, SourceUpstream, SourceOther:
		return true
	default:
		return false
	}
}

// MajorIncidentState tracks whether a flaw was escalated as an incident.
type MajorIncidentState string

const (
	MajorIncidentNoValue      MajorIncidentState = ""
	MajorIncidentRequested    MajorIncidentState = "REQUESTED"
	MajorIncidentRejected     MajorIncidentState = "REJECTED"
	MajorIncidentApproved     MajorIncidentState = "APPROVED"
	MajorIncidentCISAApproved MajorIncidentState = "CISA_APPROVED"
	MajorIncidentMinor        MajorIncidentState = "MINOR"
	MajorIncidentZeroDay      MajorIncidentState = "ZERO_DAY"
	MajorIncidentInvalid      MajorIncidentState = "INVALID"
)

func (m MajorIncidentState) String() string { return string(m) }

// IsValid reports whether m is a known incident state.
func (m MajorIncidentState) IsValid() bool {
	switch m {
	case MajorIncidentNoValue, MajorIncidentRequested, MajorIncidentRejected,
		MajorIncidentApproved, MajorIncidentCISAApproved, MajorIncidentMinor,
		MajorIncidentZeroDay, MajorIncidentInvalid:
		return true
	default:
		return false
	}
}
