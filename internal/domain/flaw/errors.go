package flaw

import "errors"

var (
	// ErrFlawNotFound is returned when a flaw does not exist in storage.
	ErrFlawNotFound = errors.New("flaw not found")
	// ErrAffectNotFound is returned when an affect does not exist in storage.
	ErrAffectNotFound = errors.New("affect not found")
	// ErrDuplicateCVE is returned when a second flaw claims an already used CVE ID.
	ErrDuplicateCVE = errors.New("cve id already assigned to another flaw")
	// ErrInvalidTransition is returned for workflow moves the workflow forbids.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrValidation matches any *ValidationError via errors.Is.
	ErrValidation = errors.New("flaw validation failed")
)
