// Package scent defines Tracehound's input unit and the upstream threat
// verdict attached to it. Tracehound performs no classification itself; a
// Scent's Threat field is always produced by an external classifier.
package scent

import "github.com/tracehound/tracehound/internal/errs"

// Category is the upstream classifier's threat bucket.
type Category string

const (
	CategoryInjection Category = "injection"
	CategoryDDoS      Category = "ddos"
	CategoryFlood     Category = "flood"
	CategorySpam      Category = "spam"
	CategoryMalware   Category = "malware"
	CategoryUnknown   Category = "unknown"
)

var validCategories = map[Category]bool{
	CategoryInjection: true,
	CategoryDDoS:      true,
	CategoryFlood:     true,
	CategorySpam:      true,
	CategoryMalware:   true,
	CategoryUnknown:   true,
}

// Severity is the upstream classifier's confidence/impact rating.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for quarantine eviction: low=0 .. critical=3.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

var validSeverities = map[Severity]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// Threat is the upstream classifier's verdict attached to a Scent. A Scent
// with a nil Threat is the classifier's explicit "clean" verdict.
type Threat struct {
	Category Category
	Severity Severity
}

// Validate checks that Category and Severity are both recognized values.
func (t Threat) Validate() *errs.Error {
	if !validCategories[t.Category] {
		return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, "unrecognized threat category: "+string(t.Category))
	}
	if !validSeverities[t.Severity] {
		return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, "unrecognized threat severity: "+string(t.Severity))
	}
	return nil
}

// Scent is the input unit handed to the Agent's intercept operation.
type Scent struct {
	ID        string
	Source    string
	Timestamp int64 // ms since epoch
	Payload   any   // finite primitives, ordered lists, keyed maps
	Threat    *Threat
}

// Validate checks the structural invariants of a Scent that do not require
// encoding its payload (payload validity is enforced by the canonical
// encoder at encode time).
func (s Scent) Validate() *errs.Error {
	if s.ID == "" {
		return errs.New(errs.DomainScent, errs.ScentPayloadInvalid, "scent id must not be empty")
	}
	if s.Source == "" {
		return errs.New(errs.DomainScent, errs.ScentSourceMissing, "scent source must not be empty")
	}
	if s.Threat != nil {
		if verr := s.Threat.Validate(); verr != nil {
			return verr
		}
	}
	return nil
}
