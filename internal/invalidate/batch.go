package invalidate

import (
	"time"

	cacheerr "github.com/awscache/awscache/pkg/errors"
)

// Rule is one entry of a batch invalidation request, tagged by Type. Only
// the fields the type reads are consulted; the rest may stay zero.
type Rule struct {
	Type         string        `json:"type" yaml:"type"`
	Service      string        `json:"service,omitempty" yaml:"service,omitempty"`
	Operation    string        `json:"operation,omitempty" yaml:"operation,omitempty"`
	ResourceType string        `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	Identifier   string        `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	ResourceArn  string        `json:"resource_arn,omitempty" yaml:"resource_arn,omitempty"`
	Pattern      string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Profile      string        `json:"profile,omitempty" yaml:"profile,omitempty"`
	Region       string        `json:"region,omitempty" yaml:"region,omitempty"`
	MaxAge       time.Duration `json:"max_age,omitempty" yaml:"max_age,omitempty"`
}

// BatchResult summarizes one batch run. Errors holds one entry per failed
// or unrecognized rule; rules after a failure still run.
type BatchResult struct {
	Removed int
	Errors  []error
}

// Batch applies a heterogeneous list of invalidation rules in order. An
// unknown rule type is reported as an error, never silently dropped, and
// does not stop the remaining rules.
func (e *Engine) Batch(rules []Rule) BatchResult {
	var result BatchResult
	for _, rule := range rules {
		removed, err := e.apply(rule)
		result.Removed += removed
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	return result
}

func (e *Engine) apply(rule Rule) (int, error) {
	switch rule.Type {
	case "service":
		return e.ByService(rule.Service)
	case "operation":
		return e.ByOperation(rule.Service, rule.Operation)
	case "resource":
		return e.ByResource(rule.Service, rule.ResourceType, rule.Identifier)
	case "pattern":
		return e.ByPattern(rule.Pattern)
	case "profile":
		return e.ByProfile(rule.Profile)
	case "region":
		return e.ByRegion(rule.Region)
	case "expired":
		return e.Expired(rule.MaxAge)
	case "cascade":
		return e.Cascade(rule.Service, rule.ResourceType, rule.ResourceArn)
	default:
		return 0, cacheerr.Newf(cacheerr.ErrCodeUnknownInvalidation, "unknown invalidation type %q", rule.Type).
			WithComponent("invalidate").WithOperation("batch")
	}
}
