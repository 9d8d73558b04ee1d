package invalidate

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/awscache/awscache/internal/cache"
	cacheerr "github.com/awscache/awscache/pkg/errors"
	"github.com/awscache/awscache/pkg/types"
)

// Store is the view of the cache the engine sweeps over. Both tiers sit
// behind it; Remove acts on both.
type Store interface {
	Keys() ([]string, error)
	Metas() ([]types.EntryMeta, error)
	Remove(key string) error
}

// Engine removes cache entries by key field, resource, age, or pattern.
// Sweeps are best effort: a failure reading a tier or removing one key
// never aborts the rest of the sweep.
type Engine struct {
	store Store
	codec *cache.KeyCodec
	log   zerolog.Logger
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store, codec *cache.KeyCodec, log zerolog.Logger) *Engine {
	return &Engine{
		store: store,
		codec: codec,
		log:   log.With().Str("component", "invalidate").Logger(),
	}
}

// ByService removes every entry whose key's service field equals service.
func (e *Engine) ByService(service string) (int, error) {
	return e.sweepParsed(func(k cache.Key) bool {
		return k.Service == service
	})
}

// ByOperation removes entries matching both service and operation fields.
func (e *Engine) ByOperation(service, operation string) (int, error) {
	return e.sweepParsed(func(k cache.Key) bool {
		return k.Service == service && k.Operation == operation
	})
}

// ByProfile removes every entry cached under the given credential profile.
func (e *Engine) ByProfile(profile string) (int, error) {
	return e.sweepParsed(func(k cache.Key) bool {
		return k.Profile == profile
	})
}

// ByRegion removes every entry cached for the given region.
func (e *Engine) ByRegion(region string) (int, error) {
	return e.sweepParsed(func(k cache.Key) bool {
		return k.Region == region
	})
}

// ByResource removes entries in the service's namespace whose raw key
// contains the resource identifier. The resourceType only participates in
// cascade rule selection; the key itself carries no resource field.
func (e *Engine) ByResource(service, resourceType, identifier string) (int, error) {
	return e.sweepRaw(func(raw string, k cache.Key) bool {
		return k.Service == service && strings.Contains(raw, identifier)
	})
}

// ByPattern removes entries whose raw key matches the pattern under the
// documented substring semantics.
func (e *Engine) ByPattern(pattern string) (int, error) {
	return e.sweepRaw(func(raw string, k cache.Key) bool {
		return cache.MatchesPattern(raw, pattern)
	})
}

// Expired removes entries older than maxAge across both tiers.
func (e *Engine) Expired(maxAge time.Duration) (int, error) {
	metas, err := e.store.Metas()
	if err != nil {
		e.log.Warn().Err(err).Msg("partial tier listing during expiry sweep")
	}

	now := time.Now()
	var removed int
	var failures []string
	for _, m := range metas {
		if now.Sub(m.CreatedAt) <= maxAge {
			continue
		}
		if rerr := e.store.Remove(m.Key); rerr != nil {
			failures = append(failures, m.Key)
			continue
		}
		removed++
	}
	return removed, e.partialError(failures)
}

// Cascade invalidates the entries affected by a mutation of one resource,
// widening to the service namespace where the rule table says narrow
// invalidation is unsafe. Services without a rule fall back to ByResource.
func (e *Engine) Cascade(service, resourceType, resourceArn string) (int, error) {
	identifier := resourceNameFromARN(resourceArn)
	rule := lookupRule(service, resourceType)

	e.log.Debug().
		Str("service", service).
		Str("resource_type", resourceType).
		Str("identifier", identifier).
		Str("rule", rule.String()).
		Msg("cascade invalidation")

	switch rule {
	case ruleServiceWide:
		return e.ByService(service)
	default:
		return e.ByResource(service, resourceType, identifier)
	}
}

// resourceNameFromARN extracts the short resource name from an ARN. The
// resource part is everything after the fifth colon; compound forms like
// "table/users" or "execution:SM:abc" reduce to their last path or colon
// component. Anything with fewer than six colon-delimited fields is not an
// ARN and is used verbatim as the identifier.
func resourceNameFromARN(arn string) string {
	if strings.Count(arn, ":") < 5 {
		return arn
	}
	resource := strings.SplitN(arn, ":", 6)[5]
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		resource = resource[i+1:]
	}
	if i := strings.LastIndex(resource, ":"); i >= 0 {
		resource = resource[i+1:]
	}
	return resource
}

func (e *Engine) sweepParsed(match func(cache.Key) bool) (int, error) {
	return e.sweepRaw(func(raw string, k cache.Key) bool { return match(k) })
}

// sweepRaw walks every key in the store and removes those the predicate
// selects. Unparseable keys are skipped; removal failures are collected and
// reported after the sweep completes.
func (e *Engine) sweepRaw(match func(raw string, k cache.Key) bool) (int, error) {
	keys, err := e.store.Keys()
	if err != nil {
		e.log.Warn().Err(err).Msg("partial tier listing during invalidation sweep")
	}

	var removed int
	var failures []string
	for _, raw := range keys {
		k, perr := e.codec.Parse(raw)
		if perr != nil {
			continue
		}
		if !match(raw, k) {
			continue
		}
		if rerr := e.store.Remove(raw); rerr != nil {
			failures = append(failures, raw)
			continue
		}
		removed++
	}
	return removed, e.partialError(failures)
}

func (e *Engine) partialError(failures []string) error {
	if len(failures) == 0 {
		return nil
	}
	e.log.Warn().Strs("keys", failures).Msg("some entries could not be removed")
	return cacheerr.Newf(cacheerr.ErrCodeSweepPartial, "%d entries could not be removed", len(failures)).
		WithComponent("invalidate").WithOperation("sweep")
}
