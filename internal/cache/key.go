package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/awscache/awscache/internal/config"
	cacheerr "github.com/awscache/awscache/pkg/errors"
	"github.com/awscache/awscache/pkg/types"
)

const (
	keyDelimiter  = ":"
	keyFieldCount = 5

	// emptyParamsSentinel replaces the digest for empty parameter sets so a
	// zero-argument call never collides with the digest of an empty JSON
	// document. The sentinel is shared across operations; service and
	// operation are separate key fields, which contains the collision risk.
	emptyParamsSentinel = "noparams"

	paramHashLen = 16
)

// Key is the parsed form of a cache key. Its serialized form is the five
// fields joined by ":".
type Key struct {
	Profile   string
	Region    string
	Service   string
	Operation string
	ParamHash string
}

// String returns the canonical serialized key.
func (k Key) String() string {
	return strings.Join([]string{k.Profile, k.Region, k.Service, k.Operation, k.ParamHash}, keyDelimiter)
}

// KeyCodec builds and parses canonical cache keys. Ambient profile/region
// defaults are fixed at construction time.
type KeyCodec struct {
	defaults config.AWSDefaults
}

// NewKeyCodec creates a codec with the given ambient defaults.
func NewKeyCodec(defaults config.AWSDefaults) *KeyCodec {
	return &KeyCodec{defaults: defaults}
}

// Build derives the canonical key for a request. Missing profile/region fall
// back to the codec's defaults. Parameters are canonicalized by marshaling
// to JSON (object keys sorted) before hashing, so insertion order never
// changes the key.
func (c *KeyCodec) Build(req types.Request) (Key, error) {
	k := Key{
		Profile:   req.Profile,
		Region:    req.Region,
		Service:   req.Service,
		Operation: req.Operation,
	}
	if k.Profile == "" {
		k.Profile = c.defaults.Profile
	}
	if k.Region == "" {
		k.Region = c.defaults.Region
	}

	for _, field := range []string{k.Profile, k.Region, k.Service, k.Operation} {
		if field == "" {
			return Key{}, cacheerr.New(cacheerr.ErrCodeKeyFormat, "key field must not be empty").
				WithComponent("keycodec").WithOperation("build")
		}
		if strings.Contains(field, keyDelimiter) {
			return Key{}, cacheerr.Newf(cacheerr.ErrCodeKeyFormat, "key field %q must not contain %q", field, keyDelimiter).
				WithComponent("keycodec").WithOperation("build")
		}
	}

	hash, err := hashParams(req.Params)
	if err != nil {
		return Key{}, err
	}
	k.ParamHash = hash
	return k, nil
}

// Parse splits a raw key into its five fields. Anything other than exactly
// five fields is a format error.
func (c *KeyCodec) Parse(raw string) (Key, error) {
	fields := strings.Split(raw, keyDelimiter)
	if len(fields) != keyFieldCount {
		return Key{}, cacheerr.Newf(cacheerr.ErrCodeKeyFormat,
			"expected %d fields, got %d in %q", keyFieldCount, len(fields), raw).
			WithComponent("keycodec").WithOperation("parse")
	}
	return Key{
		Profile:   fields[0],
		Region:    fields[1],
		Service:   fields[2],
		Operation: fields[3],
		ParamHash: fields[4],
	}, nil
}

// MatchesPattern reports whether a raw key matches an invalidation pattern.
// Glob metacharacters are stripped and the remainder is substring-matched;
// this is deliberately simpler than true glob semantics and matches the
// documented invalidation contract.
func MatchesPattern(rawKey, pattern string) bool {
	stripped := strings.NewReplacer("*", "", "?", "").Replace(pattern)
	return strings.Contains(rawKey, stripped)
}

func hashParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return emptyParamsSentinel, nil
	}
	// encoding/json sorts map keys at every level, so this is a canonical
	// form regardless of insertion order.
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", cacheerr.Wrap(cacheerr.ErrCodeKeyFormat, "parameters are not JSON-encodable", err).
			WithComponent("keycodec").WithOperation("build")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:paramHashLen], nil
}
