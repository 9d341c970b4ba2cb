package backends

import (
	"strings"
	"time"

	"bilregistret/internal/config"
	"bilregistret/internal/errors"
)

// QueryPolicy defines how sources are queried
type QueryPolicy struct {
	// Coalesce shares one in-flight fetch between callers asking the same
	// source for the same plate
	Coalesce bool

	// MaxInFlightPerSource limits concurrent fetches to each source
	MaxInFlightPerSource map[SourceID]int

	// TimeoutMs defines the fetch deadline per source
	TimeoutMs map[SourceID]int

	// NegativeTTL is how long a failure disables a source for a plate, per
	// error code. Codes without an entry are not remembered.
	NegativeTTL map[errors.ErrorCode]time.Duration
}

// DefaultQueryPolicy returns the default query policy
func DefaultQueryPolicy() *QueryPolicy {
	return &QueryPolicy{
		Coalesce: true,
		MaxInFlightPerSource: map[SourceID]int{
			SourceCL: 8,
			SourceTS: 4,
		},
		TimeoutMs: map[SourceID]int{
			SourceCL: 5000,
			SourceTS: 15000,
		},
		NegativeTTL: map[errors.ErrorCode]time.Duration{
			errors.NotFound:          10 * time.Minute,
			errors.NetworkFailure:    15 * time.Second,
			errors.Unauthorized:      60 * time.Second,
			errors.MalformedResponse: 60 * time.Second,
			errors.Timeout:           5 * time.Second,
		},
	}
}

// LoadQueryPolicy creates a QueryPolicy from config
func LoadQueryPolicy(cfg *config.Config) *QueryPolicy {
	policy := DefaultQueryPolicy()
	policy.Coalesce = cfg.QueryPolicy.Coalesce

	for k, v := range cfg.QueryPolicy.MaxInFlightPerSource {
		if v > 0 {
			policy.MaxInFlightPerSource[SourceID(strings.ToLower(k))] = v
		}
	}
	for k, v := range cfg.QueryPolicy.TimeoutMs {
		if v > 0 {
			policy.TimeoutMs[SourceID(strings.ToLower(k))] = v
		}
	}
	// viper lowercases map keys, error codes are upper case
	for k, v := range cfg.QueryPolicy.NegativeTtlSeconds {
		code := errors.ErrorCode(strings.ToUpper(k))
		if v <= 0 {
			delete(policy.NegativeTTL, code)
			continue
		}
		policy.NegativeTTL[code] = time.Duration(v) * time.Second
	}

	return policy
}

// GetMaxInFlight returns the max in-flight fetches for a source
func (p *QueryPolicy) GetMaxInFlight(id SourceID) int {
	if max, ok := p.MaxInFlightPerSource[id]; ok {
		return max
	}
	return 4
}

// GetTimeout returns the fetch deadline for a source
func (p *QueryPolicy) GetTimeout(id SourceID) time.Duration {
	if ms, ok := p.TimeoutMs[id]; ok {
		return time.Duration(ms) * time.Millisecond
	}
	return 10 * time.Second
}

// NegativeTTLFor returns how long to remember a failure with code, and
// whether it is remembered at all.
func (p *QueryPolicy) NegativeTTLFor(code errors.ErrorCode) (time.Duration, bool) {
	ttl, ok := p.NegativeTTL[code]
	return ttl, ok && ttl > 0
}
