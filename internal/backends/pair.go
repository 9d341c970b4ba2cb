package backends

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"bilregistret/internal/cache"
	"bilregistret/internal/errors"
	"bilregistret/internal/logging"
	"bilregistret/internal/records"
)

// ResultCache is the part of the cache coordinator the pair needs
type ResultCache interface {
	Get(key string, category cache.Category) (interface{}, bool)
	Set(key string, scope records.VehicleKey, category cache.Category, value interface{})
	InvalidateKey(key string) bool
}

// Pair queries the CL and TS sources for one plate at a time.
type Pair struct {
	cl, ts  Source
	policy  *QueryPolicy
	limiter *RateLimiter
	memo    *NegativeMemo
	cache   ResultCache
	logger  *logging.Logger
}

// NewPair creates a pair over the two sources. cache may be nil.
func NewPair(cl, ts Source, policy *QueryPolicy, c ResultCache, logger *logging.Logger) *Pair {
	if policy == nil {
		policy = DefaultQueryPolicy()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pair{
		cl:      cl,
		ts:      ts,
		policy:  policy,
		limiter: NewRateLimiter(policy),
		memo:    NewNegativeMemo(policy),
		cache:   c,
		logger:  logger,
	}
}

// Memo exposes the negative memo
func (p *Pair) Memo() *NegativeMemo {
	return p.memo
}

// Run tracks one Start call
type Run struct {
	done chan struct{}
}

// Done is closed once both outcomes have been delivered
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until both outcomes have been delivered
func (r *Run) Wait() {
	<-r.done
}

// Start fetches key from both sources concurrently and calls deliver exactly
// once per source, from the fetching goroutine, in completion order. It does
// not block. Cancelling ctx abandons the fetches; their outcomes are still
// delivered (as failures) and callers are expected to drop stale ones.
func (p *Pair) Start(ctx context.Context, key records.VehicleKey, deliver func(Outcome)) *Run {
	run := &Run{done: make(chan struct{})}

	var wg conc.WaitGroup
	for _, src := range []Source{p.cl, p.ts} {
		src := src
		wg.Go(func() {
			deliver(p.Query(ctx, key, src))
		})
	}

	go func() {
		defer close(run.done)
		if r := wg.WaitAndRecover(); r != nil {
			p.logger.Error("Outcome delivery panicked", map[string]interface{}{
				"plate": key.String(),
				"panic": r.String(),
			})
		}
	}()
	return run
}

// Query settles one source for key: remembered failure, fresh cache hit, or
// a live fetch, in that order. A panicking source settles as an internal
// failure.
func (p *Pair) Query(ctx context.Context, key records.VehicleKey, src Source) (out Outcome) {
	var pc panics.Catcher
	pc.Try(func() {
		out = p.query(ctx, key, src)
	})
	if r := pc.Recovered(); r != nil {
		p.logger.Error("Source panicked", map[string]interface{}{
			"source": src.ID(),
			"plate":  key.String(),
			"panic":  r.String(),
		})
		err := errors.NewLookupError(errors.InternalError, "source panicked", r.AsError())
		err.Source = string(src.ID())
		out = settle(key, src.ID(), records.SourceRecord{}, err, OriginFetch)
	}
	return out
}

func (p *Pair) query(ctx context.Context, key records.VehicleKey, src Source) Outcome {
	start := time.Now()
	id := src.ID()
	cacheKey := cache.VehicleDataKey(key, string(id))

	if entry, ok := p.memo.Check(id, key); ok {
		p.logger.Debug("Source disabled by earlier failure", map[string]interface{}{
			"source": id,
			"plate":  key.String(),
			"code":   entry.Code,
		})
		return failed(key, id, entry.Err, OriginMemo)
	}

	if p.cache != nil {
		if v, ok := p.cache.Get(cacheKey, cache.CategoryVehicleData); ok {
			if rec, ok := v.(records.SourceRecord); ok {
				return settle(key, id, rec, nil, OriginCache)
			}
		}
	}

	rec, shared, err := p.limiter.Do(ctx, id, cacheKey, func(ctx context.Context) (records.SourceRecord, error) {
		return src.Fetch(ctx, key)
	})
	origin := OriginFetch
	if shared {
		origin = OriginShared
	}
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			// abandoned by the caller; nothing to remember
			out := settle(key, id, records.SourceRecord{}, ctx.Err(), origin)
			out.DurationMs = duration
			return out
		}

		err = classify(id, err)
		p.memo.Remember(id, key, err)

		fields := map[string]interface{}{
			"source":     id,
			"plate":      key.String(),
			"code":       errors.CodeOf(err),
			"durationMs": duration,
			"error":      err.Error(),
		}
		if errors.Is(err, errors.NotFound) {
			p.logger.Debug("Source has no record", fields)
		} else {
			p.logger.Warn("Source fetch failed", fields)
		}

		out := failed(key, id, err, origin)
		out.DurationMs = duration
		return out
	}

	if p.cache != nil {
		p.cache.Set(cacheKey, key, cache.CategoryVehicleData, rec)
	}
	out := settle(key, id, rec, nil, origin)
	out.DurationMs = duration
	return out
}

// Forget clears everything remembered about key: negative memo entries,
// cached source records and any in-flight coalescing.
func (p *Pair) Forget(key records.VehicleKey) {
	p.memo.Forget(key)
	for _, src := range []Source{p.cl, p.ts} {
		cacheKey := cache.VehicleDataKey(key, string(src.ID()))
		if p.cache != nil {
			p.cache.InvalidateKey(cacheKey)
		}
		p.limiter.Forget(cacheKey)
	}
}

// failed settles a failure. A malformed payload counts as an empty answer so
// it never holds up the other source.
func failed(key records.VehicleKey, id SourceID, err error, origin Origin) Outcome {
	out := settle(key, id, records.SourceRecord{}, err, origin)
	if errors.Is(err, errors.MalformedResponse) {
		out.Kind = OutcomeEmpty
	}
	return out
}

// classify makes sure every failure carries a LookupError with the source set.
func classify(id SourceID, err error) error {
	switch errors.CodeOf(err) {
	case errors.Timeout:
		if !isLookupError(err) {
			le := errors.NewLookupError(errors.Timeout, "source timed out", err)
			le.Source = string(id)
			return le
		}
	case errors.InternalError:
		if !isLookupError(err) {
			return errors.NewNetworkFailure(string(id), err)
		}
	}
	return err
}

func isLookupError(err error) bool {
	_, ok := errors.AsLookupError(err)
	return ok
}
