package backends

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"bilregistret/internal/errors"
	"bilregistret/internal/records"
)

// RateLimiter bounds concurrent fetches per source and coalesces identical
// in-flight fetches.
type RateLimiter struct {
	policy *QueryPolicy

	mu         sync.Mutex
	semaphores map[SourceID]*semaphore.Weighted

	group singleflight.Group
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(policy *QueryPolicy) *RateLimiter {
	return &RateLimiter{
		policy:     policy,
		semaphores: make(map[SourceID]*semaphore.Weighted),
	}
}

func (l *RateLimiter) semaphoreFor(id SourceID) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.semaphores[id]
	if !ok {
		sem = semaphore.NewWeighted(int64(l.policy.GetMaxInFlight(id)))
		l.semaphores[id] = sem
	}
	return sem
}

// Acquire acquires a permit for the given source
func (l *RateLimiter) Acquire(ctx context.Context, id SourceID) error {
	return l.semaphoreFor(id).Acquire(ctx, 1)
}

// Release releases a permit for the given source
func (l *RateLimiter) Release(id SourceID) {
	l.semaphoreFor(id).Release(1)
}

type fetchFunc func(ctx context.Context) (records.SourceRecord, error)

// Do runs fn under a permit for id. With coalescing on, callers passing the
// same key share one execution; shared reports whether this caller joined
// someone else's. The shared fetch is detached from any one caller's
// cancellation and bounded by the source timeout instead, so one observer
// leaving does not fail the others. A caller whose ctx ends stops waiting.
func (l *RateLimiter) Do(ctx context.Context, id SourceID, key string, fn fetchFunc) (records.SourceRecord, bool, error) {
	run := func(runCtx context.Context) (rec records.SourceRecord, err error) {
		runCtx, cancel := context.WithTimeout(runCtx, l.policy.GetTimeout(id))
		defer cancel()

		if err := l.Acquire(runCtx, id); err != nil {
			return records.SourceRecord{}, err
		}
		defer l.Release(id)

		// singleflight re-panics on a fresh goroutine, so recover here
		var pc panics.Catcher
		pc.Try(func() {
			rec, err = fn(runCtx)
		})
		if r := pc.Recovered(); r != nil {
			lerr := errors.NewLookupError(errors.InternalError, "source panicked", r.AsError())
			lerr.Source = string(id)
			lerr.Details = r.String()
			return records.SourceRecord{}, lerr
		}
		return rec, err
	}

	if !l.policy.Coalesce {
		rec, err := run(ctx)
		return rec, false, err
	}

	ch := l.group.DoChan(key, func() (interface{}, error) {
		rec, err := run(context.WithoutCancel(ctx))
		return rec, err
	})
	select {
	case res := <-ch:
		rec, _ := res.Val.(records.SourceRecord)
		return rec, res.Shared, res.Err
	case <-ctx.Done():
		return records.SourceRecord{}, false, ctx.Err()
	}
}

// Forget stops coalescing onto an in-flight fetch for key, so the next
// caller starts a fresh one.
func (l *RateLimiter) Forget(key string) {
	l.group.Forget(key)
}
