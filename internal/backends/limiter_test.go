package backends

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bilregistret/internal/errors"
	"bilregistret/internal/records"
)

func flatRecord(name, value string) records.SourceRecord {
	return records.SourceRecord{Car: records.FlatTree(records.FieldsFrom(records.F(name, records.String(value))))}
}

// TestRateLimiterBoundsInFlight verifies no more than MaxInFlight fetches run at once
func TestRateLimiterBoundsInFlight(t *testing.T) {
	policy := DefaultQueryPolicy()
	policy.Coalesce = false
	policy.MaxInFlightPerSource[SourceCL] = 2
	limiter := NewRateLimiter(policy)

	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := limiter.Do(context.Background(), SourceCL, "k", func(ctx context.Context) (records.SourceRecord, error) {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return records.SourceRecord{}, nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak)
	}
}

// TestRateLimiterCoalesces verifies identical concurrent fetches share one execution
func TestRateLimiterCoalesces(t *testing.T) {
	limiter := NewRateLimiter(DefaultQueryPolicy())

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (records.SourceRecord, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return flatRecord("Märke", "Volvo"), nil
	}

	type result struct {
		rec    records.SourceRecord
		shared bool
		err    error
	}
	results := make(chan result, 3)
	call := func() {
		rec, shared, err := limiter.Do(context.Background(), SourceTS, "vehicle-data:ABC123:ts", fn)
		results <- result{rec, shared, err}
	}

	go call()
	<-started
	go call()
	go call()
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("Do: %v", r.err)
		}
		if !r.shared {
			t.Error("expected every caller to see a shared result")
		}
		if v, _ := r.rec.Car.Lookup("Märke"); !v.Equal(records.String("Volvo")) {
			t.Errorf("Märke = %v", v.Interface())
		}
	}
	if calls != 1 {
		t.Errorf("fetch ran %d times, want 1", calls)
	}
}

// TestRateLimiterCallerCancelDoesNotAbortSharedFetch verifies one caller
// leaving does not fail the others
func TestRateLimiterCallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	limiter := NewRateLimiter(DefaultQueryPolicy())

	started := make(chan struct{})
	release := make(chan struct{})
	var fetchCtxErr atomic.Value
	fn := func(ctx context.Context) (records.SourceRecord, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			fetchCtxErr.Store(ctx.Err())
		}
		return flatRecord("Modell", "V70"), nil
	}

	leaving, cancel := context.WithCancel(context.Background())
	leftErr := make(chan error, 1)
	go func() {
		_, _, err := limiter.Do(leaving, SourceCL, "k", fn)
		leftErr <- err
	}()
	<-started

	stayed := make(chan error, 1)
	go func() {
		rec, _, err := limiter.Do(context.Background(), SourceCL, "k", fn)
		if err == nil && !rec.HasData() {
			err = errors.NewLookupError(errors.InternalError, "no data", nil)
		}
		stayed <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-leftErr; err != context.Canceled {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-stayed; err != nil {
		t.Errorf("remaining caller err = %v", err)
	}
	if v := fetchCtxErr.Load(); v != nil {
		t.Errorf("shared fetch saw cancellation: %v", v)
	}
}

// TestRateLimiterTimeout verifies the per-source deadline applies
func TestRateLimiterTimeout(t *testing.T) {
	policy := DefaultQueryPolicy()
	policy.TimeoutMs[SourceCL] = 20
	limiter := NewRateLimiter(policy)

	_, _, err := limiter.Do(context.Background(), SourceCL, "k", func(ctx context.Context) (records.SourceRecord, error) {
		<-ctx.Done()
		return records.SourceRecord{}, ctx.Err()
	})
	if !errors.Is(err, errors.Timeout) {
		t.Errorf("err = %v, want timeout", err)
	}
}

// TestRateLimiterForget verifies a forgotten key starts a fresh fetch
func TestRateLimiterForget(t *testing.T) {
	limiter := NewRateLimiter(DefaultQueryPolicy())

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _, _ = limiter.Do(context.Background(), SourceCL, "k", func(ctx context.Context) (records.SourceRecord, error) {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return records.SourceRecord{}, nil
		})
	}()
	<-started

	limiter.Forget("k")
	_, shared, err := limiter.Do(context.Background(), SourceCL, "k", func(ctx context.Context) (records.SourceRecord, error) {
		atomic.AddInt32(&calls, 1)
		return records.SourceRecord{}, nil
	})
	close(release)

	if err != nil || shared {
		t.Errorf("Do after Forget = shared %v, err %v", shared, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

// TestRateLimiterRecoversPanic verifies a panicking fetch returns an internal error in both modes
func TestRateLimiterRecoversPanic(t *testing.T) {
	for _, coalesce := range []bool{true, false} {
		policy := DefaultQueryPolicy()
		policy.Coalesce = coalesce
		limiter := NewRateLimiter(policy)

		_, _, err := limiter.Do(context.Background(), SourceTS, "k", func(ctx context.Context) (records.SourceRecord, error) {
			panic("boom")
		})
		if !errors.Is(err, errors.InternalError) {
			t.Errorf("coalesce=%v: err = %v, want internal error", coalesce, err)
		}
		le, ok := errors.AsLookupError(err)
		if !ok || le.Source != string(SourceTS) {
			t.Errorf("coalesce=%v: err = %#v, want lookup error from %s", coalesce, err, SourceTS)
		}

		// the slot was released, so a second fetch still runs
		_, _, err = limiter.Do(context.Background(), SourceTS, "k", func(ctx context.Context) (records.SourceRecord, error) {
			return flatRecord("Modell", "V70"), nil
		})
		if err != nil {
			t.Errorf("coalesce=%v: follow-up err = %v", coalesce, err)
		}
	}
}
