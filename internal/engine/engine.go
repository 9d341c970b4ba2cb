// Package engine drives vehicle lookups: it runs both sources for a plate,
// folds their outcomes into a view model and publishes every transition to
// observers.
package engine

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"bilregistret/internal/backends"
	"bilregistret/internal/cache"
	"bilregistret/internal/config"
	"bilregistret/internal/errors"
	"bilregistret/internal/logging"
	"bilregistret/internal/records"
	"bilregistret/internal/sources"
	"bilregistret/internal/storage"
	"bilregistret/internal/viewmodel"
)

// Engine owns the source pair and the shared cache.
type Engine struct {
	pair   *backends.Pair
	cache  *cache.Coordinator
	logger *logging.Logger

	// warm tier, closed with the engine
	store *storage.SnapshotStore
	stop  context.CancelFunc

	mu        sync.Mutex
	observers map[string]*Observer
	closed    bool
}

// New creates an engine over an existing pair and cache.
func New(pair *backends.Pair, c *cache.Coordinator, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Engine{
		pair:      pair,
		cache:     c,
		logger:    logger,
		observers: make(map[string]*Observer),
	}
}

// NewEngine wires an engine from config: HTTP sources, the cache with its
// optional sqlite warm tier, and the background sweeper. Relative persist
// paths resolve against root.
func NewEngine(root string, cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	cl, ts, err := sources.FromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	coord, err := cache.New(cache.PolicyFromConfig(cfg.Cache), logger)
	if err != nil {
		return nil, err
	}

	var store *storage.SnapshotStore
	if cfg.Cache.Persist.Enabled {
		path := cfg.Cache.Persist.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		store, err = storage.OpenSnapshotStore(path, logger)
		if err != nil {
			return nil, err
		}
		coord.SetPersister(store)
	}

	pair := backends.NewPair(cl, ts, backends.LoadQueryPolicy(cfg), coord, logger)
	e := New(pair, coord, logger)
	e.store = store

	ctx, cancel := context.WithCancel(context.Background())
	e.stop = cancel
	coord.StartSweeper(ctx, time.Duration(cfg.Cache.SweepIntervalSeconds)*time.Second)

	logger.Info("Engine ready", map[string]interface{}{
		"cl":      cl.URL("{plate}"),
		"ts":      ts.URL("{plate}"),
		"persist": store != nil,
	})
	return e, nil
}

// Cache returns the shared cache coordinator
func (e *Engine) Cache() *cache.Coordinator {
	return e.cache
}

// Pair returns the source pair
func (e *Engine) Pair() *backends.Pair {
	return e.pair
}

// WarmEntries counts rows in the warm tier. It reports false when
// persistence is off.
func (e *Engine) WarmEntries() (int, bool, error) {
	if e.store == nil {
		return 0, false, nil
	}
	n, err := e.store.Count()
	return n, true, err
}

// Observe starts a lookup for plate and returns an observer publishing
// every snapshot. The observer ends when ctx is done or Close is called.
func (e *Engine) Observe(ctx context.Context, plate string) (*Observer, error) {
	key, err := parsePlate(plate)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	o := newObserver(ctx, e, uuid.NewString())
	e.observers[o.id] = o
	e.mu.Unlock()

	o.run()
	if err := o.SetPlate(key.String()); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

// Lookup observes plate until it settles and returns the final view model.
// A lookup that settles in error also returns that error.
func (e *Engine) Lookup(ctx context.Context, plate string) (viewmodel.ViewModel, error) {
	o, err := e.Observe(ctx, plate)
	if err != nil {
		return viewmodel.ViewModel{}, err
	}
	defer o.Close()

	vm, err := o.Wait(ctx)
	if err != nil {
		return vm, err
	}
	if vm.IsError && vm.Error != nil {
		return vm, vm.Error
	}
	return vm, nil
}

// Refresh forgets remembered failures and cached source records for plate,
// then looks it up again. It is the only way to retry a plate.
func (e *Engine) Refresh(ctx context.Context, plate string) (viewmodel.ViewModel, error) {
	key, err := parsePlate(plate)
	if err != nil {
		return viewmodel.ViewModel{}, err
	}
	e.pair.Forget(key)
	e.logger.Info("Refreshing plate", map[string]interface{}{"plate": key.String()})
	return e.Lookup(ctx, key.String())
}

// SessionChanged drops everything tied to the signed-in user: user-scoped
// cache categories and remembered credential failures.
func (e *Engine) SessionChanged() int {
	n := 0
	if e.cache != nil {
		n = e.cache.InvalidateUserScoped()
	}
	forgotten := e.pair.Memo().ForgetCode(errors.Unauthorized)
	e.logger.Info("Session changed", map[string]interface{}{
		"invalidated": n,
		"forgotten":   forgotten,
	})
	return n
}

// Observers returns the number of open observers
func (e *Engine) Observers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.observers)
}

// Close closes every observer, stops the sweeper and closes the warm tier.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	open := make([]*Observer, 0, len(e.observers))
	for _, o := range e.observers {
		open = append(open, o)
	}
	e.mu.Unlock()

	for _, o := range open {
		o.Close()
	}
	if e.stop != nil {
		e.stop()
	}
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

func (e *Engine) forget(o *Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.observers, o.id)
}

func parsePlate(plate string) (records.VehicleKey, error) {
	key := records.NormalizePlate(plate)
	if key.IsZero() {
		return "", errors.NewLookupError(errors.InvalidArgument, "plate is empty", nil)
	}
	return key, nil
}
