package engine

import (
	"context"
	"sync"

	"bilregistret/internal/backends"
	"bilregistret/internal/errors"
	"bilregistret/internal/logging"
	"bilregistret/internal/records"
	"bilregistret/internal/viewmodel"
)

// ErrClosed is returned by operations on a closed observer or engine.
var ErrClosed = errors.NewLookupError(errors.InvalidArgument, "observer closed", nil)

// UpdateBuffer is how many unread snapshots Updates holds before the
// oldest is dropped.
const UpdateBuffer = 16

type eventKind int

const (
	evPlate eventKind = iota
	evOutcome
	evImageFailed
)

type event struct {
	kind    eventKind
	key     records.VehicleKey
	run     uint64
	outcome backends.Outcome
}

// Observer follows one plate at a time. All builder state lives on a single
// loop goroutine; outcomes from both sources are funnelled into it, and an
// outcome from a superseded run changes nothing, even when it is for the
// plate being looked up again.
type Observer struct {
	id     string
	engine *Engine
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	exited chan struct{}
	once   sync.Once

	// loop goroutine only
	builder   *viewmodel.Builder
	run       uint64
	runCancel context.CancelFunc

	mu       sync.RWMutex
	snapshot viewmodel.ViewModel
	changed  chan struct{}
	subs     map[int]func(viewmodel.ViewModel)
	nextSub  int
	updates  chan viewmodel.ViewModel
}

func newObserver(parent context.Context, e *Engine, id string) *Observer {
	ctx, cancel := context.WithCancel(parent)
	logger := e.logger.With(map[string]interface{}{"observer": id})
	return &Observer{
		id:       id,
		engine:   e,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event),
		exited:   make(chan struct{}),
		builder:  viewmodel.NewBuilder(logger),
		snapshot: viewmodel.Idle(),
		changed:  make(chan struct{}),
		subs:     make(map[int]func(viewmodel.ViewModel)),
		updates:  make(chan viewmodel.ViewModel, UpdateBuffer),
	}
}

// ID returns the observer id
func (o *Observer) ID() string {
	return o.id
}

// Snapshot returns the latest view model.
func (o *Observer) Snapshot() viewmodel.ViewModel {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}

// Updates delivers every published snapshot. A reader that falls more than
// UpdateBuffer snapshots behind loses the oldest ones. The channel is closed
// when the observer closes.
func (o *Observer) Updates() <-chan viewmodel.ViewModel {
	return o.updates
}

// Subscribe calls fn with every published snapshot, on the observer's loop
// goroutine; fn must not block. The returned func unsubscribes.
func (o *Observer) Subscribe(fn func(viewmodel.ViewModel)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// SetPlate switches the observer to plate. In-flight fetches for the old
// plate are cancelled. Setting the plate being looked up again is a no-op
// until that lookup has settled; after that it starts over.
func (o *Observer) SetPlate(plate string) error {
	key, err := parsePlate(plate)
	if err != nil {
		return err
	}
	return o.send(event{kind: evPlate, key: key})
}

// OnImageLoadFailure tells the observer the client could not load the
// display image, which is then hidden for the current plate.
func (o *Observer) OnImageLoadFailure() error {
	return o.send(event{kind: evImageFailed})
}

// Wait blocks until the current lookup settles.
func (o *Observer) Wait(ctx context.Context) (viewmodel.ViewModel, error) {
	for {
		o.mu.RLock()
		vm, changed := o.snapshot, o.changed
		o.mu.RUnlock()

		if vm.Settled() {
			return vm, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return vm, ctx.Err()
		case <-o.exited:
			if err := ctx.Err(); err != nil {
				return o.Snapshot(), err
			}
			return o.Snapshot(), ErrClosed
		}
	}
}

// Close cancels in-flight fetches and stops the observer. It is safe to
// call more than once.
func (o *Observer) Close() {
	o.once.Do(func() {
		o.cancel()
		<-o.exited
	})
}

// Done is closed once the observer has stopped
func (o *Observer) Done() <-chan struct{} {
	return o.exited
}

func (o *Observer) send(ev event) error {
	select {
	case o.events <- ev:
		return nil
	case <-o.exited:
		return ErrClosed
	}
}

func (o *Observer) run() {
	go o.loop()
}

func (o *Observer) loop() {
	defer func() {
		if o.runCancel != nil {
			o.runCancel()
		}
		o.engine.forget(o)
		close(o.updates)
		close(o.exited)
		o.logger.Debug("Observer closed", nil)
	}()

	for {
		select {
		case <-o.ctx.Done():
			return
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

func (o *Observer) handle(ev event) {
	switch ev.kind {
	case evPlate:
		if ev.key == o.builder.Key() && !o.builder.Phase().Settled() {
			return
		}
		o.start(ev.key)
	case evOutcome:
		if ev.run != o.run {
			o.logger.Debug("Dropped outcome of superseded run", map[string]interface{}{
				"plate":  ev.outcome.Key.String(),
				"source": ev.outcome.Source,
			})
			return
		}
		if vm, changed := o.builder.Apply(ev.outcome); changed {
			o.publish(vm)
		} else if ev.outcome.Key != o.builder.Key() {
			o.logger.Debug("Dropped stale outcome", map[string]interface{}{
				"plate":  ev.outcome.Key.String(),
				"source": ev.outcome.Source,
			})
		}
	case evImageFailed:
		if vm, changed := o.builder.ImageFailed(); changed {
			o.publish(vm)
		}
	}
}

func (o *Observer) start(key records.VehicleKey) {
	if o.runCancel != nil {
		o.runCancel()
	}
	runCtx, cancel := context.WithCancel(o.ctx)
	o.runCancel = cancel
	o.run++
	run := o.run

	o.publish(o.builder.Start(key))
	if o.engine.cache != nil {
		o.engine.cache.Focus(key)
	}
	o.logger.Debug("Lookup started", map[string]interface{}{"plate": key.String()})

	o.engine.pair.Start(runCtx, key, func(out backends.Outcome) {
		if runCtx.Err() != nil {
			return
		}
		select {
		case o.events <- event{kind: evOutcome, run: run, outcome: out}:
		case <-o.exited:
		}
	})
}

// publish stores vm as the latest snapshot and notifies everyone.
func (o *Observer) publish(vm viewmodel.ViewModel) {
	o.mu.Lock()
	o.snapshot = vm
	close(o.changed)
	o.changed = make(chan struct{})
	subs := make([]func(viewmodel.ViewModel), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(vm)
	}

	for {
		select {
		case o.updates <- vm:
			return
		default:
		}
		select {
		case <-o.updates:
		default:
		}
	}
}
