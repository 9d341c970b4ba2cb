package viewmodel

import (
	"bilregistret/internal/backends"
	"bilregistret/internal/errors"
	"bilregistret/internal/images"
	"bilregistret/internal/logging"
	"bilregistret/internal/records"
	"bilregistret/internal/reconcile"
)

// slot tracks one source for the current plate
type slot struct {
	done    bool
	errored bool
	status  SourceStatus
	rec     records.SourceRecord
	err     error
}

// Builder owns the lookup state for one observer. It is not safe for
// concurrent use; the engine drives it from a single goroutine.
//
// Transitions: Idle -> BothPending -> OnePending -> Settled(Success|Error).
// Settled is terminal until Start is called with a new plate.
type Builder struct {
	merger *reconcile.Merger
	logger *logging.Logger

	key         records.VehicleKey
	phase       Phase
	cl, ts      slot
	imageFailed bool
	vm          ViewModel
}

// NewBuilder creates an idle builder. TS wins layout and field values, CL
// fills gaps.
func NewBuilder(logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Builder{
		merger: reconcile.NewMerger(reconcile.PreferPrimary),
		logger: logger,
		phase:  PhaseIdle,
		vm:     Idle(),
	}
}

// Key returns the plate being built, empty when idle
func (b *Builder) Key() records.VehicleKey {
	return b.key
}

// Phase returns the current phase
func (b *Builder) Phase() Phase {
	return b.phase
}

// Snapshot returns a copy of the current view model.
func (b *Builder) Snapshot() ViewModel {
	return b.vm.clone()
}

// Start discards all state and begins a lookup for key.
func (b *Builder) Start(key records.VehicleKey) ViewModel {
	b.key = key
	b.phase = PhaseBothPending
	b.cl = slot{status: StatusPending}
	b.ts = slot{status: StatusPending}
	b.imageFailed = false
	b.render()
	return b.Snapshot()
}

// Reset returns the builder to idle.
func (b *Builder) Reset() ViewModel {
	b.key = ""
	b.phase = PhaseIdle
	b.cl, b.ts = slot{}, slot{}
	b.imageFailed = false
	b.vm = Idle()
	return b.Snapshot()
}

// Apply folds one source outcome into the model. It reports false and
// leaves the model untouched for outcomes of another plate, a second
// outcome from the same source, or any outcome after settling.
func (b *Builder) Apply(o backends.Outcome) (ViewModel, bool) {
	if b.phase == PhaseIdle || b.phase.Settled() || o.Key != b.key {
		return b.Snapshot(), false
	}
	s := b.slotFor(o.Source)
	if s == nil || s.done {
		return b.Snapshot(), false
	}

	s.done = true
	switch o.Kind {
	case backends.OutcomeData:
		s.status = StatusData
		s.rec = o.Record
	case backends.OutcomeEmpty:
		s.status = StatusEmpty
		s.rec = o.Record
		s.err = o.Err
	default:
		s.status = StatusFailed
		s.errored = true
		s.err = o.Err
	}

	before := b.phase
	b.render()
	if b.phase != before {
		b.logger.Debug("Lookup phase changed", map[string]interface{}{
			"plate":  b.key.String(),
			"source": o.Source,
			"from":   before,
			"to":     b.phase,
		})
	}
	return b.Snapshot(), true
}

// ImageFailed hides the display image after the client failed to load it.
// The high resolution URL is kept. A hint that arrives before any display
// image is shown is ignored. It reports whether the model changed.
func (b *Builder) ImageFailed() (ViewModel, bool) {
	if b.phase == PhaseIdle || b.imageFailed || b.vm.CarImageURL == nil {
		return b.Snapshot(), false
	}
	b.imageFailed = true
	b.vm.CarImageURL = nil
	return b.Snapshot(), true
}

func (b *Builder) slotFor(id backends.SourceID) *slot {
	switch id {
	case backends.SourceCL:
		return &b.cl
	case backends.SourceTS:
		return &b.ts
	default:
		return nil
	}
}

// render rebuilds the view model from the two slots.
func (b *Builder) render() {
	vm := ViewModel{
		Plate:           b.key,
		FlattenedLookup: map[string]records.Value{},
		Sources: map[backends.SourceID]SourceStatus{
			backends.SourceCL: b.cl.status,
			backends.SourceTS: b.ts.status,
		},
	}

	car := b.car()
	bothDone := b.cl.done && b.ts.done

	switch {
	case !car.IsEmpty():
		vm.MergedData = &records.Record{Car: car}
		vm.FlattenedLookup = car.Flatten()
		b.phase = b.progress(bothDone, PhaseSuccess)
	case bothDone:
		vm.MergedData = &records.Record{}
		// only two failures surface as an error; an empty or malformed
		// answer from either side settles as an empty success
		if b.cl.errored && b.ts.errored {
			le := asLookupError(errors.MostInformative(b.ts.err, b.cl.err))
			b.phase = PhaseError
			vm.IsError = true
			vm.Error = le
			vm.ErrorClass = errors.ClassOf(le)
			b.logger.Info("Lookup failed on both sources", map[string]interface{}{
				"plate": b.key.String(),
				"code":  le.Code,
				"class": vm.ErrorClass,
				"cause": errors.Combine(b.ts.err, b.cl.err).Error(),
			})
		} else {
			b.phase = PhaseSuccess
		}
	default:
		b.phase = b.progress(false, "")
	}

	vm.Phase = b.phase
	vm.IsLoading = !b.phase.Settled() && !vm.HasData()

	if b.phase != PhaseError && !b.cl.errored {
		// images only ever come from the image source
		imgs := images.Resolve(b.cl.rec)
		vm.CarImageURL = imgs.Display
		vm.HighResImageURL = imgs.HighRes
		if b.imageFailed {
			vm.CarImageURL = nil
		}
	}
	b.vm = vm
}

// progress picks the non-terminal phase from how many sources settled.
func (b *Builder) progress(bothDone bool, settled Phase) Phase {
	switch {
	case bothDone:
		return settled
	case b.cl.done || b.ts.done:
		return PhaseOnePending
	default:
		return PhaseBothPending
	}
}

// car is TS alone, CL alone, or TS merged over CL.
func (b *Builder) car() records.Tree {
	clData, tsData := b.cl.rec.HasData(), b.ts.rec.HasData()
	switch {
	case clData && tsData:
		merged, report := b.merger.MergeWithReport(b.ts.rec.Car, b.cl.rec.Car)
		for _, c := range report.Conflicts {
			b.logger.Debug("Sources disagree", map[string]interface{}{
				"plate":    b.key.String(),
				"section":  c.Section,
				"field":    c.Field,
				"ts":       c.Primary.Interface(),
				"cl":       c.Secondary.Interface(),
				"resolved": c.Resolved.Interface(),
			})
		}
		return merged
	case tsData:
		return b.ts.rec.Car.Clone()
	case clData:
		return b.cl.rec.Car.Clone()
	default:
		return records.EmptyTree()
	}
}

func asLookupError(err error) *errors.LookupError {
	if le, ok := errors.AsLookupError(err); ok {
		return le
	}
	return errors.NewLookupError(errors.CodeOf(err), err.Error(), err)
}
