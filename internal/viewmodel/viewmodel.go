// Package viewmodel folds per-source outcomes into the progressively
// completed view of one vehicle lookup.
package viewmodel

import (
	"bilregistret/internal/backends"
	"bilregistret/internal/errors"
	"bilregistret/internal/records"
)

// Phase is where a lookup stands
type Phase string

const (
	// PhaseIdle means no plate is being observed
	PhaseIdle Phase = "idle"
	// PhaseBothPending means neither source has settled
	PhaseBothPending Phase = "both-pending"
	// PhaseOnePending means exactly one source has settled
	PhaseOnePending Phase = "one-pending"
	// PhaseSuccess is terminal: both settled and the result is final
	PhaseSuccess Phase = "settled-success"
	// PhaseError is terminal: no data and at least one source failed
	PhaseError Phase = "settled-error"
)

// Settled reports whether p is terminal
func (p Phase) Settled() bool {
	return p == PhaseSuccess || p == PhaseError
}

// SourceStatus is one source's progress as shown to callers
type SourceStatus string

const (
	StatusPending SourceStatus = "pending"
	StatusData    SourceStatus = "data"
	StatusEmpty   SourceStatus = "empty"
	StatusFailed  SourceStatus = "failed"
)

// ViewModel is one published snapshot of a lookup.
type ViewModel struct {
	Plate           records.VehicleKey                 `json:"plate"`
	Phase           Phase                              `json:"phase"`
	MergedData      *records.Record                    `json:"mergedData"`
	IsLoading       bool                               `json:"isLoading"`
	IsError         bool                               `json:"isError"`
	Error           *errors.LookupError                `json:"error"`
	ErrorClass      errors.Class                       `json:"errorClass,omitempty"`
	CarImageURL     *string                            `json:"carImageUrl"`
	HighResImageURL *string                            `json:"highResImageUrl"`
	FlattenedLookup map[string]records.Value           `json:"flattenedLookup"`
	Sources         map[backends.SourceID]SourceStatus `json:"sources"`
}

// Idle returns the snapshot of an observer with no plate.
func Idle() ViewModel {
	return ViewModel{
		Phase:           PhaseIdle,
		FlattenedLookup: map[string]records.Value{},
		Sources:         map[backends.SourceID]SourceStatus{},
	}
}

// HasData reports whether the snapshot carries car data
func (v ViewModel) HasData() bool {
	return v.MergedData != nil && !v.MergedData.Car.IsEmpty()
}

// Settled reports whether the snapshot is final for its plate
func (v ViewModel) Settled() bool {
	return v.Phase.Settled()
}

// Completeness counts settled sources. Successive snapshots for one plate
// never decrease it.
func (v ViewModel) Completeness() int {
	n := 0
	for _, status := range v.Sources {
		if status != StatusPending {
			n++
		}
	}
	return n
}

// Field looks a field up by name in the flattened index.
func (v ViewModel) Field(name string) (records.Value, bool) {
	value, ok := v.FlattenedLookup[name]
	return value, ok
}

func (v ViewModel) clone() ViewModel {
	out := v
	out.Sources = make(map[backends.SourceID]SourceStatus, len(v.Sources))
	for k, s := range v.Sources {
		out.Sources[k] = s
	}
	return out
}
