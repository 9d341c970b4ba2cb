package backends

import (
	"bilregistret/internal/records"
)

// OutcomeKind is how a source settled
type OutcomeKind string

const (
	// OutcomeData means the source answered with car data
	OutcomeData OutcomeKind = "data"
	// OutcomeEmpty means the source answered but had nothing usable. A
	// malformed payload settles this way, with Err set for diagnostics.
	OutcomeEmpty OutcomeKind = "empty"
	// OutcomeFailure means the source failed; Err says why
	OutcomeFailure OutcomeKind = "failure"
)

// Origin says where an outcome's record came from
type Origin string

const (
	// OriginFetch is a live fetch
	OriginFetch Origin = "fetch"
	// OriginCache is a fresh cache hit
	OriginCache Origin = "cache"
	// OriginMemo is a remembered failure; the source was not contacted
	OriginMemo Origin = "memo"
	// OriginShared is a fetch coalesced with another caller's
	OriginShared Origin = "shared"
)

// Outcome is one source's single settlement for one plate.
type Outcome struct {
	Key        records.VehicleKey
	Source     SourceID
	Kind       OutcomeKind
	Record     records.SourceRecord
	Err        error
	Origin     Origin
	DurationMs int64
}

// HasData reports whether the outcome carries car data
func (o Outcome) HasData() bool {
	return o.Kind == OutcomeData
}

// Failed reports whether the source failed
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailure
}

func settle(key records.VehicleKey, source SourceID, rec records.SourceRecord, err error, origin Origin) Outcome {
	out := Outcome{Key: key, Source: source, Origin: origin}
	switch {
	case err != nil:
		out.Kind = OutcomeFailure
		out.Err = err
	case rec.HasData():
		out.Kind = OutcomeData
		out.Record = rec
	default:
		out.Kind = OutcomeEmpty
		out.Record = rec
	}
	return out
}
