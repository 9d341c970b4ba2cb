// Package backends runs the two vehicle data sources side by side for one
// plate: memo and cache checks, per-source concurrency limits, coalescing of
// identical fetches, and exactly one outcome per source.
package backends

import (
	"context"

	"bilregistret/internal/records"
)

// SourceID identifies a vehicle data source
type SourceID string

const (
	// SourceCL is the legacy source: fast, thinner data, and the only one
	// that carries image URLs
	SourceCL SourceID = "cl"
	// SourceTS is the richer, slower source; it wins field values and
	// section layout
	SourceTS SourceID = "ts"
)

// ImageSource is the only source whose payload is consulted for images.
// TS records never carry imageInfo, so image resolution reads CL alone and a
// TS answer can never change the chosen image.
const ImageSource = SourceCL

// LayoutSource is the source whose tree is the merge primary.
const LayoutSource = SourceTS

// Source fetches one plate from one backend. A plate the backend does not
// know is returned as an errors.NotFound LookupError, not as an empty record.
type Source interface {
	ID() SourceID
	Fetch(ctx context.Context, key records.VehicleKey) (records.SourceRecord, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	SourceID SourceID
	Fn       func(ctx context.Context, key records.VehicleKey) (records.SourceRecord, error)
}

// ID implements Source
func (f SourceFunc) ID() SourceID {
	return f.SourceID
}

// Fetch implements Source
func (f SourceFunc) Fetch(ctx context.Context, key records.VehicleKey) (records.SourceRecord, error) {
	return f.Fn(ctx, key)
}
