package storage

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"bilregistret/internal/records"
)

// codec turns source records into compressed blobs and back. Encoder and
// decoder are safe for concurrent EncodeAll/DecodeAll.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

// storedRecord tags the car payload with its shape. A flat mapping whose
// fields happen to be "title" and "data" would otherwise read back as a
// one-section tree.
type storedRecord struct {
	Shape     string                   `json:"shape,omitempty"`
	Car       json.RawMessage          `json:"car"`
	ImageInfo map[string]records.Value `json:"imageInfo,omitempty"`
}

func (c *codec) encode(rec records.SourceRecord) ([]byte, error) {
	car, err := json.Marshal(rec.Car)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(storedRecord{
		Shape:     rec.Car.Shape().String(),
		Car:       car,
		ImageInfo: rec.ImageInfo,
	})
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *codec) decode(blob []byte) (records.SourceRecord, error) {
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return records.SourceRecord{}, fmt.Errorf("decompress: %w", err)
	}
	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return records.SourceRecord{}, fmt.Errorf("decode record: %w", err)
	}

	rec := records.SourceRecord{ImageInfo: stored.ImageInfo}
	if stored.Shape == records.ShapeFlat.String() {
		var v records.Value
		if err := v.UnmarshalJSON(stored.Car); err != nil {
			return records.SourceRecord{}, fmt.Errorf("decode car: %w", err)
		}
		if v.Kind() != records.KindObject {
			return records.SourceRecord{}, fmt.Errorf("decode car: flat payload is not an object")
		}
		rec.Car = records.FlatTree(v.ObjectFields())
		return rec, nil
	}

	// untagged blobs predate the shape tag
	tree, err := records.ParseTree(stored.Car)
	if err != nil {
		return records.SourceRecord{}, fmt.Errorf("decode car: %w", err)
	}
	rec.Car = tree
	return rec, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
