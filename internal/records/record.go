package records

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SourceRecord is what one backend returned for a plate, normalized at
// ingestion: the car payload as a Tree plus the optional imageInfo side-channel.
type SourceRecord struct {
	Car       Tree             `json:"car"`
	ImageInfo map[string]Value `json:"imageInfo,omitempty"`
}

// IsEmpty reports whether the record carries neither car data nor images.
func (r SourceRecord) IsEmpty() bool {
	return r.Car.IsEmpty() && len(r.ImageInfo) == 0
}

// HasData reports whether the car payload holds any fields.
func (r SourceRecord) HasData() bool {
	return !r.Car.IsEmpty()
}

// Record is the reconciled record published to callers.
type Record struct {
	Car Tree `json:"car"`
}

// DecodeSourceRecord normalizes a backend response body. Accepted envelopes:
//
//	{"car": <tree>, "imageInfo": {...}}
//	{"sections": <tree>, "imageInfo": {...}}
//	<tree>                                  (bare payload, no envelope)
//
// A body that is neither sectioned nor flat is an error; callers report it
// as a malformed response.
func DecodeSourceRecord(body []byte) (SourceRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return SourceRecord{}, nil
	}
	if body[0] != '{' {
		tree, err := ParseTree(body)
		if err != nil {
			return SourceRecord{}, err
		}
		return SourceRecord{Car: tree}, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return SourceRecord{}, fmt.Errorf("decode record: %w", err)
	}

	carRaw, hasCar := envelope["car"]
	if !hasCar {
		carRaw, hasCar = envelope["sections"]
	}
	imageRaw, hasImages := envelope["imageInfo"]
	if !hasCar && !hasImages {
		tree, err := ParseTree(body)
		if err != nil {
			return SourceRecord{}, err
		}
		return SourceRecord{Car: tree}, nil
	}

	var rec SourceRecord
	if hasCar {
		tree, err := ParseTree(carRaw)
		if err != nil {
			return SourceRecord{}, fmt.Errorf("car: %w", err)
		}
		rec.Car = tree
	}
	if hasImages {
		info, err := decodeImageInfo(imageRaw)
		if err != nil {
			return SourceRecord{}, fmt.Errorf("imageInfo: %w", err)
		}
		rec.ImageInfo = info
	}
	return rec, nil
}

func decodeImageInfo(raw json.RawMessage) (map[string]Value, error) {
	var v Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	switch v.Kind() {
	case KindNull:
		return nil, nil
	case KindObject:
		info := make(map[string]Value, fieldCount(v.ObjectFields()))
		EachField(v.ObjectFields(), func(name string, item Value) {
			info[name] = item
		})
		return info, nil
	default:
		return nil, fmt.Errorf("expected object")
	}
}
