// Package records holds the normalized vehicle record model shared by every
// stage of the lookup pipeline: plates, field values, section trees and the
// raw per-source records they are decoded from.
package records

import (
	"strings"
	"unicode"
)

// VehicleKey is a registration plate with all whitespace removed. Case is
// preserved. It is the identity used for caching and deduplication.
type VehicleKey string

// NormalizePlate strips every whitespace rune from plate.
func NormalizePlate(plate string) VehicleKey {
	return VehicleKey(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, plate))
}

// String returns the plate text.
func (k VehicleKey) String() string {
	return string(k)
}

// IsZero reports whether the key is empty after normalization.
func (k VehicleKey) IsZero() bool {
	return k == ""
}
