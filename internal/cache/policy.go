package cache

import (
	"fmt"
	"time"

	"bilregistret/internal/config"
	"bilregistret/internal/errors"
)

// Category groups cache entries that share TTLs and invalidation triggers.
type Category string

const (
	// CategoryVehicleData holds per-source vehicle lookups
	CategoryVehicleData Category = "vehicle-data"
	// CategoryProductData holds parts and product listings
	CategoryProductData Category = "product-data"
	// CategoryCarMetadata holds rarely changing reference data (brands, models)
	CategoryCarMetadata Category = "car-metadata"
	// CategoryGarage holds the signed-in user's saved vehicles
	CategoryGarage Category = "garage"
	// CategoryOther holds everything else
	CategoryOther Category = "other"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryVehicleData,
	CategoryProductData,
	CategoryCarMetadata,
	CategoryGarage,
	CategoryOther,
}

// UserScoped lists the categories whose contents depend on who is signed in.
// Login and logout invalidate all of them. Car metadata is shared reference
// data and survives.
var UserScoped = []Category{
	CategoryVehicleData,
	CategoryProductData,
	CategoryGarage,
	CategoryOther,
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", errors.NewLookupError(errors.InvalidArgument, fmt.Sprintf("unknown cache category %q", s), nil)
}

// Pressure is a memory pressure tier.
type Pressure string

const (
	// PressureLow drops entries past their fresh time
	PressureLow Pressure = "low"
	// PressureMedium keeps only the most recently used entries per category
	PressureMedium Pressure = "medium"
	// PressureHigh keeps only the focused plate's entries
	PressureHigh Pressure = "high"
)

// ParsePressure validates a pressure level.
func ParsePressure(s string) (Pressure, error) {
	switch Pressure(s) {
	case PressureLow, PressureMedium, PressureHigh:
		return Pressure(s), nil
	}
	return "", errors.NewLookupError(errors.InvalidArgument, fmt.Sprintf("unknown pressure level %q", s), nil)
}

// TTL is the lifetime of entries in one category. Entries are served while
// fresh and kept until GC.
type TTL struct {
	Fresh time.Duration
	GC    time.Duration
}

// Policy configures a Coordinator.
type Policy struct {
	TTLs map[Category]TTL
	// Capacity bounds the in-memory entry count; least recently used entries
	// are evicted past it
	Capacity int
	// MediumKeep is how many entries per category survive medium pressure
	MediumKeep int
	// Persist lists categories written through to the warm tier
	Persist []Category
}

// DefaultPolicy returns the default cache policy
func DefaultPolicy() Policy {
	return Policy{
		TTLs: map[Category]TTL{
			CategoryVehicleData: {Fresh: 5 * time.Minute, GC: 10 * time.Minute},
			CategoryProductData: {Fresh: 5 * time.Minute, GC: 10 * time.Minute},
			CategoryCarMetadata: {Fresh: 30 * time.Minute, GC: 60 * time.Minute},
			CategoryGarage:      {Fresh: 5 * time.Minute, GC: 10 * time.Minute},
			CategoryOther:       {Fresh: 5 * time.Minute, GC: 10 * time.Minute},
		},
		Capacity:   2000,
		MediumKeep: 20,
		Persist:    []Category{CategoryVehicleData},
	}
}

// PolicyFromConfig builds a Policy from config, falling back to defaults
// for anything unset.
func PolicyFromConfig(cfg config.CacheConfig) Policy {
	policy := DefaultPolicy()

	for name, c := range cfg.Categories {
		cat, err := ParseCategory(name)
		if err != nil || c.FreshSeconds <= 0 || c.GcSeconds <= 0 {
			continue
		}
		policy.TTLs[cat] = TTL{
			Fresh: time.Duration(c.FreshSeconds) * time.Second,
			GC:    time.Duration(c.GcSeconds) * time.Second,
		}
	}
	if cfg.Capacity > 0 {
		policy.Capacity = cfg.Capacity
	}
	if cfg.MediumKeepPerCategory > 0 {
		policy.MediumKeep = cfg.MediumKeepPerCategory
	}
	return policy
}

// TTLFor returns the TTL of a category, defaulting to the "other" TTL.
func (p Policy) TTLFor(c Category) TTL {
	if ttl, ok := p.TTLs[c]; ok {
		return ttl
	}
	if ttl, ok := p.TTLs[CategoryOther]; ok {
		return ttl
	}
	return TTL{Fresh: 5 * time.Minute, GC: 10 * time.Minute}
}

func (p Policy) persists(c Category) bool {
	for _, pc := range p.Persist {
		if pc == c {
			return true
		}
	}
	return false
}
