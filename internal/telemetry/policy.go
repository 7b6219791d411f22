package telemetry

import (
	"encoding/json"
	"fmt"
)

// TemperatureRange is the per product-category cold-chain policy.
// Configuration data, not derived state.
type TemperatureRange struct {
	MinC float64 `json:"min_c"`
	MaxC float64 `json:"max_c"`
}

// Contains reports whether a reading is within the policy.
func (r TemperatureRange) Contains(readingC float64) bool {
	return readingC >= r.MinC && readingC <= r.MaxC
}

// Policy maps product categories to their temperature ranges. The
// default category is used for products without a specific entry.
type Policy struct {
	ranges       map[string]TemperatureRange
	defaultRange TemperatureRange
}

// DefaultPolicy is the standard refrigerated cold chain: 2-8 °C.
func DefaultPolicy() *Policy {
	return &Policy{
		ranges:       map[string]TemperatureRange{},
		defaultRange: TemperatureRange{MinC: 2, MaxC: 8},
	}
}

// PolicyFromJSON parses `{"category": {"min_c": .., "max_c": ..}}`.
// A "default" key overrides the built-in 2-8 °C fallback.
func PolicyFromJSON(raw []byte) (*Policy, error) {
	var ranges map[string]TemperatureRange
	if err := json.Unmarshal(raw, &ranges); err != nil {
		return nil, fmt.Errorf("parse temperature policy: %w", err)
	}
	p := DefaultPolicy()
	for category, r := range ranges {
		if r.MinC >= r.MaxC {
			return nil, fmt.Errorf("temperature policy %q: min %v must be below max %v", category, r.MinC, r.MaxC)
		}
		if category == "default" {
			p.defaultRange = r
			continue
		}
		p.ranges[category] = r
	}
	return p, nil
}

// RangeFor returns the range for a product category.
func (p *Policy) RangeFor(category string) TemperatureRange {
	if r, ok := p.ranges[category]; ok {
		return r
	}
	return p.defaultRange
}
