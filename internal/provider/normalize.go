package provider

import (
	"math"
	"strings"

	"trainer/internal/store"
)

// Normalizer converts one raw provider record into the canonical Activity.
// ok is false when the record should be skipped (excluded sport, no identifier).
// An error means the record could not be decoded at all.
type Normalizer interface {
	Normalize(raw RawRecord) (activity store.Activity, ok bool, err error)
}

// DefaultExcludedTypes are canonical types dropped during import
var DefaultExcludedTypes = []string{"walk"}

// TypeSet is a set of canonical activity types
type TypeSet map[string]struct{}

// NewTypeSet builds a set from canonical names, ignoring case and blanks
func NewTypeSet(types []string) TypeSet {
	set := make(TypeSet, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Has reports whether t is in the set
func (s TypeSet) Has(t string) bool {
	_, ok := s[t]
	return ok
}

// Round rounds an optional measurement. Missing stays missing.
func Round(v *float64) *int {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	i := int(math.Round(*v))
	return &i
}

// RoundRecorded is Round for sensor readings where providers report 0 for
// "not recorded" (heart rate, cadence, calories).
func RoundRecorded(v *float64) *int {
	r := Round(v)
	if r == nil || *r <= 0 {
		return nil
	}
	return r
}
