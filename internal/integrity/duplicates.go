// Package integrity implements the read-only checks that gate every pipeline
// stage: key uniqueness and per-entity time continuity. Checks never modify
// their input; a gate helper turns a non-empty result into a typed error
// naming the offending keys or entities.
package integrity

import (
	"slices"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

// Duplicate is a key that occurs more than once.
type Duplicate struct {
	Key   panel.Key
	Count int
}

// Duplicates returns every key of keyColumns that occurs more than once in t,
// in increasing key order. An empty result means the key is unique.
func Duplicates(t *panel.Table, keyColumns []string) ([]Duplicate, error) {
	idx, err := t.Schema.Indices(keyColumns...)
	if err != nil {
		return nil, errors.Wrap(err, t.Name)
	}

	keys := make([]panel.Key, len(t.Rows))
	for i, r := range t.Rows {
		keys[i] = panel.KeyOf(r, idx)
	}
	slices.SortFunc(keys, panel.CompareKeys)

	// Equal keys are adjacent once sorted; count runs.
	var out []Duplicate
	for lo := 0; lo < len(keys); {
		hi := lo + 1
		for hi < len(keys) && panel.CompareKeys(keys[lo], keys[hi]) == 0 {
			hi++
		}
		if n := hi - lo; n > 1 {
			out = append(out, Duplicate{Key: keys[lo], Count: n})
		}
		lo = hi
	}
	return out, nil
}

// Counts maps each duplicated key, as panel.Key.Encode, to its count.
func Counts(dups []Duplicate) map[string]int {
	out := make(map[string]int, len(dups))
	for _, d := range dups {
		out[d.Key.Encode()] = d.Count
	}
	return out
}

// CheckUnique is the uniqueness gate. It returns a *errors.DuplicateKeyError
// listing every duplicated key, or nil.
func CheckUnique(t *panel.Table, keyColumns []string) error {
	dups, err := Duplicates(t, keyColumns)
	if err != nil {
		return err
	}
	if len(dups) == 0 {
		return nil
	}
	e := &errors.DuplicateKeyError{Table: t.Name}
	for _, d := range dups {
		e.Keys = append(e.Keys, d.Key.String())
		e.Counts = append(e.Counts, d.Count)
	}
	return e
}
