package state

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Merge applies a shallow partial update to entity: every top-level key of
// changes replaces the matching field, all other fields keep their value. The
// "id" key is ignored so a merge can never re-key an entity. entity is not
// modified; the result is decoded into a fresh value.
func Merge[E any](entity E, changes json.RawMessage) (E, error) {
	return MergeOmit(entity, changes)
}

// MergeOmit is like Merge but also ignores the keys in omit. Nested
// collections that have their own actions are omitted so that an update can
// never replace them wholesale.
func MergeOmit[E any](entity E, changes json.RawMessage, omit ...string) (E, error) {
	var zero E
	if len(changes) == 0 {
		return entity, nil
	}

	var patch map[string]json.RawMessage
	if err := json.Unmarshal(changes, &patch); err != nil {
		return entity, fmt.Errorf("state: merge: changes must be an object: %w", err)
	}
	if len(patch) == 0 {
		return entity, nil
	}

	raw, err := json.Marshal(entity)
	if err != nil {
		return entity, fmt.Errorf("state: merge: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return entity, fmt.Errorf("state: merge: entity is not an object: %w", err)
	}
	for key, value := range patch {
		if key == "id" || slices.Contains(omit, key) {
			continue
		}
		fields[key] = value
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return entity, fmt.Errorf("state: merge: %w", err)
	}
	out := zero
	if err := json.Unmarshal(merged, &out); err != nil {
		return entity, fmt.Errorf("state: merge: %w", err)
	}
	return out, nil
}
