package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/vango-dev/tablesync/pkg/state"
)

// MaxPatchDepth bounds the nesting of deleted key paths.
const MaxPatchDepth = 32

// ErrInvalidPatch is wrapped by every error returned from applying a patch.
var ErrInvalidPatch = errors.New("protocol: invalid state patch")

// StatePatch is a structural diff between the JSON forms of two states.
//
// Patch holds every changed or added value, nested by object key. Objects
// are diffed key by key; arrays and scalars are replaced whole.
// DeletedKeys holds the path of every key present in the old tree and
// absent from the new one.
type StatePatch struct {
	Patch       map[string]any `json:"patch"`
	DeletedKeys [][]string     `json:"deletedKeys,omitempty"`
}

// Empty reports whether applying the patch changes nothing.
func (p StatePatch) Empty() bool {
	return len(p.Patch) == 0 && len(p.DeletedKeys) == 0
}

// MarshalJSON never emits a null patch object.
func (p StatePatch) MarshalJSON() ([]byte, error) {
	type wire StatePatch
	w := wire(p)
	if w.Patch == nil {
		w.Patch = map[string]any{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON keeps numbers as json.Number so integers survive the trip.
func (p *StatePatch) UnmarshalJSON(data []byte) error {
	type wire StatePatch
	var w wire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	*p = StatePatch(w)
	return nil
}

// StateTree converts a state to its generic JSON tree.
func StateTree(s state.State) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode state: %w", err)
	}
	return decodeTree(data)
}

func decodeTree(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("protocol: decode state tree: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, nil
}

// BuildPatch diffs two states.
func BuildPatch(old, cur state.State) (StatePatch, error) {
	a, err := StateTree(old)
	if err != nil {
		return StatePatch{}, err
	}
	b, err := StateTree(cur)
	if err != nil {
		return StatePatch{}, err
	}
	return Diff(a, b), nil
}

// Diff computes the patch that turns old into cur. Neither tree is modified
// but the patch shares subtrees with cur.
func Diff(old, cur map[string]any) StatePatch {
	var p StatePatch
	p.Patch = diffInto(old, cur, nil, &p)
	return p
}

func diffInto(old, cur map[string]any, path []string, p *StatePatch) map[string]any {
	out := map[string]any{}
	for k := range old {
		if _, ok := cur[k]; !ok {
			p.DeletedKeys = append(p.DeletedKeys, appendPath(path, k))
		}
	}
	for k, nv := range cur {
		ov, ok := old[k]
		if !ok {
			out[k] = nv
			continue
		}
		om, oIsObj := ov.(map[string]any)
		nm, nIsObj := nv.(map[string]any)
		if oIsObj && nIsObj {
			if sub := diffInto(om, nm, appendPath(path, k), p); len(sub) > 0 {
				out[k] = sub
			}
			continue
		}
		if !reflect.DeepEqual(ov, nv) {
			out[k] = nv
		}
	}
	return out
}

func appendPath(path []string, k string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, k)
}

// ApplyToTree merges the patch into tree and then removes the deleted
// paths. The tree is modified in place.
func (p StatePatch) ApplyToTree(tree map[string]any) error {
	for _, path := range p.DeletedKeys {
		if len(path) == 0 {
			return fmt.Errorf("%w: empty deleted key path", ErrInvalidPatch)
		}
		if len(path) > MaxPatchDepth {
			return fmt.Errorf("%w: deleted key path deeper than %d", ErrInvalidPatch, MaxPatchDepth)
		}
	}
	mergeDeep(tree, p.Patch)
	for _, path := range p.DeletedKeys {
		deletePath(tree, path)
	}
	return nil
}

// ApplyTo applies the patch to base and validates the result. On error the
// zero State is returned and base is untouched.
func (p StatePatch) ApplyTo(base state.State) (state.State, error) {
	tree, err := StateTree(base)
	if err != nil {
		return state.State{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if err := p.ApplyToTree(tree); err != nil {
		return state.State{}, err
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return state.State{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	s, err := state.Decode(data)
	if err != nil {
		return state.State{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return s, nil
}

// mergeDeep copies src into dst. Objects present on both sides merge
// recursively; anything else replaces the destination value. Maps taken
// from src are copied so dst never aliases the patch.
func mergeDeep(dst, src map[string]any) {
	for k, sv := range src {
		sm, sIsObj := sv.(map[string]any)
		if !sIsObj {
			dst[k] = sv
			continue
		}
		dm, dIsObj := dst[k].(map[string]any)
		if !dIsObj {
			dm = map[string]any{}
			dst[k] = dm
		}
		mergeDeep(dm, sm)
	}
}

func deletePath(tree map[string]any, path []string) {
	node := tree
	for _, k := range path[:len(path)-1] {
		next, ok := node[k].(map[string]any)
		if !ok {
			return
		}
		node = next
	}
	delete(node, path[len(path)-1])
}
