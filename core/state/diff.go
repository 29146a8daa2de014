package state

import (
	"reflect"
	"strconv"
)

// OpKind discriminates edit-script operations.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpRemove  OpKind = "remove"
	OpReplace OpKind = "replace"
)

// Op is one step of an edit script. Ops carry both sides of the change so a
// patch can be applied in either direction.
type Op struct {
	Path   []string
	Kind   OpKind
	Before any
	After  any
}

// Patch is a structural delta between two documents. Apply transforms the
// "before" document into the "after" document; Revert does the opposite.
// Undo history stores patches instead of full snapshots.
type Patch []Op

// Diff computes the edit script turning before into after.
//
// Mappings are compared per key. Sequences of equal length are compared per
// index; a length change replaces the sequence wholesale. Everything else is
// compared by deep equality. Index path segments are decimal strings.
func Diff(before, after any) Patch {
	var patch Patch
	diffValue(nil, before, after, &patch)
	return patch
}

func diffValue(path []string, before, after any, patch *Patch) {
	bm, bok := before.(map[string]any)
	am, aok := after.(map[string]any)
	if bok && aok {
		diffMaps(path, bm, am, patch)
		return
	}
	bs, bok := before.([]any)
	as, aok := after.([]any)
	if bok && aok && len(bs) == len(as) {
		for i := range bs {
			diffValue(appendPath(path, strconv.Itoa(i)), bs[i], as[i], patch)
		}
		return
	}
	if !reflect.DeepEqual(before, after) {
		*patch = append(*patch, Op{
			Path:   appendPath(path),
			Kind:   OpReplace,
			Before: deepCopy(before),
			After:  deepCopy(after),
		})
	}
}

func diffMaps(path []string, before, after map[string]any, patch *Patch) {
	for k, bv := range before {
		av, ok := after[k]
		if !ok {
			*patch = append(*patch, Op{
				Path:   appendPath(path, k),
				Kind:   OpRemove,
				Before: deepCopy(bv),
			})
			continue
		}
		diffValue(appendPath(path, k), bv, av, patch)
	}
	for k, av := range after {
		if _, ok := before[k]; !ok {
			*patch = append(*patch, Op{
				Path:  appendPath(path, k),
				Kind:  OpAdd,
				After: deepCopy(av),
			})
		}
	}
}

// appendPath copies so sibling recursions never share backing arrays.
func appendPath(path []string, extra ...string) []string {
	out := make([]string, 0, len(path)+len(extra))
	out = append(out, path...)
	return append(out, extra...)
}

// Apply transforms a copy of the "before" document into the "after" side.
func (p Patch) Apply(doc any) any {
	out := deepCopy(doc)
	for _, op := range p {
		switch op.Kind {
		case OpAdd, OpReplace:
			out = writeAt(out, op.Path, op.After)
		case OpRemove:
			out = deleteAt(out, op.Path)
		}
	}
	return out
}

// Revert transforms a copy of the "after" document back into the "before"
// side.
func (p Patch) Revert(doc any) any {
	out := deepCopy(doc)
	for _, op := range p {
		switch op.Kind {
		case OpAdd:
			out = deleteAt(out, op.Path)
		case OpRemove, OpReplace:
			out = writeAt(out, op.Path, op.Before)
		}
	}
	return out
}

// writeAt sets value at path inside doc, descending through mappings by key
// and sequences by decimal index. Missing mapping nodes are created; an
// out-of-range index is ignored.
func writeAt(doc any, path []string, value any) any {
	if len(path) == 0 {
		return deepCopy(value)
	}
	parent := descend(doc, path[:len(path)-1], true)
	leaf := path[len(path)-1]
	switch t := parent.(type) {
	case map[string]any:
		t[leaf] = deepCopy(value)
	case []any:
		if i, err := strconv.Atoi(leaf); err == nil && i >= 0 && i < len(t) {
			t[i] = deepCopy(value)
		}
	}
	return doc
}

func deleteAt(doc any, path []string) any {
	if len(path) == 0 {
		return nil
	}
	parent := descend(doc, path[:len(path)-1], false)
	if m, ok := parent.(map[string]any); ok {
		delete(m, path[len(path)-1])
	}
	return doc
}

func descend(doc any, path []string, create bool) any {
	cur := doc
	for _, seg := range path {
		switch t := cur.(type) {
		case map[string]any:
			next, ok := t[seg]
			if !ok {
				if !create {
					return nil
				}
				child := map[string]any{}
				t[seg] = child
				next = child
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil
			}
			cur = t[i]
		default:
			return nil
		}
	}
	return cur
}
