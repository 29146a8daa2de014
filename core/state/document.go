package state

import "fmt"

// The document is plain JSON vocabulary: nil, bool, float64, string, []any
// and map[string]any. All traversal goes through explicit type switches on
// those variants.

// getPath walks doc along path. The empty path returns doc itself.
func getPath(doc any, path []string) (any, bool) {
	cur := doc
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes value at path, creating intermediate mapping nodes for
// missing segments. Traversing an existing non-mapping node is an error.
func setPath(doc map[string]any, path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("setPath requires a non-empty path")
	}
	cur := doc
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg]
		if !ok {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path segment %q is not a mapping", seg)
		}
		cur = child
	}
	cur[path[len(path)-1]] = value
	return nil
}

// removePath deletes the node at path. A missing parent or leaf is a silent
// no-op.
func removePath(doc map[string]any, path []string) {
	if len(path) == 0 {
		return
	}
	cur := doc
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, path[len(path)-1])
}

// removeAll strips every occurrence of key from doc, depth-first.
func removeAll(doc map[string]any, key string) {
	delete(doc, key)
	for _, v := range doc {
		if child, ok := v.(map[string]any); ok {
			removeAll(child, key)
		}
	}
}

// findAll collects every mapping node (including doc itself) satisfying the
// predicate, depth-first.
func findAll(doc map[string]any, pred func(map[string]any) bool) []map[string]any {
	var out []map[string]any
	var walk func(m map[string]any)
	walk = func(m map[string]any) {
		if pred(m) {
			out = append(out, m)
		}
		for _, v := range m {
			if child, ok := v.(map[string]any); ok {
				walk(child)
			}
		}
	}
	walk(doc)
	return out
}

// deepCopy clones a JSON value structurally. Scalars are immutable and pass
// through.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return t
	}
}

func copyDoc(doc map[string]any) map[string]any {
	return deepCopy(doc).(map[string]any)
}
