package state

import (
	"reflect"
	"testing"
)

func TestGetPath(t *testing.T) {
	doc := map[string]any{
		"version": "0.2.0",
		"widgets": map[string]any{"a": map[string]any{"color": "red"}},
	}
	if v, ok := getPath(doc, nil); !ok || !reflect.DeepEqual(v, doc) {
		t.Fatalf("empty path should return the document")
	}
	v, ok := getPath(doc, []string{"widgets", "a", "color"})
	if !ok || v != "red" {
		t.Fatalf("unexpected value: %v %v", v, ok)
	}
	if _, ok := getPath(doc, []string{"widgets", "b"}); ok {
		t.Fatalf("missing path should report not found")
	}
	if _, ok := getPath(doc, []string{"version", "deeper"}); ok {
		t.Fatalf("descending into a scalar should report not found")
	}
}

func TestSetPathCreatesIntermediates(t *testing.T) {
	doc := map[string]any{}
	if err := setPath(doc, []string{"a", "b", "c"}, 1.0); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok := getPath(doc, []string{"a", "b", "c"})
	if !ok || v != 1.0 {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestSetPathRejectsNonMappingSegment(t *testing.T) {
	doc := map[string]any{"a": "scalar"}
	if err := setPath(doc, []string{"a", "b"}, 1.0); err == nil {
		t.Fatalf("expected error traversing a scalar")
	}
	if err := setPath(doc, nil, 1.0); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestRemovePath(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 1.0}, "keep": true},
	}
	removePath(doc, []string{"a", "b", "c"})
	if _, ok := getPath(doc, []string{"a", "b", "c"}); ok {
		t.Fatalf("expected c removed")
	}
	// Missing parent and missing leaf are silent no-ops.
	removePath(doc, []string{"nope", "x"})
	removePath(doc, []string{"a", "gone"})
	if v, _ := getPath(doc, []string{"a", "keep"}); v != true {
		t.Fatalf("sibling should survive")
	}
}

func TestRemoveAllAtMultipleDepths(t *testing.T) {
	doc := map[string]any{
		"target": 1.0,
		"outer": map[string]any{
			"target": 2.0,
			"inner":  map[string]any{"target": 3.0, "other": "x"},
		},
	}
	removeAll(doc, "target")
	for _, path := range [][]string{
		{"target"},
		{"outer", "target"},
		{"outer", "inner", "target"},
	} {
		if _, ok := getPath(doc, path); ok {
			t.Fatalf("expected %v removed", path)
		}
	}
	if v, _ := getPath(doc, []string{"outer", "inner", "other"}); v != "x" {
		t.Fatalf("unrelated key should survive")
	}
}

func TestFindAll(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"inputValue": "va1", "inputGenre": "VisAsset"},
		"b": map[string]any{
			"nested": map[string]any{"inputValue": "va2", "inputGenre": "VisAsset"},
		},
		"c": map[string]any{"inputValue": 3.0},
	}
	hits := findAll(doc, func(m map[string]any) bool {
		_, ok := m["inputValue"].(string)
		return ok
	})
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
}

func TestDeepCopyIsolation(t *testing.T) {
	doc := map[string]any{
		"list": []any{1.0, map[string]any{"k": "v"}},
		"map":  map[string]any{"x": 1.0},
	}
	dup := copyDoc(doc)
	dup["map"].(map[string]any)["x"] = 99.0
	dup["list"].([]any)[1].(map[string]any)["k"] = "changed"
	if doc["map"].(map[string]any)["x"] != 1.0 {
		t.Fatalf("copy shares map state with original")
	}
	if doc["list"].([]any)[1].(map[string]any)["k"] != "v" {
		t.Fatalf("copy shares list state with original")
	}
}
