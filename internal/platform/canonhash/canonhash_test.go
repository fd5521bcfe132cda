package canonhash

import (
	"testing"
	"time"
)

func TestHashIgnoresKeyInsertionOrder(t *testing.T) {
	a := map[string]any{
		"merchant.name": "ABC Tech Inc",
		"merchant.ein":  "12-3456789",
		"nested": map[string]any{
			"x": 1,
			"y": []any{"a", "b"},
		},
	}
	b := map[string]any{
		"nested": map[string]any{
			"y": []any{"a", "b"},
			"x": 1,
		},
		"merchant.ein":  "12-3456789",
		"merchant.name": "ABC Tech Inc",
	}

	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("Hash(a): %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("Hash(b): %v", err)
	}
	if ha != hb {
		t.Fatalf("expected identical hashes, got %s vs %s", ha, hb)
	}
}

func TestHashListOrderMatters(t *testing.T) {
	a := map[string]any{"docs": []any{"d1", "d2"}}
	b := map[string]any{"docs": []any{"d2", "d1"}}

	ha, _ := Hash(a)
	hb, _ := Hash(b)
	if ha == hb {
		t.Fatal("ordered list permutation must change the hash")
	}
}

func TestHashUnorderedCollection(t *testing.T) {
	a := map[string]any{"revisions": Unordered{"r3", "r1", "r2"}}
	b := map[string]any{"revisions": Unordered{"r2", "r3", "r1"}}

	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("Hash(a): %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("Hash(b): %v", err)
	}
	if ha != hb {
		t.Fatal("unordered collection permutation must not change the hash")
	}
}

func TestHashCanonicalTime(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	a := map[string]any{"at": time.Date(2026, 3, 1, 14, 0, 0, 0, loc)}
	b := map[string]any{"at": time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	ha, _ := Hash(a)
	hb, _ := Hash(b)
	if ha != hb {
		t.Fatal("equal instants in different zones must hash identically")
	}
}

func TestHashStructRoundTrip(t *testing.T) {
	type doc struct {
		RevisionID string `json:"revision_id"`
		URI        string `json:"uri"`
	}
	a := map[string]any{"doc": doc{RevisionID: "r1", URI: "gs://x"}}
	b := map[string]any{"doc": map[string]any{"uri": "gs://x", "revision_id": "r1"}}

	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("Hash(a): %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("Hash(b): %v", err)
	}
	if ha != hb {
		t.Fatal("struct and equivalent map must hash identically")
	}
}

func TestSortedStrings(t *testing.T) {
	got := SortedStrings([]string{"b", "a", "b", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
