package assign

import (
	"testing"

	"github.com/cdc-pulsenet/allelecodes/internal/nomenclature"
	"github.com/cdc-pulsenet/allelecodes/internal/profiles"
)

func newTestStore(t *testing.T) *profiles.Store {
	t.Helper()
	return profiles.New(t.TempDir())
}

func TestPlaceFreshInsertCreatesNewChainToDepth(t *testing.T) {
	tr := nomenclature.New(2)
	store := newTestStore(t)

	profile := []int{1, 1, 1, 1, 1}
	if err := store.Add("K1", profile); err != nil {
		t.Fatalf("Add: %v", err)
	}

	path, err := Place(tr, store, "K1", profile, Config{Thresholds: []float64{50, 10}, MinPresent: 0.6})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if len(path) != 2 || path[0] != 1 || path[1] != 1 {
		t.Fatalf("path = %v, want [1 1]", path)
	}
	if !tr.HasName("K1") {
		t.Fatalf("K1 should be named after placement")
	}
}

func TestPlaceJoinsWithinThreshold(t *testing.T) {
	tr := nomenclature.New(2)
	store := newTestStore(t)
	cfg := Config{Thresholds: []float64{75, 40}, MinPresent: 0.6}

	ka := []int{1, 1, 1, 1, 1, 1}
	if err := store.Add("Ka", ka); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := Place(tr, store, "Ka", ka, cfg); err != nil {
		t.Fatalf("Place Ka: %v", err)
	}

	// One mismatch out of 6 loci -> 16.7%, well within both thresholds.
	kb := []int{1, 1, 1, 1, 1, 2}
	if err := store.Add("Kb", kb); err != nil {
		t.Fatalf("Add: %v", err)
	}
	path, err := Place(tr, store, "Kb", kb, cfg)
	if err != nil {
		t.Fatalf("Place Kb: %v", err)
	}
	if path[0] != tr.GetName("Ka")[0] || path[1] != tr.GetName("Ka")[1] {
		t.Fatalf("Kb path %v should match Ka path %v (same terminal)", path, tr.GetName("Ka"))
	}
}

func TestPlaceMergesWhenMultipleSiblingsMatch(t *testing.T) {
	tr := nomenclature.New(2)
	store := newTestStore(t)
	cfg := Config{Thresholds: []float64{75, 40}, MinPresent: 0.6}

	ka := []int{1, 1, 1, 1, 1, 1}
	if err := store.Add("Ka", ka); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := Place(tr, store, "Ka", ka, cfg); err != nil {
		t.Fatalf("Place Ka: %v", err)
	}

	// 3/6 mismatches (50%) vs Ka: joins the level-1 cluster (50<=75) but
	// does not join Ka's terminal (50>40), so it founds a sibling terminal.
	kb := []int{1, 1, 1, 2, 2, 2}
	if err := store.Add("Kb", kb); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := Place(tr, store, "Kb", kb, cfg); err != nil {
		t.Fatalf("Place Kb: %v", err)
	}
	if tr.GetName("Kb")[1] == tr.GetName("Ka")[1] {
		t.Fatalf("Kb should have founded a separate terminal from Ka before the merge")
	}

	// Within 40% of both Ka (2/6 = 33.3%) and Kb (1/6 = 16.7%): forces a
	// merge of the two terminal siblings.
	kx := []int{1, 1, 1, 1, 2, 2}
	if err := store.Add("Kx", kx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := Place(tr, store, "Kx", kx, cfg); err != nil {
		t.Fatalf("Place Kx: %v", err)
	}

	if tr.GetName("Ka")[1] != tr.GetName("Kb")[1] {
		t.Fatalf("after merge, Ka and Kb should share a terminal: Ka=%v Kb=%v", tr.GetName("Ka"), tr.GetName("Kb"))
	}
	if tr.GetName("Kx")[1] != tr.GetName("Ka")[1] {
		t.Fatalf("Kx should land in the merged terminal: Kx=%v Ka=%v", tr.GetName("Kx"), tr.GetName("Ka"))
	}
	// Anchor tie-break: Ka's terminal was created first (smaller id), so
	// it survives as the anchor and its founder is unchanged.
	anchorPath := tr.GetName("Ka")
	h, ok := tr.Traverse(anchorPath)
	if !ok {
		t.Fatalf("anchor path %v should resolve", anchorPath)
	}
	if tr.Founder(h) != "Ka" {
		t.Fatalf("anchor founder = %q, want Ka", tr.Founder(h))
	}
	if tr.Diameter(h) != 50 {
		t.Fatalf("anchor diameter = %v, want 50 (Kb's distance to founder Ka)", tr.Diameter(h))
	}
}

func TestPassesQC(t *testing.T) {
	if !PassesQC([]int{0, 0, 1, 1, 1}, 0.6) {
		t.Fatalf("3/5 = 0.6 should pass a 0.6 minimum")
	}
	if PassesQC([]int{0, 0, 0, 1, 1}, 0.6) {
		t.Fatalf("2/5 = 0.4 should fail a 0.6 minimum")
	}
}

func TestPlaceRejectsMismatchedThresholdLength(t *testing.T) {
	tr := nomenclature.New(2)
	store := newTestStore(t)
	if _, err := Place(tr, store, "K1", []int{1, 1}, Config{Thresholds: []float64{50}, MinPresent: 0.6}); err == nil {
		t.Fatalf("expected error when thresholds length does not match tree depth")
	}
}
