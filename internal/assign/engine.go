// Package assign implements the placement/merge algorithm that walks a new
// profile down the nomenclature tree, level by level, deciding at each level
// whether it joins an existing cluster, starts a new one, or forces a merge
// of multiple clusters that all claim it.
package assign

import (
	"fmt"
	"math"

	"github.com/cdc-pulsenet/allelecodes/internal/distance"
	"github.com/cdc-pulsenet/allelecodes/internal/nomenclature"
	"github.com/cdc-pulsenet/allelecodes/internal/profiles"
)

// Config carries the per-run parameters the engine needs; Thresholds must
// have exactly tree.Depth() entries, one per clustering level, in the same
// descending order the tree was built with.
type Config struct {
	Thresholds []float64
	MinPresent float64
}

// PassesQC reports whether profile has enough called loci to be placed,
// rounding the present ratio to two decimal places before comparing (so a
// ratio of e.g. 0.595 rounds to 0.60 and is treated as meeting a 0.6
// threshold) — matching the original assignment script's QC check exactly.
func PassesQC(profile []int, minPresent float64) bool {
	if len(profile) == 0 {
		return false
	}
	nonzero := 0
	for _, v := range profile {
		if v != 0 {
			nonzero++
		}
	}
	ratio := float64(nonzero) / float64(len(profile))
	rounded := math.Round(ratio*100) / 100
	return rounded >= minPresent
}

// Place walks profile down the tree, creating, joining, or merging clusters
// level by level, and returns the new key's full root-to-leaf path.
//
// Place assumes the caller has already confirmed key is not yet named and
// that profile has passed QC; it does not re-check either.
func Place(tree *nomenclature.Tree, store *profiles.Store, key string, profile []int, cfg Config) ([]int, error) {
	if len(cfg.Thresholds) != tree.Depth() {
		return nil, fmt.Errorf("assign: thresholds length %d does not match tree depth %d", len(cfg.Thresholds), tree.Depth())
	}

	dc := &distanceCache{store: store, key: key, profile: profile, cache: map[string]float64{}}

	current := tree.Root()
	for level := 1; level <= tree.Depth(); level++ {
		threshold := cfg.Thresholds[level-1]

		var matching []int
		for _, id := range tree.ChildIDs(current) {
			child, _ := tree.Child(current, id)
			ok, err := inCluster(tree, dc, child, threshold, cfg.MinPresent)
			if err != nil {
				return nil, err
			}
			if ok {
				matching = append(matching, id)
			}
		}

		var next nomenclature.Handle
		switch len(matching) {
		case 0:
			next = tree.NewChild(current, key)
		case 1:
			child, _ := tree.Child(current, matching[0])
			d, err := dc.to(tree.Founder(child))
			if err != nil {
				return nil, err
			}
			if d > tree.Diameter(child) {
				tree.SetDiameter(child, d)
			}
			tree.AppendMember(child, key)
			next = child
		default:
			merged, err := mergeAndJoin(tree, dc, current, matching, key)
			if err != nil {
				return nil, err
			}
			next = merged
		}

		current = next
	}

	if !tree.IsTerminal(current) {
		return nil, fmt.Errorf("assign: placement of %q did not terminate at a terminal node", key)
	}
	return tree.AddNamedChild(current, key), nil
}

// mergeAndJoin picks the anchor among matching (largest member count, ties
// broken by smallest node id), absorbs the rest into it, extends the
// anchor's diameter to cover every distance the merge newly makes relevant,
// and joins the new key to the resulting anchor.
func mergeAndJoin(tree *nomenclature.Tree, dc *distanceCache, parent nomenclature.Handle, matching []int, key string) (nomenclature.Handle, error) {
	anchorID := pickAnchor(tree, parent, matching)
	anchorHandle, _ := tree.Child(parent, anchorID)
	anchorFounder := tree.Founder(anchorHandle)

	newDiameter := tree.Diameter(anchorHandle)
	d0, err := dc.to(anchorFounder)
	if err != nil {
		return 0, err
	}
	if d0 > newDiameter {
		newDiameter = d0
	}

	var absorbed []int
	for _, id := range matching {
		if id == anchorID {
			continue
		}
		absorbed = append(absorbed, id)

		h, _ := tree.Child(parent, id)
		for _, member := range tree.Members(h) {
			d, err := distanceBetweenKeys(dc.store, member, anchorFounder)
			if err != nil {
				return 0, err
			}
			if d > newDiameter {
				newDiameter = d
			}
		}
	}

	anchorHandle, _ = tree.MergeSiblings(parent, anchorID, absorbed)
	tree.SetDiameter(anchorHandle, newDiameter)
	tree.AppendMember(anchorHandle, key)
	return anchorHandle, nil
}

// pickAnchor selects, among the given sibling ids, the one with the most
// members, breaking ties toward the smallest id. ids must be in ascending
// order (ChildIDs already returns them that way).
func pickAnchor(tree *nomenclature.Tree, parent nomenclature.Handle, ids []int) int {
	best := ids[0]
	bestCount := -1
	for _, id := range ids {
		h, _ := tree.Child(parent, id)
		count := len(tree.Members(h))
		if count > bestCount {
			bestCount = count
			best = id
		}
	}
	return best
}

// inCluster decides whether node's cluster admits the new profile at the
// given level's threshold: fast-accept if the founder itself is close
// enough, fast-reject if even the most generous possible member of the
// cluster couldn't be within threshold, and otherwise falls back to
// checking every member directly.
func inCluster(tree *nomenclature.Tree, dc *distanceCache, node nomenclature.Handle, threshold, minPresent float64) (bool, error) {
	d, err := dc.to(tree.Founder(node))
	if err != nil {
		return false, err
	}
	if d <= threshold {
		return true, nil
	}

	slack := 2 * (100 - 100*minPresent)
	if d-tree.Diameter(node)-slack > threshold {
		return false, nil
	}

	for _, k := range tree.Members(node) {
		dk, err := dc.to(k)
		if err != nil {
			return false, err
		}
		if dk <= threshold {
			return true, nil
		}
	}
	return false, nil
}

// distanceCache memoizes distances from the profile being placed to any
// other key's profile, fetched lazily from the store.
type distanceCache struct {
	store   *profiles.Store
	key     string
	profile []int
	cache   map[string]float64
}

func (dc *distanceCache) to(other string) (float64, error) {
	if other == dc.key {
		return 0, nil
	}
	if d, ok := dc.cache[other]; ok {
		return d, nil
	}
	p, err := dc.store.Get(other)
	if err != nil {
		return 0, fmt.Errorf("assign: loading profile %q: %w", other, err)
	}
	d := distance.Between(dc.profile, p)
	dc.cache[other] = d
	return d, nil
}

func distanceBetweenKeys(store *profiles.Store, a, b string) (float64, error) {
	if a == b {
		return 0, nil
	}
	pa, err := store.Get(a)
	if err != nil {
		return 0, fmt.Errorf("assign: loading profile %q: %w", a, err)
	}
	pb, err := store.Get(b)
	if err != nil {
		return 0, fmt.Errorf("assign: loading profile %q: %w", b, err)
	}
	return distance.Between(pa, pb), nil
}
