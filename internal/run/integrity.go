package run

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cdc-pulsenet/allelecodes/internal/nomenclature"
	"github.com/cdc-pulsenet/allelecodes/internal/profiles"
)

// IntegrityError reports that the tree's name index and the profile store
// disagree on which keys exist. Either side's excess means the other has
// lost or never received a write, and assignment must not proceed: placing
// a new profile against a tree that doesn't agree with its own profile
// store risks comparing against a profile that was never really saved, or
// silently orphaning one that was.
type IntegrityError struct {
	TreeExcess  []string
	StoreExcess []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("run: tree and profile store disagree on key set (tree excess: %s; store excess: %s)",
		joinOrNone(e.TreeExcess), joinOrNone(e.StoreExcess))
}

func joinOrNone(keys []string) string {
	if len(keys) == 0 {
		return "none"
	}
	return strings.Join(keys, ", ")
}

// checkIntegrity validates that every key named in tree has a profile in
// store and vice versa, before any row in the batch is placed.
func checkIntegrity(tree *nomenclature.Tree, store *profiles.Store) error {
	inTree := tree.Names()
	inStore := make(map[string]bool, len(store.Keys()))
	for _, k := range store.Keys() {
		inStore[k] = true
	}

	var treeExcess, storeExcess []string
	for k := range inTree {
		if !inStore[k] {
			treeExcess = append(treeExcess, k)
		}
	}
	for k := range inStore {
		if _, ok := inTree[k]; !ok {
			storeExcess = append(storeExcess, k)
		}
	}

	if len(treeExcess) == 0 && len(storeExcess) == 0 {
		return nil
	}
	sort.Strings(treeExcess)
	sort.Strings(storeExcess)
	return &IntegrityError{TreeExcess: treeExcess, StoreExcess: storeExcess}
}
