package nomenclature

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// treeDoc is the on-disk shape: a flat key->path index alongside the
// recursive node tree, matching the original assignment script's
// {"names": {...}, "tree": {...}} document.
type treeDoc struct {
	Names map[string][]int `json:"names"`
	Tree  nodeDoc          `json:"tree"`
}

type nodeDoc struct {
	ID       int                 `json:"id"`
	Level    int                 `json:"level"`
	Diameter float64             `json:"diameter"`
	Founder  string              `json:"founder,omitempty"`
	Children map[string]*nodeDoc `json:"children,omitempty"`
	Details  *detailsDoc         `json:"details,omitempty"`
}

type detailsDoc struct {
	NamedChildren []string `json:"named_children"`
}

// Save writes the tree as a single JSON document.
func (t *Tree) Save(w io.Writer) error {
	doc := treeDoc{Names: t.names, Tree: t.saveNode(t.root)}
	enc := json.NewEncoder(w)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding tree: %w", err)
	}
	return nil
}

func (t *Tree) saveNode(h Handle) nodeDoc {
	n := t.nodes[h]
	doc := nodeDoc{ID: n.id, Level: n.level, Diameter: n.diameter, Founder: n.founder}

	if n.kind == terminal {
		keys := make([]string, 0, len(n.namedChildren))
		for k := range n.namedChildren {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		doc.Details = &detailsDoc{NamedChildren: keys}
		return doc
	}

	doc.Children = make(map[string]*nodeDoc, len(n.children))
	for _, id := range t.ChildIDs(h) {
		child := n.children[id]
		d := t.saveNode(child)
		doc.Children[strconv.Itoa(id)] = &d
	}
	return doc
}

// Load reads a tree document previously written by Save. depth is supplied
// by the caller (derived from the organism's threshold vector length) rather
// than inferred from the document, since an empty or single-chain tree
// carries no structural evidence of its own depth.
func Load(r io.Reader, depth int) (*Tree, error) {
	var doc treeDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding tree: %w", err)
	}

	t := &Tree{depth: depth, names: map[string][]int{}, terminalOf: map[string]Handle{}}
	t.nodes = make([]node, 0)
	t.root = t.loadNode(&doc.Tree, -1)

	for key, path := range doc.Names {
		t.names[key] = path
		if h, ok := t.Traverse(path); ok {
			t.terminalOf[key] = h
		} else {
			return nil, fmt.Errorf("decoding tree: key %q path %v does not resolve to a node", key, path)
		}
	}

	return t, nil
}

func (t *Tree) loadNode(d *nodeDoc, parent Handle) Handle {
	n := node{id: d.ID, level: d.Level, parent: parent, founder: d.Founder, diameter: d.Diameter}

	if d.Details != nil {
		n.kind = terminal
		n.namedChildren = map[string]bool{}
		for _, key := range d.Details.NamedChildren {
			n.namedChildren[key] = true
		}
	} else {
		n.kind = interior
		n.children = map[int]Handle{}
	}

	t.nodes = append(t.nodes, n)
	h := Handle(len(t.nodes) - 1)

	if len(d.Children) > 0 {
		idStrs := make([]string, 0, len(d.Children))
		for idStr := range d.Children {
			idStrs = append(idStrs, idStr)
		}
		sort.Slice(idStrs, func(i, j int) bool {
			a, _ := strconv.Atoi(idStrs[i])
			b, _ := strconv.Atoi(idStrs[j])
			return a < b
		})
		for _, idStr := range idStrs {
			childDoc := d.Children[idStr]
			ch := t.loadNode(childDoc, h)
			t.nodes[h].children[childDoc.ID] = ch
		}
	}

	return h
}

// Traverse resolves a root-to-leaf id path to its handle.
func (t *Tree) Traverse(path []int) (Handle, bool) {
	cur := t.root
	for _, id := range path {
		h, ok := t.nodes[cur].children[id]
		if !ok {
			return 0, false
		}
		cur = h
	}
	return cur, true
}
