// Package refframe implements the reference-frame node tree of spec §4.x:
// an arena of RFNode quadtree nodes rooted per spatial reference system
// (SRS), and the NodeInfo value view the rest of the engine navigates by
// instead of touching RFNode pointers directly.
//
// The tree grows lazily: a node's children are only materialized the first
// time they're descended into (via Frame.Child), the same grows-as-you-go
// discipline the teacher's node.go hierarchy uses for its scene graph,
// adapted here from "nodes created at construction" to "nodes created on
// first descent" since a reference frame's full pyramid is never fully
// walked up front.
package refframe

import "github.com/opentiles/tilestore/tileid"

// Validity classifies how much of a node's extents fall within its root's
// declared valid footprint.
type Validity int

const (
	// Invalid means the node's extents share no area with the valid
	// footprint (touching it only along an edge counts as outside); the
	// engine should never materialize content for it.
	Invalid Validity = iota
	// Partial means the node's extents straddle the footprint boundary.
	Partial
	// Full means the node's extents lie entirely within the footprint.
	Full
)

func (v Validity) String() string {
	switch v {
	case Invalid:
		return "invalid"
	case Partial:
		return "partial"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// RFNode is one node of a reference frame's quadtree, identified by its
// tile ID within that root's own addressing and its extents in the root's
// SRS.
type RFNode struct {
	Id       tileid.ID
	Extents  tileid.Extents2
	Parent   *RFNode
	children map[tileid.ChildIndex]*RFNode
}

func newRFNode(id tileid.ID, extents tileid.Extents2, parent *RFNode) *RFNode {
	return &RFNode{Id: id, Extents: extents, Parent: parent}
}

// Child returns the already-materialized child at idx, if any.
func (n *RFNode) Child(idx tileid.ChildIndex) (*RFNode, bool) {
	c, ok := n.children[idx]
	return c, ok
}

func (n *RFNode) addChild(idx tileid.ChildIndex) *RFNode {
	c := newRFNode(n.Id.Child(idx), n.Extents.ChildExtents(idx), n)
	if n.children == nil {
		n.children = make(map[tileid.ChildIndex]*RFNode, 4)
	}
	n.children[idx] = c
	return c
}

// root is the bookkeeping a Frame keeps per mounted SRS: the root RFNode
// plus the declared valid footprint used to classify Validity.
type root struct {
	srs          string
	node         *RFNode
	validExtents tileid.Extents2
}

// Frame holds one or more SRS-rooted reference frame subtrees — the spec's
// "multiple SRS-rooted subtrees" (e.g. a projected frame and a geographic
// overview frame sharing one TileSet).
type Frame struct {
	roots map[string]*root
}

// NewFrame creates an empty Frame with no mounted roots.
func NewFrame() *Frame {
	return &Frame{roots: map[string]*root{}}
}

// NodeInfo is the value-type view of a reference frame position: which
// root SRS it belongs to, its tile ID within that root, its extents, and
// its validity against the root's declared footprint.
type NodeInfo struct {
	Root     string
	Node     tileid.ID
	Extents  tileid.Extents2
	Validity Validity
}

// AddRoot mounts a new SRS-rooted subtree with the given full and valid
// extents (valid may equal full when the whole subtree is usable), and
// returns the root's NodeInfo.
func (f *Frame) AddRoot(srs string, extents, validExtents tileid.Extents2) NodeInfo {
	r := &root{srs: srs, node: newRFNode(tileid.ID{Lod: 0, X: 0, Y: 0}, extents, nil), validExtents: validExtents}
	f.roots[srs] = r
	return f.nodeInfo(r, r.node)
}

// RootNode returns the NodeInfo for the root of srs, and ok=false if srs
// isn't mounted.
func (f *Frame) RootNode(srs string) (NodeInfo, bool) {
	r, ok := f.roots[srs]
	if !ok {
		return NodeInfo{}, false
	}
	return f.nodeInfo(r, r.node), true
}

// SRSList returns the names of every mounted root, in no particular order.
func (f *Frame) SRSList() []string {
	out := make([]string, 0, len(f.roots))
	for srs := range f.roots {
		out = append(out, srs)
	}
	return out
}

// Child returns the NodeInfo of info's child idx, materializing the
// underlying RFNode on first descent. ok=false if info is Invalid or if
// info's root isn't mounted on this Frame.
func (f *Frame) Child(info NodeInfo, idx tileid.ChildIndex) (NodeInfo, bool) {
	if info.Validity == Invalid {
		return NodeInfo{}, false
	}
	r, ok := f.roots[info.Root]
	if !ok {
		return NodeInfo{}, false
	}
	n := f.lookup(r, info.Node)
	if n == nil {
		return NodeInfo{}, false
	}
	c, ok := n.Child(idx)
	if !ok {
		c = n.addChild(idx)
	}
	return f.nodeInfo(r, c), true
}

// lookup walks from r's root down to id, materializing any unvisited
// ancestor along the way.
func (f *Frame) lookup(r *root, id tileid.ID) *RFNode {
	if id.Lod == 0 {
		if id == r.node.Id {
			return r.node
		}
		return nil
	}
	parentID, ok := id.Parent()
	if !ok {
		return nil
	}
	parent := f.lookup(r, parentID)
	if parent == nil {
		return nil
	}
	idx, ok := id.ChildIndexOf()
	if !ok {
		return nil
	}
	if c, ok := parent.Child(idx); ok {
		return c
	}
	return parent.addChild(idx)
}

func (f *Frame) nodeInfo(r *root, n *RFNode) NodeInfo {
	return NodeInfo{Root: r.srs, Node: n.Id, Extents: n.Extents, Validity: classify(n.Extents, r.validExtents)}
}

func classify(e, valid tileid.Extents2) Validity {
	if e.XMin >= valid.XMax || e.XMax <= valid.XMin || e.YMin >= valid.YMax || e.YMax <= valid.YMin {
		return Invalid
	}
	if e.XMin >= valid.XMin && e.XMax <= valid.XMax && e.YMin >= valid.YMin && e.YMax <= valid.YMax {
		return Full
	}
	return Partial
}
