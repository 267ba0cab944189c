// Package element provides decoded, typed views on the OSM elements contained in a primitive
// block of a PBF file: nodes, dense nodes, ways and relations. All views share the string
// table of the block they were decoded from, so tag access does not copy the block's data.
package element

// ElementType is an enum for the kinds of elements a primitive block can contain.
type ElementType int

const (
	ElementTypeNode ElementType = iota
	ElementTypeDenseNode
	ElementTypeWay
	ElementTypeRelation
)

func (t ElementType) String() string {
	switch t {
	case ElementTypeNode:
		return "node"
	case ElementTypeDenseNode:
		return "dense_node"
	case ElementTypeWay:
		return "way"
	case ElementTypeRelation:
		return "relation"
	}
	return "unknown"
}

// Element is one decoded OSM element. Implementations are *Node, *DenseNode, *Way and
// *Relation. An Element is a view into the primitive block it was decoded from and is only
// valid until that block is discarded. Callers that want to keep an element (e.g. after a
// visitor callback returned) have to copy the fields they need, see the io.Collector.
type Element interface {
	ID() int64
	ElementType() ElementType
}

// Node is a single (non-dense) node entry.
type Node struct {
	block  *PrimitiveBlock
	id     int64
	rawLat int64
	rawLon int64
	keys   []uint32
	vals   []uint32
}

func (n *Node) ID() int64 {
	return n.id
}

func (n *Node) ElementType() ElementType {
	return ElementTypeNode
}

// Lat returns the latitude in degrees.
func (n *Node) Lat() float64 {
	return n.block.toDegrees(n.block.latOffset, n.rawLat)
}

// Lon returns the longitude in degrees.
func (n *Node) Lon() float64 {
	return n.block.toDegrees(n.block.lonOffset, n.rawLon)
}

func (n *Node) TagCount() int {
	return len(n.keys)
}

func (n *Node) Tag(i int) (string, string) {
	return n.block.stringAt(n.keys[i]), n.block.stringAt(n.vals[i])
}

func (n *Node) HasTag(key string, value string) bool {
	return hasTag(n, key, value)
}

// Tags returns all tags as a newly allocated map. In contrast to the other accessors the
// result stays valid after the block is discarded.
func (n *Node) Tags() map[string]string {
	return tagMap(n)
}

// DenseNode is one entry of a dense node batch. It behaves exactly like a Node, the two types
// only differ in how they are stored within the block.
type DenseNode struct {
	block  *PrimitiveBlock
	id     int64
	rawLat int64
	rawLon int64
	// keysVals holds this node's slice of the group's keys_vals list as flattened
	// (key index, value index) pairs, without the 0 terminator.
	keysVals []int32
}

func (n *DenseNode) ID() int64 {
	return n.id
}

func (n *DenseNode) ElementType() ElementType {
	return ElementTypeDenseNode
}

func (n *DenseNode) Lat() float64 {
	return n.block.toDegrees(n.block.latOffset, n.rawLat)
}

func (n *DenseNode) Lon() float64 {
	return n.block.toDegrees(n.block.lonOffset, n.rawLon)
}

func (n *DenseNode) TagCount() int {
	return len(n.keysVals) / 2
}

func (n *DenseNode) Tag(i int) (string, string) {
	return n.block.stringAt(uint32(n.keysVals[2*i])), n.block.stringAt(uint32(n.keysVals[2*i+1]))
}

func (n *DenseNode) HasTag(key string, value string) bool {
	return hasTag(n, key, value)
}

func (n *DenseNode) Tags() map[string]string {
	return tagMap(n)
}

// Way is a single way entry: an ordered list of node references plus tags.
type Way struct {
	block *PrimitiveBlock
	id    int64
	keys  []uint32
	vals  []uint32
	refs  []int64
}

func (w *Way) ID() int64 {
	return w.id
}

func (w *Way) ElementType() ElementType {
	return ElementTypeWay
}

// Refs returns the IDs of the nodes this way consists of, in way order. The delta coding of
// the PBF format has already been resolved. The returned slice is owned by the way, callers
// must not modify it.
func (w *Way) Refs() []int64 {
	return w.refs
}

func (w *Way) TagCount() int {
	return len(w.keys)
}

func (w *Way) Tag(i int) (string, string) {
	return w.block.stringAt(w.keys[i]), w.block.stringAt(w.vals[i])
}

func (w *Way) HasTag(key string, value string) bool {
	return hasTag(w, key, value)
}

func (w *Way) Tags() map[string]string {
	return tagMap(w)
}

// Relation is a relation entry. Only the ID is decoded, members and roles are not needed by
// this library.
type Relation struct {
	id int64
}

func (r *Relation) ID() int64 {
	return r.id
}

func (r *Relation) ElementType() ElementType {
	return ElementTypeRelation
}

// tagged is the common tag access of nodes, dense nodes and ways.
type tagged interface {
	TagCount() int
	Tag(i int) (string, string)
}

func hasTag(element tagged, key string, value string) bool {
	for i := 0; i < element.TagCount(); i++ {
		k, v := element.Tag(i)
		if k == key && v == value {
			return true
		}
	}
	return false
}

func tagMap(element tagged) map[string]string {
	tags := make(map[string]string, element.TagCount())
	for i := 0; i < element.TagCount(); i++ {
		k, v := element.Tag(i)
		tags[k] = v
	}
	return tags
}
