// Package pbftest builds small, valid OSM PBF containers in memory. It exists for tests that
// need full files with known content without shipping binary fixtures.
package pbftest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// granularity used by all built blocks, the default of the PBF format.
const granularity = 100

// Builder assembles a PBF container blob by blob.
type Builder struct {
	buf bytes.Buffer
}

func NewBuilder() *Builder {
	return &Builder{}
}

// AppendHeader appends a minimal OSMHeader blob.
func (b *Builder) AppendHeader() *Builder {
	var payload []byte
	payload = protowire.AppendTag(payload, 4, protowire.BytesType) // required_features
	payload = protowire.AppendString(payload, "OsmSchema-V0.6")
	payload = protowire.AppendTag(payload, 4, protowire.BytesType)
	payload = protowire.AppendString(payload, "DenseNodes")

	return b.AppendBlob("OSMHeader", payload)
}

// AppendBlock appends the given block as an OSMData blob with an uncompressed payload.
func (b *Builder) AppendBlock(block *Block) *Builder {
	return b.AppendBlob("OSMData", block.encode())
}

// AppendBlockZlib appends the given block as an OSMData blob with a zlib-compressed payload.
func (b *Builder) AppendBlockZlib(block *Block) *Builder {
	payload := block.encode()

	var compressed bytes.Buffer
	zlibWriter := zlib.NewWriter(&compressed)
	_, err := zlibWriter.Write(payload)
	if err != nil {
		panic(err)
	}
	err = zlibWriter.Close()
	if err != nil {
		panic(err)
	}

	var blobMessage []byte
	blobMessage = protowire.AppendTag(blobMessage, 2, protowire.VarintType) // raw_size
	blobMessage = protowire.AppendVarint(blobMessage, uint64(len(payload)))
	blobMessage = protowire.AppendTag(blobMessage, 3, protowire.BytesType) // zlib_data
	blobMessage = protowire.AppendBytes(blobMessage, compressed.Bytes())

	b.appendFramed("OSMData", blobMessage)
	return b
}

// AppendBlob appends a blob with the given type string and an uncompressed payload. Arbitrary
// type strings are allowed, which makes it possible to test handling of unknown blob types.
func (b *Builder) AppendBlob(typeString string, payload []byte) *Builder {
	var blobMessage []byte
	blobMessage = protowire.AppendTag(blobMessage, 1, protowire.BytesType) // raw
	blobMessage = protowire.AppendBytes(blobMessage, payload)
	blobMessage = protowire.AppendTag(blobMessage, 2, protowire.VarintType) // raw_size
	blobMessage = protowire.AppendVarint(blobMessage, uint64(len(payload)))

	b.appendFramed(typeString, blobMessage)
	return b
}

func (b *Builder) appendFramed(typeString string, blobMessage []byte) {
	var header []byte
	header = protowire.AppendTag(header, 1, protowire.BytesType) // type
	header = protowire.AppendString(header, typeString)
	header = protowire.AppendTag(header, 3, protowire.VarintType) // datasize
	header = protowire.AppendVarint(header, uint64(len(blobMessage)))

	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(header)))

	b.buf.Write(lengthPrefix[:])
	b.buf.Write(header)
	b.buf.Write(blobMessage)
}

// Bytes returns the container built so far.
func (b *Builder) Bytes() []byte {
	return b.buf.Bytes()
}

// Reader returns a seekable reader over the container built so far.
func (b *Builder) Reader() *bytes.Reader {
	return bytes.NewReader(b.Bytes())
}

// Truncated returns the container cut off after the given number of bytes, for tests that
// need a corrupt file.
func (b *Builder) Truncated(length int) *bytes.Reader {
	return bytes.NewReader(b.Bytes()[:length])
}

type blockNode struct {
	id       int64
	rawLat   int64
	rawLon   int64
	tagPairs []string
}

type blockWay struct {
	id       int64
	refs     []int64
	tagPairs []string
}

// Block collects elements for one OSMData blob. Nodes, dense nodes and ways each end up in a
// primitive group of their own, like common PBF writers do it.
type Block struct {
	strings     []string
	stringIndex map[string]uint32
	nodes       []blockNode
	denseNodes  []blockNode
	ways        []blockWay
	relations   []int64
}

func NewBlock() *Block {
	return &Block{
		// Index 0 of the string table is unused by convention.
		strings:     []string{""},
		stringIndex: map[string]uint32{"": 0},
	}
}

// AddNode adds a plain (non-dense) node. Tags are given as alternating key and value strings.
func (b *Block) AddNode(id int64, lat float64, lon float64, tags ...string) *Block {
	b.nodes = append(b.nodes, b.newNode(id, lat, lon, tags))
	return b
}

// AddDenseNode adds a node to the block's dense node batch.
func (b *Block) AddDenseNode(id int64, lat float64, lon float64, tags ...string) *Block {
	b.denseNodes = append(b.denseNodes, b.newNode(id, lat, lon, tags))
	return b
}

// AddWay adds a way with the given node references. Tags are given as alternating key and
// value strings.
func (b *Block) AddWay(id int64, refs []int64, tags ...string) *Block {
	if len(tags)%2 != 0 {
		panic("tags must be alternating key and value strings")
	}
	for _, tag := range tags {
		b.internString(tag)
	}
	b.ways = append(b.ways, blockWay{
		id:       id,
		refs:     refs,
		tagPairs: tags,
	})
	return b
}

// AddRelation adds a relation with the given ID and no members. Relations only matter as
// elements that have to be ignored, so nothing more is needed.
func (b *Block) AddRelation(id int64) *Block {
	b.relations = append(b.relations, id)
	return b
}

func (b *Block) newNode(id int64, lat float64, lon float64, tags []string) blockNode {
	if len(tags)%2 != 0 {
		panic("tags must be alternating key and value strings")
	}
	for _, tag := range tags {
		b.internString(tag)
	}
	return blockNode{
		id: id,
		// granularity 100 means one raw unit is 1e-7 degrees
		rawLat:   int64(math.Round(lat * 1e7)),
		rawLon:   int64(math.Round(lon * 1e7)),
		tagPairs: tags,
	}
}

func (b *Block) internString(s string) uint32 {
	if i, ok := b.stringIndex[s]; ok {
		return i
	}
	i := uint32(len(b.strings))
	b.strings = append(b.strings, s)
	b.stringIndex[s] = i
	return i
}

func (b *Block) encode() []byte {
	var stringTable []byte
	for _, s := range b.strings {
		stringTable = protowire.AppendTag(stringTable, 1, protowire.BytesType)
		stringTable = protowire.AppendString(stringTable, s)
	}

	var block []byte
	block = protowire.AppendTag(block, 1, protowire.BytesType) // stringtable
	block = protowire.AppendBytes(block, stringTable)

	if len(b.nodes) > 0 {
		var group []byte
		for _, node := range b.nodes {
			group = protowire.AppendTag(group, 1, protowire.BytesType) // nodes
			group = protowire.AppendBytes(group, b.encodeNode(node))
		}
		block = protowire.AppendTag(block, 2, protowire.BytesType) // primitivegroup
		block = protowire.AppendBytes(block, group)
	}

	if len(b.denseNodes) > 0 {
		var group []byte
		group = protowire.AppendTag(group, 2, protowire.BytesType) // dense
		group = protowire.AppendBytes(group, b.encodeDenseNodes())
		block = protowire.AppendTag(block, 2, protowire.BytesType)
		block = protowire.AppendBytes(block, group)
	}

	if len(b.ways) > 0 {
		var group []byte
		for _, way := range b.ways {
			group = protowire.AppendTag(group, 3, protowire.BytesType) // ways
			group = protowire.AppendBytes(group, b.encodeWay(way))
		}
		block = protowire.AppendTag(block, 2, protowire.BytesType)
		block = protowire.AppendBytes(block, group)
	}

	if len(b.relations) > 0 {
		var group []byte
		for _, id := range b.relations {
			var message []byte
			message = protowire.AppendTag(message, 1, protowire.VarintType) // id
			message = protowire.AppendVarint(message, uint64(id))
			group = protowire.AppendTag(group, 4, protowire.BytesType) // relations
			group = protowire.AppendBytes(group, message)
		}
		block = protowire.AppendTag(block, 2, protowire.BytesType)
		block = protowire.AppendBytes(block, group)
	}

	block = protowire.AppendTag(block, 17, protowire.VarintType) // granularity
	block = protowire.AppendVarint(block, granularity)

	return block
}

func (b *Block) encodeNode(node blockNode) []byte {
	var message []byte
	message = protowire.AppendTag(message, 1, protowire.VarintType) // id
	message = protowire.AppendVarint(message, protowire.EncodeZigZag(node.id))
	message = appendTagIndexes(message, 2, 3, b.tagIndexes(node.tagPairs))
	message = protowire.AppendTag(message, 8, protowire.VarintType) // lat
	message = protowire.AppendVarint(message, protowire.EncodeZigZag(node.rawLat))
	message = protowire.AppendTag(message, 9, protowire.VarintType) // lon
	message = protowire.AppendVarint(message, protowire.EncodeZigZag(node.rawLon))
	return message
}

func (b *Block) encodeWay(way blockWay) []byte {
	var message []byte
	message = protowire.AppendTag(message, 1, protowire.VarintType) // id
	message = protowire.AppendVarint(message, uint64(way.id))
	message = appendTagIndexes(message, 2, 3, b.tagIndexes(way.tagPairs))

	var refs []byte
	previous := int64(0)
	for _, ref := range way.refs {
		refs = protowire.AppendVarint(refs, protowire.EncodeZigZag(ref-previous))
		previous = ref
	}
	message = protowire.AppendTag(message, 8, protowire.BytesType) // refs
	message = protowire.AppendBytes(message, refs)

	return message
}

func (b *Block) encodeDenseNodes() []byte {
	var ids, lats, lons, keysVals []byte
	previousId, previousLat, previousLon := int64(0), int64(0), int64(0)
	anyTags := false

	for _, node := range b.denseNodes {
		ids = protowire.AppendVarint(ids, protowire.EncodeZigZag(node.id-previousId))
		lats = protowire.AppendVarint(lats, protowire.EncodeZigZag(node.rawLat-previousLat))
		lons = protowire.AppendVarint(lons, protowire.EncodeZigZag(node.rawLon-previousLon))
		previousId, previousLat, previousLon = node.id, node.rawLat, node.rawLon

		for _, index := range b.tagIndexes(node.tagPairs) {
			keysVals = protowire.AppendVarint(keysVals, uint64(index))
			anyTags = true
		}
		keysVals = protowire.AppendVarint(keysVals, 0)
	}

	var message []byte
	message = protowire.AppendTag(message, 1, protowire.BytesType) // id
	message = protowire.AppendBytes(message, ids)
	message = protowire.AppendTag(message, 8, protowire.BytesType) // lat
	message = protowire.AppendBytes(message, lats)
	message = protowire.AppendTag(message, 9, protowire.BytesType) // lon
	message = protowire.AppendBytes(message, lons)
	if anyTags {
		message = protowire.AppendTag(message, 10, protowire.BytesType) // keys_vals
		message = protowire.AppendBytes(message, keysVals)
	}
	return message
}

func (b *Block) tagIndexes(tagPairs []string) []uint32 {
	indexes := make([]uint32, len(tagPairs))
	for i, tag := range tagPairs {
		indexes[i] = b.internString(tag)
	}
	return indexes
}

// appendTagIndexes writes the keys and vals of an element as two packed fields.
func appendTagIndexes(message []byte, keysField protowire.Number, valsField protowire.Number, indexes []uint32) []byte {
	if len(indexes) == 0 {
		return message
	}

	var keys, vals []byte
	for i := 0; i < len(indexes); i += 2 {
		keys = protowire.AppendVarint(keys, uint64(indexes[i]))
		vals = protowire.AppendVarint(vals, uint64(indexes[i+1]))
	}

	message = protowire.AppendTag(message, keysField, protowire.BytesType)
	message = protowire.AppendBytes(message, keys)
	message = protowire.AppendTag(message, valsField, protowire.BytesType)
	message = protowire.AppendBytes(message, vals)
	return message
}
