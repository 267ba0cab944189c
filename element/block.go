package element

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// defaultGranularity is the coordinate resolution the PBF format assumes when a block does not
// declare one, in units of nanodegrees.
const defaultGranularity = 100

// PrimitiveBlock is a fully decoded OSMData blob payload: the string table, the coordinate
// parameters and the primitive groups with their elements. All element views returned by its
// groups reference the block's string table.
type PrimitiveBlock struct {
	stringTable [][]byte
	granularity int64
	latOffset   int64
	lonOffset   int64
	groups      []PrimitiveGroup
}

// Groups returns the primitive groups of the block in file order.
func (b *PrimitiveBlock) Groups() []PrimitiveGroup {
	return b.groups
}

// stringAt resolves an index into the block's string table. Out-of-range indices yield an
// empty string, which is also what index 0 contains by convention.
func (b *PrimitiveBlock) stringAt(i uint32) string {
	if int(i) >= len(b.stringTable) {
		return ""
	}
	return string(b.stringTable[i])
}

func (b *PrimitiveBlock) toDegrees(offset int64, raw int64) float64 {
	return 1e-9 * float64(offset+b.granularity*raw)
}

// PrimitiveGroup holds the elements of one group within a primitive block. Per PBF convention
// a group usually contains only one kind of element, but mixed groups are decoded just fine.
type PrimitiveGroup struct {
	nodes      []Node
	denseNodes []DenseNode
	ways       []Way
	relations  []Relation
}

func (g *PrimitiveGroup) Nodes() []Node {
	return g.nodes
}

func (g *PrimitiveGroup) DenseNodes() []DenseNode {
	return g.denseNodes
}

func (g *PrimitiveGroup) Ways() []Way {
	return g.ways
}

func (g *PrimitiveGroup) Relations() []Relation {
	return g.relations
}

// DecodePrimitiveBlock decodes the uncompressed payload of an OSMData blob.
func DecodePrimitiveBlock(data []byte) (*PrimitiveBlock, error) {
	block := &PrimitiveBlock{
		granularity: defaultGranularity,
	}

	for len(data) > 0 {
		fieldNumber, fieldType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "Unable to parse PrimitiveBlock message")
		}
		data = data[n:]

		switch fieldNumber {
		case 1: // stringtable
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "Unable to parse string table of PrimitiveBlock message")
			}
			err := block.decodeStringTable(value)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		case 2: // primitivegroup
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "Unable to parse primitive group of PrimitiveBlock message")
			}
			group, err := block.decodeGroup(value)
			if err != nil {
				return nil, err
			}
			block.groups = append(block.groups, group)
			data = data[n:]
		case 17: // granularity
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "Unable to parse granularity of PrimitiveBlock message")
			}
			block.granularity = int64(int32(value))
			data = data[n:]
		case 19: // lat_offset
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "Unable to parse latitude offset of PrimitiveBlock message")
			}
			block.latOffset = int64(value)
			data = data[n:]
		case 20: // lon_offset
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "Unable to parse longitude offset of PrimitiveBlock message")
			}
			block.lonOffset = int64(value)
			data = data[n:]
		default: // date_granularity and unknown extensions
			n := protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "Unable to skip field %d of PrimitiveBlock message", fieldNumber)
			}
			data = data[n:]
		}
	}

	return block, nil
}

func (b *PrimitiveBlock) decodeStringTable(data []byte) error {
	for len(data) > 0 {
		fieldNumber, fieldType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "Unable to parse StringTable message")
		}
		data = data[n:]

		if fieldNumber == 1 {
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "Unable to parse entry of StringTable message")
			}
			b.stringTable = append(b.stringTable, value)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "Unable to skip field %d of StringTable message", fieldNumber)
		}
		data = data[n:]
	}

	return nil
}

func (b *PrimitiveBlock) decodeGroup(data []byte) (PrimitiveGroup, error) {
	group := PrimitiveGroup{}

	for len(data) > 0 {
		fieldNumber, fieldType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return group, errors.Wrap(protowire.ParseError(n), "Unable to parse PrimitiveGroup message")
		}
		data = data[n:]

		switch fieldNumber {
		case 1: // nodes
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return group, errors.Wrap(protowire.ParseError(n), "Unable to parse node of PrimitiveGroup message")
			}
			node, err := b.decodeNode(value)
			if err != nil {
				return group, err
			}
			group.nodes = append(group.nodes, node)
			data = data[n:]
		case 2: // dense
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return group, errors.Wrap(protowire.ParseError(n), "Unable to parse dense nodes of PrimitiveGroup message")
			}
			denseNodes, err := b.decodeDenseNodes(value)
			if err != nil {
				return group, err
			}
			group.denseNodes = append(group.denseNodes, denseNodes...)
			data = data[n:]
		case 3: // ways
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return group, errors.Wrap(protowire.ParseError(n), "Unable to parse way of PrimitiveGroup message")
			}
			way, err := b.decodeWay(value)
			if err != nil {
				return group, err
			}
			group.ways = append(group.ways, way)
			data = data[n:]
		case 4: // relations
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return group, errors.Wrap(protowire.ParseError(n), "Unable to parse relation of PrimitiveGroup message")
			}
			relation, err := decodeRelation(value)
			if err != nil {
				return group, err
			}
			group.relations = append(group.relations, relation)
			data = data[n:]
		default: // changesets and unknown extensions
			n := protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
			if n < 0 {
				return group, errors.Wrapf(protowire.ParseError(n), "Unable to skip field %d of PrimitiveGroup message", fieldNumber)
			}
			data = data[n:]
		}
	}

	return group, nil
}

func (b *PrimitiveBlock) decodeNode(data []byte) (Node, error) {
	node := Node{block: b}

	for len(data) > 0 {
		fieldNumber, fieldType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return node, errors.Wrap(protowire.ParseError(n), "Unable to parse Node message")
		}
		data = data[n:]

		var err error
		switch fieldNumber {
		case 1: // id
			var value uint64
			value, n = protowire.ConsumeVarint(data)
			node.id = protowire.DecodeZigZag(value)
		case 2: // keys
			node.keys, n, err = consumePackedUint32(fieldType, data)
		case 3: // vals
			node.vals, n, err = consumePackedUint32(fieldType, data)
		case 8: // lat
			var value uint64
			value, n = protowire.ConsumeVarint(data)
			node.rawLat = protowire.DecodeZigZag(value)
		case 9: // lon
			var value uint64
			value, n = protowire.ConsumeVarint(data)
			node.rawLon = protowire.DecodeZigZag(value)
		default: // info and unknown extensions
			n = protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
		}
		if err != nil {
			return node, errors.Wrapf(err, "Unable to parse field %d of Node message", fieldNumber)
		}
		if n < 0 {
			return node, errors.Wrapf(protowire.ParseError(n), "Unable to parse field %d of Node message", fieldNumber)
		}
		data = data[n:]
	}

	return node, nil
}

func (b *PrimitiveBlock) decodeWay(data []byte) (Way, error) {
	way := Way{block: b}

	for len(data) > 0 {
		fieldNumber, fieldType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return way, errors.Wrap(protowire.ParseError(n), "Unable to parse Way message")
		}
		data = data[n:]

		var err error
		switch fieldNumber {
		case 1: // id
			var value uint64
			value, n = protowire.ConsumeVarint(data)
			way.id = int64(value)
		case 2: // keys
			way.keys, n, err = consumePackedUint32(fieldType, data)
		case 3: // vals
			way.vals, n, err = consumePackedUint32(fieldType, data)
		case 8: // refs, delta coded
			var deltas []int64
			deltas, n, err = consumePackedSint64(fieldType, data)
			if err == nil {
				way.refs = undelta(deltas)
			}
		default: // info and unknown extensions
			n = protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
		}
		if err != nil {
			return way, errors.Wrapf(err, "Unable to parse field %d of Way message", fieldNumber)
		}
		if n < 0 {
			return way, errors.Wrapf(protowire.ParseError(n), "Unable to parse field %d of Way message", fieldNumber)
		}
		data = data[n:]
	}

	return way, nil
}

func (b *PrimitiveBlock) decodeDenseNodes(data []byte) ([]DenseNode, error) {
	var ids, lats, lons []int64
	var keysVals []int32

	for len(data) > 0 {
		fieldNumber, fieldType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "Unable to parse DenseNodes message")
		}
		data = data[n:]

		var err error
		switch fieldNumber {
		case 1: // id, delta coded
			ids, n, err = consumePackedSint64(fieldType, data)
		case 8: // lat, delta coded
			lats, n, err = consumePackedSint64(fieldType, data)
		case 9: // lon, delta coded
			lons, n, err = consumePackedSint64(fieldType, data)
		case 10: // keys_vals
			keysVals, n, err = consumePackedInt32(fieldType, data)
		default: // denseinfo and unknown extensions
			n = protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to parse field %d of DenseNodes message", fieldNumber)
		}
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "Unable to parse field %d of DenseNodes message", fieldNumber)
		}
		data = data[n:]
	}

	if len(lats) != len(ids) || len(lons) != len(ids) {
		return nil, errors.Errorf("DenseNodes message contains %d IDs but %d latitudes and %d longitudes", len(ids), len(lats), len(lons))
	}

	denseNodes := make([]DenseNode, len(ids))
	id, lat, lon := int64(0), int64(0), int64(0)
	kvIndex := 0

	for i := range ids {
		id += ids[i]
		lat += lats[i]
		lon += lons[i]

		denseNodes[i] = DenseNode{
			block:  b,
			id:     id,
			rawLat: lat,
			rawLon: lon,
		}

		// An empty keys_vals list means no dense node of this batch has any tags. Otherwise
		// each node owns the pairs up to the next 0 entry.
		if len(keysVals) == 0 {
			continue
		}

		tagStart := kvIndex
		for {
			if kvIndex >= len(keysVals) {
				return nil, errors.Errorf("The keys_vals list of a DenseNodes message ends within the tags of node %d", id)
			}
			if keysVals[kvIndex] == 0 {
				break
			}
			if kvIndex+1 >= len(keysVals) {
				return nil, errors.Errorf("The keys_vals list of a DenseNodes message contains a key without value for node %d", id)
			}
			kvIndex += 2
		}
		denseNodes[i].keysVals = keysVals[tagStart:kvIndex]
		kvIndex++ // skip the 0 terminator
	}

	return denseNodes, nil
}

func decodeRelation(data []byte) (Relation, error) {
	relation := Relation{}

	for len(data) > 0 {
		fieldNumber, fieldType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return relation, errors.Wrap(protowire.ParseError(n), "Unable to parse Relation message")
		}
		data = data[n:]

		if fieldNumber == 1 {
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return relation, errors.Wrap(protowire.ParseError(n), "Unable to parse ID of Relation message")
			}
			relation.id = int64(value)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
		if n < 0 {
			return relation, errors.Wrapf(protowire.ParseError(n), "Unable to skip field %d of Relation message", fieldNumber)
		}
		data = data[n:]
	}

	return relation, nil
}

// consumePackedUint32 reads a repeated uint32 field that is usually packed but may also occur
// as a single varint.
func consumePackedUint32(fieldType protowire.Type, data []byte) ([]uint32, int, error) {
	if fieldType == protowire.VarintType {
		value, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, n, nil
		}
		return []uint32{uint32(value)}, n, nil
	}

	packed, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, n, nil
	}

	var values []uint32
	for len(packed) > 0 {
		value, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return nil, 0, errors.Wrap(protowire.ParseError(m), "Unable to parse packed uint32 value")
		}
		values = append(values, uint32(value))
		packed = packed[m:]
	}
	return values, n, nil
}

func consumePackedInt32(fieldType protowire.Type, data []byte) ([]int32, int, error) {
	if fieldType == protowire.VarintType {
		value, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, n, nil
		}
		return []int32{int32(value)}, n, nil
	}

	packed, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, n, nil
	}

	var values []int32
	for len(packed) > 0 {
		value, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return nil, 0, errors.Wrap(protowire.ParseError(m), "Unable to parse packed int32 value")
		}
		values = append(values, int32(value))
		packed = packed[m:]
	}
	return values, n, nil
}

func consumePackedSint64(fieldType protowire.Type, data []byte) ([]int64, int, error) {
	if fieldType == protowire.VarintType {
		value, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, n, nil
		}
		return []int64{protowire.DecodeZigZag(value)}, n, nil
	}

	packed, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, n, nil
	}

	var values []int64
	for len(packed) > 0 {
		value, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return nil, 0, errors.Wrap(protowire.ParseError(m), "Unable to parse packed sint64 value")
		}
		values = append(values, protowire.DecodeZigZag(value))
		packed = packed[m:]
	}
	return values, n, nil
}

// undelta resolves a delta-coded value list in place.
func undelta(deltas []int64) []int64 {
	current := int64(0)
	for i := range deltas {
		current += deltas[i]
		deltas[i] = current
	}
	return deltas
}
