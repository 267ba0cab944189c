package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/substack/osmpbf/element"
	"github.com/substack/osmpbf/pbftest"
	"github.com/substack/osmpbf/util"
)

type visitEvent struct {
	elementType element.ElementType
	id          int64
}

func runQuery(t *testing.T, reader *IndexedReader, key string, value string) []visitEvent {
	var events []visitEvent

	err := reader.ReadWaysAndDeps(
		func(way *element.Way) bool {
			return way.HasTag(key, value)
		},
		func(e element.Element) {
			events = append(events, visitEvent{elementType: e.ElementType(), id: e.ID()})
		},
	)
	util.AssertNil(t, err)

	return events
}

// buildingContainer builds the standard scenario: one way tagged building=yes with three
// distinct node dependencies, plus an unrelated way and an unrelated node.
func buildingContainer() *pbftest.Builder {
	block := pbftest.NewBlock()
	block.AddWay(100, []int64{1, 2, 3}, "building", "yes")
	block.AddWay(200, []int64{4}, "highway", "primary")
	block.AddNode(3, 53.3, 9.3)
	block.AddDenseNode(1, 53.1, 9.1)
	block.AddDenseNode(2, 53.2, 9.2)
	block.AddDenseNode(4, 53.4, 9.4)
	block.AddDenseNode(5, 53.5, 9.5)
	// Relations must never show up in any result
	block.AddRelation(9000)

	return pbftest.NewBuilder().
		AppendHeader().
		AppendBlock(block)
}

func TestReadWaysAndDeps_filtersWaysAndTheirNodes(t *testing.T) {
	// Arrange
	reader, err := NewIndexedReader(buildingContainer().Reader())
	util.AssertNil(t, err)

	// Act
	events := runQuery(t, reader, "building", "yes")

	// Assert
	util.AssertEqual(t, 4, len(events))
	util.AssertEqual(t, visitEvent{elementType: element.ElementTypeWay, id: 100}, events[0])

	nodeIds := map[int64]int{}
	for _, event := range events[1:] {
		util.AssertTrue(t, event.elementType == element.ElementTypeNode || event.elementType == element.ElementTypeDenseNode)
		nodeIds[event.id]++
	}
	util.AssertEqual(t, map[int64]int{1: 1, 2: 1, 3: 1}, nodeIds)
}

func TestReadWaysAndDeps_noMatchingWay(t *testing.T) {
	reader, err := NewIndexedReader(buildingContainer().Reader())
	util.AssertNil(t, err)

	events := runQuery(t, reader, "building", "no")

	util.AssertEqual(t, 0, len(events))
}

func TestReadWaysAndDeps_deduplicatesNodeIds(t *testing.T) {
	// Two matching ways share node 2 and 3, and way 100 references node 2 twice itself.
	block := pbftest.NewBlock()
	block.AddWay(100, []int64{1, 2, 2, 3}, "building", "yes")
	block.AddWay(101, []int64{2, 3, 4}, "building", "yes")
	for id := int64(1); id <= 4; id++ {
		block.AddDenseNode(id, 53.0, 9.0)
	}

	reader, err := NewIndexedReader(pbftest.NewBuilder().AppendHeader().AppendBlock(block).Reader())
	util.AssertNil(t, err)

	events := runQuery(t, reader, "building", "yes")

	util.AssertEqual(t, 6, len(events))
	util.AssertEqual(t, visitEvent{elementType: element.ElementTypeWay, id: 100}, events[0])
	util.AssertEqual(t, visitEvent{elementType: element.ElementTypeWay, id: 101}, events[1])

	nodeIds := map[int64]int{}
	for _, event := range events[2:] {
		nodeIds[event.id]++
	}
	util.AssertEqual(t, map[int64]int{1: 1, 2: 1, 3: 1, 4: 1}, nodeIds)
}

func TestReadWaysAndDeps_allWaysBeforeAllNodes(t *testing.T) {
	// The nodes live in a blob before the ways, the emitted ways still have to come first.
	nodeBlock := pbftest.NewBlock()
	nodeBlock.AddDenseNode(1, 53.1, 9.1)
	nodeBlock.AddDenseNode(2, 53.2, 9.2)

	wayBlock := pbftest.NewBlock()
	wayBlock.AddWay(100, []int64{1}, "building", "yes")
	wayBlock.AddWay(101, []int64{2}, "building", "yes")

	reader, err := NewIndexedReader(pbftest.NewBuilder().
		AppendHeader().
		AppendBlock(nodeBlock).
		AppendBlock(wayBlock).
		Reader())
	util.AssertNil(t, err)

	events := runQuery(t, reader, "building", "yes")

	util.AssertEqual(t, 4, len(events))
	util.AssertEqual(t, element.ElementTypeWay, events[0].elementType)
	util.AssertEqual(t, element.ElementTypeWay, events[1].elementType)
	util.AssertEqual(t, element.ElementTypeDenseNode, events[2].elementType)
	util.AssertEqual(t, element.ElementTypeDenseNode, events[3].elementType)
}

func TestReadWaysAndDeps_skipsBlobsOutsideIdRange(t *testing.T) {
	// Three node blobs with disjoint ID ranges, only the outer two contain dependencies.
	lowBlock := pbftest.NewBlock()
	lowBlock.AddDenseNode(1, 53.1, 9.1)
	lowBlock.AddDenseNode(2, 53.2, 9.2)

	middleBlock := pbftest.NewBlock()
	middleBlock.AddDenseNode(10, 53.3, 9.3)
	middleBlock.AddDenseNode(11, 53.4, 9.4)

	highBlock := pbftest.NewBlock()
	highBlock.AddDenseNode(20, 53.5, 9.5)

	wayBlock := pbftest.NewBlock()
	wayBlock.AddWay(100, []int64{2, 20}, "building", "yes")

	reader, err := NewIndexedReader(pbftest.NewBuilder().
		AppendHeader().
		AppendBlock(lowBlock).
		AppendBlockZlib(middleBlock).
		AppendBlock(highBlock).
		AppendBlock(wayBlock).
		Reader())
	util.AssertNil(t, err)

	events := runQuery(t, reader, "building", "yes")

	util.AssertEqual(t, []visitEvent{
		{elementType: element.ElementTypeWay, id: 100},
		{elementType: element.ElementTypeDenseNode, id: 2},
		{elementType: element.ElementTypeDenseNode, id: 20},
	}, events)
}

func TestReadWaysAndDeps_identicalQueriesAreIdempotent(t *testing.T) {
	reader, err := NewIndexedReader(buildingContainer().Reader())
	util.AssertNil(t, err)

	firstEvents := runQuery(t, reader, "building", "yes")
	secondEvents := runQuery(t, reader, "building", "yes")

	util.AssertEqual(t, firstEvents, secondEvents)
}

func TestReadWaysAndDeps_indexReuseWithDifferentFilter(t *testing.T) {
	// Arrange: one container queried twice with different filters on the same reader and once
	// with the second filter on a fresh reader.
	build := func() *pbftest.Builder {
		block := pbftest.NewBlock()
		block.AddWay(100, []int64{1, 2}, "building", "yes")
		block.AddWay(200, []int64{2, 3}, "highway", "primary")
		block.AddDenseNode(1, 53.1, 9.1)
		block.AddDenseNode(2, 53.2, 9.2)
		block.AddDenseNode(3, 53.3, 9.3)
		return pbftest.NewBuilder().AppendHeader().AppendBlock(block)
	}

	reusedReader, err := NewIndexedReader(build().Reader())
	util.AssertNil(t, err)
	freshReader, err := NewIndexedReader(build().Reader())
	util.AssertNil(t, err)

	// Act
	runQuery(t, reusedReader, "building", "yes")
	reusedEvents := runQuery(t, reusedReader, "highway", "primary")
	freshEvents := runQuery(t, freshReader, "highway", "primary")

	// Assert
	util.AssertEqual(t, freshEvents, reusedEvents)
	util.AssertEqual(t, visitEvent{elementType: element.ElementTypeWay, id: 200}, reusedEvents[0])
}

func TestReadWaysAndDeps_ignoresUnknownBlobTypes(t *testing.T) {
	block := pbftest.NewBlock()
	block.AddWay(100, []int64{1}, "building", "yes")
	block.AddDenseNode(1, 53.1, 9.1)

	reader, err := NewIndexedReader(pbftest.NewBuilder().
		AppendHeader().
		AppendBlob("SomeCustomBlob", []byte{0x08, 0x01}).
		AppendBlock(block).
		Reader())
	util.AssertNil(t, err)

	events := runQuery(t, reader, "building", "yes")

	util.AssertEqual(t, []visitEvent{
		{elementType: element.ElementTypeWay, id: 100},
		{elementType: element.ElementTypeDenseNode, id: 1},
	}, events)
}

func TestReadWaysAndDeps_truncatedPayloadFails(t *testing.T) {
	// The last bytes of the data blob's payload are missing. The blob scan itself only reads
	// framing and still succeeds, decoding the blob in the first pass has to fail.
	builder := buildingContainer()

	reader, err := NewIndexedReader(builder.Truncated(len(builder.Bytes()) - 5))
	util.AssertNil(t, err)

	err = reader.ReadWaysAndDeps(
		func(way *element.Way) bool { return true },
		func(e element.Element) {
			t.Fatal("No element must be visited for a truncated file")
		},
	)
	util.AssertNotNil(t, err)
}

func TestReadWaysAndDeps_truncatedFramingFailsIndexCreation(t *testing.T) {
	// Cutting into the very first blob header makes already the index creation fail.
	reader, err := NewIndexedReader(buildingContainer().Truncated(6))
	util.AssertNil(t, err)

	err = reader.ReadWaysAndDeps(
		func(way *element.Way) bool { return true },
		func(e element.Element) {
			t.Fatal("No element must be visited for a truncated file")
		},
	)
	util.AssertNotNil(t, err)
}

func TestNewIndexedReaderFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.osm.pbf")
	err := os.WriteFile(path, buildingContainer().Bytes(), 0644)
	util.AssertNil(t, err)

	reader, err := NewIndexedReaderFromPath(path)
	util.AssertNil(t, err)

	events := runQuery(t, reader, "building", "yes")
	util.AssertEqual(t, 4, len(events))

	util.AssertNil(t, reader.Close())
}

func TestNewIndexedReaderFromPath_missingFile(t *testing.T) {
	reader, err := NewIndexedReaderFromPath(filepath.Join(t.TempDir(), "does-not-exist.osm.pbf"))
	util.AssertNotNil(t, err)
	util.AssertNil(t, reader)
}
