package io

import (
	"bytes"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"

	"github.com/substack/osmpbf/element"
	"github.com/substack/osmpbf/index"
	"github.com/substack/osmpbf/pbftest"
	"github.com/substack/osmpbf/util"
)

func collectBuildings(t *testing.T) *Collector {
	block := pbftest.NewBlock()
	block.AddWay(100, []int64{1, 2, 3}, "building", "yes", "name", "town hall")
	block.AddWay(200, []int64{4}, "highway", "primary")
	block.AddDenseNode(1, 53.1, 9.1)
	block.AddDenseNode(2, 53.2, 9.2, "entrance", "main")
	block.AddNode(3, 53.3, 9.3)
	block.AddDenseNode(4, 53.4, 9.4)

	reader, err := index.NewIndexedReader(pbftest.NewBuilder().AppendHeader().AppendBlock(block).Reader())
	util.AssertNil(t, err)

	collector := NewCollector()
	err = reader.ReadWaysAndDeps(
		func(way *element.Way) bool { return way.HasTag("building", "yes") },
		collector.VisitElement,
	)
	util.AssertNil(t, err)

	return collector
}

func TestCollector_copiesElements(t *testing.T) {
	collector := collectBuildings(t)

	util.AssertEqual(t, 1, len(collector.Ways))
	util.AssertEqual(t, 3, len(collector.Nodes))

	way := collector.Ways[0]
	util.AssertEqual(t, osm.WayID(100), way.ID)
	util.AssertEqual(t, 3, len(way.Nodes))
	util.AssertEqual(t, osm.NodeID(1), way.Nodes[0].ID)
	util.AssertEqual(t, "yes", way.Tags.Find("building"))
	util.AssertEqual(t, "town hall", way.Tags.Find("name"))

	nodesById := map[osm.NodeID]*osm.Node{}
	for _, node := range collector.Nodes {
		nodesById[node.ID] = node
	}
	util.AssertNotNil(t, nodesById[1])
	util.AssertNotNil(t, nodesById[2])
	util.AssertNotNil(t, nodesById[3])
	util.AssertApprox(t, 53.2, nodesById[2].Lat, 1e-7)
	util.AssertApprox(t, 9.2, nodesById[2].Lon, 1e-7)
	util.AssertEqual(t, "main", nodesById[2].Tags.Find("entrance"))
}

func TestWriteGeoJson(t *testing.T) {
	collector := collectBuildings(t)

	buf := &bytes.Buffer{}
	err := WriteGeoJson(collector, buf)
	util.AssertNil(t, err)

	featureCollection, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	util.AssertNil(t, err)

	// One way feature plus three node features
	util.AssertEqual(t, 4, len(featureCollection.Features))

	wayFeature := featureCollection.Features[0]
	util.AssertEqual(t, "LineString", wayFeature.Geometry.GeoJSONType())
	util.AssertEqual(t, 3, len(wayFeature.Geometry.(orb.LineString)))
	util.AssertEqual(t, "way", wayFeature.Properties["@osm_type"])
	util.AssertEqual(t, "yes", wayFeature.Properties["building"])

	pointCount := 0
	for _, feature := range featureCollection.Features[1:] {
		util.AssertEqual(t, "Point", feature.Geometry.GeoJSONType())
		util.AssertEqual(t, "node", feature.Properties["@osm_type"])
		pointCount++
	}
	util.AssertEqual(t, 3, pointCount)
}

func TestWriteGeoJson_wayWithMissingNodes(t *testing.T) {
	// Way 100 references node 99 which does not exist in the container.
	block := pbftest.NewBlock()
	block.AddWay(100, []int64{1, 99, 2}, "building", "yes")
	block.AddDenseNode(1, 53.1, 9.1)
	block.AddDenseNode(2, 53.2, 9.2)

	reader, err := index.NewIndexedReader(pbftest.NewBuilder().AppendHeader().AppendBlock(block).Reader())
	util.AssertNil(t, err)

	collector := NewCollector()
	err = reader.ReadWaysAndDeps(
		func(way *element.Way) bool { return true },
		collector.VisitElement,
	)
	util.AssertNil(t, err)

	buf := &bytes.Buffer{}
	err = WriteGeoJson(collector, buf)
	util.AssertNil(t, err)

	featureCollection, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	util.AssertNil(t, err)

	util.AssertEqual(t, 3, len(featureCollection.Features))
	// The missing node leaves a gap, the two known locations remain
	util.AssertEqual(t, 2, len(featureCollection.Features[0].Geometry.(orb.LineString)))
}
