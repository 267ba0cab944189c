// Package io collects query results and writes them to output formats. The elements a query
// visits are only valid during the callback, so the Collector eagerly copies everything it
// wants to keep into plain OSM objects.
package io

import (
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/osm"

	"github.com/substack/osmpbf/element"
)

// Collector is a visitor for IndexedReader.ReadWaysAndDeps that deep-copies all visited
// elements into osm.Way and osm.Node objects, which stay valid after the query finished.
type Collector struct {
	Ways  osm.Ways
	Nodes osm.Nodes
}

func NewCollector() *Collector {
	return &Collector{}
}

// VisitElement copies the given element into the collector. Dense nodes are collected as
// normal nodes, their storage difference carries no meaning outside the file.
func (c *Collector) VisitElement(e element.Element) {
	switch typedElement := e.(type) {
	case *element.Way:
		c.Ways = append(c.Ways, copyWay(typedElement))
	case *element.Node:
		c.Nodes = append(c.Nodes, copyNode(typedElement.ID(), typedElement.Lat(), typedElement.Lon(), typedElement))
	case *element.DenseNode:
		c.Nodes = append(c.Nodes, copyNode(typedElement.ID(), typedElement.Lat(), typedElement.Lon(), typedElement))
	default:
		sigolo.Debugf("Ignoring unexpected element of type %s with ID %d", e.ElementType(), e.ID())
	}
}

// taggedElement is the tag access shared by all element views.
type taggedElement interface {
	TagCount() int
	Tag(i int) (string, string)
}

func copyWay(way *element.Way) *osm.Way {
	refs := way.Refs()
	wayNodes := make(osm.WayNodes, len(refs))
	for i, ref := range refs {
		wayNodes[i] = osm.WayNode{ID: osm.NodeID(ref)}
	}

	return &osm.Way{
		ID:    osm.WayID(way.ID()),
		Nodes: wayNodes,
		Tags:  copyTags(way),
	}
}

func copyNode(id int64, lat float64, lon float64, tags taggedElement) *osm.Node {
	return &osm.Node{
		ID:   osm.NodeID(id),
		Lat:  lat,
		Lon:  lon,
		Tags: copyTags(tags),
	}
}

func copyTags(element taggedElement) osm.Tags {
	if element.TagCount() == 0 {
		return nil
	}

	tags := make(osm.Tags, element.TagCount())
	for i := 0; i < element.TagCount(); i++ {
		key, value := element.Tag(i)
		tags[i] = osm.Tag{Key: key, Value: value}
	}
	return tags
}
