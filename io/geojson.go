package io

import (
	"io"
	"os"
	"time"

	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
)

// WriteGeoJsonFile writes the collected query result to the given file as GeoJSON.
func WriteGeoJsonFile(collector *Collector, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "Unable to create GeoJSON file %s", path)
	}

	defer func() {
		err = file.Close()
		sigolo.FatalCheck(errors.Wrapf(err, "Unable to close file handle for GeoJSON file %s", file.Name()))
	}()

	return WriteGeoJson(collector, file)
}

// WriteGeoJson writes the collected query result as one GeoJSON feature collection. Ways
// become LineString features over the locations of their collected nodes, nodes become Point
// features. Tags turn into properties, the ID and element type are stored as "@osm_id" and
// "@osm_type" properties.
func WriteGeoJson(collector *Collector, writer io.Writer) error {
	sigolo.Debug("Write query result to GeoJSON")
	writeStartTime := time.Now()

	nodeLocations := make(map[osm.NodeID]orb.Point, len(collector.Nodes))
	for _, node := range collector.Nodes {
		nodeLocations[node.ID] = orb.Point{node.Lon, node.Lat}
	}

	featureCollection := geojson.NewFeatureCollection()

	for _, way := range collector.Ways {
		lineString := make(orb.LineString, 0, len(way.Nodes))
		for _, wayNode := range way.Nodes {
			location, ok := nodeLocations[wayNode.ID]
			if !ok {
				// Node is not part of the container, e.g. in a file covering a map extract
				sigolo.Debugf("Node %d of way %d has no known location, the way geometry will have a gap", wayNode.ID, way.ID)
				continue
			}
			lineString = append(lineString, location)
		}

		if len(lineString) < 2 {
			sigolo.Debugf("Way %d has less than two located nodes and is written without geometry", way.ID)
			feature := geojson.NewFeature(orb.Collection{})
			addTagProperties(feature, way.Tags, int64(way.ID), "way")
			featureCollection.Append(feature)
			continue
		}

		feature := geojson.NewFeature(lineString)
		addTagProperties(feature, way.Tags, int64(way.ID), "way")
		featureCollection.Append(feature)
	}

	for _, node := range collector.Nodes {
		feature := geojson.NewFeature(orb.Point{node.Lon, node.Lat})
		addTagProperties(feature, node.Tags, int64(node.ID), "node")
		featureCollection.Append(feature)
	}

	geojsonBytes, err := featureCollection.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "Unable to marshal the GeoJSON feature collection")
	}

	_, err = writer.Write(geojsonBytes)
	if err != nil {
		return errors.Wrap(err, "Unable to write the GeoJSON output")
	}

	sigolo.Debugf("Finished writing %d features in %s", len(featureCollection.Features), time.Since(writeStartTime))
	return nil
}

func addTagProperties(feature *geojson.Feature, tags osm.Tags, id int64, elementType string) {
	feature.Properties["@osm_id"] = id
	feature.Properties["@osm_type"] = elementType
	for _, tag := range tags {
		feature.Properties[tag.Key] = tag.Value
	}
}
