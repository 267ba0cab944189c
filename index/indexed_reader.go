// Package index provides indexed, dependency-aware access into OSM PBF files. Instead of
// scanning the whole file for every question, an IndexedReader builds a lightweight index of
// the file's blob structure once and then answers filtered way queries by decoding only the
// blobs that can actually contribute to the result.
package index

import (
	"io"
	"os"
	"slices"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"

	"github.com/substack/osmpbf/blob"
	"github.com/substack/osmpbf/element"
)

// IdRange is an inclusive range of element IDs.
type IdRange struct {
	Min int64
	Max int64
}

// IdRanges stores the minimum and maximum ID of every element type within one blob. Only
// NodeIds is ever filled in. WayIds and RelationIds are intentionally inert: the fields keep
// the shape ready for way- and relation-based lookups, but nothing scans for them yet.
type IdRanges struct {
	NodeIds     *IdRange
	WayIds      *IdRange
	RelationIds *IdRange
}

// blobInfo is the index entry for one blob of the file.
type blobInfo struct {
	offset   int64
	blobType blob.Type
	idRanges *IdRanges
}

// IndexedReader allows filtering ways and iterating over their dependencies. It chooses an
// efficient method for navigating the PBF structure to achieve this in reasonable time and
// with reasonable memory.
//
// An IndexedReader owns its underlying source exclusively and supports one query at a time.
// It has no internal synchronization, callers must not share it between goroutines.
type IndexedReader struct {
	reader *blob.Reader
	file   *os.File
	index  []blobInfo
}

// NewIndexedReader creates a new IndexedReader on the given source. The source is not scanned
// yet, the blob index is built lazily by the first query. The source must not change for the
// lifetime of the reader, the index is never invalidated.
func NewIndexedReader(source io.ReadSeeker) (*IndexedReader, error) {
	blobReader, err := blob.NewReader(source)
	if err != nil {
		return nil, err
	}

	return &IndexedReader{
		reader: blobReader,
	}, nil
}

// NewIndexedReaderFromPath opens the given file and creates a new IndexedReader on it. The
// caller is responsible for calling Close when done.
func NewIndexedReaderFromPath(path string) (*IndexedReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to open PBF file %s", path)
	}

	indexedReader, err := NewIndexedReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	indexedReader.file = file
	return indexedReader, nil
}

// Close releases the underlying file if the reader was created via NewIndexedReaderFromPath,
// otherwise it does nothing.
func (r *IndexedReader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// createIndex scans the blob structure of the whole file and fills the index with one entry
// per blob. Only the framing of each blob is read, no payload is decoded. A failed scan leaves
// no index behind.
func (r *IndexedReader) createIndex() error {
	// Remove old items
	r.index = nil

	err := r.reader.SeekTo(0)
	if err != nil {
		return errors.Wrap(err, "Unable to seek to the start of the PBF file")
	}

	for {
		info, err := r.reader.NextInfo()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.index = nil
			return errors.Wrap(err, "Unable to scan the blob structure of the PBF file")
		}

		r.index = append(r.index, blobInfo{
			offset:   info.Offset,
			blobType: info.Type,
		})
	}

	sigolo.Debugf("Created blob index with %d entries", len(r.index))
	return nil
}

// ReadWaysAndDeps filters ways using the given filter function and passes matching ways and
// their dependent nodes (Node and DenseNode elements) to the visit function.
//
// Every matching way is visited exactly once, as are all distinct node IDs referenced by
// matching ways, no matter how many ways reference them. All ways are visited before the
// first node, within that the order follows the blob order of the file. The elements given to
// visit are views into the currently decoded block and must be copied (e.g. via io.Collector)
// when they are kept past the callback.
//
// The first call builds the blob index, later calls reuse it. On error the query stops
// immediately; callbacks that already fired are not undone and the per-blob node ID ranges of
// blobs visited before the error keep their freshly computed values while the remaining blobs
// keep their previous ones. The index itself stays usable for further calls as long as the
// underlying file did not change.
func (r *IndexedReader) ReadWaysAndDeps(filter func(way *element.Way) bool, visit func(e element.Element)) error {
	if len(r.index) == 0 {
		err := r.createIndex()
		if err != nil {
			return err
		}
	}

	var nodeIds []int64

	// First pass:
	//   * Filter ways and store their dependencies as node IDs
	//   * Store range of node IDs (min and max value) of each blob
	for i := range r.index {
		info := &r.index[i]
		// TODO do something useful with header blobs
		if info.blobType != blob.TypeOSMData {
			continue
		}

		block, err := r.decodeBlockAt(info.offset)
		if err != nil {
			return err
		}

		var minNodeId, maxNodeId int64
		blockHasNodes := false
		checkMinMax := func(id int64) {
			if !blockHasNodes || id < minNodeId {
				minNodeId = id
			}
			if !blockHasNodes || id > maxNodeId {
				maxNodeId = id
			}
			blockHasNodes = true
		}

		for _, group := range block.Groups() {
			// Filter ways and record node IDs
			ways := group.Ways()
			for j := range ways {
				way := &ways[j]
				if filter(way) {
					nodeIds = append(nodeIds, way.Refs()...)
					visit(way)
				}
			}

			// Check node IDs of this block, record min and max
			nodes := group.Nodes()
			for j := range nodes {
				checkMinMax(nodes[j].ID())
			}
			denseNodes := group.DenseNodes()
			for j := range denseNodes {
				checkMinMax(denseNodes[j].ID())
			}
		}

		if blockHasNodes {
			info.idRanges = &IdRanges{
				NodeIds: &IdRange{Min: minNodeId, Max: maxNodeId},
			}
		}
	}

	// Sort to enable binary search and remove duplicate node IDs
	slices.Sort(nodeIds)
	nodeIds = slices.Compact(nodeIds)

	sigolo.Debugf("Resolving %d distinct node dependencies", len(nodeIds))

	// Second pass:
	//   * Iterate only over blobs that may include the node IDs we're searching for
	for i := range r.index {
		info := &r.index[i]
		if info.blobType != blob.TypeOSMData || info.idRanges == nil || info.idRanges.NodeIds == nil {
			continue
		}

		nodeIdRange := info.idRanges.NodeIds
		start, end, ok := rangeIncluded(nodeIdRange.Min, nodeIdRange.Max, nodeIds)
		if !ok {
			// This blob cannot contain any of the wanted nodes, skip it without decoding.
			continue
		}
		idsSubslice := nodeIds[start : end+1]

		block, err := r.decodeBlockAt(info.offset)
		if err != nil {
			return err
		}

		for _, group := range block.Groups() {
			nodes := group.Nodes()
			for j := range nodes {
				if containsId(idsSubslice, nodes[j].ID()) {
					// ID found, return node
					visit(&nodes[j])
				}
			}
			denseNodes := group.DenseNodes()
			for j := range denseNodes {
				if containsId(idsSubslice, denseNodes[j].ID()) {
					// ID found, return dense node
					visit(&denseNodes[j])
				}
			}
		}
	}

	return nil
}

// decodeBlockAt re-reads the blob at a previously indexed offset and decodes it into a
// primitive block.
func (r *IndexedReader) decodeBlockAt(offset int64) (*element.PrimitiveBlock, error) {
	err := r.reader.SeekTo(offset)
	if err != nil {
		return nil, err
	}

	b, err := r.reader.Next()
	if err == io.EOF {
		return nil, errors.Errorf("Could not read the blob at offset %d anymore, the PBF file is shorter than when the index was created", offset)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to re-read the blob at offset %d", offset)
	}

	data, err := b.Uncompressed()
	if err != nil {
		return nil, err
	}

	block, err := element.DecodePrimitiveBlock(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to decode the primitive block at offset %d", offset)
	}

	return block, nil
}
