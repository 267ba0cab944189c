// Package blob implements the low-level framing of OSM PBF files: a sequence of
// independently compressed blobs, each preceded by a small header describing its
// type and size. Blobs can be located by byte offset, which makes random access
// into a PBF file possible without parsing everything before it.
package blob

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// MaxHeaderSize is the maximum allowed size of a BlobHeader message as defined by the PBF format.
	MaxHeaderSize = 64 * 1024
	// MaxPayloadSize is the maximum allowed size of a Blob message as defined by the PBF format.
	MaxPayloadSize = 32 * 1024 * 1024
)

const (
	typeStringOSMHeader = "OSMHeader"
	typeStringOSMData   = "OSMData"
)

// Type is the coarse classification of a blob based on the type string in its header.
type Type int

const (
	// TypeOSMHeader marks a blob containing file-wide metadata (bounding box, required features, ...).
	TypeOSMHeader Type = iota
	// TypeOSMData marks a blob containing a batch of OSM elements (nodes, ways, relations).
	TypeOSMData
	// TypeUnknown marks a blob with a type string this package does not recognize. Such blobs are
	// kept in place but never decoded.
	TypeUnknown
)

func (t Type) String() string {
	switch t {
	case TypeOSMHeader:
		return typeStringOSMHeader
	case TypeOSMData:
		return typeStringOSMData
	}
	return "Unknown"
}

func typeOf(typeString string) Type {
	switch typeString {
	case typeStringOSMHeader:
		return TypeOSMHeader
	case typeStringOSMData:
		return TypeOSMData
	}
	return TypeUnknown
}

// Blob is one framed unit of a PBF file. It holds the raw (still possibly compressed) Blob
// message bytes together with the byte offset the blob starts at.
type Blob struct {
	offset     int64
	typeString string
	data       []byte
}

// Offset returns the byte position of the blob within the file, i.e. the position of the
// 4-byte length prefix of its header. Seeking to this offset and reading yields this blob again.
func (b *Blob) Offset() int64 {
	return b.offset
}

// Type returns the coarse blob classification derived from the header's type string.
func (b *Blob) Type() Type {
	return typeOf(b.typeString)
}

// TypeString returns the raw type string from the blob header, which is preserved even for
// unknown blob types.
func (b *Blob) TypeString() string {
	return b.typeString
}

// Uncompressed returns the decompressed payload of the blob. Raw (uncompressed) and
// zlib-compressed payloads are supported, other encodings from the PBF format (lzma, lz4, zstd)
// result in an error.
func (b *Blob) Uncompressed() ([]byte, error) {
	var rawData []byte
	var zlibData []byte
	rawSize := -1

	data := b.data
	for len(data) > 0 {
		fieldNumber, fieldType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "Unable to parse Blob message of blob at offset %d", b.offset)
		}
		data = data[n:]

		switch fieldNumber {
		case 1: // raw
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "Unable to parse raw data of blob at offset %d", b.offset)
			}
			rawData = value
			data = data[n:]
		case 2: // raw_size
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "Unable to parse raw size of blob at offset %d", b.offset)
			}
			rawSize = int(value)
			data = data[n:]
		case 3: // zlib_data
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "Unable to parse zlib data of blob at offset %d", b.offset)
			}
			zlibData = value
			data = data[n:]
		case 4, 5, 6, 7: // lzma_data, bzip2_data (obsolete), lz4_data, zstd_data
			return nil, errors.Errorf("Blob at offset %d uses unsupported compression (Blob field %d), only raw and zlib data are supported", b.offset, fieldNumber)
		default:
			n := protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "Unable to skip field %d of blob at offset %d", fieldNumber, b.offset)
			}
			data = data[n:]
		}
	}

	if rawData != nil {
		return rawData, nil
	}

	if zlibData != nil {
		zlibReader, err := zlib.NewReader(bytes.NewReader(zlibData))
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to create zlib reader for blob at offset %d", b.offset)
		}
		uncompressed, err := io.ReadAll(zlibReader)
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to decompress zlib data of blob at offset %d", b.offset)
		}
		err = zlibReader.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to close zlib reader for blob at offset %d", b.offset)
		}
		if rawSize >= 0 && len(uncompressed) != rawSize {
			return nil, errors.Errorf("Blob at offset %d decompressed to %d bytes but its header declares %d bytes", b.offset, len(uncompressed), rawSize)
		}
		return uncompressed, nil
	}

	return nil, errors.Errorf("Blob at offset %d contains no payload", b.offset)
}
