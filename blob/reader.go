package blob

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Info describes a blob without its payload: where it starts, what it contains and how large
// it is. It is the result of reading only the framing of a blob.
type Info struct {
	Offset     int64
	Type       Type
	TypeString string
	// PayloadSize is the size of the (possibly compressed) Blob message in bytes.
	PayloadSize int
}

// Reader reads blobs sequentially from a seekable source and keeps track of the byte offset
// of each blob, so blobs can be re-read later via SeekTo. A Reader must only be used by one
// caller at a time.
type Reader struct {
	source io.ReadSeeker
	offset int64
}

// NewReader wraps the given source. It verifies that the source actually supports seeking,
// since random access is the whole point of this reader.
func NewReader(source io.ReadSeeker) (*Reader, error) {
	offset, err := source.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to determine current offset, the source does not support seeking")
	}

	return &Reader{
		source: source,
		offset: offset,
	}, nil
}

// Offset returns the byte position the next call to Next or NextInfo will read from.
func (r *Reader) Offset() int64 {
	return r.offset
}

// SeekTo positions the reader at the given byte offset. The offset has to be the start of a
// blob (as previously returned by Blob.Offset or Info.Offset) for subsequent reads to succeed.
func (r *Reader) SeekTo(offset int64) error {
	_, err := r.source.Seek(offset, io.SeekStart)
	if err != nil {
		return errors.Wrapf(err, "Unable to seek to offset %d", offset)
	}

	r.offset = offset
	return nil
}

// Next reads the blob starting at the current offset including its payload. It returns io.EOF
// when the container ends cleanly before the next blob, any other error is fatal.
func (r *Reader) Next() (*Blob, error) {
	blobOffset := r.offset

	typeString, payloadSize, err := r.readHeader()
	if err != nil {
		return nil, err
	}

	data := make([]byte, payloadSize)
	_, err = io.ReadFull(r.source, data)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to read %d payload bytes of blob at offset %d", payloadSize, blobOffset)
	}
	r.offset += int64(payloadSize)

	return &Blob{
		offset:     blobOffset,
		typeString: typeString,
		data:       data,
	}, nil
}

// NextInfo reads only the framing of the blob starting at the current offset and skips over
// its payload. This is considerably cheaper than Next when the payload is not needed, e.g.
// when scanning the blob structure of a whole file. Returns io.EOF at the end of the container.
func (r *Reader) NextInfo() (Info, error) {
	blobOffset := r.offset

	typeString, payloadSize, err := r.readHeader()
	if err != nil {
		return Info{}, err
	}

	_, err = r.source.Seek(int64(payloadSize), io.SeekCurrent)
	if err != nil {
		return Info{}, errors.Wrapf(err, "Unable to skip %d payload bytes of blob at offset %d", payloadSize, blobOffset)
	}
	r.offset += int64(payloadSize)

	return Info{
		Offset:      blobOffset,
		Type:        typeOf(typeString),
		TypeString:  typeString,
		PayloadSize: payloadSize,
	}, nil
}

// readHeader reads the 4-byte length prefix and the BlobHeader message and advances the offset
// past them. It returns the type string and the payload size declared by the header.
func (r *Reader) readHeader() (string, int, error) {
	var lengthPrefix [4]byte
	_, err := io.ReadFull(r.source, lengthPrefix[:])
	if err == io.EOF {
		// Clean end of the container.
		return "", 0, io.EOF
	}
	if err != nil {
		return "", 0, errors.Wrapf(err, "Unable to read blob header length at offset %d", r.offset)
	}

	headerSize := int(binary.BigEndian.Uint32(lengthPrefix[:]))
	if headerSize > MaxHeaderSize {
		return "", 0, errors.Errorf("Blob header at offset %d has size %d, allowed are at most %d bytes", r.offset, headerSize, MaxHeaderSize)
	}

	headerData := make([]byte, headerSize)
	_, err = io.ReadFull(r.source, headerData)
	if err != nil {
		return "", 0, errors.Wrapf(err, "Unable to read %d blob header bytes at offset %d", headerSize, r.offset)
	}

	typeString, payloadSize, err := parseHeader(headerData)
	if err != nil {
		return "", 0, errors.Wrapf(err, "Unable to parse blob header at offset %d", r.offset)
	}

	if payloadSize <= 0 || payloadSize > MaxPayloadSize {
		return "", 0, errors.Errorf("Blob at offset %d declares payload size %d, allowed are 1 to %d bytes", r.offset, payloadSize, MaxPayloadSize)
	}

	r.offset += int64(4 + headerSize)
	return typeString, payloadSize, nil
}

// parseHeader decodes the type string and payload size from a BlobHeader message. The indexdata
// field is skipped, no tool is known to produce it.
func parseHeader(data []byte) (string, int, error) {
	typeString := ""
	payloadSize := -1

	for len(data) > 0 {
		fieldNumber, fieldType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", 0, errors.Wrap(protowire.ParseError(n), "Unable to parse BlobHeader message")
		}
		data = data[n:]

		switch fieldNumber {
		case 1: // type
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", 0, errors.Wrap(protowire.ParseError(n), "Unable to parse type of BlobHeader message")
			}
			typeString = string(value)
			data = data[n:]
		case 3: // datasize
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return "", 0, errors.Wrap(protowire.ParseError(n), "Unable to parse datasize of BlobHeader message")
			}
			payloadSize = int(int32(value))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
			if n < 0 {
				return "", 0, errors.Wrapf(protowire.ParseError(n), "Unable to skip field %d of BlobHeader message", fieldNumber)
			}
			data = data[n:]
		}
	}

	if typeString == "" {
		return "", 0, errors.New("BlobHeader message contains no type")
	}
	if payloadSize < 0 {
		return "", 0, errors.New("BlobHeader message contains no datasize")
	}

	return typeString, payloadSize, nil
}
