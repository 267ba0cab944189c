package blob

import (
	"bytes"
	"io"
	"testing"

	"github.com/substack/osmpbf/pbftest"
	"github.com/substack/osmpbf/util"
)

func testContainer() *pbftest.Builder {
	block := pbftest.NewBlock()
	block.AddDenseNode(1, 53.1, 9.1)
	block.AddWay(100, []int64{1}, "building", "yes")

	return pbftest.NewBuilder().
		AppendHeader().
		AppendBlock(block).
		AppendBlob("SomeCustomBlob", []byte{0x08, 0x01})
}

func TestReader_iteratesAllBlobs(t *testing.T) {
	// Arrange
	reader, err := NewReader(testContainer().Reader())
	util.AssertNil(t, err)

	// Act & Assert
	first, err := reader.Next()
	util.AssertNil(t, err)
	util.AssertEqual(t, TypeOSMHeader, first.Type())
	util.AssertEqual(t, int64(0), first.Offset())

	second, err := reader.Next()
	util.AssertNil(t, err)
	util.AssertEqual(t, TypeOSMData, second.Type())
	util.AssertTrue(t, second.Offset() > first.Offset())

	third, err := reader.Next()
	util.AssertNil(t, err)
	util.AssertEqual(t, TypeUnknown, third.Type())
	util.AssertEqual(t, "SomeCustomBlob", third.TypeString())

	_, err = reader.Next()
	util.AssertEqual(t, io.EOF, err)
}

func TestReader_nextInfoMatchesNext(t *testing.T) {
	builder := testContainer()

	infoReader, err := NewReader(builder.Reader())
	util.AssertNil(t, err)
	blobReader, err := NewReader(builder.Reader())
	util.AssertNil(t, err)

	for {
		info, infoErr := infoReader.NextInfo()
		blob, blobErr := blobReader.Next()

		if infoErr == io.EOF {
			util.AssertEqual(t, io.EOF, blobErr)
			break
		}

		util.AssertNil(t, infoErr)
		util.AssertNil(t, blobErr)
		util.AssertEqual(t, blob.Offset(), info.Offset)
		util.AssertEqual(t, blob.Type(), info.Type)
		util.AssertEqual(t, blob.TypeString(), info.TypeString)
		util.AssertEqual(t, len(blob.data), info.PayloadSize)
	}
}

func TestReader_seekToReReadsBlob(t *testing.T) {
	reader, err := NewReader(testContainer().Reader())
	util.AssertNil(t, err)

	first, err := reader.Next()
	util.AssertNil(t, err)
	second, err := reader.Next()
	util.AssertNil(t, err)

	err = reader.SeekTo(second.Offset())
	util.AssertNil(t, err)
	util.AssertEqual(t, second.Offset(), reader.Offset())

	reRead, err := reader.Next()
	util.AssertNil(t, err)
	util.AssertEqual(t, second.Offset(), reRead.Offset())
	util.AssertEqual(t, second.TypeString(), reRead.TypeString())
	util.AssertTrue(t, bytes.Equal(second.data, reRead.data))

	// Jumping back to the very first blob works as well
	err = reader.SeekTo(first.Offset())
	util.AssertNil(t, err)
	reReadFirst, err := reader.Next()
	util.AssertNil(t, err)
	util.AssertEqual(t, TypeOSMHeader, reReadFirst.Type())
}

func TestReader_truncatedHeaderFails(t *testing.T) {
	builder := testContainer()

	reader, err := NewReader(builder.Truncated(6))
	util.AssertNil(t, err)

	_, err = reader.Next()
	util.AssertNotNil(t, err)
	util.AssertFalse(t, err == io.EOF)
}

func TestReader_emptyContainerIsCleanEOF(t *testing.T) {
	reader, err := NewReader(bytes.NewReader(nil))
	util.AssertNil(t, err)

	_, err = reader.Next()
	util.AssertEqual(t, io.EOF, err)
}

func TestReader_oversizedHeaderIsRejected(t *testing.T) {
	// A length prefix beyond MaxHeaderSize must be rejected before any allocation happens.
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF}

	reader, err := NewReader(bytes.NewReader(data))
	util.AssertNil(t, err)

	_, err = reader.Next()
	util.AssertNotNil(t, err)
}
