package e2ed

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// TFRecord framing: uint64(le) payload length, uint32(le) masked
// CRC-32C of the length bytes, payload, uint32(le) masked CRC-32C of
// the payload.
const (
	recordHeaderSize = 12 // length + length crc
	recordFooterSize = 4  // payload crc
	crcMaskDelta     = 0xa282ead8

	// maxRecordSize bounds the length field before it drives an
	// allocation. A frame with three camera JPEGs is a few MB; anything
	// near this limit is a corrupt or hostile header.
	maxRecordSize = 256 << 20
)

// ErrPayloadChecksum marks a record whose payload failed verification.
// The record's full extent was already consumed, so the reader sits at
// the next record boundary and the caller can skip the record and
// continue. Wraps ErrDecode.
var ErrPayloadChecksum = fmt.Errorf("%w: payload checksum mismatch", ErrDecode)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + crcMaskDelta
}

// RecordReader reads length-prefixed records from a stream. It verifies
// both checksums; a mismatch yields an error wrapping ErrDecode so the
// caller can skip the record.
type RecordReader struct {
	r   *bufio.Reader
	buf []byte
}

// NewRecordReader wraps r in a buffered record reader.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// Next returns the payload of the next record. It returns io.EOF at a
// clean end of stream. A payload checksum mismatch yields an error
// wrapping ErrPayloadChecksum and leaves the reader at the next record
// boundary, so the caller can skip the record. Truncation or a bad
// length header wraps plain ErrDecode and ends the stream, since
// nothing after a lost boundary can be resynchronised.
func (rr *RecordReader) Next() ([]byte, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(rr.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated record header: %v", ErrDecode, err)
	}

	length := binary.LittleEndian.Uint64(header[:8])
	lengthCRC := binary.LittleEndian.Uint32(header[8:12])
	if got := maskedCRC(header[:8]); got != lengthCRC {
		return nil, fmt.Errorf("%w: length checksum mismatch (got %08x, want %08x)", ErrDecode, got, lengthCRC)
	}
	if length > maxRecordSize {
		return nil, fmt.Errorf("%w: record length %d exceeds %d byte limit", ErrDecode, length, maxRecordSize)
	}

	if cap(rr.buf) < int(length)+recordFooterSize {
		rr.buf = make([]byte, length+recordFooterSize)
	}
	buf := rr.buf[:length+recordFooterSize]
	if _, err := io.ReadFull(rr.r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated record body: %v", ErrDecode, err)
	}

	payload := buf[:length]
	payloadCRC := binary.LittleEndian.Uint32(buf[length:])
	if got := maskedCRC(payload); got != payloadCRC {
		return nil, fmt.Errorf("%w (got %08x, want %08x)", ErrPayloadChecksum, got, payloadCRC)
	}
	return payload, nil
}

// WriteRecord appends one framed record to w. Used by record-generation
// tooling and tests.
func WriteRecord(w io.Writer, payload []byte) error {
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(header[8:12], maskedCRC(header[:8]))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	var footer [recordFooterSize]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(payload))
	_, err := w.Write(footer[:])
	return err
}

// Opener is a record source that can be traversed from the start more
// than once. Calibration and detection are two independent passes over
// the same source, so reopenability is part of the contract; a
// single-pass stream cannot back this interface.
type Opener interface {
	// Open starts a fresh pass over the source.
	Open() (io.ReadCloser, error)
	// Name identifies the source, e.g. for the frames.file_name column.
	Name() string
}

// FileSource is an Opener backed by a file on disk.
type FileSource struct {
	Path string
}

func (s FileSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("opening record source: %w", err)
	}
	return f, nil
}

func (s FileSource) Name() string {
	return filepath.Base(s.Path)
}
