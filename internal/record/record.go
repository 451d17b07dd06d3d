// Package record writes emitted units to a stream of length-prefixed msgpack
// records, and reads them back.
//
// Framing: 4 bytes big-endian length followed by the msgpack body. The first
// frame is a Header, every following frame is a Record.
package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	prerollvalve "github.com/e7canasta/orion-care-sensor/modules/preroll-valve"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Format identifies record streams in the header
	Format = "prerollvalve-record"
	// Version of the record layout
	Version = 1

	// maxFrame guards the reader against corrupt length prefixes
	maxFrame = 64 << 20
)

// ErrBadHeader is returned by NewReader when the stream is not a record stream.
var ErrBadHeader = errors.New("record: bad header")

// Header is the first frame of a stream
type Header struct {
	Format    string    `msgpack:"format"`
	Version   int       `msgpack:"version"`
	CreatedAt time.Time `msgpack:"created_at"`
	Source    string    `msgpack:"source,omitempty"`
}

// Record is one emitted unit
type Record struct {
	Seq         uint64 `msgpack:"seq"`
	TimestampNS int64  `msgpack:"ts_ns"`
	Keyframe    bool   `msgpack:"key"`
	TraceID     string `msgpack:"trace_id,omitempty"`
	Payload     []byte `msgpack:"payload"`
}

// Timestamp returns the unit timestamp
func (r Record) Timestamp() time.Duration {
	return time.Duration(r.TimestampNS)
}

// Unit converts the record back to a valve unit
func (r Record) Unit() prerollvalve.Unit {
	return prerollvalve.Unit{
		Payload:   r.Payload,
		Timestamp: r.Timestamp(),
		Keyframe:  r.Keyframe,
		Seq:       r.Seq,
		TraceID:   r.TraceID,
	}
}

var _ prerollvalve.Sink = (*Writer)(nil)

// Writer is a prerollvalve.Sink writing one record per emitted unit.
// Thread-safe.
type Writer struct {
	mu      sync.Mutex
	w       *bufio.Writer
	source  string
	started bool
	count   uint64
	bytes   uint64
}

// NewWriter creates a writer. source is stored in the header (optional).
func NewWriter(w io.Writer, source string) *Writer {
	return &Writer{w: bufio.NewWriter(w), source: source}
}

// Emit writes u as a record, preceded by the header on first use
func (w *Writer) Emit(u prerollvalve.Unit) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		hdr := Header{Format: Format, Version: Version, CreatedAt: time.Now().UTC(), Source: w.source}
		if err := w.writeFrame(hdr); err != nil {
			return fmt.Errorf("record: failed to write header: %w", err)
		}
		w.started = true
	}

	rec := Record{
		Seq:         u.Seq,
		TimestampNS: int64(u.Timestamp),
		Keyframe:    u.Keyframe,
		TraceID:     u.TraceID,
		Payload:     u.Payload,
	}
	if err := w.writeFrame(rec); err != nil {
		return fmt.Errorf("record: failed to write record %d: %w", u.Seq, err)
	}
	w.count++
	w.bytes += uint64(len(u.Payload))
	return nil
}

func (w *Writer) writeFrame(v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

// Flush writes buffered data to the underlying writer
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Count returns the number of records and payload bytes written
func (w *Writer) Count() (records, payloadBytes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count, w.bytes
}

// Reader reads a record stream
type Reader struct {
	r      *bufio.Reader
	header Header
}

// NewReader reads and validates the header
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{r: bufio.NewReader(r)}
	if err := rd.readFrame(&rd.header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if rd.header.Format != Format {
		return nil, fmt.Errorf("%w: format %q", ErrBadHeader, rd.header.Format)
	}
	if rd.header.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, rd.header.Version)
	}
	return rd, nil
}

// Header returns the stream header
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF at a clean end of stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	err := r.readFrame(&rec)
	return rec, err
}

// ReadAll returns every remaining record
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func (r *Reader) readFrame(v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("record: failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrame {
		return fmt.Errorf("record: frame of %d bytes exceeds limit", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return fmt.Errorf("record: failed to read msgpack data (expected %d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("record: failed to unmarshal msgpack: %w", err)
	}
	return nil
}
