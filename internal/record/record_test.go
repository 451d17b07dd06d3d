package record

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	prerollvalve "github.com/e7canasta/orion-care-sensor/modules/preroll-valve"
	"github.com/vmihailenco/msgpack/v5"
)

// TestWriter_AsValveSink records a valve flush plus passthrough and reads it back.
func TestWriter_AsValveSink(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "test")

	cfg := prerollvalve.DefaultConfig()
	cfg.MaxHistory = 100 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	valve, err := prerollvalve.NewValve(cfg, w)
	if err != nil {
		t.Fatal(err)
	}

	for i, ts := range []int{0, 20, 40, 60, 80, 120} {
		_, err := valve.Push(prerollvalve.Unit{
			Payload:   []byte{byte(i)},
			Timestamp: time.Duration(ts) * time.Millisecond,
			Keyframe:  ts == 0 || ts == 60,
			Seq:       uint64(i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := valve.SetOpen(true); err != nil {
		t.Fatal(err)
	}
	if _, err := valve.Push(prerollvalve.Unit{Payload: []byte{6}, Timestamp: 140 * time.Millisecond, Seq: 6}); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	if n, _ := w.Count(); n != 4 {
		t.Errorf("Count() = %d, want 4", n)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader() unexpected error: %v", err)
	}
	if h := r.Header(); h.Source != "test" || h.Version != Version {
		t.Errorf("Header() = %+v", h)
	}

	recs, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() unexpected error: %v", err)
	}

	wantTS := []time.Duration{60, 80, 120, 140}
	if len(recs) != len(wantTS) {
		t.Fatalf("read %d records, want %d", len(recs), len(wantTS))
	}
	for i, rec := range recs {
		if rec.Timestamp() != wantTS[i]*time.Millisecond {
			t.Errorf("record %d timestamp = %v, want %v", i, rec.Timestamp(), wantTS[i]*time.Millisecond)
		}
	}
	if !recs[0].Keyframe || recs[1].Keyframe {
		t.Error("keyframe flags not preserved")
	}
	if u := recs[3].Unit(); u.Seq != 6 || !bytes.Equal(u.Payload, []byte{6}) {
		t.Errorf("Unit() = %+v", u)
	}
}

func TestNewReader_BadHeader(t *testing.T) {
	tests := []struct {
		name string
		data func() []byte
	}{
		{"empty", func() []byte { return nil }},
		{"wrong format", func() []byte { return frame(t, Header{Format: "other", Version: Version}) }},
		{"wrong version", func() []byte { return frame(t, Header{Format: Format, Version: 99}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.data()))
			if !errors.Is(err, ErrBadHeader) {
				t.Errorf("NewReader() error = %v, want ErrBadHeader", err)
			}
		})
	}
}

func TestReader_TruncatedRecord(t *testing.T) {
	data := frame(t, Header{Format: Format, Version: Version})
	rec := frame(t, Record{Seq: 1, Payload: []byte("abcdef")})
	data = append(data, rec[:len(rec)-3]...)

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Next() error = %v, want truncation error", err)
	}
}

func TestReader_OversizedFrame(t *testing.T) {
	data := frame(t, Header{Format: Format, Version: Version})
	data = append(data, 0xff, 0xff, 0xff, 0xff)

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err == nil {
		t.Error("Next() accepted an oversized frame")
	}
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	body, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	out := []byte{byte(len(body) >> 24), byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}
	return append(out, body...)
}
