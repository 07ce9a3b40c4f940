package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
)

func frame(tag byte, payload string) []byte {
	buf := make([]byte, headerLen+len(payload))
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[4:headerLen], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	return buf
}

func TestDemultiplexInterleaved(t *testing.T) {
	var buf bytes.Buffer
	stdout := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)

	_, _ = stdout.Write([]byte("hello "))
	_, _ = stderr.Write([]byte("warn: x\n"))
	_, _ = stdout.Write([]byte("world\n"))

	out, err := Demultiplex(&buf, DefaultLimit)
	if err != nil {
		t.Fatalf("demultiplex: %v", err)
	}
	if out.Stdout != "hello world\n" {
		t.Fatalf("unexpected stdout %q", out.Stdout)
	}
	if out.Stderr != "warn: x\n" {
		t.Fatalf("unexpected stderr %q", out.Stderr)
	}
}

func TestDemultiplexEmptyStream(t *testing.T) {
	out, err := Demultiplex(bytes.NewReader(nil), DefaultLimit)
	if err != nil {
		t.Fatalf("demultiplex: %v", err)
	}
	if out.Stdout != "" || out.Stderr != "" {
		t.Fatalf("expected empty output, got %+v", out)
	}
}

func TestDemultiplexLimits(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		limit int64
		want  error
	}{
		{
			name:  "exactly at limit",
			input: append(frame(TagStdout, "abcd"), frame(TagStderr, "ef")...),
			limit: 6,
		},
		{
			name:  "single frame larger than limit",
			input: frame(TagStdout, "abcdefg"),
			limit: 6,
			want:  ErrOutputLimit,
		},
		{
			name:  "cumulative size over limit",
			input: append(frame(TagStdout, "abcd"), frame(TagStderr, "efg")...),
			limit: 6,
			want:  ErrOutputLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Demultiplex(bytes.NewReader(tt.input), tt.limit)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// A header announcing a huge frame must be rejected before any payload is read.
func TestDemultiplexRejectsHugeDeclaredFrame(t *testing.T) {
	header := make([]byte, headerLen)
	header[0] = TagStdout
	binary.BigEndian.PutUint32(header[4:], 0xFFFFFFFF)

	r := io.MultiReader(bytes.NewReader(header), failingReader{})
	if _, err := Demultiplex(r, DefaultLimit); !errors.Is(err, ErrOutputLimit) {
		t.Fatalf("expected ErrOutputLimit, got %v", err)
	}
}

// An endless writer must be cut off once the ceiling is reached.
func TestDemultiplexFlood(t *testing.T) {
	chunk := frame(TagStdout, strings.Repeat("y\n", 512))
	r := &repeatReader{chunk: chunk}

	_, err := Demultiplex(r, 64*1024)
	if !errors.Is(err, ErrOutputLimit) {
		t.Fatalf("expected ErrOutputLimit, got %v", err)
	}
	if r.served > 2*64*1024 {
		t.Fatalf("read %d bytes past the ceiling", r.served)
	}
}

func TestDemultiplexTruncated(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "short header", input: []byte{1, 0, 0}},
		{name: "short payload", input: frame(TagStdout, "abcdef")[:headerLen+2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Demultiplex(bytes.NewReader(tt.input), DefaultLimit)
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
			}
		})
	}
}

func TestDemultiplexSkipsUnknownTags(t *testing.T) {
	input := append(frame(9, "ignored"), frame(TagStdout, "ok")...)
	input = append(input, frame(TagStdin, "echo")...)
	out, err := Demultiplex(bytes.NewReader(input), DefaultLimit)
	if err != nil {
		t.Fatalf("demultiplex: %v", err)
	}
	if out.Stdout != "ok" || out.Stderr != "" {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestDemultiplexUnknownTagsCountTowardLimit(t *testing.T) {
	input := append(frame(9, strings.Repeat("x", 8)), frame(TagStdout, strings.Repeat("y", 8))...)
	_, err := Demultiplex(bytes.NewReader(input), 12)
	if !errors.Is(err, ErrOutputLimit) {
		t.Fatalf("expected ErrOutputLimit, got %v", err)
	}
}

func TestDemultiplexSystemError(t *testing.T) {
	input := append(frame(TagStdout, "partial"), frame(TagSystemErr, "boom")...)
	_, err := Demultiplex(bytes.NewReader(input), DefaultLimit)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestDemultiplexReaderError(t *testing.T) {
	_, err := Demultiplex(failingReader{}, DefaultLimit)
	if !errors.Is(err, errBroken) {
		t.Fatalf("expected reader error to propagate, got %v", err)
	}
}

var errBroken = errors.New("broken pipe")

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errBroken }

type repeatReader struct {
	chunk  []byte
	off    int
	served int
}

func (r *repeatReader) Read(p []byte) (int, error) {
	n := copy(p, r.chunk[r.off:])
	r.off = (r.off + n) % len(r.chunk)
	r.served += n
	return n, nil
}
