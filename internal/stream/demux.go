// Package stream decodes the multiplexed stdout/stderr stream produced by the docker
// engine for containers started without a TTY.
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultLimit is the combined stdout+stderr ceiling for one container run.
const DefaultLimit int64 = 10 * 1024 * 1024

const headerLen = 8

// Stream tags carried in the first header byte.
const (
	TagStdin  byte = 0
	TagStdout byte = 1
	TagStderr byte = 2

	// TagSystemErr frames carry an error reported by the engine itself.
	TagSystemErr byte = 3
)

var ErrOutputLimit = errors.New("output size exceeded limit")

type Output struct {
	Stdout string
	Stderr string
}

// Demultiplex consumes frames from r until EOF. Each frame is an 8-byte header (tag,
// three reserved bytes, big-endian payload length) followed by the payload. Reading
// stops as soon as a frame would push the combined size past limit; buffered output
// is discarded and ErrOutputLimit is returned. Frames with any other tag are skipped.
func Demultiplex(r io.Reader, limit int64) (Output, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		stdout, stderr strings.Builder
		total          int64
		header         [headerLen]byte
	)

	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return Output{Stdout: stdout.String(), Stderr: stderr.String()}, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return Output{}, fmt.Errorf("truncated frame header: %w", err)
			}
			return Output{}, fmt.Errorf("failed to read frame header: %w", err)
		}

		tag := header[0]
		size := int64(binary.BigEndian.Uint32(header[4:]))

		if size > limit || total+size > limit {
			return Output{}, ErrOutputLimit
		}
		total += size

		var dst io.Writer
		switch tag {
		case TagStdout:
			dst = &stdout
		case TagStderr:
			dst = &stderr
		case TagSystemErr:
			var msg strings.Builder
			if _, err := io.CopyN(&msg, r, size); err != nil {
				return Output{}, fmt.Errorf("failed to read engine error: %w", err)
			}
			return Output{}, fmt.Errorf("engine error in stream: %s", msg.String())
		default:
			// stdin echoes and unknown tags still count toward the limit
			dst = io.Discard
		}

		if _, err := io.CopyN(dst, r, size); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Output{}, fmt.Errorf("failed to read frame payload: %w", err)
		}
	}
}
