// Package framing splits a continuous byte stream into newline-delimited lines.
package framing

import (
	"bytes"
	"errors"
)

// Delimiter terminates every frame on the wire.
const Delimiter = '\n'

// ErrLineTooLong is returned by Append when undelimited data exceeds the line limit.
var ErrLineTooLong = errors.New("framing: line exceeds maximum length")

// Buffer accumulates bytes for a single connection and yields complete lines.
// It is not safe for concurrent use; the owning connection serializes access.
type Buffer struct {
	buf     bytes.Buffer
	maxLine int
	// pending is the length of the undelimited tail of buf.
	pending    int
	discarding bool
}

// New creates a buffer. A maxLine of zero or less disables the line limit.
func New(maxLine int) *Buffer {
	return &Buffer{maxLine: maxLine}
}

// Append adds chunk to the end of the buffer.
//
// Every line is held to the limit, including lines that complete inside
// chunk. An oversized complete line is dropped. An oversized undelimited tail
// is dropped and the buffer skips input up to and including the next
// delimiter. Other lines in chunk are kept. ErrLineTooLong is returned when
// anything was dropped.
func (b *Buffer) Append(chunk []byte) error {
	var err error
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, Delimiter)

		if b.discarding {
			if i < 0 {
				return err
			}
			chunk = chunk[i+1:]
			b.discarding = false
			continue
		}

		if i < 0 {
			if b.exceeds(len(chunk)) {
				b.dropPending()
				b.discarding = true
				return ErrLineTooLong
			}
			b.buf.Write(chunk)
			b.pending += len(chunk)
			return err
		}

		if b.exceeds(i) {
			b.dropPending()
			err = ErrLineTooLong
		} else {
			b.buf.Write(chunk[:i+1])
			b.pending = 0
		}
		chunk = chunk[i+1:]
	}
	return err
}

// exceeds reports whether n more bytes on the current line break the limit.
func (b *Buffer) exceeds(n int) bool {
	return b.maxLine > 0 && b.pending+n > b.maxLine
}

func (b *Buffer) dropPending() {
	b.buf.Truncate(b.buf.Len() - b.pending)
	b.pending = 0
}

// NextLine returns the first complete line without its delimiter and consumes
// it. It returns false and leaves the buffer untouched when no line is complete.
func (b *Buffer) NextLine() (string, bool) {
	i := bytes.IndexByte(b.buf.Bytes(), Delimiter)
	if i < 0 {
		return "", false
	}
	line := b.buf.Next(i + 1)
	return string(line[:i]), true
}

// Clear drops all buffered data, including any partial line.
func (b *Buffer) Clear() {
	b.buf.Reset()
	b.pending = 0
	b.discarding = false
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return b.buf.Len()
}
