package search

import (
	"bytes"
	"io"
)

// LineBuffer splits a byte stream into lines. Bytes after the last newline
// are held in carry until a later Feed completes them or Flush releases them;
// they are never returned as a line early and never dropped.
type LineBuffer struct {
	carry []byte
}

// Feed appends chunk and returns every line it completes, without the
// trailing newline. Returned slices do not alias the buffer.
func (b *LineBuffer) Feed(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	data := append(b.carry, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(data[:i], []byte{'\r'})
		lines = append(lines, append([]byte(nil), line...))
		data = data[i+1:]
	}
	b.carry = append(b.carry[:0:0], data...)
	return lines
}

// Flush returns the incomplete final line, if any, and resets the buffer.
func (b *LineBuffer) Flush() []byte {
	if len(b.carry) == 0 {
		return nil
	}
	out := b.carry
	b.carry = nil
	return out
}

func (b *LineBuffer) Pending() int {
	return len(b.carry)
}

// LineReader pulls lines from r one at a time.
type LineReader struct {
	r     io.Reader
	buf   LineBuffer
	queue [][]byte
	chunk []byte
	done  bool
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, chunk: make([]byte, 32*1024)}
}

// Next returns the next line. A final line without a newline is returned
// before io.EOF.
func (lr *LineReader) Next() ([]byte, error) {
	for len(lr.queue) == 0 {
		if lr.done {
			return nil, io.EOF
		}
		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.queue = append(lr.queue, lr.buf.Feed(lr.chunk[:n])...)
		}
		if err != nil {
			lr.done = true
			if tail := lr.buf.Flush(); len(tail) > 0 {
				lr.queue = append(lr.queue, tail)
			}
			if err != io.EOF && len(lr.queue) == 0 {
				return nil, err
			}
		}
	}
	line := lr.queue[0]
	lr.queue = lr.queue[1:]
	return line, nil
}
