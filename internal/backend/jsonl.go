package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MaxLineBytes bounds a single protocol line. writeFile payloads travel
// inline, so this is generous.
const MaxLineBytes = 64 << 20

// ReadOneLine returns the next non-blank line without its newline. A final
// line without a trailing newline is still returned.
func ReadOneLine(r *bufio.Reader) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	for {
		line, err := readLimited(r, MaxLineBytes)
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				// Allow EOF without trailing newline.
			} else {
				return nil, err
			}
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		return line, nil
	}
}

// ErrLineTooLong is returned for a line over MaxLineBytes. The line has been
// consumed, so the next read starts at the following line.
var ErrLineTooLong = fmt.Errorf("line exceeds %d bytes", MaxLineBytes)

func readLimited(r *bufio.Reader, limit int) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) > limit {
			// Drain the rest of the oversized line so the stream stays usable.
			for err == bufio.ErrBufferFull {
				_, err = r.ReadSlice('\n')
			}
			if err != nil && err != io.EOF {
				return nil, err
			}
			return nil, ErrLineTooLong
		}
		buf = append(buf, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return buf, err
	}
}

// WriteOneLine marshals obj as a single JSON line.
func WriteOneLine(w io.Writer, obj any) error {
	if w == nil {
		return fmt.Errorf("writer is nil")
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if len(b) > MaxLineBytes {
		return ErrLineTooLong
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// lineWriter serializes replies and events onto one stream.
type lineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{w: bufio.NewWriter(w)}
}

func (lw *lineWriter) Write(obj any) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := WriteOneLine(lw.w, obj); err != nil {
		return err
	}
	return lw.w.Flush()
}
