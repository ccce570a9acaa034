package backend

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadOneLine_SkipsPastOversizedLine(t *testing.T) {
	var in bytes.Buffer
	in.WriteString(`{"id":1}` + "\n")
	in.WriteString(strings.Repeat("x", MaxLineBytes+10) + "\n")
	in.WriteString(`{"id":2}`)

	br := bufio.NewReaderSize(&in, 64<<10)
	line, err := ReadOneLine(br)
	if err != nil || string(line) != `{"id":1}` {
		t.Fatalf("first line %q (%v)", line, err)
	}
	if _, err := ReadOneLine(br); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	line, err = ReadOneLine(br)
	if err != nil || string(line) != `{"id":2}` {
		t.Fatalf("line after oversized %q (%v)", line, err)
	}
	if _, err := ReadOneLine(br); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestWriteOneLine_RefusesOversizedValue(t *testing.T) {
	var out bytes.Buffer
	err := WriteOneLine(&out, map[string]string{"blob": strings.Repeat("y", MaxLineBytes)})
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be written, got %d bytes", out.Len())
	}
}
