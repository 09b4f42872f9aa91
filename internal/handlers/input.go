package handlers

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// InputReader reads one line of user input at a time. Lines are returned with surrounding whitespace
// trimmed. io.EOF is returned once the input is exhausted.
type InputReader interface {
	ReadLine() (string, error)
}

// LineReader is an InputReader over any io.Reader, typically os.Stdin.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader creates a new LineReader reading from r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

// ReadLine reads up to the next newline. A final line without a trailing newline is still returned;
// io.EOF is only reported when nothing is left to read.
func (l *LineReader) ReadLine() (string, error) {
	line, err := l.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
