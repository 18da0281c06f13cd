package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrBinaryContent indicates an upload that is not text.
var ErrBinaryContent = errors.New("content is not text")

// ExtractText validates that data is textual and returns it normalized
// to Unix line endings. Only plain text formats are accepted; anything
// with NUL bytes or invalid UTF-8 is rejected so binary uploads fail
// fast instead of polluting the index.
func ExtractText(name string, data []byte) (string, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("%w: %s contains NUL bytes", ErrBinaryContent, name)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrBinaryContent, name)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return text, nil
}
