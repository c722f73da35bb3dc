package ingest

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// encodings maps accepted input encoding names to decoders. nil means UTF-8 passthrough.
var encodings = map[string]encoding.Encoding{
	"":             nil,
	"utf-8":        nil,
	"utf8":         nil,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1252": charmap.Windows1252,
}

// IsValidEncoding returns true if name is an accepted input encoding.
func IsValidEncoding(name string) bool {
	_, ok := encodings[strings.ToLower(name)]
	return ok
}

// ValidEncodingNames returns the accepted encoding names, sorted.
func ValidEncodingNames() []string {
	names := make([]string, 0, len(encodings))
	for name := range encodings {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// source reads decoded text and closes the underlying file.
type source struct {
	io.Reader
	file *os.File
}

func (s *source) Close() error {
	return s.file.Close()
}

// OpenSource opens a log file for reading as UTF-8 text.
// Files ending in .gz are decompressed; enc names the file's character encoding.
func OpenSource(path, enc string) (io.ReadCloser, error) {
	decoder, ok := encodings[strings.ToLower(enc)]
	if !ok {
		return nil, fmt.Errorf("unknown input encoding %q (valid: %s)", enc, strings.Join(ValidEncodingNames(), ", "))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening gzip log %s: %w", path, err)
		}
		r = gz
	}
	if decoder != nil {
		r = transform.NewReader(r, decoder.NewDecoder())
	}
	return &source{Reader: r, file: f}, nil
}
