package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Format is the compression applied to the tar stream.
type Format string

const (
	FormatGzip  Format = "gz"
	FormatBzip2 Format = "bz2"
	FormatZstd  Format = "zst"
	// FormatTar is an uncompressed tar stream. It is read by Extract but
	// never written.
	FormatTar Format = "tar"
)

// Formats lists every supported format, longest extension first so
// suffix matching is unambiguous.
var Formats = []Format{FormatBzip2, FormatGzip, FormatZstd}

// ParseFormat maps a configuration value onto a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatGzip, "gzip", "tgz":
		return FormatGzip, nil
	case FormatBzip2, "bzip2":
		return FormatBzip2, nil
	case FormatZstd, "zstd":
		return FormatZstd, nil
	}
	return "", fmt.Errorf("unsupported compression %q", s)
}

// Ext is the filename extension without the leading dot, e.g. "tar.gz".
func (f Format) Ext() string {
	if f == FormatTar {
		return "tar"
	}
	return "tar." + string(f)
}

// FormatFromPath detects the format from a filename suffix, including
// plain .tar archives.
func FormatFromPath(path string) (Format, bool) {
	for _, f := range Formats {
		if strings.HasSuffix(path, "."+f.Ext()) {
			return f, true
		}
	}
	if strings.HasSuffix(path, "."+FormatTar.Ext()) {
		return FormatTar, true
	}
	return "", false
}

// newWriter wraps w with the compressor for f.
func newWriter(f Format, w io.Writer) (io.WriteCloser, error) {
	switch f {
	case FormatGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case FormatBzip2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	case FormatZstd:
		return zstd.NewWriter(w)
	}
	return nil, fmt.Errorf("unsupported compression %q", f)
}

// newReader wraps r with the decompressor for f.
func newReader(f Format, r io.Reader) (io.ReadCloser, error) {
	switch f {
	case FormatGzip:
		return gzip.NewReader(r)
	case FormatBzip2:
		return bzip2.NewReader(r, nil)
	case FormatZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case FormatTar:
		return io.NopCloser(r), nil
	}
	return nil, fmt.Errorf("unsupported compression %q", f)
}
