// Package compression detects compressed streams by their magic bytes and
// decompresses them. Archives are expected to hold a single file.
package compression

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type is a compression format.
type Type int

const (
	Unknown Type = iota
	GZip
	Zip
	BZip2
	SevenZip
	Zstd
	LZ4
)

func (t Type) String() string {
	switch t {
	case GZip:
		return "gzip"
	case Zip:
		return "zip"
	case BZip2:
		return "bzip2"
	case SevenZip:
		return "7z"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownFormat is returned when a stream does not start with the
	// magic bytes of a known format.
	ErrUnknownFormat = errors.New("compression: unknown or unsupported compression type")

	// ErrUnsupported is returned for formats which are detected but cannot
	// be decompressed.
	ErrUnsupported = errors.New("compression: format cannot be decompressed")

	// ErrEmptyArchive is returned for archives without entries.
	ErrEmptyArchive = errors.New("compression: archive is empty")
)

const headerSize = 6

var signatures = []struct {
	typ   Type
	magic []byte
}{
	{GZip, []byte{0x1F, 0x8B}},
	{Zip, []byte{0x50, 0x4B, 0x03, 0x04}},
	{BZip2, []byte{0x42, 0x5A, 0x68}},
	{SevenZip, []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}},
	{Zstd, []byte{0x28, 0xB5, 0x2F, 0xFD}},
	{LZ4, []byte{0x04, 0x22, 0x4D, 0x18}},
}

// Detect returns the compression format of r. The read position of r is
// left unchanged. Streams shorter than the longest signature are Unknown.
func Detect(r io.ReadSeeker) (Type, error) {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return Unknown, fmt.Errorf("reading stream position: %w", err)
	}

	header := make([]byte, headerSize)
	n, readErr := io.ReadFull(r, header)

	if _, err := r.Seek(pos, io.SeekStart); err != nil {
		return Unknown, fmt.Errorf("restoring stream position: %w", err)
	}

	if readErr != nil {
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return Unknown, nil
		}
		return Unknown, fmt.Errorf("reading stream header: %w", readErr)
	}

	return detectHeader(header[:n]), nil
}

func detectHeader(header []byte) Type {
	for _, sig := range signatures {
		if bytes.HasPrefix(header, sig.magic) {
			return sig.typ
		}
	}
	return Unknown
}

// IsCompressed reports whether r is in a known compression format.
func IsCompressed(r io.ReadSeeker) bool {
	t, err := Detect(r)
	return err == nil && t != Unknown
}

// Decompress returns the decompressed content of r. Zip archives yield their
// first entry.
func Decompress(r io.ReadSeeker) (io.ReadCloser, error) {
	t, err := Detect(r)
	if err != nil {
		return nil, err
	}

	switch t {
	case GZip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return zr, nil
	case Zip:
		return decompressZip(r)
	case BZip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case Zstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return d.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case SevenZip:
		return nil, fmt.Errorf("%s: %w", t, ErrUnsupported)
	default:
		return nil, ErrUnknownFormat
	}
}

// TryDecompress is like Decompress but reports failure as false.
func TryDecompress(r io.ReadSeeker) (io.ReadCloser, bool) {
	rc, err := Decompress(r)
	if err != nil {
		return nil, false
	}
	return rc, true
}

// DecompressOrDefault returns the decompressed content of r, or def when r
// cannot be decompressed.
func DecompressOrDefault(r io.ReadSeeker, def io.ReadCloser) io.ReadCloser {
	if rc, ok := TryDecompress(r); ok {
		return rc
	}
	return def
}

func decompressZip(r io.ReadSeeker) (io.ReadCloser, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	ra, ok := r.(io.ReaderAt)
	if !ok || start != 0 {
		buf, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading zip archive: %w", err)
		}
		ra = bytes.NewReader(buf)
	}

	zr, err := zip.NewReader(ra, end-start)
	if err != nil {
		return nil, fmt.Errorf("opening zip archive: %w", err)
	}
	if len(zr.File) == 0 {
		return nil, ErrEmptyArchive
	}

	return zr.File[0].Open()
}
