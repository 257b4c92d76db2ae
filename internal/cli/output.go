package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/imilosk/blobstore/compression"
)

var commonBarOptions = []progressbar.Option{
	progressbar.OptionSetElapsedTime(true),
	progressbar.OptionShowBytes(true),
	progressbar.OptionSetPredictTime(false),
	progressbar.OptionShowElapsedTimeOnFinish(),
	progressbar.OptionShowDescriptionAtLineEnd(),
	progressbar.OptionSetTheme(progressbar.Theme{
		Saucer:        "=",
		SaucerHead:    ">",
		SaucerPadding: " ",
		BarStart:      "[",
		BarEnd:        "]",
	}),
}

// newProgressBar returns a byte progress bar writing to w. A negative size
// renders a spinner.
func newProgressBar(size int64, description string, w io.Writer) *progressbar.ProgressBar {
	opts := make([]progressbar.Option, len(commonBarOptions), len(commonBarOptions)+2)
	copy(opts, commonBarOptions)
	opts = append(
		opts,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
	)
	return progressbar.NewOptions64(size, opts...)
}

func finishProgressBar(bar *progressbar.ProgressBar) {
	_ = bar.Finish()
	_ = bar.Close()
}

// spooled is the content of a temporary file, removed on Close.
type spooled struct {
	io.ReadCloser
	file *os.File
}

func (s *spooled) Close() error {
	err := s.ReadCloser.Close()
	if s.ReadCloser != io.ReadCloser(s.file) {
		_ = s.file.Close()
	}
	_ = os.Remove(s.file.Name())
	return err
}

// spoolDecompressed copies r to a temporary file and returns its
// decompressed content. Content in no known compression format is returned
// as is.
func spoolDecompressed(r io.Reader) (io.ReadCloser, compression.Type, error) {
	f, err := os.CreateTemp("", "blobctl-*")
	if err != nil {
		return nil, compression.Unknown, fmt.Errorf("creating spool file: %w", err)
	}
	discard := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	if _, err := io.Copy(f, r); err != nil {
		discard()
		return nil, compression.Unknown, fmt.Errorf("spooling content: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, compression.Unknown, fmt.Errorf("rewinding spool file: %w", err)
	}

	typ, err := compression.Detect(f)
	if err != nil {
		discard()
		return nil, compression.Unknown, err
	}
	if typ == compression.Unknown {
		return &spooled{ReadCloser: f, file: f}, typ, nil
	}

	rc, err := compression.Decompress(f)
	if err != nil {
		discard()
		return nil, typ, err
	}
	return &spooled{ReadCloser: rc, file: f}, typ, nil
}

// writeFile copies r to a temporary file next to dest and renames it to dest
// once check passes. dest is left untouched otherwise.
func writeFile(dest string, r io.Reader, check func() error) (int64, error) {
	f, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	written, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return written, err
	}
	if err := f.Close(); err != nil {
		return written, err
	}
	if err := check(); err != nil {
		return written, err
	}

	return written, os.Rename(tmp, dest)
}
