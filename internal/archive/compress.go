package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// codec wraps a writer in a compressor and names the object extension.
type codec struct {
	ext  string
	wrap func(w io.Writer) (io.WriteCloser, error)
}

func codecFor(name string) (codec, error) {
	switch name {
	case "zstd", "":
		return codec{".zst", func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		}}, nil
	case "s2":
		return codec{".s2", func(w io.Writer) (io.WriteCloser, error) {
			return s2.NewWriter(w), nil
		}}, nil
	case "none":
		return codec{"", func(w io.Writer) (io.WriteCloser, error) {
			return nopCloser{w}, nil
		}}, nil
	}
	return codec{}, fmt.Errorf("unknown compression %q", name)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
