package assets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Encoding is a precompressed sibling format.
type Encoding string

const (
	Gzip Encoding = "gzip"
	Zstd Encoding = "zstd"
)

// Extension returns the file suffix of the encoding.
func (e Encoding) Extension() string {
	switch e {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	}
	return ""
}

var compressibleExts = map[string]bool{
	".js":   true,
	".css":  true,
	".map":  true,
	".txt":  true,
	".text": true,
	".html": true,
	".json": true,
	".svg":  true,
	".eot":  true,
	".ttf":  true,
}

// Compressible reports whether a static file is worth precompressing.
func Compressible(path string) bool {
	return compressibleExts[strings.ToLower(filepath.Ext(path))]
}

// Precompress writes a compressed sibling of path for every encoding
// (gzip and zstd when none is given) and returns the written paths.
func Precompress(path string, encodings ...Encoding) ([]string, error) {
	if len(encodings) == 0 {
		encodings = []Encoding{Gzip, Zstd}
	}

	var written []string
	for _, encoding := range encodings {
		ext := encoding.Extension()
		if ext == "" {
			return written, fmt.Errorf("unsupported encoding %q", encoding)
		}
		target := path + ext
		if err := compressFile(path, target, encoding); err != nil {
			return written, fmt.Errorf("compress %s: %w", path, err)
		}
		written = append(written, target)
	}
	return written, nil
}

func compressFile(source, target string, encoding Encoding) (err error) {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	var w io.WriteCloser
	switch encoding {
	case Gzip:
		w, err = gzip.NewWriterLevel(out, gzip.BestCompression)
	case Zstd:
		w, err = zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	default:
		err = fmt.Errorf("unsupported encoding %q", encoding)
	}
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, in); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
