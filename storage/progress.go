package storage

import "io"

// progressReader reports how much of an in-memory payload has been read.
type progressReader struct {
	data  []byte
	read  int64
	total int64
	fn    ProgressFunc
}

func newProgressReader(data []byte, fn ProgressFunc) *progressReader {
	return &progressReader{data: data, total: int64(len(data)), fn: fn}
}

func (r *progressReader) Read(p []byte) (int, error) {
	if r.read >= r.total {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.read:])
	r.read += int64(n)
	if r.fn != nil && n > 0 {
		r.fn(r.read, r.total)
	}
	return n, nil
}

// Len lets retryablehttp set the request Content-Length.
func (r *progressReader) Len() int {
	return int(r.total - r.read)
}
