package upload

import "io"

// CountingWriter forwards every write to dst unchanged and keeps a running byte
// total for one file. After each successful write it hands the total to observe.
type CountingWriter struct {
	dst     io.Writer
	name    string
	total   int64
	err     error
	observe func(name string, total int64)
}

// NewCountingWriter wraps dst. observe may be nil.
func NewCountingWriter(dst io.Writer, name string, observe func(name string, total int64)) *CountingWriter {
	return &CountingWriter{dst: dst, name: name, observe: observe}
}

func (w *CountingWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.dst.Write(p)
	if err != nil {
		// a rejected write stops the count where it was
		w.err = err
		return n, err
	}
	w.total += int64(n)
	if w.observe != nil {
		w.observe(w.name, w.total)
	}
	return n, nil
}

// Total returns the bytes forwarded so far.
func (w *CountingWriter) Total() int64 {
	return w.total
}

// Err returns the first error reported by the destination, if any.
func (w *CountingWriter) Err() error {
	return w.err
}
