package runtime

import (
	"io"
	"sync"
)

// Wraps an [io.Reader] and signals when it is exhausted.
//
// The containerd shim holds both ends of an exec's stdin FIFO open, so the
// process never sees EOF on its own. The done channel lets the caller close
// the process stdin once the reader has been drained. It is closed exactly
// once, on the first [io.EOF].
type doneReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

// Creates a new [doneReader] wrapping r.
func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

// Reads from the underlying reader. Non-EOF errors leave the channel open.
func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}
