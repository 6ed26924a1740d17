package game

import (
	"io"
	"strings"
	"sync"

	"github.com/zond/juicerpg"
)

type errs []error

func (e errs) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Fanout writes to every pushed writer, dropping writers that fail.
type Fanout struct {
	mu      sync.Mutex
	writers map[io.Writer]bool
}

func (f *Fanout) Push(w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writers == nil {
		f.writers = map[io.Writer]bool{}
	}
	f.writers[w] = true
}

func (f *Fanout) Drop(w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.writers, w)
}

func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writers)
}

func (f *Fanout) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := errs{}
	max := 0
	for w := range f.writers {
		if written, err := w.Write(b); err != nil {
			delete(f.writers, w)
			errs = append(errs, err)
		} else if written > max {
			max = written
		}
	}
	if len(errs) > 0 {
		return max, juicerpg.WithStack(errs)
	}
	return max, nil
}
