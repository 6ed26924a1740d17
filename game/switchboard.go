package game

import (
	"io"
	"sync"
)

const (
	// consoleBufferSize is the number of log writes kept per plugin, replayed
	// to consoles attaching with /debug.
	consoleBufferSize = 64
)

// consoleBuffer is a ring buffer of log writes.
type consoleBuffer struct {
	messages [][]byte
	start    int
	count    int
}

func (b *consoleBuffer) push(msg []byte) {
	if b.messages == nil {
		b.messages = make([][]byte, consoleBufferSize)
	}
	cpy := make([]byte, len(msg))
	copy(cpy, msg)

	idx := (b.start + b.count) % consoleBufferSize
	if b.count < consoleBufferSize {
		b.messages[idx] = cpy
		b.count++
	} else {
		b.messages[b.start] = cpy
		b.start = (b.start + 1) % consoleBufferSize
	}
}

func (b *consoleBuffer) getAll() [][]byte {
	if b.count == 0 {
		return nil
	}
	result := make([][]byte, b.count)
	for i := 0; i < b.count; i++ {
		result[i] = b.messages[(b.start+i)%consoleBufferSize]
	}
	return result
}

// Switchboard routes plugin log output to the consoles debugging the plugin,
// and keeps the most recent output of every plugin.
type Switchboard struct {
	mu       sync.RWMutex
	consoles map[string]map[io.Writer]struct{}
	buffers  map[string]*consoleBuffer
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{
		consoles: map[string]map[io.Writer]struct{}{},
		buffers:  map[string]*consoleBuffer{},
	}
}

// Attach makes w receive the output of plugin. Nil writers are ignored.
func (s *Switchboard) Attach(plugin string, w io.Writer) {
	if w == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consoles[plugin] == nil {
		s.consoles[plugin] = map[io.Writer]struct{}{}
	}
	s.consoles[plugin][w] = struct{}{}
}

func (s *Switchboard) Detach(plugin string, w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detach(plugin, w)
}

func (s *Switchboard) detach(plugin string, w io.Writer) {
	if consoles := s.consoles[plugin]; consoles != nil {
		delete(consoles, w)
		if len(consoles) == 0 {
			delete(s.consoles, plugin)
		}
	}
}

// DetachAll detaches w from every plugin.
func (s *Switchboard) DetachAll(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for plugin := range s.consoles {
		s.detach(plugin, w)
	}
}

func (s *Switchboard) IsAttached(plugin string, w io.Writer) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, attached := s.consoles[plugin][w]
	return attached
}

// Writer returns a writer buffering and broadcasting to the consoles of plugin.
// Consoles failing a write are detached.
func (s *Switchboard) Writer(plugin string) *SwitchboardWriter {
	return &SwitchboardWriter{s: s, plugin: plugin}
}

type SwitchboardWriter struct {
	s      *Switchboard
	plugin string
}

// Write always succeeds, since output is broadcast.
func (w *SwitchboardWriter) Write(b []byte) (int, error) {
	if w.s == nil {
		return len(b), nil
	}

	w.s.mu.Lock()
	if w.s.buffers[w.plugin] == nil {
		w.s.buffers[w.plugin] = &consoleBuffer{}
	}
	w.s.buffers[w.plugin].push(b)
	list := make([]io.Writer, 0, len(w.s.consoles[w.plugin]))
	for c := range w.s.consoles[w.plugin] {
		list = append(list, c)
	}
	w.s.mu.Unlock()

	// Writes happen outside the lock so slow consoles don't block attaching.
	var failed []io.Writer
	for _, c := range list {
		if _, err := c.Write(b); err != nil {
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		w.s.mu.Lock()
		for _, c := range failed {
			w.s.detach(w.plugin, c)
		}
		w.s.mu.Unlock()
	}
	return len(b), nil
}

// GetBuffered returns the buffered output of plugin, oldest first.
func (s *Switchboard) GetBuffered(plugin string) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if buf := s.buffers[plugin]; buf != nil {
		return buf.getAll()
	}
	return nil
}
