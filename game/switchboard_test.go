package game

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/term"
)

// testTerminal creates a terminal backed by a buffer.
func testTerminal(t *testing.T) (*term.Terminal, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	rw := &testReadWriter{Reader: &bytes.Buffer{}, Writer: buf}
	return term.NewTerminal(rw, ""), buf
}

type testReadWriter struct {
	Reader io.Reader
	Writer io.Writer
}

func (rw *testReadWriter) Read(p []byte) (int, error) {
	return rw.Reader.Read(p)
}

func (rw *testReadWriter) Write(p []byte) (int, error) {
	return rw.Writer.Write(p)
}

type failingWriter struct{}

func (w *failingWriter) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}

type countingWriter struct {
	count atomic.Int32
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.count.Add(1)
	return len(p), nil
}

func TestSwitchboardAttachDetach(t *testing.T) {
	s := NewSwitchboard()
	terminal1, _ := testTerminal(t)
	terminal2, _ := testTerminal(t)

	if s.IsAttached("weather", terminal1) {
		t.Error("terminal1 should not be attached initially")
	}
	s.Attach("weather", terminal1)
	if !s.IsAttached("weather", terminal1) {
		t.Error("terminal1 should be attached after Attach")
	}
	if s.IsAttached("weather", terminal2) {
		t.Error("terminal2 should not be attached")
	}
	if s.IsAttached("shop", terminal1) {
		t.Error("terminal1 should not be attached to shop")
	}

	s.Attach("weather", terminal2)
	s.Detach("weather", terminal1)
	if s.IsAttached("weather", terminal1) {
		t.Error("terminal1 should not be attached after Detach")
	}
	if !s.IsAttached("weather", terminal2) {
		t.Error("terminal2 should still be attached")
	}
	s.Detach("weather", terminal2)
	s.Detach("weather", terminal2)
	s.Detach("missing", terminal2)
}

func TestSwitchboardAttachNil(t *testing.T) {
	s := NewSwitchboard()
	s.Attach("weather", nil)
	if s.IsAttached("weather", nil) {
		t.Error("nil writer should never be considered attached")
	}
}

func TestSwitchboardWriterNoConsoles(t *testing.T) {
	for _, w := range []*SwitchboardWriter{NewSwitchboard().Writer("weather"), {plugin: "weather"}} {
		n, err := w.Write([]byte("hello"))
		if err != nil {
			t.Errorf("got %v, want no error", err)
		}
		if n != 5 {
			t.Errorf("got %d, want 5", n)
		}
	}
}

func TestSwitchboardWriterBroadcast(t *testing.T) {
	s := NewSwitchboard()
	terminal, termBuf := testTerminal(t)
	buf := &bytes.Buffer{}
	s.Attach("weather", terminal)
	s.Attach("weather", buf)

	message := []byte("it rains")
	if _, err := s.Writer("weather").Write(message); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Writer("shop").Write([]byte("sold")); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(termBuf.Bytes(), message) {
		t.Errorf("terminal got %q, want %q", termBuf.Bytes(), message)
	}
	if got := buf.String(); got != "it rains" {
		t.Errorf("got %q, want only the weather output", got)
	}
}

func TestSwitchboardWriterAutoDetachOnFailure(t *testing.T) {
	s := NewSwitchboard()
	good := &bytes.Buffer{}
	bad := &failingWriter{}
	s.Attach("weather", good)
	s.Attach("weather", bad)

	if n, err := s.Writer("weather").Write([]byte("test")); err != nil || n != 4 {
		t.Errorf("got %v, %v, want 4, nil", n, err)
	}
	if s.IsAttached("weather", bad) {
		t.Error("failing writer should be detached")
	}
	if !s.IsAttached("weather", good) {
		t.Error("working writer should still be attached")
	}
}

func TestSwitchboardDetachAll(t *testing.T) {
	s := NewSwitchboard()
	buf := &bytes.Buffer{}
	other := &bytes.Buffer{}
	s.Attach("weather", buf)
	s.Attach("shop", buf)
	s.Attach("shop", other)
	s.DetachAll(buf)
	if s.IsAttached("weather", buf) || s.IsAttached("shop", buf) {
		t.Error("DetachAll left the writer attached")
	}
	if !s.IsAttached("shop", other) {
		t.Error("DetachAll detached another writer")
	}
}

func TestSwitchboardBuffer(t *testing.T) {
	s := NewSwitchboard()
	if got := s.GetBuffered("weather"); got != nil {
		t.Errorf("got %q, want nothing buffered", got)
	}
	w := s.Writer("weather")
	for i := 0; i < consoleBufferSize+2; i++ {
		fmt.Fprintf(w, "line %d", i)
	}
	got := s.GetBuffered("weather")
	if len(got) != consoleBufferSize {
		t.Fatalf("got %d buffered, want %d", len(got), consoleBufferSize)
	}
	if string(got[0]) != "line 2" {
		t.Errorf("got %q, want the oldest lines evicted", got[0])
	}
	if last := string(got[len(got)-1]); last != fmt.Sprintf("line %d", consoleBufferSize+1) {
		t.Errorf("got %q as the newest line", last)
	}
}

func TestSwitchboardConcurrentAccess(t *testing.T) {
	s := NewSwitchboard()
	counter := &countingWriter{}
	w := s.Writer("weather")

	var wg sync.WaitGroup
	const goroutines = 10
	const iterations = 100

	wg.Add(goroutines * 2)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				s.Attach("weather", counter)
				s.IsAttached("weather", counter)
				s.Detach("weather", counter)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				w.Write([]byte("concurrent write"))
			}
		}()
	}
	wg.Wait()
}
