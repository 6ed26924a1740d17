package juicerpg

import (
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestWithStack(t *testing.T) {
	if WithStack(nil) != nil {
		t.Errorf("got non nil for nil")
	}
	err := WithStack(os.ErrNotExist)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
	if again := WithStack(err); again != err {
		t.Errorf("got %v, want the same error", again)
	}
	if trace := StackTrace(err); !strings.Contains(trace, "TestWithStack") {
		t.Errorf("got %q, want the test in the trace", trace)
	}
	if trace := StackTrace(os.ErrNotExist); trace != "" {
		t.Errorf("got %q, want no trace", trace)
	}
}

func TestSyncMap(t *testing.T) {
	m := NewSyncMap[string, int]()
	wg := &sync.WaitGroup{}
	stored := make([]bool, 10)
	for i := range stored {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored[i] = m.SetIfMissing("a", i)
		}()
	}
	wg.Wait()
	count := 0
	for _, s := range stored {
		if s {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %v stores, want 1", count)
	}
	m.SetIfMissing("b", 20)
	m.SetIfMissing("c", 30)
	m.Del("a")
	if m.Has("a") || m.Len() != 2 {
		t.Errorf("got %v entries, want a deleted", m.Len())
	}
	if v, found := m.GetHas("c"); !found || v != 30 {
		t.Errorf("got %v, %v, want 30, true", v, found)
	}
	got := m.SortedValues(func(a, b int) bool { return a > b })
	if diff := cmp.Diff([]int{30, 20}, got); diff != "" {
		t.Errorf("SortedValues mismatch (-want +got):\n%s", diff)
	}
}
