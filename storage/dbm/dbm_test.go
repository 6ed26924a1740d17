package dbm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bxcodec/faker/v4"
	"github.com/google/go-cmp/cmp"
)

func WithHash(t testing.TB, f func(*Hash)) {
	t.Helper()
	h, err := OpenHash(filepath.Join(t.TempDir(), "test"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	f(h)
}

func WithTypeHash[T any](t testing.TB, f func(*TypeHash[T])) {
	t.Helper()
	h, err := OpenTypeHash[T](filepath.Join(t.TempDir(), "test"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	f(h)
}

type testObj struct {
	I int
	S string
}

func TestHash(t *testing.T) {
	WithHash(t, func(h *Hash) {
		if _, err := h.Get("a"); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("got %v, want os.ErrNotExist", err)
		}
		if err := h.Set("a", []byte("1"), true); err != nil {
			t.Fatal(err)
		}
		if err := h.Set("a", []byte("2"), false); err == nil {
			t.Errorf("wanted an error when not overwriting")
		}
		b, err := h.Get("a")
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "1" {
			t.Errorf("got %q, want 1", b)
		}
		if n, err := h.Count(); err != nil || n != 1 {
			t.Errorf("got %v, %v, want 1", n, err)
		}
		if err := h.Del("a"); err != nil {
			t.Fatal(err)
		}
		if err := h.Del("a"); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("got %v, want os.ErrNotExist", err)
		}
	})
}

func TestTypeHashEach(t *testing.T) {
	WithTypeHash(t, func(h *TypeHash[testObj]) {
		want := map[string]testObj{}
		for i := 0; i < 10; i++ {
			obj := testObj{I: i, S: faker.Word()}
			key := faker.UUIDHyphenated()
			want[key] = obj
			if err := h.Set(key, &obj, true); err != nil {
				t.Fatal(err)
			}
		}
		got := map[string]testObj{}
		if err := h.Each(func(k string, v *testObj) (bool, error) {
			got[k] = *v
			return true, nil
		}); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(got, want); diff != "" {
			t.Error(diff)
		}
		seen := 0
		if err := h.Each(func(k string, v *testObj) (bool, error) {
			seen++
			return false, nil
		}); err != nil {
			t.Fatal(err)
		}
		if seen != 1 {
			t.Errorf("got %v calls, want iteration to stop after 1", seen)
		}
	})
}

func TestEachEmpty(t *testing.T) {
	WithHash(t, func(h *Hash) {
		if err := h.Each(func(string, []byte) (bool, error) {
			t.Errorf("called for an empty hash")
			return true, nil
		}); err != nil {
			t.Fatal(err)
		}
	})
}
