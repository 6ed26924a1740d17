// Package dbm wraps tkrzw hash databases.
package dbm

import (
	"fmt"
	"os"
	"sync"

	"github.com/estraier/tkrzw-go"
	"github.com/zond/juicerpg"

	goccy "github.com/goccy/go-json"
)

type Hash struct {
	dbm   *tkrzw.DBM
	mutex *sync.RWMutex
}

func (h *Hash) Get(k string) ([]byte, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	b, stat := h.dbm.Get(k)
	if stat.GetCode() == tkrzw.StatusNotFoundError {
		return nil, juicerpg.WithStack(os.ErrNotExist)
	} else if !stat.IsOK() {
		return nil, juicerpg.WithStack(stat)
	}
	return b, nil
}

func (h *Hash) Set(k string, v []byte, overwrite bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stat := h.dbm.Set(k, v, overwrite); !stat.IsOK() {
		return juicerpg.WithStack(stat)
	}
	return nil
}

// Del removes k, returning os.ErrNotExist if it was missing.
func (h *Hash) Del(k string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stat := h.dbm.Remove(k); stat.GetCode() == tkrzw.StatusNotFoundError {
		return juicerpg.WithStack(os.ErrNotExist)
	} else if !stat.IsOK() {
		return juicerpg.WithStack(stat)
	}
	return nil
}

func (h *Hash) Count() (int, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n, stat := h.dbm.Count()
	if !stat.IsOK() {
		return 0, juicerpg.WithStack(stat)
	}
	return int(n), nil
}

// Each calls f with every key and value until f returns false or an error.
func (h *Hash) Each(f func(k string, v []byte) (bool, error)) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	iter := h.dbm.MakeIterator()
	defer iter.Destruct()
	stat := iter.First()
	if !stat.IsOK() {
		return juicerpg.WithStack(stat)
	}
	for {
		k, v, stat := iter.Get()
		if stat.GetCode() == tkrzw.StatusNotFoundError {
			return nil
		} else if !stat.IsOK() {
			return juicerpg.WithStack(stat)
		}
		cont, err := f(string(k), v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		if stat := iter.Next(); !stat.IsOK() {
			return juicerpg.WithStack(stat)
		}
	}
}

func (h *Hash) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stat := h.dbm.Close(); !stat.IsOK() {
		return juicerpg.WithStack(stat)
	}
	return nil
}

// TypeHash stores values of T as JSON.
type TypeHash[T any] struct {
	*Hash
}

func (h *TypeHash[T]) Get(k string) (*T, error) {
	b, err := h.Hash.Get(k)
	if err != nil {
		return nil, err
	}
	t := new(T)
	if err := goccy.Unmarshal(b, t); err != nil {
		return nil, juicerpg.WithStack(err)
	}
	return t, nil
}

func (h *TypeHash[T]) Set(k string, v *T, overwrite bool) error {
	b, err := goccy.Marshal(v)
	if err != nil {
		return juicerpg.WithStack(err)
	}
	return h.Hash.Set(k, b, overwrite)
}

func (h *TypeHash[T]) Each(f func(k string, v *T) (bool, error)) error {
	return h.Hash.Each(func(k string, b []byte) (bool, error) {
		t := new(T)
		if err := goccy.Unmarshal(b, t); err != nil {
			return false, juicerpg.WithStack(err)
		}
		return f(k, t)
	})
}

// OpenHash opens or creates the hash database path.tkh.
func OpenHash(path string) (*Hash, error) {
	dbm := tkrzw.NewDBM()
	stat := dbm.Open(fmt.Sprintf("%s.tkh", path), true, map[string]string{
		"update_mode":      "UPDATE_APPENDING",
		"record_comp_mode": "RECORD_COMP_NONE",
		"restore_mode":     "RESTORE_SYNC|RESTORE_NO_SHORTCUTS|RESTORE_WITH_HARDSYNC",
	})
	if !stat.IsOK() {
		return nil, juicerpg.WithStack(stat)
	}
	return &Hash{dbm, &sync.RWMutex{}}, nil
}

func OpenTypeHash[T any](path string) (*TypeHash[T], error) {
	h, err := OpenHash(path)
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	return &TypeHash[T]{h}, nil
}
