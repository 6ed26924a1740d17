package juicerpg

import (
	"bytes"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); !ok {
		return errors.WithStack(err)
	}
	return err
}

func StackTrace(err error) string {
	buf := &bytes.Buffer{}
	if err, ok := err.(stackTracer); ok {
		for _, f := range err.StackTrace() {
			fmt.Fprintf(buf, "%+v\n", f)
		}
	}
	return buf.String()
}

// SyncMap is a mutex protected map.
type SyncMap[K comparable, V any] struct {
	m     map[K]V
	mutex sync.RWMutex
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		m: map[K]V{},
	}
}

func (s *SyncMap[K, V]) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.m)
}

func (s *SyncMap[K, V]) Values() iter.Seq[V] {
	return func(yield func(v V) bool) {
		s.mutex.RLock()
		defer s.mutex.RUnlock()
		for _, v := range s.m {
			if !yield(v) {
				return
			}
		}
	}
}

// SortedValues returns a snapshot of the values ordered by less.
func (s *SyncMap[K, V]) SortedValues(less func(a, b V) bool) []V {
	s.mutex.RLock()
	result := make([]V, 0, len(s.m))
	for _, v := range s.m {
		result = append(result, v)
	}
	s.mutex.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return less(result[i], result[j])
	})
	return result
}

func (s *SyncMap[K, V]) GetHas(key K) (V, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, found := s.m[key]
	return v, found
}

func (s *SyncMap[K, V]) Get(key K) V {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.m[key]
}

// SetIfMissing stores value unless key is already present, and reports whether it stored.
func (s *SyncMap[K, V]) SetIfMissing(key K, value V) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, found := s.m[key]; found {
		return false
	}
	s.m[key] = value
	return true
}

func (s *SyncMap[K, V]) Del(key K) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.m, key)
}

func (s *SyncMap[K, V]) Has(key K) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, found := s.m[key]
	return found
}
