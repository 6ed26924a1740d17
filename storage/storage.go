// Package storage persists save slots in a tkrzw hash and the plugin
// catalogue in sqlite.
package storage

import (
	"context"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/storage/dbm"
	"github.com/zond/juicerpg/structs"
)

type Storage struct {
	Saves   *Saves
	Catalog *Catalog
}

// New opens or creates the databases in dir.
func New(ctx context.Context, dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, juicerpg.WithStack(err)
	}
	o := &opener{Dir: dir}
	s := &Storage{
		Saves:   o.OpenSaves(),
		Catalog: o.OpenCatalog(ctx),
	}
	if o.Err != nil {
		if s.Saves != nil {
			s.Saves.Close()
		}
		return nil, o.Err
	}
	return s, nil
}

func (s *Storage) Close() error {
	savesErr := s.Saves.Close()
	if err := s.Catalog.Close(); err != nil {
		return err
	}
	return savesErr
}

// Saves holds save slots by slot name.
type Saves struct {
	hash *dbm.TypeHash[structs.Save]
}

// SaveInfo summarizes a save for listings.
type SaveInfo struct {
	Slot    string
	Frame   uint64
	Clock   time.Duration
	Running int
	SavedAt time.Time
}

func (s *Saves) Close() error {
	return s.hash.Close()
}

// Put stores save in its slot, replacing what was there.
func (s *Saves) Put(save *structs.Save) error {
	if strings.TrimSpace(save.Slot) == "" {
		return juicerpg.WithStack(errors.New("save without slot"))
	}
	if save.SavedAt.IsZero() {
		save.SavedAt = time.Now()
	}
	return s.hash.Set(save.Slot, save, true)
}

// Get returns the save in slot, or os.ErrNotExist.
func (s *Saves) Get(slot string) (*structs.Save, error) {
	return s.hash.Get(slot)
}

func (s *Saves) Delete(slot string) error {
	return s.hash.Del(slot)
}

func (s *Saves) Each(f func(save *structs.Save) (bool, error)) error {
	return s.hash.Each(func(_ string, save *structs.Save) (bool, error) {
		return f(save)
	})
}

// List summarizes all saves ordered by slot.
func (s *Saves) List() ([]SaveInfo, error) {
	result := []SaveInfo{}
	if err := s.Each(func(save *structs.Save) (bool, error) {
		result = append(result, SaveInfo{
			Slot:    save.Slot,
			Frame:   save.Frame,
			Clock:   save.Clock,
			Running: len(save.Running),
			SavedAt: save.SavedAt,
		})
		return true, nil
	}); err != nil {
		return nil, err
	}
	slices.SortFunc(result, func(a, b SaveInfo) int {
		return strings.Compare(a.Slot, b.Slot)
	})
	return result, nil
}
