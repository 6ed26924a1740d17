package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bxcodec/faker/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/structs"
)

func WithStorage(t testing.TB, f func(s *Storage)) {
	t.Helper()
	s, err := New(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	f(s)
}

func WithSaves(t testing.TB, f func(s *Saves)) {
	t.Helper()
	WithStorage(t, func(s *Storage) {
		f(s.Saves)
	})
}

func WithCatalog(t testing.TB, f func(c *Catalog)) {
	t.Helper()
	WithStorage(t, func(s *Storage) {
		f(s.Catalog)
	})
}

func TestSaves(t *testing.T) {
	WithSaves(t, func(s *Saves) {
		if _, err := s.Get("one"); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("got %v, want os.ErrNotExist", err)
		}
		if err := s.Put(&structs.Save{}); err == nil {
			t.Errorf("wanted an error for a save without slot")
		}
		state := structs.NewGameState()
		state.SetVariable(1, formula.String(faker.Word()))
		state.SetSwitch(2, true)
		hero := structs.NewMapObject(3, faker.FirstName())
		hero.SetProperty("hp", formula.Int(12))
		state.AddObject(hero)
		want := &structs.Save{
			Slot:         "one",
			Frame:        120,
			Clock:        2 * time.Second,
			State:        state,
			Running:      []structs.RunningReaction{{Reaction: "intro", Object: 3, State: 1}},
			PluginStates: map[string]string{"weather": `{"drops":2}`},
		}
		if err := s.Put(want); err != nil {
			t.Fatal(err)
		}
		if want.SavedAt.IsZero() {
			t.Errorf("Put didn't set SavedAt")
		}
		got, err := s.Get("one")
		if err != nil {
			t.Fatal(err)
		}
		if got.Frame != want.Frame || got.Clock != want.Clock || !got.SavedAt.Equal(want.SavedAt) {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if diff := cmp.Diff(got.Running, want.Running); diff != "" {
			t.Errorf("running: %v", diff)
		}
		if diff := cmp.Diff(got.PluginStates, want.PluginStates); diff != "" {
			t.Errorf("plugin states: %v", diff)
		}
		if v := got.State.Variable(1); !v.Equal(state.Variable(1)) {
			t.Errorf("got %v, want %v", v, state.Variable(1))
		}
		if !got.State.Switch(2) {
			t.Errorf("lost switch 2")
		}
		if o, found := got.State.Object(3); !found || !o.Property("hp").Equal(formula.Int(12)) {
			t.Errorf("got %v, want hero with 12 hp", o)
		}

		if err := s.Put(&structs.Save{Slot: "auto", Frame: 5, State: structs.NewGameState()}); err != nil {
			t.Fatal(err)
		}
		infos, err := s.List()
		if err != nil {
			t.Fatal(err)
		}
		slots := []string{}
		for _, info := range infos {
			slots = append(slots, info.Slot)
		}
		if diff := cmp.Diff(slots, []string{"auto", "one"}); diff != "" {
			t.Error(diff)
		}
		if infos[1].Running != 1 {
			t.Errorf("got %v running, want 1", infos[1].Running)
		}

		if err := s.Delete("auto"); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete("auto"); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("got %v, want os.ErrNotExist", err)
		}
	})
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	WithCatalog(t, func(c *Catalog) {
		enabled, err := c.Enabled(ctx, "weather")
		if err != nil {
			t.Fatal(err)
		}
		if !enabled {
			t.Errorf("unknown plugins should be enabled")
		}
		if err := c.SetEnabled(ctx, "weather", false); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("got %v, want os.ErrNotExist", err)
		}
		loadedAt := time.Now().UTC().Truncate(time.Second)
		if err := c.Record(ctx, structs.CatalogEntry{Name: "weather", ID: 2, Version: "1.0", Enabled: true, LoadedAt: loadedAt}); err != nil {
			t.Fatal(err)
		}
		if err := c.Record(ctx, structs.CatalogEntry{Name: "bonus", ID: 1, Enabled: true, LastError: "boom"}); err != nil {
			t.Fatal(err)
		}
		if err := c.SetEnabled(ctx, "weather", false); err != nil {
			t.Fatal(err)
		}
		if enabled, err = c.Enabled(ctx, "weather"); err != nil || enabled {
			t.Errorf("got %v, %v, want weather disabled", enabled, err)
		}
		// Recording a new load keeps the flag.
		if err := c.Record(ctx, structs.CatalogEntry{Name: "weather", ID: 2, Version: "1.1", Enabled: true, LoadedAt: loadedAt}); err != nil {
			t.Fatal(err)
		}
		entry, err := c.Get(ctx, "weather")
		if err != nil {
			t.Fatal(err)
		}
		if entry.Enabled || entry.Version != "1.1" || !entry.LoadedAt.Equal(loadedAt) {
			t.Errorf("got %+v, want disabled version 1.1 loaded at %v", entry, loadedAt)
		}
		if _, err := c.Get(ctx, "missing"); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("got %v, want os.ErrNotExist", err)
		}
		entries, err := c.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		names := []string{}
		for _, e := range entries {
			names = append(names, e.Name)
		}
		if diff := cmp.Diff(names, []string{"bonus", "weather"}); diff != "" {
			t.Error(diff)
		}
		if entries[0].LastError != "boom" {
			t.Errorf("got %q, want boom", entries[0].LastError)
		}
	})
}
