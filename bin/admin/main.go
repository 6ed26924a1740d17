// juicerpg-admin manages the save slots and plugin catalogue of a state
// directory. Don't run it against the state of a running server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rodaine/table"
	"github.com/zond/juicerpg/game"
	"github.com/zond/juicerpg/storage"
	"github.com/zond/juicerpg/structs"

	goccy "github.com/goccy/go-json"
)

func main() {
	stateDir := flag.String("state", game.DefaultConfig().StateDir, "State directory of the server")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  slots                  List save slots\n")
		fmt.Fprintf(os.Stderr, "  export <slot>          Write a save as JSON to stdout\n")
		fmt.Fprintf(os.Stderr, "  import <file> [slot]   Store a JSON save, optionally in another slot\n")
		fmt.Fprintf(os.Stderr, "  delete <slot>          Delete a save\n")
		fmt.Fprintf(os.Stderr, "  plugins                List the plugin catalogue\n")
		fmt.Fprintf(os.Stderr, "  enable <plugin>        Load a plugin from the next start\n")
		fmt.Fprintf(os.Stderr, "  disable <plugin>       Skip a plugin from the next start\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.New(ctx, *stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := run(ctx, store, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		store.Close()
		os.Exit(1)
	}
}

func need(args []string, min int, max int) error {
	if len(args)-1 < min || len(args)-1 > max {
		return fmt.Errorf("wrong number of arguments to %s", args[0])
	}
	return nil
}

func run(ctx context.Context, store *storage.Storage, args []string) error {
	switch args[0] {
	case "slots":
		infos, err := store.Saves.List()
		if err != nil {
			return err
		}
		t := table.New("Slot", "Frame", "Clock", "Running", "Saved At")
		for _, info := range infos {
			t.AddRow(info.Slot, info.Frame, info.Clock, info.Running, info.SavedAt.Format(time.RFC3339))
		}
		t.Print()
	case "export":
		if err := need(args, 1, 1); err != nil {
			return err
		}
		save, err := store.Saves.Get(args[1])
		if err != nil {
			return err
		}
		b, err := goccy.MarshalIndent(save, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	case "import":
		if err := need(args, 1, 2); err != nil {
			return err
		}
		b, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		save := &structs.Save{}
		if err := goccy.Unmarshal(b, save); err != nil {
			return err
		}
		if len(args) > 2 {
			save.Slot = args[2]
		}
		if save.State == nil {
			save.State = structs.NewGameState()
		}
		if err := store.Saves.Put(save); err != nil {
			return err
		}
		fmt.Printf("Imported %q\n", save.Slot)
	case "delete":
		if err := need(args, 1, 1); err != nil {
			return err
		}
		return store.Saves.Delete(args[1])
	case "plugins":
		entries, err := store.Catalog.List(ctx)
		if err != nil {
			return err
		}
		t := table.New("ID", "Name", "Version", "Enabled", "Loaded At", "Error")
		for _, e := range entries {
			t.AddRow(e.ID, e.Name, e.Version, e.Enabled, e.LoadedAt.Format(time.RFC3339), e.LastError)
		}
		t.Print()
	case "enable", "disable":
		if err := need(args, 1, 1); err != nil {
			return err
		}
		return store.Catalog.SetEnabled(ctx, args[1], args[0] == "enable")
	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %s", strings.Join(args, " "))
	}
	return nil
}
