package structs

import (
	"fmt"
	"time"

	"github.com/zond/juicerpg"

	goccy "github.com/goccy/go-json"
)

// CommandDetails documents a command a plugin registers.
type CommandDetails struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Parameters  []string `json:"parameters,omitempty"`
}

// Manifest is the details.json of a plugin.
type Manifest struct {
	ID          int                     `json:"id"`
	Name        string                  `json:"name"`
	Author      string                  `json:"author,omitempty"`
	Version     string                  `json:"version,omitempty"`
	Description string                  `json:"description,omitempty"`
	Parameters  map[string]DynamicValue `json:"parameters,omitempty"`
	Commands    []CommandDetails        `json:"commands,omitempty"`
}

func ParseManifest(b []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := goccy.Unmarshal(b, m); err != nil {
		return nil, juicerpg.WithStack(err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) Validate() error {
	if m.Name == "" {
		return juicerpg.WithStack(fmt.Errorf("plugin manifest without name"))
	}
	if m.ID <= 0 {
		return juicerpg.WithStack(fmt.Errorf("plugin %q: id %d is not positive", m.Name, m.ID))
	}
	seen := map[string]bool{}
	for _, cmd := range m.Commands {
		if cmd.Name == "" {
			return juicerpg.WithStack(fmt.Errorf("plugin %q: command without name", m.Name))
		}
		if seen[cmd.Name] {
			return juicerpg.WithStack(fmt.Errorf("plugin %q: command %q declared twice", m.Name, cmd.Name))
		}
		seen[cmd.Name] = true
	}
	return nil
}

// CatalogEntry is the catalogue's record of a plugin seen at load time.
type CatalogEntry struct {
	Name      string    `db:"Name" json:"name"`
	ID        int       `db:"ID" json:"id"`
	Version   string    `db:"Version" json:"version"`
	Enabled   bool      `db:"Enabled" json:"enabled"`
	LastError string    `db:"LastError" json:"lastError,omitempty"`
	LoadedAt  time.Time `db:"LoadedAt" json:"loadedAt"`
}

// Save is a snapshot of a session stored in a save slot.
type Save struct {
	Slot    string            `json:"slot"`
	Frame   uint64            `json:"frame"`
	Clock   time.Duration     `json:"clock"`
	State   *GameState        `json:"state"`
	Running []RunningReaction `json:"running,omitempty"`
	// Scheduled are reactions waiting for a later frame to start.
	Scheduled []ScheduledReaction `json:"scheduled,omitempty"`
	// PluginStates holds the JSON state of each plugin's code by plugin name.
	PluginStates map[string]string `json:"pluginStates,omitempty"`
	SavedAt      time.Time         `json:"savedAt"`
}

// Project is the game.json of a project: the initial game state.
type Project struct {
	Title string `json:"title"`
	// Start is started on object Player when the session starts, if set.
	Start  string     `json:"start,omitempty"`
	Player int        `json:"player,omitempty"`
	State  *GameState `json:"state"`
}

func ParseProject(b []byte) (*Project, error) {
	p := &Project{}
	if err := goccy.Unmarshal(b, p); err != nil {
		return nil, juicerpg.WithStack(err)
	}
	if p.State == nil {
		p.State = NewGameState()
	}
	return p, nil
}
