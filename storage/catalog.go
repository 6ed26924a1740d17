package storage

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/structs"

	_ "modernc.org/sqlite"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS Plugin (
  Name TEXT PRIMARY KEY,
  ID INTEGER NOT NULL,
  Version TEXT NOT NULL DEFAULT '',
  Enabled INTEGER NOT NULL DEFAULT 1,
  LastError TEXT NOT NULL DEFAULT '',
  LoadedAt TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS PluginID ON Plugin (ID);
`

// Catalog is the sqlite record of every plugin a project has loaded.
type Catalog struct {
	db *sqlx.DB
}

func OpenCatalog(ctx context.Context, path string) (*Catalog, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		db.Close()
		return nil, juicerpg.WithStack(err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return juicerpg.WithStack(c.db.Close())
}

// Get returns the entry for name, or os.ErrNotExist.
func (c *Catalog) Get(ctx context.Context, name string) (*structs.CatalogEntry, error) {
	entry := &structs.CatalogEntry{}
	if err := c.db.GetContext(ctx, entry, "SELECT * FROM Plugin WHERE Name = ?", name); errors.Is(err, sql.ErrNoRows) {
		return nil, juicerpg.WithStack(errors.Wrapf(os.ErrNotExist, "plugin %q", name))
	} else if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	return entry, nil
}

// Enabled returns whether name is enabled. Plugins never seen before are.
func (c *Catalog) Enabled(ctx context.Context, name string) (bool, error) {
	enabled := true
	if err := c.db.GetContext(ctx, &enabled, "SELECT Enabled FROM Plugin WHERE Name = ?", name); errors.Is(err, sql.ErrNoRows) {
		return true, nil
	} else if err != nil {
		return false, juicerpg.WithStack(err)
	}
	return enabled, nil
}

// Record upserts the load result of a plugin. The enabled flag of an
// existing entry is kept.
func (c *Catalog) Record(ctx context.Context, entry structs.CatalogEntry) error {
	if entry.LoadedAt.IsZero() {
		entry.LoadedAt = time.Now()
	}
	_, err := c.db.NamedExecContext(ctx, `
INSERT INTO Plugin (Name, ID, Version, Enabled, LastError, LoadedAt)
VALUES (:Name, :ID, :Version, :Enabled, :LastError, :LoadedAt)
ON CONFLICT (Name) DO UPDATE SET
  ID = excluded.ID,
  Version = excluded.Version,
  LastError = excluded.LastError,
  LoadedAt = excluded.LoadedAt`, entry)
	return juicerpg.WithStack(err)
}

// SetEnabled enables or disables an already recorded plugin.
func (c *Catalog) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := c.db.ExecContext(ctx, "UPDATE Plugin SET Enabled = ? WHERE Name = ?", enabled, name)
	if err != nil {
		return juicerpg.WithStack(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return juicerpg.WithStack(err)
	} else if n == 0 {
		return juicerpg.WithStack(errors.Wrapf(os.ErrNotExist, "plugin %q", name))
	}
	return nil
}

// List returns all entries ordered by plugin id.
func (c *Catalog) List(ctx context.Context) ([]structs.CatalogEntry, error) {
	result := []structs.CatalogEntry{}
	if err := c.db.SelectContext(ctx, &result, "SELECT * FROM Plugin ORDER BY ID, Name"); err != nil {
		return nil, juicerpg.WithStack(err)
	}
	return result, nil
}
