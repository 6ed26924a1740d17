package storage

import (
	"context"
	"path/filepath"

	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/storage/dbm"
	"github.com/zond/juicerpg/structs"
)

// opener opens the databases of a state directory, keeping the first error.
type opener struct {
	Dir string
	Err error
}

func (o *opener) OpenSaves() *Saves {
	if o.Err != nil {
		return nil
	}
	hash, err := dbm.OpenTypeHash[structs.Save](filepath.Join(o.Dir, "saves"))
	if err != nil {
		o.Err = juicerpg.WithStack(err)
		return nil
	}
	return &Saves{hash: hash}
}

func (o *opener) OpenCatalog(ctx context.Context) *Catalog {
	if o.Err != nil {
		return nil
	}
	c, err := OpenCatalog(ctx, filepath.Join(o.Dir, "plugins.sqlite"))
	if err != nil {
		o.Err = juicerpg.WithStack(err)
		return nil
	}
	return c
}
