// Package imports concatenates plugin code with the files it imports
// through `// @import path` lines.
package imports

import (
	"io/fs"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
)

// importPattern only matches @import at the very start of a line comment.
var importPattern = regexp.MustCompile(`(?m)^// @import\s+(\S+)\s*$`)

var (
	ErrOutsideRoot = errors.New("import outside plugin root")
	ErrCycle       = errors.New("circular import")
)

type Result struct {
	Source string
	// Deps lists every file in the import tree, the entry file first.
	Deps     []string
	Modified time.Time
}

// Resolver resolves imports in files of an fs.FS, normally the plugins
// directory of a project, and caches results until a dependency changes.
type Resolver struct {
	fsys  fs.FS
	mu    sync.RWMutex
	cache map[string]*Result
}

func NewResolver(fsys fs.FS) *Resolver {
	return &Resolver{
		fsys:  fsys,
		cache: map[string]*Result{},
	}
}

func (r *Resolver) modified(p string) (time.Time, error) {
	info, err := fs.Stat(r.fsys, p)
	if err != nil {
		return time.Time{}, juicerpg.WithStack(err)
	}
	return info.ModTime(), nil
}

func (r *Resolver) fresh(res *Result) bool {
	for _, dep := range res.Deps {
		mtime, err := r.modified(dep)
		if err != nil || mtime.After(res.Modified) {
			return false
		}
	}
	return true
}

// Resolve returns the source of entry with all imports prepended in
// dependency order. Each file is included once.
func (r *Resolver) Resolve(entry string) (*Result, error) {
	entry = path.Clean(strings.TrimPrefix(entry, "/"))
	r.mu.RLock()
	cached, found := r.cache[entry]
	r.mu.RUnlock()
	if found && r.fresh(cached) {
		return cached, nil
	}

	rctx := &resolveContext{
		inProgress: map[string]bool{},
		included:   map[string]bool{},
		result:     &Result{},
	}
	buf := &strings.Builder{}
	if err := r.resolve(entry, rctx, buf); err != nil {
		return nil, err
	}
	rctx.result.Source = buf.String()

	r.mu.Lock()
	r.cache[entry] = rctx.result
	r.mu.Unlock()
	return rctx.result, nil
}

// Invalidate drops all cached results.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = map[string]*Result{}
}

type resolveContext struct {
	inProgress map[string]bool
	included   map[string]bool
	result     *Result
}

func (r *Resolver) resolve(p string, rctx *resolveContext, buf *strings.Builder) error {
	if rctx.inProgress[p] {
		return juicerpg.WithStack(errors.Wrapf(ErrCycle, "%s", p))
	}
	if rctx.included[p] {
		return nil
	}
	rctx.inProgress[p] = true
	defer delete(rctx.inProgress, p)

	source, err := fs.ReadFile(r.fsys, p)
	if err != nil {
		return juicerpg.WithStack(errors.Wrapf(err, "loading %s", p))
	}
	mtime, err := r.modified(p)
	if err != nil {
		return err
	}
	if mtime.After(rctx.result.Modified) {
		rctx.result.Modified = mtime
	}
	rctx.result.Deps = append(rctx.result.Deps, p)

	for _, imp := range ParseImports(string(source)) {
		dep, err := ResolvePath(p, imp)
		if err != nil {
			return err
		}
		if err := r.resolve(dep, rctx, buf); err != nil {
			return errors.Wrapf(err, "in %s", p)
		}
	}
	buf.WriteString(RemoveImports(string(source)))
	rctx.included[p] = true
	return nil
}

// ParseImports returns the import paths of source in order.
func ParseImports(source string) []string {
	matches := importPattern.FindAllStringSubmatch(source, -1)
	result := make([]string, 0, len(matches))
	for _, match := range matches {
		result = append(result, match[1])
	}
	return result
}

func RemoveImports(source string) string {
	return importPattern.ReplaceAllString(source, "")
}

// ResolvePath resolves importPath from the file fromPath. Paths starting
// with / are relative to the root, others to the directory of fromPath.
func ResolvePath(fromPath string, importPath string) (string, error) {
	var joined string
	if strings.HasPrefix(importPath, "/") {
		joined = path.Clean(strings.TrimPrefix(importPath, "/"))
	} else {
		joined = path.Join(path.Dir(fromPath), importPath)
	}
	if !fs.ValidPath(joined) || joined == "." {
		return "", juicerpg.WithStack(errors.Wrapf(ErrOutsideRoot, "%q from %q", importPath, fromPath))
	}
	return joined, nil
}
