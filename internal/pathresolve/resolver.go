// Package pathresolve locates source files by bare name in an ordered list
// of search directories.
package pathresolve

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ResolveIn returns the first dir/fileName, in directory order, that exists
// as a regular file. Stat errors other than non-existence skip the
// directory.
func ResolveIn(fsys FS, fileName string, searchDirs []string) (string, bool) {
	if fileName == "" {
		return "", false
	}
	for _, dir := range searchDirs {
		candidate := filepath.Join(dir, fileName)
		ok, err := fsys.FileExists(candidate)
		if err != nil || !ok {
			continue
		}
		return candidate, true
	}
	return "", false
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache enables memoization of successful resolutions. The cache is
// dropped whenever the search directories change.
func WithCache(enabled bool) Option {
	return func(r *Resolver) { r.cacheEnabled = enabled }
}

// WithLogger sets the logger used by the resolver.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// Resolver resolves file names against a configured directory list. It is
// safe for concurrent use.
type Resolver struct {
	fsys         FS
	logger       *zap.Logger
	cacheEnabled bool

	mu      sync.RWMutex
	dirs    []string
	cache   map[string]string
	watcher *fsnotify.Watcher
	watched map[string]bool
}

// New creates a resolver over dirs. A nil fsys panics.
func New(fsys FS, dirs []string, opts ...Option) *Resolver {
	if fsys == nil {
		panic("pathresolve: nil FS")
	}
	r := &Resolver{
		fsys:   fsys,
		logger: zap.NewNop(),
		dirs:   slices.Clone(dirs),
		cache:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks fileName up in the current search directories.
func (r *Resolver) Resolve(fileName string) (string, bool) {
	r.mu.RLock()
	if r.cacheEnabled {
		if path, ok := r.cache[fileName]; ok {
			r.mu.RUnlock()
			return path, true
		}
	}
	dirs := r.dirs
	r.mu.RUnlock()

	path, ok := ResolveIn(r.fsys, fileName, dirs)
	if !ok {
		r.logger.Debug("file not found in source dirs",
			zap.String("file", fileName),
			zap.Strings("dirs", dirs))
		return "", false
	}

	if r.cacheEnabled {
		r.mu.Lock()
		// Only keep the answer if the directory list did not change meanwhile.
		if slices.Equal(r.dirs, dirs) {
			r.cache[fileName] = path
		}
		r.mu.Unlock()
	}
	return path, true
}

// SearchDirs returns a copy of the current search directories.
func (r *Resolver) SearchDirs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.dirs)
}

// SetSearchDirs replaces the search directories and drops the cache.
func (r *Resolver) SetSearchDirs(dirs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = slices.Clone(dirs)
	r.cache = make(map[string]string)
	if r.watcher != nil {
		r.syncWatchLocked()
	}
}

// Invalidate drops every memoized resolution.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) > 0 {
		r.cache = make(map[string]string)
	}
}

// Watch invalidates the cache whenever a file is created, removed or renamed
// in one of the search directories. It blocks until ctx is done.
func (r *Resolver) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.watcher = w
	r.watched = make(map[string]bool)
	r.syncWatchLocked()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.watcher = nil
		r.watched = nil
		r.mu.Unlock()
		_ = w.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				r.logger.Debug("source dir changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
				r.Invalidate()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("source dir watcher error", zap.Error(werr))
		}
	}
}

// syncWatchLocked makes the watched set match the existing search
// directories. r.mu must be held for writing.
func (r *Resolver) syncWatchLocked() {
	want := make(map[string]bool, len(r.dirs))
	for _, dir := range r.dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if ok, _ := r.fsys.DirExists(abs); ok {
			want[abs] = true
		}
	}

	for dir := range r.watched {
		if !want[dir] {
			_ = r.watcher.Remove(dir)
			delete(r.watched, dir)
		}
	}
	for dir := range want {
		if r.watched[dir] {
			continue
		}
		if err := r.watcher.Add(dir); err != nil {
			r.logger.Warn("cannot watch source dir", zap.String("dir", dir), zap.Error(err))
			continue
		}
		r.watched[dir] = true
	}
}

// Watching reports whether Watch is running.
func (r *Resolver) Watching() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.watcher != nil
}
