package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader reads a YAML rules file and watches it for changes.
type Loader struct {
	path     string
	log      *zap.Logger
	mu       sync.RWMutex
	current  *Set
	onChange []func(*Set)
}

// NewLoader loads, validates and compiles the file at path.
func NewLoader(path string, log *zap.Logger) (*Loader, error) {
	l := &Loader{path: path, log: log}
	s, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = s
	return l, nil
}

// Set returns the latest successfully loaded rule set.
func (l *Loader) Set() *Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(*Set)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch hot-reloads the file on writes. The parent directory is watched so
// that saves which replace the file (rename over it, remove then create) keep
// reloading. A file that fails to load keeps the previous set active. Call the
// returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	target := filepath.Clean(l.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", filepath.Dir(target), err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.log.Warn("rules reload skipped", zap.String("path", l.path), zap.Error(err))
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warn("rules watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the rules file.
func (l *Loader) Reload() (*Set, error) {
	s, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = s
	callbacks := make([]func(*Set), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	l.log.Info("rules loaded", zap.String("version", s.Version()), zap.Int("rules", s.Len()))
	for _, fn := range callbacks {
		fn(s)
	}
	return s, nil
}

func (l *Loader) load() (*Set, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", l.path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", l.path, err)
	}
	if err := Validate(&f); err != nil {
		return nil, err
	}
	return Build(&f)
}
