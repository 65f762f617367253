package templates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DirLoader loads templates from a directory of YAML files. Parsed
// templates are cached; when watching is enabled, file changes
// invalidate the cached entry.
type DirLoader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Template

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDirLoader creates a loader over dir. When watch is true the
// directory is monitored and edits invalidate cached templates.
func NewDirLoader(dir string, watch bool) (*DirLoader, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("template directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template path %s is not a directory", dir)
	}

	l := &DirLoader{
		dir:   dir,
		cache: make(map[string]*Template),
	}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("creating template watcher: %w", err)
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching template directory: %w", err)
		}
		l.watcher = watcher
		l.done = make(chan struct{})
		l.wg.Add(1)
		go l.eventLoop()
	}

	return l, nil
}

// Close stops the directory watcher, if any.
func (l *DirLoader) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.watcher.Close()
}

// List returns every parseable template in the directory. Files that
// fail to parse are logged and skipped rather than failing the listing.
func (l *DirLoader) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !isTemplateFile(entry.Name()) {
			continue
		}

		tpl, err := l.loadFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unparseable template")
			continue
		}
		infos = append(infos, Info{ID: tpl.ID, Name: tpl.Name})
	}

	sortInfos(infos)
	return infos, nil
}

// Load returns the template with the given id.
func (l *DirLoader) Load(ctx context.Context, id string) (*Template, error) {
	l.mu.RLock()
	tpl, ok := l.cache[id]
	l.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, id+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return l.loadFile(path)
	}

	// The id may come from an `id:` field that differs from the file name.
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isTemplateFile(entry.Name()) {
			continue
		}
		tpl, err := l.loadFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			continue
		}
		if tpl.ID == id {
			return tpl, nil
		}
	}

	return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
}

func (l *DirLoader) loadFile(path string) (*Template, error) {
	tpl, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[tpl.ID] = tpl
	l.mu.Unlock()

	return tpl, nil
}

func (l *DirLoader) eventLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.done:
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !isTemplateFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				l.invalidate(event.Name)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Template watcher error")
		}
	}
}

// invalidate drops the whole cache. A template's id may differ from its
// file name, so per-file eviction cannot be done reliably; templates are
// small and reparse cheaply.
func (l *DirLoader) invalidate(path string) {
	l.mu.Lock()
	l.cache = make(map[string]*Template)
	l.mu.Unlock()

	log.Debug().Str("file", filepath.Base(path)).Msg("Template cache invalidated")
}
