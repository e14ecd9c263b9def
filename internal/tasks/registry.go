package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpworld/harness/internal/observability"
)

// Registry loads the task suite from a directory and serves lookups.
// StartWatching keeps it current as task files change.
type Registry struct {
	dir    string
	logger *observability.Logger

	mu    sync.RWMutex
	tasks map[string]*Task

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewRegistry creates a registry over dir and performs the initial load.
func NewRegistry(dir string, logger *observability.Logger) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("tasks directory is required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}

	r := &Registry{
		dir:    dir,
		logger: logger,
		tasks:  make(map[string]*Task),
	}
	if err := r.Reload(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rescans the task directory. Individual malformed task files
// are logged and skipped so one bad file does not take down the suite.
func (r *Registry) Reload(ctx context.Context) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read tasks dir: %w", err)
	}

	loaded := make(map[string]*Task)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		category := entry.Name()
		files, err := os.ReadDir(filepath.Join(r.dir, category))
		if err != nil {
			r.logger.Warn(ctx, "failed to read task category", "category", category, "error", err)
			continue
		}
		for _, file := range files {
			name := file.Name()
			if file.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
				continue
			}
			id := category + "/" + strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
			path := filepath.Join(r.dir, category, name)
			task, err := LoadTask(path, id)
			if err != nil {
				r.logger.Warn(ctx, "skipping invalid task", "task_id", id, "error", err)
				continue
			}
			loaded[id] = task
		}
	}

	r.mu.Lock()
	r.tasks = loaded
	r.mu.Unlock()

	r.logger.Info(ctx, "task suite loaded", "dir", r.dir, "count", len(loaded))
	return nil
}

// Get returns a task by "category/id".
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	return task, ok
}

// List returns all tasks sorted by ID.
func (r *Registry) List() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		result = append(result, task)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Categories returns the distinct task categories, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, task := range r.tasks {
		seen[task.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// StartWatching reloads the suite when task files change. Events are
// debounced so an editor save burst triggers one reload.
func (r *Registry) StartWatching(ctx context.Context) error {
	r.mu.Lock()
	if r.watcher != nil {
		r.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	r.mu.Unlock()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}
	entries, err := os.ReadDir(r.dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := watcher.Add(filepath.Join(r.dir, entry.Name())); err != nil {
					r.logger.Debug(ctx, "failed to watch category dir", "dir", entry.Name(), "error", err)
				}
			}
		}
	}

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, 250*time.Millisecond)
	return nil
}

// Close stops the watcher.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, debounce time.Duration) {
	defer r.watchWg.Done()

	r.mu.RLock()
	watcher := r.watcher
	r.mu.RUnlock()
	if watcher == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Reload(context.Background()); err != nil {
				r.logger.Warn(context.Background(), "task reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn(ctx, "task watch error", "error", err)
		}
	}
}
