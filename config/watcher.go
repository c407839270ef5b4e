// 配置文件变更监听器实现。
//
// 基于 fsnotify 监听文件所在目录，按路径防抖后触发重载回调。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher watches configuration files for changes.
//
// Parent directories are watched rather than the files themselves so that
// editors replacing a file via rename are still observed.
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         map[string]struct{}
	debounceDelay time.Duration

	// 状态
	running bool
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// 回调
	callbacks []func(event FileEvent)

	logger *zap.Logger
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
	Error     error     `json:"error,omitempty"`
}

// FileOp represents file operation types
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
	FileOpRename
	FileOpChmod
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	case FileOpRename:
		return "RENAME"
	case FileOpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

func fileOpFrom(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpChmod
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher. Paths are resolved to absolute
// paths; missing files are watched for creation.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		paths:         make(map[string]struct{}, len(paths)),
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
			}
			w.logger.Warn("watched file does not exist, will watch for creation", zap.String("path", abs))
		}
		w.paths[abs] = struct{}{}
	}
	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching. It returns once the directories are registered.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dirs := make(map[string]struct{})
	for p := range w.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for d := range dirs {
		if err := fw.Add(d); err != nil {
			fw.Close()
			return fmt.Errorf("watch directory %s: %w", d, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop(ctx, fw)

	w.logger.Info("file watcher started",
		zap.Int("paths", len(w.paths)),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	fw := w.watcher
	w.mu.Unlock()

	w.wg.Wait()
	err := fw.Close()
	w.logger.Info("file watcher stopped")
	return err
}

func (w *FileWatcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()

	pending := make(map[string]FileEvent)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			abs, _ := filepath.Abs(ev.Name)
			if !w.watches(abs) {
				continue
			}
			pending[abs] = FileEvent{Path: abs, Op: fileOpFrom(ev.Op), Timestamp: time.Now()}
			timer.Reset(w.debounceDelay)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		case <-timer.C:
			w.dispatch(pending)
			pending = make(map[string]FileEvent)
		}
	}
}

func (w *FileWatcher) dispatch(events map[string]FileEvent) {
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, evt := range events {
		w.logger.Debug("dispatching file event",
			zap.String("path", evt.Path),
			zap.String("op", evt.Op.String()))
		for _, cb := range callbacks {
			cb(evt)
		}
	}
}

func (w *FileWatcher) watches(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.paths[path]
	return ok
}

// Paths returns the watched paths.
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	return out
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
