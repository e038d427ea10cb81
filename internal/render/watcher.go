package render

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// WatchEvent reports a debounced change to the watched template.
type WatchEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher watches a template file and emits debounced change events.
// The parent directory is watched so editors that replace the file
// (write-to-temp then rename) are still observed.
type Watcher struct {
	logger         *log.Logger
	target         string
	debounceWindow time.Duration

	fsw    *fsnotify.Watcher
	events chan WatchEvent
	errors chan error

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	timer   *time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher starts watching templatePath.
func NewWatcher(templatePath string, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	abs, err := filepath.Abs(templatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", templatePath, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		logger:         logger,
		target:         abs,
		debounceWindow: defaultDebounce,
		fsw:            fsw,
		events:         make(chan WatchEvent, 16),
		errors:         make(chan error, 1),
		pending:        make(map[string]fsnotify.Op),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Events returns debounced change events.
func (w *Watcher) Events() <-chan WatchEvent { return w.events }

// Errors returns watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.fsw.Close()
		<-w.doneCh
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.target {
				continue
			}
			w.record(ev.Name, ev.Op)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("template watcher error", "error", err)
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) record(path string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] |= op
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounceWindow, w.flush)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.timer = nil
	w.mu.Unlock()

	for path, op := range pending {
		select {
		case w.events <- WatchEvent{Path: path, Op: op}:
		case <-w.stopCh:
			return
		}
	}
}
