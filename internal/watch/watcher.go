// Package watch reports changes inside opened workspace directories.
package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"codepad/apps/editor/internal/events"
	"codepad/apps/editor/internal/logging"
	"codepad/apps/editor/internal/service/ports"
)

// Watcher publishes fs_change events for the direct children of every
// directory passed to Watch. Subdirectories are not followed. Directories are
// reference counted: each Watch needs a matching Unwatch.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	publisher ports.EventPublisher

	mu          sync.Mutex
	directories map[string]int
	stopChan    chan struct{}
	done        chan struct{}
	closed      bool
}

func New(publisher ports.EventPublisher) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fsWatcher:   fsWatcher,
		publisher:   publisher,
		directories: map[string]int{},
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) Watch(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("error accessing directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("watcher closed")
	}
	if n, ok := w.directories[abs]; ok {
		w.directories[abs] = n + 1
		return nil
	}
	if err := w.fsWatcher.Add(abs); err != nil {
		return fmt.Errorf("failed to add directory %s to watcher: %w", abs, err)
	}
	w.directories[abs] = 1
	logging.Info("watching directory", zap.String("directory", abs))
	return nil
}

// Unwatch drops one reference to dir and stops watching it at zero.
// Unknown directories are ignored.
func (w *Watcher) Unwatch(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.directories[abs]
	if !ok || w.closed {
		return nil
	}
	if n > 1 {
		w.directories[abs] = n - 1
		return nil
	}
	delete(w.directories, abs)
	logging.Info("stopped watching directory", zap.String("directory", abs))
	// A removed directory has already dropped out of fsnotify.
	if err := w.fsWatcher.Remove(abs); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("failed to remove directory %s from watcher: %w", abs, err)
	}
	return nil
}

// Directories returns the watched directories, sorted.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.directories))
	for dir := range w.directories {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			op := opName(event.Op)
			if op == "" {
				continue
			}
			w.publisher.Publish(events.Event{
				Type: events.TypeFSChange,
				Path: event.Name,
				Op:   op,
			})
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Error("fsnotify watcher error", zap.Error(err))
		case <-w.stopChan:
			return
		}
	}
}

// opName picks the most significant bit; chmod-only events are dropped.
func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Write):
		return "write"
	default:
		return ""
	}
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopChan)
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	<-w.done
	return err
}
