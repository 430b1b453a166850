package tasks

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/endorhq/rover/internal/logging"
)

// Watcher observes the tasks directory and coalesces filesystem
// activity into wake signals so the workflow monitor can react to
// sandbox result writes ahead of its next tick.
type Watcher struct {
	fw     *fsnotify.Watcher
	wake   chan struct{}
	done   chan struct{}
	logger *logging.Logger
}

// NewWatcher starts watching dir and its task subdirectories. New
// directories are added to the watch as they appear, so iteration
// result writes are seen too.
func NewWatcher(dir string, logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fw:     fw,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		fw.Close()
		return nil, err
	}
	if err := w.addTree(dir); err != nil {
		fw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Wake returns the channel that receives a signal after filesystem
// activity. The channel has capacity one; signals coalesce.
func (w *Watcher) Wake() <-chan struct{} {
	return w.wake
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fw.Add(event.Name); err != nil {
						w.logger.Warn("watcher: adding directory", "path", event.Name, "error", err)
					}
				}
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher: error", "error", err)
		}
	}
}

// addTree adds dir and every directory below it to the watch.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fw.Add(path)
		}
		return nil
	})
}
