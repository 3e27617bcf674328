package welcome

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/friendflow/internal/logging"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads a steps file when it changes and hands the new list to a
// callback. The parent directory is watched because editors usually
// replace files rather than write them in place.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func([]Step)
	logger   *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher starts watching path. onReload runs on the watcher goroutine
// after each successful reload; parse failures are logged and the previous
// list stays in effect.
func NewWatcher(path string, onReload func([]Step), logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		watcher:  fw,
		onReload: onReload,
		logger:   logger.WithComponent("welcome"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	pending := false

	for {
		select {
		case <-w.stopCh:
			debounce.Stop()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("steps file watch error", "error", err.Error())
		}
	}
}

func (w *Watcher) reload() {
	steps, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("steps file reload failed, keeping previous steps", "path", w.path, "error", err.Error())
		return
	}
	w.logger.Info("welcome steps reloaded", "path", w.path, "count", len(steps))
	if w.onReload != nil {
		w.onReload(steps)
	}
}
