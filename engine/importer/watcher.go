package importer

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/oxygen/engine/core"
)

/**
 * @brief Watches source directories and resubmits imports when files
 * change. Rapid write bursts collapse into one submission per path via
 * a debounce window.
 */
type SourceWatcher struct {
	service    *Service
	cookedRoot string
	debounce   time.Duration
	onComplete CompletionFunc

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup

	mutex    sync.Mutex
	pending  map[string]*time.Timer
	isClosed bool
}

func NewSourceWatcher(service *Service, cookedRoot string, onComplete CompletionFunc) (*SourceWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &SourceWatcher{
		service:    service,
		cookedRoot: cookedRoot,
		debounce:   service.opts.WatchDebounce(),
		onComplete: onComplete,
		fsnotify:   fsWatch,
		done:       make(chan struct{}),
		pending:    make(map[string]*time.Timer),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// WatchRoot starts watching the named directory and all sub-directories.
func (w *SourceWatcher) WatchRoot(root string) error {
	w.mutex.Lock()
	closed := w.isClosed
	w.mutex.Unlock()
	if closed {
		return errors.New("source watcher already closed")
	}
	return w.watchRecursive(root)
}

func (w *SourceWatcher) watchRecursive(root string) error {
	return filepath.Walk(root, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.fsnotify.Add(walkPath)
		}
		return nil
	})
}

func (w *SourceWatcher) run() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.fsnotify.Events:
			if e.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(e.Name); err == nil && fi.IsDir() {
					w.watchRecursive(e.Name)
					continue
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handleFileEvent(e.Name)
			}

		case err := <-w.fsnotify.Errors:
			if err != nil {
				core.LogError("importer watcher: %s", err.Error())
			}

		case <-w.done:
			w.fsnotify.Close()
			return
		}
	}
}

// handleFileEvent arms (or re-arms) the debounce timer for a path with
// an importable extension.
func (w *SourceWatcher) handleFileEvent(path string) {
	if _, ok := FactoryForSource(path); !ok {
		return
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() { w.fire(path) })
}

func (w *SourceWatcher) fire(path string) {
	w.mutex.Lock()
	delete(w.pending, path)
	closed := w.isClosed
	w.mutex.Unlock()
	if closed {
		return
	}
	req := ImportRequest{
		SourcePath:     path,
		CookedRoot:     w.cookedRoot,
		ContentHashing: w.service.opts.ContentHashing,
	}
	if _, ok := w.service.SubmitImport(req, w.onComplete, nil); !ok {
		core.LogWarn("importer watcher: dropped change for %s", path)
	}
}

// Close stops watching and cancels pending debounce timers. Submissions
// already handed to the service are unaffected.
func (w *SourceWatcher) Close() {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return
	}
	w.isClosed = true
	timers := make([]*time.Timer, 0, len(w.pending))
	for _, timer := range w.pending {
		timers = append(timers, timer)
	}
	w.pending = map[string]*time.Timer{}
	w.mutex.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}
	close(w.done)
	w.wg.Wait()
}
