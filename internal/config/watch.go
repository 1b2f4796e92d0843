package config

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "peillute/pkg/logx"
)

// debounce window for editors that write config files in several steps
// (truncate, write, rename).
const reloadDelay = 250 * time.Millisecond

// Watcher re-parses the config file on change and hands validated
// configs to the OnChange callback. Invalid files are logged and
// skipped; the previous config stays in effect.
type Watcher struct {
	path     string
	log      logx.Logger
	onChange func(*Config)

	mu       sync.Mutex
	timer    *time.Timer
	lastHash uint64
}

func NewWatcher(path string, log logx.Logger, onChange func(*Config)) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{path: path, log: log, onChange: onChange}
}

// Prime records the hash of an already-applied config so the first file
// event does not republish identical content.
func (w *Watcher) Prime() {
	if b, err := os.ReadFile(w.path); err == nil {
		w.mu.Lock()
		w.lastHash = hashBytes(b)
		w.mu.Unlock()
	}
}

// Run blocks until ctx is cancelled. It watches the config file's
// directory (watching the file itself breaks across rename-style saves).
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.log.Debug("config watch started", logx.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				w.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDelay, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) reload() {
	b, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("config reload read failed", logx.String("path", w.path), logx.Err(err))
		return
	}
	h := hashBytes(b)
	w.mu.Lock()
	unchanged := h != 0 && h == w.lastHash
	w.mu.Unlock()
	if unchanged {
		w.log.Debug("config unchanged; skipping reload", logx.String("path", w.path))
		return
	}

	cfg, err := Parse(w.path)
	if err != nil {
		w.log.Warn("config rejected; keeping previous", logx.String("path", w.path), logx.Err(err))
		return
	}

	w.mu.Lock()
	w.lastHash = h
	w.mu.Unlock()

	w.log.Info("config reloaded", logx.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
