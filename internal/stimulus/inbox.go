package stimulus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// InboxWatcher ingests stimuli dropped as *.json files into a directory.
// Writers should create the file under another name and rename it into
// place so a half-written file is never picked up.
type InboxWatcher struct {
	dir   string
	queue Pusher
	log   *zap.Logger
	now   func() time.Time
}

// NewInboxWatcher creates the inbox directory if needed.
func NewInboxWatcher(dir string, q Pusher, log *zap.Logger) (*InboxWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxWatcher{dir: dir, queue: q, log: log.Named("inbox"), now: time.Now}, nil
}

// Dir returns the watched directory.
func (w *InboxWatcher) Dir() string { return w.dir }

// Run drains files already present, then watches for new ones until ctx ends.
func (w *InboxWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("inbox watching", zap.String("dir", w.dir))

	w.Scan()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if isInboxFile(ev.Name) {
				w.ingest(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// Scan ingests every pending file in name order and returns how many were queued.
func (w *InboxWatcher) Scan() int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("scan inbox", zap.Error(err))
		return 0
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isInboxFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	queued := 0
	for _, name := range names {
		if w.ingest(filepath.Join(w.dir, name)) {
			queued++
		}
	}
	return queued
}

func (w *InboxWatcher) ingest(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn("read inbox file", zap.String("path", path), zap.Error(err))
		}
		return false
	}

	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		w.reject(path, err)
		return false
	}
	rec, err := New(in, "inbox", w.now())
	if err != nil {
		w.reject(path, err)
		return false
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// leaving the file would re-ingest it on the next scan
		w.log.Warn("remove inbox file", zap.String("path", path), zap.Error(err))
		return false
	}
	queued := w.queue.Push(rec)
	if !queued {
		w.log.Debug("queue full, inbox stimulus dropped", zap.String("category", rec.Category))
	}
	return queued
}

func (w *InboxWatcher) reject(path string, cause error) {
	w.log.Warn("rejecting inbox file", zap.String("path", path), zap.Error(cause))
	if err := os.Rename(path, path+".rejected"); err != nil {
		w.log.Warn("rename rejected file", zap.String("path", path), zap.Error(err))
	}
}

func isInboxFile(name string) bool {
	return strings.HasSuffix(name, ".json")
}
