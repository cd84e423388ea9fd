package keyman

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fileWatcher reports writes to a single file. It watches the parent
// directory so files replaced by rename are still picked up.
type fileWatcher struct {
	fs   *fsnotify.Watcher
	path string
	dir  string
}

func newFileWatcher() (*fileWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &fileWatcher{fs: fs}, nil
}

// watch retargets the watcher to path. An empty path stops watching.
func (f *fileWatcher) watch(path string) error {
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		path = abs
	}

	if path == f.path {
		return nil
	}

	dir := ""
	if path != "" {
		dir = filepath.Dir(path)
	}

	if dir != f.dir {
		if f.dir != "" {
			_ = f.fs.Remove(f.dir)
		}
		if dir != "" {
			if err := f.fs.Add(dir); err != nil {
				f.path, f.dir = "", ""
				return fmt.Errorf("watch %s: %w", dir, err)
			}
		}
	}

	f.path, f.dir = path, dir
	return nil
}

// matches reports whether ev rewrote the watched file.
func (f *fileWatcher) matches(ev fsnotify.Event) bool {
	if f.path == "" || filepath.Clean(ev.Name) != f.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

func (f *fileWatcher) events() <-chan fsnotify.Event {
	if f == nil {
		return nil
	}
	return f.fs.Events
}

func (f *fileWatcher) errors() <-chan error {
	if f == nil {
		return nil
	}
	return f.fs.Errors
}

func (f *fileWatcher) Close() error {
	return f.fs.Close()
}
