package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/bladecode/blade/internal/logging"
	"github.com/bladecode/blade/pkg/types"
)

// Watcher reloads the configuration when the file changes on disk, so the
// permission rule list stays hot-reloadable.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching the user config file. onChange receives the freshly
// loaded config after every successful reload; load errors are logged and
// the previous config stays active.
func Watch(paths Paths, projectDir string, onChange func(*types.Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors replace files by rename, which drops a
	// watch on the file itself.
	if err := fsw.Add(filepath.Dir(paths.ConfigFile)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fsw, done: make(chan struct{})}

	go func() {
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Name != paths.ConfigFile {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				cfg, err := Load(paths, projectDir)
				if err != nil {
					logging.Logger.Warn().Err(err).Msg("config reload failed; keeping previous config")
					continue
				}
				onChange(cfg)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logging.Logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
