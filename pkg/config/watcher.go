package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/versionmanager/pkg/observability"
)

// ReloadFunc receives each successfully validated reload
type ReloadFunc func(ctx context.Context, cfg *Config)

// Watcher reloads the YAML config file when it changes. The parent directory
// is watched so editors that replace the file by rename are seen.
type Watcher struct {
	path     string
	onReload ReloadFunc
	log      *observability.Logger
	debounce time.Duration

	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

// NewWatcher starts watching path
func NewWatcher(path string, onReload ReloadFunc, log *observability.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	if log == nil {
		log = observability.NewNopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		onReload: onReload,
		log:      log.WithField("config_file", abs),
		debounce: 200 * time.Millisecond,
		fsw:      fsw,
		done:     make(chan struct{}),
	}, nil
}

// Run processes file events until ctx is done or Close is called
func (w *Watcher) Run(ctx context.Context) {
	defer observability.RecoverPanic(w.log, "config watcher")

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// editors emit several events per save
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Error("config reload rejected")
		return
	}
	w.log.Info("config reloaded")
	if w.onReload != nil {
		w.onReload(ctx, cfg)
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
