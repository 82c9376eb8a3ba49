package config

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

const defaultDebounce = 100 * time.Millisecond

// Reload describes one accepted change of the configuration file.
type Reload struct {
	Previous *Config
	Current  *Config

	// Pending names the changed sections a running gateway does not pick
	// up. They apply on the next restart.
	Pending []string
}

// ReloadFunc receives each validated reload.
type ReloadFunc func(Reload)

// Watcher follows the configuration file and hands validated reloads to a
// ReloadFunc. Invalid files are logged and the previous configuration is
// kept.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	onReload ReloadFunc
	onError  func(error)
	logger   observability.Logger
	debounce time.Duration

	mu      sync.Mutex
	current *Config
	cancel  context.CancelFunc
	done    chan struct{}
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long the file must stay quiet before it is
// read. Editors often write a file in several steps.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = delay
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback is told about rejected reloads and watch errors.
func WithErrorCallback(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher creates a watcher for path. Nothing is read until Start.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     absPath,
		fs:       fsw,
		onReload: onReload,
		logger:   observability.NopLogger(),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start reads the file as the baseline and watches its directory, since
// editors that replace files atomically only emit events there.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return nil
	}

	cfg, err := loadValid(w.path)
	if err != nil {
		return err
	}
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.current = cfg
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("watching configuration file", observability.String("path", w.path))

	go w.run(ctx, w.done)
	return nil
}

// Stop ends the watch and releases the file handles. It is safe to call
// without a prior Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return w.fs.Close()
}

// LastConfig returns the last accepted configuration.
func (w *Watcher) LastConfig() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("configuration watch ended")
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == w.path && event.Has(fsnotify.Write|fsnotify.Create) {
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.fail("configuration watch error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := loadValid(w.path)
	if err != nil {
		w.fail("configuration reload rejected", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg
	w.mu.Unlock()

	r := Reload{Previous: prev, Current: cfg, Pending: PendingSections(prev, cfg)}
	if len(r.Pending) > 0 {
		w.logger.Warn("configuration changes require a restart",
			observability.Strings("sections", r.Pending),
		)
	}
	w.logger.Info("configuration reloaded", observability.String("path", w.path))

	if w.onReload != nil {
		w.onReload(r)
	}
}

func (w *Watcher) fail(msg string, err error) {
	w.logger.Error(msg, observability.String("path", w.path), observability.Error(err))
	if w.onError != nil {
		w.onError(err)
	}
}

func loadValid(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PendingSections lists the top-level sections, by YAML key, that differ
// between prev and next and are read only at startup. Logging is applied
// live and never listed.
func PendingSections(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}

	pv := reflect.ValueOf(prev).Elem()
	nv := reflect.ValueOf(next).Elem()
	t := pv.Type()

	var pending []string
	for i := range t.NumField() {
		name := yamlKey(t.Field(i))
		if name == "logging" {
			continue
		}
		if !reflect.DeepEqual(pv.Field(i).Interface(), nv.Field(i).Interface()) {
			pending = append(pending, name)
		}
	}
	return pending
}

func yamlKey(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if tag == "" {
		return f.Name
	}
	return tag
}

