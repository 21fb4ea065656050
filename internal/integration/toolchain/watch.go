package toolchain

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// DefaultWatchDelay is the quiet period before a changed source is
// rebuilt.
const DefaultWatchDelay = 200 * time.Millisecond

// Watcher reports source files that changed on disk, after a quiet
// period, so editors that write a file in several steps trigger one
// rebuild.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func(path string)
	logger   *zap.Logger

	mu      sync.Mutex
	files   map[string]struct{}
	dirs    map[string]struct{}
	pending map[string]struct{}

	debounce  *debouncer
	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*watcherConfig)

type watcherConfig struct {
	delay  time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

// WithWatchDelay sets the quiet period.
func WithWatchDelay(d time.Duration) WatcherOption {
	return func(c *watcherConfig) { c.delay = d }
}

// WithWatchClock sets the clock that drives the quiet period.
func WithWatchClock(clk clock.Clock) WatcherOption {
	return func(c *watcherConfig) { c.clock = clk }
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger *zap.Logger) WatcherOption {
	return func(c *watcherConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewWatcher creates a watcher that calls onChange with the absolute
// path of each changed file. onChange is never called concurrently
// with itself.
func NewWatcher(onChange func(path string), opts ...WatcherOption) (*Watcher, error) {
	cfg := watcherConfig{
		delay:  DefaultWatchDelay,
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:       fsw,
		onChange: onChange,
		logger:   cfg.logger,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		pending:  make(map[string]struct{}),
		closeCh:  make(chan struct{}),
	}
	w.debounce = newDebouncer(cfg.clock, cfg.delay, w.flush)

	w.wg.Add(1)
	go w.processLoop()
	return w, nil
}

// Add starts watching path. The containing directory is watched so
// that editors replacing the file by rename are still seen.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.dirs[dir]; !ok {
		if err := w.fs.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = struct{}{}
	}
	w.files[abs] = struct{}{}
	return nil
}

// Files returns the watched files, sorted.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := lo.Keys(w.files)
	sort.Strings(files)
	return files
}

// Run blocks until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-w.closeCh:
	}
	_ = w.Close()
	return ctx.Err()
}

// Close stops the watcher. Pending changes are dropped.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.closeCh)
		w.debounce.cancel()
		w.closeErr = w.fs.Close()
		w.wg.Wait()
	})
	return w.closeErr
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	_, watched := w.files[abs]
	if watched {
		w.pending[abs] = struct{}{}
	}
	w.mu.Unlock()

	if watched {
		w.logger.Debug("source changed", zap.String("path", abs), zap.Stringer("op", ev.Op))
		w.debounce.call()
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := lo.Keys(w.pending)
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(paths)
	for _, p := range paths {
		w.onChange(p)
	}
}

// debouncer runs fn once after calls stop arriving for delay. A
// sequence number discards timers that were superseded.
type debouncer struct {
	mu    sync.Mutex
	clock clock.Clock
	delay time.Duration
	timer *clock.Timer
	seq   uint64
	fn    func()
	run   sync.Mutex
}

func newDebouncer(clk clock.Clock, delay time.Duration, fn func()) *debouncer {
	return &debouncer{clock: clk, delay: delay, fn: fn}
}

func (d *debouncer) call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := d.seq == seq
		d.mu.Unlock()
		if !current {
			return
		}
		d.run.Lock()
		defer d.run.Unlock()
		d.fn()
	})
}

func (d *debouncer) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
