package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mattjoyce/saya/internal/channel"
)

// Controller is the part of the module controller the watcher drives.
type Controller interface {
	Channel(module string) (*channel.Channel, bool)
	ReloadChannel(ctx context.Context, ch *channel.Channel) error
	Serial(fn func() error) error
}

// Watcher reloads loaded modules whose directory changes on disk.
type Watcher struct {
	loader   *Loader
	ctrl     Controller
	debounce time.Duration
	logger   *slog.Logger

	// OnReload, when set, is called after every reload attempt.
	OnReload func(module string, err error)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pendingReload
}

type pendingReload struct {
	timer *time.Timer
}

// NewWatcher creates a watcher. Changes to one module within debounce are
// coalesced into a single reload.
func NewWatcher(l *Loader, ctrl Controller, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		loader:   l,
		ctrl:     ctrl,
		debounce: debounce,
		logger:   logger.With("component", "watcher"),
		stopCh:   make(chan struct{}),
		pending:  make(map[string]*pendingReload),
	}
}

// Start watches every discovered module directory until Stop or ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	for _, id := range w.loader.Modules() {
		m, ok := w.loader.Module(id)
		if !ok {
			continue
		}
		// Watch the directory (more reliable for editors that do atomic saves)
		if err := watcher.Add(m.Path); err != nil {
			watcher.Close()
			return fmt.Errorf("watch module %q: %w", id, err)
		}
		w.logger.Debug("watching module", "module", id, "path", m.Path)
	}

	w.wg.Add(1)
	go w.watchLoop(ctx)
	return nil
}

// Stop stops watching and waits for in-flight reloads.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.mu.Lock()
	for id, p := range w.pending {
		if p.timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, id)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			module, ok := w.moduleFor(event.Name)
			if !ok {
				continue
			}
			w.logger.Debug("module file changed", "module", module, "event", event.Op.String(), "file", event.Name)
			w.schedule(ctx, module)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) moduleFor(path string) (string, bool) {
	dir := filepath.Dir(path)
	for _, id := range w.loader.Modules() {
		m, ok := w.loader.Module(id)
		if !ok {
			continue
		}
		if dir == m.Path || strings.HasPrefix(dir, m.Path+string(filepath.Separator)) {
			return id, true
		}
	}
	return "", false
}

func (w *Watcher) schedule(ctx context.Context, module string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[module]; ok && p.timer.Stop() {
		p.timer.Reset(w.debounce)
		return
	}

	p := &pendingReload{}
	w.wg.Add(1)
	p.timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[module] == p {
			delete(w.pending, module)
		}
		w.mu.Unlock()
		w.reload(ctx, module)
	})
	w.pending[module] = p
}

func (w *Watcher) reload(ctx context.Context, module string) {
	select {
	case <-w.stopCh:
		return
	default:
	}

	changed, err := w.loader.Changed(module)
	if err != nil {
		w.logger.Warn("fingerprint failed", "module", module, "error", err)
		return
	}
	if !changed {
		return
	}

	reloaded := false
	err = w.ctrl.Serial(func() error {
		ch, ok := w.ctrl.Channel(module)
		if !ok {
			w.loader.Forget(module)
			return nil
		}
		reloaded = true
		return w.ctrl.ReloadChannel(ctx, ch)
	})
	if !reloaded {
		return
	}
	if err != nil {
		w.logger.Error("module reload failed", "module", module, "error", err)
	} else {
		w.logger.Info("module reloaded from disk", "module", module)
	}
	if w.OnReload != nil {
		w.OnReload(module, err)
	}
}
