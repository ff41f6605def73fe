package saya

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/saya/internal/behaviour"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/cube"
	"github.com/mattjoyce/saya/internal/dispatch"
)

var (
	ErrBehaviourConflict = errors.New("behaviour type already installed")
	ErrBehaviourBusy     = errors.New("behaviour still manages cubes")
	ErrBehaviourUnknown  = errors.New("behaviour not installed")
	ErrChannelUnknown    = errors.New("channel is not tracked")
	ErrMainChannel       = errors.New("main channel cannot be uninstalled")
	ErrKeyNotFound       = errors.New("key not found")
	ErrCircularRequire   = errors.New("circular require")
	ErrNoController      = errors.New("no controller bound to context")

	// ErrDispatchCrashed is returned when no behaviour claims a module's cube.
	ErrDispatchCrashed = dispatch.ErrDispatchCrashed
)

// Saya is the module controller.
type Saya struct {
	loader   Loader
	notifier Notifier
	observer dispatch.Observer
	logger   *slog.Logger
	dispatch *dispatch.Interface

	mu      sync.RWMutex
	modules map[string]*channel.Channel
	states  map[string]ModuleState
	scoped  map[string][]behaviour.Behaviour
	mounts  map[string]any

	opMu sync.Mutex
}

// Option configures a Saya.
type Option func(*Saya)

// WithNotifier sets the lifecycle event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Saya) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Saya) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver forwards dispatch outcomes to o.
func WithObserver(o dispatch.Observer) Option {
	return func(s *Saya) { s.observer = o }
}

// New creates a controller that loads modules through loader.
func New(loader Loader, opts ...Option) *Saya {
	s := &Saya{
		loader:  loader,
		logger:  slog.Default(),
		modules: make(map[string]*channel.Channel),
		states:  make(map[string]ModuleState),
		scoped:  make(map[string][]behaviour.Behaviour),
		mounts:  make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dispatch = dispatch.New(s.logger)
	if s.observer != nil {
		s.dispatch.SetObserver(s.observer)
	}
	s.logger = s.logger.With("component", "saya")
	return s
}

// Dispatch exposes the dispatch interface, e.g. for CurrentCube.
func (s *Saya) Dispatch() *dispatch.Interface {
	return s.dispatch
}

// Serial runs fn while holding the controller's operation lock. Host code that
// drives the controller from several goroutines goes through Serial; module
// code never does, so nested Require calls cannot deadlock.
func (s *Saya) Serial(fn func() error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return fn()
}

// ModuleContext binds s as the current controller for code running under ctx.
func (s *Saya) ModuleContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, sayaKey{}, s)
}

type sayaKey struct{}

// Current returns the controller bound to ctx.
func Current(ctx context.Context) (*Saya, error) {
	if ctx == nil {
		return nil, ErrNoController
	}
	s, ok := ctx.Value(sayaKey{}).(*Saya)
	if !ok || s == nil {
		return nil, ErrNoController
	}
	return s, nil
}

// InstallBehaviours appends behaviours to the global pool. Nothing is installed
// if any of them shares a concrete type with an installed behaviour or another
// argument.
func (s *Saya) InstallBehaviours(bs ...behaviour.Behaviour) error {
	seen := make(map[any]struct{})
	for _, b := range s.dispatch.Global() {
		seen[behaviour.TypeOf(b)] = struct{}{}
	}
	for _, b := range bs {
		t := behaviour.TypeOf(b)
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: %s", ErrBehaviourConflict, behaviour.Name(b))
		}
		seen[t] = struct{}{}
	}

	s.dispatch.AddGlobal(bs...)
	for _, b := range bs {
		s.logger.Info("behaviour installed", "behaviour", behaviour.Name(b))
	}
	return nil
}

// RemoveBehaviour drops b from the global pool. It must not own any cube.
func (s *Saya) RemoveBehaviour(b behaviour.Behaviour) error {
	if n := behaviour.ManagedCount(b); n > 0 {
		return fmt.Errorf("%w: %s owns %d cubes", ErrBehaviourBusy, behaviour.Name(b), n)
	}
	if !s.dispatch.RemoveGlobal(b) {
		return fmt.Errorf("%w: %s", ErrBehaviourUnknown, behaviour.Name(b))
	}
	s.logger.Info("behaviour removed", "behaviour", behaviour.Name(b))
	return nil
}

// Behaviours returns the global pool in registration order.
func (s *Saya) Behaviours() []behaviour.Behaviour {
	return s.dispatch.Global()
}

// HasBehaviours reports whether a behaviour of each given concrete type is installed.
func (s *Saya) HasBehaviours(samples ...behaviour.Behaviour) bool {
	installed := make(map[any]struct{})
	for _, b := range s.dispatch.Global() {
		installed[behaviour.TypeOf(b)] = struct{}{}
	}
	for _, b := range samples {
		if _, ok := installed[behaviour.TypeOf(b)]; !ok {
			return false
		}
	}
	return true
}

// Require loads module unless it is already loaded and returns its export, or
// its channel when it exports nothing. scoped behaviours take part in this
// load only, after the global pool; they are reused on reload.
func (s *Saya) Require(ctx context.Context, module string, scoped ...behaviour.Behaviour) (any, error) {
	ch, err := s.RequireChannel(ctx, module, scoped...)
	if err != nil {
		return nil, err
	}
	if v, ok := ch.Exported(); ok {
		return v, nil
	}
	return ch, nil
}

// RequireChannel is Require returning the channel itself.
func (s *Saya) RequireChannel(ctx context.Context, module string, scoped ...behaviour.Behaviour) (*channel.Channel, error) {
	s.mu.RLock()
	ch, loaded := s.modules[module]
	state := s.states[module]
	s.mu.RUnlock()

	if loaded {
		return ch, nil
	}
	if state == StateLoading {
		return nil, fmt.Errorf("%w: %q is still loading", ErrCircularRequire, module)
	}

	ch, err := s.load(ctx, module, scoped)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.modules[module] = ch
	s.states[module] = StateLoaded
	s.scoped[module] = scoped
	s.mu.Unlock()

	s.logger.Info("module installed", "module", module, "cubes", len(ch.Content))
	s.post(ctx, ModuleInstalled{Module: module, Channel: ch, Cubes: len(ch.Content)})
	return ch, nil
}

// load runs module into a fresh channel and allocates its cubes. On failure,
// including a panic in module code or a behaviour, the cubes it already
// allocated are uninstalled again and nothing is registered.
func (s *Saya) load(ctx context.Context, module string, scoped []behaviour.Behaviour) (*channel.Channel, error) {
	s.setState(module, StateLoading)
	leave := s.dispatch.Enter(module, scoped...)
	defer leave()

	logger := s.logger.With("module", module)
	logger.Debug("loading module")

	var (
		ch        *channel.Channel
		modCtx    context.Context
		allocated int
		loaded    bool
	)
	defer func() {
		if loaded {
			return
		}
		r := recover()
		if ch != nil {
			s.rollback(modCtx, logger, ch.Content[:allocated])
			ch.Unbind()
		}
		s.setState(module, StateUnloaded)
		if r != nil {
			logger.Error("module load panicked", "panic", r)
			panic(r)
		}
	}()

	exec, err := s.loader.Load(ctx, module)
	if err != nil {
		logger.Warn("loader failed", "error", err)
		return nil, err
	}

	ch = channel.New(module)
	ch.Bind(exec)
	modCtx = channel.WithChannel(s.ModuleContext(ctx), ch)

	if exec != nil {
		if err := exec(modCtx); err != nil {
			logger.Warn("module code failed", "error", err)
			return nil, err
		}
	}

	// Behaviours may register further cubes on the channel while allocating.
	for ; allocated < len(ch.Content); allocated++ {
		c := ch.Content[allocated]
		if err := s.dispatch.AllocateCube(modCtx, c); err != nil {
			logger.Error("module load aborted", "cube", c.String(), "error", err)
			return nil, fmt.Errorf("require %q: %w", module, err)
		}
	}
	loaded = true
	return ch, nil
}

func (s *Saya) rollback(ctx context.Context, logger *slog.Logger, allocated []*cube.Cube) {
	for idx := len(allocated) - 1; idx >= 0; idx-- {
		if err := s.dispatch.UninstallCube(ctx, allocated[idx]); err != nil {
			logger.Error("rollback failed", "cube", allocated[idx].String(), "error", err)
		}
	}
}

// InstallPending allocates cubes registered on a loaded channel after its load
// finished, typically host handlers added to the main channel.
func (s *Saya) InstallPending(ctx context.Context, ch *channel.Channel) error {
	if ch == nil {
		return ErrChannelUnknown
	}
	if !s.tracked(ch) {
		return fmt.Errorf("%w: %q", ErrChannelUnknown, ch.Module)
	}
	leave := s.dispatch.Enter(ch.Module, s.scopedFor(ch.Module)...)
	defer leave()

	modCtx := channel.WithChannel(s.ModuleContext(ctx), ch)
	for idx := 0; idx < len(ch.Content); idx++ {
		c := ch.Content[idx]
		if c.Live() {
			continue
		}
		if err := s.dispatch.AllocateCube(modCtx, c); err != nil {
			return fmt.Errorf("install pending cubes of %q: %w", ch.Module, err)
		}
	}
	return nil
}

// UninstallChannel tears a loaded module down. Every cube is offered back to
// its owner in registration order; failures are collected and returned once
// the module has left the table.
func (s *Saya) UninstallChannel(ctx context.Context, ch *channel.Channel) error {
	if ch == nil {
		return ErrChannelUnknown
	}
	if ch.Module == channel.MainModule {
		return ErrMainChannel
	}
	if !s.tracked(ch) {
		return fmt.Errorf("%w: %q", ErrChannelUnknown, ch.Module)
	}
	module := ch.Module
	logger := s.logger.With("module", module)

	s.post(ctx, ModuleUninstall{Module: module, Channel: ch, Cubes: len(ch.Content)})
	s.setState(module, StateUnloading)

	errs := s.uninstallCubes(ctx, ch)

	s.mu.Lock()
	delete(s.modules, module)
	s.states[module] = StateUnloaded
	s.mu.Unlock()

	ch.Unbind()
	if p, ok := s.loader.(Purger); ok {
		p.Forget(module)
	}

	logger.Info("module uninstalled", "cubes", len(ch.Content), "errors", len(errs))
	s.post(ctx, ModuleUninstalled{Module: module})
	if len(errs) > 0 {
		return fmt.Errorf("uninstall %q: %w", module, errors.Join(errs...))
	}
	return nil
}

func (s *Saya) uninstallCubes(ctx context.Context, ch *channel.Channel) []error {
	leave := s.dispatch.Enter(ch.Module, s.scopedFor(ch.Module)...)
	defer leave()

	modCtx := channel.WithChannel(s.ModuleContext(ctx), ch)
	var errs []error
	for _, c := range ch.Cubes() {
		if !c.Live() {
			continue
		}
		if err := s.dispatch.UninstallCube(modCtx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ReloadChannel unloads ch and loads its module again into a fresh channel
// whose state is then copied onto ch. ch stays the registered channel.
func (s *Saya) ReloadChannel(ctx context.Context, ch *channel.Channel) error {
	if ch == nil {
		return ErrChannelUnknown
	}
	module := ch.Module
	scoped := s.scopedFor(module)

	if err := s.UninstallChannel(ctx, ch); err != nil {
		return err
	}

	fresh, err := s.load(ctx, module, scoped)
	if err != nil {
		return fmt.Errorf("reload %q: %w", module, err)
	}
	ch.Replace(fresh)

	s.mu.Lock()
	s.modules[module] = ch
	s.states[module] = StateLoaded
	s.mu.Unlock()

	s.logger.Info("module reloaded", "module", module, "cubes", len(ch.Content))
	s.post(ctx, ModuleInstalled{Module: module, Channel: ch, Cubes: len(ch.Content)})
	return nil
}

// CreateMainChannel returns the host's own channel, creating it on first call.
func (s *Saya) CreateMainChannel(ctx context.Context) *channel.Channel {
	s.mu.Lock()
	if ch, ok := s.modules[channel.MainModule]; ok {
		s.mu.Unlock()
		return ch
	}
	ch := channel.New(channel.MainModule)
	s.modules[channel.MainModule] = ch
	s.states[channel.MainModule] = StateLoaded
	s.mu.Unlock()

	s.logger.Info("main channel created")
	s.post(ctx, ModuleInstalled{Module: channel.MainModule, Channel: ch})
	return ch
}

// Channel returns the loaded channel for module.
func (s *Saya) Channel(module string) (*channel.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.modules[module]
	return ch, ok
}

// Channels returns a snapshot of the module table.
func (s *Saya) Channels() map[string]*channel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*channel.Channel, len(s.modules))
	for k, v := range s.modules {
		out[k] = v
	}
	return out
}

// Modules returns the loaded module identifiers, sorted.
func (s *Saya) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.modules))
	for k := range s.modules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// State returns the lifecycle state of module.
func (s *Saya) State(module string) ModuleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[module]
}

// Mount shares v under key across the module graph, replacing any previous value.
func (s *Saya) Mount(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts[key] = v
}

// Unmount removes key.
func (s *Saya) Unmount(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mounts[key]; !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	delete(s.mounts, key)
	return nil
}

// Access returns the value mounted under key.
func (s *Saya) Access(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.mounts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return v, nil
}

// Mounts returns the mounted keys, sorted.
func (s *Saya) Mounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.mounts))
	for k := range s.mounts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Saya) tracked(ch *channel.Channel) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ch != nil && s.modules[ch.Module] == ch
}

func (s *Saya) scopedFor(module string) []behaviour.Behaviour {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scoped[module]
}

func (s *Saya) setState(module string, st ModuleState) {
	s.mu.Lock()
	s.states[module] = st
	s.mu.Unlock()
}

func (s *Saya) post(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Post(ctx, ev)
}
