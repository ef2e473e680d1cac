package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/rights"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit              []OnInit
	onShutdown          []OnShutdown
	onDelegationChanged []OnDelegationChanged
	onGuardDenied       []OnGuardDenied
	onBalanceMoved      []OnBalanceMoved
	onApprovalChanged   []OnApprovalChanged
	onClassRegistered   []OnClassRegistered
	onJournalFlushed    []OnJournalFlushed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnDelegationChanged); ok {
		r.onDelegationChanged = append(r.onDelegationChanged, v)
	}
	if v, ok := p.(OnGuardDenied); ok {
		r.onGuardDenied = append(r.onGuardDenied, v)
	}
	if v, ok := p.(OnBalanceMoved); ok {
		r.onBalanceMoved = append(r.onBalanceMoved, v)
	}
	if v, ok := p.(OnApprovalChanged); ok {
		r.onApprovalChanged = append(r.onApprovalChanged, v)
	}
	if v, ok := p.(OnClassRegistered); ok {
		r.onClassRegistered = append(r.onClassRegistered, v)
	}
	if v, ok := p.(OnJournalFlushed); ok {
		r.onJournalFlushed = append(r.onJournalFlushed, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnDelegationChanged)(nil)).Elem(), "OnDelegationChanged")
	checkInterface(reflect.TypeOf((*OnGuardDenied)(nil)).Elem(), "OnGuardDenied")
	checkInterface(reflect.TypeOf((*OnBalanceMoved)(nil)).Elem(), "OnBalanceMoved")
	checkInterface(reflect.TypeOf((*OnApprovalChanged)(nil)).Elem(), "OnApprovalChanged")
	checkInterface(reflect.TypeOf((*OnClassRegistered)(nil)).Elem(), "OnClassRegistered")
	checkInterface(reflect.TypeOf((*OnJournalFlushed)(nil)).Elem(), "OnJournalFlushed")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, ledger)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDelegationChanged emits a delegation changed event.
func (r *Registry) EmitDelegationChanged(ctx context.Context, change rights.DelegationChange) {
	r.mu.RLock()
	plugins := r.onDelegationChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDelegationChanged(ctx, change)
		}); err != nil {
			r.logger.Warn("plugin OnDelegationChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitGuardDenied emits a guard denial event.
func (r *Registry) EmitGuardDenied(ctx context.Context, denial rights.GuardDenial) {
	r.mu.RLock()
	plugins := r.onGuardDenied
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnGuardDenied(ctx, denial)
		}); err != nil {
			r.logger.Warn("plugin OnGuardDenied failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitBalanceMoved emits a balance moved event.
func (r *Registry) EmitBalanceMoved(ctx context.Context, movement custody.Movement) {
	r.mu.RLock()
	plugins := r.onBalanceMoved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnBalanceMoved(ctx, movement)
		}); err != nil {
			r.logger.Warn("plugin OnBalanceMoved failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitApprovalChanged emits an approval changed event.
func (r *Registry) EmitApprovalChanged(ctx context.Context, approval custody.Approval, approved bool) {
	r.mu.RLock()
	plugins := r.onApprovalChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnApprovalChanged(ctx, approval, approved)
		}); err != nil {
			r.logger.Warn("plugin OnApprovalChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitClassRegistered emits a class registered event.
func (r *Registry) EmitClassRegistered(ctx context.Context, info *custody.ClassInfo) {
	r.mu.RLock()
	plugins := r.onClassRegistered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnClassRegistered(ctx, info)
		}); err != nil {
			r.logger.Warn("plugin OnClassRegistered failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitJournalFlushed emits a journal flushed event.
func (r *Registry) EmitJournalFlushed(ctx context.Context, count int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onJournalFlushed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnJournalFlushed(ctx, count, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnJournalFlushed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
