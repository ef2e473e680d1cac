// Package plugin provides an extensible plugin system for the usufruct
// ledger. Plugins can hook into ledger events to extend functionality;
// hooks are advisory and never veto the operation that emitted them.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/rights"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts. The ledger passes itself as an
// opaque value; plugins that need it assert to *usufruct.Ledger.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the ledger is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Rights hooks
// ──────────────────────────────────────────────────

// OnDelegationChanged is called after every successful Delegate.
type OnDelegationChanged interface {
	Plugin
	OnDelegationChanged(ctx context.Context, change rights.DelegationChange) error
}

// OnGuardDenied is called when the transfer guard rejects a debit.
type OnGuardDenied interface {
	Plugin
	OnGuardDenied(ctx context.Context, denial rights.GuardDenial) error
}

// ──────────────────────────────────────────────────
// Custody hooks
// ──────────────────────────────────────────────────

// OnBalanceMoved is called after every applied mint, transfer or burn.
// Batch transfers emit one call per class entry.
type OnBalanceMoved interface {
	Plugin
	OnBalanceMoved(ctx context.Context, movement custody.Movement) error
}

// OnApprovalChanged is called when an owner grants or revokes an operator.
type OnApprovalChanged interface {
	Plugin
	OnApprovalChanged(ctx context.Context, approval custody.Approval, approved bool) error
}

// OnClassRegistered is called when class metadata is registered.
type OnClassRegistered interface {
	Plugin
	OnClassRegistered(ctx context.Context, info *custody.ClassInfo) error
}

// ──────────────────────────────────────────────────
// Journal hooks
// ──────────────────────────────────────────────────

// OnJournalFlushed is called after the journal worker writes a batch of
// events to the store.
type OnJournalFlushed interface {
	Plugin
	OnJournalFlushed(ctx context.Context, count int, elapsed time.Duration) error
}
