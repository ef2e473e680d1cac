// Package observability provides a metrics extension for Usufruct that
// records lifecycle event counts via a pluggable MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/plugin"
	"github.com/xraph/usufruct/rights"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin              = (*MetricsExtension)(nil)
	_ plugin.OnInit              = (*MetricsExtension)(nil)
	_ plugin.OnDelegationChanged = (*MetricsExtension)(nil)
	_ plugin.OnGuardDenied       = (*MetricsExtension)(nil)
	_ plugin.OnBalanceMoved      = (*MetricsExtension)(nil)
	_ plugin.OnApprovalChanged   = (*MetricsExtension)(nil)
	_ plugin.OnClassRegistered   = (*MetricsExtension)(nil)
	_ plugin.OnJournalFlushed    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Usufruct plugin to automatically track ledger metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Delegation metrics
	DelegationApplied Counter
	DelegationRevoked Counter

	// Guard metrics
	GuardDenials Counter

	// Movement metrics
	Minted      Counter
	Transferred Counter
	Burned      Counter

	// Approval metrics
	ApprovalGranted Counter
	ApprovalRevoked Counter

	// Class metrics
	ClassRegistered Counter

	// Journal metrics
	JournalEventsFlushed Counter
	JournalBatchSize     Histogram
	JournalFlushLatency  Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Delegation metrics
		DelegationApplied: factory.Counter("usufruct.delegation.applied"),
		DelegationRevoked: factory.Counter("usufruct.delegation.revoked"),

		// Guard metrics
		GuardDenials: factory.Counter("usufruct.guard.denials"),

		// Movement metrics
		Minted:      factory.Counter("usufruct.movement.minted"),
		Transferred: factory.Counter("usufruct.movement.transferred"),
		Burned:      factory.Counter("usufruct.movement.burned"),

		// Approval metrics
		ApprovalGranted: factory.Counter("usufruct.approval.granted"),
		ApprovalRevoked: factory.Counter("usufruct.approval.revoked"),

		// Class metrics
		ClassRegistered: factory.Counter("usufruct.class.registered"),

		// Journal metrics
		JournalEventsFlushed: factory.Counter("usufruct.journal.events.flushed"),
		JournalBatchSize:     factory.Histogram("usufruct.journal.batch.size"),
		JournalFlushLatency:  factory.Histogram("usufruct.journal.flush.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Delegation lifecycle hooks
// ──────────────────────────────────────────────────

// OnDelegationChanged implements plugin.OnDelegationChanged.
func (m *MetricsExtension) OnDelegationChanged(_ context.Context, change rights.DelegationChange) error {
	if change.Amount != nil && change.Amount.IsZero() {
		m.DelegationRevoked.Inc()
		return nil
	}
	m.DelegationApplied.Inc()
	return nil
}

// OnGuardDenied implements plugin.OnGuardDenied.
func (m *MetricsExtension) OnGuardDenied(_ context.Context, _ rights.GuardDenial) error {
	m.GuardDenials.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Custody lifecycle hooks
// ──────────────────────────────────────────────────

// OnBalanceMoved implements plugin.OnBalanceMoved.
func (m *MetricsExtension) OnBalanceMoved(_ context.Context, movement custody.Movement) error {
	switch movement.Kind {
	case custody.MovementMint:
		m.Minted.Inc()
	case custody.MovementBurn:
		m.Burned.Inc()
	default:
		m.Transferred.Inc()
	}
	return nil
}

// OnApprovalChanged implements plugin.OnApprovalChanged.
func (m *MetricsExtension) OnApprovalChanged(_ context.Context, _ custody.Approval, approved bool) error {
	if approved {
		m.ApprovalGranted.Inc()
	} else {
		m.ApprovalRevoked.Inc()
	}
	return nil
}

// OnClassRegistered implements plugin.OnClassRegistered.
func (m *MetricsExtension) OnClassRegistered(_ context.Context, _ *custody.ClassInfo) error {
	m.ClassRegistered.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Journal lifecycle hooks
// ──────────────────────────────────────────────────

// OnJournalFlushed implements plugin.OnJournalFlushed.
func (m *MetricsExtension) OnJournalFlushed(_ context.Context, count int, elapsed time.Duration) error {
	m.JournalEventsFlushed.Add(float64(count))
	m.JournalBatchSize.Observe(float64(count))
	m.JournalFlushLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}
