// Package audithook bridges Usufruct lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/plugin"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin              = (*Extension)(nil)
	_ plugin.OnDelegationChanged = (*Extension)(nil)
	_ plugin.OnGuardDenied       = (*Extension)(nil)
	_ plugin.OnBalanceMoved      = (*Extension)(nil)
	_ plugin.OnApprovalChanged   = (*Extension)(nil)
	_ plugin.OnClassRegistered   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Usufruct lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Delegation lifecycle hooks
// ──────────────────────────────────────────────────

// OnDelegationChanged implements plugin.OnDelegationChanged.
func (e *Extension) OnDelegationChanged(ctx context.Context, change rights.DelegationChange) error {
	action := ActionDelegationApplied
	if change.Amount != nil && change.Amount.IsZero() {
		action = ActionDelegationRevoked
	}

	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceDelegation, change.GrantID.String(), CategoryRights, nil,
		"class", change.Class.String(),
		"owner", string(change.Owner),
		"user", string(change.User),
		"operator", string(change.Operator),
		"amount", types.FormatUnits(change.Amount),
		"previous", types.FormatUnits(change.Previous),
	)
}

// OnGuardDenied implements plugin.OnGuardDenied.
func (e *Extension) OnGuardDenied(ctx context.Context, denial rights.GuardDenial) error {
	return e.record(ctx, ActionGuardDenied, SeverityWarning, OutcomeFailure,
		ResourceBalance, string(denial.Owner), CategoryAccess, nil,
		"class", denial.Class.String(),
		"owner", string(denial.Owner),
		"requested", types.FormatUnits(denial.Requested),
		"available", types.FormatUnits(denial.Available),
	)
}

// ──────────────────────────────────────────────────
// Custody lifecycle hooks
// ──────────────────────────────────────────────────

// OnBalanceMoved implements plugin.OnBalanceMoved.
func (e *Extension) OnBalanceMoved(ctx context.Context, movement custody.Movement) error {
	var action string
	switch movement.Kind {
	case custody.MovementMint:
		action = ActionBalanceMinted
	case custody.MovementBurn:
		action = ActionBalanceBurned
	default:
		action = ActionBalanceTransferred
	}

	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceBalance, movement.Class.String(), CategoryCustody, nil,
		"class", movement.Class.String(),
		"from", string(movement.From),
		"to", string(movement.To),
		"operator", string(movement.Operator),
		"amount", types.FormatUnits(movement.Amount),
	)
}

// OnApprovalChanged implements plugin.OnApprovalChanged.
func (e *Extension) OnApprovalChanged(ctx context.Context, approval custody.Approval, approved bool) error {
	action := ActionApprovalRevoked
	if approved {
		action = ActionApprovalGranted
	}

	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceApproval, string(approval.Owner), CategoryAccess, nil,
		"owner", string(approval.Owner),
		"operator", string(approval.Operator),
	)
}

// OnClassRegistered implements plugin.OnClassRegistered.
func (e *Extension) OnClassRegistered(ctx context.Context, info *custody.ClassInfo) error {
	return e.record(ctx, ActionClassRegistered, SeverityInfo, OutcomeSuccess,
		ResourceClass, info.Class.String(), CategoryCustody, nil,
		"class", info.Class.String(),
		"name", info.Name,
		"symbol", info.Symbol,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
