package audithook

// Action constants for audit events.
const (
	// Delegation actions
	ActionDelegationApplied = "delegation.applied"
	ActionDelegationRevoked = "delegation.revoked"

	// Guard actions
	ActionGuardDenied = "guard.denied"

	// Balance actions
	ActionBalanceMinted      = "balance.minted"
	ActionBalanceTransferred = "balance.transferred"
	ActionBalanceBurned      = "balance.burned"

	// Approval actions
	ActionApprovalGranted = "approval.granted"
	ActionApprovalRevoked = "approval.revoked"

	// Class actions
	ActionClassRegistered = "class.registered"
)

// Resource constants for audit events.
const (
	ResourceDelegation = "delegation"
	ResourceBalance    = "balance"
	ResourceApproval   = "approval"
	ResourceClass      = "class"
)

// Category constants for audit events.
const (
	CategoryRights  = "rights"
	CategoryCustody = "custody"
	CategoryAccess  = "access"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
