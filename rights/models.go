// Package rights defines the delegated usage-rights model: grants, the
// derived frozen and usage totals, and the events the ledger emits when
// they change.
package rights

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct/id"
	"github.com/xraph/usufruct/types"
)

// Grant is one delegation row: owner has granted user the right to use
// Amount units of the given class. A (class, owner, user) triple holds at
// most one grant; re-delegating replaces the amount and the ID. Grants
// with a zero amount are not stored.
type Grant struct {
	types.Entity
	ID     id.GrantID    `json:"id"`
	Class  types.ClassID `json:"class"`
	Owner  types.Address `json:"owner"`
	User   types.Address `json:"user"`
	Amount *uint256.Int  `json:"amount"`
}

// DelegationChange describes one successful Delegate call. Amount is the
// new allowance (absolute, not a delta); Previous is the allowance it
// replaced.
type DelegationChange struct {
	Operator types.Address `json:"operator"`
	Owner    types.Address `json:"owner"`
	User     types.Address `json:"user"`
	Class    types.ClassID `json:"class"`
	Amount   *uint256.Int  `json:"amount"`
	Previous *uint256.Int  `json:"previous"`
	GrantID  id.GrantID    `json:"grant_id"`
	At       time.Time     `json:"at"`
}

// GuardDenial describes a transfer guard rejection: the owner tried to
// move Requested units of the class but only Available units were left
// unfrozen.
type GuardDenial struct {
	Owner     types.Address `json:"owner"`
	Class     types.ClassID `json:"class"`
	Requested *uint256.Int  `json:"requested"`
	Available *uint256.Int  `json:"available"`
	At        time.Time     `json:"at"`
}

// Statement is the read model for one owner's position in one class:
// the custodial balance, the frozen total, the spendable remainder, and
// the grant lines the frozen total is made of.
type Statement struct {
	Owner     types.Address   `json:"owner"`
	Class     types.ClassID   `json:"class"`
	Balance   *uint256.Int    `json:"balance"`
	Frozen    *uint256.Int    `json:"frozen"`
	Available *uint256.Int    `json:"available"`
	Lines     []StatementLine `json:"lines,omitempty"`
	At        time.Time       `json:"at"`
}

// StatementLine is one grant inside a Statement.
type StatementLine struct {
	User    types.Address `json:"user"`
	Amount  *uint256.Int  `json:"amount"`
	GrantID id.GrantID    `json:"grant_id"`
}

// BalanceSource supplies custodial balances to the rights engine. The
// built-in custody ledger implements it; embedders holding balances
// elsewhere inject their own via the engine's WithBalanceSource option.
//
// CustodialBalance must report the full balance held for owner in class,
// ignoring any freezes this ledger has placed on it. Absent means zero.
type BalanceSource interface {
	CustodialBalance(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error)
}

// Capability names an optional behavior a ledger implementation can be
// asked about before relying on it.
type Capability string

const (
	// CapabilityDelegatedUse is the canonical identifier for the
	// delegated usage-rights behavior this module implements.
	CapabilityDelegatedUse Capability = "usufruct.delegated-use"

	// CapabilityMultiClassCustody identifies the built-in multi-class
	// custody behavior (per-class balances, operators, guarded debits).
	CapabilityMultiClassCustody Capability = "usufruct.multi-class-custody"
)

// CapabilityReporter is implemented by balance sources that can answer
// capability queries; the engine defers unknown capabilities to it.
type CapabilityReporter interface {
	SupportsCapability(cap Capability) bool
}
