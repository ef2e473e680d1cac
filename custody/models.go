// Package custody defines the multi-class custody model the rights ledger
// sits on: per-class holdings, operator approvals, class metadata, and the
// movements that change balances.
package custody

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct/types"
)

// MovementKind classifies a balance movement.
type MovementKind string

const (
	MovementMint     MovementKind = "mint"
	MovementTransfer MovementKind = "transfer"
	MovementBurn     MovementKind = "burn"
)

// Movement describes one applied balance change. Mints have a zero From,
// burns a zero To. Batch transfers produce one Movement per class entry.
type Movement struct {
	Kind     MovementKind  `json:"kind"`
	Class    types.ClassID `json:"class"`
	From     types.Address `json:"from,omitempty"`
	To       types.Address `json:"to,omitempty"`
	Amount   *uint256.Int  `json:"amount"`
	Operator types.Address `json:"operator"`
	At       time.Time     `json:"at"`
}

// ClassInfo is optional metadata registered for a token class. Custody
// and delegation operations never require registration; the registry only
// describes classes that exist by convention.
type ClassInfo struct {
	types.Entity
	Class    types.ClassID     `json:"class"`
	Name     string            `json:"name"`
	Symbol   string            `json:"symbol,omitempty"`
	URI      string            `json:"uri,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Approval records that owner has authorized operator to move any of the
// owner's holdings. Revoked approvals are deleted, not kept as false rows.
type Approval struct {
	types.Entity
	Owner    types.Address `json:"owner"`
	Operator types.Address `json:"operator"`
}
