// Package journal defines the ledger's advisory event log. Events record
// what the ledger did; they are buffered in memory and flushed to the
// store in batches, and are never part of an operation's atomic unit.
package journal

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct/id"
	"github.com/xraph/usufruct/types"
)

// Kind classifies a journal event.
type Kind string

const (
	KindDelegation  Kind = "delegation"
	KindGuardDenial Kind = "guard_denial"
	KindMint        Kind = "mint"
	KindTransfer    Kind = "transfer"
	KindBurn        Kind = "burn"
	KindApproval    Kind = "approval"
	KindClass       Kind = "class_registered"
)

// Event is one journal entry. Address fields that do not apply to a kind
// are left zero (mints have no From, approvals no amount).
type Event struct {
	ID       id.EventID    `json:"id"`
	Kind     Kind          `json:"kind"`
	Class    types.ClassID `json:"class"`
	From     types.Address `json:"from,omitempty"`
	To       types.Address `json:"to,omitempty"`
	Operator types.Address `json:"operator,omitempty"`
	Amount   *uint256.Int  `json:"amount,omitempty"`
	Note     string        `json:"note,omitempty"`
	At       time.Time     `json:"at"`
}
