package custody

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct/types"
)

// Store is the persistence surface for custody state. Holding and Supply
// treat absent rows as zero; ApplyMovement writes every leg of one
// mint/transfer/burn as a single atomic unit.
type Store interface {
	Holding(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error)
	Supply(ctx context.Context, class types.ClassID) (*uint256.Int, error)
	ApplyMovement(ctx context.Context, upd MovementUpdate) error
	Approval(ctx context.Context, owner, operator types.Address) (bool, error)
	SetApproval(ctx context.Context, approval Approval, approved bool) error
	CreateClass(ctx context.Context, info *ClassInfo) error
	GetClass(ctx context.Context, class types.ClassID) (*ClassInfo, error)
	ListClasses(ctx context.Context, opts ListOpts) ([]*ClassInfo, error)
}

// MovementUpdate carries the post-state written by one custody operation.
// Balances and supplies are absolute values, not deltas; rows whose new
// amount is zero are deleted.
type MovementUpdate struct {
	Balances []BalanceWrite
	Supplies []SupplyWrite
}

// BalanceWrite sets one holding row.
type BalanceWrite struct {
	Class  types.ClassID
	Owner  types.Address
	Amount *uint256.Int
}

// SupplyWrite sets one class supply row.
type SupplyWrite struct {
	Class  types.ClassID
	Amount *uint256.Int
}

type ListOpts struct {
	Limit  int
	Offset int
}
