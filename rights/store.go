package rights

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct/types"
)

// Store is the persistence surface for the rights mappings. All three
// reads treat absent rows as zero; ApplyDelegation writes one Delegate's
// outcome as a single atomic unit.
type Store interface {
	Allowance(ctx context.Context, class types.ClassID, owner, user types.Address) (*uint256.Int, error)
	Frozen(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error)
	Usage(ctx context.Context, class types.ClassID, user types.Address) (*uint256.Int, error)
	ApplyDelegation(ctx context.Context, upd DelegationUpdate) error
	ListGrants(ctx context.Context, filter GrantFilter, opts ListOpts) ([]*Grant, error)
}

// DelegationUpdate carries the post-state of one Delegate call. The store
// upserts the grant row with Grant.Amount and overwrites the owner's
// frozen total and the user's usage total with the values given; rows
// whose new amount is zero are deleted.
type DelegationUpdate struct {
	Grant  Grant
	Frozen *uint256.Int
	Usage  *uint256.Int
}

// GrantFilter narrows ListGrants. Zero-valued fields match everything.
type GrantFilter struct {
	Class *types.ClassID
	Owner types.Address
	User  types.Address
}

type ListOpts struct {
	Limit  int
	Offset int
}
