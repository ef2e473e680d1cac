package store

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/types"
)

// Store is the unified storage interface for all usufruct state.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// Amount reads return zero for absent rows and always return owned values;
// Apply* methods write every row of one ledger operation as a single atomic
// unit and delete rows whose new amount is zero.
type Store interface {
	// Rights methods
	Allowance(ctx context.Context, class types.ClassID, owner, user types.Address) (*uint256.Int, error)
	Frozen(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error)
	Usage(ctx context.Context, class types.ClassID, user types.Address) (*uint256.Int, error)
	ApplyDelegation(ctx context.Context, upd rights.DelegationUpdate) error
	ListGrants(ctx context.Context, filter rights.GrantFilter, opts rights.ListOpts) ([]*rights.Grant, error)

	// Custody methods
	Holding(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error)
	Supply(ctx context.Context, class types.ClassID) (*uint256.Int, error)
	ApplyMovement(ctx context.Context, upd custody.MovementUpdate) error
	Approval(ctx context.Context, owner, operator types.Address) (bool, error)
	SetApproval(ctx context.Context, approval custody.Approval, approved bool) error
	CreateClass(ctx context.Context, info *custody.ClassInfo) error
	GetClass(ctx context.Context, class types.ClassID) (*custody.ClassInfo, error)
	ListClasses(ctx context.Context, opts custody.ListOpts) ([]*custody.ClassInfo, error)

	// Journal methods
	AppendEvents(ctx context.Context, events []*journal.Event) error
	QueryEvents(ctx context.Context, opts journal.QueryOpts) ([]*journal.Event, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
