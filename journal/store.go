package journal

import (
	"context"
	"time"

	"github.com/xraph/usufruct/types"
)

// Store is the persistence surface for the journal.
type Store interface {
	AppendEvents(ctx context.Context, events []*Event) error
	QueryEvents(ctx context.Context, opts QueryOpts) ([]*Event, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// QueryOpts narrows QueryEvents. Zero-valued fields match everything;
// results come back oldest first.
type QueryOpts struct {
	Kind    Kind
	Class   *types.ClassID
	Address types.Address // matches From, To or Operator
	Start   time.Time
	End     time.Time
	Limit   int
	Offset  int
}
