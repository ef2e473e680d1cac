package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct"
	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/types"
)

// pairKey addresses one (class, account) amount row. It keys frozen and
// usage totals as well as custody holdings.
type pairKey struct {
	class   types.ClassID
	account types.Address
}

// grantKey addresses one allowance row.
type grantKey struct {
	class types.ClassID
	owner types.Address
	user  types.Address
}

// approvalKey addresses one operator approval row.
type approvalKey struct {
	owner    types.Address
	operator types.Address
}

type Store struct {
	mu sync.RWMutex

	// Rights storage
	grants map[grantKey]rights.Grant
	frozen map[pairKey]uint256.Int
	usage  map[pairKey]uint256.Int

	// Custody storage
	holdings  map[pairKey]uint256.Int
	supplies  map[types.ClassID]uint256.Int
	approvals map[approvalKey]custody.Approval
	classes   map[types.ClassID]custody.ClassInfo

	// Journal storage
	events []journal.Event

	closed bool
}

func New() *Store {
	return &Store{
		grants:    make(map[grantKey]rights.Grant),
		frozen:    make(map[pairKey]uint256.Int),
		usage:     make(map[pairKey]uint256.Int),
		holdings:  make(map[pairKey]uint256.Int),
		supplies:  make(map[types.ClassID]uint256.Int),
		approvals: make(map[approvalKey]custody.Approval),
		classes:   make(map[types.ClassID]custody.ClassInfo),
		events:    make([]journal.Event, 0),
	}
}

// Rights Store implementation

func (s *Store) Allowance(_ context.Context, class types.ClassID, owner, user types.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.grants[grantKey{class, owner, user}]; ok {
		return types.CopyUnits(g.Amount), nil
	}
	return types.ZeroUnits(), nil
}

func (s *Store) Frozen(_ context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.frozen[pairKey{class, owner}]
	return &v, nil
}

func (s *Store) Usage(_ context.Context, class types.ClassID, user types.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.usage[pairKey{class, user}]
	return &v, nil
}

func (s *Store) ApplyDelegation(_ context.Context, upd rights.DelegationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := upd.Grant
	gk := grantKey{g.Class, g.Owner, g.User}
	if g.Amount == nil || g.Amount.IsZero() {
		delete(s.grants, gk)
	} else {
		g.Amount = types.CopyUnits(g.Amount)
		s.grants[gk] = g
	}

	setAmount(s.frozen, pairKey{g.Class, g.Owner}, upd.Frozen)
	setAmount(s.usage, pairKey{g.Class, g.User}, upd.Usage)
	return nil
}

func (s *Store) ListGrants(_ context.Context, filter rights.GrantFilter, opts rights.ListOpts) ([]*rights.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*rights.Grant, 0)
	for k, g := range s.grants {
		if filter.Class != nil && k.class != *filter.Class {
			continue
		}
		if !filter.Owner.IsZero() && k.owner != filter.Owner {
			continue
		}
		if !filter.User.IsZero() && k.user != filter.User {
			continue
		}
		cp := g
		cp.Amount = types.CopyUnits(g.Amount)
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.User < b.User
	})

	lo, hi := window(len(result), opts.Offset, opts.Limit)
	return result[lo:hi], nil
}

// Custody Store implementation

func (s *Store) Holding(_ context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.holdings[pairKey{class, owner}]
	return &v, nil
}

func (s *Store) Supply(_ context.Context, class types.ClassID) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.supplies[class]
	return &v, nil
}

func (s *Store) ApplyMovement(_ context.Context, upd custody.MovementUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bw := range upd.Balances {
		setAmount(s.holdings, pairKey{bw.Class, bw.Owner}, bw.Amount)
	}
	for _, sw := range upd.Supplies {
		if sw.Amount == nil || sw.Amount.IsZero() {
			delete(s.supplies, sw.Class)
			continue
		}
		s.supplies[sw.Class] = *sw.Amount
	}
	return nil
}

func (s *Store) Approval(_ context.Context, owner, operator types.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.approvals[approvalKey{owner, operator}]
	return ok, nil
}

func (s *Store) SetApproval(_ context.Context, approval custody.Approval, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := approvalKey{approval.Owner, approval.Operator}
	if !approved {
		delete(s.approvals, k)
		return nil
	}
	s.approvals[k] = approval
	return nil
}

func (s *Store) CreateClass(_ context.Context, info *custody.ClassInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.classes[info.Class]; exists {
		return usufruct.ErrClassExists
	}
	s.classes[info.Class] = cloneClass(info)
	return nil
}

func (s *Store) GetClass(_ context.Context, class types.ClassID) (*custody.ClassInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if info, ok := s.classes[class]; ok {
		cp := cloneClass(&info)
		return &cp, nil
	}
	return nil, usufruct.ErrClassNotFound
}

func (s *Store) ListClasses(_ context.Context, opts custody.ListOpts) ([]*custody.ClassInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*custody.ClassInfo, 0, len(s.classes))
	for _, info := range s.classes {
		cp := cloneClass(&info)
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Class < result[j].Class })

	lo, hi := window(len(result), opts.Offset, opts.Limit)
	return result[lo:hi], nil
}

// Journal Store implementation

func (s *Store) AppendEvents(_ context.Context, events []*journal.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		cp := *e
		cp.Amount = types.CopyUnits(e.Amount)
		s.events = append(s.events, cp)
	}
	return nil
}

func (s *Store) QueryEvents(_ context.Context, opts journal.QueryOpts) ([]*journal.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*journal.Event, 0)
	for i := range s.events {
		e := s.events[i]
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		if opts.Class != nil && e.Class != *opts.Class {
			continue
		}
		if opts.Address != "" && e.From != opts.Address && e.To != opts.Address && e.Operator != opts.Address {
			continue
		}
		if !opts.Start.IsZero() && e.At.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && e.At.After(opts.End) {
			continue
		}
		cp := e
		cp.Amount = types.CopyUnits(e.Amount)
		result = append(result, &cp)
	}

	lo, hi := window(len(result), opts.Offset, opts.Limit)
	return result[lo:hi], nil
}

func (s *Store) PruneEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	kept := make([]journal.Event, 0, len(s.events))
	for _, e := range s.events {
		if e.At.Before(before) {
			count++
		} else {
			kept = append(kept, e)
		}
	}
	s.events = kept
	return count, nil
}

// Store management

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return usufruct.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Helper functions

// setAmount writes an absolute amount row, deleting it when the new value
// is zero so absent and zero stay indistinguishable.
func setAmount(m map[pairKey]uint256.Int, k pairKey, v *uint256.Int) {
	if v == nil || v.IsZero() {
		delete(m, k)
		return
	}
	m[k] = *v
}

// window clamps offset/limit against n. A non-positive limit means no
// limit.
func window(n, offset, limit int) (int, int) {
	lo := offset
	if lo < 0 {
		lo = 0
	}
	if lo > n {
		lo = n
	}
	hi := lo + limit
	if limit <= 0 || hi > n {
		hi = n
	}
	return lo, hi
}

func cloneClass(info *custody.ClassInfo) custody.ClassInfo {
	cp := *info
	if info.Metadata != nil {
		cp.Metadata = make(map[string]string, len(info.Metadata))
		for k, v := range info.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
