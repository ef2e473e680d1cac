package usufruct

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct/id"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/types"
)

// ──────────────────────────────────────────────────
// Right queries
// ──────────────────────────────────────────────────

// UsageBalance returns the total amount delegated to user across all
// owners in class.
func (l *Ledger) UsageBalance(ctx context.Context, user types.Address, class types.ClassID) (*uint256.Int, error) {
	if user.IsZero() {
		return nil, fmt.Errorf("%w: usage balance needs a user", ErrZeroAddress)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.Usage(ctx, class, user)
}

// FrozenBalance returns the total amount owner has delegated away in
// class. That much of the owner's balance is untouchable until revoked.
func (l *Ledger) FrozenBalance(ctx context.Context, owner types.Address, class types.ClassID) (*uint256.Int, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("%w: frozen balance needs an owner", ErrZeroAddress)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.Frozen(ctx, class, owner)
}

// DelegatedAmount returns the allowance owner currently grants to user
// in class. Zero means no delegation exists between the pair.
func (l *Ledger) DelegatedAmount(ctx context.Context, owner, user types.Address, class types.ClassID) (*uint256.Int, error) {
	if owner.IsZero() || user.IsZero() {
		return nil, fmt.Errorf("%w: delegated amount needs owner and user", ErrZeroAddress)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.Allowance(ctx, class, owner, user)
}

// Available returns owner's balance minus the frozen total in class,
// the amount the transfer guard would let move right now.
func (l *Ledger) Available(ctx context.Context, owner types.Address, class types.ClassID) (*uint256.Int, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("%w: available balance needs an owner", ErrZeroAddress)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.available(ctx, class, owner)
}

// Grants lists delegation rows matching the filter.
func (l *Ledger) Grants(ctx context.Context, filter rights.GrantFilter, opts rights.ListOpts) ([]*rights.Grant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.ListGrants(ctx, filter, opts)
}

// ──────────────────────────────────────────────────
// Delegation
// ──────────────────────────────────────────────────

// Delegate sets the allowance owner grants to user in class to exactly
// amount, replacing any previous allowance between the pair. The new
// amount must fit inside the owner's balance once the previous
// allowance is released; otherwise ErrInsufficientBalance. Delegating
// zero revokes the pair's allowance entirely. A nil amount counts as
// zero. Authorization is the embedder's job: callers must only invoke
// this on behalf of the owner.
func (l *Ledger) Delegate(ctx context.Context, owner, user types.Address, class types.ClassID, amount *uint256.Int) error {
	if owner.IsZero() || user.IsZero() {
		return fmt.Errorf("%w: delegation needs owner and user", ErrZeroAddress)
	}
	if amount == nil {
		amount = types.ZeroUnits()
	}

	change, err := l.applyDelegation(ctx, owner, user, class, amount)
	if err != nil {
		return err
	}

	l.plugins.EmitDelegationChanged(ctx, *change)
	l.record(ctx, &journal.Event{
		Kind:     journal.KindDelegation,
		Class:    class,
		From:     owner,
		To:       user,
		Operator: change.Operator,
		Amount:   types.CopyUnits(amount),
		At:       change.At,
	})

	l.logger.Debug("delegation applied",
		"class", class,
		"owner", owner,
		"user", user,
		"amount", types.FormatUnits(amount),
		"previous", types.FormatUnits(change.Previous),
	)

	return nil
}

// applyDelegation runs the replace-allowance arithmetic and writes the
// result as one atomic store update.
func (l *Ledger) applyDelegation(ctx context.Context, owner, user types.Address, class types.ClassID, amount *uint256.Int) (*rights.DelegationChange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.custodialBalance(ctx, class, owner)
	if err != nil {
		return nil, err
	}
	previous, err := l.store.Allowance(ctx, class, owner, user)
	if err != nil {
		return nil, err
	}
	frozen, err := l.store.Frozen(ctx, class, owner)
	if err != nil {
		return nil, err
	}
	usage, err := l.store.Usage(ctx, class, user)
	if err != nil {
		return nil, err
	}

	// Release the previous allowance from both totals before checking,
	// so the replacement is judged against the remainder rather than
	// the sum of old and new.
	frozenBase, underflow := new(uint256.Int).SubOverflow(frozen, previous)
	if underflow {
		return nil, fmt.Errorf("%w: frozen %s below recorded allowance %s for owner %s in class %s",
			ErrInconsistentState, frozen.Dec(), previous.Dec(), owner, class)
	}
	usageBase, underflow := new(uint256.Int).SubOverflow(usage, previous)
	if underflow {
		return nil, fmt.Errorf("%w: usage %s below recorded allowance %s for user %s in class %s",
			ErrInconsistentState, usage.Dec(), previous.Dec(), user, class)
	}

	newFrozen, overflow := new(uint256.Int).AddOverflow(frozenBase, amount)
	if overflow || newFrozen.Gt(balance) {
		return nil, fmt.Errorf("%w: owner %s holds %s in class %s with %s already frozen, cannot freeze %s",
			ErrInsufficientBalance, owner, balance.Dec(), class, frozenBase.Dec(), amount.Dec())
	}
	newUsage, overflow := new(uint256.Int).AddOverflow(usageBase, amount)
	if overflow {
		return nil, fmt.Errorf("%w: usage total for user %s in class %s", ErrAmountOverflow, user, class)
	}

	grant := rights.Grant{
		Entity: types.NewEntity(),
		ID:     id.NewGrantID(),
		Class:  class,
		Owner:  owner,
		User:   user,
		Amount: types.CopyUnits(amount),
	}

	update := rights.DelegationUpdate{
		Grant:  grant,
		Frozen: newFrozen,
		Usage:  newUsage,
	}
	if err := l.store.ApplyDelegation(ctx, update); err != nil {
		return nil, err
	}

	return &rights.DelegationChange{
		Operator: operatorOr(ctx, owner),
		Owner:    owner,
		User:     user,
		Class:    class,
		Amount:   types.CopyUnits(amount),
		Previous: previous,
		GrantID:  grant.ID,
		At:       grant.CreatedAt,
	}, nil
}

// ──────────────────────────────────────────────────
// Transfer guard
// ──────────────────────────────────────────────────

// GuardTransfer reports whether owner may move amount out of class
// without touching delegated funds. It allows the move when balance
// minus frozen covers amount and returns ErrInsufficientBalance
// otherwise. The guard never modifies state; the built-in custody
// operations consult it before every balance-reducing move, and
// external custody systems should do the same.
func (l *Ledger) GuardTransfer(ctx context.Context, owner types.Address, class types.ClassID, amount *uint256.Int) error {
	if owner.IsZero() {
		return fmt.Errorf("%w: transfer guard needs an owner", ErrZeroAddress)
	}
	if amount == nil {
		amount = types.ZeroUnits()
	}

	l.mu.RLock()
	avail, err := l.available(ctx, class, owner)
	l.mu.RUnlock()
	if err != nil {
		return err
	}

	if amount.Gt(avail) {
		return l.reportDenial(ctx, &rights.GuardDenial{
			Owner:     owner,
			Class:     class,
			Requested: types.CopyUnits(amount),
			Available: avail,
			At:        time.Now().UTC(),
		})
	}
	return nil
}

// reportDenial reports a guard refusal to plugins and the journal and
// returns the insufficiency error. Callers must not hold the engine
// lock.
func (l *Ledger) reportDenial(ctx context.Context, denial *rights.GuardDenial) error {
	l.plugins.EmitGuardDenied(ctx, *denial)
	l.record(ctx, &journal.Event{
		Kind:   journal.KindGuardDenial,
		Class:  denial.Class,
		From:   denial.Owner,
		Amount: types.CopyUnits(denial.Requested),
		Note:   fmt.Sprintf("available %s", denial.Available.Dec()),
		At:     denial.At,
	})

	return fmt.Errorf("%w: %s available in class %s, moving %s would touch delegated funds",
		ErrInsufficientBalance, denial.Available.Dec(), denial.Class, denial.Requested.Dec())
}

// ──────────────────────────────────────────────────
// Statements
// ──────────────────────────────────────────────────

// OwnerStatement summarizes one owner's position in a class: balance,
// frozen total, what the guard would let move, and a line per active
// delegation.
func (l *Ledger) OwnerStatement(ctx context.Context, owner types.Address, class types.ClassID) (*rights.Statement, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("%w: statement needs an owner", ErrZeroAddress)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	balance, err := l.custodialBalance(ctx, class, owner)
	if err != nil {
		return nil, err
	}
	frozen, err := l.store.Frozen(ctx, class, owner)
	if err != nil {
		return nil, err
	}
	avail, underflow := new(uint256.Int).SubOverflow(balance, frozen)
	if underflow {
		return nil, fmt.Errorf("%w: frozen %s exceeds balance %s for owner %s in class %s",
			ErrInconsistentState, frozen.Dec(), balance.Dec(), owner, class)
	}

	grants, err := l.store.ListGrants(ctx, rights.GrantFilter{Class: &class, Owner: owner}, rights.ListOpts{})
	if err != nil {
		return nil, err
	}

	lines := make([]rights.StatementLine, 0, len(grants))
	for _, g := range grants {
		lines = append(lines, rights.StatementLine{
			User:    g.User,
			Amount:  types.CopyUnits(g.Amount),
			GrantID: g.ID,
		})
	}

	return &rights.Statement{
		Owner:     owner,
		Class:     class,
		Balance:   balance,
		Frozen:    frozen,
		Available: avail,
		Lines:     lines,
		At:        time.Now().UTC(),
	}, nil
}

// ──────────────────────────────────────────────────
// Integrity
// ──────────────────────────────────────────────────

// VerifyIntegrity recomputes delegation totals for one class from the
// grant rows and compares them with the stored frozen and usage
// aggregates, including the rule that no owner's frozen total exceeds
// their balance. It covers every owner and user holding a grant in the
// class. All mismatches come back in a single error.
func (l *Ledger) VerifyIntegrity(ctx context.Context, class types.ClassID) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	grants, err := l.store.ListGrants(ctx, rights.GrantFilter{Class: &class}, rights.ListOpts{})
	if err != nil {
		return err
	}

	frozenSums := make(map[types.Address]*uint256.Int)
	usageSums := make(map[types.Address]*uint256.Int)
	for _, g := range grants {
		addSum(frozenSums, g.Owner, g.Amount)
		addSum(usageSums, g.User, g.Amount)
	}

	multi := &MultiError{}

	for owner, want := range frozenSums {
		got, err := l.store.Frozen(ctx, class, owner)
		if err != nil {
			return err
		}
		if !got.Eq(want) {
			multi.Add(fmt.Errorf("%w: frozen %s for owner %s, grants sum to %s",
				ErrInconsistentState, got.Dec(), owner, want.Dec()))
			continue
		}

		balance, err := l.custodialBalance(ctx, class, owner)
		if err != nil {
			return err
		}
		if got.Gt(balance) {
			multi.Add(fmt.Errorf("%w: frozen %s exceeds balance %s for owner %s",
				ErrInconsistentState, got.Dec(), balance.Dec(), owner))
		}
	}

	for user, want := range usageSums {
		got, err := l.store.Usage(ctx, class, user)
		if err != nil {
			return err
		}
		if !got.Eq(want) {
			multi.Add(fmt.Errorf("%w: usage %s for user %s, grants sum to %s",
				ErrInconsistentState, got.Dec(), user, want.Dec()))
		}
	}

	if multi.HasErrors() {
		return multi
	}
	return nil
}

// addSum accumulates amount into m[key].
func addSum(m map[types.Address]*uint256.Int, key types.Address, amount *uint256.Int) {
	cur, ok := m[key]
	if !ok {
		cur = new(uint256.Int)
		m[key] = cur
	}
	cur.Add(cur, amount)
}
