package usufruct

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/types"
)

// ──────────────────────────────────────────────────
// Custody queries
// ──────────────────────────────────────────────────

// Balance returns owner's holding in class.
func (l *Ledger) Balance(ctx context.Context, owner types.Address, class types.ClassID) (*uint256.Int, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("%w: balance needs an owner", ErrZeroAddress)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.Holding(ctx, class, owner)
}

// BalanceBatch returns holdings for several owner and class pairs in
// one call. The two slices pair up by index.
func (l *Ledger) BalanceBatch(ctx context.Context, owners []types.Address, classes []types.ClassID) ([]*uint256.Int, error) {
	if len(owners) != len(classes) {
		return nil, fmt.Errorf("%w: %d owners against %d classes", ErrLengthMismatch, len(owners), len(classes))
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*uint256.Int, len(owners))
	for i, owner := range owners {
		if owner.IsZero() {
			return nil, fmt.Errorf("%w: balance needs an owner", ErrZeroAddress)
		}
		b, err := l.store.Holding(ctx, classes[i], owner)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// TotalSupply returns the amount of class in circulation.
func (l *Ledger) TotalSupply(ctx context.Context, class types.ClassID) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.Supply(ctx, class)
}

// ──────────────────────────────────────────────────
// Minting and burning
// ──────────────────────────────────────────────────

// Mint creates amount of class in to's balance, growing total supply by
// the same amount. Authorization is the embedder's job.
func (l *Ledger) Mint(ctx context.Context, to types.Address, class types.ClassID, amount *uint256.Int) error {
	if to.IsZero() {
		return fmt.Errorf("%w: mint needs a recipient", ErrZeroAddress)
	}
	if amount == nil {
		amount = types.ZeroUnits()
	}

	mv, err := l.applyMint(ctx, to, class, amount)
	if err != nil {
		return err
	}

	l.finishMovement(ctx, mv)
	return nil
}

func (l *Ledger) applyMint(ctx context.Context, to types.Address, class types.ClassID, amount *uint256.Int) (*custody.Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	supply, err := l.store.Supply(ctx, class)
	if err != nil {
		return nil, err
	}
	holding, err := l.store.Holding(ctx, class, to)
	if err != nil {
		return nil, err
	}

	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return nil, fmt.Errorf("%w: minting %s would push class %s supply past 2^256-1",
			ErrAmountOverflow, amount.Dec(), class)
	}
	newHolding, overflow := new(uint256.Int).AddOverflow(holding, amount)
	if overflow {
		return nil, fmt.Errorf("%w: balance of %s in class %s", ErrAmountOverflow, to, class)
	}

	update := custody.MovementUpdate{
		Balances: []custody.BalanceWrite{{Class: class, Owner: to, Amount: newHolding}},
		Supplies: []custody.SupplyWrite{{Class: class, Amount: newSupply}},
	}
	if err := l.store.ApplyMovement(ctx, update); err != nil {
		return nil, err
	}

	return &custody.Movement{
		Kind:     custody.MovementMint,
		Class:    class,
		To:       to,
		Amount:   types.CopyUnits(amount),
		Operator: operatorOr(ctx, to),
		At:       time.Now().UTC(),
	}, nil
}

// Burn destroys amount of class from owner's balance, shrinking total
// supply. The caller must be the owner or an approved operator, and the
// transfer guard must clear the move: delegated funds cannot be burned
// away.
func (l *Ledger) Burn(ctx context.Context, owner types.Address, class types.ClassID, amount *uint256.Int) error {
	if owner.IsZero() {
		return fmt.Errorf("%w: burn needs an owner", ErrZeroAddress)
	}
	if amount == nil {
		amount = types.ZeroUnits()
	}

	mv, denial, err := l.applyBurn(ctx, owner, class, amount)
	if denial != nil {
		return l.reportDenial(ctx, denial)
	}
	if err != nil {
		return err
	}

	l.finishMovement(ctx, mv)
	return nil
}

func (l *Ledger) applyBurn(ctx context.Context, owner types.Address, class types.ClassID, amount *uint256.Int) (*custody.Movement, *rights.GuardDenial, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	actor := operatorOr(ctx, owner)
	if err := l.authorize(ctx, owner, actor); err != nil {
		return nil, nil, err
	}

	holding, err := l.store.Holding(ctx, class, owner)
	if err != nil {
		return nil, nil, err
	}
	frozen, err := l.store.Frozen(ctx, class, owner)
	if err != nil {
		return nil, nil, err
	}

	avail, underflow := new(uint256.Int).SubOverflow(holding, frozen)
	if underflow {
		return nil, nil, fmt.Errorf("%w: frozen %s exceeds balance %s for owner %s in class %s",
			ErrInconsistentState, frozen.Dec(), holding.Dec(), owner, class)
	}
	if amount.Gt(avail) {
		return nil, &rights.GuardDenial{
			Owner:     owner,
			Class:     class,
			Requested: types.CopyUnits(amount),
			Available: avail,
			At:        time.Now().UTC(),
		}, nil
	}

	supply, err := l.store.Supply(ctx, class)
	if err != nil {
		return nil, nil, err
	}
	newSupply, underflow := new(uint256.Int).SubOverflow(supply, amount)
	if underflow {
		return nil, nil, fmt.Errorf("%w: supply %s of class %s below burn of %s",
			ErrInconsistentState, supply.Dec(), class, amount.Dec())
	}
	newHolding := new(uint256.Int).Sub(holding, amount)

	update := custody.MovementUpdate{
		Balances: []custody.BalanceWrite{{Class: class, Owner: owner, Amount: newHolding}},
		Supplies: []custody.SupplyWrite{{Class: class, Amount: newSupply}},
	}
	if err := l.store.ApplyMovement(ctx, update); err != nil {
		return nil, nil, err
	}

	return &custody.Movement{
		Kind:     custody.MovementBurn,
		Class:    class,
		From:     owner,
		Amount:   types.CopyUnits(amount),
		Operator: actor,
		At:       time.Now().UTC(),
	}, nil, nil
}

// ──────────────────────────────────────────────────
// Transfers
// ──────────────────────────────────────────────────

// Transfer moves amount of class between owners. The caller must be the
// sender or an approved operator (see WithOperator), and the transfer
// guard must clear the move.
func (l *Ledger) Transfer(ctx context.Context, from, to types.Address, class types.ClassID, amount *uint256.Int) error {
	return l.TransferBatch(ctx, from, to, []types.ClassID{class}, []*uint256.Int{amount})
}

// TransferBatch moves several classes between the same two owners in
// one atomic step. Legs settle in order against running balances, and
// the transfer guard checks every leg; a single failure rejects the
// whole batch and leaves no partial state behind.
func (l *Ledger) TransferBatch(ctx context.Context, from, to types.Address, classes []types.ClassID, amounts []*uint256.Int) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%w: transfer needs sender and recipient", ErrZeroAddress)
	}
	if len(classes) != len(amounts) {
		return fmt.Errorf("%w: %d classes against %d amounts", ErrLengthMismatch, len(classes), len(amounts))
	}

	movements, denial, err := l.applyTransferBatch(ctx, from, to, classes, amounts)
	if denial != nil {
		return l.reportDenial(ctx, denial)
	}
	if err != nil {
		return err
	}

	for _, mv := range movements {
		l.finishMovement(ctx, mv)
	}
	return nil
}

// stagedKey addresses one working balance inside a batch.
type stagedKey struct {
	class   types.ClassID
	account types.Address
}

func (l *Ledger) applyTransferBatch(ctx context.Context, from, to types.Address, classes []types.ClassID, amounts []*uint256.Int) ([]*custody.Movement, *rights.GuardDenial, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	actor := operatorOr(ctx, from)
	if err := l.authorize(ctx, from, actor); err != nil {
		return nil, nil, err
	}

	// Working balances keyed by class and account. Legs settle against
	// these, so a later leg sees what an earlier leg already moved.
	staged := make(map[stagedKey]*uint256.Int)
	balance := func(class types.ClassID, account types.Address) (*uint256.Int, error) {
		key := stagedKey{class: class, account: account}
		if b, ok := staged[key]; ok {
			return b, nil
		}
		b, err := l.store.Holding(ctx, class, account)
		if err != nil {
			return nil, err
		}
		staged[key] = b
		return b, nil
	}

	now := time.Now().UTC()
	movements := make([]*custody.Movement, 0, len(classes))

	for i, class := range classes {
		amount := amounts[i]
		if amount == nil {
			amount = types.ZeroUnits()
		}

		fromBal, err := balance(class, from)
		if err != nil {
			return nil, nil, err
		}
		frozen, err := l.store.Frozen(ctx, class, from)
		if err != nil {
			return nil, nil, err
		}

		avail, underflow := new(uint256.Int).SubOverflow(fromBal, frozen)
		if underflow {
			return nil, nil, fmt.Errorf("%w: frozen %s exceeds balance %s for owner %s in class %s",
				ErrInconsistentState, frozen.Dec(), fromBal.Dec(), from, class)
		}
		if amount.Gt(avail) {
			return nil, &rights.GuardDenial{
				Owner:     from,
				Class:     class,
				Requested: types.CopyUnits(amount),
				Available: avail,
				At:        now,
			}, nil
		}

		fromBal.Sub(fromBal, amount)

		toBal, err := balance(class, to)
		if err != nil {
			return nil, nil, err
		}
		newToBal, overflow := new(uint256.Int).AddOverflow(toBal, amount)
		if overflow {
			return nil, nil, fmt.Errorf("%w: balance of %s in class %s exceeds the supply bound",
				ErrInconsistentState, to, class)
		}
		toBal.Set(newToBal)

		movements = append(movements, &custody.Movement{
			Kind:     custody.MovementTransfer,
			Class:    class,
			From:     from,
			To:       to,
			Amount:   types.CopyUnits(amount),
			Operator: actor,
			At:       now,
		})
	}

	writes := make([]custody.BalanceWrite, 0, len(staged))
	for key, bal := range staged {
		writes = append(writes, custody.BalanceWrite{Class: key.class, Owner: key.account, Amount: bal})
	}
	if err := l.store.ApplyMovement(ctx, custody.MovementUpdate{Balances: writes}); err != nil {
		return nil, nil, err
	}

	return movements, nil, nil
}

// ──────────────────────────────────────────────────
// Operator approvals
// ──────────────────────────────────────────────────

// SetOperator grants or revokes operator's right to move all of owner's
// holdings across every class. Authorization is the embedder's job:
// callers must only invoke this on behalf of the owner.
func (l *Ledger) SetOperator(ctx context.Context, owner, operator types.Address, approved bool) error {
	if owner.IsZero() || operator.IsZero() {
		return fmt.Errorf("%w: approval needs owner and operator", ErrZeroAddress)
	}
	if owner == operator {
		return fmt.Errorf("%w: owner cannot approve themselves", ErrInvalidInput)
	}

	approval := custody.Approval{
		Entity:   types.NewEntity(),
		Owner:    owner,
		Operator: operator,
	}

	l.mu.Lock()
	err := l.store.SetApproval(ctx, approval, approved)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.plugins.EmitApprovalChanged(ctx, approval, approved)

	note := "revoked"
	if approved {
		note = "granted"
	}
	l.record(ctx, &journal.Event{
		Kind:     journal.KindApproval,
		From:     owner,
		To:       operator,
		Operator: operatorOr(ctx, owner),
		Note:     note,
		At:       approval.CreatedAt,
	})

	l.logger.Debug("operator approval changed",
		"owner", owner,
		"operator", operator,
		"approved", approved,
	)

	return nil
}

// IsOperator reports whether operator may move owner's holdings.
func (l *Ledger) IsOperator(ctx context.Context, owner, operator types.Address) (bool, error) {
	if owner.IsZero() || operator.IsZero() {
		return false, fmt.Errorf("%w: approval lookup needs owner and operator", ErrZeroAddress)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.Approval(ctx, owner, operator)
}

// authorize checks that actor may move owner's funds. Callers hold at
// least the read side of the engine lock.
func (l *Ledger) authorize(ctx context.Context, owner, actor types.Address) error {
	if actor == owner {
		return nil
	}
	approved, err := l.store.Approval(ctx, owner, actor)
	if err != nil {
		return err
	}
	if !approved {
		return fmt.Errorf("%w: %s cannot move funds of %s", ErrUnauthorized, actor, owner)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Class registry
// ──────────────────────────────────────────────────

// RegisterClass records metadata for a token class. Registration is
// optional: minting, transfers and delegations never require it.
func (l *Ledger) RegisterClass(ctx context.Context, info *custody.ClassInfo) error {
	if info == nil {
		return fmt.Errorf("%w: class info is required", ErrInvalidInput)
	}
	info.Entity = types.NewEntity()

	l.mu.Lock()
	err := l.store.CreateClass(ctx, info)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.plugins.EmitClassRegistered(ctx, info)
	l.record(ctx, &journal.Event{
		Kind:  journal.KindClass,
		Class: info.Class,
		Note:  info.Name,
		At:    info.CreatedAt,
	})

	l.logger.Debug("class registered",
		"class", info.Class,
		"name", info.Name,
		"symbol", info.Symbol,
	)

	return nil
}

// GetClass retrieves metadata for a registered class.
func (l *Ledger) GetClass(ctx context.Context, class types.ClassID) (*custody.ClassInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.GetClass(ctx, class)
}

// ListClasses lists registered classes.
func (l *Ledger) ListClasses(ctx context.Context, opts custody.ListOpts) ([]*custody.ClassInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.ListClasses(ctx, opts)
}

// ──────────────────────────────────────────────────
// Movement reporting
// ──────────────────────────────────────────────────

// finishMovement reports a completed balance move to plugins and the
// journal. Callers must not hold the engine lock.
func (l *Ledger) finishMovement(ctx context.Context, mv *custody.Movement) {
	l.plugins.EmitBalanceMoved(ctx, *mv)
	l.record(ctx, &journal.Event{
		Kind:     movementJournalKind(mv.Kind),
		Class:    mv.Class,
		From:     mv.From,
		To:       mv.To,
		Operator: mv.Operator,
		Amount:   types.CopyUnits(mv.Amount),
		At:       mv.At,
	})

	l.logger.Debug("balance moved",
		"kind", mv.Kind,
		"class", mv.Class,
		"from", mv.From,
		"to", mv.To,
		"amount", types.FormatUnits(mv.Amount),
	)
}

func movementJournalKind(kind custody.MovementKind) journal.Kind {
	switch kind {
	case custody.MovementMint:
		return journal.KindMint
	case custody.MovementBurn:
		return journal.KindBurn
	default:
		return journal.KindTransfer
	}
}
