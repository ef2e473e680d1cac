package usufruct_test

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/xraph/usufruct"
	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/types"
)

func TestMint(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	if err := l.Mint(ctx, bob, testClass, types.Units(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint(ctx, bob, testClass, types.Units(250)); err != nil {
		t.Fatalf("second mint: %v", err)
	}

	balance, err := l.Balance(ctx, bob, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	checkAmount(t, "balance", balance, 750)

	supply, err := l.TotalSupply(ctx, testClass)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	checkAmount(t, "supply", supply, 750)

	if err := l.Mint(ctx, types.ZeroAddress, testClass, types.Units(1)); !errors.Is(err, usufruct.ErrZeroAddress) {
		t.Errorf("mint to zero address: got %v, want ErrZeroAddress", err)
	}

	// Nil mints nothing and succeeds.
	if err := l.Mint(ctx, bob, testClass, nil); err != nil {
		t.Errorf("nil mint: %v", err)
	}
	balance, err = l.Balance(ctx, bob, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	checkAmount(t, "balance after nil mint", balance, 750)
}

func TestMintSupplyOverflow(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	max := new(uint256.Int).Not(types.ZeroUnits())
	if err := l.Mint(ctx, alice, testClass, max); err != nil {
		t.Fatalf("mint max: %v", err)
	}

	err := l.Mint(ctx, bob, testClass, types.Units(1))
	if !errors.Is(err, usufruct.ErrAmountOverflow) {
		t.Fatalf("mint past max supply: got %v, want ErrAmountOverflow", err)
	}

	balance, err := l.Balance(ctx, bob, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	checkAmount(t, "balance after rejected mint", balance, 0)

	supply, err := l.TotalSupply(ctx, testClass)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if !supply.Eq(max) {
		t.Errorf("supply after rejected mint: got %s", supply.Dec())
	}
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	mintTo(t, l, alice, testClass, 1000)

	if err := l.Transfer(ctx, alice, bob, testClass, types.Units(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	balances := []struct {
		name  string
		owner types.Address
		want  uint64
	}{
		{"sender", alice, 600},
		{"recipient", bob, 400},
	}
	for _, b := range balances {
		got, err := l.Balance(ctx, b.owner, testClass)
		if err != nil {
			t.Fatalf("balance %s: %v", b.name, err)
		}
		checkAmount(t, b.name, got, b.want)
	}

	supply, err := l.TotalSupply(ctx, testClass)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	checkAmount(t, "supply unchanged", supply, 1000)

	if err := l.Transfer(ctx, types.ZeroAddress, bob, testClass, types.Units(1)); !errors.Is(err, usufruct.ErrZeroAddress) {
		t.Errorf("zero sender: got %v, want ErrZeroAddress", err)
	}
	if err := l.Transfer(ctx, alice, types.ZeroAddress, testClass, types.Units(1)); !errors.Is(err, usufruct.ErrZeroAddress) {
		t.Errorf("zero recipient: got %v, want ErrZeroAddress", err)
	}

	// A rejected transfer leaves both sides untouched.
	if err := l.Transfer(ctx, alice, bob, testClass, types.Units(601)); !errors.Is(err, usufruct.ErrInsufficientBalance) {
		t.Fatalf("transfer past balance: got %v, want ErrInsufficientBalance", err)
	}
	got, err := l.Balance(ctx, alice, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	checkAmount(t, "sender after rejection", got, 600)
}

func TestTransferRespectsDelegations(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	mintTo(t, l, alice, testClass, 1000)
	if err := l.Delegate(ctx, alice, carol, testClass, types.Units(300)); err != nil {
		t.Fatalf("delegate: %v", err)
	}

	if err := l.Transfer(ctx, alice, bob, testClass, types.Units(700)); err != nil {
		t.Fatalf("transfer within available: %v", err)
	}
	if err := l.Transfer(ctx, alice, bob, testClass, types.Units(1)); !errors.Is(err, usufruct.ErrInsufficientBalance) {
		t.Fatalf("transfer into frozen funds: got %v, want ErrInsufficientBalance", err)
	}

	// The delegation itself is untouched by the move.
	amount, err := l.DelegatedAmount(ctx, alice, carol, testClass)
	if err != nil {
		t.Fatalf("delegated amount: %v", err)
	}
	checkAmount(t, "delegation survives transfer", amount, 300)
}

func TestTransferToSelf(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	mintTo(t, l, alice, testClass, 500)

	if err := l.Transfer(ctx, alice, alice, testClass, types.Units(200)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	balance, err := l.Balance(ctx, alice, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	checkAmount(t, "balance after self transfer", balance, 500)

	if err := l.Transfer(ctx, alice, alice, testClass, types.Units(501)); !errors.Is(err, usufruct.ErrInsufficientBalance) {
		t.Errorf("self transfer past balance: got %v, want ErrInsufficientBalance", err)
	}
}

func TestTransferBatch(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	other := types.ClassID(2)
	mintTo(t, l, alice, testClass, 1000)
	mintTo(t, l, alice, other, 50)

	err := l.TransferBatch(ctx, alice, bob, []types.ClassID{testClass}, []*uint256.Int{types.Units(1), types.Units(2)})
	if !errors.Is(err, usufruct.ErrLengthMismatch) {
		t.Fatalf("mismatched slices: got %v, want ErrLengthMismatch", err)
	}

	// Second leg fails, so the first leg must not settle either.
	err = l.TransferBatch(ctx, alice, bob,
		[]types.ClassID{testClass, other},
		[]*uint256.Int{types.Units(100), types.Units(100)},
	)
	if !errors.Is(err, usufruct.ErrInsufficientBalance) {
		t.Fatalf("partial batch: got %v, want ErrInsufficientBalance", err)
	}
	balance, err := l.Balance(ctx, alice, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	checkAmount(t, "first leg rolled back", balance, 1000)

	// A clean batch settles every leg.
	err = l.TransferBatch(ctx, alice, bob,
		[]types.ClassID{testClass, other},
		[]*uint256.Int{types.Units(100), types.Units(50)},
	)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	for _, check := range []struct {
		class types.ClassID
		want  uint64
	}{{testClass, 100}, {other, 50}} {
		got, err := l.Balance(ctx, bob, check.class)
		if err != nil {
			t.Fatalf("balance class %d: %v", check.class, err)
		}
		checkAmount(t, "recipient leg", got, check.want)
	}
}

func TestTransferBatchRunningBalance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	mintTo(t, l, alice, testClass, 1000)

	// Two legs in the same class settle against a running balance, so
	// together they may spend exactly what one leg alone could.
	err := l.TransferBatch(ctx, alice, bob,
		[]types.ClassID{testClass, testClass},
		[]*uint256.Int{types.Units(600), types.Units(400)},
	)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	balance, err := l.Balance(ctx, bob, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	checkAmount(t, "recipient", balance, 1000)

	mintTo(t, l, alice, testClass, 500)
	err = l.TransferBatch(ctx, alice, bob,
		[]types.ClassID{testClass, testClass},
		[]*uint256.Int{types.Units(400), types.Units(101)},
	)
	if !errors.Is(err, usufruct.ErrInsufficientBalance) {
		t.Fatalf("overspending batch: got %v, want ErrInsufficientBalance", err)
	}
	balance, err = l.Balance(ctx, alice, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	checkAmount(t, "sender after rejected batch", balance, 500)
}

func TestBurn(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	mintTo(t, l, alice, testClass, 1000)

	if err := l.Burn(ctx, alice, testClass, types.Units(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	balance, err := l.Balance(ctx, alice, testClass)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	checkAmount(t, "balance", balance, 600)

	supply, err := l.TotalSupply(ctx, testClass)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	checkAmount(t, "supply", supply, 600)

	if err := l.Burn(ctx, alice, testClass, types.Units(601)); !errors.Is(err, usufruct.ErrInsufficientBalance) {
		t.Errorf("burn past balance: got %v, want ErrInsufficientBalance", err)
	}
	if err := l.Burn(ctx, types.ZeroAddress, testClass, types.Units(1)); !errors.Is(err, usufruct.ErrZeroAddress) {
		t.Errorf("burn from zero address: got %v, want ErrZeroAddress", err)
	}
}

func TestBurnRespectsDelegations(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	mintTo(t, l, alice, testClass, 600)
	if err := l.Delegate(ctx, alice, bob, testClass, types.Units(500)); err != nil {
		t.Fatalf("delegate: %v", err)
	}

	if err := l.Burn(ctx, alice, testClass, types.Units(101)); !errors.Is(err, usufruct.ErrInsufficientBalance) {
		t.Fatalf("burn into frozen funds: got %v, want ErrInsufficientBalance", err)
	}
	if err := l.Burn(ctx, alice, testClass, types.Units(100)); err != nil {
		t.Fatalf("burn within available: %v", err)
	}

	supply, err := l.TotalSupply(ctx, testClass)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	checkAmount(t, "supply", supply, 500)
}

func TestOperatorApprovals(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	mintTo(t, l, alice, testClass, 1000)

	if err := l.SetOperator(ctx, types.ZeroAddress, dave, true); !errors.Is(err, usufruct.ErrZeroAddress) {
		t.Errorf("zero owner: got %v, want ErrZeroAddress", err)
	}
	if err := l.SetOperator(ctx, alice, alice, true); !errors.Is(err, usufruct.ErrInvalidInput) {
		t.Errorf("self approval: got %v, want ErrInvalidInput", err)
	}

	approved, err := l.IsOperator(ctx, alice, dave)
	if err != nil {
		t.Fatalf("is operator: %v", err)
	}
	if approved {
		t.Error("operator approved before any grant")
	}

	// Unapproved operators cannot move or burn the owner's funds.
	opCtx := usufruct.WithOperator(ctx, dave)
	if err := l.Transfer(opCtx, alice, bob, testClass, types.Units(100)); !errors.Is(err, usufruct.ErrUnauthorized) {
		t.Fatalf("unapproved transfer: got %v, want ErrUnauthorized", err)
	}
	if err := l.Burn(opCtx, alice, testClass, types.Units(100)); !errors.Is(err, usufruct.ErrUnauthorized) {
		t.Fatalf("unapproved burn: got %v, want ErrUnauthorized", err)
	}

	if err := l.SetOperator(ctx, alice, dave, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	approved, err = l.IsOperator(ctx, alice, dave)
	if err != nil {
		t.Fatalf("is operator: %v", err)
	}
	if !approved {
		t.Fatal("operator not approved after grant")
	}

	if err := l.Transfer(opCtx, alice, bob, testClass, types.Units(100)); err != nil {
		t.Fatalf("approved transfer: %v", err)
	}
	if err := l.Burn(opCtx, alice, testClass, types.Units(100)); err != nil {
		t.Fatalf("approved burn: %v", err)
	}

	// Revocation closes the door again.
	if err := l.SetOperator(ctx, alice, dave, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := l.Transfer(opCtx, alice, bob, testClass, types.Units(100)); !errors.Is(err, usufruct.ErrUnauthorized) {
		t.Fatalf("transfer after revocation: got %v, want ErrUnauthorized", err)
	}
}

func TestClassRegistry(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	if err := l.RegisterClass(ctx, nil); !errors.Is(err, usufruct.ErrInvalidInput) {
		t.Errorf("nil info: got %v, want ErrInvalidInput", err)
	}

	infos := []*custody.ClassInfo{
		{Class: 3, Name: "Gold", Symbol: "GLD", URI: "https://example.com/gold.json"},
		{Class: 1, Name: "Silver", Symbol: "SLV", Metadata: map[string]string{"grade": "999"}},
		{Class: 2, Name: "Copper"},
	}
	for _, info := range infos {
		if err := l.RegisterClass(ctx, info); err != nil {
			t.Fatalf("register %s: %v", info.Name, err)
		}
	}

	err := l.RegisterClass(ctx, &custody.ClassInfo{Class: 1, Name: "Silver again"})
	if !errors.Is(err, usufruct.ErrClassExists) {
		t.Fatalf("duplicate class: got %v, want ErrClassExists", err)
	}

	got, err := l.GetClass(ctx, 1)
	if err != nil {
		t.Fatalf("get class: %v", err)
	}
	if got.Name != "Silver" || got.Symbol != "SLV" {
		t.Errorf("class 1: got %s/%s", got.Name, got.Symbol)
	}
	if got.Metadata["grade"] != "999" {
		t.Errorf("class 1 metadata: got %v", got.Metadata)
	}
	if got.CreatedAt.IsZero() {
		t.Error("class 1 missing creation time")
	}

	_, err = l.GetClass(ctx, 99)
	if !errors.Is(err, usufruct.ErrClassNotFound) {
		t.Fatalf("missing class: got %v, want ErrClassNotFound", err)
	}
	if !usufruct.IsNotFound(err) {
		t.Errorf("expected not-found classification for %v", err)
	}

	list, err := l.ListClasses(ctx, custody.ListOpts{})
	if err != nil {
		t.Fatalf("list classes: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list: got %d classes, want 3", len(list))
	}
	for i, want := range []types.ClassID{1, 2, 3} {
		if list[i].Class != want {
			t.Errorf("list[%d]: got class %d, want %d", i, list[i].Class, want)
		}
	}

	page, err := l.ListClasses(ctx, custody.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("page: got %d classes, want 1", len(page))
	}
	if page[0].Class != 2 {
		t.Errorf("page: got class %d, want 2", page[0].Class)
	}
}

func TestBalanceBatch(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	other := types.ClassID(2)
	mintTo(t, l, alice, testClass, 100)
	mintTo(t, l, bob, other, 200)

	_, err := l.BalanceBatch(ctx, []types.Address{alice}, []types.ClassID{testClass, other})
	if !errors.Is(err, usufruct.ErrLengthMismatch) {
		t.Fatalf("mismatched slices: got %v, want ErrLengthMismatch", err)
	}
	_, err = l.BalanceBatch(ctx, []types.Address{alice, types.ZeroAddress}, []types.ClassID{testClass, other})
	if !errors.Is(err, usufruct.ErrZeroAddress) {
		t.Fatalf("zero owner: got %v, want ErrZeroAddress", err)
	}

	got, err := l.BalanceBatch(ctx,
		[]types.Address{alice, bob, carol},
		[]types.ClassID{testClass, other, testClass},
	)
	if err != nil {
		t.Fatalf("balance batch: %v", err)
	}
	wants := []uint64{100, 200, 0}
	if len(got) != len(wants) {
		t.Fatalf("got %d balances, want %d", len(got), len(wants))
	}
	for i, want := range wants {
		checkAmount(t, "batch balance", got[i], want)
	}
}
