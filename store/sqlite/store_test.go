package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/xraph/usufruct"
	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/id"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/types"
)

const class = types.ClassID(7)

var (
	owner = types.Address("acct_owner")
	user  = types.Address("acct_user")
	other = types.Address("acct_other")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "usufruct.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func entityAt(ts time.Time) types.Entity {
	return types.Entity{CreatedAt: ts, UpdatedAt: ts}
}

func TestMigrateRerunIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	// The schema is still usable after the rerun.
	upd := custody.MovementUpdate{
		Balances: []custody.BalanceWrite{{Class: class, Owner: owner, Amount: types.Units(10)}},
	}
	if err := s.ApplyMovement(ctx, upd); err != nil {
		t.Fatalf("movement after rerun: %v", err)
	}
}

func TestReadsDefaultToZero(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	reads := []struct {
		name string
		read func() (*uint256.Int, error)
	}{
		{"allowance", func() (*uint256.Int, error) { return s.Allowance(ctx, class, owner, user) }},
		{"frozen", func() (*uint256.Int, error) { return s.Frozen(ctx, class, owner) }},
		{"usage", func() (*uint256.Int, error) { return s.Usage(ctx, class, user) }},
		{"holding", func() (*uint256.Int, error) { return s.Holding(ctx, class, owner) }},
		{"supply", func() (*uint256.Int, error) { return s.Supply(ctx, class) }},
	}
	for _, r := range reads {
		t.Run(r.name, func(t *testing.T) {
			got, err := r.read()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !got.IsZero() {
				t.Errorf("got %s on empty store, want zero", got.Dec())
			}
		})
	}
}

func TestDelegationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ts := time.Date(2024, 6, 1, 12, 30, 45, 123456789, time.UTC)
	grantID := id.NewGrantID()
	upd := rights.DelegationUpdate{
		Grant: rights.Grant{
			Entity: entityAt(ts),
			ID:     grantID,
			Class:  class,
			Owner:  owner,
			User:   user,
			Amount: types.Units(300),
		},
		Frozen: types.Units(300),
		Usage:  types.Units(300),
	}
	if err := s.ApplyDelegation(ctx, upd); err != nil {
		t.Fatalf("apply: %v", err)
	}

	allowance, err := s.Allowance(ctx, class, owner, user)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if !allowance.Eq(types.Units(300)) {
		t.Errorf("allowance: got %s, want 300", allowance.Dec())
	}

	grants, err := s.ListGrants(ctx, rights.GrantFilter{}, rights.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("got %d grants, want 1", len(grants))
	}
	g := grants[0]
	if g.ID.String() != grantID.String() {
		t.Errorf("grant id: got %s, want %s", g.ID, grantID)
	}
	if g.Owner != owner || g.User != user || g.Class != class {
		t.Errorf("grant identity: got %s->%s class %d", g.Owner, g.User, g.Class)
	}
	if !g.CreatedAt.Equal(ts) {
		t.Errorf("created at: got %s, want %s", g.CreatedAt, ts)
	}

	// Replacement overwrites the row in place.
	upd.Grant.ID = id.NewGrantID()
	upd.Grant.Amount = types.Units(500)
	upd.Frozen = types.Units(500)
	upd.Usage = types.Units(500)
	if err := s.ApplyDelegation(ctx, upd); err != nil {
		t.Fatalf("replace: %v", err)
	}
	grants, err = s.ListGrants(ctx, rights.GrantFilter{}, rights.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("after replace: got %d grants, want 1", len(grants))
	}
	if !grants[0].Amount.Eq(types.Units(500)) {
		t.Errorf("replaced amount: got %s, want 500", grants[0].Amount.Dec())
	}

	// A zero update deletes the grant and both total rows.
	upd.Grant.Amount = types.ZeroUnits()
	upd.Frozen = types.ZeroUnits()
	upd.Usage = types.ZeroUnits()
	if err := s.ApplyDelegation(ctx, upd); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	grants, err = s.ListGrants(ctx, rights.GrantFilter{}, rights.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("after revoke: got %d grants, want 0", len(grants))
	}
	frozen, err := s.Frozen(ctx, class, owner)
	if err != nil {
		t.Fatalf("frozen: %v", err)
	}
	if !frozen.IsZero() {
		t.Errorf("frozen after revoke: got %s", frozen.Dec())
	}
}

func TestListGrantsFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []struct {
		class types.ClassID
		owner types.Address
		user  types.Address
	}{
		{2, "acct_b", "acct_x"},
		{1, "acct_b", "acct_y"},
		{1, "acct_a", "acct_z"},
		{1, "acct_b", "acct_x"},
	}
	for _, r := range rows {
		upd := rights.DelegationUpdate{
			Grant: rights.Grant{
				Entity: entityAt(ts),
				ID:     id.NewGrantID(),
				Class:  r.class,
				Owner:  r.owner,
				User:   r.user,
				Amount: types.Units(1),
			},
			Frozen: types.Units(1),
			Usage:  types.Units(1),
		}
		if err := s.ApplyDelegation(ctx, upd); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	all, err := s.ListGrants(ctx, rights.GrantFilter{}, rights.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantOrder := []struct {
		class types.ClassID
		owner types.Address
		user  types.Address
	}{
		{1, "acct_a", "acct_z"},
		{1, "acct_b", "acct_x"},
		{1, "acct_b", "acct_y"},
		{2, "acct_b", "acct_x"},
	}
	if len(all) != len(wantOrder) {
		t.Fatalf("got %d grants, want %d", len(all), len(wantOrder))
	}
	for i, want := range wantOrder {
		g := all[i]
		if g.Class != want.class || g.Owner != want.owner || g.User != want.user {
			t.Errorf("all[%d]: got class %d %s->%s", i, g.Class, g.Owner, g.User)
		}
	}

	classOne := types.ClassID(1)
	tests := []struct {
		name   string
		filter rights.GrantFilter
		opts   rights.ListOpts
		want   int
	}{
		{"by class", rights.GrantFilter{Class: &classOne}, rights.ListOpts{}, 3},
		{"by owner", rights.GrantFilter{Owner: "acct_b"}, rights.ListOpts{}, 3},
		{"by user", rights.GrantFilter{User: "acct_x"}, rights.ListOpts{}, 2},
		{"combined", rights.GrantFilter{Class: &classOne, Owner: "acct_b"}, rights.ListOpts{}, 2},
		{"limit", rights.GrantFilter{}, rights.ListOpts{Limit: 2}, 2},
		{"offset", rights.GrantFilter{}, rights.ListOpts{Offset: 3}, 1},
		{"offset past end", rights.GrantFilter{}, rights.ListOpts{Offset: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListGrants(ctx, tt.filter, tt.opts)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d grants, want %d", len(got), tt.want)
			}
		})
	}
}

func TestMovementRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	upd := custody.MovementUpdate{
		Balances: []custody.BalanceWrite{
			{Class: class, Owner: owner, Amount: types.Units(600)},
			{Class: class, Owner: user, Amount: types.Units(400)},
		},
		Supplies: []custody.SupplyWrite{{Class: class, Amount: types.Units(1000)}},
	}
	if err := s.ApplyMovement(ctx, upd); err != nil {
		t.Fatalf("apply: %v", err)
	}

	holding, err := s.Holding(ctx, class, owner)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if !holding.Eq(types.Units(600)) {
		t.Errorf("holding: got %s, want 600", holding.Dec())
	}
	supply, err := s.Supply(ctx, class)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if !supply.Eq(types.Units(1000)) {
		t.Errorf("supply: got %s, want 1000", supply.Dec())
	}

	// Zero writes delete the rows.
	upd = custody.MovementUpdate{
		Balances: []custody.BalanceWrite{{Class: class, Owner: owner, Amount: types.ZeroUnits()}},
		Supplies: []custody.SupplyWrite{{Class: class, Amount: nil}},
	}
	if err := s.ApplyMovement(ctx, upd); err != nil {
		t.Fatalf("zero apply: %v", err)
	}
	holding, err = s.Holding(ctx, class, owner)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if !holding.IsZero() {
		t.Errorf("holding after zero write: got %s", holding.Dec())
	}
	supply, err = s.Supply(ctx, class)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if !supply.IsZero() {
		t.Errorf("supply after zero write: got %s", supply.Dec())
	}
}

func TestMaxAmountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	max := types.MustParseUnits("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	upd := custody.MovementUpdate{
		Balances: []custody.BalanceWrite{{Class: class, Owner: owner, Amount: max}},
	}
	if err := s.ApplyMovement(ctx, upd); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, err := s.Holding(ctx, class, owner)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if !got.Eq(max) {
		t.Errorf("max amount: got %s", got.Dec())
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.Approval(ctx, owner, other)
	if err != nil {
		t.Fatalf("approval: %v", err)
	}
	if ok {
		t.Error("approval on empty store")
	}

	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	approval := custody.Approval{Entity: entityAt(ts), Owner: owner, Operator: other}
	if err := s.SetApproval(ctx, approval, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Setting again updates in place instead of failing on the key.
	if err := s.SetApproval(ctx, approval, true); err != nil {
		t.Fatalf("set again: %v", err)
	}

	ok, err = s.Approval(ctx, owner, other)
	if err != nil {
		t.Fatalf("approval: %v", err)
	}
	if !ok {
		t.Error("approval not recorded")
	}

	if err := s.SetApproval(ctx, approval, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ok, err = s.Approval(ctx, owner, other)
	if err != nil {
		t.Fatalf("approval: %v", err)
	}
	if ok {
		t.Error("approval survived revocation")
	}
}

func TestClassRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	infos := []*custody.ClassInfo{
		{Entity: entityAt(ts), Class: 3, Name: "Gold", Symbol: "GLD", URI: "https://example.com/gold.json",
			Metadata: map[string]string{"grade": "999", "mint": "zurich"}},
		{Entity: entityAt(ts), Class: 1, Name: "Silver", Symbol: "SLV"},
	}
	for _, info := range infos {
		if err := s.CreateClass(ctx, info); err != nil {
			t.Fatalf("create %s: %v", info.Name, err)
		}
	}

	err := s.CreateClass(ctx, &custody.ClassInfo{Entity: entityAt(ts), Class: 1, Name: "Silver again"})
	if !errors.Is(err, usufruct.ErrClassExists) {
		t.Fatalf("duplicate: got %v, want ErrClassExists", err)
	}

	got, err := s.GetClass(ctx, 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Gold" || got.Symbol != "GLD" || got.URI != "https://example.com/gold.json" {
		t.Errorf("class 3: got %s/%s/%s", got.Name, got.Symbol, got.URI)
	}
	if got.Metadata["grade"] != "999" || got.Metadata["mint"] != "zurich" {
		t.Errorf("class 3 metadata: got %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(ts) {
		t.Errorf("class 3 created at: got %s, want %s", got.CreatedAt, ts)
	}

	// A class stored without metadata reads back with none.
	got, err = s.GetClass(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Metadata) != 0 {
		t.Errorf("class 1 metadata: got %v, want none", got.Metadata)
	}

	if _, err := s.GetClass(ctx, 99); !errors.Is(err, usufruct.ErrClassNotFound) {
		t.Fatalf("missing: got %v, want ErrClassNotFound", err)
	}

	list, err := s.ListClasses(ctx, custody.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Class != 1 || list[1].Class != 3 {
		t.Errorf("list order: got %d classes", len(list))
	}

	page, err := s.ListClasses(ctx, custody.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 1 || page[0].Class != 3 {
		t.Errorf("page: got %d classes", len(page))
	}
}

func TestJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []*journal.Event{
		{ID: id.NewEventID(), Kind: journal.KindMint, Class: class, To: owner,
			Amount: types.Units(1000), At: base},
		{ID: id.NewEventID(), Kind: journal.KindDelegation, Class: class, From: owner, To: user,
			Amount: types.Units(300), At: base.Add(time.Minute)},
		{ID: id.NewEventID(), Kind: journal.KindApproval, From: owner, To: other,
			Note: "granted", At: base.Add(2 * time.Minute)},
	}
	if err := s.AppendEvents(ctx, events); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := s.QueryEvents(ctx, journal.QueryOpts{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	// Oldest first.
	for i, want := range []journal.Kind{journal.KindMint, journal.KindDelegation, journal.KindApproval} {
		if all[i].Kind != want {
			t.Errorf("all[%d]: got kind %s, want %s", i, all[i].Kind, want)
		}
	}
	if all[0].ID.String() != events[0].ID.String() {
		t.Errorf("event id: got %s, want %s", all[0].ID, events[0].ID)
	}
	if !all[0].Amount.Eq(types.Units(1000)) {
		t.Errorf("event amount: got %s, want 1000", all[0].Amount.Dec())
	}
	if !all[0].At.Equal(base) {
		t.Errorf("event at: got %s, want %s", all[0].At, base)
	}
	// The approval event has no amount at all.
	if all[2].Amount != nil {
		t.Errorf("approval amount: got %s, want nil", all[2].Amount.Dec())
	}
	if all[2].Note != "granted" {
		t.Errorf("approval note: got %q", all[2].Note)
	}

	eventClass := class
	tests := []struct {
		name string
		opts journal.QueryOpts
		want int
	}{
		{"by kind", journal.QueryOpts{Kind: journal.KindDelegation}, 1},
		{"by class", journal.QueryOpts{Class: &eventClass}, 2},
		{"by address", journal.QueryOpts{Address: user}, 1},
		{"window start inclusive", journal.QueryOpts{Start: base.Add(time.Minute)}, 2},
		{"window end inclusive", journal.QueryOpts{End: base.Add(time.Minute)}, 2},
		{"limit", journal.QueryOpts{Limit: 2}, 2},
		{"offset", journal.QueryOpts{Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryEvents(ctx, tt.opts)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}

	pruned, err := s.PruneEvents(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d events, want 1", pruned)
	}
	rest, err := s.QueryEvents(ctx, journal.QueryOpts{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("got %d events after prune, want 2", len(rest))
	}
}
