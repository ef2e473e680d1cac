// Package usufruct provides an embeddable delegated usage-rights ledger
// over multi-class token custody.
//
// Usufruct is designed as a library, not a service. Import it directly into
// your Go application for maximum performance and flexibility. It provides:
//
//   - Replace-style delegation of usage rights with three always-consistent
//     views: per-pair allowance, per-owner frozen total, per-user usage total
//   - A read-only transfer guard that fences delegated funds out of every
//     balance-reducing move
//   - Built-in multi-class custody: mint, transfer, batch transfer, burn and
//     operator approvals
//   - Pluggable custodial balance sources for external token stores
//   - An append-only journal with batched background ingestion
//   - Checked 256-bit arithmetic throughout (holiman/uint256)
//
// # Quick Start
//
// Create a ledger instance with your preferred store:
//
//	import (
//	    "github.com/xraph/usufruct"
//	    "github.com/xraph/usufruct/store/postgres"
//	)
//
//	// Initialize store
//	st, err := postgres.New(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create ledger
//	l := usufruct.New(st)
//
//	// Start the ledger (begins background workers)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// Owners hold balances of token classes. Delegation lends the right to use
// part of a balance without moving it:
//
//	// alice lends bob the use of 300 units of class 7
//	err := l.Delegate(ctx, "alice", "bob", 7, usufruct.Units(300))
//
// Delegating replaces the previous allowance between the same pair, so the
// same call resizes or revokes a delegation:
//
//	err = l.Delegate(ctx, "alice", "bob", 7, usufruct.Units(120)) // resize
//	err = l.Delegate(ctx, "alice", "bob", 7, nil)                 // revoke
//
// The transfer guard keeps delegated funds in place until the owner takes
// them back:
//
//	if err := l.GuardTransfer(ctx, "alice", 7, amount); err != nil {
//	    // amount would eat into bob's delegated 300 units
//	}
//
// Queries answer both sides of the relationship:
//
//	usable, _ := l.UsageBalance(ctx, "bob", 7)    // sum of bob's incoming delegations
//	frozen, _ := l.FrozenBalance(ctx, "alice", 7) // sum of alice's outgoing delegations
//
// # Arithmetic
//
// All amounts are unsigned 256-bit integers (holiman/uint256). Every
// addition and subtraction on ledger state is overflow-checked. Amounts
// that cannot be covered surface ErrInsufficientBalance; impossible states
// surface ErrInconsistentState. A failed operation changes nothing.
//
// # Integration
//
// Usufruct integrates with the Forge ecosystem:
//
//   - Forge: extension adapter with YAML configuration (extension package)
//   - Vessel: DI registration of the engine
//   - Plugins: lifecycle hooks for delegations, guard denials and movements
//
// # TypeID
//
// Grants and journal events use TypeID for globally unique, type-safe
// identifiers:
//
//	grant_01h2xcejqtf2nbrexx3vqjhp41 // Grant ID
//	levt_01h455vb4pex5vsknk084sn02q  // Journal event ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package usufruct
