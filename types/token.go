// Package types provides common types used across the usufruct ledger.
package types

import (
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
)

// Address identifies an account holding custody balances or usage rights.
// The empty string is the null sentinel: operations reject it as a
// participant, and nothing can be delegated to or held by it.
type Address string

// ZeroAddress is the null account sentinel.
const ZeroAddress Address = ""

// IsZero reports whether the address is the null sentinel.
func (a Address) IsZero() bool { return a == ZeroAddress }

// String returns the address as a plain string.
func (a Address) String() string { return string(a) }

// ClassID identifies one fungible token class within the ledger.
// Classes are plain unsigned integers; the ledger attaches no meaning
// to the value itself.
type ClassID uint64

// String returns the class id in decimal.
func (c ClassID) String() string { return strconv.FormatUint(uint64(c), 10) }

// Amount constructors
//
// All quantities in the ledger are 256-bit unsigned integers in the token's
// smallest unit. Arithmetic on them is always explicit and checked; these
// helpers only construct, copy and render values.

// Units returns an amount of n base units.
func Units(n uint64) *uint256.Int { return uint256.NewInt(n) }

// ZeroUnits returns a fresh zero amount.
func ZeroUnits() *uint256.Int { return new(uint256.Int) }

// ParseUnits parses a base-10 amount string. The input must be unsigned
// digits only; values above 2^256-1 are rejected.
func ParseUnits(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("types: parse units %q: %w", s, err)
	}
	return v, nil
}

// MustParseUnits is ParseUnits for literals; it panics on malformed input.
func MustParseUnits(s string) *uint256.Int {
	v, err := ParseUnits(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders an amount in base 10. A nil amount renders as "0",
// matching the ledger convention that absent means zero.
func FormatUnits(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// CopyUnits returns an owned copy of v, treating nil as zero. Stores and
// the engine copy on both read and write so callers never alias ledger
// state through a returned pointer.
func CopyUnits(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

// EqualUnits reports whether two amounts are numerically equal, treating
// nil as zero on either side.
func EqualUnits(a, b *uint256.Int) bool {
	if a == nil {
		a = new(uint256.Int)
	}
	if b == nil {
		b = new(uint256.Int)
	}
	return a.Eq(b)
}
