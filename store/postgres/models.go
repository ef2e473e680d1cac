package postgres

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/id"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/types"
)

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ==================== Amount conversion ====================

// unitsToNumeric converts an amount for a NUMERIC(78,0) parameter. A nil
// amount encodes as zero.
func unitsToNumeric(v *uint256.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{Int: new(big.Int), Valid: true}
	}
	return pgtype.Numeric{Int: v.ToBig(), Valid: true}
}

// nullableNumeric is unitsToNumeric except a nil amount encodes as NULL,
// for the journal's optional amount column.
func nullableNumeric(v *uint256.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return unitsToNumeric(v)
}

// numericToUnits converts a scanned NUMERIC back into a 256-bit amount.
// NULL decodes as nil.
func numericToUnits(n pgtype.Numeric) (*uint256.Int, error) {
	if !n.Valid {
		return nil, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("usufruct/postgres: amount is not a finite number")
	}

	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		return nil, fmt.Errorf("usufruct/postgres: amount %s has a fractional part", v)
	}

	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("usufruct/postgres: amount %s outside uint256 range", v)
	}
	return u, nil
}

// requireUnits is numericToUnits for NOT NULL columns; NULL decodes as
// zero rather than nil.
func requireUnits(n pgtype.Numeric) (*uint256.Int, error) {
	u, err := numericToUnits(n)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return types.ZeroUnits(), nil
	}
	return u, nil
}

// classKey stores a ClassID in a BIGINT column. The uint64 round-trips
// through int64; values above 2^63-1 persist as negatives but compare
// equal on read-back.
func classKey(c types.ClassID) int64 {
	return int64(c)
}

func classFromKey(k int64) types.ClassID {
	return types.ClassID(k)
}

// ==================== Row converters ====================

func scanGrant(row scanner) (*rights.Grant, error) {
	var (
		grantID              id.GrantID
		class                int64
		owner, grantee       string
		amount               pgtype.Numeric
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&grantID, &class, &owner, &grantee, &amount, &createdAt, &updatedAt); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("usufruct/postgres: scan grant: %w", err)
	}

	units, err := requireUnits(amount)
	if err != nil {
		return nil, err
	}

	return &rights.Grant{
		Entity: types.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:     grantID,
		Class:  classFromKey(class),
		Owner:  types.Address(owner),
		User:   types.Address(grantee),
		Amount: units,
	}, nil
}

func scanClass(row scanner) (*custody.ClassInfo, error) {
	var (
		class                int64
		name, symbol, uri    string
		metadata             map[string]string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&class, &name, &symbol, &uri, &metadata, &createdAt, &updatedAt); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("usufruct/postgres: scan class: %w", err)
	}

	return &custody.ClassInfo{
		Entity:   types.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		Class:    classFromKey(class),
		Name:     name,
		Symbol:   symbol,
		URI:      uri,
		Metadata: metadata,
	}, nil
}

func scanEvent(row scanner) (*journal.Event, error) {
	var (
		e                        journal.Event
		kind                     string
		class                    int64
		from, to, operator, note string
		amount                   pgtype.Numeric
		at                       time.Time
	)
	if err := row.Scan(&e.ID, &kind, &class, &from, &to, &operator, &amount, &note, &at); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("usufruct/postgres: scan event: %w", err)
	}

	units, err := numericToUnits(amount)
	if err != nil {
		return nil, err
	}

	e.Kind = journal.Kind(kind)
	e.Class = classFromKey(class)
	e.From = types.Address(from)
	e.To = types.Address(to)
	e.Operator = types.Address(operator)
	e.Amount = units
	e.Note = note
	e.At = at
	return &e, nil
}
