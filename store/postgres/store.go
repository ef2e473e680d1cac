// Package postgres provides a PostgreSQL-backed store for the usufruct
// ledger using pgx connection pools. Amounts are stored as NUMERIC(78,0),
// wide enough for any 256-bit value; all arithmetic happens in the
// engine, never in SQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/usufruct"
	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/store"
	"github.com/xraph/usufruct/types"
)

// Store implements store.Store on a PostgreSQL database.
type Store struct {
	pool *pgxpool.Pool
}

// compile-time interface check
var _ store.Store = (*Store)(nil)

// New connects to the database at dsn and returns a store bound to a new
// connection pool.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("usufruct/postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing connection pool. The caller keeps
// ownership of pool configuration.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// readAmount loads one amount cell, treating a missing row as zero.
func (s *Store) readAmount(ctx context.Context, query string, args ...any) (*uint256.Int, error) {
	var amount pgtype.Numeric
	err := s.pool.QueryRow(ctx, query, args...).Scan(&amount)
	if isNoRows(err) {
		return types.ZeroUnits(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("usufruct/postgres: read amount: %w", err)
	}
	return requireUnits(amount)
}

// setTotal overwrites one aggregate amount row inside tx, deleting it when
// the new value is zero. The table's primary key must be (class, keyCol).
func setTotal(ctx context.Context, tx pgx.Tx, table, keyCol string, class types.ClassID, addr types.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		query := fmt.Sprintf(`DELETE FROM %s WHERE class = $1 AND %s = $2`, table, keyCol)
		if _, err := tx.Exec(ctx, query, classKey(class), string(addr)); err != nil {
			return fmt.Errorf("usufruct/postgres: clear %s: %w", table, err)
		}
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (class, %s, amount) VALUES ($1, $2, $3)
ON CONFLICT (class, %s) DO UPDATE SET amount = EXCLUDED.amount`, table, keyCol, keyCol)
	if _, err := tx.Exec(ctx, query, classKey(class), string(addr), unitsToNumeric(amount)); err != nil {
		return fmt.Errorf("usufruct/postgres: write %s: %w", table, err)
	}
	return nil
}

// ==================== Rights Store ====================

func (s *Store) Allowance(ctx context.Context, class types.ClassID, owner, user types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_grants WHERE class = $1 AND owner = $2 AND grantee = $3`,
		classKey(class), string(owner), string(user))
}

func (s *Store) Frozen(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_frozen WHERE class = $1 AND owner = $2`,
		classKey(class), string(owner))
}

func (s *Store) Usage(ctx context.Context, class types.ClassID, user types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_usage WHERE class = $1 AND grantee = $2`,
		classKey(class), string(user))
}

func (s *Store) ApplyDelegation(ctx context.Context, upd rights.DelegationUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("usufruct/postgres: begin delegation: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	g := upd.Grant
	if g.Amount == nil || g.Amount.IsZero() {
		_, err = tx.Exec(ctx,
			`DELETE FROM usufruct_grants WHERE class = $1 AND owner = $2 AND grantee = $3`,
			classKey(g.Class), string(g.Owner), string(g.User))
	} else {
		_, err = tx.Exec(ctx, `
INSERT INTO usufruct_grants (id, class, owner, grantee, amount, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (class, owner, grantee) DO UPDATE SET
    id = EXCLUDED.id,
    amount = EXCLUDED.amount,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at`,
			g.ID, classKey(g.Class), string(g.Owner), string(g.User),
			unitsToNumeric(g.Amount), g.CreatedAt.UTC(), g.UpdatedAt.UTC())
	}
	if err != nil {
		return fmt.Errorf("usufruct/postgres: write grant: %w", err)
	}

	if err := setTotal(ctx, tx, "usufruct_frozen", "owner", g.Class, g.Owner, upd.Frozen); err != nil {
		return err
	}
	if err := setTotal(ctx, tx, "usufruct_usage", "grantee", g.Class, g.User, upd.Usage); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("usufruct/postgres: commit delegation: %w", err)
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, filter rights.GrantFilter, opts rights.ListOpts) ([]*rights.Grant, error) {
	var (
		where []string
		args  []any
	)
	if filter.Class != nil {
		args = append(args, classKey(*filter.Class))
		where = append(where, fmt.Sprintf("class = $%d", len(args)))
	}
	if !filter.Owner.IsZero() {
		args = append(args, string(filter.Owner))
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}
	if !filter.User.IsZero() {
		args = append(args, string(filter.User))
		where = append(where, fmt.Sprintf("grantee = $%d", len(args)))
	}

	query := `SELECT id, class, owner, grantee, amount, created_at, updated_at FROM usufruct_grants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY class, owner, grantee"
	query, args = appendWindow(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usufruct/postgres: list grants: %w", err)
	}
	defer rows.Close()

	result := make([]*rights.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usufruct/postgres: list grants: %w", err)
	}
	return result, nil
}

// ==================== Custody Store ====================

func (s *Store) Holding(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_holdings WHERE class = $1 AND owner = $2`,
		classKey(class), string(owner))
}

func (s *Store) Supply(ctx context.Context, class types.ClassID) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_supplies WHERE class = $1`,
		classKey(class))
}

func (s *Store) ApplyMovement(ctx context.Context, upd custody.MovementUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("usufruct/postgres: begin movement: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, bw := range upd.Balances {
		if err := setTotal(ctx, tx, "usufruct_holdings", "owner", bw.Class, bw.Owner, bw.Amount); err != nil {
			return err
		}
	}
	for _, sw := range upd.Supplies {
		if sw.Amount == nil || sw.Amount.IsZero() {
			_, err = tx.Exec(ctx,
				`DELETE FROM usufruct_supplies WHERE class = $1`, classKey(sw.Class))
		} else {
			_, err = tx.Exec(ctx, `
INSERT INTO usufruct_supplies (class, amount) VALUES ($1, $2)
ON CONFLICT (class) DO UPDATE SET amount = EXCLUDED.amount`,
				classKey(sw.Class), unitsToNumeric(sw.Amount))
		}
		if err != nil {
			return fmt.Errorf("usufruct/postgres: write supply: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("usufruct/postgres: commit movement: %w", err)
	}
	return nil
}

func (s *Store) Approval(ctx context.Context, owner, operator types.Address) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM usufruct_approvals WHERE owner = $1 AND operator = $2`,
		string(owner), string(operator)).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("usufruct/postgres: read approval: %w", err)
	}
	return true, nil
}

func (s *Store) SetApproval(ctx context.Context, approval custody.Approval, approved bool) error {
	if !approved {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM usufruct_approvals WHERE owner = $1 AND operator = $2`,
			string(approval.Owner), string(approval.Operator))
		if err != nil {
			return fmt.Errorf("usufruct/postgres: delete approval: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO usufruct_approvals (owner, operator, created_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner, operator) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		string(approval.Owner), string(approval.Operator),
		approval.CreatedAt.UTC(), approval.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("usufruct/postgres: write approval: %w", err)
	}
	return nil
}

func (s *Store) CreateClass(ctx context.Context, info *custody.ClassInfo) error {
	ct, err := s.pool.Exec(ctx, `
INSERT INTO usufruct_classes (class, name, symbol, uri, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (class) DO NOTHING`,
		classKey(info.Class), info.Name, info.Symbol, info.URI, info.Metadata,
		info.CreatedAt.UTC(), info.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("usufruct/postgres: create class: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return usufruct.ErrClassExists
	}
	return nil
}

func (s *Store) GetClass(ctx context.Context, class types.ClassID) (*custody.ClassInfo, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT class, name, symbol, uri, metadata, created_at, updated_at FROM usufruct_classes WHERE class = $1`,
		classKey(class))

	info, err := scanClass(row)
	if isNoRows(err) {
		return nil, usufruct.ErrClassNotFound
	}
	return info, err
}

func (s *Store) ListClasses(ctx context.Context, opts custody.ListOpts) ([]*custody.ClassInfo, error) {
	query := `SELECT class, name, symbol, uri, metadata, created_at, updated_at FROM usufruct_classes ORDER BY class`
	query, args := appendWindow(query, nil, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usufruct/postgres: list classes: %w", err)
	}
	defer rows.Close()

	result := make([]*custody.ClassInfo, 0)
	for rows.Next() {
		info, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usufruct/postgres: list classes: %w", err)
	}
	return result, nil
}

// ==================== Journal Store ====================

func (s *Store) AppendEvents(ctx context.Context, events []*journal.Event) error {
	if len(events) == 0 {
		return nil
	}

	// A single pipeline batch executes in one implicit transaction.
	b := &pgx.Batch{}
	for _, e := range events {
		b.Queue(`
INSERT INTO usufruct_journal (id, kind, class, from_addr, to_addr, operator, amount, note, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, string(e.Kind), classKey(e.Class),
			string(e.From), string(e.To), string(e.Operator),
			nullableNumeric(e.Amount), e.Note, e.At.UTC())
	}

	br := s.pool.SendBatch(ctx, b)
	for range events {
		if _, err := br.Exec(); err != nil {
			br.Close() //nolint:errcheck // already failing
			return fmt.Errorf("usufruct/postgres: append events: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("usufruct/postgres: append events: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, opts journal.QueryOpts) ([]*journal.Event, error) {
	var (
		where []string
		args  []any
	)
	if opts.Kind != "" {
		args = append(args, string(opts.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if opts.Class != nil {
		args = append(args, classKey(*opts.Class))
		where = append(where, fmt.Sprintf("class = $%d", len(args)))
	}
	if opts.Address != "" {
		args = append(args, string(opts.Address))
		n := len(args)
		where = append(where, fmt.Sprintf("(from_addr = $%d OR to_addr = $%d OR operator = $%d)", n, n, n))
	}
	if !opts.Start.IsZero() {
		args = append(args, opts.Start.UTC())
		where = append(where, fmt.Sprintf("at >= $%d", len(args)))
	}
	if !opts.End.IsZero() {
		args = append(args, opts.End.UTC())
		where = append(where, fmt.Sprintf("at <= $%d", len(args)))
	}

	query := `SELECT id, kind, class, from_addr, to_addr, operator, amount, note, at FROM usufruct_journal`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at, id"
	query, args = appendWindow(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usufruct/postgres: query events: %w", err)
	}
	defer rows.Close()

	result := make([]*journal.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usufruct/postgres: query events: %w", err)
	}
	return result, nil
}

func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM usufruct_journal WHERE at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("usufruct/postgres: prune events: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ==================== Store Management ====================

// migrationLockKey scopes the advisory lock that serializes concurrent
// migrators against the same database.
const migrationLockKey = 0x75737566

// Migrate applies any pending schema migrations inside one transaction,
// recording each in usufruct_schema_migrations so reruns are no-ops.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("usufruct/postgres: begin migration: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockKey)); err != nil {
		return fmt.Errorf("usufruct/postgres: acquire migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS usufruct_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("usufruct/postgres: create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := tx.Query(ctx, `SELECT version FROM usufruct_schema_migrations`)
	if err != nil {
		return fmt.Errorf("usufruct/postgres: read migrations: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("usufruct/postgres: scan migration: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("usufruct/postgres: read migrations: %w", err)
	}

	for _, m := range Migrations {
		if applied[m.Version] {
			continue
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("usufruct/postgres: apply migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO usufruct_schema_migrations (version, name) VALUES ($1, $2)`,
			m.Version, m.Name); err != nil {
			return fmt.Errorf("usufruct/postgres: record migration %s: %w", m.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("usufruct/postgres: commit migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// appendWindow adds LIMIT and OFFSET clauses when set.
func appendWindow(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
