// Package sqlite provides a SQLite-backed store for the usufruct ledger,
// using the pure-Go modernc.org/sqlite driver. Amounts are stored as
// decimal strings; all arithmetic happens in the engine, never in SQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xraph/usufruct"
	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/id"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/store"
	"github.com/xraph/usufruct/types"
)

// Store implements store.Store on a single SQLite database file.
type Store struct {
	db *sql.DB
}

// compile-time interface check
var _ store.Store = (*Store)(nil)

// New opens (or creates) the SQLite database at path. The DSN enables WAL
// and a 5 second busy timeout; the pool is capped at one connection since
// the engine serializes writes anyway.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened database handle. The caller keeps
// ownership of pragmas and pool settings.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// timeLayout is fixed-width UTC so stored timestamps order
// lexicographically, which the journal's at index relies on.
const timeLayout = "2006-01-02 15:04:05.000000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("usufruct/sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func now() time.Time {
	return time.Now().UTC()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// classKey stores a ClassID in an INTEGER column. The uint64 round-trips
// through int64; values above 2^63-1 persist as negatives but compare
// equal on read-back.
func classKey(c types.ClassID) int64 {
	return int64(c)
}

func classFromKey(k int64) types.ClassID {
	return types.ClassID(k)
}

// readAmount loads one amount cell, treating a missing row as zero.
func (s *Store) readAmount(ctx context.Context, query string, args ...any) (*uint256.Int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if isNoRows(err) {
		return types.ZeroUnits(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: read amount: %w", err)
	}

	amount, err := types.ParseUnits(raw)
	if err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: decode amount %q: %w", raw, err)
	}
	return amount, nil
}

// setTotal overwrites one aggregate amount row inside tx, deleting it when
// the new value is zero. The table's primary key must be (class, keyCol).
func setTotal(ctx context.Context, tx *sql.Tx, table, keyCol string, class types.ClassID, addr types.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		query := fmt.Sprintf(`DELETE FROM %s WHERE class = ? AND %s = ?`, table, keyCol)
		if _, err := tx.ExecContext(ctx, query, classKey(class), string(addr)); err != nil {
			return fmt.Errorf("usufruct/sqlite: clear %s: %w", table, err)
		}
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (class, %s, amount) VALUES (?, ?, ?)
ON CONFLICT (class, %s) DO UPDATE SET amount = excluded.amount`, table, keyCol, keyCol)
	if _, err := tx.ExecContext(ctx, query, classKey(class), string(addr), types.FormatUnits(amount)); err != nil {
		return fmt.Errorf("usufruct/sqlite: write %s: %w", table, err)
	}
	return nil
}

// ==================== Rights Store ====================

func (s *Store) Allowance(ctx context.Context, class types.ClassID, owner, user types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_grants WHERE class = ? AND owner = ? AND grantee = ?`,
		classKey(class), string(owner), string(user))
}

func (s *Store) Frozen(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_frozen WHERE class = ? AND owner = ?`,
		classKey(class), string(owner))
}

func (s *Store) Usage(ctx context.Context, class types.ClassID, user types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_usage WHERE class = ? AND grantee = ?`,
		classKey(class), string(user))
}

func (s *Store) ApplyDelegation(ctx context.Context, upd rights.DelegationUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: begin delegation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	g := upd.Grant
	if g.Amount == nil || g.Amount.IsZero() {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM usufruct_grants WHERE class = ? AND owner = ? AND grantee = ?`,
			classKey(g.Class), string(g.Owner), string(g.User))
	} else {
		_, err = tx.ExecContext(ctx, `
INSERT INTO usufruct_grants (id, class, owner, grantee, amount, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (class, owner, grantee) DO UPDATE SET
    id = excluded.id,
    amount = excluded.amount,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at`,
			g.ID, classKey(g.Class), string(g.Owner), string(g.User),
			types.FormatUnits(g.Amount), formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	}
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: write grant: %w", err)
	}

	if err := setTotal(ctx, tx, "usufruct_frozen", "owner", g.Class, g.Owner, upd.Frozen); err != nil {
		return err
	}
	if err := setTotal(ctx, tx, "usufruct_usage", "grantee", g.Class, g.User, upd.Usage); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("usufruct/sqlite: commit delegation: %w", err)
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, filter rights.GrantFilter, opts rights.ListOpts) ([]*rights.Grant, error) {
	var (
		where []string
		args  []any
	)
	if filter.Class != nil {
		where = append(where, "class = ?")
		args = append(args, classKey(*filter.Class))
	}
	if !filter.Owner.IsZero() {
		where = append(where, "owner = ?")
		args = append(args, string(filter.Owner))
	}
	if !filter.User.IsZero() {
		where = append(where, "grantee = ?")
		args = append(args, string(filter.User))
	}

	query := `SELECT id, class, owner, grantee, amount, created_at, updated_at FROM usufruct_grants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY class, owner, grantee LIMIT ? OFFSET ?"
	args = append(args, sqlLimit(opts.Limit), sqlOffset(opts.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: list grants: %w", err)
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
		return nil, fmt.Errorf("usufruct/sqlite: list grants: %w", err)
	}
	return result, nil
}

func scanGrant(rows *sql.Rows) (*rights.Grant, error) {
	var (
		grantID          id.GrantID
		class            int64
		owner, grantee   string
		amount           string
		created, updated string
	)
	if err := rows.Scan(&grantID, &class, &owner, &grantee, &amount, &created, &updated); err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: scan grant: %w", err)
	}

	units, err := types.ParseUnits(amount)
	if err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: decode amount %q: %w", amount, err)
	}
	createdAt, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(updated)
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

// ==================== Custody Store ====================

func (s *Store) Holding(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_holdings WHERE class = ? AND owner = ?`,
		classKey(class), string(owner))
}

func (s *Store) Supply(ctx context.Context, class types.ClassID) (*uint256.Int, error) {
	return s.readAmount(ctx,
		`SELECT amount FROM usufruct_supplies WHERE class = ?`,
		classKey(class))
}

func (s *Store) ApplyMovement(ctx context.Context, upd custody.MovementUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: begin movement: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, bw := range upd.Balances {
		if err := setTotal(ctx, tx, "usufruct_holdings", "owner", bw.Class, bw.Owner, bw.Amount); err != nil {
			return err
		}
	}
	for _, sw := range upd.Supplies {
		if sw.Amount == nil || sw.Amount.IsZero() {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM usufruct_supplies WHERE class = ?`, classKey(sw.Class))
		} else {
			_, err = tx.ExecContext(ctx, `
INSERT INTO usufruct_supplies (class, amount) VALUES (?, ?)
ON CONFLICT (class) DO UPDATE SET amount = excluded.amount`,
				classKey(sw.Class), types.FormatUnits(sw.Amount))
		}
		if err != nil {
			return fmt.Errorf("usufruct/sqlite: write supply: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("usufruct/sqlite: commit movement: %w", err)
	}
	return nil
}

func (s *Store) Approval(ctx context.Context, owner, operator types.Address) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM usufruct_approvals WHERE owner = ? AND operator = ?`,
		string(owner), string(operator)).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("usufruct/sqlite: read approval: %w", err)
	}
	return true, nil
}

func (s *Store) SetApproval(ctx context.Context, approval custody.Approval, approved bool) error {
	if !approved {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM usufruct_approvals WHERE owner = ? AND operator = ?`,
			string(approval.Owner), string(approval.Operator))
		if err != nil {
			return fmt.Errorf("usufruct/sqlite: delete approval: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO usufruct_approvals (owner, operator, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (owner, operator) DO UPDATE SET updated_at = excluded.updated_at`,
		string(approval.Owner), string(approval.Operator),
		formatTime(approval.CreatedAt), formatTime(approval.UpdatedAt))
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: write approval: %w", err)
	}
	return nil
}

func (s *Store) CreateClass(ctx context.Context, info *custody.ClassInfo) error {
	metadata, err := json.Marshal(info.Metadata)
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: encode class metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO usufruct_classes (class, name, symbol, uri, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (class) DO NOTHING`,
		classKey(info.Class), info.Name, info.Symbol, info.URI, string(metadata),
		formatTime(info.CreatedAt), formatTime(info.UpdatedAt))
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: create class: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: create class: %w", err)
	}
	if affected == 0 {
		return usufruct.ErrClassExists
	}
	return nil
}

func (s *Store) GetClass(ctx context.Context, class types.ClassID) (*custody.ClassInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT class, name, symbol, uri, metadata, created_at, updated_at FROM usufruct_classes WHERE class = ?`,
		classKey(class))

	info, err := scanClass(row.Scan)
	if isNoRows(err) {
		return nil, usufruct.ErrClassNotFound
	}
	return info, err
}

func (s *Store) ListClasses(ctx context.Context, opts custody.ListOpts) ([]*custody.ClassInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT class, name, symbol, uri, metadata, created_at, updated_at FROM usufruct_classes ORDER BY class LIMIT ? OFFSET ?`,
		sqlLimit(opts.Limit), sqlOffset(opts.Offset))
	if err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: list classes: %w", err)
	}
	defer rows.Close()

	result := make([]*custody.ClassInfo, 0)
	for rows.Next() {
		info, err := scanClass(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: list classes: %w", err)
	}
	return result, nil
}

func scanClass(scan func(...any) error) (*custody.ClassInfo, error) {
	var (
		class            int64
		name, symbol     string
		uri, metadata    string
		created, updated string
	)
	if err := scan(&class, &name, &symbol, &uri, &metadata, &created, &updated); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("usufruct/sqlite: scan class: %w", err)
	}

	info := &custody.ClassInfo{
		Class:  classFromKey(class),
		Name:   name,
		Symbol: symbol,
		URI:    uri,
	}
	if metadata != "" && metadata != "{}" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &info.Metadata); err != nil {
			return nil, fmt.Errorf("usufruct/sqlite: decode class metadata: %w", err)
		}
	}

	createdAt, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(updated)
	if err != nil {
		return nil, err
	}
	info.Entity = types.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt}
	return info, nil
}

// ==================== Journal Store ====================

func (s *Store) AppendEvents(ctx context.Context, events []*journal.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO usufruct_journal (id, kind, class, from_addr, to_addr, operator, amount, note, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: prepare append: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var amount *string
		if e.Amount != nil {
			formatted := types.FormatUnits(e.Amount)
			amount = &formatted
		}
		_, err := stmt.ExecContext(ctx,
			e.ID, string(e.Kind), classKey(e.Class),
			string(e.From), string(e.To), string(e.Operator),
			amount, e.Note, formatTime(e.At))
		if err != nil {
			return fmt.Errorf("usufruct/sqlite: append event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("usufruct/sqlite: commit append: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, opts journal.QueryOpts) ([]*journal.Event, error) {
	var (
		where []string
		args  []any
	)
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.Class != nil {
		where = append(where, "class = ?")
		args = append(args, classKey(*opts.Class))
	}
	if opts.Address != "" {
		where = append(where, "(from_addr = ? OR to_addr = ? OR operator = ?)")
		args = append(args, string(opts.Address), string(opts.Address), string(opts.Address))
	}
	if !opts.Start.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, formatTime(opts.Start))
	}
	if !opts.End.IsZero() {
		where = append(where, "at <= ?")
		args = append(args, formatTime(opts.End))
	}

	query := `SELECT id, kind, class, from_addr, to_addr, operator, amount, note, at FROM usufruct_journal`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at, id LIMIT ? OFFSET ?"
	args = append(args, sqlLimit(opts.Limit), sqlOffset(opts.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: query events: %w", err)
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
		return nil, fmt.Errorf("usufruct/sqlite: query events: %w", err)
	}
	return result, nil
}

func scanEvent(rows *sql.Rows) (*journal.Event, error) {
	var (
		e                        journal.Event
		kind                     string
		class                    int64
		from, to, operator, note string
		amount                   sql.NullString
		at                       string
	)
	if err := rows.Scan(&e.ID, &kind, &class, &from, &to, &operator, &amount, &note, &at); err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: scan event: %w", err)
	}

	e.Kind = journal.Kind(kind)
	e.Class = classFromKey(class)
	e.From = types.Address(from)
	e.To = types.Address(to)
	e.Operator = types.Address(operator)
	e.Note = note

	if amount.Valid {
		parsed, err := types.ParseUnits(amount.String)
		if err != nil {
			return nil, fmt.Errorf("usufruct/sqlite: decode amount %q: %w", amount.String, err)
		}
		e.Amount = parsed
	}

	eventAt, err := parseTime(at)
	if err != nil {
		return nil, err
	}
	e.At = eventAt
	return &e, nil
}

func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usufruct_journal WHERE at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("usufruct/sqlite: prune events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("usufruct/sqlite: prune events: %w", err)
	}
	return affected, nil
}

// ==================== Store Management ====================

// Migrate applies any pending schema migrations, recording each one in
// usufruct_schema_migrations so reruns are no-ops.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS usufruct_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("usufruct/sqlite: create migrations table: %w", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range Migrations {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM usufruct_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: read migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("usufruct/sqlite: scan migration: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usufruct/sqlite: read migrations: %w", err)
	}
	return applied, nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("usufruct/sqlite: begin migration %s: %w", m.Name, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("usufruct/sqlite: apply migration %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usufruct_schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, formatTime(now())); err != nil {
		return fmt.Errorf("usufruct/sqlite: record migration %s: %w", m.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("usufruct/sqlite: commit migration %s: %w", m.Name, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1 // SQLite treats a negative limit as unlimited
	}
	return limit
}

func sqlOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
