// Package mongo provides a MongoDB-backed store for the usufruct ledger.
// Multi-document writes run inside session transactions, so the target
// deployment must be a replica set or sharded cluster. Amounts are stored
// as decimal strings; all arithmetic happens in the engine.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/usufruct"
	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/store"
	"github.com/xraph/usufruct/types"
)

// Collection names.
const (
	colGrants    = "usufruct_grants"
	colFrozen    = "usufruct_frozen"
	colUsage     = "usufruct_usage"
	colHoldings  = "usufruct_holdings"
	colSupplies  = "usufruct_supplies"
	colApprovals = "usufruct_approvals"
	colClasses   = "usufruct_classes"
	colJournal   = "usufruct_journal"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New returns a store bound to the named database on client.
func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
	}
}

// Database returns the underlying database handle for direct access.
func (s *Store) Database() *mongo.Database { return s.db }

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// withTransaction runs fn inside a session transaction so every write in
// one ledger operation lands atomically.
func (s *Store) withTransaction(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("usufruct/mongo: start session for %s: %w", op, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("usufruct/mongo: %s transaction: %w", op, err)
	}
	return nil
}

// readAmount loads the amount field of one document, treating a missing
// document as zero.
func (s *Store) readAmount(ctx context.Context, col string, filter any) (*uint256.Int, error) {
	var m amountOnly
	err := s.db.Collection(col).FindOne(ctx, filter).Decode(&m)
	if isNoDocuments(err) {
		return types.ZeroUnits(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("usufruct/mongo: read amount: %w", err)
	}

	amount, err := types.ParseUnits(m.Amount)
	if err != nil {
		return nil, fmt.Errorf("usufruct/mongo: decode amount %q: %w", m.Amount, err)
	}
	return amount, nil
}

// setTotal overwrites one per-(class, address) amount document, deleting
// it when the new value is zero.
func (s *Store) setTotal(ctx context.Context, col string, key pairKey, amount *uint256.Int) error {
	c := s.db.Collection(col)
	if amount == nil || amount.IsZero() {
		if _, err := c.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
			return fmt.Errorf("usufruct/mongo: clear %s: %w", col, err)
		}
		return nil
	}

	update := bson.M{"$set": bson.M{"amount": types.FormatUnits(amount)}}
	if _, err := c.UpdateOne(ctx, bson.M{"_id": key}, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("usufruct/mongo: write %s: %w", col, err)
	}
	return nil
}

// ==================== Rights Store ====================

func (s *Store) Allowance(ctx context.Context, class types.ClassID, owner, user types.Address) (*uint256.Int, error) {
	key := grantKey{Class: classKey(class), Owner: string(owner), Grantee: string(user)}
	return s.readAmount(ctx, colGrants, bson.M{"_id": key})
}

func (s *Store) Frozen(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx, colFrozen, bson.M{"_id": pairKey{Class: classKey(class), Addr: string(owner)}})
}

func (s *Store) Usage(ctx context.Context, class types.ClassID, user types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx, colUsage, bson.M{"_id": pairKey{Class: classKey(class), Addr: string(user)}})
}

func (s *Store) ApplyDelegation(ctx context.Context, upd rights.DelegationUpdate) error {
	return s.withTransaction(ctx, "delegation", func(ctx context.Context) error {
		g := upd.Grant
		key := grantKey{Class: classKey(g.Class), Owner: string(g.Owner), Grantee: string(g.User)}
		grants := s.db.Collection(colGrants)

		if g.Amount == nil || g.Amount.IsZero() {
			if _, err := grants.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
				return fmt.Errorf("usufruct/mongo: delete grant: %w", err)
			}
		} else {
			m := toGrantModel(&g)
			if _, err := grants.ReplaceOne(ctx, bson.M{"_id": key}, m, options.Replace().SetUpsert(true)); err != nil {
				return fmt.Errorf("usufruct/mongo: write grant: %w", err)
			}
		}

		if err := s.setTotal(ctx, colFrozen, pairKey{Class: classKey(g.Class), Addr: string(g.Owner)}, upd.Frozen); err != nil {
			return err
		}
		return s.setTotal(ctx, colUsage, pairKey{Class: classKey(g.Class), Addr: string(g.User)}, upd.Usage)
	})
}

func (s *Store) ListGrants(ctx context.Context, filter rights.GrantFilter, opts rights.ListOpts) ([]*rights.Grant, error) {
	query := bson.M{}
	if filter.Class != nil {
		query["_id.c"] = classKey(*filter.Class)
	}
	if !filter.Owner.IsZero() {
		query["_id.o"] = string(filter.Owner)
	}
	if !filter.User.IsZero() {
		query["_id.g"] = string(filter.User)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colGrants).Find(ctx, query, findOpts)
	if err != nil {
		return nil, fmt.Errorf("usufruct/mongo: list grants: %w", err)
	}
	defer cursor.Close(ctx)

	var models []grantModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("usufruct/mongo: list grants decode: %w", err)
	}

	result := make([]*rights.Grant, 0, len(models))
	for i := range models {
		g, err := fromGrantModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, nil
}

// ==================== Custody Store ====================

func (s *Store) Holding(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	return s.readAmount(ctx, colHoldings, bson.M{"_id": pairKey{Class: classKey(class), Addr: string(owner)}})
}

func (s *Store) Supply(ctx context.Context, class types.ClassID) (*uint256.Int, error) {
	return s.readAmount(ctx, colSupplies, bson.M{"_id": classKey(class)})
}

func (s *Store) ApplyMovement(ctx context.Context, upd custody.MovementUpdate) error {
	return s.withTransaction(ctx, "movement", func(ctx context.Context) error {
		for _, bw := range upd.Balances {
			if err := s.setTotal(ctx, colHoldings, pairKey{Class: classKey(bw.Class), Addr: string(bw.Owner)}, bw.Amount); err != nil {
				return err
			}
		}

		supplies := s.db.Collection(colSupplies)
		for _, sw := range upd.Supplies {
			if sw.Amount == nil || sw.Amount.IsZero() {
				if _, err := supplies.DeleteOne(ctx, bson.M{"_id": classKey(sw.Class)}); err != nil {
					return fmt.Errorf("usufruct/mongo: clear supply: %w", err)
				}
				continue
			}
			update := bson.M{"$set": bson.M{"amount": types.FormatUnits(sw.Amount)}}
			if _, err := supplies.UpdateOne(ctx, bson.M{"_id": classKey(sw.Class)}, update, options.UpdateOne().SetUpsert(true)); err != nil {
				return fmt.Errorf("usufruct/mongo: write supply: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Approval(ctx context.Context, owner, operator types.Address) (bool, error) {
	key := approvalKey{Owner: string(owner), Operator: string(operator)}
	err := s.db.Collection(colApprovals).FindOne(ctx, bson.M{"_id": key}).Err()
	if isNoDocuments(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("usufruct/mongo: read approval: %w", err)
	}
	return true, nil
}

func (s *Store) SetApproval(ctx context.Context, approval custody.Approval, approved bool) error {
	key := approvalKey{Owner: string(approval.Owner), Operator: string(approval.Operator)}
	approvals := s.db.Collection(colApprovals)

	if !approved {
		if _, err := approvals.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
			return fmt.Errorf("usufruct/mongo: delete approval: %w", err)
		}
		return nil
	}

	m := toApprovalModel(&approval)
	if _, err := approvals.ReplaceOne(ctx, bson.M{"_id": key}, m, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("usufruct/mongo: write approval: %w", err)
	}
	return nil
}

func (s *Store) CreateClass(ctx context.Context, info *custody.ClassInfo) error {
	_, err := s.db.Collection(colClasses).InsertOne(ctx, toClassModel(info))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return usufruct.ErrClassExists
		}
		return fmt.Errorf("usufruct/mongo: create class: %w", err)
	}
	return nil
}

func (s *Store) GetClass(ctx context.Context, class types.ClassID) (*custody.ClassInfo, error) {
	var m classModel
	err := s.db.Collection(colClasses).FindOne(ctx, bson.M{"_id": classKey(class)}).Decode(&m)
	if isNoDocuments(err) {
		return nil, usufruct.ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("usufruct/mongo: get class: %w", err)
	}
	return fromClassModel(&m), nil
}

func (s *Store) ListClasses(ctx context.Context, opts custody.ListOpts) ([]*custody.ClassInfo, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colClasses).Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("usufruct/mongo: list classes: %w", err)
	}
	defer cursor.Close(ctx)

	var models []classModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("usufruct/mongo: list classes decode: %w", err)
	}

	result := make([]*custody.ClassInfo, 0, len(models))
	for i := range models {
		result = append(result, fromClassModel(&models[i]))
	}
	return result, nil
}

// ==================== Journal Store ====================

func (s *Store) AppendEvents(ctx context.Context, events []*journal.Event) error {
	if len(events) == 0 {
		return nil
	}

	docs := make([]any, 0, len(events))
	for _, e := range events {
		docs = append(docs, toEventModel(e))
	}

	if _, err := s.db.Collection(colJournal).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("usufruct/mongo: append events: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, opts journal.QueryOpts) ([]*journal.Event, error) {
	query := bson.M{}
	if opts.Kind != "" {
		query["kind"] = string(opts.Kind)
	}
	if opts.Class != nil {
		query["class"] = classKey(*opts.Class)
	}
	if opts.Address != "" {
		addr := string(opts.Address)
		query["$or"] = bson.A{
			bson.M{"from": addr},
			bson.M{"to": addr},
			bson.M{"operator": addr},
		}
	}
	window := bson.M{}
	if !opts.Start.IsZero() {
		window["$gte"] = opts.Start.UTC()
	}
	if !opts.End.IsZero() {
		window["$lte"] = opts.End.UTC()
	}
	if len(window) > 0 {
		query["at"] = window
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colJournal).Find(ctx, query, findOpts)
	if err != nil {
		return nil, fmt.Errorf("usufruct/mongo: query events: %w", err)
	}
	defer cursor.Close(ctx)

	var models []eventModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("usufruct/mongo: query events decode: %w", err)
	}

	result := make([]*journal.Event, 0, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(colJournal).DeleteMany(ctx, bson.M{"at": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("usufruct/mongo: prune events: %w", err)
	}
	return res.DeletedCount, nil
}

// ==================== Store Management ====================

// Migrate creates indexes for all usufruct collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("usufruct/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}
