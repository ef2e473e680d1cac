package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/usufruct/custody"
	"github.com/xraph/usufruct/id"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/types"
)

// Composite _id documents. Using a document key instead of a joined
// string avoids delimiter collisions in arbitrary address strings; BSON
// compares the fields in declaration order, so sorting by _id orders by
// class, then address.

type grantKey struct {
	Class   int64  `bson:"c"`
	Owner   string `bson:"o"`
	Grantee string `bson:"g"`
}

type pairKey struct {
	Class int64  `bson:"c"`
	Addr  string `bson:"a"`
}

type approvalKey struct {
	Owner    string `bson:"o"`
	Operator string `bson:"p"`
}

// classKey stores a ClassID in an int64 field. The uint64 round-trips;
// values above 2^63-1 persist as negatives but compare equal on read-back.
func classKey(c types.ClassID) int64 {
	return int64(c)
}

func classFromKey(k int64) types.ClassID {
	return types.ClassID(k)
}

// ==================== Rights models ====================

type grantModel struct {
	Key       grantKey  `bson:"_id"`
	GrantID   string    `bson:"grant_id"`
	Amount    string    `bson:"amount"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toGrantModel(g *rights.Grant) *grantModel {
	return &grantModel{
		Key: grantKey{
			Class:   classKey(g.Class),
			Owner:   string(g.Owner),
			Grantee: string(g.User),
		},
		GrantID:   g.ID.String(),
		Amount:    types.FormatUnits(g.Amount),
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

func fromGrantModel(m *grantModel) (*rights.Grant, error) {
	grantID, err := id.ParseGrantID(m.GrantID)
	if err != nil {
		return nil, fmt.Errorf("usufruct/mongo: decode grant id: %w", err)
	}
	amount, err := types.ParseUnits(m.Amount)
	if err != nil {
		return nil, fmt.Errorf("usufruct/mongo: decode amount %q: %w", m.Amount, err)
	}

	return &rights.Grant{
		Entity: types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:     grantID,
		Class:  classFromKey(m.Key.Class),
		Owner:  types.Address(m.Key.Owner),
		User:   types.Address(m.Key.Grantee),
		Amount: amount,
	}, nil
}

// amountOnly decodes just the amount field of any total document.
type amountOnly struct {
	Amount string `bson:"amount"`
}

// ==================== Custody models ====================

type approvalModel struct {
	Key       approvalKey `bson:"_id"`
	CreatedAt time.Time   `bson:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at"`
}

func toApprovalModel(a *custody.Approval) *approvalModel {
	return &approvalModel{
		Key: approvalKey{
			Owner:    string(a.Owner),
			Operator: string(a.Operator),
		},
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type classModel struct {
	Class     int64             `bson:"_id"`
	Name      string            `bson:"name"`
	Symbol    string            `bson:"symbol,omitempty"`
	URI       string            `bson:"uri,omitempty"`
	Metadata  map[string]string `bson:"metadata,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

func toClassModel(info *custody.ClassInfo) *classModel {
	return &classModel{
		Class:     classKey(info.Class),
		Name:      info.Name,
		Symbol:    info.Symbol,
		URI:       info.URI,
		Metadata:  info.Metadata,
		CreatedAt: info.CreatedAt,
		UpdatedAt: info.UpdatedAt,
	}
}

func fromClassModel(m *classModel) *custody.ClassInfo {
	return &custody.ClassInfo{
		Entity:   types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		Class:    classFromKey(m.Class),
		Name:     m.Name,
		Symbol:   m.Symbol,
		URI:      m.URI,
		Metadata: m.Metadata,
	}
}

// ==================== Journal models ====================

type eventModel struct {
	ID       string    `bson:"_id"`
	Kind     string    `bson:"kind"`
	Class    int64     `bson:"class"`
	From     string    `bson:"from,omitempty"`
	To       string    `bson:"to,omitempty"`
	Operator string    `bson:"operator,omitempty"`
	Amount   *string   `bson:"amount,omitempty"`
	Note     string    `bson:"note,omitempty"`
	At       time.Time `bson:"at"`
}

func toEventModel(e *journal.Event) *eventModel {
	m := &eventModel{
		ID:       e.ID.String(),
		Kind:     string(e.Kind),
		Class:    classKey(e.Class),
		From:     string(e.From),
		To:       string(e.To),
		Operator: string(e.Operator),
		Note:     e.Note,
		At:       e.At,
	}
	if e.Amount != nil {
		formatted := types.FormatUnits(e.Amount)
		m.Amount = &formatted
	}
	return m
}

func fromEventModel(m *eventModel) (*journal.Event, error) {
	eventID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("usufruct/mongo: decode event id: %w", err)
	}

	e := &journal.Event{
		ID:       eventID,
		Kind:     journal.Kind(m.Kind),
		Class:    classFromKey(m.Class),
		From:     types.Address(m.From),
		To:       types.Address(m.To),
		Operator: types.Address(m.Operator),
		Note:     m.Note,
		At:       m.At,
	}
	if m.Amount != nil {
		amount, err := types.ParseUnits(*m.Amount)
		if err != nil {
			return nil, fmt.Errorf("usufruct/mongo: decode amount %q: %w", *m.Amount, err)
		}
		e.Amount = amount
	}
	return e, nil
}

// ==================== Index definitions ====================

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colGrants: {
			{Keys: bson.D{{Key: "_id.o", Value: 1}}},
			{Keys: bson.D{{Key: "_id.g", Value: 1}}},
		},
		colJournal: {
			{Keys: bson.D{{Key: "at", Value: 1}}},
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "at", Value: 1}}},
			{Keys: bson.D{{Key: "class", Value: 1}, {Key: "at", Value: 1}}},
		},
	}
}
