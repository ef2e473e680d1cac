package usufruct

import "github.com/xraph/usufruct/types"

// Re-export common types for convenience so users don't have to import types package.

// Address is re-exported from types package.
type Address = types.Address

// ClassID is re-exported from types package.
type ClassID = types.ClassID

// Entity is re-exported from types package.
type Entity = types.Entity

// ZeroAddress is re-exported from types package.
const ZeroAddress = types.ZeroAddress

// Re-export amount helpers
var (
	Units          = types.Units
	ZeroUnits      = types.ZeroUnits
	ParseUnits     = types.ParseUnits
	MustParseUnits = types.MustParseUnits
	FormatUnits    = types.FormatUnits
	CopyUnits      = types.CopyUnits
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
