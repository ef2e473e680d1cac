package usufruct

import "github.com/xraph/usufruct/id"

// ID is the primary identifier type for all Usufruct entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
