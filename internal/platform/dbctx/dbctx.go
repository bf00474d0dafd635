package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request/event context with an optional GORM
// transaction, passed down to the block manager's persistence adapters so
// callers outside the event loop can participate in
// the same transaction a caller already opened.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}
