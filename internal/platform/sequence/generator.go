package sequence

import (
	"context"
	"fmt"

	"github.com/hms/hms/internal/platform/db"
)

// LastCodeFunc returns the highest code starting with prefix, or "" when
// none exists yet. Implementations run on the caller's transaction.
type LastCodeFunc func(ctx context.Context, prefix string) (string, error)

// Generator serializes code allocation per prefix with a transaction-scoped
// lock, so two callers never read the same last code.
type Generator struct {
	tx db.Transactor
}

func NewGenerator(tx db.Transactor) *Generator {
	return &Generator{tx: tx}
}

// NextCode must be called inside Transactor.InTx; the lock is held until the
// surrounding transaction ends, which is after the caller inserts the row.
func (g *Generator) NextCode(ctx context.Context, last LastCodeFunc, prefix string, width int) (string, error) {
	if err := g.tx.Lock(ctx, "seq:"+prefix); err != nil {
		return "", err
	}
	code, err := last(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("last code for %s: %w", prefix, err)
	}
	return Next(code, prefix, width), nil
}
