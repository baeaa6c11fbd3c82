package engine

import "context"

// ProductLog is the read side of the append-only audit trail. Rows are
// only ever written by ProductLedger inside a counter transaction.
type ProductLog struct {
	*deps
}

// History returns every log row for a product in write order.
func (pl *ProductLog) History(ctx context.Context, id ProductID) ([]ProductLogEntry, error) {
	if _, err := pl.store.GetProduct(ctx, id); err != nil {
		return nil, err
	}
	return pl.store.LoadLogs(ctx, id)
}

// Recent returns the latest rows across all products, newest first.
func (pl *ProductLog) Recent(ctx context.Context, limit int) ([]ProductLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return pl.store.RecentLogs(ctx, limit)
}
