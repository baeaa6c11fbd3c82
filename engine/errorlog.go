package engine

import (
	"context"
	"fmt"
)

// ErrorLogStore owns the ErrorLog lifecycle: created by ShipmentManager at
// receipt, closed by DiscrepancyResolver. Both writes run inside the
// caller's transaction.
type ErrorLogStore struct {
	*deps
}

func (es *ErrorLogStore) Get(ctx context.Context, id ErrorLogID) (ErrorLog, error) {
	return es.store.GetErrorLog(ctx, id)
}

func (es *ErrorLogStore) List(ctx context.Context, f ErrorLogFilter) ([]ErrorLog, error) {
	return es.store.ListErrorLogs(ctx, f)
}

func (es *ErrorLogStore) create(ctx context.Context, s Store, el ErrorLog) (ErrorLog, error) {
	el.ID = ErrorLogID(es.ids.NewID())
	el.Resolved = false
	el.CreatedAt = es.now()
	if err := s.CreateErrorLog(ctx, el); err != nil {
		return ErrorLog{}, err
	}
	return el, nil
}

// markResolved closes an open error log. Resolving twice is a conflict.
func (es *ErrorLogStore) markResolved(ctx context.Context, s Store, el ErrorLog, kind StrategyKind, note string) (ErrorLog, error) {
	if el.Resolved {
		return ErrorLog{}, &ConflictError{Resource: "error log", ID: string(el.ID), Reason: "already resolved"}
	}
	now := es.now()
	el.Resolved = true
	el.Strategy = kind
	el.ResolutionNote = note
	el.ResolvedAt = &now
	if err := s.UpdateErrorLog(ctx, el); err != nil {
		return ErrorLog{}, fmt.Errorf("failed to resolve error log %s: %w", el.ID, err)
	}
	return el, nil
}
