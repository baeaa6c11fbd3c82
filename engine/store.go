/*
store.go - Persistence contract for counters, logs, shipments and error logs

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never touches SQL; it depends only on TxStore so it can run against
  SQLite in production and an in-memory store in tests.

ATOMIC COUNTERS:
  IncrementCounters and DecrementCounter are single atomic statements at
  the storage layer (UPDATE ... SET c = c + ?). Concurrent operators
  adding to the same product never lose an update. DecrementCounter is
  guarded: it fails with *InsufficientStockError rather than going
  negative. SetCounter is a plain last-writer-wins assignment.

TRANSACTIONS:
  A counter mutation and its log row are always written inside WithTx.
  If fn returns an error the whole unit is rolled back, so a counter change
  without its audit row (or the reverse) is never observable.

ERRORS:
  Implementations return ProductNotFound / ShipmentNotFound /
  ErrorLogNotFound for unknown ids and *InsufficientStockError for a
  refused decrement. Everything else is wrapped infrastructure failure.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Uses the counter methods
*/
package engine

import "context"

// =============================================================================
// STORE - Interface for engine persistence
// =============================================================================

type Store interface {
	// Products
	CreateProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id ProductID) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	// IncrementCounters adds amount to every listed counter in one statement.
	IncrementCounters(ctx context.Context, id ProductID, amount int, counters ...Counter) (Product, error)

	// DecrementCounter subtracts amount only if the counter holds at least amount.
	DecrementCounter(ctx context.Context, id ProductID, c Counter, amount int) (Product, error)

	// SetCounter assigns value to the counter.
	SetCounter(ctx context.Context, id ProductID, c Counter, value int) (Product, error)

	// Product log (append-only)
	AppendLog(ctx context.Context, entry ProductLogEntry) error
	LoadLogs(ctx context.Context, id ProductID) ([]ProductLogEntry, error)
	RecentLogs(ctx context.Context, limit int) ([]ProductLogEntry, error)

	// Shipments
	CreateShipment(ctx context.Context, s Shipment) error
	GetShipment(ctx context.Context, id ShipmentID) (Shipment, error)
	UpdateShipment(ctx context.Context, s Shipment) error
	// ListShipments returns all shipments when status is empty.
	ListShipments(ctx context.Context, status ShipmentStatus) ([]Shipment, error)

	// Error logs
	CreateErrorLog(ctx context.Context, e ErrorLog) error
	GetErrorLog(ctx context.Context, id ErrorLogID) (ErrorLog, error)
	UpdateErrorLog(ctx context.Context, e ErrorLog) error
	ListErrorLogs(ctx context.Context, f ErrorLogFilter) ([]ErrorLog, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
