/*
Package sqlite provides a SQLite-backed implementation of engine.TxStore.

PURPOSE:
  Persists products, the product log, shipments and error logs. The same
  SQL runs against a file database in production and ":memory:" in tests.

ATOMIC COUNTERS:
  Counter changes are single UPDATE statements evaluated by SQLite:

    UPDATE products SET di_timbang = di_timbang + ? ...
    UPDATE products SET di_timbang = di_timbang - ? WHERE id = ? AND di_timbang >= ?

  There is no application-level read-modify-write, so concurrent operators
  cannot lose updates. A guarded decrement that matches no row is resolved
  to NotFound or InsufficientStock by re-reading inside the same transaction.

APPEND-ONLY ENFORCEMENT:
  product_logs has BEFORE UPDATE / BEFORE DELETE triggers that abort.

CONCURRENCY:
  One connection (SetMaxOpenConns(1)) serializes writers and keeps
  ":memory:" databases shared across calls. WAL mode and a busy timeout are
  applied on open.

USAGE:
  store, err := sqlite.New("./data/qurban.db")
  if err != nil {
      return err
  }
  defer store.Close()

  eng := engine.New(store)

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/qurban-ledger/engine"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements engine.Store over a querier.
type queries struct {
	q querier
}

// Store implements engine.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

const productColumns = `id, name, kumulatif, di_timbang, di_inventori, sdh_diserahkan, target_paket, created_at, updated_at`

func (r *queries) CreateProduct(ctx context.Context, p engine.Product) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.Name, p.Kumulatif, p.DiTimbang, p.DiInventori, p.SdhDiserahkan, p.TargetPaket,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (r *queries) GetProduct(ctx context.Context, id engine.ProductID) (engine.Product, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Product{}, engine.ProductNotFound(id)
	}
	if err != nil {
		return engine.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (r *queries) ListProducts(ctx context.Context) ([]engine.Product, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []engine.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *queries) IncrementCounters(ctx context.Context, id engine.ProductID, amount int, counters ...engine.Counter) (engine.Product, error) {
	if len(counters) == 0 {
		return r.GetProduct(ctx, id)
	}
	sets := make([]string, 0, len(counters)+1)
	args := make([]any, 0, len(counters)+2)
	for _, c := range counters {
		col, err := column(c)
		if err != nil {
			return engine.Product{}, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s + ?", col, col))
		args = append(args, amount)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now().UTC()), id)

	res, err := r.q.ExecContext(ctx, `UPDATE products SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return engine.Product{}, fmt.Errorf("failed to increment counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.Product{}, engine.ProductNotFound(id)
	}
	return r.GetProduct(ctx, id)
}

func (r *queries) DecrementCounter(ctx context.Context, id engine.ProductID, c engine.Counter, amount int) (engine.Product, error) {
	col, err := column(c)
	if err != nil {
		return engine.Product{}, err
	}

	query := fmt.Sprintf(`UPDATE products SET %s = %s - ?, updated_at = ? WHERE id = ? AND %s >= ?`, col, col, col)
	res, err := r.q.ExecContext(ctx, query, amount, formatTime(time.Now().UTC()), id, amount)
	if err != nil {
		return engine.Product{}, fmt.Errorf("failed to decrement counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		p, err := r.GetProduct(ctx, id)
		if err != nil {
			return engine.Product{}, err
		}
		return engine.Product{}, &engine.InsufficientStockError{
			ProductID: id,
			Counter:   c,
			Available: p.Get(c),
			Requested: amount,
		}
	}
	return r.GetProduct(ctx, id)
}

func (r *queries) SetCounter(ctx context.Context, id engine.ProductID, c engine.Counter, value int) (engine.Product, error) {
	col, err := column(c)
	if err != nil {
		return engine.Product{}, err
	}

	query := fmt.Sprintf(`UPDATE products SET %s = ?, updated_at = ? WHERE id = ?`, col)
	res, err := r.q.ExecContext(ctx, query, value, formatTime(time.Now().UTC()), id)
	if err != nil {
		return engine.Product{}, fmt.Errorf("failed to set counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.Product{}, engine.ProductNotFound(id)
	}
	return r.GetProduct(ctx, id)
}

// column maps a counter to its column. Counters are interpolated into SQL,
// so only known names pass.
func column(c engine.Counter) (string, error) {
	if !c.Valid() {
		return "", fmt.Errorf("unknown counter %q", c)
	}
	return string(c), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (engine.Product, error) {
	var (
		p                    engine.Product
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Kumulatif, &p.DiTimbang, &p.DiInventori,
		&p.SdhDiserahkan, &p.TargetPaket, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// PRODUCT LOG
// =============================================================================

const logColumns = `id, product_id, event, place, counter, value, note, reference, created_at`

func (r *queries) AppendLog(ctx context.Context, e engine.ProductLogEntry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO product_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.ProductID, e.Event, e.Place, e.Counter, e.Value, e.Note, e.Reference,
		formatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append product log: %w", err)
	}
	return nil
}

func (r *queries) LoadLogs(ctx context.Context, id engine.ProductID) ([]engine.ProductLogEntry, error) {
	return r.queryLogs(ctx, `SELECT `+logColumns+` FROM product_logs WHERE product_id = ? ORDER BY seq ASC`, id)
}

func (r *queries) RecentLogs(ctx context.Context, limit int) ([]engine.ProductLogEntry, error) {
	return r.queryLogs(ctx, `SELECT `+logColumns+` FROM product_logs ORDER BY seq DESC LIMIT ?`, limit)
}

func (r *queries) queryLogs(ctx context.Context, query string, args ...any) ([]engine.ProductLogEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query product logs: %w", err)
	}
	defer rows.Close()

	var entries []engine.ProductLogEntry
	for rows.Next() {
		var (
			e  engine.ProductLogEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Event, &e.Place, &e.Counter,
			&e.Value, &e.Note, &e.Reference, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan product log: %w", err)
		}
		e.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SHIPMENTS
// =============================================================================

const shipmentColumns = `id, status, note, created_at, received_at, cancelled_at`

func (r *queries) CreateShipment(ctx context.Context, s engine.Shipment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.Status, s.Note, formatTime(s.CreatedAt),
		nullTime(s.ReceivedAt), nullTime(s.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create shipment: %w", err)
	}

	for i, li := range s.LineItems {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO shipment_items (shipment_id, product_id, position, quantity_shipped, quantity_received)
			VALUES (?, ?, ?, ?, ?)
		`, s.ID, li.ProductID, i, li.QuantityShipped, nullInt(li.QuantityReceived))
		if err != nil {
			return fmt.Errorf("failed to create shipment item: %w", err)
		}
	}
	return nil
}

func (r *queries) GetShipment(ctx context.Context, id engine.ShipmentID) (engine.Shipment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = ?`, id)
	s, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Shipment{}, engine.ShipmentNotFound(id)
	}
	if err != nil {
		return engine.Shipment{}, fmt.Errorf("failed to get shipment: %w", err)
	}

	s.LineItems, err = r.loadItems(ctx, id)
	if err != nil {
		return engine.Shipment{}, err
	}
	return s, nil
}

// UpdateShipment persists status, timestamps and received quantities.
// Line items are fixed at creation.
func (r *queries) UpdateShipment(ctx context.Context, s engine.Shipment) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE shipments SET status = ?, note = ?, received_at = ?, cancelled_at = ?
		WHERE id = ?
	`, s.Status, s.Note, nullTime(s.ReceivedAt), nullTime(s.CancelledAt), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update shipment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ShipmentNotFound(s.ID)
	}

	for _, li := range s.LineItems {
		_, err := r.q.ExecContext(ctx, `
			UPDATE shipment_items SET quantity_received = ?
			WHERE shipment_id = ? AND product_id = ?
		`, nullInt(li.QuantityReceived), s.ID, li.ProductID)
		if err != nil {
			return fmt.Errorf("failed to update shipment item: %w", err)
		}
	}
	return nil
}

func (r *queries) ListShipments(ctx context.Context, status engine.ShipmentStatus) ([]engine.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY seq ASC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	var shipments []engine.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan shipment: %w", err)
		}
		shipments = append(shipments, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Items are loaded after the cursor is closed: the pool has one connection.
	for i := range shipments {
		shipments[i].LineItems, err = r.loadItems(ctx, shipments[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return shipments, nil
}

func (r *queries) loadItems(ctx context.Context, id engine.ShipmentID) ([]engine.LineItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, quantity_shipped, quantity_received
		FROM shipment_items WHERE shipment_id = ? ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load shipment items: %w", err)
	}
	defer rows.Close()

	var items []engine.LineItem
	for rows.Next() {
		var (
			li       engine.LineItem
			received sql.NullInt64
		)
		if err := rows.Scan(&li.ProductID, &li.QuantityShipped, &received); err != nil {
			return nil, fmt.Errorf("failed to scan shipment item: %w", err)
		}
		if received.Valid {
			q := int(received.Int64)
			li.QuantityReceived = &q
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func scanShipment(row scanner) (engine.Shipment, error) {
	var (
		s                     engine.Shipment
		createdAt             string
		receivedAt, cancelled sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Status, &s.Note, &createdAt, &receivedAt, &cancelled); err != nil {
		return s, err
	}
	s.CreatedAt = parseTime(createdAt)
	s.ReceivedAt = parseNullTime(receivedAt)
	s.CancelledAt = parseNullTime(cancelled)
	return s, nil
}

// =============================================================================
// ERROR LOGS
// =============================================================================

const errorLogColumns = `id, product_id, shipment_id, quantity_expected, quantity_actual, note,
	resolved, strategy, resolution_note, resolved_at, created_at`

func (r *queries) CreateErrorLog(ctx context.Context, e engine.ErrorLog) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO error_logs (`+errorLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.ProductID, e.ShipmentID, e.QuantityExpected, e.QuantityActual, e.Note,
		e.Resolved, e.Strategy, e.ResolutionNote, nullTime(e.ResolvedAt), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create error log: %w", err)
	}
	return nil
}

func (r *queries) GetErrorLog(ctx context.Context, id engine.ErrorLogID) (engine.ErrorLog, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+errorLogColumns+` FROM error_logs WHERE id = ?`, id)
	e, err := scanErrorLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ErrorLog{}, engine.ErrorLogNotFound(id)
	}
	if err != nil {
		return engine.ErrorLog{}, fmt.Errorf("failed to get error log: %w", err)
	}
	return e, nil
}

func (r *queries) UpdateErrorLog(ctx context.Context, e engine.ErrorLog) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE error_logs SET resolved = ?, strategy = ?, resolution_note = ?, resolved_at = ?, note = ?
		WHERE id = ?
	`, e.Resolved, e.Strategy, e.ResolutionNote, nullTime(e.ResolvedAt), e.Note, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update error log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrorLogNotFound(e.ID)
	}
	return nil
}

func (r *queries) ListErrorLogs(ctx context.Context, f engine.ErrorLogFilter) ([]engine.ErrorLog, error) {
	var (
		where []string
		args  []any
	)
	if f.ProductID != nil {
		where = append(where, "product_id = ?")
		args = append(args, *f.ProductID)
	}
	if f.ShipmentID != nil {
		where = append(where, "shipment_id = ?")
		args = append(args, *f.ShipmentID)
	}
	if f.Unresolved {
		where = append(where, "resolved = 0")
	}

	query := `SELECT ` + errorLogColumns + ` FROM error_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq ASC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list error logs: %w", err)
	}
	defer rows.Close()

	var logs []engine.ErrorLog
	for rows.Next() {
		e, err := scanErrorLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan error log: %w", err)
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

func scanErrorLog(row scanner) (engine.ErrorLog, error) {
	var (
		e          engine.ErrorLog
		resolvedAt sql.NullString
		createdAt  string
	)
	err := row.Scan(&e.ID, &e.ProductID, &e.ShipmentID, &e.QuantityExpected, &e.QuantityActual,
		&e.Note, &e.Resolved, &e.Strategy, &e.ResolutionNote, &resolvedAt, &createdAt)
	if err != nil {
		return e, err
	}
	e.ResolvedAt = parseNullTime(resolvedAt)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
