package sqlite

import (
	"context"
	"database/sql"
)

// Exec runs raw SQL against the store for tests that probe schema rules.
func (s *Store) Exec(ctx context.Context, query string) (sql.Result, error) {
	return s.db.ExecContext(ctx, query)
}
