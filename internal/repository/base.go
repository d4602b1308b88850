package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// BaseRepository provides the lookups shared by every table.
// It uses Go generics to work with any model type.
type BaseRepository[T any] struct {
	db        *sqlx.DB
	tableName string
}

// NewBaseRepository creates a new base repository for the given table.
func NewBaseRepository[T any](db *sqlx.DB, tableName string) *BaseRepository[T] {
	return &BaseRepository[T]{
		db:        db,
		tableName: tableName,
	}
}

// getQueryable returns the transaction from context if present, otherwise the db.
func (r *BaseRepository[T]) getQueryable(ctx context.Context) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

// DB returns the underlying database connection.
func (r *BaseRepository[T]) DB() *sqlx.DB {
	return r.db
}

// GetByID retrieves a record by its ID.
func (r *BaseRepository[T]) GetByID(ctx context.Context, id int64) (*T, error) {
	q := r.getQueryable(ctx)

	var result T
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = ?", r.tableName)

	if err := q.GetContext(ctx, &result, q.Rebind(query), id); err != nil {
		return nil, ParseDBError(err)
	}

	return &result, nil
}

// ExistsBy checks if any record matches the given condition.
// The condition should be a valid SQL WHERE clause fragment (e.g., "name = ? AND status = ?").
func (r *BaseRepository[T]) ExistsBy(ctx context.Context, condition string, args ...any) (bool, error) {
	q := r.getQueryable(ctx)

	var exists bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s)", r.tableName, condition)

	if err := q.GetContext(ctx, &exists, q.Rebind(query), args...); err != nil {
		return false, ParseDBError(err)
	}

	return exists, nil
}
