package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// WithTransaction executes fn within a transaction stored in the context passed to fn.
// If fn returns an error or panics the transaction is rolled back, otherwise it is committed.
// A transaction already present in ctx is reused.
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", ParseDBError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Panic in transaction: %v", p)
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Warn("Rollback failed: %v", rbErr)
			}
		}
	}()

	if err = fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", ParseDBError(err))
	}
	return nil
}
