package circuitbreaker

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper routes sqlx operations through a circuit breaker so a
// struggling Postgres cannot stall the archive writer or the API handlers.
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with breaker settings from env
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := NewCircuitBreaker("postgres", GetDatabaseSettings().ToConfig(), logger)
	return &DatabaseWrapper{
		db:     db,
		cb:     cb,
		logger: logger,
	}
}

// PingContext wraps PingContext
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
}

// GetContext wraps sqlx GetContext. A missing row is not a breaker failure.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		err = dw.db.GetContext(ctx, dest, query, args...)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
	if cbErr != nil {
		return cbErr
	}
	return err
}

// SelectContext wraps sqlx SelectContext
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.cb.Execute(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, query, args...)
	})
}

// ExecContext wraps ExecContext
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		result, err = dw.db.ExecContext(ctx, query, args...)
		return err
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return result, err
}

// NamedExecContext wraps sqlx NamedExecContext
func (dw *DatabaseWrapper) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	var result sql.Result
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		result, err = dw.db.NamedExecContext(ctx, query, arg)
		return err
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return result, err
}

// BeginTxx wraps transaction start. Statements inside the transaction run
// outside the breaker; only acquiring the connection is guarded.
func (dw *DatabaseWrapper) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	var tx *sqlx.Tx
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		tx, err = dw.db.BeginTxx(ctx, opts)
		return err
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return tx, err
}

// Close closes the underlying pool
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// DB returns the raw sqlx handle for operations the wrapper does not cover
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// IsCircuitBreakerOpen reports whether the breaker is currently open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
