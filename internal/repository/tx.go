package repository

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"
)

// sqlCommand is satisfied by both *sql.DB and *sql.Tx so repository
// methods run the same statements inside or outside a transaction.
type sqlCommand interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type txKey struct{}

func txFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// cmd returns the transaction carried by ctx, or db.
func cmd(ctx context.Context, db *sql.DB) sqlCommand {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// TxManager opens InnoDB transactions for the booking service.  Repository
// methods called with the ctx handed to fn join the transaction.
type TxManager struct {
	logger *logrus.Logger
	db     *sql.DB
}

func NewTxManager(logger *logrus.Logger, db *sql.DB) *TxManager {
	return &TxManager{logger: logger, db: db}
}

// WithTx runs fn in a READ COMMITTED transaction.  Locking reads lock the
// rows they find and take no gap locks, so seat batches only block each
// other on sold seats and on seats being inserted.  A nested call reuses
// the outer transaction.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("begin transaction")
		return classifyLockError(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("commit transaction")
		return classifyLockError(err)
	}
	committed = true
	return nil
}
