package memory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
)

// The repository interfaces thread *sql.Tx so the Postgres implementation
// can scope every event to one transaction. The in-memory store does not
// need transactions, but it still has to hand out a real *sql.Tx for the
// projector to carry around. A minimal no-op driver provides one.

type noopDriver struct{}

func (noopDriver) Open(string) (driver.Conn, error) { return noopConn{}, nil }

type noopConnector struct{}

func (noopConnector) Connect(context.Context) (driver.Conn, error) { return noopConn{}, nil }
func (noopConnector) Driver() driver.Driver                        { return noopDriver{} }

type noopConn struct{}

func (noopConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("memory store does not execute SQL")
}
func (noopConn) Close() error              { return nil }
func (noopConn) Begin() (driver.Tx, error) { return noopTx{}, nil }

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

func newNoopDB() *sql.DB {
	return sql.OpenDB(noopConnector{})
}
