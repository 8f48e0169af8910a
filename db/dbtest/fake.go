// Package dbtest provides transaction fakes for service unit tests.
package dbtest

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// FakePool hands out FakeTx values and remembers every transaction it began.
type FakePool struct {
	BeginErr  error
	CommitErr error
	Txs       []*FakeTx
}

func (f *FakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.BeginErr != nil {
		return nil, f.BeginErr
	}
	tx := &FakeTx{commitErr: f.CommitErr}
	f.Txs = append(f.Txs, tx)
	return tx, nil
}

// Last returns the most recent transaction, or nil when none was started.
func (f *FakePool) Last() *FakeTx {
	if len(f.Txs) == 0 {
		return nil
	}
	return f.Txs[len(f.Txs)-1]
}

// Committed counts transactions that reached Commit without error.
func (f *FakePool) Committed() int {
	n := 0
	for _, tx := range f.Txs {
		if tx.Committed {
			n++
		}
	}
	return n
}

// FakeTx records Commit and Rollback calls and the statements passed to Exec.
// Query methods are not supported; repositories under test are faked
// separately.
type FakeTx struct {
	RolledBack bool
	Committed  bool
	Execs      []string
	commitErr  error
}

func (f *FakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("dbtest: nested transactions not supported")
}

func (f *FakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.Committed = true
	return nil
}

func (f *FakeTx) Rollback(context.Context) error {
	if !f.Committed {
		f.RolledBack = true
	}
	return nil
}

func (f *FakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *FakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *FakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *FakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *FakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.Execs = append(f.Execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *FakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *FakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *FakeTx) Conn() *pgx.Conn {
	return nil
}
