package mocks

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/phrazzld/mailpipe/internal/store"
)

// MockTransactor implements store.Transactor by calling fn with a nil
// transaction. Pair it with the in-memory store mocks, whose WithTx ignores
// the transaction.
type MockTransactor struct {
	// Err, when set, is returned instead of running fn.
	Err error

	calls atomic.Int64
}

var _ store.Transactor = (*MockTransactor)(nil)

// RunInTransaction implements store.Transactor.
func (m *MockTransactor) RunInTransaction(ctx context.Context, fn store.TxFn) error {
	m.calls.Add(1)
	if m.Err != nil {
		return m.Err
	}
	return fn(ctx, (*sql.Tx)(nil))
}

// Calls returns how many transactions were started.
func (m *MockTransactor) Calls() int {
	return int(m.calls.Load())
}
