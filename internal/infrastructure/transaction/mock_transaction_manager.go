package transaction

import (
	"context"
	"sync/atomic"
)

// MockTransactionManager runs fn directly, for use with in-memory repositories
type MockTransactionManager struct {
	calls atomic.Int64
}

// NewMockTransactionManager creates a new mock transaction manager
func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

// InTransaction executes fn with the same context
func (m *MockTransactionManager) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	m.calls.Add(1)
	return fn(ctx)
}

// Calls returns how many transactions were requested
func (m *MockTransactionManager) Calls() int64 {
	return m.calls.Load()
}
