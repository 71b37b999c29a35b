package output

import (
	"context"
)

// TransactionManager scopes repository calls to one atomic unit
type TransactionManager interface {
	// InTransaction executes fn within a transaction carried by txCtx.
	// If fn returns an error, the transaction is rolled back.
	// A call nested inside another InTransaction joins the outer transaction.
	InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}
