package interpreter

import (
	"context"

	"github.com/hanpama/querygraph/internal/query"
)

// Connector executes primitive queries against storage.
//
// Rows returned for reads and single-record updates carry every scalar field
// of the model, whatever the query selected:
//   - RecordQuery returns at most one row matching Filter.
//   - ManyRecordsQuery returns the rows matching Combined(), ordered by
//     Args.OrderBy and paginated by Args.Skip and Args.Take.
//   - UpdateRecord updates the first record matching its RecordFilter and
//     returns it as updated; no rows means nothing matched.
//   - UpdateManyRecords and DeleteManyRecords report the affected records in
//     Count.
type Connector interface {
	Execute(ctx context.Context, q query.Query) (query.Result, error)

	// Transaction runs fn inside a transaction with the given isolation
	// level, committing when fn returns nil and rolling back otherwise. An
	// empty level selects the storage default. Connectors passed to fn must
	// treat a nested Transaction call as part of the enclosing one.
	Transaction(ctx context.Context, isolationLevel string, fn func(ctx context.Context, conn Connector) error) error
}
