// Package query defines the primitive storage operations a query graph is
// made of.
//
// Reads fetch records of one model, optionally with related records nested
// below them. Writes apply a data payload to the records selected by a
// RecordFilter. Filters only reference scalar fields; relations are resolved
// by the graph (nested writes) or the interpreter (nested reads).
package query

import (
	"github.com/hanpama/querygraph/internal/catalog"
)

// Query is a primitive storage operation. RecordQuery, ManyRecordsQuery,
// UpdateRecord, UpdateManyRecords and DeleteManyRecords are the only
// implementations.
type Query interface {
	// Target is the model the operation reads or writes.
	Target() *catalog.Model
	isQuery()
}

// Describe names the query kind, e.g. "UpdateRecord".
func Describe(q Query) string {
	switch q.(type) {
	case RecordQuery:
		return "RecordQuery"
	case ManyRecordsQuery:
		return "ManyRecordsQuery"
	case UpdateRecord:
		return "UpdateRecord"
	case UpdateManyRecords:
		return "UpdateManyRecords"
	case DeleteManyRecords:
		return "DeleteManyRecords"
	}
	return "Unknown"
}

// IsWrite reports whether q modifies records.
func IsWrite(q Query) bool {
	switch q.(type) {
	case UpdateRecord, UpdateManyRecords, DeleteManyRecords:
		return true
	}
	return false
}
