// Package document is the protocol-agnostic intermediate representation of a
// client request.
//
// A request is one Operation (a read or a write) or a batch of them. Every
// operation wraps a Selection: the requested root field with its alias,
// arguments and nested selection set. Arguments hold parsed values that the
// query graph builder interprets against the model catalog.
//
// Batches of structurally equivalent findUnique reads can be compacted into a
// single findMany read plus a remapping table (see Compact and
// CompactedDocument).
package document

// QueryDocument is either a Single operation or a Multi batch.
type QueryDocument interface {
	isQueryDocument()
}

type Single struct {
	Operation Operation
}

type Multi struct {
	Batch BatchDocument
}

func (Single) isQueryDocument() {}
func (Multi) isQueryDocument()  {}

// DedupOperations removes duplicate nested selections of a single operation.
// Batches are returned unchanged. Applying it twice is a no-op.
func DedupOperations(doc QueryDocument) QueryDocument {
	if s, ok := doc.(Single); ok {
		return Single{Operation: DedupSelections(s.Operation)}
	}
	return doc
}

// BatchDocument is either an OperationBatch or a CompactBatch.
type BatchDocument interface {
	isBatchDocument()
}

// OperationBatch is a list of operations submitted together. Transaction is
// nil for non-transactional batches.
type OperationBatch struct {
	Operations  []Operation
	Transaction *Transaction
}

// CompactBatch is the result of a successful compaction. Transaction is
// carried over from the original batch.
type CompactBatch struct {
	Document    *CompactedDocument
	Transaction *Transaction
}

func (OperationBatch) isBatchDocument() {}
func (CompactBatch) isBatchDocument()   {}

func NewBatch(operations []Operation, tx *Transaction) BatchDocument {
	return OperationBatch{Operations: operations, Transaction: tx}
}

// IsCompact reports whether b is a CompactBatch.
func IsCompact(b BatchDocument) bool {
	_, ok := b.(CompactBatch)
	return ok
}

// Transaction describes a transactional batch. The isolation level is passed
// to the storage layer unchanged; empty means the storage default.
type Transaction struct {
	IsolationLevel string
}

func NewTransaction(isolationLevel string) *Transaction {
	return &Transaction{IsolationLevel: isolationLevel}
}
