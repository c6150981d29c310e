package events

import "time"

// DocumentStart is emitted before a query document is executed.
type DocumentStart struct {
	// Batch is the number of operations; 1 for a single operation.
	Batch          int
	Transactional  bool
	IsolationLevel string
}

// DocumentFinish is emitted after a query document was executed.
type DocumentFinish struct {
	Batch    int
	Errors   []error
	Duration time.Duration
}

// CompactionDecision reports whether a batch was rewritten into a single
// bulk read.
type CompactionDecision struct {
	RootField string
	Batch     int
	Compacted bool
	// Keys lists the fields used to match rows back to requests.
	Keys []string
}
