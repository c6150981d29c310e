package events

import "time"

// GraphBuilt is emitted once a query graph was built for an operation.
type GraphBuilt struct {
	RootField string
	Nodes     int
	Edges     int
}

// NodeExecuted is emitted after a graph node ran.
type NodeExecuted struct {
	Node  int
	Kind  string
	Model string
	// Rows is the number of records storage returned.
	Rows     int
	Count    int
	Err      error
	Duration time.Duration
}
