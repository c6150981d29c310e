// Package graph holds the query graph: an arena of nodes connected by
// dependency edges.
//
// Nodes are primitive storage operations (QueryNode) or control checks
// (FlowNode). An edge orders its parent before its child; a ProjectedData edge
// additionally projects fields from the parent's result rows and feeds them to
// a Transform that finalizes the child. Nodes and edges are addressed by
// stable integer identifiers so a node can have any number of incoming edges
// without shared ownership.
//
// A node moves through Unbuilt, Finalized, Executed and Complete. The builder
// creates nodes and edges, freezes the graph and hands it to an interpreter,
// which finalizes, executes and completes nodes in TopologicalOrder.
package graph

import (
	"fmt"

	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
)

type NodeID int

type EdgeID int

// Node is a QueryNode or a FlowNode.
type Node interface {
	isNode()
}

// QueryNode executes a primitive query against storage.
type QueryNode struct {
	Query query.Query
}

// FlowNode is evaluated by the interpreter without touching storage.
type FlowNode struct {
	Flow Flow
}

func (QueryNode) isNode() {}
func (FlowNode) isNode()  {}

// Flow is a control check. CheckEmpty is the only implementation.
type Flow interface {
	// Evaluate fails when the check does not hold.
	Evaluate() error
	isFlow()
}

// CheckEmpty fails with a constraint error when Count is not zero. Count is
// installed by a SetCheckCount edge.
type CheckEmpty struct {
	Count    int
	Model    string
	Relation string
	Message  string
}

func (CheckEmpty) isFlow() {}

func (c CheckEmpty) Evaluate() error {
	if c.Count == 0 {
		return nil
	}
	return qerr.Constraint(c.Model, c.Relation, c.Message)
}

// Dependency is the kind of an edge: ExecutionOrder or ProjectedData.
type Dependency interface {
	isDependency()
}

// ExecutionOrder only orders the parent before the child.
type ExecutionOrder struct{}

// ProjectedData projects Identifier from every parent result row and passes
// the projections to Transform before the child is finalized.
type ProjectedData struct {
	Identifier []string
	Transform  Transform
}

func (ExecutionOrder) isDependency() {}
func (ProjectedData) isDependency()  {}

type Edge struct {
	ID         EdgeID
	Parent     NodeID
	Child      NodeID
	Dependency Dependency
}

type State int

const (
	Unbuilt State = iota
	Finalized
	Executed
	Complete
)

func (s State) String() string {
	switch s {
	case Unbuilt:
		return "Unbuilt"
	case Finalized:
		return "Finalized"
	case Executed:
		return "Executed"
	case Complete:
		return "Complete"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type entry struct {
	node   Node
	state  State
	result query.Result
}

// Graph is the arena. The zero value is not usable; call New.
type Graph struct {
	nodes  []entry
	edges  []Edge
	in     map[NodeID][]EdgeID
	out    map[NodeID][]EdgeID
	result NodeID
	hasRes bool
	frozen bool
}

func New() *Graph {
	return &Graph{in: map[NodeID][]EdgeID{}, out: map[NodeID][]EdgeID{}}
}

// CreateNode adds n and returns its identifier. Identifiers are assigned in
// creation order starting at zero.
func (g *Graph) CreateNode(n Node) (NodeID, error) {
	if g.frozen {
		return 0, qerr.Invariant("cannot add a node to a frozen graph")
	}
	if n == nil {
		return 0, qerr.Invariant("cannot add a nil node")
	}
	g.nodes = append(g.nodes, entry{node: n})
	return NodeID(len(g.nodes) - 1), nil
}

// CreateEdge connects parent to child. It fails when either node is unknown,
// when the graph is frozen, or when the edge would close a cycle.
func (g *Graph) CreateEdge(parent, child NodeID, dep Dependency) (EdgeID, error) {
	if g.frozen {
		return 0, qerr.Invariant("cannot add an edge to a frozen graph")
	}
	if !g.valid(parent) || !g.valid(child) {
		return 0, qerr.Invariant("edge %d -> %d references an unknown node", parent, child)
	}
	if dep == nil {
		return 0, qerr.Invariant("edge %d -> %d has no dependency", parent, child)
	}
	if pd, ok := dep.(ProjectedData); ok && pd.Transform == nil {
		return 0, qerr.Invariant("projected data edge %d -> %d has no transform", parent, child)
	}
	if parent == child || g.reaches(child, parent) {
		return 0, qerr.Invariant("edge %d -> %d would create a cycle", parent, child)
	}
	id := EdgeID(len(g.edges))
	g.edges = append(g.edges, Edge{ID: id, Parent: parent, Child: child, Dependency: dep})
	g.out[parent] = append(g.out[parent], id)
	g.in[child] = append(g.in[child], id)
	return id, nil
}

func (g *Graph) valid(id NodeID) bool { return id >= 0 && int(id) < len(g.nodes) }

func (g *Graph) reaches(from, to NodeID) bool {
	seen := map[NodeID]bool{}
	stack := []NodeID{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		for _, e := range g.out[n] {
			stack = append(stack, g.edges[e].Child)
		}
	}
	return false
}

// SetResultNode marks the node whose result answers the operation.
func (g *Graph) SetResultNode(id NodeID) error {
	if !g.valid(id) {
		return qerr.Invariant("result node %d does not exist", id)
	}
	g.result, g.hasRes = id, true
	return nil
}

func (g *Graph) ResultNode() (NodeID, bool) { return g.result, g.hasRes }

// Freeze ends construction. Nodes and edges can no longer be added.
func (g *Graph) Freeze() { g.frozen = true }

func (g *Graph) Frozen() bool { return g.frozen }

func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) Node(id NodeID) (Node, bool) {
	if !g.valid(id) {
		return nil, false
	}
	return g.nodes[id].node, true
}

func (g *Graph) State(id NodeID) State {
	if !g.valid(id) {
		return Unbuilt
	}
	return g.nodes[id].state
}

// Edges returns every edge in insertion order.
func (g *Graph) Edges() []Edge { return append([]Edge(nil), g.edges...) }

// IncomingEdges returns the edges into id in insertion order.
func (g *Graph) IncomingEdges(id NodeID) []Edge {
	return g.collect(g.in[id])
}

func (g *Graph) OutgoingEdges(id NodeID) []Edge {
	return g.collect(g.out[id])
}

func (g *Graph) collect(ids []EdgeID) []Edge {
	out := make([]Edge, len(ids))
	for i, e := range ids {
		out[i] = g.edges[e]
	}
	return out
}

// TopologicalOrder lists every node so that parents precede children. Among
// nodes that are ready at the same time the lowest identifier comes first,
// so the order follows creation order wherever edges allow.
func (g *Graph) TopologicalOrder() []NodeID {
	indegree := make([]int, len(g.nodes))
	for _, e := range g.edges {
		indegree[e.Child]++
	}
	var ready []NodeID
	for id := range g.nodes {
		if indegree[id] == 0 {
			ready = append(ready, NodeID(id))
		}
	}
	order := make([]NodeID, 0, len(g.nodes))
	for len(ready) > 0 {
		lowest := 0
		for i := range ready {
			if ready[i] < ready[lowest] {
				lowest = i
			}
		}
		n := ready[lowest]
		ready = append(ready[:lowest], ready[lowest+1:]...)
		order = append(order, n)
		for _, e := range g.out[n] {
			c := g.edges[e].Child
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	return order
}

// Finalize runs the transforms of every incoming ProjectedData edge, in edge
// insertion order, against the completed parents' results. Every parent must
// be Complete.
func (g *Graph) Finalize(id NodeID) error {
	if !g.valid(id) {
		return qerr.Invariant("node %d does not exist", id)
	}
	if g.nodes[id].state != Unbuilt {
		return qerr.Invariant("node %d is already %s", id, g.nodes[id].state)
	}
	node := g.nodes[id].node
	for _, e := range g.IncomingEdges(id) {
		if g.nodes[e.Parent].state != Complete {
			return qerr.Invariant("node %d finalized before its parent %d completed", id, e.Parent)
		}
		pd, ok := e.Dependency.(ProjectedData)
		if !ok {
			continue
		}
		rows, err := g.Project(e.Parent, pd.Identifier)
		if err != nil {
			return err
		}
		next, err := pd.Transform.Apply(node, rows)
		if err != nil {
			return err
		}
		node = next
	}
	g.nodes[id].node = node
	g.nodes[id].state = Finalized
	return nil
}

// MarkExecuted records that a finalized node was handed to storage.
func (g *Graph) MarkExecuted(id NodeID) error {
	return g.advance(id, Finalized, Executed)
}

// Complete stores the node's result. The node must be Executed.
func (g *Graph) Complete(id NodeID, res query.Result) error {
	if err := g.advance(id, Executed, Complete); err != nil {
		return err
	}
	g.nodes[id].result = res
	return nil
}

func (g *Graph) advance(id NodeID, from, to State) error {
	if !g.valid(id) {
		return qerr.Invariant("node %d does not exist", id)
	}
	if g.nodes[id].state != from {
		return qerr.Invariant("node %d is %s, want %s before %s", id, g.nodes[id].state, from, to)
	}
	g.nodes[id].state = to
	return nil
}

// Result returns the result of a Complete node.
func (g *Graph) Result(id NodeID) (query.Result, bool) {
	if !g.valid(id) || g.nodes[id].state != Complete {
		return query.Result{}, false
	}
	return g.nodes[id].result, true
}

// Project extracts fields from every result row of a Complete node.
func (g *Graph) Project(id NodeID, fields []string) ([]query.SelectionResult, error) {
	res, ok := g.Result(id)
	if !ok {
		return nil, qerr.Invariant("node %d has no result to project", id)
	}
	out := make([]query.SelectionResult, 0, len(res.Rows))
	for _, row := range res.Rows {
		sel, err := query.Project(row, fields)
		if err != nil {
			return nil, fmt.Errorf("project node %d: %w", id, err)
		}
		out = append(out, sel)
	}
	return out, nil
}
