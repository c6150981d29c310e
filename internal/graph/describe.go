package graph

import (
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

// Description is a JSON-friendly snapshot of a graph.
type Description struct {
	Nodes  []NodeDescription `json:"nodes"`
	Edges  []EdgeDescription `json:"edges"`
	Result *NodeID           `json:"result,omitempty"`
}

type NodeDescription struct {
	ID        NodeID         `json:"id"`
	Kind      string         `json:"kind"`
	Model     string         `json:"model,omitempty"`
	State     string         `json:"state"`
	Filter    any            `json:"filter,omitempty"`
	Selectors int            `json:"selectors,omitempty"`
	Fields    []string       `json:"fields,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type EdgeDescription struct {
	Parent     NodeID   `json:"parent"`
	Child      NodeID   `json:"child"`
	Dependency string   `json:"dependency"`
	Identifier []string `json:"identifier,omitempty"`
	Transform  string   `json:"transform,omitempty"`
}

// Describe renders the graph's nodes and edges in identifier order.
func (g *Graph) Describe() Description {
	d := Description{Nodes: make([]NodeDescription, len(g.nodes)), Edges: make([]EdgeDescription, len(g.edges))}
	for i, e := range g.nodes {
		nd := NodeDescription{ID: NodeID(i), Kind: describeNode(e.node), State: e.state.String()}
		switch n := e.node.(type) {
		case QueryNode:
			nd.Model = n.Query.Target().Name
			describeQuery(&nd, n.Query)
		case FlowNode:
			if c, ok := n.Flow.(CheckEmpty); ok {
				nd.Model = c.Model
			}
		}
		d.Nodes[i] = nd
	}
	for i, e := range g.edges {
		ed := EdgeDescription{Parent: e.Parent, Child: e.Child, Dependency: "ExecutionOrder"}
		if pd, ok := e.Dependency.(ProjectedData); ok {
			ed.Dependency = "ProjectedData"
			ed.Identifier = pd.Identifier
			ed.Transform = pd.Transform.Name()
		}
		d.Edges[i] = ed
	}
	if id, ok := g.ResultNode(); ok {
		d.Result = &id
	}
	return d
}

func describeQuery(nd *NodeDescription, q query.Query) {
	switch q := q.(type) {
	case query.RecordQuery:
		nd.Filter = DescribeFilter(q.Filter)
		nd.Fields = query.FieldNames(q.Fields)
	case query.ManyRecordsQuery:
		nd.Filter = DescribeFilter(q.Combined())
		nd.Fields = query.FieldNames(q.Fields)
	case query.UpdateRecord:
		nd.Filter = DescribeFilter(q.RecordFilter.Filter)
		nd.Selectors = len(q.RecordFilter.Selectors)
		nd.Data = describeData(q.Data)
	case query.UpdateManyRecords:
		nd.Filter = DescribeFilter(q.RecordFilter.Filter)
		nd.Selectors = len(q.RecordFilter.Selectors)
		nd.Data = describeData(q.Data)
	case query.DeleteManyRecords:
		nd.Filter = DescribeFilter(q.RecordFilter.Filter)
		nd.Selectors = len(q.RecordFilter.Selectors)
	}
}

func describeData(w query.WriteArgs) map[string]any {
	out := make(map[string]any, len(w))
	for _, fw := range w {
		out[fw.Field] = map[string]any{string(fw.Op): value.ToGo(fw.Value)}
	}
	return out
}

// DescribeFilter renders f in the where-argument shape clients write. Empty
// renders as nil.
func DescribeFilter(f query.Filter) any {
	switch f := f.(type) {
	case query.Condition:
		return map[string]any{f.Field: map[string]any{string(f.Op): value.ToGo(f.Value)}}
	case query.And:
		return map[string]any{"AND": describeFilters(f)}
	case query.Or:
		return map[string]any{"OR": describeFilters(f)}
	case query.Not:
		return map[string]any{"NOT": DescribeFilter(f.Filter)}
	}
	return nil
}

func describeFilters(fs []query.Filter) []any {
	out := make([]any, len(fs))
	for i, f := range fs {
		out[i] = DescribeFilter(f)
	}
	return out
}
