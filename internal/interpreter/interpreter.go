// Package interpreter executes query documents: it builds a query graph per
// operation, runs its nodes against a Connector in dependency order and
// shapes the results returned to the client.
//
// Graph nodes run one at a time in topological order, lowest node id first
// among ready nodes. Before a node runs, the transforms of its incoming edges
// are applied exactly once against its completed parents.
package interpreter

import (
	"context"
	"fmt"
	"time"

	"github.com/hanpama/querygraph/internal/builder"
	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/document"
	eventbus "github.com/hanpama/querygraph/internal/eventbus"
	events "github.com/hanpama/querygraph/internal/events"
	"github.com/hanpama/querygraph/internal/graph"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

const fieldCount = "count"

// Result is the outcome of one operation of a document.
type Result struct {
	// Name is the response key: the root field's alias, or its name.
	Name string
	Data value.Value
	Err  error
}

type Interpreter struct {
	catalog *catalog.Catalog
	builder *builder.Builder
	conn    Connector
}

func New(c *catalog.Catalog, conn Connector) *Interpreter {
	return &Interpreter{catalog: c, builder: builder.New(c), conn: conn}
}

// ExecuteDocument runs doc and returns one Result per operation in
// submission order. Failures of individual operations are reported in their
// Result. The error is set only when the document failed as a whole: a
// transactional batch that was rolled back, or a defect while compacting.
func (in *Interpreter) ExecuteDocument(ctx context.Context, doc document.QueryDocument) (results []Result, err error) {
	start := time.Now()
	size, tx := describeDocument(doc)
	ev := events.DocumentStart{Batch: size, Transactional: tx != nil}
	if tx != nil {
		ev.IsolationLevel = tx.IsolationLevel
	}
	eventbus.Publish(ctx, ev)
	defer func() {
		fin := events.DocumentFinish{Batch: size, Duration: time.Since(start)}
		if err != nil {
			fin.Errors = append(fin.Errors, err)
		}
		for _, r := range results {
			if r.Err != nil {
				fin.Errors = append(fin.Errors, r.Err)
			}
		}
		eventbus.Publish(ctx, fin)
	}()

	switch d := document.DedupOperations(doc).(type) {
	case document.Single:
		return []Result{in.single(ctx, d.Operation)}, nil
	case document.Multi:
		return in.batch(ctx, d.Batch)
	}
	return nil, qerr.Invariant("unknown query document %T", doc)
}

func describeDocument(doc document.QueryDocument) (int, *document.Transaction) {
	m, ok := doc.(document.Multi)
	if !ok {
		return 1, nil
	}
	switch b := m.Batch.(type) {
	case document.OperationBatch:
		return len(b.Operations), b.Transaction
	case document.CompactBatch:
		return len(b.Document.Arguments), b.Transaction
	}
	return 0, nil
}

// single runs a standalone operation. Writes get an implicit transaction so
// a failing nested write leaves no partial changes behind.
func (in *Interpreter) single(ctx context.Context, op document.Operation) Result {
	res := Result{Name: op.Selection().ResponseName()}
	if _, ok := op.(document.Write); !ok {
		res.Data, res.Err = in.operation(ctx, in.conn, op)
		return res
	}
	res.Err = in.conn.Transaction(ctx, "", func(ctx context.Context, conn Connector) error {
		var err error
		res.Data, err = in.operation(ctx, conn, op)
		return err
	})
	if res.Err != nil {
		res.Data = nil
	}
	return res
}

func (in *Interpreter) batch(ctx context.Context, b document.BatchDocument) ([]Result, error) {
	original := b
	b, err := document.Compact(b, in.catalog)
	if err != nil {
		return nil, err
	}
	if ob, ok := original.(document.OperationBatch); ok && len(ob.Operations) > 0 {
		ev := events.CompactionDecision{RootField: document.Name(ob.Operations[0]), Batch: len(ob.Operations)}
		if cb, ok := b.(document.CompactBatch); ok {
			ev.Compacted = true
			ev.Keys = cb.Document.Keys
		}
		eventbus.Publish(ctx, ev)
	}

	switch b := b.(type) {
	case document.CompactBatch:
		return in.compactBatch(ctx, b)
	case document.OperationBatch:
		if b.Transaction == nil {
			results := make([]Result, len(b.Operations))
			for i, op := range b.Operations {
				results[i] = in.single(ctx, document.DedupSelections(op))
			}
			return results, nil
		}
		results := make([]Result, len(b.Operations))
		err := in.conn.Transaction(ctx, b.Transaction.IsolationLevel, func(ctx context.Context, conn Connector) error {
			for i, op := range b.Operations {
				op = document.DedupSelections(op)
				data, err := in.operation(ctx, conn, op)
				if err != nil {
					return fmt.Errorf("batch operation %d (%s): %w", i, document.Name(op), err)
				}
				results[i] = Result{Name: op.Selection().ResponseName(), Data: data}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return results, nil
	}
	return nil, qerr.Invariant("unknown batch document %T", b)
}

func (in *Interpreter) compactBatch(ctx context.Context, b document.CompactBatch) ([]Result, error) {
	doc := b.Document
	var results []Result
	run := func(ctx context.Context, conn Connector) error {
		var err error
		results, err = in.compacted(ctx, conn, doc)
		return err
	}
	var err error
	if b.Transaction != nil {
		if err = in.conn.Transaction(ctx, b.Transaction.IsolationLevel, run); err != nil {
			return nil, err
		}
		return results, nil
	}
	if err = run(ctx, in.conn); err != nil {
		results = make([]Result, len(doc.Arguments))
		for i := range results {
			results[i] = Result{Name: compactedName(doc), Err: err}
		}
	}
	return results, nil
}

func compactedName(doc *document.CompactedDocument) string {
	if alias := doc.Operation.Selection().Alias(); alias != "" {
		return alias
	}
	return doc.SingleName()
}

// compacted runs the bulk read of doc and hands every original request its
// row, or null.
func (in *Interpreter) compacted(ctx context.Context, conn Connector, doc *document.CompactedDocument) ([]Result, error) {
	g, err := in.Build(ctx, doc.Operation)
	if err != nil {
		return nil, err
	}
	res, err := in.Run(ctx, conn, g)
	if err != nil {
		return nil, err
	}
	shaped, ok := value.AsList(res.Response)
	if !ok || len(shaped) != len(res.Rows) {
		return nil, qerr.Invariant("compacted read returned %d rows but shaped %s", len(res.Rows), value.Kind(res.Response))
	}
	rows := make([]value.Object, len(res.Rows))
	for i, r := range res.Rows {
		rows[i] = r
	}
	name := compactedName(doc)
	results := make([]Result, len(doc.Arguments))
	for i, idx := range doc.Match(rows) {
		results[i] = Result{Name: name, Data: value.Null{}}
		if idx < 0 {
			continue
		}
		obj, _ := value.AsObject(shaped[idx])
		results[i].Data = doc.StripInjected(obj)
	}
	return results, nil
}

func (in *Interpreter) operation(ctx context.Context, conn Connector, op document.Operation) (value.Value, error) {
	g, err := in.Build(ctx, op)
	if err != nil {
		return nil, err
	}
	res, err := in.Run(ctx, conn, g)
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// Build builds the query graph of op and announces it.
func (in *Interpreter) Build(ctx context.Context, op document.Operation) (*graph.Graph, error) {
	g, err := in.builder.Build(op)
	if err != nil {
		return nil, err
	}
	eventbus.Publish(ctx, events.GraphBuilt{RootField: document.Name(op), Nodes: g.Len(), Edges: len(g.Edges())})
	return g, nil
}

// Run executes every node of the frozen graph g and returns the result of
// its result node.
func (in *Interpreter) Run(ctx context.Context, conn Connector, g *graph.Graph) (query.Result, error) {
	if !g.Frozen() {
		return query.Result{}, qerr.Invariant("cannot run a graph that is still being built")
	}
	for _, id := range g.TopologicalOrder() {
		if err := ctx.Err(); err != nil {
			return query.Result{}, err
		}
		if err := g.Finalize(id); err != nil {
			return query.Result{}, err
		}
		node, _ := g.Node(id)
		if err := g.MarkExecuted(id); err != nil {
			return query.Result{}, err
		}
		start := time.Now()
		res, err := in.execute(ctx, conn, node)
		kind, model := describeNode(node)
		eventbus.Publish(ctx, events.NodeExecuted{
			Node:     int(id),
			Kind:     kind,
			Model:    model,
			Rows:     len(res.Rows),
			Count:    res.Count,
			Err:      err,
			Duration: time.Since(start),
		})
		if err != nil {
			return query.Result{}, err
		}
		if err := g.Complete(id, res); err != nil {
			return query.Result{}, err
		}
	}
	id, ok := g.ResultNode()
	if !ok {
		return query.Result{}, qerr.Invariant("graph has no result node")
	}
	res, ok := g.Result(id)
	if !ok {
		return query.Result{}, qerr.Invariant("result node %d did not complete", id)
	}
	return res, nil
}

func describeNode(n graph.Node) (kind, model string) {
	switch n := n.(type) {
	case graph.QueryNode:
		return query.Describe(n.Query), n.Query.Target().Name
	case graph.FlowNode:
		if c, ok := n.Flow.(graph.CheckEmpty); ok {
			return "CheckEmpty", c.Model
		}
		return fmt.Sprintf("%T", n.Flow), ""
	}
	return fmt.Sprintf("%T", n), ""
}

func (in *Interpreter) execute(ctx context.Context, conn Connector, n graph.Node) (query.Result, error) {
	switch n := n.(type) {
	case graph.FlowNode:
		return query.Result{}, n.Flow.Evaluate()
	case graph.QueryNode:
		return in.query(ctx, conn, n.Query)
	}
	return query.Result{}, qerr.Invariant("cannot execute node %T", n)
}

func (in *Interpreter) query(ctx context.Context, conn Connector, q query.Query) (query.Result, error) {
	res, err := conn.Execute(ctx, q)
	if err != nil {
		return query.Result{}, fmt.Errorf("%s on %s: %w", query.Describe(q), q.Target().Name, err)
	}
	switch q := q.(type) {
	case query.RecordQuery:
		if len(res.Rows) > 1 {
			res.Rows = res.Rows[:1]
		}
		shaped, err := in.shape(ctx, conn, res.Rows, q.Fields, q.Nested)
		if err != nil {
			return query.Result{}, err
		}
		res.Response = value.Null{}
		if len(shaped) == 1 {
			res.Response = shaped[0]
		}
	case query.ManyRecordsQuery:
		shaped, err := in.shape(ctx, conn, res.Rows, q.Fields, q.Nested)
		if err != nil {
			return query.Result{}, err
		}
		list := make(value.List, len(shaped))
		for i, o := range shaped {
			list[i] = o
		}
		res.Response = list
	case query.UpdateRecord:
		if len(res.Rows) == 0 {
			return query.Result{}, qerr.RecordNotFound(q.Model.Name, "", "Record to update not found.")
		}
		res.Count = len(res.Rows)
	case query.UpdateManyRecords, query.DeleteManyRecords:
		res.Response = value.Object{fieldCount: value.Int(res.Count)}
	}
	return res, nil
}
