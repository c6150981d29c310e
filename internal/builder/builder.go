// Package builder expands one operation of a query document into a query
// graph.
//
// Reads become a single read node. Writes become an update node followed by
// the subgraphs of their nested writes and a read-back node answering the
// selection. Nested writes never touch records directly: a "find children by
// parent" read, scoped to the parent through a ProjectedData edge, proves
// which related records exist, and the mutation node only receives the
// identifiers that read returned. When the catalog emulates referential
// actions, updates that change referenced fields get extra nodes that check
// or propagate the change to dependent records first.
package builder

import (
	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/document"
	"github.com/hanpama/querygraph/internal/graph"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
)

// Builder is stateless and safe for concurrent use.
type Builder struct {
	catalog *catalog.Catalog
}

func New(c *catalog.Catalog) *Builder {
	return &Builder{catalog: c}
}

// build carries the state of one Build call.
type build struct {
	catalog *catalog.Catalog
	graph   *graph.Graph
	// writes collects nested write nodes so the read-back can be ordered
	// after all of them.
	writes []graph.NodeID
}

// Build returns a frozen graph whose result node answers op.
func (b *Builder) Build(op document.Operation) (*graph.Graph, error) {
	if op == nil || op.Selection() == nil {
		return nil, qerr.Invariant("cannot build an empty operation")
	}
	sel := op.Selection()
	field, ok := b.catalog.FindQueryField(sel.Name())
	if !ok {
		return nil, qerr.Input("unknown root field %q", sel.Name())
	}
	switch op.(type) {
	case document.Read:
		if field.IsWrite() {
			return nil, qerr.Input("%s is a mutation and cannot be queried", sel.Name()).OnModel(field.Model.Name)
		}
	case document.Write:
		if !field.IsWrite() {
			return nil, qerr.Input("%s is a query and cannot be used as a mutation", sel.Name()).OnModel(field.Model.Name)
		}
	}

	bd := &build{catalog: b.catalog, graph: graph.New()}
	var (
		result graph.NodeID
		err    error
	)
	switch field.Kind {
	case catalog.FindUnique:
		result, err = bd.findUnique(field.Model, sel)
	case catalog.FindMany:
		result, err = bd.findMany(field.Model, sel)
	case catalog.UpdateOne:
		result, err = bd.updateOne(field.Model, sel)
	case catalog.UpdateMany:
		result, err = bd.updateMany(field.Model, sel)
	default:
		err = qerr.Invariant("unhandled query field kind %q", field.Kind)
	}
	if err != nil {
		return nil, err
	}
	if err := bd.graph.SetResultNode(result); err != nil {
		return nil, err
	}
	bd.graph.Freeze()
	return bd.graph, nil
}

func (b *build) node(n graph.Node) (graph.NodeID, error) {
	return b.graph.CreateNode(n)
}

func (b *build) query(q query.Query) (graph.NodeID, error) {
	return b.graph.CreateNode(graph.QueryNode{Query: q})
}

func (b *build) edge(parent, child graph.NodeID, dep graph.Dependency) error {
	_, err := b.graph.CreateEdge(parent, child, dep)
	return err
}

func (b *build) findUnique(model *catalog.Model, sel *document.Selection) (graph.NodeID, error) {
	if err := checkArguments(model, sel, document.ArgWhere); err != nil {
		return 0, err
	}
	where, _ := sel.Argument(document.ArgWhere)
	filter, err := extractUniqueFilter(model, where)
	if err != nil {
		return 0, err
	}
	fields, nested, err := readSelection(model, sel)
	if err != nil {
		return 0, err
	}
	return b.query(query.RecordQuery{
		Name:   sel.Name(),
		Alias:  sel.Alias(),
		Model:  model,
		Filter: filter,
		Fields: fields,
		Nested: nested,
	})
}

func (b *build) findMany(model *catalog.Model, sel *document.Selection) (graph.NodeID, error) {
	if err := checkArguments(model, sel, document.ArgWhere, argOrderBy, argSkip, argTake); err != nil {
		return 0, err
	}
	where, _ := sel.Argument(document.ArgWhere)
	filter, err := extractFilter(model, where)
	if err != nil {
		return 0, err
	}
	args, err := readArgs(model, sel)
	if err != nil {
		return 0, err
	}
	fields, nested, err := readSelection(model, sel)
	if err != nil {
		return 0, err
	}
	return b.query(query.ManyRecordsQuery{
		Name:   sel.Name(),
		Alias:  sel.Alias(),
		Model:  model,
		Filter: filter,
		Args:   args,
		Fields: fields,
		Nested: nested,
	})
}

// updateOne builds
//
//	[read pre-update state] -> UpdateRecord -> nested writes... -> RecordQuery
//
// where the pre-update read only exists when referential actions are
// emulated for the touched fields.
func (b *build) updateOne(model *catalog.Model, sel *document.Selection) (graph.NodeID, error) {
	if err := checkArguments(model, sel, document.ArgWhere, document.ArgData); err != nil {
		return 0, err
	}
	where, _ := sel.Argument(document.ArgWhere)
	filter, err := extractUniqueFilter(model, where)
	if err != nil {
		return 0, err
	}
	data, ok := sel.Argument(document.ArgData)
	if !ok {
		return 0, qerr.Input("%s requires a data argument", sel.Name()).OnModel(model.Name)
	}
	writes, nested, err := extractData(model, data)
	if err != nil {
		return 0, err
	}
	fields, nestedReads, err := readSelection(model, sel)
	if err != nil {
		return 0, err
	}

	var pre graph.NodeID
	emulate := b.needsEmulation(model, writes)
	if emulate {
		pre, err = b.query(query.ManyRecordsQuery{
			Name:   "findRecordToUpdate",
			Model:  model,
			Filter: filter,
			Fields: query.Fields(model.PrimaryIdentifier()...),
		})
		if err != nil {
			return 0, err
		}
	}
	update, err := b.query(query.UpdateRecord{Model: model, RecordFilter: query.NewRecordFilter(filter), Data: writes})
	if err != nil {
		return 0, err
	}
	if emulate {
		if err := b.edge(pre, update, graph.ExecutionOrder{}); err != nil {
			return 0, err
		}
		if err := b.insertEmulatedOnUpdate(pre, update, model, writes, true); err != nil {
			return 0, err
		}
	}
	if err := b.nestedWrites(update, nested); err != nil {
		return 0, err
	}

	read, err := b.query(query.RecordQuery{
		Name:   sel.Name(),
		Alias:  sel.Alias(),
		Model:  model,
		Filter: query.Empty{},
		Fields: fields,
		Nested: nestedReads,
	})
	if err != nil {
		return 0, err
	}
	if err := b.edge(update, read, graph.ProjectedData{Identifier: model.PrimaryIdentifier(), Transform: graph.SetSelectors{}}); err != nil {
		return 0, err
	}
	for _, w := range b.writes {
		if err := b.edge(w, read, graph.ExecutionOrder{}); err != nil {
			return 0, err
		}
	}
	return read, nil
}

// updateMany answers with the number of updated records. Nested writes are
// not available on bulk updates.
func (b *build) updateMany(model *catalog.Model, sel *document.Selection) (graph.NodeID, error) {
	if err := checkArguments(model, sel, document.ArgWhere, document.ArgData); err != nil {
		return 0, err
	}
	where, _ := sel.Argument(document.ArgWhere)
	filter, err := extractFilter(model, where)
	if err != nil {
		return 0, err
	}
	data, ok := sel.Argument(document.ArgData)
	if !ok {
		return 0, qerr.Input("%s requires a data argument", sel.Name()).OnModel(model.Name)
	}
	writes, nested, err := extractData(model, data)
	if err != nil {
		return 0, err
	}
	if len(nested) > 0 {
		return 0, qerr.Input("%s does not support nested writes", sel.Name()).OnModel(model.Name).OnField(nested[0].relation.Name)
	}
	for _, n := range sel.NestedSelections() {
		if n.Name() != fieldCount {
			return 0, qerr.Input("%s only returns %s, cannot select %q", sel.Name(), fieldCount, n.Name()).OnModel(model.Name)
		}
	}

	var pre graph.NodeID
	emulate := b.needsEmulation(model, writes)
	if emulate {
		pre, err = b.query(query.ManyRecordsQuery{
			Name:   "findRecordsToUpdate",
			Model:  model,
			Filter: filter,
			Fields: query.Fields(model.PrimaryIdentifier()...),
		})
		if err != nil {
			return 0, err
		}
	}
	update, err := b.query(query.UpdateManyRecords{Model: model, RecordFilter: query.NewRecordFilter(filter), Data: writes})
	if err != nil {
		return 0, err
	}
	if emulate {
		if err := b.edge(pre, update, graph.ExecutionOrder{}); err != nil {
			return 0, err
		}
		if err := b.insertEmulatedOnUpdate(pre, update, model, writes, false); err != nil {
			return 0, err
		}
	}
	return update, nil
}

// fieldCount is the only field of a bulk write result.
const fieldCount = "count"

func checkArguments(model *catalog.Model, sel *document.Selection, allowed ...string) error {
	for _, arg := range sel.Arguments() {
		known := false
		for _, a := range allowed {
			if arg.Name == a {
				known = true
				break
			}
		}
		if !known {
			return qerr.Input("unknown argument %q on %s", arg.Name, sel.Name()).OnModel(model.Name)
		}
	}
	return nil
}
