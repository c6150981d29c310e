package graph_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/catalog/catalogtest"
	"github.com/hanpama/querygraph/internal/graph"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

func model(t *testing.T, name string) *catalog.Model {
	t.Helper()
	c := catalogtest.Blog(t, catalog.RelationModeForeignKeys)
	m, ok := c.Model(name)
	require.True(t, ok)
	return m
}

func mustNode(t *testing.T, g *graph.Graph, n graph.Node) graph.NodeID {
	t.Helper()
	id, err := g.CreateNode(n)
	require.NoError(t, err)
	return id
}

func mustEdge(t *testing.T, g *graph.Graph, parent, child graph.NodeID, dep graph.Dependency) {
	t.Helper()
	_, err := g.CreateEdge(parent, child, dep)
	require.NoError(t, err)
}

// run finalizes, executes and completes id with rows.
func run(t *testing.T, g *graph.Graph, id graph.NodeID, rows ...query.Record) {
	t.Helper()
	require.NoError(t, g.Finalize(id))
	require.NoError(t, g.MarkExecuted(id))
	require.NoError(t, g.Complete(id, query.Result{Rows: rows}))
}

func find(m *catalog.Model) graph.Node {
	return graph.QueryNode{Query: query.ManyRecordsQuery{Model: m, Filter: query.Empty{}}}
}

func update(m *catalog.Model) graph.Node {
	return graph.QueryNode{Query: query.UpdateRecord{Model: m, RecordFilter: query.EmptyRecordFilter()}}
}

func updateMany(m *catalog.Model) graph.Node {
	return graph.QueryNode{Query: query.UpdateManyRecords{Model: m, RecordFilter: query.EmptyRecordFilter()}}
}

func TestCreateEdge_RejectsCycles(t *testing.T) {
	post := model(t, "Post")
	g := graph.New()
	a := mustNode(t, g, find(post))
	b := mustNode(t, g, find(post))
	c := mustNode(t, g, find(post))
	mustEdge(t, g, a, b, graph.ExecutionOrder{})
	mustEdge(t, g, b, c, graph.ExecutionOrder{})

	_, err := g.CreateEdge(c, a, graph.ExecutionOrder{})
	require.Error(t, err)
	assert.True(t, qerr.IsInvariant(err))

	_, err = g.CreateEdge(a, a, graph.ExecutionOrder{})
	require.Error(t, err)

	_, err = g.CreateEdge(a, 9, graph.ExecutionOrder{})
	require.Error(t, err)

	_, err = g.CreateEdge(a, c, graph.ProjectedData{Identifier: []string{"id"}})
	require.Error(t, err, "projected data edge without transform")

	g.Freeze()
	_, err = g.CreateNode(find(post))
	require.Error(t, err)
	_, err = g.CreateEdge(a, c, graph.ExecutionOrder{})
	require.Error(t, err)
}

func TestTopologicalOrder(t *testing.T) {
	post := model(t, "Post")
	g := graph.New()
	ids := make([]graph.NodeID, 5)
	for i := range ids {
		ids[i] = mustNode(t, g, find(post))
	}
	// 3 -> 0, 4 -> 1; 2 is free.
	mustEdge(t, g, ids[3], ids[0], graph.ExecutionOrder{})
	mustEdge(t, g, ids[4], ids[1], graph.ExecutionOrder{})

	assert.Equal(t, []graph.NodeID{2, 3, 0, 4, 1}, g.TopologicalOrder())
}

func TestNodeStateMachine(t *testing.T) {
	post := model(t, "Post")
	g := graph.New()
	parent := mustNode(t, g, find(post))
	child := mustNode(t, g, update(post))
	mustEdge(t, g, parent, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.SetLastSelector{Model: "Post", Relation: "PostToUser"}})

	assert.Equal(t, graph.Unbuilt, g.State(child))
	err := g.Finalize(child)
	require.Error(t, err, "parent has not completed")
	assert.True(t, qerr.IsInvariant(err))

	require.Error(t, g.MarkExecuted(parent), "cannot execute before finalizing")
	run(t, g, parent, query.Record{"id": value.Int(1)})
	assert.Equal(t, graph.Complete, g.State(parent))

	require.NoError(t, g.Finalize(child))
	assert.Equal(t, graph.Finalized, g.State(child))
	require.Error(t, g.Finalize(child), "finalize runs once")
	require.Error(t, g.Complete(child, query.Result{}), "complete requires executed")
}

func TestSetLastSelector_NoMatch(t *testing.T) {
	post := model(t, "Post")
	g := graph.New()
	parent := mustNode(t, g, find(post))
	child := mustNode(t, g, update(post))
	mustEdge(t, g, parent, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.SetLastSelector{Model: "Post", Relation: "PostToUser"}})
	run(t, g, parent)

	err := g.Finalize(child)
	require.Error(t, err)
	var qe *qerr.Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, qerr.KindRecordNotFound, qe.Kind)
	assert.Equal(t, "Post", qe.Model)
	assert.Equal(t, "PostToUser", qe.Relation)
	assert.Contains(t, qe.Message, "No 'Post' record was found for a nested update on relation 'PostToUser'.")
	assert.Equal(t, graph.Unbuilt, g.State(child))
}

func TestSetLastSelector_MultipleMatchesPicksLast(t *testing.T) {
	post := model(t, "Post")
	g := graph.New()
	parent := mustNode(t, g, find(post))
	child := mustNode(t, g, update(post))
	mustEdge(t, g, parent, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.SetLastSelector{Model: "Post", Relation: "PostToUser"}})
	run(t, g, parent,
		query.Record{"id": value.Int(1), "title": value.String("a")},
		query.Record{"id": value.Int(7), "title": value.String("b")},
		query.Record{"id": value.Int(3), "title": value.String("c")},
	)

	require.NoError(t, g.Finalize(child))
	n, _ := g.Node(child)
	upd := n.(graph.QueryNode).Query.(query.UpdateRecord)
	require.True(t, upd.RecordFilter.HasSelectors)
	require.Len(t, upd.RecordFilter.Selectors, 1)
	assert.Equal(t, query.SelectionResult{{Key: "id", Value: value.Int(3)}}, upd.RecordFilter.Selectors[0])
}

func TestSetSelectors_EmptyMatch(t *testing.T) {
	comment := model(t, "Comment")
	g := graph.New()
	parent := mustNode(t, g, find(comment))
	child := mustNode(t, g, updateMany(comment))
	mustEdge(t, g, parent, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.SetSelectors{}})
	run(t, g, parent)

	require.NoError(t, g.Finalize(child))
	n, _ := g.Node(child)
	upd := n.(graph.QueryNode).Query.(query.UpdateManyRecords)
	assert.True(t, upd.RecordFilter.HasSelectors)
	assert.Empty(t, upd.RecordFilter.Selectors)
}

func TestSetSelectors_AllMatches(t *testing.T) {
	comment := model(t, "Comment")
	g := graph.New()
	parent := mustNode(t, g, find(comment))
	child := mustNode(t, g, graph.QueryNode{Query: query.DeleteManyRecords{Model: comment, RecordFilter: query.EmptyRecordFilter()}})
	mustEdge(t, g, parent, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.SetSelectors{}})
	run(t, g, parent, query.Record{"id": value.Int(1)}, query.Record{"id": value.Int(2)})

	require.NoError(t, g.Finalize(child))
	n, _ := g.Node(child)
	del := n.(graph.QueryNode).Query.(query.DeleteManyRecords)
	assert.Len(t, del.RecordFilter.Selectors, 2)
}

func TestScopeByParent(t *testing.T) {
	user, post := model(t, "User"), model(t, "Post")
	g := graph.New()
	parent := mustNode(t, g, find(user))
	child := mustNode(t, g, find(post))
	mustEdge(t, g, parent, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.ScopeByParent{ChildFields: []string{"authorId"}}})
	run(t, g, parent, query.Record{"id": value.Int(1)}, query.Record{"id": value.Null{}}, query.Record{"id": value.Int(2)})

	require.NoError(t, g.Finalize(child))
	n, _ := g.Node(child)
	q := n.(graph.QueryNode).Query.(query.ManyRecordsQuery)
	assert.Equal(t, query.Or{
		query.Equals("authorId", value.Int(1)),
		query.Equals("authorId", value.Int(2)),
	}, q.ParentFilter)
}

func TestScopeByParent_LastOnly(t *testing.T) {
	post, comment := model(t, "Post"), model(t, "Comment")
	g := graph.New()
	parent := mustNode(t, g, find(post))
	child := mustNode(t, g, updateMany(comment))
	mustEdge(t, g, parent, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.ScopeByParent{ChildFields: []string{"postId"}, Last: true}})
	run(t, g, parent, query.Record{"id": value.Int(1)}, query.Record{"id": value.Int(2)})

	require.NoError(t, g.Finalize(child))
	n, _ := g.Node(child)
	q := n.(graph.QueryNode).Query.(query.UpdateManyRecords)
	assert.Equal(t, query.Or{query.Equals("postId", value.Int(2))}, q.RecordFilter.Filter)
}

func TestFinalize_AppliesEdgesInInsertionOrder(t *testing.T) {
	post := model(t, "Post")
	g := graph.New()
	a := mustNode(t, g, find(post))
	b := mustNode(t, g, find(post))
	child := mustNode(t, g, find(post))

	var seen []string
	tag := func(label string) graph.Transform {
		return graph.Func{Label: label, Fn: func(n graph.Node, rows []query.SelectionResult) (graph.Node, error) {
			seen = append(seen, label)
			return n, nil
		}}
	}
	// b is created later but its edge is inserted first.
	mustEdge(t, g, b, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: tag("b")})
	mustEdge(t, g, a, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: tag("a")})
	run(t, g, a)
	run(t, g, b)

	require.NoError(t, g.Finalize(child))
	assert.Equal(t, []string{"b", "a"}, seen)
}

func TestProject_MissingField(t *testing.T) {
	post := model(t, "Post")
	g := graph.New()
	parent := mustNode(t, g, find(post))
	child := mustNode(t, g, update(post))
	mustEdge(t, g, parent, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.SetSelectors{}})
	run(t, g, parent, query.Record{"title": value.String("no id")})

	err := g.Finalize(child)
	require.Error(t, err)
	assert.True(t, qerr.IsInvariant(err))
}

func TestCheckEmpty(t *testing.T) {
	comment := model(t, "Comment")
	g := graph.New()
	parent := mustNode(t, g, find(comment))
	check := mustNode(t, g, graph.FlowNode{Flow: graph.CheckEmpty{Model: "Comment", Relation: "CommentToPost", Message: "violates"}})
	mustEdge(t, g, parent, check, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.SetCheckCount{}})
	run(t, g, parent, query.Record{"id": value.Int(1)})

	require.NoError(t, g.Finalize(check))
	n, _ := g.Node(check)
	err := n.(graph.FlowNode).Flow.Evaluate()
	require.Error(t, err)
	assert.Equal(t, qerr.KindConstraint, qerr.KindOf(err))

	assert.NoError(t, graph.CheckEmpty{}.Evaluate())
}

func TestTransform_WrongTarget(t *testing.T) {
	post := model(t, "Post")
	_, err := graph.SetLastSelector{}.Apply(find(post), nil)
	require.Error(t, err)
	assert.True(t, qerr.IsInvariant(err))
	assert.Contains(t, err.Error(), "SetLastSelector cannot apply to ManyRecordsQuery")

	_, err = graph.SetCheckCount{}.Apply(update(post), nil)
	require.Error(t, err)
}

func TestDescribe(t *testing.T) {
	post := model(t, "Post")
	g := graph.New()
	parent := mustNode(t, g, graph.QueryNode{Query: query.ManyRecordsQuery{Model: post, Filter: query.Equals("published", value.Boolean(true)), Fields: query.Fields("id")}})
	child := mustNode(t, g, graph.QueryNode{Query: query.UpdateManyRecords{
		Model:        post,
		RecordFilter: query.EmptyRecordFilter(),
		Data:         query.Set(value.Object{"title": value.String("x")}),
	}})
	mustEdge(t, g, parent, child, graph.ProjectedData{Identifier: []string{"id"}, Transform: graph.SetSelectors{}})
	require.NoError(t, g.SetResultNode(child))

	d := g.Describe()
	require.Len(t, d.Nodes, 2)
	assert.Equal(t, "ManyRecordsQuery", d.Nodes[0].Kind)
	assert.Equal(t, "Post", d.Nodes[0].Model)
	assert.Equal(t, map[string]any{"published": map[string]any{"equals": true}}, d.Nodes[0].Filter)
	assert.Equal(t, map[string]any{"title": map[string]any{"set": "x"}}, d.Nodes[1].Data)
	require.Len(t, d.Edges, 1)
	assert.Equal(t, "SetSelectors", d.Edges[0].Transform)
	require.NotNil(t, d.Result)
	assert.Equal(t, child, *d.Result)
}
