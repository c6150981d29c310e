package builder_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/querygraph/internal/builder"
	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/catalog/catalogtest"
	"github.com/hanpama/querygraph/internal/document"
	"github.com/hanpama/querygraph/internal/graph"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

func sel(name string, args value.Object, fields ...string) *document.Selection {
	nested := make([]*document.Selection, len(fields))
	for i, f := range fields {
		nested[i] = document.WithName(f)
	}
	var arguments []document.Argument
	for _, k := range args.SortedKeys() {
		arguments = append(arguments, document.Argument{Name: k, Value: args[k]})
	}
	return document.NewSelection(name, "", arguments, nested)
}

func build(t *testing.T, mode catalog.RelationMode, op document.Operation) *graph.Graph {
	t.Helper()
	g, err := builder.New(catalogtest.Blog(t, mode)).Build(op)
	require.NoError(t, err)
	require.True(t, g.Frozen())
	return g
}

func buildErr(t *testing.T, op document.Operation) error {
	t.Helper()
	_, err := builder.New(catalogtest.Blog(t, catalog.RelationModeForeignKeys)).Build(op)
	require.Error(t, err)
	return err
}

// complete runs id through finalization with rows as its storage result.
func complete(t *testing.T, g *graph.Graph, id graph.NodeID, rows ...query.Record) {
	t.Helper()
	require.NoError(t, g.Finalize(id))
	require.NoError(t, g.MarkExecuted(id))
	require.NoError(t, g.Complete(id, query.Result{Rows: rows}))
}

func queryAt(t *testing.T, g *graph.Graph, id graph.NodeID) query.Query {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok)
	qn, ok := n.(graph.QueryNode)
	require.True(t, ok, "node %d is %T", id, n)
	return qn.Query
}

type edgeSummary struct {
	Parent, Child graph.NodeID
	Transform     string
}

func edges(g *graph.Graph) []edgeSummary {
	var out []edgeSummary
	for _, e := range g.Edges() {
		s := edgeSummary{Parent: e.Parent, Child: e.Child, Transform: "order"}
		if pd, ok := e.Dependency.(graph.ProjectedData); ok {
			s.Transform = pd.Transform.Name()
		}
		out = append(out, s)
	}
	return out
}

func TestBuild_FindUnique(t *testing.T) {
	op := document.Read{Sel: document.NewSelection("findUniqueUser", "me",
		[]document.Argument{{Name: "where", Value: value.Object{"email": value.String("a@example.com")}}},
		[]*document.Selection{
			document.NewSelection("id", "key", nil, nil),
			document.NewSelection("posts", "", []document.Argument{
				{Name: "where", Value: value.Object{"published": value.Boolean(true)}},
				{Name: "orderBy", Value: value.Object{"title": value.Enum("desc")}},
				{Name: "take", Value: value.Int(2)},
			}, []*document.Selection{document.WithName("title")}),
		})}
	g := build(t, catalog.RelationModeForeignKeys, op)

	require.Equal(t, 1, g.Len())
	res, ok := g.ResultNode()
	require.True(t, ok)
	q := queryAt(t, g, res).(query.RecordQuery)
	assert.Equal(t, "me", q.Alias)
	assert.Equal(t, query.Equals("email", value.String("a@example.com")), q.Filter)
	assert.Equal(t, []query.SelectedField{{Name: "id", Alias: "key"}}, q.Fields)
	require.Len(t, q.Nested, 1)
	posts := q.Nested[0]
	assert.Equal(t, "Post", posts.Relation.Related().Name)
	assert.Equal(t, query.Equals("published", value.Boolean(true)), posts.Filter)
	assert.Equal(t, []query.OrderBy{{Field: "title", Descending: true}}, posts.Args.OrderBy)
	require.NotNil(t, posts.Args.Take)
	assert.Equal(t, 2, *posts.Args.Take)
}

func TestBuild_FindManyFilters(t *testing.T) {
	where := value.Object{
		"OR": value.List{
			value.Object{"title": value.Object{"startsWith": value.String("Go")}},
			value.Object{"id": value.Object{"in": value.List{value.Int(1), value.Int(2)}}},
		},
		"NOT": value.Object{"published": value.Boolean(false)},
		"authorId": value.Object{"not": value.Null{}},
	}
	g := build(t, catalog.RelationModeForeignKeys, document.Read{Sel: sel("findManyPost", value.Object{"where": where}, "id")})

	q := queryAt(t, g, 0).(query.ManyRecordsQuery)
	want := query.And{
		query.Not{Filter: query.Equals("published", value.Boolean(false))},
		query.Or{
			query.Condition{Field: "title", Op: query.OpStartsWith, Value: value.String("Go")},
			query.Condition{Field: "id", Op: query.OpIn, Value: value.List{value.Int(1), value.Int(2)}},
		},
		query.Condition{Field: "authorId", Op: query.OpNotEquals, Value: value.Null{}},
	}
	assert.Equal(t, query.Filter(want), q.Filter)
}

func TestBuild_UpdateOne(t *testing.T) {
	op := document.Write{Sel: sel("updateOnePost", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data":  value.Object{"title": value.String("new"), "id": value.Object{"increment": value.Int(1)}},
	}, "id", "title")}
	g := build(t, catalog.RelationModeForeignKeys, op)

	require.Equal(t, 2, g.Len())
	upd := queryAt(t, g, 0).(query.UpdateRecord)
	assert.Equal(t, query.Equals("id", value.Int(1)), upd.RecordFilter.Filter)
	assert.Equal(t, query.WriteArgs{
		{Field: "id", Op: query.WriteIncrement, Value: value.Int(1)},
		{Field: "title", Op: query.WriteSet, Value: value.String("new")},
	}, upd.Data)
	assert.Equal(t, []edgeSummary{{0, 1, "SetSelectors"}}, edges(g))
	res, _ := g.ResultNode()
	assert.Equal(t, graph.NodeID(1), res)
}

func TestBuild_UpdateMany(t *testing.T) {
	op := document.Write{Sel: sel("updateManyPost", value.Object{
		"where": value.Object{"published": value.Boolean(false)},
		"data":  value.Object{"published": value.Boolean(true)},
	}, "count")}
	g := build(t, catalog.RelationModeForeignKeys, op)

	require.Equal(t, 1, g.Len())
	upd := queryAt(t, g, 0).(query.UpdateManyRecords)
	assert.Equal(t, query.Equals("published", value.Boolean(false)), upd.RecordFilter.Filter)
	assert.False(t, upd.RecordFilter.HasSelectors)
}

func TestNestedUpdate_ToOneNoMatch(t *testing.T) {
	op := document.Write{Sel: sel("updateOnePost", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data": value.Object{"author": value.Object{
			"update": value.Object{"firstName": value.String("Grace")},
		}},
	}, "id")}
	g := build(t, catalog.RelationModeForeignKeys, op)

	// 0 UpdateRecord(Post), 1 find User by parent, 2 UpdateRecord(User), 3 read-back
	require.Equal(t, 4, g.Len())
	assert.Equal(t, []edgeSummary{
		{0, 1, "ScopeByParent"},
		{1, 2, "SetLastSelector"},
		{0, 3, "SetSelectors"},
		{2, 3, "order"},
	}, edges(g))

	complete(t, g, 0, query.Record{"id": value.Int(1), "authorId": value.Int(5), "title": value.String("t"), "published": value.Boolean(true)})
	require.NoError(t, g.Finalize(1))
	find := queryAt(t, g, 1).(query.ManyRecordsQuery)
	assert.Equal(t, query.Or{query.Equals("id", value.Int(5))}, find.ParentFilter)
	require.NoError(t, g.MarkExecuted(1))
	require.NoError(t, g.Complete(1, query.Result{}))

	err := g.Finalize(2)
	require.Error(t, err)
	var qe *qerr.Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, qerr.KindRecordNotFound, qe.Kind)
	assert.Equal(t, "User", qe.Model)
	assert.Equal(t, "PostToUser", qe.Relation)
	assert.True(t, qerr.IsUserFacing(err))
}

func TestNestedUpdate_ToManyMultipleMatchesPicksLast(t *testing.T) {
	op := document.Write{Sel: sel("updateOneUser", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data": value.Object{"posts": value.Object{
			"update": value.List{value.Object{
				"where": value.Object{"id": value.Int(3)},
				"data":  value.Object{"title": value.String("x")},
			}},
		}},
	}, "id")}
	g := build(t, catalog.RelationModeForeignKeys, op)

	complete(t, g, 0, query.Record{"id": value.Int(1)})
	find := queryAt(t, g, 1).(query.ManyRecordsQuery)
	assert.Equal(t, query.Equals("id", value.Int(3)), find.Filter)
	assert.Equal(t, []string{"id"}, query.FieldNames(find.Fields))
	complete(t, g, 1,
		query.Record{"id": value.Int(2), "authorId": value.Int(1)},
		query.Record{"id": value.Int(3), "authorId": value.Int(1)},
	)
	require.NoError(t, g.Finalize(2))

	upd := queryAt(t, g, 2).(query.UpdateRecord)
	require.Len(t, upd.RecordFilter.Selectors, 1)
	assert.Equal(t, query.SelectionResult{{Key: "id", Value: value.Int(3)}}, upd.RecordFilter.Selectors[0])
	assert.Equal(t, query.Set(value.Object{"title": value.String("x")}), upd.Data)
}

func TestNestedUpdate_ToOneEnvelope(t *testing.T) {
	op := document.Write{Sel: sel("updateOneUser", value.Object{
		"where": value.Object{"email": value.String("a@example.com")},
		"data": value.Object{"profile": value.Object{
			"update": value.Object{
				"where": value.Object{"bio": value.Object{"contains": value.String("go")}},
				"data":  value.Object{"bio": value.String("rust")},
			},
		}},
	}, "id")}
	g := build(t, catalog.RelationModeForeignKeys, op)

	find := queryAt(t, g, 1).(query.ManyRecordsQuery)
	assert.Equal(t, "Profile", find.Model.Name)
	assert.Equal(t, query.Condition{Field: "bio", Op: query.OpContains, Value: value.String("go")}, find.Filter)
	edge := g.IncomingEdges(1)[0].Dependency.(graph.ProjectedData)
	assert.Equal(t, []string{"id"}, edge.Identifier)
	assert.Equal(t, graph.ScopeByParent{ChildFields: []string{"userId"}}, edge.Transform)
}

const settingsSDL = `
type User {
  id: Int! @id
  settings: Settings
}

type Settings {
  id: Int! @id
  data: Json
  userId: Int! @unique
  user: User! @relation(fields: ["userId"], references: ["id"])
}
`

func TestNestedUpdate_ToOneDataFieldIsNotAnEnvelope(t *testing.T) {
	c, err := catalog.LoadSDL("settings.graphql", settingsSDL)
	require.NoError(t, err)
	payload := value.Object{"theme": value.String("dark")}
	op := document.Write{Sel: sel("updateOneUser", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data": value.Object{"settings": value.Object{
			"update": value.Object{"data": payload},
		}},
	}, "id")}
	g, err := builder.New(c).Build(op)
	require.NoError(t, err)

	find := queryAt(t, g, 1).(query.ManyRecordsQuery)
	assert.Equal(t, "Settings", find.Model.Name)
	assert.Equal(t, query.Empty{}, find.Filter)
	upd := queryAt(t, g, 2).(query.UpdateRecord)
	assert.Equal(t, query.Set(value.Object{"data": payload}), upd.Data)
}

func TestNestedUpdateMany_EmptyMatch(t *testing.T) {
	op := document.Write{Sel: sel("updateOneUser", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data": value.Object{"posts": value.Object{
			"updateMany": value.Object{
				"where": value.Object{"published": value.Boolean(false)},
				"data":  value.Object{"published": value.Boolean(true)},
			},
		}},
	}, "id")}
	g := build(t, catalog.RelationModeForeignKeys, op)

	complete(t, g, 0, query.Record{"id": value.Int(1)})
	complete(t, g, 1)
	require.NoError(t, g.Finalize(2))

	upd := queryAt(t, g, 2).(query.UpdateManyRecords)
	assert.True(t, upd.RecordFilter.HasSelectors)
	assert.Empty(t, upd.RecordFilter.Selectors)
	assert.Equal(t, query.Or{}, upd.RecordFilter.AsFilter())
}

func TestNestedDeleteMany(t *testing.T) {
	op := document.Write{Sel: sel("updateOnePost", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data": value.Object{"comments": value.Object{
			"deleteMany": value.List{value.Object{"body": value.String("spam")}, value.Object{}},
		}},
	}, "id")}
	g := build(t, catalog.RelationModeForeignKeys, op)

	// update, (find, delete) x2, read-back
	require.Equal(t, 6, g.Len())
	assert.Equal(t, []edgeSummary{
		{0, 1, "ScopeByParent"},
		{1, 2, "SetSelectors"},
		{0, 3, "ScopeByParent"},
		{3, 4, "SetSelectors"},
		{0, 5, "SetSelectors"},
		{2, 5, "order"},
		{4, 5, "order"},
	}, edges(g))
	_, ok := queryAt(t, g, 4).(query.DeleteManyRecords)
	assert.True(t, ok)
	assert.Equal(t, query.Equals("body", value.String("spam")), queryAt(t, g, 1).(query.ManyRecordsQuery).Filter)
	assert.Equal(t, query.Empty{}, queryAt(t, g, 3).(query.ManyRecordsQuery).Filter)
}

func TestEmulation_Restrict(t *testing.T) {
	op := document.Write{Sel: sel("updateOnePost", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data":  value.Object{"id": value.Int(10)},
	}, "id")}
	g := build(t, catalog.RelationModePrisma, op)

	// 0 pre-read Post, 1 UpdateRecord, 2 find dependent comments, 3 CheckEmpty, 4 read-back
	require.Equal(t, 5, g.Len())
	assert.Equal(t, []edgeSummary{
		{0, 1, "order"},
		{0, 2, "ScopeByParent"},
		{2, 3, "SetCheckCount"},
		{3, 1, "order"},
		{1, 4, "SetSelectors"},
	}, edges(g))
	assert.Equal(t, []graph.NodeID{0, 2, 3, 1, 4}, g.TopologicalOrder())

	n, _ := g.Node(3)
	check := n.(graph.FlowNode).Flow.(graph.CheckEmpty)
	assert.Equal(t, "Comment", check.Model)
	assert.Equal(t, "CommentToPost", check.Relation)

	complete(t, g, 0, query.Record{"id": value.Int(1)})
	complete(t, g, 2, query.Record{"id": value.Int(7), "postId": value.Int(1)})
	require.NoError(t, g.Finalize(3))
	n, _ = g.Node(3)
	err := n.(graph.FlowNode).Flow.Evaluate()
	require.Error(t, err)
	assert.Equal(t, qerr.KindConstraint, qerr.KindOf(err))
}

func TestEmulation_Cascade(t *testing.T) {
	op := document.Write{Sel: sel("updateOneUser", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data":  value.Object{"id": value.Int(10)},
	}, "id")}
	g := build(t, catalog.RelationModePrisma, op)

	// 0 pre-read, 1 UpdateRecord(User), 2 cascade Profile.userId, 3 cascade Post.authorId, 4 read-back
	require.Equal(t, 5, g.Len())
	profiles := queryAt(t, g, 2).(query.UpdateManyRecords)
	assert.Equal(t, "Profile", profiles.Model.Name)
	assert.Equal(t, query.Set(value.Object{"userId": value.Int(10)}), profiles.Data)
	posts := queryAt(t, g, 3).(query.UpdateManyRecords)
	assert.Equal(t, query.Set(value.Object{"authorId": value.Int(10)}), posts.Data)

	complete(t, g, 0, query.Record{"id": value.Int(1)})
	require.NoError(t, g.Finalize(3))
	posts = queryAt(t, g, 3).(query.UpdateManyRecords)
	assert.Equal(t, query.Or{query.Equals("authorId", value.Int(1))}, posts.RecordFilter.Filter)
}

func TestEmulation_NotForUntouchedFieldsOrForeignKeys(t *testing.T) {
	untouched := document.Write{Sel: sel("updateOneUser", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data":  value.Object{"email": value.String("b@example.com")},
	}, "id")}
	assert.Equal(t, 2, build(t, catalog.RelationModePrisma, untouched).Len())

	touched := document.Write{Sel: sel("updateOneUser", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data":  value.Object{"id": value.Int(10)},
	}, "id")}
	assert.Equal(t, 2, build(t, catalog.RelationModeForeignKeys, touched).Len())
}

func TestEmulation_CascadeRequiresLiteral(t *testing.T) {
	op := document.Write{Sel: sel("updateOneUser", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data":  value.Object{"id": value.Object{"increment": value.Int(1)}},
	}, "id")}
	_, err := builder.New(catalogtest.Blog(t, catalog.RelationModePrisma)).Build(op)
	require.Error(t, err)
	assert.Equal(t, qerr.KindInput, qerr.KindOf(err))
}

func TestEmulation_SetNullInNestedUpdateMany(t *testing.T) {
	c, err := catalog.LoadSDL("tags.graphql", `
type Post {
  id: Int! @id
  tags: [Tag!]!
}
type Tag {
  id: Int! @id
  postId: Int!
  post: Post! @relation(fields: ["postId"], references: ["id"])
  labels: [Label!]!
}
type Label {
  id: Int! @id
  tagId: Int
  tag: Tag @relation(fields: ["tagId"], references: ["id"], onUpdate: SetNull)
}
`)
	require.NoError(t, err)
	c.SetRelationMode(catalog.RelationModePrisma)

	op := document.Write{Sel: sel("updateOnePost", value.Object{
		"where": value.Object{"id": value.Int(1)},
		"data": value.Object{"tags": value.Object{"updateMany": value.Object{
			"where": value.Object{},
			"data":  value.Object{"id": value.Object{"multiply": value.Int(100)}},
		}}},
	}, "id")}
	g, err := builder.New(c).Build(op)
	require.NoError(t, err)

	// 0 UpdateRecord(Post), 1 find tags, 2 UpdateManyRecords(Tag), 3 SetNull labels, 4 read-back
	require.Equal(t, 5, g.Len())
	labels := queryAt(t, g, 3).(query.UpdateManyRecords)
	assert.Equal(t, "Label", labels.Model.Name)
	assert.Equal(t, query.WriteArgs{{Field: "tagId", Op: query.WriteSet, Value: value.Null{}}}, labels.Data)
	in := g.IncomingEdges(3)[0].Dependency.(graph.ProjectedData)
	assert.Equal(t, graph.ScopeByParent{ChildFields: []string{"tagId"}, Last: false}, in.Transform)
	assert.Equal(t, []string{"id"}, query.FieldNames(queryAt(t, g, 1).(query.ManyRecordsQuery).Fields))
}

func TestBuild_InputErrors(t *testing.T) {
	upd := func(data value.Object) document.Operation {
		return document.Write{Sel: sel("updateOneUser", value.Object{"where": value.Object{"id": value.Int(1)}, "data": data}, "id")}
	}
	tests := []struct {
		name string
		op   document.Operation
		msg  string
	}{
		{"unknown root field", document.Read{Sel: sel("findUniqueNope", nil, "id")}, `unknown root field "findUniqueNope"`},
		{"mutation as query", document.Read{Sel: sel("updateOneUser", nil, "id")}, "is a mutation"},
		{"query as mutation", document.Write{Sel: sel("findManyUser", nil, "id")}, "is a query"},
		{"unknown argument", document.Read{Sel: sel("findManyUser", value.Object{"first": value.Int(1)}, "id")}, `unknown argument "first"`},
		{"non-object unique filter", document.Read{Sel: sel("findUniqueUser", value.Object{"where": value.Int(1)}, "id")}, "must be an object"},
		{"non-unique filter", document.Read{Sel: sel("findUniqueUser", value.Object{"where": value.Object{"role": value.Enum("USER")}}, "id")}, "needs at least one of id, email, firstName_lastName"},
		{"relation filter", document.Read{Sel: sel("findManyUser", value.Object{"where": value.Object{"posts": value.Object{}}}, "id")}, "filtering on relation User.posts"},
		{"unknown selection", document.Read{Sel: sel("findManyUser", nil, "nickname")}, `field "nickname" does not exist`},
		{"negative take", document.Read{Sel: sel("findManyUser", value.Object{"take": value.Int(-1)}, "id")}, "non-negative"},
		{"missing data", document.Write{Sel: sel("updateOneUser", value.Object{"where": value.Object{"id": value.Int(1)}}, "id")}, "requires a data argument"},
		{"unsupported nested operation", upd(value.Object{"posts": value.Object{"create": value.Object{}}}), `nested operation "create"`},
		{"to-many update without where", upd(value.Object{"posts": value.Object{"update": value.Object{"data": value.Object{}}}}), "requires exactly where and data"},
		{"to-many update with non-unique where", upd(value.Object{"posts": value.Object{"update": value.Object{"where": value.Object{"title": value.String("t")}, "data": value.Object{}}}}), "unique filter for model Post"},
		{"updateMany on to-one", upd(value.Object{"profile": value.Object{"updateMany": value.Object{"data": value.Object{}}}}), "only available on to-many"},
		{"increment a string", upd(value.Object{"email": value.Object{"increment": value.Int(1)}}), "only available on numeric fields"},
		{"null into required", upd(value.Object{"email": value.Null{}}), "cannot be set to null"},
		{"bulk nested write", document.Write{Sel: sel("updateManyUser", value.Object{"data": value.Object{"posts": value.Object{"deleteMany": value.Object{}}}}, "count")}, "does not support nested writes"},
		{"bulk selection", document.Write{Sel: sel("updateManyUser", value.Object{"data": value.Object{}}, "id")}, "only returns count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := buildErr(t, tt.op)
			assert.Equal(t, qerr.KindInput, qerr.KindOf(err), "error: %v", err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
