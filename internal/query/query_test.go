package query_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

func TestConjoin(t *testing.T) {
	a := query.Equals("a", value.Int(1))
	b := query.Equals("b", value.Int(2))

	assert.Equal(t, query.Empty{}, query.Conjoin())
	assert.Equal(t, query.Empty{}, query.Conjoin(nil, query.Empty{}))
	assert.Equal(t, a, query.Conjoin(query.Empty{}, a))
	assert.Equal(t, query.And{a, b}, query.Conjoin(query.And{a}, b))
	assert.True(t, query.IsEmpty(query.And{query.Empty{}}))
	assert.False(t, query.IsEmpty(query.Or{}))
}

func TestRecordFilter(t *testing.T) {
	where := query.Equals("published", value.Boolean(true))
	rf := query.NewRecordFilter(where)
	assert.Equal(t, where, rf.AsFilter())

	none := rf.WithSelectors(nil)
	assert.True(t, none.HasSelectors)
	assert.Empty(t, none.Selectors)
	assert.Equal(t, query.And{where, query.Or{}}, none.AsFilter())
	assert.False(t, rf.HasSelectors, "WithSelectors must not modify the receiver")

	sel := query.SelectionResult{{Key: "id", Value: value.Int(4)}}
	one := query.EmptyRecordFilter().WithSelectors([]query.SelectionResult{sel})
	want := query.Or{query.Equals("id", value.Int(4))}
	if diff := cmp.Diff(query.Filter(want), one.AsFilter()); diff != "" {
		t.Errorf("AsFilter mismatch (-want +got):\n%s", diff)
	}
}

func TestProject(t *testing.T) {
	row := query.Record{"firstName": value.String("Ada"), "lastName": value.String("Lovelace"), "id": value.Int(1)}

	got, err := query.Project(row, []string{"lastName", "firstName"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lastName", "firstName"}, got.Fields())
	v, ok := got.Get("firstName")
	require.True(t, ok)
	assert.Equal(t, value.String("Ada"), v)
	assert.False(t, got.HasNull())

	renamed := got.Rename([]string{"ln", "fn"})
	assert.Equal(t, query.And{
		query.Equals("ln", value.String("Lovelace")),
		query.Equals("fn", value.String("Ada")),
	}, renamed.Filter())

	_, err = query.Project(row, []string{"email"})
	require.Error(t, err)
	assert.True(t, qerr.IsInvariant(err))
}

func TestWriteArgs(t *testing.T) {
	w := query.NewWriteArgs(
		query.FieldWrite{Field: "title", Op: query.WriteSet, Value: value.String("x")},
		query.FieldWrite{Field: "id", Op: query.WriteIncrement, Value: value.Int(1)},
	)
	assert.Equal(t, []string{"id", "title"}, w.Fields())
	assert.True(t, w.Touches([]string{"email", "id"}))
	assert.False(t, w.Touches([]string{"email"}))

	set := query.Set(value.Object{"b": value.Int(2), "a": value.Null{}})
	assert.Equal(t, []string{"a", "b"}, set.Fields())

	op, ok := query.ParseWriteOp("divide")
	require.True(t, ok)
	assert.Equal(t, query.WriteDivide, op)
	_, ok = query.ParseOp("between")
	assert.False(t, ok)
}
