package query

import (
	"github.com/hanpama/querygraph/internal/catalog"
)

// SelectedField is a requested scalar field.
type SelectedField struct {
	Name  string
	Alias string
}

func (f SelectedField) ResponseName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Fields creates selections without aliases.
func Fields(names ...string) []SelectedField {
	out := make([]SelectedField, len(names))
	for i, n := range names {
		out[i] = SelectedField{Name: n}
	}
	return out
}

// FieldNames lists the selected field names.
func FieldNames(fields []SelectedField) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

type OrderBy struct {
	Field      string
	Descending bool
}

// Args are the pagination and ordering arguments of a many-records read.
// Nil Skip or Take means unbounded.
type Args struct {
	OrderBy []OrderBy
	Skip    *int
	Take    *int
}

// RecordQuery reads at most one record.
type RecordQuery struct {
	Name   string
	Alias  string
	Model  *catalog.Model
	Filter Filter
	Fields []SelectedField
	Nested []RelatedRecordsQuery
}

// ManyRecordsQuery reads every record matching Filter and ParentFilter.
// ParentFilter is installed by the query graph to scope a read to the
// records related to a parent.
type ManyRecordsQuery struct {
	Name         string
	Alias        string
	Model        *catalog.Model
	Filter       Filter
	ParentFilter Filter
	Args         Args
	Fields       []SelectedField
	Nested       []RelatedRecordsQuery
}

// RelatedRecordsQuery reads the records related to each parent row through
// Relation. It is only executed as part of an enclosing read.
type RelatedRecordsQuery struct {
	Name     string
	Alias    string
	Relation *catalog.RelationField
	Filter   Filter
	Args     Args
	Fields   []SelectedField
	Nested   []RelatedRecordsQuery
}

func (q RelatedRecordsQuery) ResponseName() string {
	if q.Alias != "" {
		return q.Alias
	}
	return q.Name
}

func (q RecordQuery) Target() *catalog.Model      { return q.Model }
func (q ManyRecordsQuery) Target() *catalog.Model { return q.Model }
func (RecordQuery) isQuery()                      {}
func (ManyRecordsQuery) isQuery()                 {}

// Combined is the filter storage evaluates.
func (q ManyRecordsQuery) Combined() Filter {
	return Conjoin(q.ParentFilter, q.Filter)
}
