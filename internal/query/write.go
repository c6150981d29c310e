package query

import (
	"sort"

	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/value"
)

// WriteOp is how a field write combines with the stored value.
type WriteOp string

const (
	WriteSet       WriteOp = "set"
	WriteIncrement WriteOp = "increment"
	WriteDecrement WriteOp = "decrement"
	WriteMultiply  WriteOp = "multiply"
	WriteDivide    WriteOp = "divide"
)

var writeOps = map[string]WriteOp{
	string(WriteSet):       WriteSet,
	string(WriteIncrement): WriteIncrement,
	string(WriteDecrement): WriteDecrement,
	string(WriteMultiply):  WriteMultiply,
	string(WriteDivide):    WriteDivide,
}

func ParseWriteOp(s string) (WriteOp, bool) {
	op, ok := writeOps[s]
	return op, ok
}

type FieldWrite struct {
	Field string
	Op    WriteOp
	Value value.Value
}

// WriteArgs is a scalar data payload ordered by field name.
type WriteArgs []FieldWrite

// NewWriteArgs sorts writes by field name.
func NewWriteArgs(writes ...FieldWrite) WriteArgs {
	out := append(WriteArgs{}, writes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Set builds literal assignments from an object.
func Set(obj value.Object) WriteArgs {
	writes := make([]FieldWrite, 0, len(obj))
	for _, k := range obj.SortedKeys() {
		writes = append(writes, FieldWrite{Field: k, Op: WriteSet, Value: obj[k]})
	}
	return writes
}

func (w WriteArgs) Get(field string) (FieldWrite, bool) {
	for _, fw := range w {
		if fw.Field == field {
			return fw, true
		}
	}
	return FieldWrite{}, false
}

func (w WriteArgs) Fields() []string {
	out := make([]string, len(w))
	for i, fw := range w {
		out[i] = fw.Field
	}
	return out
}

// Touches reports whether any of fields is written.
func (w WriteArgs) Touches(fields []string) bool {
	for _, f := range fields {
		if _, ok := w.Get(f); ok {
			return true
		}
	}
	return false
}

// UpdateRecord updates one record. Storage returns the updated record.
type UpdateRecord struct {
	Model        *catalog.Model
	RecordFilter RecordFilter
	Data         WriteArgs
}

// UpdateManyRecords updates every selected record and reports the count.
type UpdateManyRecords struct {
	Model        *catalog.Model
	RecordFilter RecordFilter
	Data         WriteArgs
}

// DeleteManyRecords deletes every selected record and reports the count.
type DeleteManyRecords struct {
	Model        *catalog.Model
	RecordFilter RecordFilter
}

func (q UpdateRecord) Target() *catalog.Model      { return q.Model }
func (q UpdateManyRecords) Target() *catalog.Model { return q.Model }
func (q DeleteManyRecords) Target() *catalog.Model { return q.Model }
func (UpdateRecord) isQuery()                      {}
func (UpdateManyRecords) isQuery()                 {}
func (DeleteManyRecords) isQuery()                 {}
