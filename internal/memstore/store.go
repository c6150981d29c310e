// Package memstore is an in-memory storage connector. It evaluates the
// primitive queries of a query graph against tables of records kept per model
// and is used by tests and the demo server.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/interpreter"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
	"google.golang.org/protobuf/types/known/structpb"
)

// Store holds one table per model in insertion order. It is safe for
// concurrent use; transactions are serialized against each other.
type Store struct {
	catalog *catalog.Catalog

	mu       sync.Mutex
	tables   map[string][]query.Record
	executed []query.Query

	txMu       sync.Mutex
	isolations []string
}

var _ interpreter.Connector = (*Store)(nil)

func New(c *catalog.Catalog) *Store {
	return &Store{catalog: c, tables: map[string][]query.Record{}}
}

// Insert appends records to the model's table. Scalar fields missing from a
// record are stored as null.
func (s *Store) Insert(model string, records ...value.Object) error {
	m, ok := s.catalog.Model(model)
	if !ok {
		return fmt.Errorf("unknown model %q", model)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		row := make(query.Record, len(m.Fields))
		for k := range r {
			if _, ok := m.ScalarField(k); !ok {
				return fmt.Errorf("model %s has no scalar field %q", model, k)
			}
		}
		for _, f := range m.Fields {
			v, ok := r[f.Name]
			if !ok {
				v = value.Null{}
			}
			cv, err := s.catalog.Coerce(f, v)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", model, f.Name, err)
			}
			row[f.Name] = cv
		}
		if err := s.checkUnique(m, row, -1); err != nil {
			return err
		}
		s.tables[model] = append(s.tables[model], row)
	}
	return nil
}

// Load inserts a fixture of decoded JSON records keyed by model name. Models
// are loaded in catalog order.
func (s *Store) Load(fixture map[string][]map[string]any) error {
	tables := make(map[string][]value.Object, len(fixture))
	for model, records := range fixture {
		for i, raw := range records {
			v, err := value.FromGo(raw)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", model, i, err)
			}
			obj, _ := value.AsObject(v)
			tables[model] = append(tables[model], obj)
		}
	}
	return s.load(tables)
}

// LoadStruct inserts a fixture given as a protobuf Struct whose fields are
// model names holding lists of records.
func (s *Store) LoadStruct(fixture *structpb.Struct) error {
	tables := make(map[string][]value.Object, len(fixture.GetFields()))
	for model, pv := range fixture.GetFields() {
		list := pv.GetListValue()
		if list == nil {
			return fmt.Errorf("fixture %s: expected a list of records", model)
		}
		for i, rec := range list.GetValues() {
			if rec.GetStructValue() == nil {
				return fmt.Errorf("%s[%d]: expected an object", model, i)
			}
			v, err := value.FromProto(rec)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", model, i, err)
			}
			obj, _ := value.AsObject(v)
			tables[model] = append(tables[model], obj)
		}
	}
	return s.load(tables)
}

func (s *Store) load(tables map[string][]value.Object) error {
	for model := range tables {
		if _, ok := s.catalog.Model(model); !ok {
			return fmt.Errorf("fixture names unknown model %q", model)
		}
	}
	for _, m := range s.catalog.Models() {
		for i, obj := range tables[m.Name] {
			if err := s.Insert(m.Name, obj); err != nil {
				return fmt.Errorf("%s[%d]: %w", m.Name, i, err)
			}
		}
	}
	return nil
}

// Records returns a copy of the model's table.
func (s *Store) Records(model string) []query.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRows(s.tables[model])
}

// Executed lists the queries run so far in execution order.
func (s *Store) Executed() []query.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]query.Query{}, s.executed...)
}

// IsolationLevels lists the isolation levels of the transactions started so
// far.
func (s *Store) IsolationLevels() []string {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return append([]string{}, s.isolations...)
}

func (s *Store) Execute(ctx context.Context, q query.Query) (query.Result, error) {
	if err := ctx.Err(); err != nil {
		return query.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, q)

	switch q := q.(type) {
	case query.RecordQuery:
		rows, err := s.match(q.Model, q.Filter)
		if err != nil {
			return query.Result{}, err
		}
		if len(rows) > 1 {
			rows = rows[:1]
		}
		return query.Result{Rows: copyRows(rows)}, nil
	case query.ManyRecordsQuery:
		rows, err := s.match(q.Model, q.Combined())
		if err != nil {
			return query.Result{}, err
		}
		rows = Paginate(Sort(copyRows(rows), q.Args.OrderBy), q.Args)
		return query.Result{Rows: rows}, nil
	case query.UpdateRecord:
		return s.update(q.Model, q.RecordFilter, q.Data, true)
	case query.UpdateManyRecords:
		return s.update(q.Model, q.RecordFilter, q.Data, false)
	case query.DeleteManyRecords:
		return s.delete(q.Model, q.RecordFilter)
	}
	return query.Result{}, qerr.Invariant("memstore cannot execute %s", query.Describe(q))
}

// Transaction runs fn against a snapshot-backed view of the store. When fn
// fails every table is restored. Transactions started inside fn join the
// outer one.
func (s *Store) Transaction(ctx context.Context, isolationLevel string, fn func(ctx context.Context, conn interpreter.Connector) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.isolations = append(s.isolations, isolationLevel)

	s.mu.Lock()
	snapshot := make(map[string][]query.Record, len(s.tables))
	for k, rows := range s.tables {
		snapshot[k] = copyRows(rows)
	}
	s.mu.Unlock()

	if err := fn(ctx, tx{s}); err != nil {
		s.mu.Lock()
		s.tables = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

type tx struct{ s *Store }

func (t tx) Execute(ctx context.Context, q query.Query) (query.Result, error) {
	return t.s.Execute(ctx, q)
}

func (t tx) Transaction(ctx context.Context, _ string, fn func(ctx context.Context, conn interpreter.Connector) error) error {
	return fn(ctx, t)
}

// match returns the stored rows of model matching f, in table order.
func (s *Store) match(m *catalog.Model, f query.Filter) ([]query.Record, error) {
	f, err := s.coerceFilter(m, f)
	if err != nil {
		return nil, err
	}
	var out []query.Record
	for _, r := range s.tables[m.Name] {
		ok, err := Matches(f, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) update(m *catalog.Model, rf query.RecordFilter, data query.WriteArgs, single bool) (query.Result, error) {
	f, err := s.coerceFilter(m, rf.AsFilter())
	if err != nil {
		return query.Result{}, err
	}
	table := s.tables[m.Name]
	updated := make([]query.Record, len(table))
	copy(updated, table)
	var res query.Result
	for i, r := range table {
		ok, err := Matches(f, r)
		if err != nil {
			return query.Result{}, err
		}
		if !ok {
			continue
		}
		next, err := s.apply(m, r, data)
		if err != nil {
			return query.Result{}, err
		}
		updated[i] = next
		res.Count++
		res.Rows = append(res.Rows, copyRow(next))
		if single {
			break
		}
	}
	for i, r := range updated {
		if err := s.checkUniqueIn(m, updated, r, i); err != nil {
			return query.Result{}, err
		}
	}
	s.tables[m.Name] = updated
	return res, nil
}

func (s *Store) delete(m *catalog.Model, rf query.RecordFilter) (query.Result, error) {
	f, err := s.coerceFilter(m, rf.AsFilter())
	if err != nil {
		return query.Result{}, err
	}
	var (
		kept []query.Record
		res  query.Result
	)
	for _, r := range s.tables[m.Name] {
		ok, err := Matches(f, r)
		if err != nil {
			return query.Result{}, err
		}
		if ok {
			res.Count++
			res.Rows = append(res.Rows, copyRow(r))
			continue
		}
		kept = append(kept, r)
	}
	s.tables[m.Name] = kept
	return res, nil
}

// apply returns a copy of r with data written.
func (s *Store) apply(m *catalog.Model, r query.Record, data query.WriteArgs) (query.Record, error) {
	next := copyRow(r)
	for _, w := range data {
		f, ok := m.ScalarField(w.Field)
		if !ok {
			return nil, qerr.Input("model %s has no scalar field %q", m.Name, w.Field).OnModel(m.Name).OnField(w.Field)
		}
		v, err := s.catalog.Coerce(f, w.Value)
		if err != nil {
			return nil, qerr.Input("%s.%s: %v", m.Name, w.Field, err).OnModel(m.Name).OnField(w.Field)
		}
		out, err := Arithmetic(w.Op, next[w.Field], v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", m.Name, w.Field, err)
		}
		if f.IsRequired && value.IsNull(out) {
			return nil, qerr.Constraint(m.Name, "", fmt.Sprintf("Null constraint violation on the fields: (`%s`)", w.Field)).OnField(w.Field)
		}
		next[w.Field] = out
	}
	return next, nil
}

// Arithmetic combines the stored value with a write. Numeric operations on a
// null value leave it null.
func Arithmetic(op query.WriteOp, current, operand value.Value) (value.Value, error) {
	if op == query.WriteSet {
		return operand, nil
	}
	if value.IsNull(current) {
		return value.Null{}, nil
	}
	a, aInt := current.(value.Int)
	b, bInt := operand.(value.Int)
	if aInt && bInt {
		switch op {
		case query.WriteIncrement:
			return a + b, nil
		case query.WriteDecrement:
			return a - b, nil
		case query.WriteMultiply:
			return a * b, nil
		case query.WriteDivide:
			if b == 0 {
				return nil, qerr.Input("division by zero")
			}
			return a / b, nil
		}
		return nil, qerr.Invariant("unknown write operation %q", op)
	}
	fa, ok := asFloat(current)
	if !ok {
		return nil, qerr.Input("cannot %s a %s value", op, value.Kind(current))
	}
	fb, ok := asFloat(operand)
	if !ok {
		return nil, qerr.Input("cannot %s by a %s value", op, value.Kind(operand))
	}
	var out float64
	switch op {
	case query.WriteIncrement:
		out = fa + fb
	case query.WriteDecrement:
		out = fa - fb
	case query.WriteMultiply:
		out = fa * fb
	case query.WriteDivide:
		if fb == 0 {
			return nil, qerr.Input("division by zero")
		}
		out = fa / fb
	default:
		return nil, qerr.Invariant("unknown write operation %q", op)
	}
	if aInt {
		return value.Int(int64(out)), nil
	}
	return value.Float(out), nil
}

func asFloat(v value.Value) (float64, bool) {
	switch t := v.(type) {
	case value.Int:
		return float64(t), true
	case value.Float:
		return float64(t), true
	}
	return 0, false
}

// coerceFilter rewrites condition operands into stored representations.
func (s *Store) coerceFilter(m *catalog.Model, f query.Filter) (query.Filter, error) {
	switch t := f.(type) {
	case query.And:
		out := make(query.And, len(t))
		for i, c := range t {
			cf, err := s.coerceFilter(m, c)
			if err != nil {
				return nil, err
			}
			out[i] = cf
		}
		return out, nil
	case query.Or:
		out := make(query.Or, len(t))
		for i, c := range t {
			cf, err := s.coerceFilter(m, c)
			if err != nil {
				return nil, err
			}
			out[i] = cf
		}
		return out, nil
	case query.Not:
		inner, err := s.coerceFilter(m, t.Filter)
		if err != nil {
			return nil, err
		}
		return query.Not{Filter: inner}, nil
	case query.Condition:
		field, ok := m.ScalarField(t.Field)
		if !ok {
			return nil, qerr.Input("model %s has no scalar field %q", m.Name, t.Field).OnModel(m.Name).OnField(t.Field)
		}
		elem := field
		if field.IsList {
			copied := *field
			copied.IsList = false
			elem = &copied
		}
		var err error
		switch t.Op {
		case query.OpIn, query.OpNotIn:
			list, ok := value.AsList(t.Value)
			if !ok {
				return t, nil
			}
			out := make(value.List, len(list))
			for i, e := range list {
				if out[i], err = s.catalog.Coerce(elem, e); err != nil {
					return nil, qerr.Input("%s.%s: %v", m.Name, t.Field, err).OnModel(m.Name).OnField(t.Field)
				}
			}
			t.Value = out
		case query.OpContains, query.OpStartsWith, query.OpEndsWith:
		default:
			if t.Value, err = s.catalog.Coerce(field, t.Value); err != nil {
				return nil, qerr.Input("%s.%s: %v", m.Name, t.Field, err).OnModel(m.Name).OnField(t.Field)
			}
		}
		return t, nil
	}
	return f, nil
}

func (s *Store) checkUnique(m *catalog.Model, row query.Record, skip int) error {
	return s.checkUniqueIn(m, s.tables[m.Name], row, skip)
}

// checkUniqueIn rejects row when another row of table, other than the one at
// index skip, shares a value for a unique criterion. Null values never
// collide.
func (s *Store) checkUniqueIn(m *catalog.Model, table []query.Record, row query.Record, skip int) error {
	for _, fields := range uniqueCriteria(m) {
		key, ok := uniqueKey(row, fields)
		if !ok {
			continue
		}
		for i, other := range table {
			if i == skip {
				continue
			}
			if k, ok := uniqueKey(other, fields); ok && k == key {
				return qerr.Constraint(m.Name, "", fmt.Sprintf("Unique constraint failed on the fields: (%s)", quoteFields(fields)))
			}
		}
	}
	return nil
}

func uniqueCriteria(m *catalog.Model) [][]string {
	var out [][]string
	if len(m.PrimaryKey) > 0 {
		out = append(out, m.PrimaryKey)
	}
	for _, f := range m.Fields {
		if f.IsID || f.IsUnique {
			if len(m.PrimaryKey) == 1 && m.PrimaryKey[0] == f.Name {
				continue
			}
			out = append(out, []string{f.Name})
		}
	}
	for _, cu := range m.CompoundUniques {
		out = append(out, cu.Fields)
	}
	return out
}

func uniqueKey(row query.Record, fields []string) (string, bool) {
	vals := make(value.List, len(fields))
	for i, f := range fields {
		v := row[f]
		if value.IsNull(v) {
			return "", false
		}
		vals[i] = v
	}
	return value.Key(vals), true
}

func quoteFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += "`" + f + "`"
	}
	return out
}

// Sort orders rows by orderBy, nulls first for ascending fields. Rows equal
// on every ordering field keep their relative order.
func Sort(rows []query.Record, orderBy []query.OrderBy) []query.Record {
	if len(orderBy) == 0 {
		return rows
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orderBy {
			c := compareForOrder(rows[i][o.Field], rows[j][o.Field])
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return rows
}

func compareForOrder(a, b value.Value) int {
	an, bn := value.IsNull(a), value.IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	c, _ := value.Compare(a, b)
	return c
}

// Paginate applies skip and take.
func Paginate(rows []query.Record, args query.Args) []query.Record {
	if args.Skip != nil {
		if *args.Skip >= len(rows) {
			return nil
		}
		rows = rows[*args.Skip:]
	}
	if args.Take != nil && *args.Take < len(rows) {
		rows = rows[:*args.Take]
	}
	return rows
}

func copyRow(r query.Record) query.Record {
	out := make(query.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func copyRows(rows []query.Record) []query.Record {
	if rows == nil {
		return nil
	}
	out := make([]query.Record, len(rows))
	for i, r := range rows {
		out[i] = copyRow(r)
	}
	return out
}
