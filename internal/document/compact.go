package document

import (
	"strings"

	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/value"
)

// Argument and filter keys shared with the query graph builder.
const (
	ArgWhere = "where"
	ArgData  = "data"

	FilterEquals     = "equals"
	FilterIn         = "in"
	FilterNotIn      = "notIn"
	FilterNot        = "not"
	FilterLt         = "lt"
	FilterLte        = "lte"
	FilterGt         = "gt"
	FilterGte        = "gte"
	FilterContains   = "contains"
	FilterStartsWith = "startsWith"
	FilterEndsWith   = "endsWith"

	FilterAnd = "AND"
	FilterOr  = "OR"
	FilterNOT = "NOT"
)

// Compact rewrites an OperationBatch of equivalent findUnique reads into a
// CompactBatch. Any other input, including a batch that is not eligible, is
// returned unchanged. An error is returned only when an eligible batch breaks
// an assumption of the flattening step, which indicates a defect.
func Compact(b BatchDocument, c *catalog.Catalog) (BatchDocument, error) {
	batch, ok := b.(OperationBatch)
	if !ok || !CanCompact(batch, c) {
		return b, nil
	}
	doc, err := NewCompactedDocument(batch.Operations, c)
	if err != nil {
		return nil, err
	}
	return CompactBatch{Document: doc, Transaction: batch.Transaction}, nil
}

// CanCompact reports whether every operation of batch is a findUnique read of
// the same root field, with the same nested selection names, and a filter
// whose results can be matched back to the request by equality.
func CanCompact(batch OperationBatch, c *catalog.Catalog) bool {
	if len(batch.Operations) == 0 {
		return false
	}
	first := batch.Operations[0]
	if !IsFindUnique(first, c) {
		return false
	}
	// A single unsafe member poisons the whole batch.
	for _, op := range batch.Operations {
		if invalidCompactFilter(op, c) {
			return false
		}
	}
	firstNames := nameSet(first.Selection().NestedSelectionNames())
	for _, op := range batch.Operations[1:] {
		if Name(op) != Name(first) {
			return false
		}
		if !sameNames(firstNames, nameSet(op.Selection().NestedSelectionNames())) {
			return false
		}
	}
	return true
}

func sameNames(a, b map[string]struct{}) bool {
	for n := range a {
		if _, ok := b[n]; !ok {
			return false
		}
	}
	for n := range b {
		if _, ok := a[n]; !ok {
			return false
		}
	}
	return true
}

// invalidCompactFilter reports whether op's filter prevents mapping findMany
// rows back to it: anything that is not a findUnique, filters that do not pin
// a unique criterion, relation filters, boolean combinators, scalar filters
// other than a bare value or a single equals, and values that do not convert
// to the field's type.
func invalidCompactFilter(op Operation, c *catalog.Catalog) bool {
	if !IsFindUnique(op, c) {
		return true
	}
	field, _ := c.FindQueryField(Name(op))
	model := field.Model
	where, _ := value.AsObject(op.Selection().Arguments()[0].Value)
	if len(where) == 0 || !PinsUniqueCriterion(model, where) {
		return true
	}
	for key, val := range where {
		if obj, ok := value.AsObject(val); ok {
			if _, compound := model.ResolveCompoundField(key); compound {
				continue
			}
			if _, scalar := model.ScalarField(key); !scalar {
				return true
			}
			if _, eq := obj[FilterEquals]; !eq || len(obj) != 1 {
				return true
			}
			continue
		}
		if _, scalar := model.ScalarField(key); !scalar {
			return true
		}
	}
	pairs, err := extractFilter(where, model)
	if err != nil {
		return true
	}
	_, err = coerceKeys(c, model, pairs)
	return err != nil
}

// coerceKeys converts flattened filter values into the stored representation
// of their fields, so that they compare equal to the values of fetched rows.
func coerceKeys(c *catalog.Catalog, model *catalog.Model, pairs []value.Pair) ([]value.Pair, error) {
	out := make([]value.Pair, len(pairs))
	for i, p := range pairs {
		f, ok := model.ScalarField(p.Key)
		if !ok {
			return nil, qerr.Invariant("compacted key %q is not a scalar field", p.Key).OnModel(model.Name).OnField(p.Key)
		}
		v, err := c.Coerce(f, p.Value)
		if err != nil {
			return nil, qerr.Invariant("compacted key %q: %v", p.Key, err).OnModel(model.Name).OnField(p.Key)
		}
		out[i] = value.Pair{Key: p.Key, Value: v}
	}
	return out, nil
}

func nameSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// NewCompactedDocument builds the findMany read that replaces ops. Callers
// must have checked CanCompact; violations of its guarantees are reported as
// invariant errors.
func NewCompactedDocument(ops []Operation, c *catalog.Catalog) (*CompactedDocument, error) {
	if len(ops) == 0 {
		return nil, qerr.Invariant("cannot compact an empty batch")
	}
	field, ok := c.FindQueryField(Name(ops[0]))
	if !ok {
		return nil, qerr.Invariant("compacted root field %q is not in the catalog", Name(ops[0]))
	}
	model := field.Model

	selections := make([]*Selection, len(ops))
	for i, op := range ops {
		r, ok := op.(Read)
		if !ok {
			return nil, qerr.Invariant("cannot compact write operation %q", Name(op))
		}
		selections[i] = r.Sel
	}
	first := selections[0]

	// Flatten every filter; the order of flattened filters defines the
	// response order.
	arguments := make([]map[string]value.Value, len(selections))
	flattened := make([][]value.Pair, len(selections))
	var keys []string
	seenKeys := map[string]struct{}{}
	for i, sel := range selections {
		args := sel.Arguments()
		if len(args) == 0 {
			return nil, qerr.Invariant("findUnique %q has no filter argument", sel.Name()).OnModel(model.Name)
		}
		where, ok := value.AsObject(args[0].Value)
		if !ok {
			return nil, qerr.Invariant("findUnique %q filter is a %s, not an object", sel.Name(), value.Kind(args[0].Value)).OnModel(model.Name)
		}
		pairs, err := extractFilter(where, model)
		if err != nil {
			return nil, err
		}
		if pairs, err = coerceKeys(c, model, pairs); err != nil {
			return nil, err
		}
		flattened[i] = pairs
		arguments[i] = make(map[string]value.Value, len(pairs))
		for _, p := range pairs {
			arguments[i][p.Key] = p.Value
			if _, seen := seenKeys[p.Key]; !seen {
				seenKeys[p.Key] = struct{}{}
				keys = append(keys, p.Key)
			}
		}
	}

	builder := WithName(strings.Replace(first.Name(), string(catalog.FindUnique), string(catalog.FindMany), 1))
	builder.SetNestedSelections(first.NestedSelections())
	// Every key must be selected so rows can be matched back to requests.
	for _, key := range keys {
		if !builder.ContainsNestedSelection(key) {
			builder.PushNestedSelection(WithName(key))
		}
	}
	builder.PushArgument(ArgWhere, membershipFilter(flattened))
	builder.SetAlias(first.Alias())

	return &CompactedDocument{
		Operation:       Read{Sel: builder},
		Name:            strings.Replace(first.Name(), string(catalog.FindUnique), "", 1),
		NestedSelection: first.NestedSelectionNames(),
		Arguments:       arguments,
		Keys:            keys,
	}, nil
}

// extractFilter flattens a unique filter into field/value pairs:
//
//	{id: 1}                               -> [(id, 1)]
//	{id: {equals: 1}}                     -> [(id, 1)]
//	{a_b: {a: 1, b: 2}}                   -> [(a, 1), (b, 2)]
//
// Compound keys expand into their component fields since findMany filters
// have no compound syntax.
func extractFilter(where value.Object, model *catalog.Model) ([]value.Pair, error) {
	var out []value.Pair
	for _, key := range where.SortedKeys() {
		val := where[key]
		obj, isObj := value.AsObject(val)
		if !isObj {
			out = append(out, value.Pair{Key: key, Value: val})
			continue
		}
		if cu, ok := model.ResolveCompoundField(key); ok {
			for _, f := range cu.Fields {
				v, present := obj[f]
				if !present {
					return nil, qerr.Invariant("compound filter %q is missing component %q", key, f).OnModel(model.Name).OnField(key)
				}
				out = append(out, value.Pair{Key: f, Value: v})
			}
			continue
		}
		eq, ok := obj[FilterEquals]
		if !ok {
			return nil, qerr.Invariant("only equals filters can be compacted").OnModel(model.Name).OnField(key)
		}
		out = append(out, value.Pair{Key: key, Value: eq})
	}
	return out, nil
}

// membershipFilter combines flattened unique filters into one findMany
// filter. When every filter constrains the same single field the result is
// {field: {in: [...]}}; otherwise it is an OR of per-request ANDs of equals.
func membershipFilter(flattened [][]value.Pair) value.Value {
	single := true
	for _, pairs := range flattened {
		if len(pairs) != 1 || pairs[0].Key != flattened[0][0].Key {
			single = false
			break
		}
	}
	if single && len(flattened) > 0 && len(flattened[0]) == 1 {
		field := flattened[0][0].Key
		var vals value.List
		seen := map[string]struct{}{}
		for _, pairs := range flattened {
			k := value.Key(pairs[0].Value)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			vals = append(vals, pairs[0].Value)
		}
		return value.Object{field: value.Object{FilterIn: vals}}
	}
	var disjuncts value.List
	for _, pairs := range flattened {
		var conj value.List
		for _, p := range pairs {
			conj = append(conj, value.Object{p.Key: value.Object{FilterEquals: p.Value}})
		}
		disjuncts = append(disjuncts, value.Object{FilterAnd: conj})
	}
	return value.Object{FilterOr: disjuncts}
}
