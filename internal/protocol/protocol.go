// Package protocol translates GraphQL requests into query documents.
//
// A request names exactly one root field. Queries become reads and mutations
// become writes. Variables, fragments and the @skip/@include directives are
// resolved during translation, so the resulting selections carry plain
// values only.
package protocol

import (
	"fmt"
	"strconv"

	"github.com/hanpama/querygraph/internal/document"
	"github.com/hanpama/querygraph/internal/language"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/value"
)

// Request is one GraphQL request as submitted over HTTP.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Translate parses req and returns its single operation.
func Translate(req Request) (document.Operation, error) {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return nil, &qerr.Error{Kind: qerr.KindInput, Message: "cannot parse query", Err: err}
	}
	op, err := pickOperation(doc, req.OperationName)
	if err != nil {
		return nil, err
	}
	t := &translator{doc: doc, op: op, variables: req.Variables}
	fields, err := t.selectionSet(op.SelectionSet, nil)
	if err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, qerr.Input("an operation must select exactly one root field, got %d", len(fields))
	}
	switch op.Operation {
	case language.Query:
		return document.Read{Sel: fields[0]}, nil
	case language.Mutation:
		return document.Write{Sel: fields[0]}, nil
	}
	return nil, qerr.Input("%s operations are not supported", op.Operation)
}

// TranslateDocument turns a single request into a Single document.
func TranslateDocument(req Request) (document.QueryDocument, error) {
	op, err := Translate(req)
	if err != nil {
		return nil, err
	}
	return document.Single{Operation: op}, nil
}

// TranslateBatch turns requests into a Multi document. A nil tx makes the
// batch non-transactional.
func TranslateBatch(reqs []Request, tx *document.Transaction) (document.QueryDocument, error) {
	if len(reqs) == 0 {
		return nil, qerr.Input("a batch must contain at least one request")
	}
	ops := make([]document.Operation, len(reqs))
	for i, r := range reqs {
		op, err := Translate(r)
		if err != nil {
			return nil, fmt.Errorf("batch request %d: %w", i, err)
		}
		ops[i] = op
	}
	return document.Multi{Batch: document.NewBatch(ops, tx)}, nil
}

func pickOperation(doc *language.QueryDocument, name string) (*language.OperationDefinition, error) {
	if name != "" {
		op := doc.Operations.ForName(name)
		if op == nil {
			return nil, qerr.Input("unknown operation %q", name)
		}
		return op, nil
	}
	switch len(doc.Operations) {
	case 0:
		return nil, qerr.Input("the document contains no operation")
	case 1:
		return doc.Operations[0], nil
	}
	return nil, qerr.Input("the document contains %d operations, operationName is required", len(doc.Operations))
}

type translator struct {
	doc       *language.QueryDocument
	op        *language.OperationDefinition
	variables map[string]any
}

// selectionSet flattens fragments into plain fields. visiting guards against
// fragment cycles.
func (t *translator) selectionSet(set language.SelectionSet, visiting []string) ([]*document.Selection, error) {
	var out []*document.Selection
	for _, s := range set {
		switch s := s.(type) {
		case *language.Field:
			ok, err := t.included(s.Directives)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			sel, err := t.field(s, visiting)
			if err != nil {
				return nil, err
			}
			out = append(out, sel)
		case *language.InlineFragment:
			ok, err := t.included(s.Directives)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			nested, err := t.selectionSet(s.SelectionSet, visiting)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case *language.FragmentSpread:
			ok, err := t.included(s.Directives)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			for _, v := range visiting {
				if v == s.Name {
					return nil, qerr.Input("fragment %s spreads itself", s.Name)
				}
			}
			def := t.doc.Fragments.ForName(s.Name)
			if def == nil {
				return nil, qerr.Input("unknown fragment %s", s.Name)
			}
			nested, err := t.selectionSet(def.SelectionSet, append(visiting[:len(visiting):len(visiting)], s.Name))
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

func (t *translator) field(f *language.Field, visiting []string) (*document.Selection, error) {
	if f.Name == "__typename" {
		return nil, qerr.Input("__typename is not supported")
	}
	alias := f.Alias
	if alias == f.Name {
		alias = ""
	}
	var args []document.Argument
	for _, a := range f.Arguments {
		v, present, err := t.value(a.Value)
		if err != nil {
			return nil, fmt.Errorf("argument %s of %s: %w", a.Name, f.Name, err)
		}
		if !present {
			continue
		}
		args = append(args, document.Argument{Name: a.Name, Value: v})
	}
	nested, err := t.selectionSet(f.SelectionSet, visiting)
	if err != nil {
		return nil, err
	}
	return document.NewSelection(f.Name, alias, args, nested), nil
}

// included evaluates @skip and @include.
func (t *translator) included(dirs language.DirectiveList) (bool, error) {
	for _, d := range dirs {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil {
			return false, qerr.Input("@%s requires an if argument", d.Name)
		}
		v, _, err := t.value(arg.Value)
		if err != nil {
			return false, err
		}
		b, ok := v.(value.Boolean)
		if !ok {
			return false, qerr.Input("@%s(if:) must be a boolean, got %s", d.Name, value.Kind(v))
		}
		if bool(b) == (d.Name == "skip") {
			return false, nil
		}
	}
	return true, nil
}

// value converts a literal. present is false for a variable that has neither
// a value nor a default; such arguments are omitted.
func (t *translator) value(v *language.Value) (_ value.Value, present bool, _ error) {
	switch v.Kind {
	case language.Variable:
		if raw, ok := t.variables[v.Raw]; ok {
			out, err := value.FromGo(raw)
			if err != nil {
				return nil, false, qerr.Input("variable $%s: %v", v.Raw, err)
			}
			return out, true, nil
		}
		if def := t.op.VariableDefinitions.ForName(v.Raw); def != nil {
			if def.DefaultValue != nil {
				return t.value(def.DefaultValue)
			}
			if def.Type != nil && def.Type.NonNull {
				return nil, false, qerr.Input("variable $%s of type %s is required", v.Raw, def.Type.String())
			}
			return value.Null{}, false, nil
		}
		return nil, false, qerr.Input("variable $%s is not defined", v.Raw)
	case language.IntValue:
		i, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return nil, false, qerr.Input("invalid integer %s", v.Raw)
		}
		return value.Int(i), true, nil
	case language.FloatValue:
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return nil, false, qerr.Input("invalid float %s", v.Raw)
		}
		return value.Float(f), true, nil
	case language.StringValue, language.BlockValue:
		return value.String(v.Raw), true, nil
	case language.BooleanValue:
		return value.Boolean(v.Raw == "true"), true, nil
	case language.NullValue:
		return value.Null{}, true, nil
	case language.EnumValue:
		return value.Enum(v.Raw), true, nil
	case language.ListValue:
		out := make(value.List, 0, len(v.Children))
		for _, c := range v.Children {
			cv, present, err := t.value(c.Value)
			if err != nil {
				return nil, false, err
			}
			if !present {
				cv = value.Null{}
			}
			out = append(out, cv)
		}
		return out, true, nil
	case language.ObjectValue:
		out := make(value.Object, len(v.Children))
		for _, c := range v.Children {
			cv, present, err := t.value(c.Value)
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", c.Name, err)
			}
			if present {
				out[c.Name] = cv
			}
		}
		return out, true, nil
	}
	return nil, false, qerr.Input("unsupported value %s", v.String())
}
