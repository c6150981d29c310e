package document

import (
	"sort"
	"strings"

	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/value"
)

// CompactedDocument is a findMany read standing in for N findUnique reads.
type CompactedDocument struct {
	// Operation is the synthetic findMany read.
	Operation Operation
	// Name is the root field name stub, e.g. "User" for findUniqueUser.
	Name string
	// NestedSelection lists the field names the original requests selected.
	// Key fields outside this list were injected and are stripped from
	// results.
	NestedSelection []string
	// Arguments holds, per original request in submission order, its
	// flattened filter.
	Arguments []map[string]value.Value
	// Keys is the union of filter fields across all requests.
	Keys []string
}

// SingleName is the root field name of each original request.
func (d *CompactedDocument) SingleName() string {
	return string(catalog.FindUnique) + d.Name
}

// PluralName is the root field name of the compacted read.
func (d *CompactedDocument) PluralName() string {
	return string(catalog.FindMany) + d.Name
}

// InjectedKeys lists key fields selected only for remapping.
func (d *CompactedDocument) InjectedKeys() []string {
	requested := nameSet(d.NestedSelection)
	var out []string
	for _, k := range d.Keys {
		if _, ok := requested[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Remap distributes the rows of the compacted read back to the original
// requests. The result has one entry per request, in submission order: the
// matching row without injected keys, or Null when no row matched.
func (d *CompactedDocument) Remap(rows []value.Object) []value.Value {
	injected := d.InjectedKeys()
	out := make([]value.Value, len(d.Arguments))
	for i, idx := range d.Match(rows) {
		if idx < 0 {
			out[i] = value.Null{}
			continue
		}
		out[i] = stripFields(rows[idx], injected)
	}
	return out
}

// Match returns, per original request in submission order, the index of the
// first row whose key fields equal the request's filter, or -1.
func (d *CompactedDocument) Match(rows []value.Object) []int {
	// Requests may filter on different key sets, e.g. id for one and email
	// for another; each distinct set gets its own lookup table.
	indexes := map[string]map[string]int{}
	out := make([]int, len(d.Arguments))
	for i, args := range d.Arguments {
		fields := sortedKeys(args)
		sig := strings.Join(fields, "\x00")
		idx, ok := indexes[sig]
		if !ok {
			idx = make(map[string]int, len(rows))
			for r, row := range rows {
				k, ok := projectKey(row, fields)
				if !ok {
					continue
				}
				if _, dup := idx[k]; !dup {
					idx[k] = r
				}
			}
			indexes[sig] = idx
		}
		k, _ := projectKey(value.Object(args), fields)
		r, found := idx[k]
		if !found {
			r = -1
		}
		out[i] = r
	}
	return out
}

// StripInjected removes key fields that were selected only for remapping.
func (d *CompactedDocument) StripInjected(row value.Object) value.Object {
	return stripFields(row, d.InjectedKeys())
}

func projectKey(row value.Object, fields []string) (string, bool) {
	vals := make(value.List, len(fields))
	for i, f := range fields {
		v, ok := row[f]
		if !ok {
			return "", false
		}
		vals[i] = v
	}
	return value.Key(vals), true
}

func stripFields(row value.Object, fields []string) value.Object {
	if len(fields) == 0 {
		return row
	}
	out := make(value.Object, len(row))
	for k, v := range row {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

func sortedKeys(m map[string]value.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
