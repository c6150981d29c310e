// Package catalog is the read-only model catalog consumed by the document
// layer and the query graph builder: models, their scalar fields and unique
// criteria, relations with referential actions, and the query fields derived
// from each model.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// RelationMode decides who enforces referential actions.
type RelationMode string

const (
	// RelationModeForeignKeys leaves referential actions to the database.
	RelationModeForeignKeys RelationMode = "foreignKeys"
	// RelationModePrisma emulates referential actions in the query graph.
	RelationModePrisma RelationMode = "prisma"
)

// ParseRelationMode validates a configured relation mode.
func ParseRelationMode(s string) (RelationMode, error) {
	switch RelationMode(s) {
	case RelationModeForeignKeys, RelationModePrisma:
		return RelationMode(s), nil
	}
	return "", fmt.Errorf("invalid relation mode %q (expected %q or %q)", s, RelationModeForeignKeys, RelationModePrisma)
}

// QueryFieldKind classifies a root query field.
type QueryFieldKind string

const (
	FindUnique QueryFieldKind = "findUnique"
	FindMany   QueryFieldKind = "findMany"
	UpdateOne  QueryFieldKind = "updateOne"
	UpdateMany QueryFieldKind = "updateMany"
)

var queryFieldKinds = []QueryFieldKind{FindUnique, FindMany, UpdateOne, UpdateMany}

// QueryField is a root field such as findUniqueUser.
type QueryField struct {
	Name  string
	Kind  QueryFieldKind
	Model *Model
}

// IsWrite reports whether the field mutates data.
func (f *QueryField) IsWrite() bool {
	return f.Kind == UpdateOne || f.Kind == UpdateMany
}

// QueryFieldName composes the root field name for kind on model.
func QueryFieldName(kind QueryFieldKind, model string) string {
	return string(kind) + model
}

// Catalog holds all models of a datamodel.
type Catalog struct {
	models       map[string]*Model
	order        []string
	enums        map[string][]string
	queryFields  map[string]*QueryField
	relationMode RelationMode
}

func NewCatalog() *Catalog {
	return &Catalog{
		models:       make(map[string]*Model),
		enums:        make(map[string][]string),
		queryFields:  make(map[string]*QueryField),
		relationMode: RelationModeForeignKeys,
	}
}

func (c *Catalog) SetRelationMode(m RelationMode) *Catalog {
	c.relationMode = m
	return c
}

func (c *Catalog) RelationMode() RelationMode { return c.relationMode }

// EmulatesReferentialActions reports whether the builder must insert
// referential-action emulation subgraphs.
func (c *Catalog) EmulatesReferentialActions() bool {
	return c.relationMode == RelationModePrisma
}

// AddModel registers m and its derived query fields.
func (c *Catalog) AddModel(m *Model) *Catalog {
	if _, ok := c.models[m.Name]; !ok {
		c.order = append(c.order, m.Name)
	}
	c.models[m.Name] = m
	for _, k := range queryFieldKinds {
		name := QueryFieldName(k, m.Name)
		c.queryFields[name] = &QueryField{Name: name, Kind: k, Model: m}
	}
	return c
}

func (c *Catalog) AddEnum(name string, values ...string) *Catalog {
	c.enums[name] = append([]string(nil), values...)
	return c
}

func (c *Catalog) Enum(name string) ([]string, bool) {
	v, ok := c.enums[name]
	return v, ok
}

func (c *Catalog) Model(name string) (*Model, bool) {
	m, ok := c.models[name]
	return m, ok
}

// Models returns models in registration order.
func (c *Catalog) Models() []*Model {
	out := make([]*Model, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.models[name])
	}
	return out
}

func (c *Catalog) FindQueryField(name string) (*QueryField, bool) {
	f, ok := c.queryFields[name]
	return f, ok
}

// QueryFieldNames lists all root field names, sorted.
func (c *Catalog) QueryFieldNames() []string {
	names := make([]string, 0, len(c.queryFields))
	for n := range c.queryFields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Link resolves relation targets and pairs each relation field with its
// opposite side. It must run after all models are added and before the
// catalog is used.
func (c *Catalog) Link() error {
	var problems []string
	for _, m := range c.Models() {
		for _, rf := range m.Relations {
			rf.model = m
			for _, f := range rf.Fields {
				if _, ok := m.ScalarField(f); !ok {
					problems = append(problems, fmt.Sprintf("relation field %s.%s uses unknown field %q", m.Name, rf.Name, f))
				}
			}
			related, ok := c.models[rf.RelatedModel]
			if !ok {
				problems = append(problems, fmt.Sprintf("relation field %s.%s references unknown model %q", m.Name, rf.Name, rf.RelatedModel))
				continue
			}
			rf.related = related
			if len(rf.Fields) != len(rf.References) {
				problems = append(problems, fmt.Sprintf("relation field %s.%s has %d fields but %d references", m.Name, rf.Name, len(rf.Fields), len(rf.References)))
			}
			for _, r := range rf.References {
				if _, ok := related.ScalarField(r); !ok {
					problems = append(problems, fmt.Sprintf("relation field %s.%s references unknown field %s.%s", m.Name, rf.Name, related.Name, r))
				}
			}
		}
		if len(m.PrimaryIdentifier()) == 0 {
			problems = append(problems, fmt.Sprintf("model %s has no id or unique criteria", m.Name))
		}
	}
	for _, m := range c.Models() {
		for _, rf := range m.Relations {
			if rf.related == nil {
				continue
			}
			for _, other := range rf.related.Relations {
				if other == rf || other.RelationName != rf.RelationName || other.RelatedModel != m.Name {
					continue
				}
				rf.opposite = other
			}
			if rf.opposite == nil {
				problems = append(problems, fmt.Sprintf("relation %q on %s.%s has no opposite field on %s", rf.RelationName, m.Name, rf.Name, rf.RelatedModel))
				continue
			}
			if !rf.IsInlined() && !rf.opposite.IsInlined() {
				problems = append(problems, fmt.Sprintf("relation %q between %s and %s declares fields on neither side", rf.RelationName, m.Name, rf.RelatedModel))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid catalog:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// DependentRelations returns the foreign-key holding relation fields, on any
// model, that reference model.
func (c *Catalog) DependentRelations(model string) []*RelationField {
	var out []*RelationField
	for _, m := range c.Models() {
		for _, rf := range m.Relations {
			if rf.RelatedModel == model && rf.IsInlined() {
				out = append(out, rf)
			}
		}
	}
	return out
}
