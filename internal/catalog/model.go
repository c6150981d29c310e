package catalog

import "strings"

// ScalarType names the storage type of a scalar field. Enum fields carry the
// enum's name.
type ScalarType string

const (
	TypeInt      ScalarType = "Int"
	TypeFloat    ScalarType = "Float"
	TypeString   ScalarType = "String"
	TypeBoolean  ScalarType = "Boolean"
	TypeDateTime ScalarType = "DateTime"
	TypeBytes    ScalarType = "Bytes"
	TypeJSON     ScalarType = "Json"
)

// ReferentialAction is what happens to dependent records when the referenced
// record changes or disappears.
type ReferentialAction string

const (
	Cascade    ReferentialAction = "Cascade"
	Restrict   ReferentialAction = "Restrict"
	NoAction   ReferentialAction = "NoAction"
	SetNull    ReferentialAction = "SetNull"
	SetDefault ReferentialAction = "SetDefault"
)

// ParseReferentialAction validates an action name.
func ParseReferentialAction(s string) (ReferentialAction, bool) {
	switch a := ReferentialAction(s); a {
	case Cascade, Restrict, NoAction, SetNull, SetDefault:
		return a, true
	}
	return "", false
}

type ScalarField struct {
	Name       string
	Type       ScalarType
	IsID       bool
	IsUnique   bool
	IsRequired bool
	IsList     bool
}

// CompoundUnique is a multi-column unique criterion. Name is the filter key
// clients use for it, e.g. firstName_lastName.
type CompoundUnique struct {
	Name   string
	Fields []string
}

// RelationField is one side of a relation. The side that declares Fields
// holds the foreign key.
type RelationField struct {
	Name         string
	RelationName string
	RelatedModel string
	IsList       bool
	IsRequired   bool
	Fields       []string
	References   []string
	OnUpdate     ReferentialAction
	OnDelete     ReferentialAction

	model    *Model
	related  *Model
	opposite *RelationField
}

// IsInlined reports whether this side stores the foreign key.
func (rf *RelationField) IsInlined() bool { return len(rf.Fields) > 0 }

// Model is the model declaring the field. Set by Catalog.Link.
func (rf *RelationField) Model() *Model { return rf.model }

// Related is the model the field points at. Set by Catalog.Link.
func (rf *RelationField) Related() *Model { return rf.related }

// Opposite is the back-relation field on the related model. Set by Catalog.Link.
func (rf *RelationField) Opposite() *RelationField { return rf.opposite }

// LinkFields returns the field pairs joining a record of the declaring model
// (parentFields) with its related records (childFields).
func (rf *RelationField) LinkFields() (parentFields, childFields []string) {
	if rf.IsInlined() {
		return rf.Fields, rf.References
	}
	if rf.opposite != nil {
		return rf.opposite.References, rf.opposite.Fields
	}
	return nil, nil
}

// EffectiveOnUpdate applies the default update action.
func (rf *RelationField) EffectiveOnUpdate() ReferentialAction {
	if rf.OnUpdate != "" {
		return rf.OnUpdate
	}
	return Cascade
}

// EffectiveOnDelete applies the default delete action: SetNull for optional
// relations, Restrict for required ones.
func (rf *RelationField) EffectiveOnDelete() ReferentialAction {
	if rf.OnDelete != "" {
		return rf.OnDelete
	}
	if rf.IsRequired {
		return Restrict
	}
	return SetNull
}

type Model struct {
	Name            string
	Fields          []*ScalarField
	Relations       []*RelationField
	PrimaryKey      []string
	CompoundUniques []*CompoundUnique
}

func NewModel(name string) *Model {
	return &Model{Name: name}
}

func (m *Model) AddScalar(f *ScalarField) *Model {
	m.Fields = append(m.Fields, f)
	if f.IsID && len(m.PrimaryKey) == 0 {
		m.PrimaryKey = []string{f.Name}
	}
	return m
}

func (m *Model) AddRelation(rf *RelationField) *Model {
	rf.model = m
	m.Relations = append(m.Relations, rf)
	return m
}

// SetPrimaryKey declares a (possibly compound) primary key.
func (m *Model) SetPrimaryKey(fields ...string) *Model {
	m.PrimaryKey = append([]string(nil), fields...)
	return m
}

// AddCompoundUnique declares a multi-column unique criterion. An empty name
// defaults to the field names joined by underscores.
func (m *Model) AddCompoundUnique(name string, fields ...string) *Model {
	if name == "" {
		name = strings.Join(fields, "_")
	}
	m.CompoundUniques = append(m.CompoundUniques, &CompoundUnique{Name: name, Fields: append([]string(nil), fields...)})
	return m
}

func (m *Model) ScalarField(name string) (*ScalarField, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

func (m *Model) RelationField(name string) (*RelationField, bool) {
	for _, rf := range m.Relations {
		if rf.Name == name {
			return rf, true
		}
	}
	return nil, false
}

// ScalarFieldNames lists scalar field names in declaration order.
func (m *Model) ScalarFieldNames() []string {
	out := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		out[i] = f.Name
	}
	return out
}

// ResolveCompoundField resolves a compound filter key: a compound unique or a
// compound primary key named by its joined fields.
func (m *Model) ResolveCompoundField(name string) (*CompoundUnique, bool) {
	for _, cu := range m.CompoundUniques {
		if cu.Name == name {
			return cu, true
		}
	}
	if len(m.PrimaryKey) > 1 && strings.Join(m.PrimaryKey, "_") == name {
		return &CompoundUnique{Name: name, Fields: m.PrimaryKey}, true
	}
	return nil, false
}

// PrimaryIdentifier returns the fields identifying a record: the primary key
// or, lacking one, the first single-field unique, then the first compound
// unique.
func (m *Model) PrimaryIdentifier() []string {
	if len(m.PrimaryKey) > 0 {
		return m.PrimaryKey
	}
	for _, f := range m.Fields {
		if f.IsUnique {
			return []string{f.Name}
		}
	}
	if len(m.CompoundUniques) > 0 {
		return m.CompoundUniques[0].Fields
	}
	return nil
}

// IsUniqueCriterion reports whether name is a single-field id/unique or a
// compound unique key.
func (m *Model) IsUniqueCriterion(name string) bool {
	if f, ok := m.ScalarField(name); ok {
		return f.IsID || f.IsUnique || (len(m.PrimaryKey) == 1 && m.PrimaryKey[0] == name)
	}
	_, ok := m.ResolveCompoundField(name)
	return ok
}
