package catalog

import (
	"sort"

	language "github.com/hanpama/querygraph/internal/language"
)

var builtinScalars = map[string]ScalarType{
	"Int":      TypeInt,
	"Float":    TypeFloat,
	"String":   TypeString,
	"ID":       TypeString,
	"Boolean":  TypeBoolean,
	"DateTime": TypeDateTime,
	"Bytes":    TypeBytes,
	"Json":     TypeJSON,
}

// LoadSDL builds a linked catalog from a GraphQL SDL datamodel. Every object
// type is a model; object-typed fields are relations.
//
//	type User @unique(fields: ["firstName", "lastName"]) {
//	  id: Int! @id
//	  email: String! @unique
//	  posts: [Post!]!
//	}
//	type Post {
//	  id: Int! @id
//	  authorId: Int
//	  author: User @relation(fields: ["authorId"], references: ["id"], onUpdate: Cascade)
//	}
func LoadSDL(name, source string) (*Catalog, error) {
	doc, err := language.ParseSchema(name, source)
	if err != nil {
		return nil, err
	}
	l := &sdlLoader{
		catalog: NewCatalog(),
		objects: map[string]bool{},
		enums:   map[string]bool{},
	}
	for _, def := range doc.Definitions {
		switch def.Kind {
		case language.Object:
			l.objects[def.Name] = true
		case language.Enum:
			l.enums[def.Name] = true
			values := make([]string, 0, len(def.EnumValues))
			for _, ev := range def.EnumValues {
				values = append(values, ev.Name)
			}
			l.catalog.AddEnum(def.Name, values...)
		}
	}
	for _, def := range doc.Definitions {
		if def.Kind == language.Object {
			l.catalog.AddModel(l.buildModel(def))
		}
	}
	if len(l.violations) > 0 {
		return nil, ValidationError(l.violations)
	}
	if err := l.catalog.Link(); err != nil {
		return nil, err
	}
	return l.catalog, nil
}

type sdlLoader struct {
	catalog    *Catalog
	objects    map[string]bool
	enums      map[string]bool
	violations []*Violation
}

func (l *sdlLoader) addViolation(v *Violation) {
	l.violations = append(l.violations, v)
}

func (l *sdlLoader) buildModel(def *language.Definition) *Model {
	m := NewModel(def.Name)
	for _, fd := range def.Fields {
		named, isList, nonNull := unwrapType(fd.Type)
		switch {
		case builtinScalars[named] != "" || l.enums[named]:
			st := builtinScalars[named]
			if st == "" {
				st = ScalarType(named)
			}
			f := &ScalarField{Name: fd.Name, Type: st, IsRequired: nonNull, IsList: isList}
			for _, dir := range fd.Directives {
				switch dir.Name {
				case "id":
					f.IsID = true
				case "unique":
					f.IsUnique = true
				default:
					l.addViolation(violationUnknownDirective(dir.Name, "field "+def.Name+"."+fd.Name, dir.Position))
				}
			}
			m.AddScalar(f)
		case l.objects[named]:
			rf := &RelationField{
				Name:         fd.Name,
				RelatedModel: named,
				IsList:       isList,
				IsRequired:   nonNull && !isList,
				RelationName: defaultRelationName(def.Name, named),
			}
			for _, dir := range fd.Directives {
				if dir.Name != "relation" {
					l.addViolation(violationUnknownDirective(dir.Name, "relation field "+def.Name+"."+fd.Name, dir.Position))
					continue
				}
				l.applyRelationDirective(rf, dir)
			}
			m.AddRelation(rf)
		default:
			l.addViolation(violationUnknownType(named, fd.Name, def.Name, fd.Position))
		}
	}
	for _, dir := range def.Directives {
		switch dir.Name {
		case "id":
			arg := dir.Arguments.ForName("fields")
			if arg == nil {
				l.addViolation(violationMissingArgument("id", "fields", dir.Position))
				continue
			}
			m.SetPrimaryKey(l.getStringListValue(arg.Value)...)
		case "unique":
			var name string
			var fields []string
			for _, arg := range dir.Arguments {
				switch arg.Name {
				case "fields":
					fields = l.getStringListValue(arg.Value)
				case "name":
					name = l.getStringValue(arg.Value)
				default:
					l.addViolation(violationUnknownDirectiveArgument("unique", arg.Name, arg.Position))
				}
			}
			if len(fields) == 0 {
				l.addViolation(violationMissingArgument("unique", "fields", dir.Position))
				continue
			}
			m.AddCompoundUnique(name, fields...)
		default:
			l.addViolation(violationUnknownDirective(dir.Name, "model "+def.Name, dir.Position))
		}
	}
	return m
}

func (l *sdlLoader) applyRelationDirective(rf *RelationField, dir *language.Directive) {
	for _, arg := range dir.Arguments {
		switch arg.Name {
		case "name":
			rf.RelationName = l.getStringValue(arg.Value)
		case "fields":
			rf.Fields = l.getStringListValue(arg.Value)
		case "references":
			rf.References = l.getStringListValue(arg.Value)
		case "onUpdate", "onDelete":
			raw := arg.Value.Raw
			action, ok := ParseReferentialAction(raw)
			if !ok {
				l.addViolation(violationInvalidReferentialAction(raw, arg.Position))
				continue
			}
			if arg.Name == "onUpdate" {
				rf.OnUpdate = action
			} else {
				rf.OnDelete = action
			}
		default:
			l.addViolation(violationUnknownDirectiveArgument("relation", arg.Name, arg.Position))
		}
	}
}

func (l *sdlLoader) getStringValue(node *language.Value) string {
	if node.Kind != language.StringValue {
		l.addViolation(violationExpectedString(node.Position))
		return ""
	}
	return node.Raw
}

func (l *sdlLoader) getStringListValue(node *language.Value) []string {
	if node.Kind != language.ListValue {
		l.addViolation(violationExpectedList(node.Position))
		return nil
	}
	var values []string
	for _, item := range node.Children {
		values = append(values, l.getStringValue(item.Value))
	}
	return values
}

func unwrapType(t *language.Type) (named string, isList, nonNull bool) {
	nonNull = t.NonNull
	for t.Elem != nil {
		isList = true
		t = t.Elem
	}
	return t.NamedType, isList, nonNull
}

// defaultRelationName names an unnamed relation after its two models in
// lexical order, e.g. PostToUser.
func defaultRelationName(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return names[0] + "To" + names[1]
}
