package catalog

import (
	"fmt"

	language "github.com/hanpama/querygraph/internal/language"
)

type Violation struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

type ValidationError []*Violation

func (e ValidationError) Error() string {
	msg := "violations found:\n"
	for _, v := range e {
		line := "- " + v.Message
		if v.File != "" {
			line += fmt.Sprintf(" %s:%d:%d", v.File, v.Line, v.Column)
		}
		msg += line + "\n"
	}
	return msg
}

func violationWithPosition(message string, pos *language.Position) *Violation {
	v := &Violation{Message: message}
	if pos != nil {
		v.Line = pos.Line
		v.Column = pos.Column
		if pos.Src != nil {
			v.File = pos.Src.Name
		}
	}
	return v
}

// NOTE: Keep messages stable; tests match on them.

func violationExpectedString(pos *language.Position) *Violation {
	return violationWithPosition("Expected a string value", pos)
}

func violationExpectedList(pos *language.Position) *Violation {
	return violationWithPosition("Expected a list value", pos)
}

func violationUnknownDirective(directive, where string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Unknown directive @%s on %s", directive, where), pos)
}

func violationUnknownDirectiveArgument(directive, arg string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Unknown argument '%s' in @%s directive", arg, directive), pos)
}

func violationUnknownType(typeName, fieldName, modelName string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Type %q of field %s.%s is neither a scalar, an enum nor a model", typeName, modelName, fieldName), pos)
}

func violationInvalidReferentialAction(action string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Invalid referential action %q", action), pos)
}

func violationMissingArgument(directive, arg string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Missing required argument '%s' in @%s directive", arg, directive), pos)
}
