// Package qerr classifies errors raised while compiling and executing query
// documents. User-facing errors describe a problem with the request and are
// returned to the client; invariant violations describe a broken internal
// contract and indicate a defect.
package qerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	// KindInput is a malformed request: wrong argument shape, unknown field,
	// unsupported filter or nested operation.
	KindInput Kind = iota
	// KindRecordNotFound means a required record was not found.
	KindRecordNotFound
	// KindConstraint means an emulated referential action rejected a write.
	KindConstraint
	// KindInvariant means an internal contract was violated.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindRecordNotFound:
		return "record_not_found"
	case KindConstraint:
		return "constraint"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Code is the stable identifier exposed to clients.
func (k Kind) Code() string {
	switch k {
	case KindInput:
		return "InputError"
	case KindRecordNotFound:
		return "RecordNotFound"
	case KindConstraint:
		return "ConstraintViolation"
	default:
		return "InternalError"
	}
}

// Error is a classified error naming the model, relation and field involved
// where known.
type Error struct {
	Kind     Kind
	Model    string
	Relation string
	Field    string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	var ctx []string
	if e.Model != "" {
		ctx = append(ctx, "model="+e.Model)
	}
	if e.Relation != "" {
		ctx = append(ctx, "relation="+e.Relation)
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if len(ctx) > 0 {
		b.WriteString(" (" + strings.Join(ctx, ", ") + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Input reports a malformed request.
func Input(format string, args ...any) *Error {
	return &Error{Kind: KindInput, Message: fmt.Sprintf(format, args...)}
}

// Invariant reports a broken internal contract.
func Invariant(format string, args ...any) *Error {
	return &Error{Kind: KindInvariant, Message: fmt.Sprintf(format, args...)}
}

// RecordNotFound reports a missing record for a nested write on relation.
func RecordNotFound(model, relation, message string) *Error {
	return &Error{Kind: KindRecordNotFound, Model: model, Relation: relation, Message: message}
}

// Constraint reports an emulated referential action violation.
func Constraint(model, relation, message string) *Error {
	return &Error{Kind: KindConstraint, Model: model, Relation: relation, Message: message}
}

// OnModel sets the model context and returns e.
func (e *Error) OnModel(model string) *Error { e.Model = model; return e }

// OnRelation sets the relation context and returns e.
func (e *Error) OnRelation(relation string) *Error { e.Relation = relation; return e }

// OnField sets the field context and returns e.
func (e *Error) OnField(field string) *Error { e.Field = field; return e }

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors count as invariant violations.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindInvariant
}

// IsUserFacing reports whether err describes a problem with the request.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindInvariant
}

// IsInvariant reports whether err is a defect-class failure.
func IsInvariant(err error) bool {
	return err != nil && KindOf(err) == KindInvariant
}
