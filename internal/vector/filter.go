package vector

import (
	"strings"

	"github.com/dshills/sca/pkg/types"
)

// FilterField is one of the closed set of filterable attributes.
type FilterField string

const (
	FieldRelativePath  FilterField = "relativePath"
	FieldLanguage      FilterField = "language"
	FieldFileExtension FilterField = "fileExtension"
)

// FilterOp is a comparison operator.
type FilterOp string

const (
	OpEq    FilterOp = "=="
	OpNotEq FilterOp = "!="
)

// Filter is a parsed single-comparison filter expression.
type Filter struct {
	Field FilterField
	Op    FilterOp
	Value string
}

// ParseFilter parses the strict filter grammar:
//
//	expr  := field op value
//	field := relativePath | language | fileExtension
//	op    := "==" | "!="   (!= only on relativePath)
//	value := single- or double-quoted string without newlines
//
// Whitespace around tokens is tolerated. An empty expression means no filter
// and returns nil. Everything else fails with vector:invalid_filter_expr.
func ParseFilter(expr string) (*Filter, *types.ErrorEnvelope) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, nil
	}
	if strings.ContainsAny(trimmed, "\n\r") {
		return nil, invalidFilter(expr)
	}

	opIdx, op := findOperator(trimmed)
	if opIdx < 0 {
		return nil, invalidFilter(expr)
	}

	fieldToken := strings.TrimSpace(trimmed[:opIdx])
	valueToken := strings.TrimSpace(trimmed[opIdx+2:])

	var field FilterField
	switch fieldToken {
	case string(FieldRelativePath):
		field = FieldRelativePath
	case string(FieldLanguage):
		field = FieldLanguage
	case string(FieldFileExtension):
		field = FieldFileExtension
	default:
		return nil, invalidFilter(expr)
	}

	if op == OpNotEq && field != FieldRelativePath {
		return nil, invalidFilter(expr)
	}

	value, ok := unquote(valueToken)
	if !ok || value == "" {
		return nil, invalidFilter(expr)
	}

	return &Filter{Field: field, Op: op, Value: value}, nil
}

// Matches evaluates the filter against a document.
func (f *Filter) Matches(doc types.Document) bool {
	if f == nil {
		return true
	}

	var actual string
	switch f.Field {
	case FieldRelativePath:
		actual = doc.RelativePath.String()
	case FieldLanguage:
		actual = doc.Language.String()
	case FieldFileExtension:
		actual = doc.FileExtension
	}

	if f.Op == OpNotEq {
		return actual != f.Value
	}
	return actual == f.Value
}

// findOperator locates the first comparison operator outside of the field
// token. The field token cannot contain '=' or '!', so the first occurrence
// of either operator splits the expression.
func findOperator(expr string) (int, FilterOp) {
	eq := strings.Index(expr, string(OpEq))
	neq := strings.Index(expr, string(OpNotEq))

	switch {
	case eq < 0 && neq < 0:
		return -1, ""
	case neq < 0 || (eq >= 0 && eq < neq):
		return eq, OpEq
	default:
		return neq, OpNotEq
	}
}

func unquote(token string) (string, bool) {
	if len(token) < 2 {
		return "", false
	}
	quote := token[0]
	if quote != '\'' && quote != '"' {
		return "", false
	}
	if token[len(token)-1] != quote {
		return "", false
	}
	inner := token[1 : len(token)-1]
	if strings.ContainsRune(inner, rune(quote)) {
		return "", false
	}
	return inner, true
}

func invalidFilter(expr string) *types.ErrorEnvelope {
	return types.Expected(types.CodeInvalidFilterExpr, "invalid filter expression").
		WithMeta("expr", expr)
}
