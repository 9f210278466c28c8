package workflow

import "strings"

// ExprKind discriminates value-source expressions in step variable mappings.
type ExprKind int

const (
	// ExprLiteral passes the mapping string through unchanged.
	ExprLiteral ExprKind = iota
	// ExprPrevOutput is the full output of the immediately preceding step.
	ExprPrevOutput
	// ExprStepRef is the full output of an earlier step by id.
	ExprStepRef
	// ExprInputRef is a value from the caller's variables map.
	ExprInputRef
)

// Expr is one parsed value-source expression.
type Expr struct {
	Kind ExprKind
	// Arg holds the step id for ExprStepRef, the input key for ExprInputRef,
	// and the literal text for ExprLiteral.
	Arg string
}

// ParseExpr classifies a mapping value. Anything that is not exactly one of
// the recognized placeholder forms is a literal.
func ParseExpr(s string) Expr {
	switch {
	case s == "{{prev_output}}":
		return Expr{Kind: ExprPrevOutput}
	case strings.HasPrefix(s, "{{step:") && strings.HasSuffix(s, "}}"):
		return Expr{Kind: ExprStepRef, Arg: s[len("{{step:") : len(s)-2]}
	case strings.HasPrefix(s, "{{input:") && strings.HasSuffix(s, "}}"):
		return Expr{Kind: ExprInputRef, Arg: s[len("{{input:") : len(s)-2]}
	default:
		return Expr{Kind: ExprLiteral, Arg: s}
	}
}

// Resolve evaluates the expression against the run state. Unknown step ids
// and input keys resolve to "".
func (e Expr) Resolve(prevOutput string, stepOutputs map[string]string, inputs map[string]string) string {
	switch e.Kind {
	case ExprPrevOutput:
		return prevOutput
	case ExprStepRef:
		return stepOutputs[e.Arg]
	case ExprInputRef:
		return inputs[e.Arg]
	default:
		return e.Arg
	}
}

// ResolveMappings evaluates a step's variable mappings into concrete values.
func ResolveMappings(mappings map[string]string, prevOutput string, stepOutputs, inputs map[string]string) map[string]string {
	resolved := make(map[string]string, len(mappings))
	for name, raw := range mappings {
		resolved[name] = ParseExpr(raw).Resolve(prevOutput, stepOutputs, inputs)
	}
	return resolved
}
