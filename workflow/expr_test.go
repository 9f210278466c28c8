package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseExpr(t *testing.T) {
	assert.Equal(t, Expr{Kind: ExprPrevOutput}, ParseExpr("{{prev_output}}"))
	assert.Equal(t, Expr{Kind: ExprStepRef, Arg: "draft"}, ParseExpr("{{step:draft}}"))
	assert.Equal(t, Expr{Kind: ExprInputRef, Arg: "topic"}, ParseExpr("{{input:topic}}"))
	assert.Equal(t, Expr{Kind: ExprLiteral, Arg: "plain text"}, ParseExpr("plain text"))

	// Placeholder-ish strings that are not the exact forms stay literal.
	assert.Equal(t, ExprLiteral, ParseExpr("{{prev_output}} extra").Kind)
	assert.Equal(t, ExprLiteral, ParseExpr("{{steps:x}}").Kind)
	assert.Equal(t, ExprLiteral, ParseExpr("").Kind)
}

func TestExprResolve(t *testing.T) {
	stepOutputs := map[string]string{"draft": "draft text"}
	inputs := map[string]string{"topic": "vpn"}

	assert.Equal(t, "previous", Expr{Kind: ExprPrevOutput}.Resolve("previous", stepOutputs, inputs))
	assert.Equal(t, "draft text", Expr{Kind: ExprStepRef, Arg: "draft"}.Resolve("", stepOutputs, inputs))
	assert.Equal(t, "vpn", Expr{Kind: ExprInputRef, Arg: "topic"}.Resolve("", stepOutputs, inputs))
	assert.Equal(t, "as-is", Expr{Kind: ExprLiteral, Arg: "as-is"}.Resolve("", stepOutputs, inputs))

	// Unknown references resolve empty rather than erroring.
	assert.Equal(t, "", Expr{Kind: ExprStepRef, Arg: "missing"}.Resolve("", stepOutputs, inputs))
	assert.Equal(t, "", Expr{Kind: ExprInputRef, Arg: "missing"}.Resolve("", stepOutputs, inputs))
}

func TestResolveMappings(t *testing.T) {
	mappings := map[string]string{
		"text":     "{{prev_output}}",
		"style":    "formal",
		"original": "{{step:s1}}",
		"audience": "{{input:audience}}",
	}
	got := ResolveMappings(mappings, "prev", map[string]string{"s1": "first"}, map[string]string{"audience": "ops"})
	assert.Equal(t, map[string]string{
		"text":     "prev",
		"style":    "formal",
		"original": "first",
		"audience": "ops",
	}, got)
}
