package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveSubstitutesVariables(t *testing.T) {
	r := NewResolver()
	out := r.Resolve("Hello {{name}}, topic: {{topic}}", map[string]string{
		"name":  "Ada",
		"topic": "VPN",
	})
	assert.Equal(t, "Hello Ada, topic: VPN", out)
}

func TestResolveUnknownVariableBecomesEmpty(t *testing.T) {
	r := NewResolver()
	out := r.Resolve("before {{missing}} after", map[string]string{})
	assert.Equal(t, "before  after", out)
}

func TestResolveKeepsReservedContextLiteral(t *testing.T) {
	r := NewResolver()
	out := r.Resolve("Q: {{question}}\n\n{{context}}", map[string]string{"question": "hi"})
	assert.Equal(t, "Q: hi\n\n{{context}}", out)
}

func TestResolveReservedWithExplicitValue(t *testing.T) {
	r := NewResolver("kb_docs")
	out := r.Resolve("{{kb_docs}} | {{context}}", map[string]string{"kb_docs": "filled"})
	assert.Equal(t, "filled | {{context}}", out)
}

func TestResolveIdempotent(t *testing.T) {
	r := NewResolver("kb_docs")
	vars := map[string]string{"name": "Ada", "topic": "VPN"}

	// One pass is a fixed point when values carry no placeholders of their
	// own, reserved slots included.
	for _, tmpl := range []string{
		"Hello {{name}}, topic: {{topic}}",
		"{{name}} {{missing}} end",
		"Q: {{topic}}\n\n{{context}}\n{{kb_docs}}",
	} {
		once := r.Resolve(tmpl, vars)
		assert.Equal(t, once, r.Resolve(once, vars))
	}
}

func TestResolveExtraReservedNames(t *testing.T) {
	r := NewResolver("itsm_knowledge_base")
	out := r.Resolve("{{itsm_knowledge_base}}", map[string]string{})
	assert.Equal(t, "{{itsm_knowledge_base}}", out)
}
