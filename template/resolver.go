// Package template substitutes {{name}} placeholders in prompt templates.
//
// Names in the resolver's reserved set ({{context}} and retrieval aliases)
// are left literal so the retrieval layer can substitute them later — unless
// a value for that name is explicitly present, which lets a workflow step
// override a retrieval slot.
package template

import "regexp"

var variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ContextVariable is the catch-all placeholder reserved for retrieval.
const ContextVariable = "context"

// Resolver substitutes placeholders against a variable map.
type Resolver struct {
	reserved map[string]struct{}
}

// NewResolver creates a resolver. The context variable is always reserved;
// additional names (retrieval source aliases) may be passed in.
func NewResolver(reserved ...string) *Resolver {
	r := &Resolver{reserved: map[string]struct{}{ContextVariable: {}}}
	for _, name := range reserved {
		if name != "" {
			r.reserved[name] = struct{}{}
		}
	}
	return r
}

// Resolve replaces each {{name}} with its value from vars. Reserved names
// without an explicit value stay literal; unknown names resolve to the empty
// string. Resolution is idempotent for variable maps free of reserved names.
func (r *Resolver) Resolve(tmpl string, vars map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[2 : len(match)-2]
		if _, reserved := r.reserved[name]; reserved {
			if val, ok := vars[name]; ok {
				return val
			}
			return match
		}
		return vars[name]
	})
}
