// Package resolver turns a descriptor node plus a binding context into the
// concrete strings a renderer displays. Resolution never errors: unknown
// binding keys and unset template variables resolve to "" by policy.
package resolver

import (
	"regexp"

	"github.com/jbriggs-source/PestGenie-sub001/internal/descriptor"
	"github.com/jbriggs-source/PestGenie-sub001/internal/store"
)

// Entity is the closed field-lookup surface the domain layer supplies; the
// job entity implements it. The second return reports whether the key is one
// of the known binding keys.
type Entity interface {
	BindingValue(key string) (string, bool)
}

// TextStore is the slice of the input value store resolution reads. Template
// variables resolve against the text mapping in global scope; condition keys
// read the toggle mapping.
type TextStore interface {
	Text(key store.CompositeKey) string
	Toggle(key store.CompositeKey) bool
}

// Context carries the data a resolution pass binds against. Entity may be
// nil (no entity in scope); EntityID scopes condition lookups and is ""
// for global scope.
type Context struct {
	Entity   Entity
	EntityID string
	Store    TextStore
}

// templateVar matches one {{variable}} token, non-greedy, no nesting.
var templateVar = regexp.MustCompile(`\{\{(.*?)\}\}`)

// ResolveText produces the display text for a node: entity binding first
// when a bindingKey names an entity field, then template substitution over
// the static text, then "".
func ResolveText(d *descriptor.ComponentDescriptor, ctx Context) string {
	if d.BindingKey != "" && ctx.Entity != nil {
		v, _ := ctx.Entity.BindingValue(d.BindingKey)
		return v
	}
	if d.Text != "" {
		return Substitute(d.Text, ctx)
	}
	return ""
}

// ResolveLabel behaves like ResolveText but falls back to the static label.
func ResolveLabel(d *descriptor.ComponentDescriptor, ctx Context) string {
	if d.BindingKey != "" && ctx.Entity != nil {
		v, _ := ctx.Entity.BindingValue(d.BindingKey)
		return v
	}
	if d.Label != "" {
		return Substitute(d.Label, ctx)
	}
	return ""
}

// Substitute replaces every {{variable}} token with the store's global text
// value for that variable, or "" when unset. Matches are replaced
// right-to-left so earlier match positions stay valid; substitution is a
// single pass and substituted values are not re-scanned.
func Substitute(text string, ctx Context) string {
	matches := templateVar.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	out := text
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		variable := text[m[2]:m[3]]
		value := ""
		if ctx.Store != nil {
			value = ctx.Store.Text(store.Key(variable, ""))
		}
		out = out[:m[0]] + value + out[m[1]:]
	}
	return out
}

// ResolveCondition reports whether a node's children should render: true
// when no conditionKey is set, otherwise the toggle value under the
// context's entity scope.
func ResolveCondition(d *descriptor.ComponentDescriptor, ctx Context) bool {
	if d.ConditionKey == "" {
		return true
	}
	if ctx.Store == nil {
		return false
	}
	return ctx.Store.Toggle(store.Key(d.ConditionKey, ctx.EntityID))
}
