// Package template implements the engine's prompt-body template grammar:
// {{path}} substitution, {{#each}}/{{#if}} blocks, and a non-recursive
// escape rule that makes repeated rendering passes safe against injection
// via templated data.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrelflow/workflow-engine/pkg/expr"
)

// Resolver looks up a dot-notated path against a view of template
// variables. Implementations never panic; an unresolved path returns
// (nil, false).
type Resolver interface {
	Resolve(path string) (any, bool)
}

// MapResolver adapts a plain map (as returned by Context.GetTemplateVars)
// into a Resolver, supporting dot-notation and numeric array indices.
type MapResolver map[string]any

func (m MapResolver) Resolve(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var cur any = map[string]any(m)
	for _, seg := range segments {
		if cur == nil {
			return nil, false
		}
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Render expands the template grammar against vars, applying the
// non-recursive escape rule: any "{{" produced by a substituted value is
// rewritten to "\{\{" so a later rendering pass cannot re-expand it.
func Render(body string, vars map[string]any) (string, error) {
	r := MapResolver(vars)
	out, err := renderBlocks(body, r, nil)
	if err != nil {
		return "", err
	}
	return out, nil
}

// loopFrame carries the "this"/"@index" bindings visible inside an #each
// body, layered over the outer resolver.
type loopFrame struct {
	outer Resolver
	this  any
	index int
}

func (f *loopFrame) Resolve(path string) (any, bool) {
	if path == "this" {
		return f.this, true
	}
	if strings.HasPrefix(path, "this.") {
		return resolveAgainst(f.this, strings.TrimPrefix(path, "this."))
	}
	if path == "@index" {
		return f.index, true
	}
	return f.outer.Resolve(path)
}

func resolveAgainst(v any, path string) (any, bool) {
	return MapResolver(map[string]any{"v": v}).Resolve("v." + path)
}

// renderBlocks handles #each/#if blocks first (they may nest and contain
// raw {{path}} substitutions inside), then substitutes remaining bare
// {{path}} expressions in one final pass.
func renderBlocks(body string, r Resolver, _ *loopFrame) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(body) {
		start := strings.Index(body[i:], "{{#")
		if start < 0 {
			rendered, err := substitute(body[i:], r)
			if err != nil {
				return "", err
			}
			b.WriteString(rendered)
			break
		}
		start += i
		rendered, err := substitute(body[i:start], r)
		if err != nil {
			return "", err
		}
		b.WriteString(rendered)

		tagEnd := strings.Index(body[start:], "}}")
		if tagEnd < 0 {
			return "", fmt.Errorf("template: unterminated block tag at offset %d", start)
		}
		tagEnd += start
		tag := strings.TrimSpace(body[start+3 : tagEnd])

		var kind, expr string
		if sp := strings.IndexAny(tag, " \t"); sp >= 0 {
			kind, expr = tag[:sp], strings.TrimSpace(tag[sp+1:])
		} else {
			kind = tag
		}

		closeTag := "{{/" + kind + "}}"
		closeIdx := findMatchingClose(body, tagEnd+2, "{{#"+kind, closeTag)
		if closeIdx < 0 {
			return "", fmt.Errorf("template: unterminated {{#%s}} block", kind)
		}
		inner := body[tagEnd+2 : closeIdx]
		blockOut, err := renderBlock(kind, expr, inner, r)
		if err != nil {
			return "", err
		}
		b.WriteString(blockOut)

		i = closeIdx + len(closeTag)
	}
	return b.String(), nil
}

// findMatchingClose scans forward from pos accounting for nested blocks of
// the same kind so that an inner {{#if}}…{{/if}} doesn't prematurely close
// an outer one.
func findMatchingClose(body string, pos int, openPrefix, closeTag string) int {
	depth := 1
	i := pos
	for {
		nextOpen := strings.Index(body[i:], openPrefix)
		nextClose := strings.Index(body[i:], closeTag)
		if nextClose < 0 {
			return -1
		}
		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i += nextOpen + len(openPrefix)
			continue
		}
		depth--
		closeAt := i + nextClose
		if depth == 0 {
			return closeAt
		}
		i = closeAt + len(closeTag)
	}
}

func renderBlock(kind, expr, inner string, r Resolver) (string, error) {
	switch kind {
	case "each":
		val, ok := r.Resolve(expr)
		if !ok {
			return "", nil
		}
		items, ok := val.([]any)
		if !ok {
			return "", nil
		}
		var b strings.Builder
		for idx, item := range items {
			frame := &loopFrame{outer: r, this: item, index: idx}
			out, err := renderBlocks(inner, frame, frame)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
		}
		return b.String(), nil
	case "if":
		ok, err := Truthy(expr, r)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		return renderBlocks(inner, r, nil)
	default:
		return "", fmt.Errorf("template: unknown block type %q", kind)
	}
}

// Truthy evaluates expr (the same boolean condition grammar used by loop
// conditions) against r, delegating to pkg/expr so that {{#if}} and loop
// conditions share one evaluator.
func Truthy(expression string, r Resolver) (bool, error) {
	return expr.Evaluate(expression, r)
}

// substitute performs the final bare {{path}} pass over a block that
// contains no nested #each/#if tags. It escapes any literal "{{" that a
// substituted value introduces so a later render pass cannot expand it.
func substitute(s string, r Resolver) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "{{")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			b.WriteString(s[start:])
			break
		}
		end += start
		path := strings.TrimSpace(s[start+2 : end])
		rendered, err := renderValue(path, r)
		if err != nil {
			return "", err
		}
		b.WriteString(escapeBraces(rendered))
		i = end + 2
	}
	return b.String(), nil
}

func renderValue(path string, r Resolver) (string, error) {
	v, ok := r.Resolve(path)
	if !ok || v == nil {
		return "", nil
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("template: marshal %q: %w", path, err)
		}
		return string(b), nil
	}
}

// escapeBraces rewrites "{{" to "\{\{" so the sequence cannot be expanded
// by a subsequent render pass. This is the engine's only defense against
// template injection via substituted data and must never be skipped.
func escapeBraces(s string) string {
	return strings.ReplaceAll(s, "{{", `\{\{`)
}
