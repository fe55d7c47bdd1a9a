// Package template implements the safe interpolation engine used to render
// email subjects and bodies: {{path}} interpolation, {{#if}}/{{#each}}
// blocks, a small helper set, and date/number formatters. It is a pure
// function over a template string and a context value — no I/O.
package template

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

// MaxTemplateSize is the default cap on template source size (1 MiB).
const MaxTemplateSize = 1 << 20

// Options configures rendering behavior.
type Options struct {
	AllowUnsafeHTML bool
	MaxTemplateSize int
}

var blockPattern = regexp.MustCompile(`(?s)\{\{#(if|each)\s+([^\}]+)\}\}(.*?)\{\{/(if|each)\}\}`)
var exprPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Render processes a template string against a context map. Recognized
// constructs: {{path.with.dots}}, {{#if cond}}…{{/if}}, {{#each arr}}…{{/each}}
// (with {{this}} and {{@index}} inside), {{helperName path}}, and the date/
// number formatting helpers.
func Render(tpl string, ctx map[string]any, opts Options) (string, error) {
	maxSize := opts.MaxTemplateSize
	if maxSize == 0 {
		maxSize = MaxTemplateSize
	}
	if len(tpl) > maxSize {
		return "", fmt.Errorf("template: source exceeds max size of %d bytes", maxSize)
	}

	rendered, err := renderBlocks(tpl, ctx, opts)
	if err != nil {
		return "", err
	}
	return rendered, nil
}

func renderBlocks(tpl string, ctx map[string]any, opts Options) (string, error) {
	var outerErr error
	result := blockPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		groups := blockPattern.FindStringSubmatch(match)
		kind, arg, body := groups[1], strings.TrimSpace(groups[2]), groups[3]

		switch kind {
		case "if":
			if truthy(lookup(ctx, arg)) {
				rendered, err := renderBlocks(body, ctx, opts)
				if err != nil {
					outerErr = err
					return ""
				}
				return rendered
			}
			return ""
		case "each":
			items, ok := lookup(ctx, arg).([]any)
			if !ok {
				return ""
			}
			var sb strings.Builder
			for i, item := range items {
				itemCtx := map[string]any{}
				for k, v := range ctx {
					itemCtx[k] = v
				}
				itemCtx["this"] = item
				itemCtx["@index"] = i
				if m, ok := item.(map[string]any); ok {
					for k, v := range m {
						itemCtx[k] = v
					}
				}
				rendered, err := renderBlocks(body, itemCtx, opts)
				if err != nil {
					outerErr = err
					return ""
				}
				sb.WriteString(rendered)
			}
			return sb.String()
		}
		return ""
	})
	if outerErr != nil {
		return "", outerErr
	}

	return renderExpressions(result, ctx, opts), nil
}

func renderExpressions(tpl string, ctx map[string]any, opts Options) string {
	return exprPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		inner := strings.TrimSpace(exprPattern.FindStringSubmatch(match)[1])
		value := evalExpression(inner, ctx)
		text := stringify(value)
		if !opts.AllowUnsafeHTML {
			text = html.EscapeString(text)
		}
		return text
	})
}

func evalExpression(expr string, ctx map[string]any) any {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return ""
	}

	if len(fields) == 1 {
		return lookup(ctx, fields[0])
	}

	helperName := fields[0]
	switch helperName {
	case "date":
		return formatDate(lookup(ctx, fields[1]), unquote(strings.Join(fields[2:], " ")))
	case "number":
		return formatNumber(lookup(ctx, fields[1]), unquote(strings.Join(fields[2:], " ")))
	default:
		return applyHelper(helperName, lookup(ctx, fields[1]))
	}
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

// lookup resolves a dotted path ("a.b.c") against a nested context map.
func lookup(ctx map[string]any, path string) any {
	if path == "this" || path == "@index" {
		return ctx[path]
	}
	parts := strings.Split(path, ".")
	var current any = ctx
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func applyHelper(name string, v any) string {
	s := stringify(v)
	switch name {
	case "upper":
		return strings.ToUpper(s)
	case "lower":
		return strings.ToLower(s)
	case "capitalize":
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	case "json":
		return jsonify(v)
	default:
		return s
	}
}

func jsonify(v any) string {
	b, err := marshalCompact(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// formatNumber renders a numeric value as "currency", "percent", or "decimal".
func formatNumber(v any, kind string) string {
	f, ok := toFloat(v)
	if !ok {
		return stringify(v)
	}
	switch kind {
	case "currency":
		return "$" + strconv.FormatFloat(f, 'f', 2, 64)
	case "percent":
		return strconv.FormatFloat(f*100, 'f', 1, 64) + "%"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
