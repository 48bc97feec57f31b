// Package template renders text/template expressions over step input data.
// Step executors use it to build URLs, bodies and messages from the outputs
// of upstream steps.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"json": func(v any) (string, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}

		return string(raw), nil
	},
}

// RenderString evaluates the expression against data and returns the raw
// rendered text.
func RenderString(expr string, data map[string]any) (string, error) {
	tmpl, err := template.New("step").Funcs(funcs).Option("missingkey=error").Parse(expr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", expr, err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", expr, err)
	}

	return buf.String(), nil
}

// Render evaluates the expression and coerces the rendered text: JSON objects
// and arrays decode into maps and slices, numbers and booleans into their Go
// types, everything else stays a string.
func Render(expr string, data map[string]any) (any, error) {
	rendered, err := RenderString(expr, data)
	if err != nil {
		return nil, err
	}

	return coerce(strings.TrimSpace(rendered)), nil
}

// RenderMap renders every value of the map, leaving keys untouched. Used for
// header sets.
func RenderMap(values map[string]string, data map[string]any) (map[string]string, error) {
	rendered := make(map[string]string, len(values))

	for key, value := range values {
		out, err := RenderString(value, data)
		if err != nil {
			return nil, err
		}

		rendered[key] = out
	}

	return rendered, nil
}

func coerce(rendered string) any {
	if looksLikeJSON(rendered) {
		var decoded any
		if err := json.Unmarshal([]byte(rendered), &decoded); err == nil {
			return decoded
		}
	}

	if num, err := strconv.ParseFloat(rendered, 64); err == nil {
		return num
	}

	if b, err := strconv.ParseBool(rendered); err == nil {
		return b
	}

	return rendered
}

func looksLikeJSON(s string) bool {
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}
