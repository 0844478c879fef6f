package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/ggonzalez94/xbridge/internal/config"
	"github.com/ggonzalez94/xbridge/internal/model"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	return render(w, env, settings, "  ")
}

// RenderLine writes env on a single line so repeated envelopes form an
// NDJSON stream.
func RenderLine(w io.Writer, env model.Envelope, settings config.Settings) error {
	return render(w, env, settings, "")
}

func render(w io.Writer, env model.Envelope, settings config.Settings, indent string) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.OutputMode == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", indent)
		if settings.ResultsOnly {
			return enc.Encode(data)
		}
		env.Data = data
		return enc.Encode(env)
	}

	if settings.ResultsOnly {
		return renderPlain(w, data)
	}
	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for i := range v.Len() {
			line, err := toLine(normalizeValue(v.Index(i).Interface()))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, projectMap(m, fields))
			}
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

// projectMap keeps the listed fields. A dotted field such as
// "active.quote.provider" selects a nested value and is keyed by the full
// path in the result.
func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(m, strings.Split(f, ".")); ok {
			out[f] = v
		}
	}
	return out
}

func lookup(m map[string]any, path []string) (any, bool) {
	v, ok := m[path[0]]
	if !ok || len(path) == 1 {
		return v, ok
	}
	child, isMap := v.(map[string]any)
	if !isMap {
		return nil, false
	}
	return lookup(child, path[1:])
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	t, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch val := t[k].(type) {
		case map[string]any, []any:
			buf, _ := json.Marshal(val)
			parts = append(parts, fmt.Sprintf("%s=%s", k, buf))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, val))
		}
	}
	return strings.Join(parts, " "), nil
}
