// ABOUTME: Typed accessors over the loosely typed params map of a command
// ABOUTME: JSON numbers arrive as float64, so every numeric read goes through here

package agentd

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Params are the decoded "params" object of a command.
type Params map[string]any

// Require fails on the first key that is missing or empty.
func (p Params) Require(keys ...string) error {
	for _, k := range keys {
		if p.String(k) == "" {
			return fmt.Errorf("missing required param: %s", k)
		}
	}
	return nil
}

// String renders the value at key as a string. Numbers are formatted
// without a trailing fraction; missing keys yield "".
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// StringOr returns the value at key, or def when it is missing or empty.
func (p Params) StringOr(key, def string) string {
	if s := p.String(key); s != "" {
		return s
	}
	return def
}

// Int returns the value at key as an int, or def when it is missing.
func (p Params) Int(key string, def int) (int, error) {
	switch v := p[key].(type) {
	case nil:
		return def, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("param %s: %v is not an integer", key, v)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("param %s: %q is not an integer", key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("param %s: unexpected type %T", key, v)
	}
}

// Strings returns the list at key. A single string is treated as a one-element list.
func (p Params) Strings(key string) ([]string, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("param %s[%d]: expected string, got %T", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("param %s: expected a list, got %T", key, v)
	}
}

// Decode copies the params into v through their JSON form.
func (p Params) Decode(v any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}
