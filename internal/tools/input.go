package tools

import "fmt"

// Input validation helpers. Tool inputs arrive as untyped JSON objects; these
// coerce the shapes tools care about and produce uniform error text.

func stringArg(input map[string]interface{}, key string) (string, bool) {
	v, ok := input[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolArg(input map[string]interface{}, key string) bool {
	v, _ := input[key].(bool)
	return v
}

// intArg accepts float64 (JSON numbers) and int.
func intArg(input map[string]interface{}, key string) (int, bool) {
	switch v := input[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// stringMapArg requires a string-to-string object when present.
func stringMapArg(input map[string]interface{}, key string) (map[string]string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%q must be an object of strings", key)
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("%q must be an object of strings", key)
		}
		out[k] = s
	}
	return out, nil
}

// objectSchema builds the JSON-schema-like input description used by tool
// listings.
func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]interface{}, 0, len(required))
		for _, r := range required {
			req = append(req, r)
		}
		schema["required"] = req
	}
	return schema
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}
