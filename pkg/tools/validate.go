package tools

import "encoding/json"

// ValidateToolEntry checks a raw advertised tool entry against the fixed
// shape the protocol requires: name, description, and a parameters array
// whose entries each carry name, description, and type strings (required,
// when present, must be a boolean).
func ValidateToolEntry(entry json.RawMessage) bool {
	var obj map[string]any
	if err := json.Unmarshal(entry, &obj); err != nil {
		return false
	}

	if !isString(obj["name"]) || !isString(obj["description"]) {
		return false
	}

	params, ok := obj["parameters"].([]any)
	if !ok {
		return false
	}
	for _, p := range params {
		pm, ok := p.(map[string]any)
		if !ok {
			return false
		}
		if !isString(pm["name"]) || !isString(pm["description"]) || !isString(pm["type"]) {
			return false
		}
		if req, present := pm["required"]; present {
			if _, ok := req.(bool); !ok {
				return false
			}
		}
	}
	return true
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}
