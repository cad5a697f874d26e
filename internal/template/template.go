// Package template renders rule title/body templates by substituting
// {{key}} placeholders with context values.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Render replaces every {{key}} occurrence in tpl with the corresponding
// context value coerced to text. A nil value substitutes as an empty
// string; placeholders with no matching key are left verbatim.
func Render(tpl string, context map[string]interface{}) string {
	if tpl == "" || len(context) == 0 {
		return tpl
	}

	out := tpl
	for key, value := range context {
		placeholder := "{{" + key + "}}"
		out = strings.ReplaceAll(out, placeholder, coerce(value))
	}
	return out
}

// coerce converts a decoded JSON value to its textual form.
func coerce(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing fraction.
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case map[string]interface{}, []interface{}:
		// Nested structures render as compact JSON.
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
