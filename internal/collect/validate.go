package collect

import (
	"fmt"
	"regexp"

	"github.com/dohr-michael/skillhub/internal/bundle"
)

// FieldError describes one failed field validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validateGroup checks every answer of one group against its declared
// fields. All-or-nothing: any error means no field of the group is accepted.
func validateGroup(group bundle.ParameterGroup, answers map[string]any) (map[string]any, []FieldError) {
	var errs []FieldError
	accepted := make(map[string]any, len(answers))

	declared := make(map[string]bundle.Field, len(group.Fields))
	for _, f := range group.Fields {
		declared[f.Name] = f
	}

	for name := range answers {
		if _, ok := declared[name]; !ok {
			errs = append(errs, FieldError{Field: name, Message: "not declared in this group"})
		}
	}

	for _, f := range group.Fields {
		value, present := answers[f.Name]
		if !present {
			if f.Default != nil {
				accepted[f.Name] = f.Default
			} else if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: "required field missing"})
			}
			continue
		}
		if msg := checkField(f, value); msg != "" {
			errs = append(errs, FieldError{Field: f.Name, Message: msg})
			continue
		}
		accepted[f.Name] = value
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return accepted, nil
}

// checkField validates one value against its declared type and constraints.
// Returns an empty string when valid.
func checkField(f bundle.Field, value any) string {
	switch f.Type {
	case "", "string":
		s, ok := value.(string)
		if !ok {
			return "expected a string"
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return fmt.Sprintf("invalid declared pattern: %v", err)
			}
			if !re.MatchString(s) {
				return fmt.Sprintf("does not match pattern %q", f.Pattern)
			}
		}
	case "number":
		n, ok := asNumber(value)
		if !ok {
			return "expected a number"
		}
		if msg := checkRange(f, n); msg != "" {
			return msg
		}
	case "integer":
		n, ok := asNumber(value)
		if !ok || n != float64(int64(n)) {
			return "expected an integer"
		}
		if msg := checkRange(f, n); msg != "" {
			return msg
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return "expected a boolean"
		}
	case "array":
		if !isArray(value) {
			return "expected an array"
		}
	case "object":
		if !isObject(value) {
			return "expected an object"
		}
	default:
		return fmt.Sprintf("unknown declared type %q", f.Type)
	}

	if len(f.Choices) > 0 && !inChoices(f.Choices, value) {
		return fmt.Sprintf("not one of the allowed choices %v", f.Choices)
	}
	return ""
}

func checkRange(f bundle.Field, n float64) string {
	if f.Min != nil && n < *f.Min {
		return fmt.Sprintf("below minimum %v", *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Sprintf("above maximum %v", *f.Max)
	}
	return ""
}

// asNumber accepts the numeric shapes produced by JSON and YAML decoding.
func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func isArray(value any) bool {
	switch value.(type) {
	case []any, []string, []float64, []int:
		return true
	default:
		return false
	}
}

func isObject(value any) bool {
	switch value.(type) {
	case map[string]any, map[any]any:
		return true
	default:
		return false
	}
}

func inChoices(choices []any, value any) bool {
	for _, c := range choices {
		if fmt.Sprint(c) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}
