package escalation

import "strings"

// ParseDryRun normalizes a loosely-typed dry-run flag. "true", "1" and "yes"
// (case-insensitive, as strings or native JSON values) mean true; everything
// else, including absence, means false. Total: never errors.
func ParseDryRun(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		}
	case float64:
		// JSON numbers decode as float64.
		return v == 1
	case int:
		return v == 1
	}
	return false
}
