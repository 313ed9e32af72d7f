package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"entityflow/internal/schema"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ToInt converts form and JSON values to an integer.
func ToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// ToFloat converts form and JSON values to a float.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToBool accepts booleans, 0/1 and the usual form spellings.
func ToBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "on", "yes":
			return true, true
		case "0", "false", "off", "no":
			return false, true
		}
		return false, false
	default:
		if i, ok := ToInt(v); ok && (i == 0 || i == 1) {
			return i == 1, true
		}
		return false, false
	}
}

// ParseTime accepts time.Time values and the common date/time layouts.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// Coerce converts an already validated raw value to the Go type the column
// stores. Values that do not convert are returned unchanged.
func Coerce(col schema.ColumnDescriptor, v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s == "" && col.Nullable {
		return nil
	}
	switch col.Type {
	case schema.TypeInteger:
		if i, ok := ToInt(v); ok {
			return i
		}
	case schema.TypeDecimal:
		if f, ok := ToFloat(v); ok {
			return f
		}
	case schema.TypeBoolean:
		if b, ok := ToBool(v); ok {
			return b
		}
	case schema.TypeJSON:
		switch v.(type) {
		case map[string]any, []any:
			if data, err := json.Marshal(v); err == nil {
				return string(data)
			}
		}
	}
	return v
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
