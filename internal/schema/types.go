package schema

import (
	"strconv"
	"strings"
)

// Normalized column types shared by all dialects.
const (
	TypeInteger  = "integer"
	TypeDecimal  = "decimal"
	TypeString   = "string"
	TypeText     = "text"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeDateTime = "datetime"
	TypeTime     = "time"
	TypeJSON     = "json"
	TypeUUID     = "uuid"
	TypeEnum     = "enum"
	TypeBinary   = "binary"
)

// NormalizeType maps a dialect type name (with or without length/precision
// arguments) onto one of the normalized types.
func NormalizeType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "tinyint(1)" {
		return TypeBoolean
	}
	base := t
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	base = strings.TrimSuffix(base, " unsigned")

	switch base {
	case "int", "integer", "int2", "int4", "int8", "smallint", "bigint", "tinyint",
		"mediumint", "serial", "bigserial", "smallserial":
		return TypeInteger
	case "decimal", "numeric", "real", "double", "double precision", "float", "float4",
		"float8", "money":
		return TypeDecimal
	case "char", "varchar", "character varying", "character", "nvarchar", "nchar",
		"varying character", "bpchar", "citext", "":
		return TypeString
	case "text", "tinytext", "mediumtext", "longtext", "clob":
		return TypeText
	case "bool", "boolean", "bit":
		return TypeBoolean
	case "date":
		return TypeDate
	case "datetime", "timestamp", "timestamptz", "timestamp without time zone",
		"timestamp with time zone":
		return TypeDateTime
	case "time", "timetz", "time without time zone", "time with time zone":
		return TypeTime
	case "json", "jsonb":
		return TypeJSON
	case "uuid":
		return TypeUUID
	case "enum":
		return TypeEnum
	case "bytea", "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return TypeBinary
	}
	if strings.Contains(base, "int") {
		return TypeInteger
	}
	if strings.Contains(base, "char") || strings.Contains(base, "clob") {
		return TypeString
	}
	return TypeString
}

// lengthFromType extracts n from "varchar(n)"-style type names.
func lengthFromType(raw string) int {
	open := strings.IndexByte(raw, '(')
	end := strings.IndexByte(raw, ')')
	if open < 0 || end <= open {
		return 0
	}
	inner := raw[open+1 : end]
	if strings.Contains(inner, ",") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(inner))
	if err != nil {
		return 0
	}
	return n
}

// extractEnumValues parses MySQL's "enum('a','b')" column_type.
func extractEnumValues(columnType string) []string {
	if !strings.HasPrefix(columnType, "enum(") {
		return nil
	}

	values := strings.TrimPrefix(columnType, "enum(")
	values = strings.TrimSuffix(values, ")")

	var result []string
	for _, part := range strings.Split(values, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "'\"")
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
