package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

const (
	dateLayout    = "2006-01-02"
	decimalPlaces = 2
	// SourceIDField is the canonical key of the natural primary key.
	SourceIDField = "source_id"
)

// Canonicalize renders every schema field of m as its canonical string.
// Unknown fields are rejected; missing and nil values render as "".
func Canonicalize(m Module, row SourceRow) (map[string]string, error) {
	schema := m.Schema()
	if schema == nil {
		return nil, fmt.Errorf("unknown module %q", m)
	}
	known := make(map[string]FieldKind, len(schema))
	for _, f := range schema {
		known[f.Name] = f.Kind
	}
	for name := range row.Fields {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("source row %d: unknown field %q", row.SourceID, name)
		}
	}
	out := make(map[string]string, len(schema))
	for _, f := range schema {
		value, err := renderValue(f.Kind, row.Fields[f.Name])
		if err != nil {
			return nil, fmt.Errorf("source row %d field %s: %w", row.SourceID, f.Name, err)
		}
		out[f.Name] = value
	}
	return out, nil
}

// Encode produces the canonical byte form of a record: a JSON object with
// sorted keys and string values, without HTML escaping or trailing newline.
func Encode(sourceID int64, fields map[string]string) []byte {
	doc := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	doc[SourceIDField] = strconv.FormatInt(sourceID, 10)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// map[string]string always encodes.
	_ = enc.Encode(doc)
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// RecordHash is the hex SHA-256 of the canonical encoding.
func RecordHash(sourceID int64, fields map[string]string) string {
	sum := sha256.Sum256(Encode(sourceID, fields))
	return hex.EncodeToString(sum[:])
}

// ModuleHash hashes the sorted record hashes joined by newlines.
func ModuleHash(recordHashes []string) string {
	sorted := append([]string(nil), recordHashes...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// PeriodHash hashes the concatenation of the sorted module hashes.
func PeriodHash(moduleHashes []string) string {
	sorted := append([]string(nil), moduleHashes...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(sum[:])
}

// ParseAmount reads a canonical decimal string. Empty means zero.
func ParseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func renderValue(kind FieldKind, value any) (string, error) {
	value = deref(value)
	if value == nil {
		return "", nil
	}
	switch kind {
	case FieldDecimal:
		d, ok, err := toDecimal(value)
		if err != nil || !ok {
			return "", err
		}
		return d.StringFixed(decimalPlaces), nil
	case FieldDate:
		return renderDate(value)
	default:
		return renderText(value)
	}
}

func deref(value any) any {
	switch v := value.(type) {
	case *string:
		if v == nil {
			return nil
		}
		return *v
	case *decimal.Decimal:
		if v == nil {
			return nil
		}
		return *v
	case decimal.NullDecimal:
		if !v.Valid {
			return nil
		}
		return v.Decimal
	case *time.Time:
		if v == nil {
			return nil
		}
		return *v
	case *int64:
		if v == nil {
			return nil
		}
		return *v
	case *float64:
		if v == nil {
			return nil
		}
		return *v
	case *bool:
		if v == nil {
			return nil
		}
		return *v
	}
	return value
}

// toDecimal converts a raw value. An empty string reports ok=false.
func toDecimal(value any) (decimal.Decimal, bool, error) {
	switch v := deref(value).(type) {
	case nil:
		return decimal.Zero, false, nil
	case decimal.Decimal:
		return v, true, nil
	case int:
		return decimal.NewFromInt(int64(v)), true, nil
	case int32:
		return decimal.NewFromInt32(v), true, nil
	case int64:
		return decimal.NewFromInt(v), true, nil
	case float32:
		return decimal.NewFromFloat32(v), true, nil
	case float64:
		return decimal.NewFromFloat(v), true, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("invalid decimal %q", v)
		}
		return d, true, nil
	default:
		return decimal.Zero, false, fmt.Errorf("unsupported decimal value of type %T", value)
	}
}

func renderDate(value any) (string, error) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return "", nil
		}
		return v.UTC().Format(dateLayout), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", nil
		}
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t.Format(dateLayout), nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC().Format(dateLayout), nil
		}
		return "", fmt.Errorf("invalid date %q", v)
	default:
		return "", fmt.Errorf("unsupported date value of type %T", value)
	}
}

func renderText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return norm.NFC.String(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case decimal.Decimal:
		return v.StringFixed(decimalPlaces), nil
	case float64:
		return decimal.NewFromFloat(v).StringFixed(decimalPlaces), nil
	case time.Time:
		return v.UTC().Format(dateLayout), nil
	case fmt.Stringer:
		return norm.NFC.String(v.String()), nil
	default:
		return "", fmt.Errorf("unsupported text value of type %T", value)
	}
}
