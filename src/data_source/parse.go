package datasource

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?|-?\.\d+`)
	suffixPattern = regexp.MustCompile(`\d\s*[kmb]\b`)
)

// -----------------------------------------------------------------------------

// ParseFloatField reads a price or volume from loosely typed source data:
// JSON numbers, numeric strings and currency strings like "$1,234.50".
// Anything else, or a negative value, is reported as absent.
func ParseFloatField(v interface{}) *float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		return ParseNumberText(t)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	return &f
}

// -----------------------------------------------------------------------------

// ParseIntField is ParseFloatField for counts; non-integral values are absent.
func ParseIntField(v interface{}) *int {
	f := ParseFloatField(v)
	if f == nil || *f != math.Trunc(*f) || *f > math.MaxInt32 {
		return nil
	}
	n := int(*f)
	return &n
}

// -----------------------------------------------------------------------------

// ParseNumberText extracts the first number of a display string
// ("$1,234.50", "312 listings", "Sold: 1.2k" is not understood and yields nil).
func ParseNumberText(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if suffixPattern.MatchString(strings.ToLower(s)) {
		return nil
	}

	m := numberPattern.FindString(s)
	if m == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil || f < 0 {
		return nil
	}
	return &f
}
