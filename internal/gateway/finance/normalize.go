package finance

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The upstream API mixes camelCase, PascalCase, and snake_case spellings for
// the same logical field depending on which module serialized the row. Each
// field is normalized exactly once, here, when data enters the engine;
// nothing past this file ever sees an upstream spelling.

type rawObject map[string]json.RawMessage

func (o rawObject) raw(names ...string) (json.RawMessage, bool) {
	for _, name := range names {
		if v, ok := o[name]; ok && string(v) != "null" {
			return v, true
		}
	}
	// Last resort: case-insensitive scan covers spellings nobody listed.
	for key, v := range o {
		for _, name := range names {
			if strings.EqualFold(key, name) && string(v) != "null" {
				return v, true
			}
		}
	}
	return nil, false
}

func (o rawObject) str(names ...string) string {
	v, ok := o.raw(names...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

// dec accepts both JSON numbers and numeric strings, which the upstream
// emits interchangeably for money fields.
func (o rawObject) dec(names ...string) decimal.Decimal {
	v, ok := o.raw(names...)
	if !ok {
		return decimal.Zero
	}
	var d decimal.Decimal
	if err := json.Unmarshal(v, &d); err != nil {
		return decimal.Zero
	}
	return d
}

func (o rawObject) integer(names ...string) int {
	v, ok := o.raw(names...)
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(v, &n); err != nil {
		// Positions sometimes arrive as strings.
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0
		}
		return int(d.IntPart())
	}
	return n
}

func (o rawObject) boolean(names ...string) bool {
	v, ok := o.raw(names...)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		// Flags also arrive as 0/1 or "Y"/"N".
		var n int
		if err := json.Unmarshal(v, &n); err == nil {
			return n != 0
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s == "1" || strings.EqualFold(s, "y") || strings.EqualFold(s, "true")
		}
		return false
	}
	return b
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02-01-2006"}

func (o rawObject) date(names ...string) time.Time {
	s := o.str(names...)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// normalizeRate turns percent-style rates (11) into fractions (0.11).
func normalizeRate(rate decimal.Decimal) decimal.Decimal {
	if rate.GreaterThan(decimal.NewFromInt(1)) {
		return rate.Div(decimal.NewFromInt(100))
	}
	return rate
}
