package workfront

import (
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout   = "2006-01-02T15:04:05"
	dateLayoutTZ = "2006-01-02T15:04:05.000-0700"
)

// Object is a single Workfront object as decoded from the API
type Object map[string]any

// value walks nested objects for "owner:name" style field names
func (o Object) value(field string) (any, bool) {
	if v, ok := o[field]; ok {
		return v, true
	}

	parts := strings.Split(field, ":")
	if len(parts) < 2 || parts[0] == "DE" {
		return nil, false
	}

	var cur any = map[string]any(o)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns a field rendered as a string, or "" when unset
func (o Object) String(field string) string {
	v, ok := o.value(field)
	if !ok || v == nil {
		return ""
	}

	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) == 0 {
			return ""
		}
		return Object{"v": t[0]}.String("v")
	default:
		return ""
	}
}

// Float returns a numeric field
func (o Object) Float(field string) (float64, bool) {
	v, ok := o.value(field)
	if !ok || v == nil {
		return 0, false
	}

	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Strings returns a multi-select field. A single value yields a one
// element slice.
func (o Object) Strings(field string) []string {
	v, ok := o.value(field)
	if !ok || v == nil {
		return nil
	}

	if list, ok := v.([]any); ok {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := (Object{"v": item}).String("v"); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	if s := o.String(field); s != "" {
		return []string{s}
	}
	return nil
}

// Yes reports whether a Yes/No custom field is set to Yes
func (o Object) Yes(field string) bool {
	return o.String(field) == valueYes
}

// Time parses a date field in either of the formats Workfront emits
func (o Object) Time(field string, loc *time.Location) (time.Time, bool) {
	s := o.String(field)
	if s == "" {
		return time.Time{}, false
	}
	// milliseconds are separated by a colon on the wire
	if len(s) > 20 && s[19] == ':' {
		if t, err := time.Parse(dateLayoutTZ, s[:19]+"."+s[20:]); err == nil {
			return t, true
		}
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func formatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}
