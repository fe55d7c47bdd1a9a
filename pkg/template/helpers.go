package template

import (
	"encoding/json"
	"strings"
	"time"
)

func marshalCompact(v any) ([]byte, error) {
	return json.Marshal(v)
}

// formatDate renders a time-like value using a subset of the common
// "YYYY-MM-DD HH:mm:ss" token vocabulary, translated to Go's reference layout.
func formatDate(v any, pattern string) string {
	t, ok := toTime(v)
	if !ok {
		return stringify(v)
	}
	if pattern == "" {
		pattern = "YYYY-MM-DD"
	}
	return t.Format(translateDatePattern(pattern))
}

func toTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", val); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var dateTokenOrder = []string{"YYYY", "MM", "DD", "HH", "mm", "ss"}
var dateTokenLayout = map[string]string{
	"YYYY": "2006",
	"MM":   "01",
	"DD":   "02",
	"HH":   "15",
	"mm":   "04",
	"ss":   "05",
}

func translateDatePattern(pattern string) string {
	out := pattern
	for _, token := range dateTokenOrder {
		out = strings.ReplaceAll(out, token, dateTokenLayout[token])
	}
	return out
}
