package storage

import (
	"database/sql"
	"encoding/json"
	"time"
)

const (
	// fixed width so stored timestamps sort as text
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout = "2006-01-02"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatDate(t time.Time) string { return t.UTC().Format(dateLayout) }

func parseDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(s string) []string {
	var v []string
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func encodeExtra(m map[string]string) interface{} {
	if len(m) == 0 {
		return nil
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func decodeExtra(ns sql.NullString) map[string]string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]string
	_ = json.Unmarshal([]byte(ns.String), &m)
	return m
}
