package database

import (
	"strings"
	"time"
)

// timestampLayouts форматы времени, встречающиеся в receiver- и catalog-БД
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.000Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp разбирает текстовую метку времени в UTC.
// Неразборчивые значения возвращают нулевое время.
func ParseTimestamp(raw string) time.Time {
	token := strings.TrimSpace(raw)
	if token == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, token); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// FormatTimestamp сериализует время в RFC3339 (UTC, секундная точность).
// Формат лексикографически монотонен и используется для колонок каталога.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
