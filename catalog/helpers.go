package catalog

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"converter/core"
	"converter/database"
)

func isMissing(value string) bool {
	return strings.TrimSpace(value) == ""
}

// normalizeText приводит текст к нижнему регистру с заменой ё->е
// и схлопыванием пробелов. Используется для ключей измерений.
func normalizeText(value string) string {
	token := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "ё", "е")
	return strings.Join(strings.Fields(token), " ")
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func jsonMap(payload map[string]any) string {
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func decodeMap(encoded string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return nil
	}
	return out
}

// mergePayload накладывает входящие ключи поверх существующих
func mergePayload(existing map[string]any, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for key, value := range existing {
		out[key] = value
	}
	for key, value := range incoming {
		out[key] = value
	}
	return out
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int:
		return strconv.Itoa(typed)
	}
	return ""
}

func payloadInt(payload map[string]any, key string) *int64 {
	if payload == nil {
		return nil
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return nil
	}
	switch typed := value.(type) {
	case int64:
		return &typed
	case int:
		v := int64(typed)
		return &v
	case float64:
		if typed == float64(int64(typed)) {
			v := int64(typed)
			return &v
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return &parsed
		}
	}
	return nil
}

func payloadFloat(payload map[string]any, key string) *float64 {
	if payload == nil {
		return nil
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return nil
	}
	switch typed := value.(type) {
	case float64:
		return &typed
	case int64:
		v := float64(typed)
		return &v
	case int:
		v := float64(typed)
		return &v
	case string:
		token := strings.ReplaceAll(strings.TrimSpace(typed), ",", ".")
		if parsed, err := strconv.ParseFloat(token, 64); err == nil {
			return &parsed
		}
	}
	return nil
}

// sourceID возвращает идентификатор источника записи.
// При отсутствии source_id используются sku, plu или синтетический ключ.
func sourceID(record *core.NormalizedProductRecord) string {
	if token := strings.TrimSpace(record.SourceID); token != "" {
		return token
	}
	if token := strings.TrimSpace(record.SKU); token != "" {
		return "sku:" + token
	}
	if token := strings.TrimSpace(record.PLU); token != "" {
		return "plu:" + token
	}

	canonical := strings.TrimSpace(record.CanonicalProductID)
	if canonical == "" {
		canonical = "unknown"
	}
	return "generated:" + canonical + ":" + database.FormatTimestamp(core.UTC(record.ObservedAt))
}

func maxTimestamp(left, right time.Time) time.Time {
	if core.UTC(left).After(core.UTC(right)) {
		return core.UTC(left)
	}
	return core.UTC(right)
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableString(value string) any {
	token := strings.TrimSpace(value)
	if token == "" {
		return nil
	}
	return token
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}
