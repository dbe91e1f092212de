package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"converter/database"
)

// ReceiverCursor вотермарка инкрементальной синхронизации одного парсера
type ReceiverCursor struct {
	IngestedAt string `json:"ingested_at"`
	ProductID  *int64 `json:"product_id"`
}

func cursorKey(parserName string) string {
	return "receiver_cursor:" + strings.ToLower(strings.TrimSpace(parserName))
}

// GetReceiverCursor читает вотермарку парсера.
// Отсутствующая строка и неразборчивый JSON дают пустой курсор.
func (r *Repository) GetReceiverCursor(ctx context.Context, parserName string) (ReceiverCursor, error) {
	var encoded string
	err := r.conn.DB.QueryRowContext(ctx,
		"SELECT value FROM converter_sync_state WHERE `key` = ?", cursorKey(parserName),
	).Scan(&encoded)
	if err == sql.ErrNoRows {
		return ReceiverCursor{}, nil
	}
	if err != nil {
		return ReceiverCursor{}, fmt.Errorf("failed to read receiver cursor: %w", err)
	}

	return decodeCursor(encoded), nil
}

// decodeCursor разбирает значение курсора. Значение может быть JSON-объектом
// или строкой с вложенным JSON (наследие другого сериализатора).
func decodeCursor(encoded string) ReceiverCursor {
	token := strings.TrimSpace(encoded)
	if token == "" {
		return ReceiverCursor{}
	}

	var nested string
	if err := json.Unmarshal([]byte(token), &nested); err == nil {
		token = strings.TrimSpace(nested)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(token), &raw); err != nil {
		return ReceiverCursor{}
	}

	var cursor ReceiverCursor
	if value, ok := raw["ingested_at"].(string); ok {
		cursor.IngestedAt = strings.TrimSpace(value)
	}
	switch value := raw["product_id"].(type) {
	case float64:
		if value == float64(int64(value)) {
			id := int64(value)
			cursor.ProductID = &id
		}
	case string:
		if id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			cursor.ProductID = &id
		}
	}
	return cursor
}

// SetReceiverCursor перезаписывает вотермарку парсера
func (r *Repository) SetReceiverCursor(ctx context.Context, parserName, ingestedAt string, productID int64) error {
	payload, err := json.Marshal(map[string]any{
		"ingested_at": ingestedAt,
		"product_id":  productID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode receiver cursor: %w", err)
	}

	key := cursorKey(parserName)
	now := database.FormatTimestamp(time.Now())

	res, err := r.conn.DB.ExecContext(ctx,
		"UPDATE converter_sync_state SET value = ?, updated_at = ? WHERE `key` = ?",
		string(payload), now, key,
	)
	if err != nil {
		return fmt.Errorf("failed to update receiver cursor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update receiver cursor: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.conn.DB.ExecContext(ctx,
		"INSERT INTO converter_sync_state (`key`, value, updated_at) VALUES (?, ?, ?)",
		key, string(payload), now,
	); err != nil {
		return fmt.Errorf("failed to insert receiver cursor: %w", err)
	}
	return nil
}
