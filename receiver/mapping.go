package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"converter/core"
	"converter/database"
)

// categoryEntry атрибуты категории артефакта, прочитанные из receiver-БД
type categoryEntry struct {
	UID       string
	Title     string
	ParentUID string
	Depth     *int64
	SortOrder *int64
}

// loadCategoryLookup читает категории артефактов пачки: uid -> атрибуты
func (r *Repository) loadCategoryLookup(ctx context.Context, artifactIDs []int64) (map[int64]map[string]categoryEntry, error) {
	if len(artifactIDs) == 0 {
		return nil, nil
	}

	columns := "artifact_id, uid, title, NULL, NULL, NULL"
	switch {
	case r.hasCategoryExtras && r.hasCategorySortKey:
		columns = "artifact_id, uid, title, parent_uid, depth, sort_order"
	case r.hasCategoryExtras:
		columns = "artifact_id, uid, title, parent_uid, depth, NULL"
	case r.hasCategorySortKey:
		columns = "artifact_id, uid, title, NULL, NULL, sort_order"
	}

	query := `SELECT ` + columns + ` FROM run_artifact_categories WHERE artifact_id IN (` + placeholders(len(artifactIDs)) + `)`
	rows, err := r.conn.DB.QueryContext(ctx, query, int64Args(artifactIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver categories: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[string]categoryEntry)
	for rows.Next() {
		var artifactID int64
		var uid, title, parentUID *string
		var depth, sortOrder *int64
		if err := rows.Scan(&artifactID, &uid, &title, &parentUID, &depth, &sortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan receiver category: %w", err)
		}

		uidToken := safeDeref(uid)
		titleToken := safeDeref(title)
		if uidToken == "" || titleToken == "" {
			continue
		}

		bucket := out[artifactID]
		if bucket == nil {
			bucket = make(map[string]categoryEntry)
			out[artifactID] = bucket
		}
		bucket[uidToken] = categoryEntry{
			UID:       uidToken,
			Title:     titleToken,
			ParentUID: safeDeref(parentUID),
			Depth:     depth,
			SortOrder: sortOrder,
		}
	}
	return out, rows.Err()
}

// loadImageLookup читает изображения товаров пачки в порядке sort_order
func (r *Repository) loadImageLookup(ctx context.Context, productIDs []int64) (map[int64][]string, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	query := `SELECT product_id, url FROM run_artifact_product_images
		WHERE product_id IN (` + placeholders(len(productIDs)) + `)
		ORDER BY product_id ASC, sort_order ASC`
	rows, err := r.conn.DB.QueryContext(ctx, query, int64Args(productIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver images: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var productID int64
		var url *string
		if err := rows.Scan(&productID, &url); err != nil {
			return nil, fmt.Errorf("failed to scan receiver image: %w", err)
		}
		token := safeDeref(url)
		if token == "" {
			continue
		}
		if !contains(out[productID], token) {
			out[productID] = append(out[productID], token)
		}
	}
	return out, rows.Err()
}

// mapRow собирает RawProductRecord из строки выборки и lookup-таблиц
func (r *Repository) mapRow(row productRow, categories map[string]categoryEntry, images []string) core.RawProductRecord {
	parserName := strings.TrimSpace(row.parserName.String)
	if parserName == "" {
		parserName = r.defaultParserName
	}

	title := strings.TrimSpace(row.title.String)
	if title == "" {
		title = "Unnamed product"
	}

	runID := strings.TrimSpace(row.runID.String)
	sourceID := ""
	if runID != "" {
		sourceID = fmt.Sprintf("receiver:%s:%d", runID, row.productID)
	}

	categoryUIDs := parseStringList(row.categoriesUIDJSON.String)
	categoryTitles, payloadCategories := resolveCategories(categoryUIDs, categories)

	geo := joinNonEmpty([]string{
		strings.TrimSpace(row.geoCountry.String),
		strings.TrimSpace(row.geoRegion.String),
		strings.TrimSpace(row.geoName.String),
	}, ", ")

	if len(images) == 0 {
		if mainImage := strings.TrimSpace(row.mainImage.String); mainImage != "" {
			images = []string{mainImage}
		}
	}

	observedAt := database.ParseTimestamp(row.ingestedAt.String)
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	payload := map[string]any{
		"receiver_product_id":     row.productID,
		"receiver_artifact_id":    row.artifactID,
		"receiver_run_id":         runID,
		"receiver_source":         strings.TrimSpace(row.source.String),
		"receiver_ingested_at":    strings.TrimSpace(row.ingestedAt.String),
		"receiver_categories_uid": categoryUIDs,
	}
	if len(payloadCategories) > 0 {
		payload["receiver_categories"] = payloadCategories
	}
	if geoCountry := strings.TrimSpace(row.geoCountry.String); geoCountry != "" {
		payload["receiver_geo_country"] = geoCountry
	}
	if geoRegion := strings.TrimSpace(row.geoRegion.String); geoRegion != "" {
		payload["receiver_geo_region"] = geoRegion
	}
	if geoName := strings.TrimSpace(row.geoName.String); geoName != "" {
		payload["receiver_geo_name"] = geoName
	}
	if row.geoLatitude.Valid && row.geoLongitude.Valid {
		payload["receiver_geo_latitude"] = row.geoLatitude.Float64
		payload["receiver_geo_longitude"] = row.geoLongitude.Float64
	}
	if row.sortOrder.Valid {
		payload["receiver_sort_order"] = row.sortOrder.Int64
	}

	record := core.RawProductRecord{
		ParserName:  parserName,
		Title:       title,
		SourceID:    sourceID,
		PLU:         strings.TrimSpace(row.plu.String),
		SKU:         strings.TrimSpace(row.sku.String),
		Brand:       strings.TrimSpace(row.brand.String),
		Unit:        core.ParseUnit(row.unit.String),
		Category:    categoryTitles,
		Geo:         geo,
		Composition: strings.TrimSpace(row.composition.String),
		ImageURLs:   images,
		ObservedAt:  observedAt,
		Payload:     payload,
	}

	if row.availableCount.Valid {
		record.AvailableCount = core.Float64(row.availableCount.Float64)
	}
	if row.packageQuantity.Valid {
		record.PackageQuantity = core.Float64(row.packageQuantity.Float64)
	}
	record.PackageUnit = core.ParsePackageUnit(row.packageUnit.String)

	return record
}

// resolveCategories возвращает заголовки категорий, сведенные в " / ",
// и структурированный список для payload (порядок исходных uid сохраняется).
func resolveCategories(categoryUIDs []string, lookup map[string]categoryEntry) (string, []map[string]any) {
	if len(categoryUIDs) == 0 || len(lookup) == 0 {
		return "", nil
	}

	var titles []string
	var payloadCategories []map[string]any
	seen := make(map[string]bool)

	for idx, uid := range categoryUIDs {
		entry, ok := lookup[uid]
		if !ok {
			continue
		}

		lowered := strings.ToLower(entry.Title)
		if !seen[lowered] {
			seen[lowered] = true
			titles = append(titles, entry.Title)
		}

		item := map[string]any{
			"uid":        entry.UID,
			"title":      entry.Title,
			"sort_order": int64(idx),
		}
		if entry.ParentUID != "" {
			item["parent_uid"] = entry.ParentUID
		}
		if entry.Depth != nil {
			item["depth"] = *entry.Depth
		}
		if entry.SortOrder != nil {
			item["sort_order"] = *entry.SortOrder
		}
		payloadCategories = append(payloadCategories, item)
	}

	return strings.Join(titles, " / "), payloadCategories
}

// parseStringList разбирает значение categories_uid_json:
// JSON-массив, список через запятую или одиночный токен.
func parseStringList(value string) []string {
	token := strings.TrimSpace(value)
	if token == "" {
		return nil
	}

	var rawItems []any
	if strings.HasPrefix(token, "[") {
		if err := json.Unmarshal([]byte(token), &rawItems); err == nil {
			var out []string
			for _, item := range rawItems {
				if text := strings.TrimSpace(fmt.Sprint(item)); text != "" {
					out = append(out, text)
				}
			}
			return out
		}
		return []string{token}
	}

	var out []string
	for _, item := range strings.Split(token, ",") {
		if text := strings.TrimSpace(item); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func joinNonEmpty(parts []string, sep string) string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		lowered := strings.ToLower(token)
		if seen[lowered] {
			continue
		}
		seen[lowered] = true
		out = append(out, token)
	}
	return strings.Join(out, sep)
}

func contains(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}

func safeDeref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
