package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"converter/core"
	"converter/database"
)

// geoComponents атрибуты поселения, извлеченные из записи
type geoComponents struct {
	countryRaw        string
	countryNormalized string
	regionRaw         string
	regionNormalized  string
	nameRaw           string
	nameNormalized    string
	settlementType    string
	alias             string
	latitude          *float64
	longitude         *float64
}

// extractGeoComponents собирает географию из payload-ключей receiver_geo_*,
// при их отсутствии разбирает geo_raw как "страна, регион, поселение".
func extractGeoComponents(record *core.NormalizedProductRecord) *geoComponents {
	payload := record.RawPayload

	geo := geoComponents{
		countryRaw:     payloadString(payload, "receiver_geo_country"),
		regionRaw:      payloadString(payload, "receiver_geo_region"),
		nameRaw:        payloadString(payload, "receiver_geo_name"),
		settlementType: payloadString(payload, "receiver_geo_settlement_type"),
		alias:          payloadString(payload, "receiver_geo_alias"),
		latitude:       payloadFloat(payload, "receiver_geo_latitude"),
		longitude:      payloadFloat(payload, "receiver_geo_longitude"),
	}

	if geo.nameRaw == "" && !isMissing(record.GeoRaw) {
		var parts []string
		for _, segment := range strings.Split(record.GeoRaw, ",") {
			if token := strings.TrimSpace(segment); token != "" {
				parts = append(parts, token)
			}
		}
		if len(parts) >= 1 && geo.countryRaw == "" {
			geo.countryRaw = parts[0]
		}
		if len(parts) >= 2 && geo.regionRaw == "" {
			geo.regionRaw = parts[1]
		}
		if len(parts) >= 3 && geo.nameRaw == "" {
			geo.nameRaw = parts[2]
		}
	}

	geo.countryNormalized = normalizeText(geo.countryRaw)
	geo.regionNormalized = normalizeText(geo.regionRaw)
	geo.nameNormalized = normalizeText(geo.nameRaw)

	if geo.countryNormalized == "" && geo.regionNormalized == "" && geo.nameNormalized == "" {
		return nil
	}
	return &geo
}

// geoKey ключ дедупликации поселений: country|region|name
func (g *geoComponents) geoKey() string {
	combined := strings.Join([]string{g.countryNormalized, g.regionNormalized, g.nameNormalized}, "|")
	return strings.Trim(combined, "|")
}

// upsertSettlement находит или создает поселение по географическому ключу.
// Атрибуты существующей строки дополняются только там, где они пусты.
func (r *Repository) upsertSettlement(ctx context.Context, tx *sql.Tx, record *core.NormalizedProductRecord) (*int64, error) {
	geo := extractGeoComponents(record)
	if geo == nil {
		return nil, nil
	}
	key := geo.geoKey()
	if key == "" {
		return nil, nil
	}

	observedAt := database.FormatTimestamp(record.ObservedAt)
	now := database.FormatTimestamp(time.Now())

	var existing struct {
		id              int64
		countryRaw      sql.NullString
		countryNorm     sql.NullString
		regionRaw       sql.NullString
		regionNorm      sql.NullString
		nameRaw         sql.NullString
		nameNorm        sql.NullString
		settlementType  sql.NullString
		alias           sql.NullString
		latitude        sql.NullFloat64
		longitude       sql.NullFloat64
		lastSeenAt      string
	}

	err := tx.QueryRowContext(ctx,
		`SELECT id, country_raw, country_normalized, region_raw, region_normalized,
		        name_raw, name_normalized, settlement_type, alias, latitude, longitude, last_seen_at
		 FROM catalog_settlements WHERE geo_key = ?`, key,
	).Scan(
		&existing.id, &existing.countryRaw, &existing.countryNorm,
		&existing.regionRaw, &existing.regionNorm, &existing.nameRaw, &existing.nameNorm,
		&existing.settlementType, &existing.alias, &existing.latitude, &existing.longitude,
		&existing.lastSeenAt,
	)
	if err == sql.ErrNoRows {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_settlements (
				geo_key, country_raw, country_normalized, region_raw, region_normalized,
				name_raw, name_normalized, settlement_type, alias, latitude, longitude,
				first_seen_at, last_seen_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key,
			nullableString(geo.countryRaw), nullableString(geo.countryNormalized),
			nullableString(geo.regionRaw), nullableString(geo.regionNormalized),
			nullableString(geo.nameRaw), nullableString(geo.nameNormalized),
			nullableString(geo.settlementType), nullableString(geo.alias),
			nullableFloat(geo.latitude), nullableFloat(geo.longitude),
			observedAt, observedAt, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert settlement: %w", err)
		}
		settlementID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read settlement id: %w", err)
		}
		return &settlementID, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settlement: %w", err)
	}

	lastSeen := observedAt
	if existing.lastSeenAt > lastSeen {
		lastSeen = existing.lastSeenAt
	}

	lat := nullableSQLFloat(existing.latitude)
	if !existing.latitude.Valid && geo.latitude != nil {
		lat = *geo.latitude
	}
	lon := nullableSQLFloat(existing.longitude)
	if !existing.longitude.Valid && geo.longitude != nil {
		lon = *geo.longitude
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE catalog_settlements SET
			country_raw = ?, country_normalized = ?, region_raw = ?, region_normalized = ?,
			name_raw = ?, name_normalized = ?, settlement_type = ?, alias = ?,
			latitude = ?, longitude = ?, last_seen_at = ?, updated_at = ?
		 WHERE id = ?`,
		fillMissing(existing.countryRaw, geo.countryRaw), fillMissing(existing.countryNorm, geo.countryNormalized),
		fillMissing(existing.regionRaw, geo.regionRaw), fillMissing(existing.regionNorm, geo.regionNormalized),
		fillMissing(existing.nameRaw, geo.nameRaw), fillMissing(existing.nameNorm, geo.nameNormalized),
		fillMissing(existing.settlementType, geo.settlementType), fillMissing(existing.alias, geo.alias),
		lat, lon, lastSeen, now, existing.id,
	); err != nil {
		return nil, fmt.Errorf("failed to update settlement: %w", err)
	}

	settlementID := existing.id
	return &settlementID, nil
}

// fillMissing дополняет пустое существующее значение входящим
func fillMissing(existing sql.NullString, incoming string) any {
	if existing.Valid && !isMissing(existing.String) {
		return existing.String
	}
	return nullableString(incoming)
}

// appendSettlementGeodata добавляет одну геоточку поселения.
// Точка с уже встречавшимся отпечатком (settlement, lat, lon)
// повторно не пишется.
func (r *Repository) appendSettlementGeodata(ctx context.Context, tx *sql.Tx, settlementID *int64, record *core.NormalizedProductRecord) error {
	if settlementID == nil {
		return nil
	}

	payload := record.RawPayload
	latitude := payloadFloat(payload, "receiver_geo_latitude")
	longitude := payloadFloat(payload, "receiver_geo_longitude")
	if latitude == nil || longitude == nil {
		return nil
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%.8f:%.8f", *settlementID, *latitude, *longitude)))
	fingerprint := hex.EncodeToString(sum[:])

	var existingID int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM catalog_settlement_geodata WHERE geo_fingerprint = ?`, fingerprint,
	).Scan(&existingID)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to read settlement geodata: %w", err)
	}

	geodataPayload := map[string]any{
		"receiver_run_id":      payloadString(payload, "receiver_run_id"),
		"receiver_artifact_id": nil,
		"receiver_product_id":  nil,
	}
	if artifactID := payloadInt(payload, "receiver_artifact_id"); artifactID != nil {
		geodataPayload["receiver_artifact_id"] = *artifactID
	}
	if productID := payloadInt(payload, "receiver_product_id"); productID != nil {
		geodataPayload["receiver_product_id"] = *productID
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO catalog_settlement_geodata
		 (geo_fingerprint, settlement_id, latitude, longitude, observed_at, source_run_id, raw_payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fingerprint, *settlementID, *latitude, *longitude,
		database.FormatTimestamp(record.ObservedAt),
		nullableString(payloadString(payload, "receiver_run_id")),
		jsonMap(geodataPayload), database.FormatTimestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("failed to insert settlement geodata: %w", err)
	}
	return nil
}

// categoryCandidate кандидат категории из payload или category_raw
type categoryCandidate struct {
	uid       string
	title     string
	parentUID string
	alias     string
	depth     *int64
	sortOrder *int64
}

// extractCategoryCandidates берет структурированные категории из
// payload.receiver_categories, при их отсутствии разбивает category_raw по "/".
func extractCategoryCandidates(record *core.NormalizedProductRecord) []categoryCandidate {
	var out []categoryCandidate

	if raw, ok := record.RawPayload["receiver_categories"]; ok {
		if items, ok := raw.([]map[string]any); ok {
			for idx, item := range items {
				out = append(out, candidateFromMap(item, idx))
			}
		} else if items, ok := raw.([]any); ok {
			for idx, rawItem := range items {
				if item, ok := rawItem.(map[string]any); ok {
					out = append(out, candidateFromMap(item, idx))
					continue
				}
				if title := strings.TrimSpace(fmt.Sprint(rawItem)); title != "" {
					order := int64(idx)
					out = append(out, categoryCandidate{title: title, sortOrder: &order})
				}
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	if isMissing(record.CategoryRaw) {
		return nil
	}
	idx := int64(0)
	for _, segment := range strings.Split(record.CategoryRaw, "/") {
		title := strings.TrimSpace(segment)
		if title == "" {
			continue
		}
		order := idx
		out = append(out, categoryCandidate{title: title, sortOrder: &order})
		idx++
	}
	return out
}

func candidateFromMap(item map[string]any, idx int) categoryCandidate {
	candidate := categoryCandidate{
		uid:       payloadString(item, "uid"),
		title:     payloadString(item, "title"),
		parentUID: payloadString(item, "parent_uid"),
		alias:     payloadString(item, "alias"),
		depth:     payloadInt(item, "depth"),
		sortOrder: payloadInt(item, "sort_order"),
	}
	if candidate.sortOrder == nil {
		order := int64(idx)
		candidate.sortOrder = &order
	}
	return candidate
}

// categoryKey ключ категории: parser:uid:<uid> при наличии uid,
// иначе parser:title:<sha256(norm)[:40]>
func categoryKey(parserName string, candidate categoryCandidate, titleNormalized string) string {
	if candidate.uid != "" {
		return parserName + ":uid:" + strings.ToLower(candidate.uid)
	}
	if titleNormalized != "" {
		sum := sha256.Sum256([]byte(titleNormalized))
		return parserName + ":title:" + hex.EncodeToString(sum[:])[:40]
	}
	return ""
}

// categoryRef категория, привязанная к текущей записи, с порядком сортировки
type categoryRef struct {
	id        int64
	sortOrder int64
}

func primaryCategory(categories []categoryRef) *int64 {
	if len(categories) == 0 {
		return nil
	}
	id := categories[0].id
	return &id
}

// upsertCategories находит или создает категории записи.
// Существующие строки дополняются аддитивно и продлевают last_seen_at.
func (r *Repository) upsertCategories(ctx context.Context, tx *sql.Tx, record *core.NormalizedProductRecord) ([]categoryRef, error) {
	candidates := extractCategoryCandidates(record)
	if len(candidates) == 0 {
		return nil, nil
	}

	parserName := strings.ToLower(strings.TrimSpace(record.ParserName))
	observedAt := database.FormatTimestamp(record.ObservedAt)
	now := database.FormatTimestamp(time.Now())

	var out []categoryRef
	for idx, candidate := range candidates {
		titleNormalized := normalizeText(candidate.title)
		key := categoryKey(parserName, candidate, titleNormalized)
		if key == "" {
			continue
		}

		var existing struct {
			id             int64
			sourceUID      sql.NullString
			parentUID      sql.NullString
			titleRaw       sql.NullString
			titleNorm      sql.NullString
			alias          sql.NullString
			depth          sql.NullInt64
			sortOrder      sql.NullInt64
			lastSeenAt     string
		}

		err := tx.QueryRowContext(ctx,
			`SELECT id, source_uid, parent_source_uid, title_raw, title_normalized, alias, depth, sort_order, last_seen_at
			 FROM catalog_categories WHERE category_key = ?`, key,
		).Scan(
			&existing.id, &existing.sourceUID, &existing.parentUID, &existing.titleRaw,
			&existing.titleNorm, &existing.alias, &existing.depth, &existing.sortOrder,
			&existing.lastSeenAt,
		)
		if err == sql.ErrNoRows {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO catalog_categories (
					category_key, parser_name, source_uid, parent_source_uid,
					title_raw, title_normalized, alias, depth, sort_order,
					first_seen_at, last_seen_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				key, parserName,
				nullableString(candidate.uid), nullableString(candidate.parentUID),
				nullableString(candidate.title), nullableString(titleNormalized),
				nullableString(candidate.alias), nullableInt(candidate.depth), nullableInt(candidate.sortOrder),
				observedAt, observedAt, now,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to insert category: %w", err)
			}
			categoryID, err := res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("failed to read category id: %w", err)
			}
			out = append(out, categoryRef{id: categoryID, sortOrder: resolvedSortOrder(candidate, idx)})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read category: %w", err)
		}

		lastSeen := observedAt
		if existing.lastSeenAt > lastSeen {
			lastSeen = existing.lastSeenAt
		}

		depth := nullableSQLInt(existing.depth)
		if !existing.depth.Valid && candidate.depth != nil {
			depth = *candidate.depth
		}
		sortOrder := nullableSQLInt(existing.sortOrder)
		if !existing.sortOrder.Valid && candidate.sortOrder != nil {
			sortOrder = *candidate.sortOrder
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE catalog_categories SET
				source_uid = ?, parent_source_uid = ?, title_raw = ?, title_normalized = ?,
				alias = ?, depth = ?, sort_order = ?, last_seen_at = ?, updated_at = ?
			 WHERE id = ?`,
			fillMissing(existing.sourceUID, candidate.uid), fillMissing(existing.parentUID, candidate.parentUID),
			fillMissing(existing.titleRaw, candidate.title), fillMissing(existing.titleNorm, titleNormalized),
			fillMissing(existing.alias, candidate.alias), depth, sortOrder, lastSeen, now, existing.id,
		); err != nil {
			return nil, fmt.Errorf("failed to update category: %w", err)
		}

		out = append(out, categoryRef{id: existing.id, sortOrder: resolvedSortOrder(candidate, idx)})
	}
	return out, nil
}

func resolvedSortOrder(candidate categoryCandidate, idx int) int64 {
	if candidate.sortOrder != nil {
		return *candidate.sortOrder
	}
	return int64(idx)
}

// linkSnapshotCategories связывает снапшот с категориями в исходном
// порядке; первая категория помечается основной.
func (r *Repository) linkSnapshotCategories(ctx context.Context, tx *sql.Tx, snapshotID int64, categories []categoryRef) error {
	if snapshotID == 0 || len(categories) == 0 {
		return nil
	}

	now := database.FormatTimestamp(time.Now())
	seen := make(map[int64]bool)

	for idx, category := range categories {
		if seen[category.id] {
			continue
		}
		seen[category.id] = true

		isPrimary := 0
		if idx == 0 {
			isPrimary = 1
		}

		var existingPrimary int
		var existingSortOrder sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT is_primary, sort_order FROM catalog_product_category_links
			 WHERE snapshot_id = ? AND category_id = ?`, snapshotID, category.id,
		).Scan(&existingPrimary, &existingSortOrder)
		if err == sql.ErrNoRows {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO catalog_product_category_links (snapshot_id, category_id, sort_order, is_primary, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				snapshotID, category.id, category.sortOrder, isPrimary, now,
			); err != nil {
				return fmt.Errorf("failed to insert category link: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read category link: %w", err)
		}

		sortOrder := nullableSQLInt(existingSortOrder)
		if !existingSortOrder.Valid {
			sortOrder = category.sortOrder
		}
		if isPrimary == 0 {
			isPrimary = existingPrimary
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE catalog_product_category_links SET sort_order = ?, is_primary = ?
			 WHERE snapshot_id = ? AND category_id = ?`,
			sortOrder, isPrimary, snapshotID, category.id,
		); err != nil {
			return fmt.Errorf("failed to update category link: %w", err)
		}
	}
	return nil
}
