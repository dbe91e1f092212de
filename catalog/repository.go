package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"converter/core"
	"converter/database"
)

// Repository персистентный приемник нормализованных записей каталога
type Repository struct {
	conn *database.Conn
}

// NewRepository создает таблицы каталога и проверяет контрактные колонки
func NewRepository(conn *database.Conn) (*Repository, error) {
	if err := createSchema(conn); err != nil {
		return nil, err
	}
	if err := validateSchema(conn); err != nil {
		return nil, err
	}
	return &Repository{conn: conn}, nil
}

// UpsertResult итог записи пачки
type UpsertResult struct {
	Records int

	// DeletionURLs URL-дубликаты изображений, подлежащие удалению
	// из файлового хранилища после фиксации транзакции.
	DeletionURLs []string
}

// UpsertMany записывает пачку в одной транзакции (все или ничего).
// Каждая запись проходит полный конвейер: резолвинг идентичности,
// дедупликация изображений, back-fill, измерения, снапшот и проекция.
// Записи мутируются на месте: canonical_product_id и восполненные поля
// видны вызывающему после возврата.
func (r *Repository) UpsertMany(ctx context.Context, records []core.NormalizedProductRecord) (UpsertResult, error) {
	var result UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	tx, err := r.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin catalog transaction: %w", err)
	}
	defer tx.Rollback()

	seenDeletions := make(map[string]bool)

	for i := range records {
		record := &records[i]
		record.ObservedAt = core.UTC(record.ObservedAt)

		if err := r.resolveCanonicalProductID(ctx, tx, record); err != nil {
			return result, err
		}

		deletions, err := r.applyImageDedup(ctx, tx, record)
		if err != nil {
			return result, err
		}
		for _, url := range deletions {
			if !seenDeletions[url] {
				seenDeletions[url] = true
				result.DeletionURLs = append(result.DeletionURLs, url)
			}
		}

		if err := r.applyBackfill(ctx, tx, record); err != nil {
			return result, err
		}

		settlementID, err := r.upsertSettlement(ctx, tx, record)
		if err != nil {
			return result, err
		}

		snapshotID, err := r.insertSnapshot(ctx, tx, record, settlementID)
		if err != nil {
			return result, err
		}

		if err := r.appendSettlementGeodata(ctx, tx, settlementID, record); err != nil {
			return result, err
		}

		categories, err := r.upsertCategories(ctx, tx, record)
		if err != nil {
			return result, err
		}
		if err := r.linkSnapshotCategories(ctx, tx, snapshotID, categories); err != nil {
			return result, err
		}

		if err := r.upsertProductSource(ctx, tx, record, snapshotID); err != nil {
			return result, err
		}
		if err := r.upsertProductRow(ctx, tx, record, settlementID, categories); err != nil {
			return result, err
		}

		result.Records++
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit catalog batch: %w", err)
	}
	return result, nil
}

// resolveCanonicalProductID находит или создает каноничный ID записи.
// Кандидаты в порядке приоритета: plu, sku, source_id; затем
// нормализованное имя. Все ключи записи обновляются на выбранный ID,
// поэтому будущие наблюдения сходятся к нему по любому из ключей.
func (r *Repository) resolveCanonicalProductID(ctx context.Context, tx *sql.Tx, record *core.NormalizedProductRecord) error {
	parserName := strings.ToLower(strings.TrimSpace(record.ParserName))
	candidates := record.IdentityCandidates()

	chosenID := ""
	for _, candidate := range candidates {
		existing, err := r.getIdentity(ctx, tx, parserName, candidate.Type, candidate.Value)
		if err != nil {
			return err
		}
		if existing != "" {
			chosenID = existing
			break
		}
	}

	fallbacks := identityFallbacks(record)
	if chosenID == "" {
		for _, fallback := range fallbacks {
			existing, err := r.getIdentity(ctx, tx, parserName, "normalized_name", fallback)
			if err != nil {
				return err
			}
			if existing != "" {
				chosenID = existing
				break
			}
		}
	}

	if chosenID == "" {
		chosenID = uuid.NewString()
	}
	record.CanonicalProductID = chosenID

	now := database.FormatTimestamp(time.Now())
	for _, candidate := range candidates {
		if err := r.putIdentity(ctx, tx, parserName, candidate.Type, candidate.Value, chosenID, now); err != nil {
			return err
		}
	}
	for _, fallback := range fallbacks {
		if err := r.putIdentity(ctx, tx, parserName, "normalized_name", fallback, chosenID, now); err != nil {
			return err
		}
	}
	return nil
}

// identityFallbacks возвращает ключи по нормализованному имени:
// сначала вариант без стоп-слов, затем полный.
func identityFallbacks(record *core.NormalizedProductRecord) []string {
	var out []string
	seen := make(map[string]bool)
	for _, value := range []string{record.TitleNormalizedNoStopwords, record.TitleNormalized} {
		token := strings.TrimSpace(value)
		if token != "" && !seen[token] {
			seen[token] = true
			out = append(out, token)
		}
	}
	return out
}

func (r *Repository) getIdentity(ctx context.Context, tx *sql.Tx, parserName, identityType, identityValue string) (string, error) {
	var canonical string
	err := tx.QueryRowContext(ctx,
		`SELECT canonical_product_id FROM catalog_identity_map
		 WHERE parser_name = ? AND identity_type = ? AND identity_value = ?`,
		parserName, identityType, identityValue,
	).Scan(&canonical)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read identity map: %w", err)
	}
	return strings.TrimSpace(canonical), nil
}

func (r *Repository) putIdentity(ctx context.Context, tx *sql.Tx, parserName, identityType, identityValue, canonicalID, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE catalog_identity_map SET canonical_product_id = ?, updated_at = ?
		 WHERE parser_name = ? AND identity_type = ? AND identity_value = ?`,
		canonicalID, now, parserName, identityType, identityValue,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity map: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update identity map: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO catalog_identity_map (parser_name, identity_type, identity_value, canonical_product_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		parserName, identityType, identityValue, canonicalID, now,
	); err != nil {
		return fmt.Errorf("failed to insert identity map row: %w", err)
	}
	return nil
}

// applyImageDedup сводит URL изображений записи к каноничным через
// персистентные sha256-отпечатки. Возвращает URL, подлежащие удалению
// из хранилища (дубликаты с отличным от каноничного адресом).
func (r *Repository) applyImageDedup(ctx context.Context, tx *sql.Tx, record *core.NormalizedProductRecord) ([]string, error) {
	var uniqueURLs, duplicateURLs, fingerprints, deletions []string
	seenInRecord := make(map[string]bool)
	now := database.FormatTimestamp(time.Now())

	for _, rawURL := range record.ImageURLs {
		url := strings.TrimSpace(rawURL)
		if url == "" {
			continue
		}

		fingerprint := core.FingerprintURL(url)

		var canonicalURL string
		err := tx.QueryRowContext(ctx,
			`SELECT canonical_url FROM catalog_image_fingerprints WHERE fingerprint = ?`, fingerprint,
		).Scan(&canonicalURL)
		switch {
		case err == sql.ErrNoRows:
			canonicalURL = url
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO catalog_image_fingerprints (fingerprint, canonical_url, created_at, updated_at)
				 VALUES (?, ?, ?, ?)`,
				fingerprint, url, now, now,
			); err != nil {
				return nil, fmt.Errorf("failed to insert image fingerprint: %w", err)
			}
		case err != nil:
			return nil, fmt.Errorf("failed to read image fingerprint: %w", err)
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE catalog_image_fingerprints SET updated_at = ? WHERE fingerprint = ?`, now, fingerprint,
			); err != nil {
				return nil, fmt.Errorf("failed to touch image fingerprint: %w", err)
			}
			if canonicalURL != url {
				duplicateURLs = append(duplicateURLs, url)
				deletions = append(deletions, url)
			}
		}

		if seenInRecord[fingerprint] {
			duplicateURLs = append(duplicateURLs, url)
			continue
		}
		seenInRecord[fingerprint] = true
		uniqueURLs = append(uniqueURLs, canonicalURL)
		fingerprints = append(fingerprints, fingerprint)
	}

	record.ImageURLs = uniqueURLs
	record.DuplicateImageURLs = duplicateURLs
	record.ImageFingerprints = fingerprints
	return deletions, nil
}

// backfillSource одно историческое наблюдение для восполнения полей
type backfillSource struct {
	observedAt time.Time

	brand                 sql.NullString
	categoryNormalized    sql.NullString
	geoNormalized         sql.NullString
	compositionNormalized sql.NullString
	packageQuantity       sql.NullFloat64
	packageUnit           sql.NullString
}

// applyBackfill восполняет пустые поля записи значениями из темпорально
// ближайшего непустого наблюдения того же каноничного товара. Сначала
// используются снапшоты, при их отсутствии текущая проекция.
func (r *Repository) applyBackfill(ctx context.Context, tx *sql.Tx, record *core.NormalizedProductRecord) error {
	canonical := strings.TrimSpace(record.CanonicalProductID)
	if canonical == "" {
		return nil
	}

	history, err := r.loadSnapshotHistory(ctx, tx, canonical)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		history, err = r.loadProjectionHistory(ctx, tx, canonical)
		if err != nil {
			return err
		}
	}
	if len(history) == 0 {
		return nil
	}

	target := core.UTC(record.ObservedAt)

	if isMissing(record.Brand) {
		record.Brand = nearestText(history, target, func(s *backfillSource) sql.NullString { return s.brand })
	}
	if isMissing(record.CategoryNormalized) {
		record.CategoryNormalized = nearestText(history, target, func(s *backfillSource) sql.NullString { return s.categoryNormalized })
	}
	if isMissing(record.GeoNormalized) {
		record.GeoNormalized = nearestText(history, target, func(s *backfillSource) sql.NullString { return s.geoNormalized })
	}
	if isMissing(record.CompositionNormalized) {
		record.CompositionNormalized = nearestText(history, target, func(s *backfillSource) sql.NullString { return s.compositionNormalized })
	}
	if record.PackageQuantity == nil {
		record.PackageQuantity = nearestNumber(history, target, func(s *backfillSource) sql.NullFloat64 { return s.packageQuantity })
	}
	if record.PackageUnit == "" {
		record.PackageUnit = core.ParsePackageUnit(nearestText(history, target, func(s *backfillSource) sql.NullString { return s.packageUnit }))
	}
	return nil
}

func (r *Repository) loadSnapshotHistory(ctx context.Context, tx *sql.Tx, canonicalID string) ([]backfillSource, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT observed_at, brand, category_normalized, geo_normalized, composition_normalized,
		        package_quantity, package_unit
		 FROM catalog_product_snapshots WHERE canonical_product_id = ?`, canonicalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot history: %w", err)
	}
	defer rows.Close()
	return scanBackfillSources(rows)
}

func (r *Repository) loadProjectionHistory(ctx context.Context, tx *sql.Tx, canonicalID string) ([]backfillSource, error) {
	// Текущая проекция не хранит категорию и географию,
	// поэтому их места занимают NULL.
	rows, err := tx.QueryContext(ctx,
		`SELECT observed_at, brand, NULL, NULL, composition_normalized,
		        package_quantity, package_unit
		 FROM catalog_products WHERE canonical_product_id = ?`, canonicalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load projection history: %w", err)
	}
	defer rows.Close()
	return scanBackfillSources(rows)
}

func scanBackfillSources(rows *sql.Rows) ([]backfillSource, error) {
	var out []backfillSource
	for rows.Next() {
		var source backfillSource
		var observedAt string
		if err := rows.Scan(
			&observedAt, &source.brand, &source.categoryNormalized, &source.geoNormalized,
			&source.compositionNormalized, &source.packageQuantity, &source.packageUnit,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backfill source: %w", err)
		}
		source.observedAt = database.ParseTimestamp(observedAt)
		out = append(out, source)
	}
	return out, rows.Err()
}

func nearestText(history []backfillSource, target time.Time, get func(*backfillSource) sql.NullString) string {
	var nearest string
	var nearestDelta time.Duration = -1
	for i := range history {
		value := get(&history[i])
		if !value.Valid || isMissing(value.String) {
			continue
		}
		delta := absDelta(core.UTC(history[i].observedAt).Sub(target))
		if nearestDelta < 0 || delta < nearestDelta {
			nearestDelta = delta
			nearest = strings.TrimSpace(value.String)
		}
	}
	return nearest
}

func nearestNumber(history []backfillSource, target time.Time, get func(*backfillSource) sql.NullFloat64) *float64 {
	var nearest *float64
	var nearestDelta time.Duration = -1
	for i := range history {
		value := get(&history[i])
		if !value.Valid {
			continue
		}
		delta := absDelta(core.UTC(history[i].observedAt).Sub(target))
		if nearestDelta < 0 || delta < nearestDelta {
			nearestDelta = delta
			v := value.Float64
			nearest = &v
		}
	}
	return nearest
}

func absDelta(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// insertSnapshot добавляет строку неизменяемой истории наблюдений
func (r *Repository) insertSnapshot(ctx context.Context, tx *sql.Tx, record *core.NormalizedProductRecord, settlementID *int64) (int64, error) {
	now := database.FormatTimestamp(time.Now())
	payload := record.RawPayload

	res, err := tx.ExecContext(ctx,
		`INSERT INTO catalog_product_snapshots (
			canonical_product_id, parser_name, source_id,
			source_run_id, receiver_product_id, receiver_artifact_id, receiver_sort_order,
			raw_title, title_original, title_normalized,
			title_original_no_stopwords, title_normalized_no_stopwords,
			brand, unit, available_count, package_quantity, package_unit,
			category_raw, category_normalized, geo_raw, geo_normalized,
			composition_raw, composition_normalized, settlement_id,
			image_urls_json, duplicate_image_urls_json, image_fingerprints_json,
			observed_at, raw_payload_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CanonicalProductID, record.ParserName, sourceID(record),
		nullableString(payloadString(payload, "receiver_run_id")),
		nullableInt(payloadInt(payload, "receiver_product_id")),
		nullableInt(payloadInt(payload, "receiver_artifact_id")),
		nullableInt(payloadInt(payload, "receiver_sort_order")),
		record.RawTitle, record.TitleOriginal, record.TitleNormalized,
		record.TitleOriginalNoStopwords, record.TitleNormalizedNoStopwords,
		nullableString(record.Brand), string(record.Unit),
		nullableFloat(record.AvailableCount), nullableFloat(record.PackageQuantity),
		nullableString(string(record.PackageUnit)),
		nullableString(record.CategoryRaw), nullableString(record.CategoryNormalized),
		nullableString(record.GeoRaw), nullableString(record.GeoNormalized),
		nullableString(record.CompositionRaw), nullableString(record.CompositionNormalized),
		nullableInt(settlementID),
		jsonList(record.ImageURLs), jsonList(record.DuplicateImageURLs), jsonList(record.ImageFingerprints),
		database.FormatTimestamp(record.ObservedAt), jsonMap(payload), now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert product snapshot: %w", err)
	}

	snapshotID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}
	return snapshotID, nil
}

// upsertProductSource ведет строку источника (parser_name, source_id).
// Уже назначенный каноничный ID источника имеет приоритет и
// возвращается в запись: это защита от дрейфа карты идентичности.
func (r *Repository) upsertProductSource(ctx context.Context, tx *sql.Tx, record *core.NormalizedProductRecord, snapshotID int64) error {
	parserName := strings.ToLower(strings.TrimSpace(record.ParserName))
	source := sourceID(record)
	observedAt := database.FormatTimestamp(record.ObservedAt)
	now := database.FormatTimestamp(time.Now())

	var existingCanonical, existingLastSeen string
	err := tx.QueryRowContext(ctx,
		`SELECT canonical_product_id, last_seen_at FROM catalog_product_sources
		 WHERE parser_name = ? AND source_id = ?`, parserName, source,
	).Scan(&existingCanonical, &existingLastSeen)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_product_sources
			 (parser_name, source_id, canonical_product_id, latest_snapshot_id, first_seen_at, last_seen_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			parserName, source, record.CanonicalProductID, snapshotID, observedAt, observedAt, now,
		); err != nil {
			return fmt.Errorf("failed to insert product source: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read product source: %w", err)
	}

	canonical := strings.TrimSpace(existingCanonical)
	if canonical != "" {
		record.CanonicalProductID = canonical
	} else {
		canonical = record.CanonicalProductID
	}

	lastSeen := observedAt
	if existingLastSeen > lastSeen {
		lastSeen = existingLastSeen
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE catalog_product_sources
		 SET canonical_product_id = ?, latest_snapshot_id = ?, last_seen_at = ?, updated_at = ?
		 WHERE parser_name = ? AND source_id = ?`,
		canonical, snapshotID, lastSeen, now, parserName, source,
	); err != nil {
		return fmt.Errorf("failed to update product source: %w", err)
	}
	return nil
}

// upsertProductRow обновляет текущую проекцию товара.
// Заголовки авторитетны и перезаписываются всегда; остальные поля
// перезаписываются только непустыми входящими значениями.
func (r *Repository) upsertProductRow(ctx context.Context, tx *sql.Tx, record *core.NormalizedProductRecord, settlementID *int64, categories []categoryRef) error {
	now := database.FormatTimestamp(time.Now())
	source := sourceID(record)
	primaryCategoryID := primaryCategory(categories)

	var existing struct {
		id                 int64
		canonical          sql.NullString
		plu, sku, brand    sql.NullString
		availableCount     sql.NullFloat64
		packageQuantity    sql.NullFloat64
		packageUnit        sql.NullString
		primaryCategoryID  sql.NullInt64
		settlementID       sql.NullInt64
		compositionRaw     sql.NullString
		compositionNorm    sql.NullString
		imageURLsJSON      string
		duplicateURLsJSON  string
		fingerprintsJSON   string
		observedAt         string
		rawPayloadJSON     string
	}

	err := tx.QueryRowContext(ctx,
		`SELECT id, canonical_product_id, plu, sku, brand, available_count,
		        package_quantity, package_unit, primary_category_id, settlement_id,
		        composition_raw, composition_normalized,
		        image_urls_json, duplicate_image_urls_json, image_fingerprints_json,
		        observed_at, raw_payload_json
		 FROM catalog_products WHERE parser_name = ? AND source_id = ?`,
		record.ParserName, source,
	).Scan(
		&existing.id, &existing.canonical, &existing.plu, &existing.sku, &existing.brand,
		&existing.availableCount, &existing.packageQuantity, &existing.packageUnit,
		&existing.primaryCategoryID, &existing.settlementID,
		&existing.compositionRaw, &existing.compositionNorm,
		&existing.imageURLsJSON, &existing.duplicateURLsJSON, &existing.fingerprintsJSON,
		&existing.observedAt, &existing.rawPayloadJSON,
	)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_products (
				canonical_product_id, parser_name, source_id, plu, sku,
				raw_title, title_original, title_normalized,
				title_original_no_stopwords, title_normalized_no_stopwords,
				brand, unit, available_count, package_quantity, package_unit,
				primary_category_id, settlement_id,
				composition_raw, composition_normalized,
				image_urls_json, duplicate_image_urls_json, image_fingerprints_json,
				observed_at, raw_payload_json, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.CanonicalProductID, record.ParserName, source,
			nullableString(record.PLU), nullableString(record.SKU),
			record.RawTitle, record.TitleOriginal, record.TitleNormalized,
			record.TitleOriginalNoStopwords, record.TitleNormalizedNoStopwords,
			nullableString(record.Brand), string(record.Unit),
			nullableFloat(record.AvailableCount), nullableFloat(record.PackageQuantity),
			nullableString(string(record.PackageUnit)),
			nullableInt(primaryCategoryID), nullableInt(settlementID),
			nullableString(record.CompositionRaw), nullableString(record.CompositionNormalized),
			jsonList(record.ImageURLs), jsonList(record.DuplicateImageURLs), jsonList(record.ImageFingerprints),
			database.FormatTimestamp(record.ObservedAt), jsonMap(record.RawPayload), now, now,
		); err != nil {
			return fmt.Errorf("failed to insert catalog product: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read catalog product: %w", err)
	}

	merged := mergedProductValues(record, existing.canonical, existing.plu, existing.sku, existing.brand,
		existing.availableCount, existing.packageQuantity, existing.packageUnit,
		existing.compositionRaw, existing.compositionNorm)

	nextPrimaryCategory := existing.primaryCategoryID
	if primaryCategoryID != nil {
		nextPrimaryCategory = sql.NullInt64{Int64: *primaryCategoryID, Valid: true}
	}
	nextSettlement := existing.settlementID
	if settlementID != nil {
		nextSettlement = sql.NullInt64{Int64: *settlementID, Valid: true}
	}

	imageURLs := existing.imageURLsJSON
	duplicateURLs := existing.duplicateURLsJSON
	fingerprints := existing.fingerprintsJSON
	if len(record.ImageURLs) > 0 {
		imageURLs = jsonList(record.ImageURLs)
		duplicateURLs = jsonList(record.DuplicateImageURLs)
		fingerprints = jsonList(record.ImageFingerprints)
	}

	observedAt := database.FormatTimestamp(maxTimestamp(database.ParseTimestamp(existing.observedAt), record.ObservedAt))
	payload := jsonMap(mergePayload(decodeMap(existing.rawPayloadJSON), record.RawPayload))

	if _, err := tx.ExecContext(ctx,
		`UPDATE catalog_products SET
			canonical_product_id = ?, plu = ?, sku = ?,
			raw_title = ?, title_original = ?, title_normalized = ?,
			title_original_no_stopwords = ?, title_normalized_no_stopwords = ?,
			brand = ?, unit = ?, available_count = ?, package_quantity = ?, package_unit = ?,
			primary_category_id = ?, settlement_id = ?,
			composition_raw = ?, composition_normalized = ?,
			image_urls_json = ?, duplicate_image_urls_json = ?, image_fingerprints_json = ?,
			observed_at = ?, raw_payload_json = ?, updated_at = ?
		 WHERE id = ?`,
		merged.canonical, merged.plu, merged.sku,
		record.RawTitle, record.TitleOriginal, record.TitleNormalized,
		record.TitleOriginalNoStopwords, record.TitleNormalizedNoStopwords,
		merged.brand, string(record.Unit), merged.availableCount, merged.packageQuantity, merged.packageUnit,
		nullableSQLInt(nextPrimaryCategory), nullableSQLInt(nextSettlement),
		merged.compositionRaw, merged.compositionNorm,
		imageURLs, duplicateURLs, fingerprints,
		observedAt, payload, now, existing.id,
	); err != nil {
		return fmt.Errorf("failed to update catalog product: %w", err)
	}
	return nil
}

type mergedValues struct {
	canonical       any
	plu, sku, brand any
	availableCount  any
	packageQuantity any
	packageUnit     any
	compositionRaw  any
	compositionNorm any
}

// mergedProductValues применяет неразрушающее слияние скалярных полей:
// входящее значение побеждает только когда оно непустое.
func mergedProductValues(
	record *core.NormalizedProductRecord,
	canonical, plu, sku, brand sql.NullString,
	availableCount, packageQuantity sql.NullFloat64,
	packageUnit, compositionRaw, compositionNorm sql.NullString,
) mergedValues {
	out := mergedValues{
		canonical:       keepText(canonical, record.CanonicalProductID),
		plu:             preferText(plu, record.PLU),
		sku:             preferText(sku, record.SKU),
		brand:           preferText(brand, record.Brand),
		availableCount:  nullableSQLFloat(availableCount),
		packageQuantity: nullableSQLFloat(packageQuantity),
		packageUnit:     preferText(packageUnit, string(record.PackageUnit)),
		compositionRaw:  preferText(compositionRaw, record.CompositionRaw),
		compositionNorm: preferText(compositionNorm, record.CompositionNormalized),
	}
	if record.AvailableCount != nil {
		out.availableCount = *record.AvailableCount
	}
	if record.PackageQuantity != nil {
		out.packageQuantity = *record.PackageQuantity
	}
	return out
}

// keepText сохраняет существующее непустое значение, иначе берет входящее
func keepText(existing sql.NullString, incoming string) any {
	if existing.Valid && !isMissing(existing.String) {
		return existing.String
	}
	return nullableString(incoming)
}

// preferText берет входящее непустое значение, иначе сохраняет существующее
func preferText(existing sql.NullString, incoming string) any {
	if !isMissing(incoming) {
		return strings.TrimSpace(incoming)
	}
	if existing.Valid {
		return existing.String
	}
	return nil
}

func nullableSQLFloat(value sql.NullFloat64) any {
	if value.Valid {
		return value.Float64
	}
	return nil
}

func nullableSQLInt(value sql.NullInt64) any {
	if value.Valid {
		return value.Int64
	}
	return nil
}
