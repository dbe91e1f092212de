// Package receiver читает сырые товарные наблюдения из receiver-БД.
// Чтение курсорное: строгая лексикографическая пара (ingested_at, product_id)
// служит вотермаркой, порядок выборки фиксирован по возрастанию.
package receiver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"converter/core"
	"converter/database"
)

// Repository курсорный читатель receiver-схемы
type Repository struct {
	conn              *database.Conn
	defaultParserName string

	hasGeoCoords       bool
	hasCategoryExtras  bool
	hasCategorySortKey bool
}

// NewRepository создает читатель и проверяет receiver-схему.
// Отсутствие run_artifacts.parser_name — фатальная ошибка схемы:
// деградировать молча нельзя.
func NewRepository(conn *database.Conn, defaultParserName string) (*Repository, error) {
	repo := &Repository{
		conn:              conn,
		defaultParserName: strings.TrimSpace(defaultParserName),
	}
	if repo.defaultParserName == "" {
		repo.defaultParserName = "fixprice"
	}

	if err := repo.validateSchema(); err != nil {
		return nil, err
	}
	repo.probeOptionalColumns()
	return repo, nil
}

func (r *Repository) validateSchema() error {
	if _, err := r.conn.DB.Exec(`SELECT 1 FROM run_artifacts LIMIT 1`); err != nil {
		return fmt.Errorf("receiver schema is missing table run_artifacts: %w", err)
	}
	if _, err := r.conn.DB.Exec(`SELECT parser_name FROM run_artifacts LIMIT 1`); err != nil {
		return fmt.Errorf("unsupported receiver schema: run_artifacts.parser_name is missing, apply receiver migrations first: %w", err)
	}
	return nil
}

// probeOptionalColumns определяет наличие необязательных колонок схемы:
// координат административных единиц и расширенных атрибутов категорий.
func (r *Repository) probeOptionalColumns() {
	if _, err := r.conn.DB.Exec(`SELECT latitude, longitude FROM run_artifact_administrative_units LIMIT 1`); err == nil {
		r.hasGeoCoords = true
	}
	if _, err := r.conn.DB.Exec(`SELECT parent_uid, depth FROM run_artifact_categories LIMIT 1`); err == nil {
		r.hasCategoryExtras = true
	}
	if _, err := r.conn.DB.Exec(`SELECT sort_order FROM run_artifact_categories LIMIT 1`); err == nil {
		r.hasCategorySortKey = true
	}
}

// FetchBatch возвращает очередную пачку наблюдений после вотермарки
// (after_ingested_at, after_product_id) в порядке (ingested_at, product_id).
func (r *Repository) FetchBatch(ctx context.Context, limit int, parserName, afterIngestedAt string, afterProductID int64) ([]core.RawProductRecord, error) {
	if limit < 1 {
		limit = 1
	}
	parserFilter := strings.ToLower(strings.TrimSpace(parserName))

	geoColumns := "NULL, NULL"
	if r.hasGeoCoords {
		geoColumns = "u.latitude, u.longitude"
	}

	query := `
		SELECT p.id, p.artifact_id, p.sku, p.plu, p.title, p.composition, p.brand,
		       p.unit, p.available_count, p.package_quantity, p.package_unit,
		       p.categories_uid_json, p.main_image, p.sort_order,
		       a.run_id, a.source, a.parser_name, a.ingested_at,
		       u.name, u.region, u.country, ` + geoColumns + `
		FROM run_artifact_products p
		JOIN run_artifacts a ON a.id = p.artifact_id
		LEFT JOIN run_artifact_administrative_units u ON u.artifact_id = a.id`

	var conditions []string
	var args []any
	if parserFilter != "" {
		conditions = append(conditions, `LOWER(a.parser_name) = ?`)
		args = append(args, parserFilter)
	}
	if strings.TrimSpace(afterIngestedAt) != "" {
		conditions = append(conditions, `(a.ingested_at > ? OR (a.ingested_at = ? AND p.id > ?))`)
		args = append(args, afterIngestedAt, afterIngestedAt, afterProductID)
	}
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\t\tORDER BY a.ingested_at ASC, p.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := r.conn.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receiver batch: %w", err)
	}
	defer rows.Close()

	var scanned []productRow
	for rows.Next() {
		var row productRow
		if err := rows.Scan(
			&row.productID, &row.artifactID, &row.sku, &row.plu, &row.title,
			&row.composition, &row.brand, &row.unit, &row.availableCount,
			&row.packageQuantity, &row.packageUnit, &row.categoriesUIDJSON,
			&row.mainImage, &row.sortOrder, &row.runID, &row.source,
			&row.parserName, &row.ingestedAt, &row.geoName, &row.geoRegion,
			&row.geoCountry, &row.geoLatitude, &row.geoLongitude,
		); err != nil {
			return nil, fmt.Errorf("failed to scan receiver row: %w", err)
		}
		scanned = append(scanned, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receiver rows: %w", err)
	}
	if len(scanned) == 0 {
		return nil, nil
	}

	artifactIDs := uniqueInts(scanned, func(row productRow) int64 { return row.artifactID })
	productIDs := uniqueInts(scanned, func(row productRow) int64 { return row.productID })

	categoryLookup, err := r.loadCategoryLookup(ctx, artifactIDs)
	if err != nil {
		return nil, err
	}
	imageLookup, err := r.loadImageLookup(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	out := make([]core.RawProductRecord, 0, len(scanned))
	for _, row := range scanned {
		record := r.mapRow(row, categoryLookup[row.artifactID], imageLookup[row.productID])
		if parserFilter != "" && strings.ToLower(record.ParserName) != parserFilter {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

type productRow struct {
	productID  int64
	artifactID int64

	sku             sql.NullString
	plu             sql.NullString
	title           sql.NullString
	composition     sql.NullString
	brand           sql.NullString
	unit            sql.NullString
	availableCount  sql.NullFloat64
	packageQuantity sql.NullFloat64
	packageUnit     sql.NullString

	categoriesUIDJSON sql.NullString
	mainImage         sql.NullString
	sortOrder         sql.NullInt64

	runID      sql.NullString
	source     sql.NullString
	parserName sql.NullString
	ingestedAt sql.NullString

	geoName      sql.NullString
	geoRegion    sql.NullString
	geoCountry   sql.NullString
	geoLatitude  sql.NullFloat64
	geoLongitude sql.NullFloat64
}

func uniqueInts(rows []productRow, get func(productRow) int64) []int64 {
	seen := make(map[int64]bool, len(rows))
	var out []int64
	for _, row := range rows {
		id := get(row)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
