// Package catalog пишет нормализованные наблюдения в catalog-БД.
// Политика записи:
//   - catalog_product_snapshots только пополняется, строки не меняются;
//   - измерения (поселения, категории, геоданные) дополняются аддитивно;
//   - catalog_products обновляется неразрушающим слиянием.
package catalog

import (
	"fmt"
	"strings"

	"converter/database"
)

// schemaTemplates DDL каталога; {pk} подставляется по диалекту
var schemaTemplates = []string{
	`CREATE TABLE IF NOT EXISTS catalog_products (
		id {pk},
		canonical_product_id VARCHAR(36) NOT NULL,
		parser_name VARCHAR(64) NOT NULL,
		source_id VARCHAR(191) NOT NULL,
		plu VARCHAR(128),
		sku VARCHAR(128),
		raw_title TEXT NOT NULL,
		title_original TEXT NOT NULL,
		title_normalized TEXT NOT NULL,
		title_original_no_stopwords TEXT NOT NULL,
		title_normalized_no_stopwords TEXT NOT NULL,
		brand VARCHAR(255),
		unit VARCHAR(32) NOT NULL,
		available_count DOUBLE PRECISION,
		package_quantity DOUBLE PRECISION,
		package_unit VARCHAR(32),
		primary_category_id INTEGER,
		settlement_id INTEGER,
		composition_raw TEXT,
		composition_normalized TEXT,
		image_urls_json TEXT NOT NULL,
		duplicate_image_urls_json TEXT NOT NULL,
		image_fingerprints_json TEXT NOT NULL,
		observed_at VARCHAR(40) NOT NULL,
		raw_payload_json TEXT NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		UNIQUE (parser_name, source_id)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_product_snapshots (
		id {pk},
		canonical_product_id VARCHAR(36) NOT NULL,
		parser_name VARCHAR(64) NOT NULL,
		source_id VARCHAR(191) NOT NULL,
		source_run_id VARCHAR(64),
		receiver_product_id INTEGER,
		receiver_artifact_id INTEGER,
		receiver_sort_order INTEGER,
		raw_title TEXT NOT NULL,
		title_original TEXT NOT NULL,
		title_normalized TEXT NOT NULL,
		title_original_no_stopwords TEXT NOT NULL,
		title_normalized_no_stopwords TEXT NOT NULL,
		brand VARCHAR(255),
		unit VARCHAR(32) NOT NULL,
		available_count DOUBLE PRECISION,
		package_quantity DOUBLE PRECISION,
		package_unit VARCHAR(32),
		category_raw TEXT,
		category_normalized TEXT,
		geo_raw TEXT,
		geo_normalized TEXT,
		composition_raw TEXT,
		composition_normalized TEXT,
		settlement_id INTEGER,
		image_urls_json TEXT NOT NULL,
		duplicate_image_urls_json TEXT NOT NULL,
		image_fingerprints_json TEXT NOT NULL,
		observed_at VARCHAR(40) NOT NULL,
		raw_payload_json TEXT NOT NULL,
		created_at VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_product_sources (
		parser_name VARCHAR(64) NOT NULL,
		source_id VARCHAR(191) NOT NULL,
		canonical_product_id VARCHAR(36) NOT NULL,
		latest_snapshot_id INTEGER,
		first_seen_at VARCHAR(40) NOT NULL,
		last_seen_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		PRIMARY KEY (parser_name, source_id)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_identity_map (
		parser_name VARCHAR(64) NOT NULL,
		identity_type VARCHAR(64) NOT NULL,
		identity_value VARCHAR(191) NOT NULL,
		canonical_product_id VARCHAR(36) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		PRIMARY KEY (parser_name, identity_type, identity_value)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_image_fingerprints (
		fingerprint VARCHAR(64) NOT NULL,
		canonical_url TEXT NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		PRIMARY KEY (fingerprint)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_settlements (
		id {pk},
		geo_key VARCHAR(191) NOT NULL UNIQUE,
		country_raw VARCHAR(64),
		country_normalized VARCHAR(128),
		region_raw TEXT,
		region_normalized TEXT,
		name_raw VARCHAR(255),
		name_normalized VARCHAR(255),
		settlement_type VARCHAR(32),
		alias VARCHAR(255),
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		first_seen_at VARCHAR(40) NOT NULL,
		last_seen_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_settlement_geodata (
		id {pk},
		geo_fingerprint VARCHAR(128) NOT NULL UNIQUE,
		settlement_id INTEGER NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		observed_at VARCHAR(40) NOT NULL,
		source_run_id VARCHAR(64),
		raw_payload_json TEXT NOT NULL,
		created_at VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_categories (
		id {pk},
		category_key VARCHAR(191) NOT NULL UNIQUE,
		parser_name VARCHAR(64) NOT NULL,
		source_uid VARCHAR(128),
		parent_source_uid VARCHAR(128),
		title_raw TEXT,
		title_normalized TEXT,
		alias TEXT,
		depth INTEGER,
		sort_order INTEGER,
		first_seen_at VARCHAR(40) NOT NULL,
		last_seen_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_product_category_links (
		snapshot_id INTEGER NOT NULL,
		category_id INTEGER NOT NULL,
		sort_order INTEGER,
		is_primary INTEGER NOT NULL DEFAULT 0,
		created_at VARCHAR(40) NOT NULL,
		PRIMARY KEY (snapshot_id, category_id)
	)`,
	"CREATE TABLE IF NOT EXISTS converter_sync_state (\n\t\t`key` VARCHAR(191) NOT NULL,\n\t\tvalue TEXT NOT NULL,\n\t\tupdated_at VARCHAR(40) NOT NULL,\n\t\tPRIMARY KEY (`key`)\n\t)",
}

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_catalog_products_canonical ON catalog_products (canonical_product_id)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_snapshots_canonical ON catalog_product_snapshots (canonical_product_id)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_snapshots_source ON catalog_product_snapshots (parser_name, source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_identity_canonical ON catalog_identity_map (canonical_product_id)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_geodata_settlement ON catalog_settlement_geodata (settlement_id)`,
}

func createSchema(conn *database.Conn) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if conn.Dialect == database.DialectMySQL {
		pk = "INTEGER PRIMARY KEY AUTO_INCREMENT"
	}

	for _, template := range schemaTemplates {
		query := strings.ReplaceAll(template, "{pk}", pk)
		if _, err := conn.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to create catalog schema: %w", err)
		}
	}
	for _, query := range schemaIndexes {
		if _, err := conn.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to create catalog index: %w", err)
		}
	}
	return nil
}

// validateSchema проверяет контрактные колонки catalog_products.
// Их отсутствие означает непримененные миграции и считается фатальным.
func validateSchema(conn *database.Conn) error {
	if _, err := conn.DB.Exec(`SELECT primary_category_id, settlement_id FROM catalog_products LIMIT 1`); err != nil {
		return fmt.Errorf("schema mismatch in catalog_products: primary_category_id and settlement_id are required, apply migrations first: %w", err)
	}
	return nil
}
