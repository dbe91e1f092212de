package receiver

import (
	"context"
	"testing"

	"converter/database"
)

func newTestDB(t *testing.T) *database.Conn {
	t.Helper()

	conn, err := database.Open(":memory:", database.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.DB.Close() })

	statements := []string{
		`CREATE TABLE run_artifacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			source TEXT,
			parser_name TEXT,
			ingested_at TEXT
		)`,
		`CREATE TABLE run_artifact_products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			artifact_id INTEGER NOT NULL,
			sku TEXT,
			plu TEXT,
			title TEXT,
			composition TEXT,
			brand TEXT,
			unit TEXT,
			available_count REAL,
			package_quantity REAL,
			package_unit TEXT,
			categories_uid_json TEXT,
			main_image TEXT,
			sort_order INTEGER
		)`,
		`CREATE TABLE run_artifact_administrative_units (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			artifact_id INTEGER NOT NULL,
			name TEXT,
			region TEXT,
			country TEXT,
			latitude REAL,
			longitude REAL
		)`,
		`CREATE TABLE run_artifact_categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			artifact_id INTEGER NOT NULL,
			uid TEXT,
			title TEXT,
			parent_uid TEXT,
			depth INTEGER,
			sort_order INTEGER
		)`,
		`CREATE TABLE run_artifact_product_images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id INTEGER NOT NULL,
			url TEXT,
			sort_order INTEGER
		)`,
	}
	for _, stmt := range statements {
		if _, err := conn.DB.Exec(stmt); err != nil {
			t.Fatalf("failed to create fixture schema: %v", err)
		}
	}
	return conn
}

func insertArtifact(t *testing.T, conn *database.Conn, runID, parserName, ingestedAt string) int64 {
	t.Helper()
	result, err := conn.DB.Exec(
		`INSERT INTO run_artifacts (run_id, source, parser_name, ingested_at) VALUES (?, ?, ?, ?)`,
		runID, "site", parserName, ingestedAt,
	)
	if err != nil {
		t.Fatalf("failed to insert artifact: %v", err)
	}
	id, _ := result.LastInsertId()
	return id
}

func insertProduct(t *testing.T, conn *database.Conn, artifactID int64, title, plu string) int64 {
	t.Helper()
	result, err := conn.DB.Exec(
		`INSERT INTO run_artifact_products (artifact_id, title, plu) VALUES (?, ?, ?)`,
		artifactID, title, plu,
	)
	if err != nil {
		t.Fatalf("failed to insert product: %v", err)
	}
	id, _ := result.LastInsertId()
	return id
}

func TestFetchBatch_WatermarkOrdering(t *testing.T) {
	conn := newTestDB(t)

	first := insertArtifact(t, conn, "run-1", "fixprice", "2026-01-10T09:00:00Z")
	second := insertArtifact(t, conn, "run-2", "fixprice", "2026-01-10T10:00:00Z")
	third := insertArtifact(t, conn, "run-3", "fixprice", "2026-01-10T11:00:00Z")

	insertProduct(t, conn, first, "Товар первый", "100")
	secondProductID := insertProduct(t, conn, second, "Товар второй", "200")
	insertProduct(t, conn, third, "Товар третий", "300")

	repo, err := NewRepository(conn, "fixprice")
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	records, err := repo.FetchBatch(context.Background(), 10, "fixprice", "", 0)
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i, want := range []string{"Товар первый", "Товар второй", "Товар третий"} {
		if records[i].Title != want {
			t.Errorf("records[%d].Title = %q, want %q", i, records[i].Title, want)
		}
	}

	// Вотермарка на второй строке оставляет только третью.
	after, err := repo.FetchBatch(context.Background(), 10, "fixprice", "2026-01-10T10:00:00Z", secondProductID)
	if err != nil {
		t.Fatalf("FetchBatch after watermark failed: %v", err)
	}
	if len(after) != 1 || after[0].Title != "Товар третий" {
		t.Fatalf("after watermark got %v, want only third record", len(after))
	}

	// Равный ingested_at: строки с большим product_id еще не прочитаны.
	tie, err := repo.FetchBatch(context.Background(), 10, "fixprice", "2026-01-10T10:00:00Z", secondProductID-1)
	if err != nil {
		t.Fatalf("FetchBatch tie failed: %v", err)
	}
	if len(tie) != 2 {
		t.Fatalf("tie watermark got %d records, want 2", len(tie))
	}
}

func TestFetchBatch_ParserFilter(t *testing.T) {
	conn := newTestDB(t)

	fixprice := insertArtifact(t, conn, "run-1", "fixprice", "2026-01-10T09:00:00Z")
	chizhik := insertArtifact(t, conn, "run-2", "Chizhik", "2026-01-10T10:00:00Z")
	insertProduct(t, conn, fixprice, "Товар fixprice", "100")
	insertProduct(t, conn, chizhik, "Товар chizhik", "200")

	repo, err := NewRepository(conn, "fixprice")
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	records, err := repo.FetchBatch(context.Background(), 10, "chizhik", "", 0)
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(records) != 1 || records[0].Title != "Товар chizhik" {
		t.Fatalf("parser filter got %d records, want only chizhik", len(records))
	}
	if records[0].ParserName != "Chizhik" {
		t.Errorf("ParserName = %q, want original casing kept", records[0].ParserName)
	}
}

func TestFetchBatch_RecordAssembly(t *testing.T) {
	conn := newTestDB(t)

	artifactID := insertArtifact(t, conn, "run-9", "fixprice", "2026-01-10T09:00:00Z")

	result, err := conn.DB.Exec(
		`INSERT INTO run_artifact_products
			(artifact_id, sku, plu, title, composition, brand, unit,
			 available_count, package_quantity, package_unit,
			 categories_uid_json, main_image, sort_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifactID, "SKU-1", "555", "Чай травяной", "чай, травы", "Greenfield", "PCE",
		25.0, 0.002, "KGM",
		`["cat-root","cat-tea"]`, "https://cdn.example.com/main.jpg", 7,
	)
	if err != nil {
		t.Fatalf("failed to insert product: %v", err)
	}
	productID, _ := result.LastInsertId()

	if _, err := conn.DB.Exec(
		`INSERT INTO run_artifact_administrative_units (artifact_id, name, region, country, latitude, longitude)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		artifactID, "Москва", "Московская область", "Россия", 55.75, 37.62,
	); err != nil {
		t.Fatalf("failed to insert administrative unit: %v", err)
	}

	categories := []struct {
		uid   string
		title string
	}{
		{"cat-root", "Продукты"},
		{"cat-tea", "Чай"},
	}
	for i, cat := range categories {
		if _, err := conn.DB.Exec(
			`INSERT INTO run_artifact_categories (artifact_id, uid, title, parent_uid, depth, sort_order) VALUES (?, ?, ?, ?, ?, ?)`,
			artifactID, cat.uid, cat.title, nil, i, i,
		); err != nil {
			t.Fatalf("failed to insert category: %v", err)
		}
	}

	for i, url := range []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"} {
		if _, err := conn.DB.Exec(
			`INSERT INTO run_artifact_product_images (product_id, url, sort_order) VALUES (?, ?, ?)`,
			productID, url, i,
		); err != nil {
			t.Fatalf("failed to insert image: %v", err)
		}
	}

	repo, err := NewRepository(conn, "fixprice")
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	records, err := repo.FetchBatch(context.Background(), 10, "fixprice", "", 0)
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	record := records[0]

	if record.SourceID != "receiver:run-9:1" {
		t.Errorf("SourceID = %q, want receiver:run-9:1", record.SourceID)
	}
	if record.PLU != "555" || record.SKU != "SKU-1" {
		t.Errorf("identifiers = (%q, %q), want (555, SKU-1)", record.PLU, record.SKU)
	}
	if record.Category != "Продукты / Чай" {
		t.Errorf("Category = %q, want %q", record.Category, "Продукты / Чай")
	}
	if record.Geo != "Россия, Московская область, Москва" {
		t.Errorf("Geo = %q, want country, region, name", record.Geo)
	}
	if len(record.ImageURLs) != 2 || record.ImageURLs[0] != "https://cdn.example.com/1.jpg" {
		t.Errorf("ImageURLs = %v, want ordered image table urls", record.ImageURLs)
	}
	if record.AvailableCount == nil || *record.AvailableCount != 25.0 {
		t.Errorf("AvailableCount = %v, want 25", record.AvailableCount)
	}
	if record.PackageQuantity == nil || *record.PackageQuantity != 0.002 {
		t.Errorf("PackageQuantity = %v, want 0.002", record.PackageQuantity)
	}

	if got := record.Payload["receiver_geo_country"]; got != "Россия" {
		t.Errorf("payload geo country = %v", got)
	}
	if got := record.Payload["receiver_geo_latitude"]; got != 55.75 {
		t.Errorf("payload geo latitude = %v", got)
	}
	if got := record.Payload["receiver_sort_order"]; got != int64(7) {
		t.Errorf("payload sort_order = %v", got)
	}
	payloadCategories, ok := record.Payload["receiver_categories"].([]map[string]any)
	if !ok || len(payloadCategories) != 2 {
		t.Fatalf("payload categories = %v, want 2 entries", record.Payload["receiver_categories"])
	}
	if payloadCategories[1]["uid"] != "cat-tea" {
		t.Errorf("payload category uid = %v, want cat-tea", payloadCategories[1]["uid"])
	}
}

func TestFetchBatch_MainImageFallbackAndDefaults(t *testing.T) {
	conn := newTestDB(t)

	artifactID := insertArtifact(t, conn, "run-5", "fixprice", "2026-01-10T09:00:00Z")
	if _, err := conn.DB.Exec(
		`INSERT INTO run_artifact_products (artifact_id, title, main_image) VALUES (?, ?, ?)`,
		artifactID, "", "https://cdn.example.com/only.jpg",
	); err != nil {
		t.Fatalf("failed to insert product: %v", err)
	}

	repo, err := NewRepository(conn, "fixprice")
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	records, err := repo.FetchBatch(context.Background(), 10, "fixprice", "", 0)
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	if records[0].Title != "Unnamed product" {
		t.Errorf("Title = %q, want default", records[0].Title)
	}
	if len(records[0].ImageURLs) != 1 || records[0].ImageURLs[0] != "https://cdn.example.com/only.jpg" {
		t.Errorf("ImageURLs = %v, want main_image fallback", records[0].ImageURLs)
	}
}

func TestNewRepository_SchemaValidation(t *testing.T) {
	conn, err := database.Open(":memory:", database.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer conn.DB.Close()

	if _, err := NewRepository(conn, "fixprice"); err == nil {
		t.Fatal("missing run_artifacts must fail")
	}

	if _, err := conn.DB.Exec(`CREATE TABLE run_artifacts (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	if _, err := NewRepository(conn, "fixprice"); err == nil {
		t.Fatal("missing parser_name column must fail")
	}
}
