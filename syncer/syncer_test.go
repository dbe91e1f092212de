package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"converter/database"
	"converter/parsers"
)

func newReceiverFixture(t *testing.T, path string) {
	t.Helper()

	conn, err := database.Open(path, database.Config{})
	if err != nil {
		t.Fatalf("failed to open receiver fixture: %v", err)
	}
	defer conn.DB.Close()

	createReceiverSchema(t, conn)

	artifacts := []struct {
		runID      string
		ingestedAt string
		title      string
		plu        string
	}{
		{"run-1", "2026-01-10T09:00:00Z", "Шоколад молочный, 200 г", "100"},
		{"run-2", "2026-01-10T10:00:00Z", "Чай травяной, 25 пак", "200"},
		{"run-3", "2026-01-10T11:00:00Z", "Сок яблочный, 1 л", "300"},
	}
	for _, artifact := range artifacts {
		seedObservation(t, conn, artifact.runID, artifact.ingestedAt, artifact.title, artifact.plu)
	}
}

func createReceiverSchema(t *testing.T, conn *database.Conn) {
	t.Helper()

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
}

func seedObservation(t *testing.T, conn *database.Conn, runID, ingestedAt, title, plu string) {
	t.Helper()

	res, err := conn.DB.Exec(
		`INSERT INTO run_artifacts (run_id, source, parser_name, ingested_at) VALUES (?, ?, ?, ?)`,
		runID, "site", "fixprice", ingestedAt,
	)
	if err != nil {
		t.Fatalf("failed to insert artifact: %v", err)
	}
	artifactID, _ := res.LastInsertId()
	if _, err := conn.DB.Exec(
		`INSERT INTO run_artifact_products (artifact_id, title, plu) VALUES (?, ?, ?)`,
		artifactID, title, plu,
	); err != nil {
		t.Fatalf("failed to insert product: %v", err)
	}
}

func TestRun_IncrementalSync(t *testing.T) {
	dir := t.TempDir()
	receiverDB := filepath.Join(dir, "receiver.db")
	catalogDB := filepath.Join(dir, "catalog.db")
	newReceiverFixture(t, receiverDB)

	service := NewService(parsers.NewBuiltinRegistry())
	job := Job{
		ReceiverDB: receiverDB,
		CatalogDB:  catalogDB,
		ParserName: "fixprice",
		BatchSize:  1,
	}

	var events []BatchEvent
	outcome, err := service.Run(context.Background(), job, func(event BatchEvent) {
		events = append(events, event)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if outcome.Batches != 3 {
		t.Errorf("Batches = %d, want 3", outcome.Batches)
	}
	if outcome.TotalProcessed != 3 {
		t.Errorf("TotalProcessed = %d, want 3", outcome.TotalProcessed)
	}
	if outcome.CursorIngestedAt != "2026-01-10T11:00:00Z" {
		t.Errorf("CursorIngestedAt = %q, want third artifact timestamp", outcome.CursorIngestedAt)
	}
	if outcome.CursorProductID != 3 {
		t.Errorf("CursorProductID = %d, want 3", outcome.CursorProductID)
	}
	if len(events) != 3 || events[0].CursorIngestedAt != "2026-01-10T09:00:00Z" {
		t.Errorf("events = %+v, want per-batch cursor progression", events)
	}

	// Каталог получил все наблюдения и вотермарку.
	conn, err := database.Open(catalogDB, database.Config{})
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	defer conn.DB.Close()

	var snapshots int
	if err := conn.DB.QueryRow(`SELECT COUNT(*) FROM catalog_product_snapshots`).Scan(&snapshots); err != nil {
		t.Fatalf("failed to count snapshots: %v", err)
	}
	if snapshots != 3 {
		t.Errorf("snapshots = %d, want 3", snapshots)
	}

	var cursorValue string
	if err := conn.DB.QueryRow(
		"SELECT value FROM converter_sync_state WHERE `key` = ?", "receiver_cursor:fixprice",
	).Scan(&cursorValue); err != nil {
		t.Fatalf("failed to read cursor: %v", err)
	}
	if cursorValue == "" {
		t.Error("cursor value must be persisted")
	}

	// Повторный прогон не находит новых данных и не двигает курсор.
	again, err := service.Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if again.Batches != 0 || again.TotalProcessed != 0 {
		t.Errorf("second run = %+v, want no work", again)
	}
	if again.CursorIngestedAt != "2026-01-10T11:00:00Z" || again.CursorProductID != 3 {
		t.Errorf("second run cursor = (%q, %d), want unchanged", again.CursorIngestedAt, again.CursorProductID)
	}
}

func TestRun_MaxBatches(t *testing.T) {
	dir := t.TempDir()
	receiverDB := filepath.Join(dir, "receiver.db")
	catalogDB := filepath.Join(dir, "catalog.db")
	newReceiverFixture(t, receiverDB)

	service := NewService(parsers.NewBuiltinRegistry())
	job := Job{
		ReceiverDB: receiverDB,
		CatalogDB:  catalogDB,
		ParserName: "fixprice",
		BatchSize:  1,
		MaxBatches: 2,
	}

	outcome, err := service.Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Batches != 2 || outcome.TotalProcessed != 2 {
		t.Errorf("outcome = %+v, want 2 batches", outcome)
	}

	// Следующий прогон продолжает с вотермарки.
	rest, err := service.Run(context.Background(), Job{
		ReceiverDB: receiverDB,
		CatalogDB:  catalogDB,
		ParserName: "fixprice",
		BatchSize:  10,
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rest.TotalProcessed != 1 {
		t.Errorf("TotalProcessed = %d, want remaining 1", rest.TotalProcessed)
	}
}

func TestRun_SubSecondWatermark(t *testing.T) {
	dir := t.TempDir()
	receiverDB := filepath.Join(dir, "receiver.db")
	catalogDB := filepath.Join(dir, "catalog.db")

	conn, err := database.Open(receiverDB, database.Config{})
	if err != nil {
		t.Fatalf("failed to open receiver fixture: %v", err)
	}
	createReceiverSchema(t, conn)
	// Две строки внутри одной секунды: вотермарка обязана нести
	// исходную строку ingested_at с долями секунды.
	seedObservation(t, conn, "run-1", "2026-01-10T12:00:00.100Z", "Шоколад молочный, 200 г", "100")
	seedObservation(t, conn, "run-2", "2026-01-10T12:00:00.900Z", "Чай травяной, 25 пак", "200")
	conn.DB.Close()

	service := NewService(parsers.NewBuiltinRegistry())
	job := Job{
		ReceiverDB: receiverDB,
		CatalogDB:  catalogDB,
		ParserName: "fixprice",
		BatchSize:  1,
	}

	outcome, err := service.Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if outcome.TotalProcessed != 2 {
		t.Errorf("TotalProcessed = %d, want 2 (same-second rows must not be skipped)", outcome.TotalProcessed)
	}
	if outcome.CursorIngestedAt != "2026-01-10T12:00:00.900Z" {
		t.Errorf("CursorIngestedAt = %q, want verbatim receiver timestamp", outcome.CursorIngestedAt)
	}
	if outcome.CursorProductID != 2 {
		t.Errorf("CursorProductID = %d, want 2", outcome.CursorProductID)
	}

	// Повторный прогон ничего не перечитывает.
	again, err := service.Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if again.TotalProcessed != 0 {
		t.Errorf("second run TotalProcessed = %d, want 0", again.TotalProcessed)
	}
}

func TestDryRun(t *testing.T) {
	dir := t.TempDir()
	receiverDB := filepath.Join(dir, "receiver.db")
	newReceiverFixture(t, receiverDB)

	service := NewService(parsers.NewBuiltinRegistry())
	job := Job{
		ReceiverDB: receiverDB,
		ParserName: "fixprice",
		BatchSize:  2,
	}

	var events []BatchEvent
	outcome, err := service.DryRun(context.Background(), job, func(event BatchEvent) {
		events = append(events, event)
	})
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}

	if outcome.Batches != 2 || outcome.TotalProcessed != 3 {
		t.Errorf("outcome = %+v, want 2 batches over 3 records", outcome)
	}
	if outcome.CursorIngestedAt != "2026-01-10T11:00:00Z" || outcome.CursorProductID != 3 {
		t.Errorf("cursor = (%q, %d), want last observation", outcome.CursorIngestedAt, outcome.CursorProductID)
	}
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}

	// Каталог не создается и вотермарка не персистится.
	if _, err := os.Stat(filepath.Join(dir, "catalog.db")); err == nil {
		t.Error("dry run must not create a catalog database")
	}

	// Повторный прогон обрабатывает все заново: состояние не сохранялось.
	again, err := service.DryRun(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("second DryRun failed: %v", err)
	}
	if again.TotalProcessed != 3 {
		t.Errorf("second dry run TotalProcessed = %d, want 3", again.TotalProcessed)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	receiverDB := filepath.Join(dir, "receiver.db")
	catalogDB := filepath.Join(dir, "catalog.db")
	newReceiverFixture(t, receiverDB)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	service := NewService(parsers.NewBuiltinRegistry())
	_, err := service.Run(ctx, Job{
		ReceiverDB: receiverDB,
		CatalogDB:  catalogDB,
		ParserName: "fixprice",
		BatchSize:  1,
	}, nil)
	if err == nil {
		t.Fatal("canceled context must fail")
	}
}
