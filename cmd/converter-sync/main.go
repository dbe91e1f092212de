// Одноразовая синхронизация receiver-БД в каталог из командной строки.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"converter/parsers"
	"converter/syncer"
)

func main() {
	receiverDB := flag.String("receiver-db", "", "receiver DB path (SQLite) or MySQL DSN")
	catalogDB := flag.String("catalog-db", "", "catalog DB path (SQLite) or MySQL DSN")
	parserName := flag.String("parser-name", "fixprice", "filter by parser_name from receiver run_artifacts")
	batchSize := flag.Int("batch-size", 250, "max records per batch")
	maxBatches := flag.Int("max-batches", 0, "stop after N batches (0 means no limit)")
	dryRun := flag.Bool("dry-run", false, "normalize through the in-memory pipeline without writing to the catalog")
	flag.Parse()

	if *receiverDB == "" {
		flag.Usage()
		log.Fatal("-receiver-db is required")
	}
	if *catalogDB == "" && !*dryRun {
		flag.Usage()
		log.Fatal("-catalog-db is required unless -dry-run is set")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting sync",
		"receiver", *receiverDB,
		"catalog", *catalogDB,
		"parser", *parserName,
		"batch_size", *batchSize,
		"dry_run", *dryRun,
	)

	service := syncer.NewService(parsers.NewBuiltinRegistry(), syncer.WithLogger(logger))

	job := syncer.Job{
		ReceiverDB: *receiverDB,
		CatalogDB:  *catalogDB,
		ParserName: *parserName,
		BatchSize:  *batchSize,
		MaxBatches: *maxBatches,
	}
	onBatch := func(event syncer.BatchEvent) {
		logger.Info("batch done",
			"batch", event.BatchNumber,
			"processed", event.BatchSize,
			"total", event.TotalProcessed,
			"cursor_ingested_at", event.CursorIngestedAt,
			"cursor_product_id", event.CursorProductID,
		)
	}

	var outcome syncer.Outcome
	var err error
	if *dryRun {
		outcome, err = service.DryRun(context.Background(), job, onBatch)
	} else {
		outcome, err = service.Run(context.Background(), job, onBatch)
	}
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}

	logger.Info("sync finished",
		"batches", outcome.Batches,
		"total_processed", outcome.TotalProcessed,
		"cursor_ingested_at", outcome.CursorIngestedAt,
		"cursor_product_id", outcome.CursorProductID,
	)
}
