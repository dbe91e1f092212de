// Package syncer инкрементально переливает наблюдения из receiver-БД
// в каталог пачками с персистентной вотермаркой.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"converter/catalog"
	"converter/core"
	"converter/database"
	"converter/receiver"
	"converter/storage"
)

// Job задание синхронизации одной пары БД
type Job struct {
	ReceiverDB string
	CatalogDB  string
	ParserName string
	BatchSize  int
	MaxBatches int
}

// BatchEvent событие завершения одной пачки
type BatchEvent struct {
	BatchNumber      int
	BatchSize        int
	TotalProcessed   int
	CursorIngestedAt string
	CursorProductID  int64
}

// Outcome итог прогона синхронизации
type Outcome struct {
	Batches          int
	TotalProcessed   int
	CursorIngestedAt string
	CursorProductID  int64
}

// Service запускает задания синхронизации поверх реестра обработчиков
type Service struct {
	registry *core.HandlerRegistry
	storage  *storage.Client
	logger   *slog.Logger
	dbConfig database.Config
}

// Option настройка сервиса синхронизации
type Option func(*Service)

// WithStorage подключает клиент хранилища: дубликаты изображений,
// обнаруженные при записи пачки, удаляются после ее фиксации.
func WithStorage(client *storage.Client) Option {
	return func(s *Service) { s.storage = client }
}

// WithLogger задает логгер сервиса
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithDBConfig задает параметры пулов соединений
func WithDBConfig(config database.Config) Option {
	return func(s *Service) { s.dbConfig = config }
}

// NewService создает сервис синхронизации
func NewService(registry *core.HandlerRegistry, options ...Option) *Service {
	service := &Service{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, option := range options {
		option(service)
	}
	return service
}

// Run выполняет задание до исчерпания данных или лимита пачек.
// Каждая пачка: чтение после вотермарки, нормализация, запись в каталог,
// продвижение курсора, событие в sink.
func (s *Service) Run(ctx context.Context, job Job, onBatch func(BatchEvent)) (Outcome, error) {
	var outcome Outcome

	job = jobDefaults(job)
	parserName := job.ParserName
	batchSize := job.BatchSize
	maxBatches := job.MaxBatches

	receiverConn, err := database.Open(job.ReceiverDB, s.dbConfig)
	if err != nil {
		return outcome, fmt.Errorf("failed to open receiver database: %w", err)
	}
	defer receiverConn.DB.Close()

	catalogConn, err := database.Open(job.CatalogDB, s.dbConfig)
	if err != nil {
		return outcome, fmt.Errorf("failed to open catalog database: %w", err)
	}
	defer catalogConn.DB.Close()

	receiverRepo, err := receiver.NewRepository(receiverConn, parserName)
	if err != nil {
		return outcome, err
	}
	catalogRepo, err := catalog.NewRepository(catalogConn)
	if err != nil {
		return outcome, err
	}

	cursor, err := catalogRepo.GetReceiverCursor(ctx, parserName)
	if err != nil {
		return outcome, err
	}

	watermarkIngestedAt := cursor.IngestedAt
	var watermarkProductID int64
	if cursor.ProductID != nil {
		watermarkProductID = *cursor.ProductID
	}

	for {
		if maxBatches > 0 && outcome.Batches >= maxBatches {
			break
		}
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		rawRecords, err := receiverRepo.FetchBatch(ctx, batchSize, parserName, watermarkIngestedAt, watermarkProductID)
		if err != nil {
			return outcome, err
		}
		if len(rawRecords) == 0 {
			break
		}

		normalized := make([]core.NormalizedProductRecord, 0, len(rawRecords))
		for _, raw := range rawRecords {
			handler, err := s.registry.Get(raw.ParserName)
			if err != nil {
				return outcome, err
			}
			normalized = append(normalized, core.Handle(handler, raw))
		}

		result, err := catalogRepo.UpsertMany(ctx, normalized)
		if err != nil {
			return outcome, err
		}
		s.deleteDuplicateImages(ctx, result.DeletionURLs)

		watermarkIngestedAt, watermarkProductID = cursorFromRecords(rawRecords)
		if err := catalogRepo.SetReceiverCursor(ctx, parserName, watermarkIngestedAt, watermarkProductID); err != nil {
			return outcome, err
		}

		outcome.Batches++
		outcome.TotalProcessed += len(rawRecords)
		outcome.CursorIngestedAt = watermarkIngestedAt
		outcome.CursorProductID = watermarkProductID

		s.logger.Info("sync batch committed",
			"parser", parserName,
			"batch", outcome.Batches,
			"size", len(rawRecords),
			"total", outcome.TotalProcessed,
			"cursor_ingested_at", watermarkIngestedAt,
			"cursor_product_id", watermarkProductID,
		)

		if onBatch != nil {
			onBatch(BatchEvent{
				BatchNumber:      outcome.Batches,
				BatchSize:        len(rawRecords),
				TotalProcessed:   outcome.TotalProcessed,
				CursorIngestedAt: watermarkIngestedAt,
				CursorProductID:  watermarkProductID,
			})
		}
	}

	outcome.CursorIngestedAt = watermarkIngestedAt
	outcome.CursorProductID = watermarkProductID
	return outcome, nil
}

// DryRun прогоняет наблюдения через in-memory конвейер нормализации
// без каталога: записи не сохраняются, вотермарка не читается и не
// персистится, прогон всегда идет с начала receiver-БД. Курсор пачек
// продвигается только в памяти.
func (s *Service) DryRun(ctx context.Context, job Job, onBatch func(BatchEvent)) (Outcome, error) {
	var outcome Outcome
	job = jobDefaults(job)

	receiverConn, err := database.Open(job.ReceiverDB, s.dbConfig)
	if err != nil {
		return outcome, fmt.Errorf("failed to open receiver database: %w", err)
	}
	defer receiverConn.DB.Close()

	receiverRepo, err := receiver.NewRepository(receiverConn, job.ParserName)
	if err != nil {
		return outcome, err
	}

	pipeline := core.NewPipeline(s.registry)

	watermarkIngestedAt := ""
	var watermarkProductID int64

	for {
		if job.MaxBatches > 0 && outcome.Batches >= job.MaxBatches {
			break
		}
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		rawRecords, err := receiverRepo.FetchBatch(ctx, job.BatchSize, job.ParserName, watermarkIngestedAt, watermarkProductID)
		if err != nil {
			return outcome, err
		}
		if len(rawRecords) == 0 {
			break
		}

		if _, err := pipeline.ProcessMany(rawRecords); err != nil {
			return outcome, err
		}

		watermarkIngestedAt, watermarkProductID = cursorFromRecords(rawRecords)

		outcome.Batches++
		outcome.TotalProcessed += len(rawRecords)
		outcome.CursorIngestedAt = watermarkIngestedAt
		outcome.CursorProductID = watermarkProductID

		s.logger.Info("dry-run batch processed",
			"parser", job.ParserName,
			"batch", outcome.Batches,
			"size", len(rawRecords),
			"total", outcome.TotalProcessed,
		)

		if onBatch != nil {
			onBatch(BatchEvent{
				BatchNumber:      outcome.Batches,
				BatchSize:        len(rawRecords),
				TotalProcessed:   outcome.TotalProcessed,
				CursorIngestedAt: watermarkIngestedAt,
				CursorProductID:  watermarkProductID,
			})
		}
	}

	return outcome, nil
}

func jobDefaults(job Job) Job {
	job.ParserName = strings.TrimSpace(job.ParserName)
	if job.ParserName == "" {
		job.ParserName = "fixprice"
	}
	if job.BatchSize < 1 {
		job.BatchSize = 1
	}
	if job.MaxBatches < 0 {
		job.MaxBatches = 0
	}
	return job
}

func (s *Service) deleteDuplicateImages(ctx context.Context, urls []string) {
	if s.storage == nil || len(urls) == 0 {
		return
	}
	if err := s.storage.DeleteImages(ctx, urls); err != nil {
		s.logger.Warn("duplicate image cleanup failed", "error", err)
	}
}

// cursorFromRecords вычисляет вотермарку пачки: лексикографический максимум
// пар (ingested_at, receiver_product_id). Строка ingested_at берется из
// receiver-БД дословно: перекодирование потеряло бы доли секунды, и строгий
// фильтр выборки пропустил бы необработанные строки той же секунды.
// Пачка без меток времени дает курсор (текущее время, 0).
func cursorFromRecords(records []core.RawProductRecord) (string, int64) {
	maxIngestedAt := ""
	maxProductID := int64(-1)

	for _, record := range records {
		ingestedAt := payloadIngestedAt(record.Payload)
		if ingestedAt == "" && !record.ObservedAt.IsZero() {
			ingestedAt = database.FormatTimestamp(record.ObservedAt)
		}
		if ingestedAt == "" {
			continue
		}

		var productID int64
		if id := payloadProductID(record.Payload); id != nil {
			productID = *id
		}

		if ingestedAt > maxIngestedAt || (ingestedAt == maxIngestedAt && productID > maxProductID) {
			maxIngestedAt = ingestedAt
			maxProductID = productID
		}
	}

	if maxIngestedAt == "" {
		return database.FormatTimestamp(time.Now()), 0
	}
	return maxIngestedAt, maxProductID
}

func payloadIngestedAt(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload["receiver_ingested_at"].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func payloadProductID(payload map[string]any) *int64 {
	if payload == nil {
		return nil
	}
	switch value := payload["receiver_product_id"].(type) {
	case int64:
		return &value
	case int:
		v := int64(value)
		return &v
	case float64:
		if value == float64(int64(value)) {
			v := int64(value)
			return &v
		}
	}
	return nil
}
