// Package daemon очередь заданий синхронизации с единственным воркером.
// Очередь дедуплицирует задания по ключу (receiver_db, catalog_db, parser):
// пока задание ждет или выполняется, повторная постановка отклоняется.
package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"converter/syncer"
)

// QueueJob задание очереди синхронизации
type QueueJob struct {
	ReceiverDB string `json:"receiver_db"`
	CatalogDB  string `json:"catalog_db"`
	ParserName string `json:"parser_name"`
	BatchSize  int    `json:"batch_size"`
	MaxBatches int    `json:"max_batches"`
	RunID      string `json:"run_id,omitempty"`
	Source     string `json:"source"`
}

// DedupeKey ключ идемпотентности задания
func (j QueueJob) DedupeKey() [3]string {
	parser := strings.ToLower(strings.TrimSpace(j.ParserName))
	if parser == "" {
		parser = "fixprice"
	}
	return [3]string{strings.TrimSpace(j.ReceiverDB), strings.TrimSpace(j.CatalogDB), parser}
}

func (j QueueJob) toSyncJob() syncer.Job {
	return syncer.Job{
		ReceiverDB: j.ReceiverDB,
		CatalogDB:  j.CatalogDB,
		ParserName: j.ParserName,
		BatchSize:  j.BatchSize,
		MaxBatches: j.MaxBatches,
	}
}

// EnqueueResult итог постановки задания в очередь
type EnqueueResult struct {
	Accepted  bool
	Duplicate bool
	Reason    string
	QueueSize int
	Key       [3]string
}

// Snapshot текущее состояние очереди и счетчики воркера
type Snapshot struct {
	Running         bool `json:"running"`
	QueueSize       int  `json:"queue_size"`
	ActiveJobs      int  `json:"active_jobs"`
	PendingJobs     int  `json:"pending_jobs"`
	TotalEnqueued   int  `json:"total_enqueued"`
	TotalDuplicates int  `json:"total_duplicates"`
	TotalProcessed  int  `json:"total_processed"`
	TotalFailed     int  `json:"total_failed"`
}

// Daemon однопоточный исполнитель очереди заданий
type Daemon struct {
	syncService *syncer.Service
	logger      *slog.Logger

	queue chan QueueJob
	stop  chan struct{}
	done  chan struct{}

	mu          sync.Mutex
	running     bool
	pendingKeys map[[3]string]bool
	activeKeys  map[[3]string]bool

	totalEnqueued   int
	totalDuplicates int
	totalProcessed  int
	totalFailed     int
}

// NewDaemon создает демон с очередью заданной емкости
func NewDaemon(syncService *syncer.Service, maxQueueSize int, logger *slog.Logger) *Daemon {
	if maxQueueSize < 1 {
		maxQueueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		syncService: syncService,
		logger:      logger,
		queue:       make(chan QueueJob, maxQueueSize),
		pendingKeys: make(map[[3]string]bool),
		activeKeys:  make(map[[3]string]bool),
	}
}

// Start запускает воркер. Повторный запуск работающего демона не делает ничего.
func (d *Daemon) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.workerLoop(d.stop, d.done)
}

// Stop сигнализирует воркеру остановиться и ждет завершения не дольше timeout
func (d *Daemon) Stop(timeout time.Duration) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	stop := d.stop
	done := d.done
	d.mu.Unlock()

	close(stop)

	if timeout < 100*time.Millisecond {
		timeout = 100 * time.Millisecond
	}
	select {
	case <-done:
	case <-time.After(timeout):
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Enqueue ставит задание в очередь.
// Задание с уже ожидающим или выполняющимся ключом отклоняется как дубликат,
// переполненная очередь дает отказ queue_full.
func (d *Daemon) Enqueue(job QueueJob) EnqueueResult {
	key := job.DedupeKey()

	d.mu.Lock()
	if d.pendingKeys[key] || d.activeKeys[key] {
		d.totalDuplicates++
		result := EnqueueResult{Duplicate: true, Reason: "duplicate", QueueSize: len(d.queue), Key: key}
		d.mu.Unlock()
		return result
	}
	d.pendingKeys[key] = true
	d.mu.Unlock()

	select {
	case d.queue <- job:
	default:
		d.mu.Lock()
		delete(d.pendingKeys, key)
		result := EnqueueResult{Reason: "queue_full", QueueSize: len(d.queue), Key: key}
		d.mu.Unlock()
		return result
	}

	d.mu.Lock()
	d.totalEnqueued++
	result := EnqueueResult{Accepted: true, Reason: "accepted", QueueSize: len(d.queue), Key: key}
	d.mu.Unlock()
	return result
}

// Snapshot возвращает состояние очереди для /health и /queue
func (d *Daemon) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Running:         d.running,
		QueueSize:       len(d.queue),
		ActiveJobs:      len(d.activeKeys),
		PendingJobs:     len(d.pendingKeys),
		TotalEnqueued:   d.totalEnqueued,
		TotalDuplicates: d.totalDuplicates,
		TotalProcessed:  d.totalProcessed,
		TotalFailed:     d.totalFailed,
	}
}

// workerLoop обрабатывает очередь по одному заданию.
// Ошибка задания фиксируется в счетчиках, процесс не падает.
func (d *Daemon) workerLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case job := <-d.queue:
			d.runJob(job)
		case <-stop:
			// Добираем уже поставленные задания перед выходом.
			for {
				select {
				case job := <-d.queue:
					d.runJob(job)
				default:
					return
				}
			}
		}
	}
}

func (d *Daemon) runJob(job QueueJob) {
	key := job.DedupeKey()

	d.mu.Lock()
	delete(d.pendingKeys, key)
	d.activeKeys[key] = true
	d.mu.Unlock()

	outcome, err := d.syncService.Run(context.Background(), job.toSyncJob(), nil)
	if err != nil {
		d.logger.Error("queue job failed",
			"parser", job.ParserName, "run_id", job.RunID, "error", err)
	} else {
		d.logger.Info("queue job done",
			"parser", job.ParserName, "run_id", job.RunID,
			"batches", outcome.Batches, "processed", outcome.TotalProcessed)
	}

	d.mu.Lock()
	delete(d.activeKeys, key)
	if err != nil {
		d.totalFailed++
	} else {
		d.totalProcessed++
	}
	d.mu.Unlock()
}
