package daemon

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"converter/parsers"
	"converter/syncer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testJob(dir, parser string) QueueJob {
	return QueueJob{
		ReceiverDB: filepath.Join(dir, "receiver.db"),
		CatalogDB:  filepath.Join(dir, "catalog.db"),
		ParserName: parser,
	}
}

func TestEnqueue_Dedupe(t *testing.T) {
	daemon := NewDaemon(nil, 10, testLogger())
	dir := t.TempDir()

	first := daemon.Enqueue(testJob(dir, "fixprice"))
	if !first.Accepted || first.Duplicate {
		t.Fatalf("first enqueue = %+v, want accepted", first)
	}

	// Тот же ключ, другой регистр парсера: дубликат.
	second := daemon.Enqueue(testJob(dir, "FixPrice"))
	if second.Accepted || !second.Duplicate || second.Reason != "duplicate" {
		t.Fatalf("second enqueue = %+v, want duplicate", second)
	}

	// Другой парсер образует другой ключ.
	third := daemon.Enqueue(testJob(dir, "chizhik"))
	if !third.Accepted {
		t.Fatalf("third enqueue = %+v, want accepted", third)
	}

	snapshot := daemon.Snapshot()
	if snapshot.QueueSize != 2 {
		t.Errorf("QueueSize = %d, want 2", snapshot.QueueSize)
	}
	if snapshot.PendingJobs != 2 {
		t.Errorf("PendingJobs = %d, want 2", snapshot.PendingJobs)
	}
	if snapshot.TotalEnqueued != 2 || snapshot.TotalDuplicates != 1 {
		t.Errorf("counters = %+v, want 2 enqueued, 1 duplicate", snapshot)
	}
}

func TestEnqueue_QueueFull(t *testing.T) {
	daemon := NewDaemon(nil, 1, testLogger())
	dirA := t.TempDir()
	dirB := t.TempDir()

	if result := daemon.Enqueue(testJob(dirA, "fixprice")); !result.Accepted {
		t.Fatalf("first enqueue = %+v, want accepted", result)
	}

	overflow := daemon.Enqueue(testJob(dirB, "fixprice"))
	if overflow.Accepted || overflow.Duplicate || overflow.Reason != "queue_full" {
		t.Fatalf("overflow enqueue = %+v, want queue_full", overflow)
	}

	// Отклоненный ключ не остается в pending и может быть поставлен позже.
	snapshot := daemon.Snapshot()
	if snapshot.PendingJobs != 1 {
		t.Errorf("PendingJobs = %d, want 1", snapshot.PendingJobs)
	}
}

func TestDedupeKey_Defaults(t *testing.T) {
	job := QueueJob{ReceiverDB: " /data/r.db ", CatalogDB: "/data/c.db"}
	key := job.DedupeKey()
	if key != [3]string{"/data/r.db", "/data/c.db", "fixprice"} {
		t.Errorf("DedupeKey = %v", key)
	}
}

func TestStop_DrainsQueue(t *testing.T) {
	// Файлы без receiver-схемы: задания завершаются ошибкой,
	// но воркер обязан добрать очередь и посчитать их.
	service := syncer.NewService(parsers.NewBuiltinRegistry(), syncer.WithLogger(testLogger()))
	daemon := NewDaemon(service, 10, testLogger())

	dirA := t.TempDir()
	dirB := t.TempDir()
	daemon.Enqueue(testJob(dirA, "fixprice"))
	daemon.Enqueue(testJob(dirB, "fixprice"))

	daemon.Start()
	daemon.Stop(5 * time.Second)

	snapshot := daemon.Snapshot()
	if snapshot.Running {
		t.Error("daemon must not report running after Stop")
	}
	if got := snapshot.TotalProcessed + snapshot.TotalFailed; got != 2 {
		t.Errorf("processed+failed = %d, want 2 (queue drained)", got)
	}
	if snapshot.QueueSize != 0 || snapshot.PendingJobs != 0 || snapshot.ActiveJobs != 0 {
		t.Errorf("snapshot = %+v, want empty queue", snapshot)
	}
}

func TestStart_Idempotent(t *testing.T) {
	service := syncer.NewService(parsers.NewBuiltinRegistry(), syncer.WithLogger(testLogger()))
	daemon := NewDaemon(service, 1, testLogger())

	daemon.Start()
	daemon.Start()
	if !daemon.Snapshot().Running {
		t.Error("daemon must report running after Start")
	}
	daemon.Stop(time.Second)
}
