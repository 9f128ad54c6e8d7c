package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yoockh/anamnesi/internal/logger"
	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/services"
)

// storeRecorder is the worker side of the archive: only Store is used.
type storeRecorder struct {
	mu       sync.Mutex
	stored   []models.InterviewRecord
	failures int // Store fails this many times before succeeding
}

func (s *storeRecorder) Archive(context.Context, *models.InterviewRecord) error {
	return errors.New("not used")
}

func (s *storeRecorder) Store(_ context.Context, rec *models.InterviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("database down")
	}
	s.stored = append(s.stored, *rec)
	return nil
}

func (s *storeRecorder) List(context.Context, string, bool, int) ([]models.InterviewRecord, error) {
	return nil, nil
}

func (s *storeRecorder) Get(context.Context, string, string, bool) (*models.InterviewRecord, error) {
	return nil, nil
}

func (s *storeRecorder) snapshot() []models.InterviewRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InterviewRecord(nil), s.stored...)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func pendingCount(t *testing.T, rdb *redis.Client, stream, group string) int64 {
	t.Helper()
	p, err := rdb.XPending(context.Background(), stream, group).Result()
	if err != nil {
		t.Fatalf("XPending: %v", err)
	}
	return p.Count
}

func TestArchiveWorkerPoolStoresQueuedRecords(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &storeRecorder{}
	pool := &ArchiveWorkerPool{Redis: rdb, Archive: sink, NumWorkers: 2, Logger: logger.Discard()}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	producer := services.NewArchiveService(nil, rdb, "")
	for cycle := int64(1); cycle <= 3; cycle++ {
		rec := &models.InterviewRecord{InterviewID: "11111111-1111-1111-1111-111111111111", OwnerID: "doc-1", Cycle: cycle, Transcript: "t"}
		if err := producer.Archive(ctx, rec); err != nil {
			t.Fatalf("Archive: %v", err)
		}
	}

	waitFor(t, "three stored records", func() bool { return len(sink.snapshot()) == 3 })
	seen := map[int64]bool{}
	for _, r := range sink.snapshot() {
		if r.ID == "" || r.OwnerID != "doc-1" {
			t.Fatalf("stored record = %+v", r)
		}
		seen[r.Cycle] = true
	}
	if len(seen) != 3 {
		t.Fatalf("cycles stored = %v", seen)
	}
	waitFor(t, "acks", func() bool { return pendingCount(t, rdb, services.DefaultArchiveStream, "archive-workers") == 0 })
}

func TestArchiveWorkerPoolAcksMalformedMessages(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &storeRecorder{}
	pool := &ArchiveWorkerPool{Redis: rdb, Archive: sink, NumWorkers: 1, Logger: logger.Discard(), Stream: "test:archive"}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, values := range []map[string]any{
		{"record": "{not json"},
		{"other": "field"},
		{"record": `{"id":"x"}`},
	} {
		if err := rdb.XAdd(ctx, &redis.XAddArgs{Stream: "test:archive", Values: values}).Err(); err != nil {
			t.Fatalf("XAdd: %v", err)
		}
	}

	// a single consumer reads in order, so the valid record lands last
	producer := services.NewArchiveService(nil, rdb, "test:archive")
	if err := producer.Archive(ctx, &models.InterviewRecord{InterviewID: "33333333-3333-3333-3333-333333333333", Cycle: 1}); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	waitFor(t, "valid record stored", func() bool { return len(sink.snapshot()) == 1 })
	waitFor(t, "malformed messages acked", func() bool { return pendingCount(t, rdb, "test:archive", "archive-workers") == 0 })
	if got := sink.snapshot(); got[0].InterviewID != "33333333-3333-3333-3333-333333333333" {
		t.Fatalf("stored = %+v", got)
	}
}

func TestArchiveWorkerPoolReclaimsFailedStores(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &storeRecorder{failures: 1}
	pool := &ArchiveWorkerPool{
		Redis:       rdb,
		Archive:     sink,
		NumWorkers:  1,
		Logger:      logger.Discard(),
		ReclaimIdle: 50 * time.Millisecond,
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	producer := services.NewArchiveService(nil, rdb, "")
	if err := producer.Archive(ctx, &models.InterviewRecord{InterviewID: "22222222-2222-2222-2222-222222222222", OwnerID: "doc-1", Cycle: 1}); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	waitFor(t, "reclaimed record stored", func() bool { return len(sink.snapshot()) == 1 })
	waitFor(t, "ack after reclaim", func() bool { return pendingCount(t, rdb, services.DefaultArchiveStream, "archive-workers") == 0 })
}

func TestArchiveWorkerPoolRequiresDeps(t *testing.T) {
	if err := (&ArchiveWorkerPool{}).Start(context.Background()); err == nil {
		t.Fatal("Start without deps succeeded")
	}
}
