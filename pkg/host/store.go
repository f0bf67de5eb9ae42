package host

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/morezero/extension-workers/pkg/db"
)

// WorkerStore persists worker lifecycle records. *db.Repository is the
// Postgres implementation; MemoryStore is used when no database is set.
type WorkerStore interface {
	NextWorkerID(ctx context.Context) (int, error)
	SaveWorker(ctx context.Context, rec db.WorkerRecord) error
	AddService(ctx context.Context, workerID int, serviceName string) error
	GetWorker(ctx context.Context, id int) (*db.WorkerRecord, error)
	ListWorkers(ctx context.Context) ([]db.WorkerRecord, error)
	DeleteWorker(ctx context.Context, id int) error
}

var _ WorkerStore = (*db.Repository)(nil)

// MemoryStore keeps worker records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	lastID  int
	workers map[int]*db.WorkerRecord
	owner   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workers: make(map[int]*db.WorkerRecord), owner: make(map[string]int)}
}

func (s *MemoryStore) NextWorkerID(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	return s.lastID, nil
}

func (s *MemoryStore) SaveWorker(_ context.Context, rec db.WorkerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := s.workers[rec.ID]
	if !ok {
		existing = &db.WorkerRecord{ID: rec.ID, Created: now}
		s.workers[rec.ID] = existing
	}
	existing.Location = rec.Location
	existing.State = rec.State
	existing.Error = rec.Error
	existing.Updated = now
	return nil
}

func (s *MemoryStore) AddService(_ context.Context, workerID int, serviceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.workers[workerID]
	if !ok {
		return db.ErrNotFound
	}
	if _, taken := s.owner[serviceName]; taken {
		return nil
	}
	s.owner[serviceName] = workerID
	rec.Services = append(rec.Services, serviceName)
	sort.Strings(rec.Services)
	return nil
}

func (s *MemoryStore) GetWorker(_ context.Context, id int) (*db.WorkerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.workers[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *rec
	cp.Services = append([]string{}, rec.Services...)
	return &cp, nil
}

func (s *MemoryStore) ListWorkers(ctx context.Context) ([]db.WorkerRecord, error) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Ints(ids)

	out := make([]db.WorkerRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetWorker(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *MemoryStore) DeleteWorker(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.workers[id]
	if !ok {
		return db.ErrNotFound
	}
	for _, name := range rec.Services {
		delete(s.owner, name)
	}
	delete(s.workers, id)
	return nil
}
