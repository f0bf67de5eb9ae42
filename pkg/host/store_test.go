package host

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/morezero/extension-workers/pkg/db"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for want := 1; want <= 3; want++ {
		id, err := s.NextWorkerID(ctx)
		if err != nil || id != want {
			t.Fatalf("host:store_test - NextWorkerID = %d, %v; want %d", id, err, want)
		}
	}

	if err := s.AddService(ctx, 1, "extension.1.0"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("host:store_test - AddService for unknown worker err = %v", err)
	}

	if err := s.SaveWorker(ctx, db.WorkerRecord{ID: 2, Location: "builtin://math", State: StateAllocated}); err != nil {
		t.Fatalf("host:store_test - SaveWorker: %v", err)
	}
	if err := s.SaveWorker(ctx, db.WorkerRecord{ID: 1, Location: "builtin://text", State: StateAllocated}); err != nil {
		t.Fatalf("host:store_test - SaveWorker: %v", err)
	}
	for _, name := range []string{"extension.2.1", "extension.2.0", "extension.2.0"} {
		if err := s.AddService(ctx, 2, name); err != nil {
			t.Fatalf("host:store_test - AddService: %v", err)
		}
	}
	if err := s.SaveWorker(ctx, db.WorkerRecord{ID: 2, Location: "builtin://math", State: StateFailed, Error: "boom"}); err != nil {
		t.Fatalf("host:store_test - SaveWorker update: %v", err)
	}

	rec, err := s.GetWorker(ctx, 2)
	if err != nil {
		t.Fatalf("host:store_test - GetWorker: %v", err)
	}
	if rec.State != StateFailed || rec.Error != "boom" || !reflect.DeepEqual(rec.Services, []string{"extension.2.0", "extension.2.1"}) {
		t.Errorf("host:store_test - unexpected record %+v", rec)
	}
	if rec.Created.IsZero() || rec.Updated.Before(rec.Created) {
		t.Errorf("host:store_test - bad timestamps %+v", rec)
	}

	all, err := s.ListWorkers(ctx)
	if err != nil || len(all) != 2 || all[0].ID != 1 || all[1].ID != 2 {
		t.Errorf("host:store_test - ListWorkers = %+v, %v", all, err)
	}

	if err := s.DeleteWorker(ctx, 2); err != nil {
		t.Fatalf("host:store_test - DeleteWorker: %v", err)
	}
	if _, err := s.GetWorker(ctx, 2); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("host:store_test - GetWorker after delete err = %v", err)
	}
	if err := s.DeleteWorker(ctx, 2); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("host:store_test - second DeleteWorker err = %v", err)
	}
}
