package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fleetgate/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db)
}

func TestCreateAndGetMachine(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateMachine(ctx, types.MachineRecord{
		Name:        "gpu-box",
		DisplayName: "GPU Box",
		Hostname:    "gpu-box",
		IPAddress:   "10.0.0.7",
		OS:          "linux",
		Status:      types.StatusConnected,
		LastSeen:    time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	rec, err := s.GetMachine(ctx, id)
	if err != nil {
		t.Fatalf("GetMachine: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Hostname != "gpu-box" || rec.Status != types.StatusConnected {
		t.Errorf("record = %+v", rec)
	}
	if rec.LastSeen.IsZero() {
		t.Error("lastSeen should be set")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("createdAt should be set")
	}
}

func TestGetMachineAbsent(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.GetMachine(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("GetMachine: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestUpdateMachineStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateMachine(ctx, types.MachineRecord{Hostname: "node-1", Status: types.StatusUnknown})
	if err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}

	rec, err := s.GetMachine(ctx, id)
	if err != nil {
		t.Fatalf("GetMachine: %v", err)
	}
	rec.Status = types.StatusConnected
	rec.LastSeen = time.Now()
	if err := s.UpdateMachine(ctx, *rec); err != nil {
		t.Fatalf("UpdateMachine: %v", err)
	}

	got, err := s.GetMachine(ctx, id)
	if err != nil {
		t.Fatalf("GetMachine: %v", err)
	}
	if got.Status != types.StatusConnected {
		t.Errorf("status = %q, want connected", got.Status)
	}
	if got.LastSeen.IsZero() {
		t.Error("lastSeen should be refreshed")
	}
}

func TestUpdateMachineAbsent(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateMachine(context.Background(), types.MachineRecord{ID: "missing", Status: types.StatusUnknown})
	if err == nil {
		t.Fatal("expected error updating missing record")
	}
}

func TestListAndDeleteMachines(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var ids []string
	for _, host := range []string{"a", "b", "c"} {
		id, err := s.CreateMachine(ctx, types.MachineRecord{Hostname: host})
		if err != nil {
			t.Fatalf("CreateMachine(%s): %v", host, err)
		}
		ids = append(ids, id)
	}

	records, err := s.ListMachines(ctx)
	if err != nil {
		t.Fatalf("ListMachines: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	if err := s.DeleteMachine(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteMachine: %v", err)
	}
	records, err = s.ListMachines(ctx)
	if err != nil {
		t.Fatalf("ListMachines: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records after delete, want 2", len(records))
	}
}
