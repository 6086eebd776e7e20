package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/registry/internal/model"
)

func setupBackupTestDB(t *testing.T) *BackupStore {
	t.Helper()
	return NewBackupStore(openTestDB(t))
}

func TestBackupCreate(t *testing.T) {
	bs := setupBackupTestDB(t)

	b, err := bs.Create(context.Background(), "registry-2024.db.enc", "registry/2024-01-01T00:00:00Z.db.enc")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if b.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if b.Filename != "registry-2024.db.enc" {
		t.Errorf("filename = %q, want %q", b.Filename, "registry-2024.db.enc")
	}
	if b.Status != model.BackupStatusPending {
		t.Errorf("status = %q, want %q", b.Status, model.BackupStatusPending)
	}
}

func TestBackupGetByIDNotFound(t *testing.T) {
	bs := setupBackupTestDB(t)

	_, err := bs.GetByID(context.Background(), 999)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBackupUpdateStatus(t *testing.T) {
	ctx := context.Background()
	bs := setupBackupTestDB(t)

	b, _ := bs.Create(ctx, "test.db.enc", "registry/test.db.enc")

	if err := bs.UpdateStatus(ctx, b.ID, model.BackupStatusUploading, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := bs.GetByID(ctx, b.ID)
	if got.Status != model.BackupStatusUploading {
		t.Errorf("status = %q, want %q", got.Status, model.BackupStatusUploading)
	}

	if err := bs.UpdateStatus(ctx, b.ID, model.BackupStatusFailed, "upload failed"); err != nil {
		t.Fatalf("update status with error: %v", err)
	}
	got, _ = bs.GetByID(ctx, b.ID)
	if got.Status != model.BackupStatusFailed {
		t.Errorf("status = %q, want %q", got.Status, model.BackupStatusFailed)
	}
	if got.ErrorMessage != "upload failed" {
		t.Errorf("error_message = %q, want %q", got.ErrorMessage, "upload failed")
	}
}

func TestBackupUpdateCompleted(t *testing.T) {
	ctx := context.Background()
	bs := setupBackupTestDB(t)

	b, _ := bs.Create(ctx, "test.db.enc", "registry/test.db.enc")
	if err := bs.UpdateCompleted(ctx, b.ID, 1024*1024); err != nil {
		t.Fatalf("update completed: %v", err)
	}

	got, _ := bs.GetByID(ctx, b.ID)
	if got.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, model.BackupStatusCompleted)
	}
	if got.SizeBytes != 1024*1024 {
		t.Errorf("size_bytes = %d, want %d", got.SizeBytes, 1024*1024)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestBackupListOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	bs := setupBackupTestDB(t)

	bs.Create(ctx, "first.db.enc", "registry/first.db.enc")
	time.Sleep(10 * time.Millisecond)
	bs.Create(ctx, "second.db.enc", "registry/second.db.enc")
	time.Sleep(10 * time.Millisecond)
	bs.Create(ctx, "third.db.enc", "registry/third.db.enc")

	all, err := bs.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Filename != "third.db.enc" {
		t.Errorf("first entry = %q, want %q", all[0].Filename, "third.db.enc")
	}

	limited, err := bs.List(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len = %d, want 2", len(limited))
	}
}

func TestBackupDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	bs := setupBackupTestDB(t)

	bs.Create(ctx, "old.db.enc", "registry/old.db.enc")
	time.Sleep(50 * time.Millisecond)
	cutoff := time.Now().UTC()
	time.Sleep(50 * time.Millisecond)
	bs.Create(ctx, "new.db.enc", "registry/new.db.enc")

	keys, err := bs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if len(keys) != 1 || keys[0] != "registry/old.db.enc" {
		t.Fatalf("deleted keys = %v, want [registry/old.db.enc]", keys)
	}

	remaining, _ := bs.List(ctx, 10)
	if len(remaining) != 1 {
		t.Fatalf("remaining = %d, want 1", len(remaining))
	}
	if remaining[0].Filename != "new.db.enc" {
		t.Errorf("remaining = %q, want %q", remaining[0].Filename, "new.db.enc")
	}
}

func TestBackupLatestCompletedAndTotalSize(t *testing.T) {
	ctx := context.Background()
	bs := setupBackupTestDB(t)

	latest, err := bs.LatestCompleted(ctx)
	if err != nil {
		t.Fatalf("latest completed on empty table: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil, got %+v", latest)
	}

	b1, _ := bs.Create(ctx, "first.db.enc", "registry/first.db.enc")
	bs.UpdateCompleted(ctx, b1.ID, 1000)
	time.Sleep(10 * time.Millisecond)
	b2, _ := bs.Create(ctx, "second.db.enc", "registry/second.db.enc")
	bs.UpdateCompleted(ctx, b2.ID, 2500)
	b3, _ := bs.Create(ctx, "failed.db.enc", "registry/failed.db.enc")
	bs.UpdateStatus(ctx, b3.ID, model.BackupStatusFailed, "error")

	latest, err = bs.LatestCompleted(ctx)
	if err != nil {
		t.Fatalf("latest completed: %v", err)
	}
	if latest == nil || latest.Filename != "second.db.enc" {
		t.Fatalf("latest = %+v, want second.db.enc", latest)
	}

	total, err := bs.TotalSize(ctx)
	if err != nil {
		t.Fatalf("total size: %v", err)
	}
	if total != 3500 {
		t.Errorf("total = %d, want 3500", total)
	}
}
