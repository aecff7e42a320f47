package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/google/uuid"
)

func newTestQueue(t *testing.T) *LocalQueue {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q, err := OpenLocalQueue(filepath.Join(t.TempDir(), "local.db"), logger)
	if err != nil {
		t.Fatalf("OpenLocalQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func record(id string, at time.Time, payload string) models.Record {
	return models.Record{UUID: id, UpdatedAt: at, Payload: []byte(payload)}
}

func TestAppend_AssignsIncreasingKeysAsPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	base := models.Now()

	var keys []int64
	for i := 0; i < 3; i++ {
		id, err := q.Append(ctx, record(uuid.NewString(), base.Add(time.Duration(i)*time.Second), `{"firstName":"Ana"}`))
		if err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
		keys = append(keys, id)
	}

	if !(keys[0] < keys[1] && keys[1] < keys[2]) {
		t.Fatalf("keys not strictly increasing: %v", keys)
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i, rec := range pending {
		if rec.ID != keys[i] {
			t.Errorf("pending[%d].ID = %d, want %d (insertion order)", i, rec.ID, keys[i])
		}
		if rec.SyncStatus != models.StatusPending {
			t.Errorf("pending[%d] status = %s", i, rec.SyncStatus)
		}
		if rec.SyncedAt != nil {
			t.Errorf("pending[%d] has synced_at set", i)
		}
	}
}

func TestAppend_DuplicateUUID(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id := uuid.NewString()

	if _, err := q.Append(ctx, record(id, models.Now(), `{}`)); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	_, err := q.Append(ctx, record(id, models.Now(), `{}`))
	if !errors.Is(err, ErrDuplicateIdentifier) {
		t.Fatalf("second Append err = %v, want ErrDuplicateIdentifier", err)
	}

	all, _ := q.ListAll(ctx)
	if len(all) != 1 {
		t.Errorf("store holds %d records, want 1", len(all))
	}
}

func TestAppend_DefaultsUpdatedAt(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	before := models.Now()

	id := uuid.NewString()
	if _, err := q.Append(ctx, models.Record{UUID: id, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := q.GetByUUID(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("GetByUUID: %v, %v", got, err)
	}
	if got.UpdatedAt.Before(before) {
		t.Errorf("UpdatedAt %v earlier than %v", got.UpdatedAt, before)
	}
}

func TestMarkSynced_Idempotent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Append(ctx, record(uuid.NewString(), models.Now(), `{}`))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	at := models.Now()

	for i := 0; i < 2; i++ {
		if err := q.MarkSynced(ctx, id, at); err != nil {
			t.Fatalf("MarkSynced #%d: %v", i, err)
		}
	}

	all, _ := q.ListAll(ctx)
	if all[0].SyncStatus != models.StatusSynced {
		t.Errorf("status = %s, want synced", all[0].SyncStatus)
	}
	if all[0].SyncedAt == nil || !all[0].SyncedAt.Equal(at) {
		t.Errorf("synced_at = %v, want %v", all[0].SyncedAt, at)
	}

	pending, _ := q.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("synced record still pending")
	}
}

func TestMarkSynced_UnknownKey(t *testing.T) {
	q := newTestQueue(t)
	err := q.MarkSynced(context.Background(), 42, models.Now())
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestMarkFailedAndRequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, _ := q.Append(ctx, record(uuid.NewString(), models.Now(), `{}`))
	if err := q.MarkFailed(ctx, id); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	counts, err := q.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[models.StatusFailed] != 1 || counts[models.StatusPending] != 0 {
		t.Fatalf("counts = %v", counts)
	}

	n, err := q.RequeueFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RequeueFailed = %d, %v", n, err)
	}
	if c, _ := q.PendingCount(ctx); c != 1 {
		t.Errorf("PendingCount = %d, want 1", c)
	}
}

func TestUpsertByUUID_LastWriteWins(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id := uuid.NewString()
	t0 := models.NormalizeTime(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	out, err := q.UpsertByUUID(ctx, record(id, t0, `{"v":1}`))
	if err != nil || out != OutcomeInserted {
		t.Fatalf("first upsert = %s, %v", out, err)
	}

	tests := []struct {
		name    string
		at      time.Time
		payload string
		want    UpsertOutcome
		stored  string
	}{
		{"older is ignored", t0.Add(-time.Minute), `{"v":0}`, OutcomeIgnored, `{"v":1}`},
		{"equal keeps local", t0, `{"v":9}`, OutcomeIgnored, `{"v":1}`},
		{"newer replaces", t0.Add(time.Minute), `{"v":2}`, OutcomeUpdated, `{"v":2}`},
		{"replay of newer is a no-op", t0.Add(time.Minute), `{"v":2}`, OutcomeIgnored, `{"v":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := q.UpsertByUUID(ctx, record(id, tt.at, tt.payload))
			if err != nil {
				t.Fatalf("UpsertByUUID: %v", err)
			}
			if out != tt.want {
				t.Errorf("outcome = %s, want %s", out, tt.want)
			}
			got, _ := q.GetByUUID(ctx, id)
			if string(got.Payload) != tt.stored {
				t.Errorf("payload = %s, want %s", got.Payload, tt.stored)
			}
			if got.SyncStatus != models.StatusSynced {
				t.Errorf("status = %s, want synced", got.SyncStatus)
			}
		})
	}
}

func TestUpsertByUUID_ReplacesPendingWhenRemoteNewer(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id := uuid.NewString()
	t0 := models.Now()

	if _, err := q.Append(ctx, record(id, t0, `{"local":true}`)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	out, err := q.UpsertByUUID(ctx, record(id, t0.Add(time.Second), `{"remote":true}`))
	if err != nil || out != OutcomeUpdated {
		t.Fatalf("upsert = %s, %v", out, err)
	}
	if c, _ := q.PendingCount(ctx); c != 0 {
		t.Errorf("record superseded by remote should no longer be pending")
	}
}

func TestLatestUpdatedAt(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	got, err := q.LatestUpdatedAt(ctx)
	if err != nil {
		t.Fatalf("LatestUpdatedAt: %v", err)
	}
	if !got.Equal(models.EpochZero) {
		t.Errorf("empty store = %v, want epoch zero", got)
	}

	t1 := models.NormalizeTime(time.Date(2024, 1, 9, 8, 0, 0, 123456000, time.UTC))
	t2 := t1.Add(90 * time.Minute)
	q.Append(ctx, record(uuid.NewString(), t2, `{}`))
	q.Append(ctx, record(uuid.NewString(), t1, `{}`))

	got, err = q.LatestUpdatedAt(ctx)
	if err != nil {
		t.Fatalf("LatestUpdatedAt: %v", err)
	}
	if !got.Equal(t2) {
		t.Errorf("latest = %v, want %v", got, t2)
	}
}

func TestLocalQueue_SurvivesReopen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	q, err := OpenLocalQueue(path, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id := uuid.NewString()
	if _, err := q.Append(ctx, record(id, models.Now(), `{"firstName":"Kemi"}`)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	q.Close()

	q, err = OpenLocalQueue(path, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q.Close()

	pending, _ := q.ListPending(ctx)
	if len(pending) != 1 || pending[0].UUID != id {
		t.Fatalf("pending after reopen = %+v", pending)
	}
}
