package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Guizzs26/hff-sync/internal/db"
	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/google/uuid"
)

type engineFixture struct {
	local  *db.LocalQueue
	remote *fakeRemote
	conn   *fakeConn
	events <-chan models.SyncEvent
	engine *Engine
}

func newEngineFixture(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	n := NewNotifier()
	events, cancel := n.Subscribe(64)
	t.Cleanup(cancel)

	f := &engineFixture{
		local:  newLocalQueue(t),
		remote: newFakeRemote(),
		conn:   newFakeConn(true),
		events: events,
	}
	f.engine = NewEngine(f.local, f.remote, f.conn, n, cfg, discardLogger())
	return f
}

func (f *engineFixture) appendN(t *testing.T, n int) []string {
	t.Helper()
	base := models.Now()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.NewString()
		rec := models.Record{
			UUID:      ids[i],
			UpdatedAt: base.Add(time.Duration(i) * time.Millisecond),
			Payload:   []byte(`{"firstName":"Ada"}`),
		}
		if _, err := f.local.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return ids
}

func TestPush_SyncsAllPendingRecords(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	f.appendN(t, 3)

	res, err := f.engine.Push(ctx)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if res.Skipped != nil || res.Synced != 3 || res.Failed != 0 || res.Aborted {
		t.Fatalf("result = %+v", res)
	}

	if n, _ := f.local.PendingCount(ctx); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
	if f.remote.rowCount() != 3 {
		t.Errorf("remote rows = %d, want 3", f.remote.rowCount())
	}

	complete := ofKind(drain(f.events), models.EventPushCycleComplete)
	if len(complete) != 1 || complete[0].Synced != 3 {
		t.Errorf("push_cycle_complete events = %+v", complete)
	}
}

func TestPush_IdempotentAfterPartialFailure(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	f.appendN(t, 4)

	// Third call drops the connection
	f.remote.failOnCall = 3
	if _, err := f.engine.Push(ctx); err != nil {
		t.Fatalf("first Push: %v", err)
	}

	f.remote.failOnCall = 0
	f.conn.reachable.Store(true)

	// Replaying the same pending set twice must never add rows
	for i := 0; i < 2; i++ {
		if _, err := f.engine.Push(ctx); err != nil {
			t.Fatalf("Push #%d: %v", i+2, err)
		}
	}

	if f.remote.rowCount() != 4 {
		t.Errorf("remote rows = %d, want exactly 4", f.remote.rowCount())
	}
	if n, _ := f.local.PendingCount(ctx); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestPush_RejectionIsolatedToOneRecord(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	ids := f.appendN(t, 3)
	f.remote.reject[ids[1]] = "firstName is required"

	res, err := f.engine.Push(ctx)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if res.Synced != 2 || res.Failed != 1 || res.Aborted {
		t.Fatalf("result = %+v, want 2 synced, 1 failed", res)
	}
	if !f.conn.Reachable() {
		t.Error("a rejection must not flip reachability")
	}

	want := map[string]models.SyncStatus{
		ids[0]: models.StatusSynced,
		ids[1]: models.StatusFailed,
		ids[2]: models.StatusSynced,
	}
	for id, status := range want {
		rec, err := f.local.GetByUUID(ctx, id)
		if err != nil || rec == nil {
			t.Fatalf("GetByUUID(%s): %v", id, err)
		}
		if rec.SyncStatus != status {
			t.Errorf("%s status = %s, want %s", id, rec.SyncStatus, status)
		}
	}
}

func TestPush_TransportErrorAbortsCycle(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	f.appendN(t, 5)
	f.remote.failOnCall = 2

	res, err := f.engine.Push(ctx)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !res.Aborted || res.Synced != 1 {
		t.Fatalf("result = %+v, want aborted after 1 synced", res)
	}
	if got := f.remote.callCount(); got != 2 {
		t.Errorf("remote calls = %d, want 2 (no attempts after the failure)", got)
	}
	if n, _ := f.local.PendingCount(ctx); n != 4 {
		t.Errorf("pending = %d, want 4", n)
	}
	if f.conn.Reachable() {
		t.Error("transport error should mark the remote unreachable")
	}
}

func TestPush_SingleFlight(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	f.appendN(t, 1)

	f.remote.entered = make(chan struct{})
	f.remote.release = make(chan struct{})

	done := make(chan PushResult)
	go func() {
		res, _ := f.engine.Push(ctx)
		done <- res
	}()

	<-f.remote.entered
	if f.engine.PushState() != Running {
		t.Errorf("state = %s, want running", f.engine.PushState())
	}

	res, err := f.engine.Push(ctx)
	if err != nil {
		t.Fatalf("overlapping Push: %v", err)
	}
	if !errors.Is(res.Skipped, ErrInFlight) {
		t.Errorf("overlapping Push skipped = %v, want ErrInFlight", res.Skipped)
	}

	close(f.remote.release)
	first := <-done

	if first.Synced != 1 {
		t.Errorf("first Push synced = %d, want 1", first.Synced)
	}
	if f.remote.callCount() != 1 {
		t.Errorf("remote calls = %d, want 1", f.remote.callCount())
	}
	if f.engine.PushState() != Idle {
		t.Errorf("state after cycle = %s, want idle", f.engine.PushState())
	}
}

func TestPush_SkipsWhenUnreachable(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.appendN(t, 2)
	f.conn.reachable.Store(false)

	res, err := f.engine.Push(context.Background())
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !errors.Is(res.Skipped, ErrUnreachable) {
		t.Errorf("skipped = %v, want ErrUnreachable", res.Skipped)
	}
	if f.remote.callCount() != 0 {
		t.Error("remote must not be contacted while unreachable")
	}
	if events := drain(f.events); len(events) != 0 {
		t.Errorf("skipped cycle emitted %d events", len(events))
	}
}

func TestPush_NotifiesWithZeroPending(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})

	if _, err := f.engine.Push(context.Background()); err != nil {
		t.Fatalf("Push: %v", err)
	}

	complete := ofKind(drain(f.events), models.EventPushCycleComplete)
	if len(complete) != 1 {
		t.Fatalf("push_cycle_complete events = %d, want 1", len(complete))
	}
}

func TestPush_RequeueFailedOption(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{RequeueFailed: true})
	ctx := context.Background()
	ids := f.appendN(t, 1)

	f.remote.reject[ids[0]] = "bad payload"
	res, _ := f.engine.Push(ctx)
	if res.Failed != 1 {
		t.Fatalf("first Push = %+v", res)
	}

	delete(f.remote.reject, ids[0])
	res, err := f.engine.Push(ctx)
	if err != nil {
		t.Fatalf("second Push: %v", err)
	}
	if res.Requeued != 1 || res.Synced != 1 {
		t.Errorf("second Push = %+v, want requeued and synced", res)
	}
}

func TestPull_FetchesStrictlyNewerAndMerges(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	t0 := models.NormalizeTime(time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC))

	local := uuid.NewString()
	f.local.Append(ctx, models.Record{UUID: local, UpdatedAt: t0, Payload: []byte(`{}`)})

	sameInstant := uuid.NewString()
	newer := uuid.NewString()
	f.remote.put(models.RemoteRecord{UUID: sameInstant, UpdatedAt: t0, Payload: []byte(`{"n":0}`)})
	f.remote.put(models.RemoteRecord{UUID: newer, UpdatedAt: t0.Add(time.Second), Payload: []byte(`{"n":1}`)})

	res, err := f.engine.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if !res.Since.Equal(t0) {
		t.Errorf("since = %v, want %v", res.Since, t0)
	}
	if res.Fetched != 1 || res.Inserted != 1 {
		t.Fatalf("result = %+v, want exactly the newer record", res)
	}

	if rec, _ := f.local.GetByUUID(ctx, sameInstant); rec != nil {
		t.Error("record with updated_at equal to the watermark must not be pulled")
	}
	rec, _ := f.local.GetByUUID(ctx, newer)
	if rec == nil || rec.SyncStatus != models.StatusSynced {
		t.Fatalf("pulled record = %+v", rec)
	}

	updated := ofKind(drain(f.events), models.EventPullDataUpdated)
	if len(updated) != 1 || updated[0].Inserted != 1 {
		t.Errorf("pull_data_updated events = %+v", updated)
	}
}

func TestPull_LastWriteWins(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	t0 := models.NormalizeTime(time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC))
	id := uuid.NewString()

	f.local.Append(ctx, models.Record{UUID: id, UpdatedAt: t0, Payload: []byte(`{"v":"local"}`)})

	// An older copy arriving from the remote never replaces the local one
	older, err := f.local.UpsertByUUID(ctx, models.Record{UUID: id, UpdatedAt: t0.Add(-time.Hour), Payload: []byte(`{"v":"old"}`)})
	if err != nil {
		t.Fatalf("UpsertByUUID: %v", err)
	}
	if older != db.OutcomeIgnored {
		t.Errorf("older remote copy outcome = %s, want ignored", older)
	}

	f.remote.put(models.RemoteRecord{UUID: id, UpdatedAt: t0.Add(time.Hour), Payload: []byte(`{"v":"remote"}`)})
	res, err := f.engine.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("result = %+v, want 1 updated", res)
	}

	rec, _ := f.local.GetByUUID(ctx, id)
	if string(rec.Payload) != `{"v":"remote"}` {
		t.Errorf("payload = %s, newer remote copy should win", rec.Payload)
	}
}

func TestPull_EmptyResultEmitsNothing(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})

	res, err := f.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if !res.Since.Equal(models.EpochZero) {
		t.Errorf("since on empty store = %v, want epoch zero", res.Since)
	}
	if events := drain(f.events); len(events) != 0 {
		t.Errorf("empty pull emitted %+v", events)
	}
}

func TestPull_TransportErrorFlipsReachability(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.remote.queryErr = &TransportError{Op: "query", Err: errConnRefused}

	res, err := f.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull returned %v, transport errors should not propagate", err)
	}
	if !res.Aborted {
		t.Error("expected aborted pull")
	}
	if f.conn.Reachable() {
		t.Error("expected remote to be marked unreachable")
	}
}

func TestPull_SkipsWhenUnreachable(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.conn.reachable.Store(false)

	res, _ := f.engine.Pull(context.Background())
	if !errors.Is(res.Skipped, ErrUnreachable) {
		t.Errorf("skipped = %v, want ErrUnreachable", res.Skipped)
	}
	if len(f.remote.queries) != 0 {
		t.Error("remote must not be queried while unreachable")
	}
}

func TestPull_SingleFlight(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	f.remote.put(models.RemoteRecord{UUID: uuid.NewString(), UpdatedAt: models.Now(), Payload: []byte(`{}`)})

	f.remote.entered = make(chan struct{})
	f.remote.release = make(chan struct{})

	done := make(chan PullResult)
	go func() {
		res, _ := f.engine.Pull(ctx)
		done <- res
	}()

	<-f.remote.entered
	if f.engine.PullState() != Running {
		t.Errorf("state = %s, want running", f.engine.PullState())
	}

	res, err := f.engine.Pull(ctx)
	if err != nil {
		t.Fatalf("overlapping Pull: %v", err)
	}
	if !errors.Is(res.Skipped, ErrInFlight) {
		t.Errorf("overlapping Pull skipped = %v, want ErrInFlight", res.Skipped)
	}

	close(f.remote.release)
	first := <-done

	if first.Fetched != 1 || first.Inserted != 1 {
		t.Errorf("first Pull = %+v, want one inserted record", first)
	}
	if f.remote.queryCount() != 1 {
		t.Errorf("remote queries = %d, want 1", f.remote.queryCount())
	}
	if f.engine.PullState() != Idle {
		t.Errorf("state after cycle = %s, want idle", f.engine.PullState())
	}
}
