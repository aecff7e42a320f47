package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/hff-sync/internal/db"
	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/pkg/metrics"
)

const DefaultRequestTimeout = 15 * time.Second

// LocalStore defines the contract of the client's durable queue
type LocalStore interface {
	ListPending(ctx context.Context) ([]models.Record, error)
	MarkSynced(ctx context.Context, id int64, syncedAt time.Time) error
	MarkFailed(ctx context.Context, id int64) error
	UpsertByUUID(ctx context.Context, rec models.Record) (db.UpsertOutcome, error)
	LatestUpdatedAt(ctx context.Context) (time.Time, error)
	PendingCount(ctx context.Context) (int, error)
	RequeueFailed(ctx context.Context) (int64, error)
}

// RemoteStore defines the contract of the remote system of record.
// Upsert returns nil on ack, a *RejectionError when the record is refused,
// and any other error for transport failures.
type RemoteStore interface {
	Upsert(ctx context.Context, rec models.RemoteRecord) error
	QuerySince(ctx context.Context, since time.Time) ([]models.RemoteRecord, error)
}

// Reachability is the part of the connectivity monitor the engine consults
type Reachability interface {
	Reachable() bool
	MarkUnreachable(reason string)
}

// CycleState is the per-operation state of a sync cycle
type CycleState int32

const (
	Idle CycleState = iota
	Running
)

func (s CycleState) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// cycleGuard lets at most one cycle of an operation run at a time
type cycleGuard struct {
	state atomic.Int32
}

func (g *cycleGuard) tryAcquire() bool {
	return g.state.CompareAndSwap(int32(Idle), int32(Running))
}

func (g *cycleGuard) release() {
	g.state.Store(int32(Idle))
}

func (g *cycleGuard) State() CycleState {
	return CycleState(g.state.Load())
}

// PushResult summarizes one push invocation
type PushResult struct {
	Skipped   error // ErrInFlight or ErrUnreachable when the cycle did not run
	Requeued  int64
	Attempted int
	Synced    int
	Failed    int
	Aborted   bool
}

// PullResult summarizes one pull invocation
type PullResult struct {
	Skipped  error
	Since    time.Time
	Fetched  int
	Inserted int
	Updated  int
	Ignored  int
	Aborted  bool
}

type EngineConfig struct {
	RequestTimeout time.Duration
	// RequeueFailed moves failed records back to pending at the start of every push cycle
	RequeueFailed bool
}

// Engine moves registrations between the local durable queue and the remote store
type Engine struct {
	local    LocalStore
	remote   RemoteStore
	conn     Reachability
	notifier *Notifier
	logger   *slog.Logger
	cfg      EngineConfig

	push cycleGuard
	pull cycleGuard
}

func NewEngine(local LocalStore, remote RemoteStore, conn Reachability, n *Notifier, cfg EngineConfig, l *slog.Logger) *Engine {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Engine{
		local:    local,
		remote:   remote,
		conn:     conn,
		notifier: n,
		logger:   l,
		cfg:      cfg,
	}
}

// PushState reports whether a push cycle is running
func (e *Engine) PushState() CycleState { return e.push.State() }

// PullState reports whether a pull cycle is running
func (e *Engine) PullState() CycleState { return e.pull.State() }

// Push drains pending records to the remote store one at a time.
// A rejection fails only that record; a transport error aborts the rest of the cycle.
// The returned error is reserved for local storage failures.
func (e *Engine) Push(ctx context.Context) (res PushResult, err error) {
	if !e.push.tryAcquire() {
		metrics.CyclesSkipped.WithLabelValues("push", "in_flight").Inc()
		res.Skipped = ErrInFlight
		return res, nil
	}
	defer e.push.release()

	if !e.conn.Reachable() {
		metrics.CyclesSkipped.WithLabelValues("push", "unreachable").Inc()
		res.Skipped = ErrUnreachable
		return res, nil
	}

	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues("push").Observe(time.Since(start).Seconds())
		e.refreshBacklog(ctx)

		e.notifier.Publish(models.SyncEvent{
			Kind:    models.EventPushCycleComplete,
			Synced:  res.Synced,
			Failed:  res.Failed,
			Aborted: res.Aborted || err != nil,
		})

		if res.Attempted > 0 {
			e.logger.Info("Push cycle telemetry",
				"attempted", res.Attempted,
				"synced", res.Synced,
				"failed", res.Failed,
				"aborted", res.Aborted,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}()

	if e.cfg.RequeueFailed {
		n, rerr := e.local.RequeueFailed(ctx)
		if rerr != nil {
			return res, fmt.Errorf("requeue failed records: %w", rerr)
		}
		res.Requeued = n
		if n > 0 {
			e.logger.Info("Requeued failed records", "count", n)
		}
	}

	pending, err := e.local.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending: %w", err)
	}

	for _, rec := range pending {
		l := e.logger.With("uuid", rec.UUID, "local_id", rec.ID)
		res.Attempted++

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		uerr := e.remote.Upsert(callCtx, rec.Remote())
		cancel()

		if uerr != nil {
			var rej *RejectionError
			if errors.As(uerr, &rej) {
				l.Warn("Record rejected by remote store", "reason", rej.Reason)
				if err := e.local.MarkFailed(ctx, rec.ID); err != nil {
					return res, fmt.Errorf("mark failed %s: %w", rec.UUID, err)
				}
				res.Failed++
				metrics.PushRecords.WithLabelValues("failed").Inc()
				continue
			}

			// Connectivity presumed lost: stop instead of hammering a dead endpoint
			l.Error("Remote upsert failed, aborting push cycle", "error", uerr)
			e.conn.MarkUnreachable("push_transport_error")
			res.Aborted = true
			metrics.PushRecords.WithLabelValues("aborted").Inc()
			return res, nil
		}

		if err := e.local.MarkSynced(ctx, rec.ID, models.Now()); err != nil {
			l.Error("Record acked but failed to update local status", "error", err)
			return res, fmt.Errorf("mark synced %s: %w", rec.UUID, err)
		}
		res.Synced++
		metrics.PushRecords.WithLabelValues("synced").Inc()
	}

	return res, nil
}

// Pull fetches remote records strictly newer than the newest local one and merges them last-write-wins.
// Transport errors flip reachability and are not returned.
func (e *Engine) Pull(ctx context.Context) (res PullResult, err error) {
	if !e.pull.tryAcquire() {
		metrics.CyclesSkipped.WithLabelValues("pull", "in_flight").Inc()
		res.Skipped = ErrInFlight
		return res, nil
	}
	defer e.pull.release()

	if !e.conn.Reachable() {
		metrics.CyclesSkipped.WithLabelValues("pull", "unreachable").Inc()
		res.Skipped = ErrUnreachable
		return res, nil
	}

	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues("pull").Observe(time.Since(start).Seconds())
	}()

	since, err := e.local.LatestUpdatedAt(ctx)
	if err != nil {
		return res, fmt.Errorf("latest updated_at: %w", err)
	}
	res.Since = since

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	records, qerr := e.remote.QuerySince(callCtx, since)
	cancel()

	if qerr != nil {
		res.Aborted = true
		if IsRejection(qerr) {
			e.logger.Error("Remote store refused pull query", "since", since, "error", qerr)
			return res, nil
		}
		e.logger.Warn("Pull query failed, marking remote unreachable", "since", since, "error", qerr)
		e.conn.MarkUnreachable("pull_transport_error")
		return res, nil
	}

	res.Fetched = len(records)
	if res.Fetched == 0 {
		return res, nil
	}

	defer func() {
		e.notifier.Publish(models.SyncEvent{
			Kind:     models.EventPullDataUpdated,
			Inserted: res.Inserted,
			Updated:  res.Updated,
		})
		e.refreshBacklog(ctx)
		e.logger.Info("Pull cycle telemetry",
			"since", since,
			"fetched", res.Fetched,
			"inserted", res.Inserted,
			"updated", res.Updated,
			"ignored", res.Ignored,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	for _, remote := range records {
		outcome, err := e.local.UpsertByUUID(ctx, remote.Local(models.StatusSynced))
		if err != nil {
			return res, fmt.Errorf("merge %s: %w", remote.UUID, err)
		}

		switch outcome {
		case db.OutcomeInserted:
			res.Inserted++
		case db.OutcomeUpdated:
			res.Updated++
		default:
			res.Ignored++
		}
		metrics.PullRecords.WithLabelValues(string(outcome)).Inc()
	}

	return res, nil
}

func (e *Engine) refreshBacklog(ctx context.Context) {
	n, err := e.local.PendingCount(ctx)
	if err != nil {
		e.logger.Debug("Failed to refresh pending backlog", "error", err)
		return
	}
	metrics.PendingBacklog.Set(float64(n))
}
