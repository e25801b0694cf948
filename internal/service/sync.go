package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	ftotel "github.com/Strob0t/ForgeTrack/internal/adapter/otel"
	"github.com/Strob0t/ForgeTrack/internal/adapter/ws"
	"github.com/Strob0t/ForgeTrack/internal/config"
	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/syncop"
	"github.com/Strob0t/ForgeTrack/internal/logger"
	"github.com/Strob0t/ForgeTrack/internal/port/broadcast"
	"github.com/Strob0t/ForgeTrack/internal/port/database"
	"github.com/Strob0t/ForgeTrack/internal/port/messagequeue"
	"github.com/Strob0t/ForgeTrack/internal/port/repoprovider"
	"github.com/Strob0t/ForgeTrack/internal/resilience"
	"github.com/Strob0t/ForgeTrack/internal/secrets"
	"github.com/Strob0t/ForgeTrack/internal/workerpool"
)

// StaleOperationMessage is recorded on operations left running by a node
// that went away.
const StaleOperationMessage = "sync interrupted: the server running it stopped"

// StartResult is the answer to a sync request. Exactly one of Results (the
// sync finished within the inline budget) or Operation is meaningful.
type StartResult struct {
	Completed bool
	Results   syncop.Results
	Operation *syncop.Snapshot
}

// syncOutcome is what a job hands back to the request still waiting on it.
type syncOutcome struct {
	results syncop.Results
	err     error
}

// SyncService coordinates manually triggered repository syncs. Jobs run on a
// bounded worker pool; a job that outlives the inline budget is promoted to
// a persisted operation that clients poll or cancel by ID.
type SyncService struct {
	store      database.Store
	codec      secrets.Codec
	queue      messagequeue.Queue    // optional
	hub        broadcast.Broadcaster // optional
	automation *StatusAutomation
	breakers   *resilience.Set
	pool       *workerpool.Pool
	cfg        config.Sync
	providers  config.Providers
	metrics    *ftotel.Metrics
	alerter    *Alerter // optional
	waiter     *syncWaiter[syncOutcome]

	newProvider func(name string, cfg map[string]string) (repoprovider.Provider, error)
	now         func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*syncJob
}

// NewSyncService creates a SyncService. Workflows for new issues are read
// through automation so they share its cache.
func NewSyncService(
	store database.Store,
	codec secrets.Codec,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	automation *StatusAutomation,
	breakers *resilience.Set,
	cfg config.Sync,
	providers config.Providers,
) *SyncService {
	base, stop := context.WithCancel(context.Background())
	return &SyncService{
		store:       store,
		codec:       codec,
		queue:       queue,
		hub:         hub,
		automation:  automation,
		breakers:    breakers,
		pool:        workerpool.NewPool(cfg.MaxConcurrent),
		cfg:         cfg,
		providers:   providers,
		waiter:      newSyncWaiter[syncOutcome]("sync"),
		newProvider: repoprovider.New,
		now:         time.Now,
		baseCtx:     base,
		stop:        stop,
		jobs:        make(map[string]*syncJob),
	}
}

// SetMetrics enables OpenTelemetry instruments.
func (s *SyncService) SetMetrics(m *ftotel.Metrics) {
	s.metrics = m
}

// SetAlerter sends operator alerts for failed background syncs.
func (s *SyncService) SetAlerter(a *Alerter) {
	s.alerter = a
}

// PollInterval is the interval clients should poll operations at.
func (s *SyncService) PollInterval() time.Duration {
	return s.cfg.PollInterval
}

// Start validates req, applies the confirmation gate and runs the sync. An
// unconfirmed request that needs confirmation returns a
// *syncop.ConfirmationError before anything is fetched or written.
func (s *SyncService) Start(ctx context.Context, connectionID string, req syncop.Request) (*StartResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	if !conn.Service.IsGit() {
		return nil, fmt.Errorf("connection %s is a %s integration, not a repository: %w", conn.ID, conn.Service, domain.ErrValidation)
	}
	if err := syncop.CheckConfirmation(req, conn.WebhookActive); err != nil {
		return nil, err
	}
	provider, err := s.provider(ctx, conn)
	if err != nil {
		return nil, err
	}

	now := s.now()
	id := uuid.NewString()
	job := &syncJob{
		svc:      s,
		id:       id,
		req:      req,
		conn:     conn,
		provider: provider,
		op: &syncop.Operation{
			ID:            id,
			ProjectID:     conn.ProjectID,
			ConnectionID:  conn.ID,
			SyncType:      req.SyncType,
			IncludeClosed: req.IncludeClosed,
			Status:        syncop.StatusPending,
			Progress:      syncop.Progress{Stage: syncop.StageFetching},
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	jobCtx := logger.WithRequestID(s.baseCtx, logger.RequestID(ctx))
	jobCtx, job.cancel = context.WithTimeout(jobCtx, s.cfg.JobTimeout)

	s.track(job)
	done := s.waiter.register(id)
	s.pool.Go(jobCtx, job.run, job.abandon)

	slog.InfoContext(ctx, "sync started",
		"operation_id", id, "project_id", conn.ProjectID, "connection_id", conn.ID,
		"sync_type", req.SyncType, "include_closed", req.IncludeClosed)
	if s.metrics != nil {
		s.metrics.SyncsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("sync.type", string(req.SyncType)),
			attribute.String("service", string(conn.Service)),
		))
	}

	if res := await(ctx, done, s.cfg.InlineBudget); res != nil {
		return inlineResult(res)
	}
	return s.promote(ctx, job, done)
}

func inlineResult(res *syncOutcome) (*StartResult, error) {
	if res.err != nil {
		return nil, res.err
	}
	return &StartResult{Completed: true, Results: res.results}, nil
}

// promote persists a job that is still running so it can be polled. A job
// that finished in the meantime is answered inline instead.
func (s *SyncService) promote(ctx context.Context, job *syncJob, done <-chan *syncOutcome) (*StartResult, error) {
	job.mu.Lock()
	if job.finished {
		job.mu.Unlock()
		return inlineResult(<-done)
	}
	job.persisted = true
	err := s.store.CreateSyncOperation(context.WithoutCancel(ctx), job.op)
	if err != nil {
		// No row exists, so the job must not write progress or its final state.
		job.persisted = false
	}
	snap := job.op.Snapshot()
	job.mu.Unlock()
	s.waiter.unregister(snap.ID)

	if err != nil {
		job.cancel()
		return nil, fmt.Errorf("persist sync operation: %w", err)
	}
	slog.InfoContext(ctx, "sync continues in background", "operation_id", snap.ID, "project_id", snap.ProjectID)
	return &StartResult{Operation: &snap}, nil
}

// Get returns the current snapshot of an operation. Jobs running on this
// node answer from memory; everything else comes from the store.
func (s *SyncService) Get(ctx context.Context, id string) (*syncop.Snapshot, error) {
	if job := s.lookup(id); job != nil {
		if snap, ok := job.snapshot(); ok {
			return &snap, nil
		}
	}
	op, err := s.store.GetSyncOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := op.Snapshot()
	return &snap, nil
}

// Cancel fails a pending or in-progress operation with
// syncop.CancelledMessage. Cancelling a terminal operation changes nothing
// and returns its snapshot. A cancel that loses a race with a progress write
// returns domain.ErrRetryable.
func (s *SyncService) Cancel(ctx context.Context, id string) (*syncop.Snapshot, error) {
	if job := s.lookup(id); job != nil && job.isPersisted() {
		snap, err := job.cancelByUser(ctx)
		if err != nil {
			return nil, err
		}
		return &snap, nil
	}

	op, err := s.store.GetSyncOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !op.Cancel(s.now()) {
		snap := op.Snapshot()
		return &snap, nil
	}
	if err := s.store.UpdateSyncOperation(ctx, op); err != nil {
		return s.resolveCancelConflict(ctx, id, err)
	}

	// The job runs on another node.
	if s.queue != nil {
		if err := publishJSON(ctx, s.queue, messagequeue.SubjectSyncCancel, messagequeue.SyncCancelPayload{OperationID: id}); err != nil {
			slog.WarnContext(ctx, "publish sync cancel failed", "operation_id", id, "error", err)
		}
	}
	slog.InfoContext(ctx, "sync cancelled", "operation_id", id, "project_id", op.ProjectID)
	snap := op.Snapshot()
	s.publishProgress(ctx, &snap)
	return &snap, nil
}

// resolveCancelConflict turns a failed cancel write into the terminal
// snapshot when the operation finished first, else into ErrRetryable.
func (s *SyncService) resolveCancelConflict(ctx context.Context, id string, err error) (*syncop.Snapshot, error) {
	if !errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("cancel sync %s: %w", id, err)
	}
	fresh, gerr := s.store.GetSyncOperation(ctx, id)
	if gerr == nil && fresh.Status.IsTerminal() {
		snap := fresh.Snapshot()
		return &snap, nil
	}
	return nil, fmt.Errorf("cancel sync %s: %w", id, domain.ErrRetryable)
}

// ListenForCancels aborts local jobs cancelled through another node.
func (s *SyncService) ListenForCancels(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectSyncCancel, func(ctx context.Context, _ string, data []byte) error {
		var p messagequeue.SyncCancelPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode sync cancel: %w", err)
		}
		if job := s.lookup(p.OperationID); job != nil {
			slog.InfoContext(ctx, "aborting sync cancelled on another node", "operation_id", p.OperationID)
			job.cancel()
		}
		return nil
	})
}

// RecoverStale fails operations whose job cannot still be running: nothing
// has written them for longer than the job timeout.
func (s *SyncService) RecoverStale(ctx context.Context) (int, error) {
	n, err := s.store.FailStaleSyncOperations(ctx, s.now().Add(-s.cfg.JobTimeout), StaleOperationMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.WarnContext(ctx, "failed stale sync operations", "count", n)
	}
	return n, nil
}

// Shutdown cancels running jobs and waits for them to record their final
// state, or for ctx to end.
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SyncService) provider(ctx context.Context, conn *connection.Connection) (repoprovider.Provider, error) {
	cfg := make(map[string]string, 2)
	if base := s.baseURL(conn); base != "" {
		cfg[repoprovider.ConfigBaseURL] = base
	}
	if len(conn.EncryptedToken) > 0 {
		token, err := s.codec.Decrypt(ctx, conn.EncryptedToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt access token of connection %s: %w", conn.ID, err)
		}
		cfg[repoprovider.ConfigToken] = string(token)
	}
	p, err := s.newProvider(string(conn.Service), cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", conn.Service, err)
	}
	return p, nil
}

func (s *SyncService) baseURL(conn *connection.Connection) string {
	if conn.ServerURL != "" {
		return conn.ServerURL
	}
	switch conn.Service {
	case connection.ServiceGitHub:
		return s.providers.GitHubBaseURL
	case connection.ServiceGitLab:
		return s.providers.GitLabBaseURL
	case connection.ServiceBitbucket:
		return s.providers.BitbucketBaseURL
	default:
		return ""
	}
}

func (s *SyncService) track(job *syncJob) {
	s.mu.Lock()
	s.jobs[job.id] = job
	s.mu.Unlock()
}

func (s *SyncService) untrack(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

func (s *SyncService) lookup(id string) *syncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// publishProgress announces a persisted snapshot on NATS and WebSocket.
func (s *SyncService) publishProgress(ctx context.Context, snap *syncop.Snapshot) {
	if s.queue != nil {
		payload := messagequeue.SyncProgressPayload{
			OperationID: snap.ID,
			ProjectID:   snap.ProjectID,
			Status:      string(snap.Status),
			Stage:       string(snap.Progress.Stage),
			Processed:   snap.Progress.Processed,
			Total:       snap.Progress.Total,
			Percentage:  snap.Percentage,
		}
		if err := publishJSON(ctx, s.queue, messagequeue.SubjectSyncProgress, payload); err != nil {
			slog.DebugContext(ctx, "publish sync progress failed", "operation_id", snap.ID, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventSyncProgress, ws.SyncProgressEvent{
			OperationID: snap.ID,
			ProjectID:   snap.ProjectID,
			Status:      string(snap.Status),
			Stage:       string(snap.Progress.Stage),
			Processed:   snap.Progress.Processed,
			Total:       snap.Progress.Total,
			Percentage:  snap.Percentage,
			Error:       snap.Error,
		})
	}
}
