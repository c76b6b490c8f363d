package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vendalog/marketsync/internal/marketplace"
	"github.com/vendalog/marketsync/internal/metrics"
	"github.com/vendalog/marketsync/internal/models"
	"github.com/vendalog/marketsync/internal/store"
)

// Config tunes the worker's scheduling and state machine.
type Config struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	FailBackoff       time.Duration
	ProcessingTimeout time.Duration
}

// ItemReconciler is the slice of the reconciler the worker dispatches to.
type ItemReconciler interface {
	ReconcileItem(ctx context.Context, auth marketplace.Auth, itemID string) error
	MarkInactive(ctx context.Context, shopID, itemID string) error
}

// Worker drives the PENDING→PROCESSING→{PROCESSED,FAILED,IGNORED} state
// machine over the shared event table. Claims are conditional updates, so
// multiple worker processes can poll the same queue safely; events are
// delivered to the reconciler at least once.
type Worker struct {
	cfg        Config
	events     *store.EventStore
	creds      *store.CredentialStore
	reconciler ItemReconciler
	metrics    *metrics.Registry
	logger     *zap.Logger

	// wake triggers an early tick when the ingest path accepts an event;
	// nil means pure polling.
	wake <-chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker wires the worker. wake may be nil.
func NewWorker(cfg Config, events *store.EventStore, creds *store.CredentialStore, reconciler ItemReconciler, reg *metrics.Registry, wake <-chan struct{}, logger *zap.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.FailBackoff <= 0 {
		cfg.FailBackoff = time.Minute
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 5 * time.Minute
	}
	return &Worker{
		cfg:        cfg,
		events:     events,
		creds:      creds,
		reconciler: reconciler,
		metrics:    reg,
		wake:       wake,
		logger:     logger,
	}
}

// Start launches the tick loop. The loop stops when ctx is cancelled or
// Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("Worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Int("max_attempts", w.cfg.MaxAttempts),
	)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		case _, ok := <-w.wake:
			if !ok {
				// Wake channel closed; polling alone stays correct.
				w.wake = nil
				continue
			}
			w.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: stale recovery, selection, credential
// resolution, then sequential claim-and-dispatch. Sequential processing
// is deliberate; the bottleneck is the platform's rate limit, not CPU.
func (w *Worker) Tick(ctx context.Context) {
	recovered, err := w.events.RequeueStale(ctx, w.cfg.ProcessingTimeout)
	if err != nil {
		w.logger.Error("Stale recovery failed", zap.Error(err))
	} else if recovered > 0 {
		w.logger.Warn("Recovered stale in-flight events",
			zap.Int64("count", recovered),
		)
	}

	batch, err := w.events.SelectDue(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts, w.cfg.FailBackoff)
	if err != nil {
		w.logger.Error("Failed to select due events", zap.Error(err))
		return
	}
	if len(batch) == 0 {
		return
	}

	auth, err := w.resolveAuth(ctx)
	if err != nil {
		// No usable credentials: fail the whole batch without touching
		// the network and end the tick.
		w.logger.Error("Credential resolution failed, failing batch",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		reason := "credentials_missing"
		for _, event := range batch {
			if markErr := w.events.MarkTerminal(ctx, event.ID, models.StatusFailed, &reason); markErr != nil {
				w.logger.Error("Failed to mark event",
					zap.String("event_id", event.EventID),
					zap.Error(markErr),
				)
			}
		}
		return
	}

	for i := range batch {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.processEvent(ctx, auth, &batch[i])
	}
}

// processEvent claims one event and records its terminal outcome.
func (w *Worker) processEvent(ctx context.Context, auth marketplace.Auth, event *models.WebhookEvent) {
	claimed, err := w.events.Claim(ctx, event.ID)
	if err != nil {
		w.logger.Error("Claim failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}
	if !claimed {
		// Another worker got here first.
		w.logger.Debug("Event already claimed elsewhere",
			zap.String("event_id", event.EventID),
		)
		return
	}

	claimedAt := time.Now()
	outcome := w.dispatch(ctx, auth, event)

	if err := w.events.MarkTerminal(ctx, event.ID, outcome.status, outcome.reason); err != nil {
		w.logger.Error("Failed to record event outcome",
			zap.String("event_id", event.EventID),
			zap.String("status", outcome.status),
			zap.Error(err),
		)
		return
	}

	latency := time.Since(claimedAt)
	queueDelay := claimedAt.Sub(event.ReceivedAt)
	w.metrics.RecordOutcome(event.EventType, outcome.status, latency, queueDelay)

	logFields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("status", outcome.status),
		zap.Int("attempts", event.Attempts+1),
		zap.Duration("latency", latency),
		zap.Duration("queue_delay", queueDelay),
	}
	if outcome.reason != nil {
		logFields = append(logFields, zap.String("reason", *outcome.reason))
	}
	if outcome.status == models.StatusFailed {
		w.logger.Warn("Event processing failed", logFields...)
	} else {
		w.logger.Info("Event processed", logFields...)
	}
}

// resolveAuth reads the current credential pair, falling back to the
// backup pair when the primary is expired.
func (w *Worker) resolveAuth(ctx context.Context) (marketplace.Auth, error) {
	cred, err := w.creds.Current(ctx)
	if err != nil {
		return marketplace.Auth{}, err
	}
	if cred == nil || cred.AccessToken == "" {
		return marketplace.Auth{}, errNoCredentials
	}

	now := time.Now()
	if cred.Expired(now) {
		if !cred.BackupValid(now) {
			return marketplace.Auth{}, errNoCredentials
		}
		w.logger.Warn("Primary token expired, using backup pair",
			zap.String("shop_id", cred.ShopID),
		)
		return marketplace.Auth{AccessToken: cred.BackupAccessToken, ShopID: cred.ShopID}, nil
	}
	return marketplace.Auth{AccessToken: cred.AccessToken, ShopID: cred.ShopID}, nil
}
