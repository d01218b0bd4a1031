package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/events"
	"github.com/contactdir/contactdir-server/internal/otel"
	"github.com/contactdir/contactdir-server/internal/status"
	pkgsync "github.com/contactdir/contactdir-server/internal/sync"
	"github.com/contactdir/contactdir-server/internal/sync/state"
	"github.com/contactdir/contactdir-server/internal/telemetry"
)

const (
	// TracerName is the instrumentation name of the sync attempt spans
	TracerName = "github.com/contactdir/contactdir-server/sync"

	// publishTimeout bounds the delivery of one sync event
	publishTimeout = 10 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start when the timer loop is already active
	ErrAlreadyRunning = errors.New("sync coordinator is already running")

	// ErrStopTimeout is returned by Stop when the in-flight sync did not yield in time.
	// The sync keeps running until it observes the cancellation.
	ErrStopTimeout = errors.New("timed out waiting for the in-flight sync to stop")
)

// Trigger identifies what requested a sync
type Trigger string

const (
	// TriggerManual is an operator request through the API or CLI
	TriggerManual Trigger = "manual"
	// TriggerScheduled is a tick of the timer loop
	TriggerScheduled Trigger = "scheduled"
	// TriggerStartup is the sync requested when the timer loop starts
	TriggerStartup Trigger = "startup"
)

// Coordinator runs sync attempts one at a time, on demand and on a schedule
//
//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks github.com/contactdir/contactdir-server/internal/sync/coordinator Coordinator
type Coordinator interface {
	// RequestSync starts an attempt in the background. It returns false
	// without blocking when an attempt is already running.
	RequestSync(trigger Trigger) bool

	// Start begins the timer loop. It returns immediately.
	Start(ctx context.Context) error

	// Stop halts the timer loop, cancels the in-flight attempt and waits
	// for both, up to the stop timeout
	Stop() error

	// Status returns a snapshot of the sync state
	Status() *status.SyncState

	// Wait blocks until the in-flight attempt, if any, has finished
	Wait()
}

type defaultCoordinator struct {
	reconciler    pkgsync.Reconciler
	tracker       *state.Tracker
	directoryName string
	schedule      schedule

	publisher   events.Publisher
	syncMetrics *telemetry.SyncMetrics
	tracer      trace.Tracer
	now         func() time.Time

	mu sync.Mutex
	// loop of the active timer, nil when stopped
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	// attempts derive from attemptsCtx so that Stop can cancel them
	attemptsCtx    context.Context
	attemptsCancel context.CancelFunc
	// closed when the in-flight attempt ends
	current chan struct{}

	// onTick is called by the timer loop on every tick, with the loop's done channel
	onTick func(loop chan struct{})
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// WithTracer sets the tracer used to trace sync attempts
func WithTracer(tracer trace.Tracer) Option {
	return func(c *defaultCoordinator) {
		c.tracer = tracer
	}
}

// WithPublisher sets the publisher notified at the end of every attempt
func WithPublisher(p events.Publisher) Option {
	return func(c *defaultCoordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithStopTimeout overrides the configured stop timeout
func WithStopTimeout(d time.Duration) Option {
	return func(c *defaultCoordinator) {
		c.schedule.stopTimeout = d
	}
}

// WithInterval overrides the configured timer period
func WithInterval(d time.Duration) Option {
	return func(c *defaultCoordinator) {
		if d > 0 {
			c.schedule.interval = d
		}
	}
}

// WithClock overrides the time source used to measure attempts
func WithClock(now func() time.Time) Option {
	return func(c *defaultCoordinator) {
		c.now = now
	}
}

// New creates a coordinator. The tracker must already be initialized.
func New(
	reconciler pkgsync.Reconciler,
	tracker *state.Tracker,
	cfg *config.Config,
	opts ...Option,
) Coordinator {
	c := &defaultCoordinator{
		reconciler:    reconciler,
		tracker:       tracker,
		directoryName: cfg.GetDirectoryName(),
		schedule:      scheduleFromConfig(&cfg.Sync),
		publisher:     events.NewNoopPublisher(),
		now:           time.Now,
	}
	c.attemptsCtx, c.attemptsCancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RequestSync implements Coordinator
func (c *defaultCoordinator) RequestSync(trigger Trigger) bool {
	return c.requestSync(context.Background(), trigger)
}

// requestSync drops the request once scope is done, so that a timer loop
// being stopped cannot start a new attempt. It never waits on storage.
func (c *defaultCoordinator) requestSync(scope context.Context, trigger Trigger) bool {
	attemptID := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()

	if scope.Err() != nil {
		return false
	}

	ctx := c.attemptsCtx
	if !c.tracker.TryBegin(attemptID) {
		slog.Info("Sync already running, request dropped",
			"trigger", trigger,
			"running_attempt_id", c.tracker.Snapshot().AttemptID)
		c.syncMetrics.RecordRejected(ctx, c.directoryName, string(trigger))
		return false
	}

	done := make(chan struct{})
	c.current = done
	go c.runAttempt(ctx, attemptID, trigger, done)
	return true
}

// runAttempt executes one attempt. Every exit path ends the attempt in the
// tracker, panics included.
func (c *defaultCoordinator) runAttempt(
	ctx context.Context, attemptID string, trigger Trigger, done chan struct{},
) {
	defer close(done)

	ctx, span := otel.StartSpan(ctx, c.tracer, "sync.Attempt",
		trace.WithAttributes(
			otel.AttrDirectoryName.String(c.directoryName),
			otel.AttrAttemptID.String(attemptID),
			otel.AttrTrigger.String(string(trigger)),
		))
	defer span.End()

	attempt := pkgsync.NewAttempt(attemptID, c.now())
	attempt.OnProgress = func(counters status.Counters) {
		c.tracker.Progress(attemptID, counters)
	}

	var final *status.SyncState
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sync attempt panicked",
				"attempt_id", attemptID,
				"panic", r)
			final = c.tracker.Fail(ctx, attemptID, string(pkgsync.KindUnknown),
				fmt.Sprintf("sync attempt panicked: %v", r), attempt.Counters)
		}
		c.report(ctx, attempt, final)
	}()

	if err := c.tracker.PersistRunning(ctx, attemptID); err != nil {
		if ctx.Err() != nil {
			final = c.tracker.Cancel(ctx, attemptID, attempt.Counters)
			slog.Info("Sync cancelled before it started", "attempt_id", attemptID)
			return
		}
		slog.Error("Failed to persist running sync state", "attempt_id", attemptID, "error", err)
		final = c.tracker.Fail(ctx, attemptID, string(pkgsync.KindStorage),
			fmt.Sprintf("failed to persist sync state: %v", err), attempt.Counters)
		return
	}

	slog.Info("Starting sync operation",
		"directory", c.directoryName,
		"attempt_id", attemptID,
		"trigger", trigger)

	err := c.reconciler.Reconcile(ctx, attempt)
	span.SetAttributes(otel.AttrPages.Int(attempt.Pages))
	switch kind := pkgsync.KindOf(err); {
	case err == nil:
		final = c.tracker.Complete(ctx, attemptID, attempt.Counters)
		slog.Info("Sync completed successfully",
			"attempt_id", attemptID,
			"pages", attempt.Pages,
			"processed", attempt.Counters.RecordsProcessed,
			"created", attempt.Counters.RecordsCreated,
			"updated", attempt.Counters.RecordsUpdated,
			"deleted", attempt.Counters.RecordsDeleted)
	case kind == pkgsync.KindCancelled:
		final = c.tracker.Cancel(ctx, attemptID, attempt.Counters)
		slog.Info("Sync cancelled",
			"attempt_id", attemptID,
			"pages", attempt.Pages,
			"processed", attempt.Counters.RecordsProcessed)
	default:
		otel.RecordError(span, err)
		final = c.tracker.Fail(ctx, attemptID, string(kind), err.Error(), attempt.Counters)
		slog.Error("Sync failed",
			"attempt_id", attemptID,
			"error_kind", kind,
			"error", err,
			"pages", attempt.Pages,
			"processed", attempt.Counters.RecordsProcessed)
	}
}

// report records metrics and publishes the outcome of a finished attempt
func (c *defaultCoordinator) report(ctx context.Context, attempt *pkgsync.Attempt, final *status.SyncState) {
	if final == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	c.syncMetrics.RecordAttempt(ctx, c.directoryName, final.Status, final.LastErrorKind,
		c.now().Sub(attempt.StartedAt), final.Counters)

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	event := events.Event{
		Type:          events.TypeFor(final),
		DirectoryName: c.directoryName,
		AttemptID:     attempt.ID,
		State:         final,
		OccurredAt:    c.now().UTC(),
	}
	if err := c.publisher.Publish(pubCtx, event); err != nil {
		slog.Warn("Failed to publish sync event",
			"attempt_id", attempt.ID,
			"event", event.Type,
			"error", err)
	}
}

// Start implements Coordinator
func (c *defaultCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.loopDone != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.loopCancel, c.loopDone = cancel, done
	c.mu.Unlock()

	slog.Info("Starting background sync scheduler",
		"directory", c.directoryName,
		"interval", c.schedule.interval,
		"sync_on_startup", c.schedule.syncOnStartup)

	go c.loop(loopCtx, done)
	return nil
}

func (c *defaultCoordinator) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.loopDone == done {
			c.loopCancel, c.loopDone = nil, nil
		}
		c.mu.Unlock()
		close(done)
		slog.Info("Background sync scheduler stopped")
	}()

	if c.schedule.syncOnStartup {
		c.requestSync(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(c.schedule.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.onTick != nil {
				c.onTick(done)
			}
			c.requestSync(ctx, TriggerScheduled)
		case <-ctx.Done():
			return
		}
	}
}

// Stop implements Coordinator. It may be called any number of times.
// The timer loop releases its slot itself, so Start fails with
// ErrAlreadyRunning until the previous loop has exited.
func (c *defaultCoordinator) Stop() error {
	timeout := time.NewTimer(c.schedule.stopTimeout)
	defer timeout.Stop()

	c.mu.Lock()
	cancelLoop, loopDone := c.loopCancel, c.loopDone
	cancelAttempts, current := c.attemptsCancel, c.current
	// Later manual requests run under a fresh context
	c.attemptsCtx, c.attemptsCancel = context.WithCancel(context.Background())
	if cancelLoop != nil {
		slog.Info("Stopping sync scheduler")
		cancelLoop()
	}
	cancelAttempts()
	c.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		if loopDone != nil {
			<-loopDone
		}
		if current != nil {
			<-current
		}
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-timeout.C:
		slog.Warn("Sync did not stop within the timeout, leaving it to finish in the background",
			"timeout", c.schedule.stopTimeout,
			"attempt_id", c.tracker.Snapshot().AttemptID)
		return ErrStopTimeout
	}
}

// Status implements Coordinator
func (c *defaultCoordinator) Status() *status.SyncState {
	return c.tracker.Snapshot()
}

// Wait implements Coordinator
func (c *defaultCoordinator) Wait() {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current != nil {
		<-current
	}
}
