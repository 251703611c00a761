package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/folio-works/adminguard/instrumentation"
)

const (
	// DefaultFlushInterval bounds how long a non-critical event stays pending
	DefaultFlushInterval = 5 * time.Second

	// DefaultMaxPending is the pending count that triggers an early flush
	DefaultMaxPending = 100

	// DefaultFlushTimeout bounds a single sink write
	DefaultFlushTimeout = 10 * time.Second

	// DefaultStoreTimeout bounds each pending store call made on the
	// caller's path
	DefaultStoreTimeout = 2 * time.Second
)

// Config configures a Buffer
type Config struct {
	// Pending holds events between flushes. Default: NewMemoryPending()
	Pending PendingStore

	// Sink receives flushed batches. Default: NewLogSink(Logger)
	Sink Sink

	// FlushInterval is the period of the background flush. Default: 5s
	FlushInterval time.Duration

	// MaxPending triggers an asynchronous flush when reached. Default: 100
	MaxPending int

	// FlushTimeout bounds each flush. Default: 10s
	FlushTimeout time.Duration

	// StoreTimeout bounds Append and Len on the pending store. Default: 2s
	StoreTimeout time.Duration

	// Logger receives sink failures and fallback records. Default: slog.Default()
	Logger *slog.Logger

	// Instrumentation is optional
	Instrumentation *instrumentation.Instrumentation

	// Clock and NewID are replaceable for tests
	Clock func() time.Time
	NewID func() string
}

// Buffer batches audit events. It is safe for concurrent use.
type Buffer struct {
	pending       PendingStore
	sink          Sink
	flushInterval time.Duration
	maxPending    int
	flushTimeout  time.Duration
	storeTimeout  time.Duration
	logger        *slog.Logger
	metrics       *instrumentation.Metrics
	now           func() time.Time
	newID         func() string

	// flushMu serializes drain+write so concurrent flushes never interleave
	flushMu sync.Mutex

	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once

	// inFlight is set while a loop-less background flush runs
	inFlight atomic.Bool
}

// NewBuffer creates a Buffer. Call Start to enable periodic flushing.
func NewBuffer(cfg Config) *Buffer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pending == nil {
		cfg.Pending = NewMemoryPending()
	}
	if cfg.Sink == nil {
		cfg.Sink = NewLogSink(cfg.Logger)
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Buffer{
		pending:       cfg.Pending,
		sink:          cfg.Sink,
		flushInterval: cfg.FlushInterval,
		maxPending:    cfg.MaxPending,
		flushTimeout:  cfg.FlushTimeout,
		storeTimeout:  cfg.StoreTimeout,
		logger:        cfg.Logger,
		metrics:       cfg.Instrumentation.Metrics(),
		now:           cfg.Clock,
		newID:         cfg.NewID,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Log records an event. It never fails: if the pending store is
// unavailable the event is written straight to the sink, and if that fails
// too it is emitted to the structured log.
//
// CRITICAL events flush every pending event before Log returns.
func (b *Buffer) Log(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = b.newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}
	if ev.Severity == 0 {
		ev.Severity = SeverityLow
	}

	b.metrics.RecordAuditEvent(ctx, ev.Type, ev.Severity.String())

	appendCtx, cancelAppend := context.WithTimeout(context.WithoutCancel(ctx), b.storeTimeout)
	n, err := b.pending.Append(appendCtx, ev)
	cancelAppend()
	if err != nil {
		b.logger.Warn("Audit pending store unavailable, writing event directly",
			"event_type", ev.Type,
			"error", err)
		flushCtx, cancel := b.flushContext(ctx)
		defer cancel()
		b.write(flushCtx, []Event{ev})
		return
	}

	if ev.Severity == SeverityCritical {
		flushCtx, cancel := b.flushContext(ctx)
		defer cancel()
		b.Flush(flushCtx)
		return
	}

	if n >= b.maxPending {
		b.signalFlush()
	}
}

// Flush drains every pending event and writes it to the sink as one batch.
// It returns the number of events durably written.
func (b *Buffer) Flush(ctx context.Context) int {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	events, err := b.pending.Drain(ctx)
	if err != nil {
		b.logger.Error("Failed to drain pending audit events", "error", err)
		b.metrics.RecordAuditFlush(ctx, "drain_error", 0)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	return b.write(ctx, events)
}

// write must not be called concurrently with itself for the same events
func (b *Buffer) write(ctx context.Context, events []Event) int {
	if err := b.sink.Write(ctx, events); err != nil {
		b.logger.Error("Failed to write audit batch",
			"error", err,
			"count", len(events))
		for _, ev := range events {
			b.logger.LogAttrs(ctx, slog.LevelWarn, "audit_fallback", eventAttrs(ev)...)
		}
		b.metrics.RecordAuditFlush(ctx, "error", len(events))
		return 0
	}

	b.metrics.RecordAuditFlush(ctx, "success", len(events))
	return len(events)
}

// PendingCount returns the number of events waiting for a flush, or 0 when
// the pending store cannot be reached.
func (b *Buffer) PendingCount(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	defer cancel()
	n, err := b.pending.Len(ctx)
	if err != nil {
		return 0
	}
	return n
}

// Start launches the periodic flush loop. Calling Start twice is a no-op.
func (b *Buffer) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.run()
}

// Stop ends the flush loop and performs a final flush. It returns ctx.Err()
// if the loop did not exit before ctx was done.
func (b *Buffer) Stop(ctx context.Context) error {
	var stopErr error
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		if b.started.Load() {
			close(b.stop)
			select {
			case <-b.done:
			case <-ctx.Done():
				stopErr = ctx.Err()
			}
		}
		flushCtx, cancel := context.WithTimeout(ctx, b.flushTimeout)
		defer cancel()
		if n := b.Flush(flushCtx); n > 0 {
			b.logger.Info("Flushed audit events on shutdown", "count", n)
		}
	})
	return stopErr
}

func (b *Buffer) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.flushInBackground()
		case <-b.kick:
			b.flushInBackground()
		}
	}
}

func (b *Buffer) flushInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
	defer cancel()
	b.Flush(ctx)
}

// signalFlush wakes the loop. Without a running loop (never started or
// already stopped) at most one background flush runs at a time.
func (b *Buffer) signalFlush() {
	if b.started.Load() && !b.stopped.Load() {
		select {
		case b.kick <- struct{}{}:
		default:
		}
		return
	}
	if !b.inFlight.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer b.inFlight.Store(false)
		b.flushInBackground()
	}()
}

// flushContext detaches from the request so a cancelled request does not
// abort the durable write
func (b *Buffer) flushContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), b.flushTimeout)
}
