package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
)

// Audit pipeline defaults.
const (
	DefaultAuditChannelSize   = 1000
	DefaultAuditBatchSize     = 100
	DefaultAuditFlushInterval = time.Second
	DefaultAuditSendTimeout   = 100 * time.Millisecond

	finalFlushTimeout = 5 * time.Second
)

// AuditService writes audit records asynchronously through a buffered
// channel and a single batching worker, so decisions never wait on storage.
type AuditService struct {
	store         audit.Store
	records       chan audit.Record
	wg            sync.WaitGroup
	stopOnce      sync.Once
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 drops immediately when the channel is full
	dropCount   atomic.Int64
	onDrop      func()

	warningThreshold int          // percent of capacity
	lastWarning      atomic.Int64 // unix nanos

	adaptiveFlushThreshold int // percent of capacity; 0 disables
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records written per store call.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets how often a partial batch is written.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the buffer between Record and the worker.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.records = make(chan audit.Record, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets how long Record may block on a full channel before
// dropping. Zero drops immediately.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		if timeout >= 0 {
			s.sendTimeout = timeout
		}
	}
}

// WithWarningThreshold sets the channel depth percentage that logs a warning.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = clampPercent(percent)
	}
}

// WithAdaptiveFlushThreshold sets the channel depth percentage above which
// the worker flushes early and shortens its ticker to a quarter interval.
// Zero disables adaptive flushing.
func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.adaptiveFlushThreshold = clampPercent(percent)
	}
}

// WithDropObserver registers a callback invoked once per dropped record.
func WithDropObserver(fn func()) AuditOption {
	return func(s *AuditService) {
		s.onDrop = fn
	}
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// NewAuditService creates an AuditService writing to store.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:                  store,
		records:                make(chan audit.Record, DefaultAuditChannelSize),
		logger:                 logger,
		batchSize:              DefaultAuditBatchSize,
		flushInterval:          DefaultAuditFlushInterval,
		channelSize:            DefaultAuditChannelSize,
		sendTimeout:            DefaultAuditSendTimeout,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background worker.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues a record for writing. It first tries a non-blocking send,
// then waits up to the send timeout, then drops and counts the record.
func (s *AuditService) Record(r audit.Record) {
	if s.warningThreshold > 0 {
		depth := len(s.records)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.records <- r:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.drop(r)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.records <- r:
	case <-timer.C:
		s.drop(r)
	}
}

func (s *AuditService) drop(r audit.Record) {
	total := s.dropCount.Add(1)
	if s.onDrop != nil {
		s.onDrop()
	}
	s.logger.Warn("audit record dropped",
		"event_type", r.EventType,
		"request_id", r.RequestID,
		"total_drops", total,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns the number of records dropped so far.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the number of queued records.
func (s *AuditService) ChannelDepth() int {
	return len(s.records)
}

// ChannelCapacity returns the queue capacity.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the queue and waits for the worker to write what is pending.
// Record must not be called after Stop.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		close(s.records)
		s.wg.Wait()
	})
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	fast := false

	for {
		select {
		case r, ok := <-s.records:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, r)

			pressured := s.underPressure()
			if len(batch) >= s.batchSize || pressured {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
			fast = s.adjustTicker(ticker, pressured, fast)

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			for r := range s.records {
				batch = append(batch, r)
			}
			s.finalFlush(batch)
			return
		}
	}
}

func (s *AuditService) underPressure() bool {
	if s.adaptiveFlushThreshold == 0 {
		return false
	}
	return len(s.records)*100/s.channelSize >= s.adaptiveFlushThreshold
}

// adjustTicker switches between the normal and the quarter flush interval
// and returns the new mode.
func (s *AuditService) adjustTicker(t *time.Ticker, pressured, fast bool) bool {
	switch {
	case pressured && !fast:
		t.Reset(s.flushInterval / 4)
		s.logger.Debug("audit flush entering fast mode", "interval", s.flushInterval/4)
		return true
	case !pressured && fast:
		t.Reset(s.flushInterval)
		s.logger.Debug("audit flush returning to normal mode", "interval", s.flushInterval)
		return false
	}
	return fast
}

func (s *AuditService) finalFlush(batch []audit.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if len(batch) > 0 {
		s.flush(ctx, batch)
	}
	if err := s.store.Flush(ctx); err != nil {
		s.logger.Error("failed to flush audit store", "error", err)
	}
}

// flush writes one batch. Errors are logged and never reach the decision path.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch", "error", err, "count", len(batch))
	}
}
