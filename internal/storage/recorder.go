package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"host-sentinel/internal/alerting"
	"host-sentinel/internal/anomaly"
)

// Sink is the write side used by Recorder.
type Sink interface {
	InsertEvent(ctx context.Context, event EventRecord) (EventRecord, error)
	InsertVerdict(ctx context.Context, verdict VerdictRecord) (VerdictRecord, error)
	Purger
}

// RecorderOptions tune the background writer.
type RecorderOptions struct {
	Host         string
	BufferSize   int
	WriteTimeout time.Duration
	// Retention enables periodic purging when positive.
	Retention     time.Duration
	PurgeInterval time.Duration
	// LockKey guards purges across instances; zero disables the lock.
	LockKey int64
}

type write struct {
	event   *EventRecord
	verdict *VerdictRecord
}

// Recorder persists alert events and verdicts off the sampling path.
// Writes are dropped, not queued without bound, when the buffer is full.
type Recorder struct {
	opts   RecorderOptions
	sink   Sink
	locker AdvisoryLocker
	queue  chan write
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu      sync.Mutex
	dropped int
}

// NewRecorder starts the background writer. Stop with Close.
func NewRecorder(sink Sink, opts RecorderOptions, logger zerolog.Logger) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = time.Hour
	}

	r := &Recorder{
		opts:   opts,
		sink:   sink,
		queue:  make(chan write, opts.BufferSize),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "recorder").Logger(),
	}
	if l, ok := sink.(AdvisoryLocker); ok && opts.LockKey != 0 {
		r.locker = l
	}

	r.wg.Add(1)
	go r.loop()
	return r
}

// RecordEvent queues an alert log entry.
func (r *Recorder) RecordEvent(event alerting.Event) {
	rec := EventFromAlert(r.opts.Host, event)
	r.enqueue(write{event: &rec})
}

// RecordVerdict queues an anomalous verdict.
func (r *Recorder) RecordVerdict(verdict anomaly.Verdict) {
	rec := VerdictFromAnomaly(r.opts.Host, verdict)
	r.enqueue(write{verdict: &rec})
}

// Dropped reports how many writes were discarded because the buffer was full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) enqueue(w write) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.queue <- w:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn().Msg("audit buffer full, dropping write")
	}
}

// Close flushes queued writes and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) loop() {
	defer r.wg.Done()

	var purge <-chan time.Time
	if r.opts.Retention > 0 {
		ticker := time.NewTicker(r.opts.PurgeInterval)
		defer ticker.Stop()
		purge = ticker.C
		r.purge()
	}

	for {
		select {
		case w := <-r.queue:
			r.persist(w)
		case <-purge:
			r.purge()
		case <-r.done:
			for {
				select {
				case w := <-r.queue:
					r.persist(w)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(w write) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
	defer cancel()

	switch {
	case w.event != nil:
		if _, err := r.sink.InsertEvent(ctx, *w.event); err != nil {
			r.logger.Error().Err(err).Str("kind", w.event.Kind).Msg("failed to persist alert event")
		}
	case w.verdict != nil:
		if _, err := r.sink.InsertVerdict(ctx, *w.verdict); err != nil {
			r.logger.Error().Err(err).Msg("failed to persist anomaly verdict")
		}
	}
}

func (r *Recorder) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
	defer cancel()

	if r.locker != nil {
		unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.opts.LockKey)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to acquire purge lock")
			return
		}
		if !acquired {
			r.logger.Debug().Msg("skip purge because advisory lock held elsewhere")
			return
		}
		defer unlock()
	}

	cutoff := time.Now().Add(-r.opts.Retention)
	removed, err := r.sink.DeleteBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to purge audit rows")
		return
	}
	r.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("purged audit rows")
}
