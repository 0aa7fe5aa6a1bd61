package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"host-sentinel/internal/metrics"
)

const (
	// DefaultCooldown spaces user-facing interrupts.
	DefaultCooldown = 60 * time.Second
	// DefaultLogCapacity bounds the alert log.
	DefaultLogCapacity = 100
)

// EventKind distinguishes threshold breaches from other logged events.
type EventKind string

const (
	KindThreshold EventKind = "threshold"
	KindAnomaly   EventKind = "anomaly"
	KindConfig    EventKind = "config"
)

// Event is one entry of the alert log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      EventKind      `json:"kind"`
	Metric    metrics.Metric `json:"metric,omitempty"`
	Value     float64        `json:"value"`
	Threshold int            `json:"threshold"`
	Message   string         `json:"message"`
}

// SuppressionState gates popups to one per cooldown window.
type SuppressionState struct {
	Active        bool      `json:"active"`
	ResetDeadline time.Time `json:"reset_deadline"`
}

// Outcome summarises one evaluation.
type Outcome struct {
	Events    []Event
	Interrupt *Notification
}

// Options tune the evaluator.
type Options struct {
	Thresholds  Thresholds
	Cooldown    time.Duration
	LogCapacity int
}

// Evaluator compares smoothed samples with thresholds and keeps the alert log.
type Evaluator struct {
	mu          sync.RWMutex
	thresholds  Thresholds
	cooldown    time.Duration
	capacity    int
	log         []Event
	suppression SuppressionState
	now         func() time.Time
	logger      zerolog.Logger
}

// NewEvaluator validates the initial thresholds and builds an evaluator.
func NewEvaluator(opts Options, logger zerolog.Logger) (*Evaluator, error) {
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = DefaultLogCapacity
	}
	return &Evaluator{
		thresholds: opts.Thresholds,
		cooldown:   opts.Cooldown,
		capacity:   opts.LogCapacity,
		log:        make([]Event, 0, opts.LogCapacity),
		now:        time.Now,
		logger:     logger.With().Str("component", "alert_evaluator").Logger(),
	}, nil
}

// Evaluate checks every metric of sample against its threshold. The sample
// timestamp is the evaluation clock for the cooldown.
func (e *Evaluator) Evaluate(sample metrics.Sample) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := sample.Timestamp
	if e.suppression.Active && !now.Before(e.suppression.ResetDeadline) {
		e.suppression = SuppressionState{}
	}

	var out Outcome
	for _, m := range metrics.All() {
		value := sample.Value(m)
		threshold := e.thresholds.For(m)
		if !(value > float64(threshold)) {
			continue
		}
		event := Event{
			Timestamp: now,
			Kind:      KindThreshold,
			Metric:    m,
			Value:     value,
			Threshold: threshold,
			Message: fmt.Sprintf("[%s] WARNING: %s usage at %.1f%% exceeded threshold (%d%%)",
				now.Format("15:04:05"), m.Label(), value, threshold),
		}
		e.appendLocked(event)
		out.Events = append(out.Events, event)
	}

	if len(out.Events) > 0 && !e.suppression.Active {
		e.suppression = SuppressionState{Active: true, ResetDeadline: now.Add(e.cooldown)}
		out.Interrupt = &Notification{
			Timestamp: now,
			Title:     "System Alert",
			Message:   "Resource usage threshold exceeded. Check the alerts log for details.",
			Events:    append([]Event(nil), out.Events...),
		}
		e.logger.Warn().Int("breaches", len(out.Events)).Time("reset_deadline", e.suppression.ResetDeadline).Msg("raising alert interrupt")
	}
	return out
}

// Record appends a non-threshold event, such as an anomaly detection, to the log.
func (e *Evaluator) Record(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendLocked(event)
}

func (e *Evaluator) appendLocked(event Event) {
	if len(e.log) == e.capacity {
		copy(e.log, e.log[1:])
		e.log = e.log[:len(e.log)-1]
	}
	e.log = append(e.log, event)
}

// SetThresholds replaces the thresholds and notes the change in the alert
// log; invalid input keeps the previous ones.
func (e *Evaluator) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		e.logger.Warn().Err(err).Msg("rejected threshold update")
		return err
	}

	e.mu.Lock()
	prev := e.thresholds
	e.thresholds = t
	at := e.now()
	e.appendLocked(Event{
		Timestamp: at,
		Kind:      KindConfig,
		Message: fmt.Sprintf("[%s] Alert thresholds updated: CPU %d%%, Memory %d%%, Disk %d%%",
			at.Format("15:04:05"), t.CPU, t.Memory, t.Disk),
	})
	e.mu.Unlock()

	e.logger.Info().Interface("from", prev).Interface("to", t).Msg("alert thresholds updated")
	return nil
}

// Thresholds returns the active thresholds.
func (e *Evaluator) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// Events returns a copy of the alert log, oldest first.
func (e *Evaluator) Events() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Event(nil), e.log...)
}

// Suppression returns the popup suppression state.
func (e *Evaluator) Suppression() SuppressionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.suppression
}
