package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"host-sentinel/internal/alerting"
	"host-sentinel/internal/anomaly"
	"host-sentinel/internal/metrics"
)

type fakeSink struct {
	mu       sync.Mutex
	events   []EventRecord
	verdicts []VerdictRecord
	purges   int
	started  chan struct{}
	release  chan struct{}
	lockFree bool
}

func (f *fakeSink) InsertEvent(ctx context.Context, e EventRecord) (EventRecord, error) {
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return e, nil
}

func (f *fakeSink) InsertVerdict(ctx context.Context, v VerdictRecord) (VerdictRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts = append(f.verdicts, v)
	return v, nil
}

func (f *fakeSink) DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges++
	return 3, nil
}

func (f *fakeSink) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return func() {}, f.lockFree, nil
}

var at = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRecorderPersistsOnClose(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, RecorderOptions{Host: "web-01"}, zerolog.Nop())

	r.RecordEvent(alerting.Event{Timestamp: at, Kind: alerting.KindThreshold, Metric: metrics.CPU, Value: 81.23456, Threshold: 80, Message: "cpu"})
	r.RecordVerdict(anomaly.Verdict{IsAnomaly: true, Score: -0.7123456789, CPU: 95, Memory: 40, Disk: 55, DetectedAt: at})
	r.Close()

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "81.235", ev.Value.String())
	assert.Equal(t, "80", ev.Threshold.String())
	assert.Equal(t, "cpu", ev.Metric)
	assert.Equal(t, "web-01", ev.Host)

	require.Len(t, sink.verdicts, 1)
	assert.Equal(t, "-0.712346", sink.verdicts[0].Score.String())
	assert.Equal(t, "95", sink.verdicts[0].CPU.String())

	r.RecordEvent(alerting.Event{Timestamp: at})
	assert.Len(t, sink.events, 1, "writes after close are ignored")
}

func TestRecorderDropsWhenBufferFull(t *testing.T) {
	sink := &fakeSink{started: make(chan struct{}), release: make(chan struct{})}
	r := NewRecorder(sink, RecorderOptions{BufferSize: 1}, zerolog.Nop())

	r.RecordEvent(alerting.Event{Timestamp: at, Kind: alerting.KindThreshold})
	<-sink.started
	r.RecordEvent(alerting.Event{Timestamp: at, Kind: alerting.KindThreshold})
	r.RecordEvent(alerting.Event{Timestamp: at, Kind: alerting.KindThreshold})
	assert.Equal(t, 1, r.Dropped())

	go func() {
		for range sink.started {
		}
	}()
	close(sink.release)
	r.Close()
	close(sink.started)
	assert.Len(t, sink.events, 2)
}

func TestRecorderPurgesUnderLock(t *testing.T) {
	locked := &fakeSink{lockFree: false}
	r := NewRecorder(locked, RecorderOptions{Retention: time.Hour, LockKey: 7}, zerolog.Nop())
	r.Close()
	assert.Zero(t, locked.purges)

	free := &fakeSink{lockFree: true}
	r = NewRecorder(free, RecorderOptions{Retention: time.Hour, LockKey: 7}, zerolog.Nop())
	r.Close()
	assert.Equal(t, 1, free.purges)

	noLock := &fakeSink{}
	r = NewRecorder(noLock, RecorderOptions{Retention: time.Hour}, zerolog.Nop())
	r.Close()
	assert.Equal(t, 1, noLock.purges)
}

func TestAnomalyEventKeepsScorePrecision(t *testing.T) {
	rec := EventFromAlert("", alerting.Event{Kind: alerting.KindAnomaly, Value: -0.6543219})
	assert.Equal(t, "-0.654322", rec.Value.String())
	assert.Equal(t, "anomaly", rec.Kind)
	assert.Equal(t, "", rec.Metric)
}
