package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"host-sentinel/internal/alerting"
	"host-sentinel/internal/anomaly"
)

// EventRecord is a persisted alert log entry.
type EventRecord struct {
	ID         int64
	OccurredAt time.Time
	Kind       string
	Metric     string
	Value      decimal.Decimal
	Threshold  decimal.Decimal
	Message    string
	Host       string
	CreatedAt  time.Time
}

// VerdictRecord is a persisted anomalous verdict.
type VerdictRecord struct {
	ID         int64
	DetectedAt time.Time
	Score      decimal.Decimal
	CPU        decimal.Decimal
	Memory     decimal.Decimal
	Disk       decimal.Decimal
	Host       string
	CreatedAt  time.Time
}

func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(3)
}

// EventFromAlert converts an alert log entry for storage.
func EventFromAlert(host string, e alerting.Event) EventRecord {
	value := pct(e.Value)
	if e.Kind == alerting.KindAnomaly {
		value = decimal.NewFromFloat(e.Value).Round(6)
	}
	return EventRecord{
		OccurredAt: e.Timestamp,
		Kind:       string(e.Kind),
		Metric:     string(e.Metric),
		Value:      value,
		Threshold:  decimal.NewFromInt(int64(e.Threshold)),
		Message:    e.Message,
		Host:       host,
	}
}

// VerdictFromAnomaly converts a verdict for storage.
func VerdictFromAnomaly(host string, v anomaly.Verdict) VerdictRecord {
	return VerdictRecord{
		DetectedAt: v.DetectedAt,
		Score:      decimal.NewFromFloat(v.Score).Round(6),
		CPU:        pct(v.CPU),
		Memory:     pct(v.Memory),
		Disk:       pct(v.Disk),
		Host:       host,
	}
}
