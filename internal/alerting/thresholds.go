package alerting

import (
	"errors"
	"fmt"
	"strings"

	"host-sentinel/internal/metrics"
)

// ErrValidation is matched by every threshold validation failure.
var ErrValidation = errors.New("validation error")

// ValidationError lists the offending threshold fields.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid thresholds: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Thresholds are alert trigger levels in percent.
type Thresholds struct {
	CPU    int `json:"cpu" mapstructure:"cpu"`
	Memory int `json:"memory" mapstructure:"memory"`
	Disk   int `json:"disk" mapstructure:"disk"`
}

// DefaultThresholds alert above 80% CPU, 80% memory and 90% disk.
func DefaultThresholds() Thresholds {
	return Thresholds{CPU: 80, Memory: 80, Disk: 90}
}

// For returns the threshold configured for m.
func (t Thresholds) For(m metrics.Metric) int {
	switch m {
	case metrics.CPU:
		return t.CPU
	case metrics.Memory:
		return t.Memory
	case metrics.Disk:
		return t.Disk
	default:
		return 100
	}
}

// Validate requires every threshold to lie in [0,100].
func (t Thresholds) Validate() error {
	var fields []string
	for _, m := range metrics.All() {
		if v := t.For(m); v < 0 || v > 100 {
			fields = append(fields, fmt.Sprintf("%s threshold must be between 0 and 100, got %d", m, v))
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
