package metrics

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Metric identifies one of the sampled host resources.
type Metric string

const (
	CPU    Metric = "cpu"
	Memory Metric = "memory"
	Disk   Metric = "disk"
)

// All returns the metrics in their canonical column order.
func All() []Metric {
	return []Metric{CPU, Memory, Disk}
}

// Parse resolves a metric name, accepting a few common aliases.
func Parse(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cpu", "processor":
		return CPU, nil
	case "memory", "mem", "ram":
		return Memory, nil
	case "disk", "storage":
		return Disk, nil
	default:
		return "", fmt.Errorf("unknown metric %q", name)
	}
}

func (m Metric) String() string { return string(m) }

// Label is the human readable name used in alert messages.
func (m Metric) Label() string {
	switch m {
	case CPU:
		return "CPU"
	case Memory:
		return "Memory"
	case Disk:
		return "Disk"
	default:
		return string(m)
	}
}

// Sample is one tick's worth of occupancy percentages.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	CPU       float64   `json:"cpu"`
	Memory    float64   `json:"memory"`
	Disk      float64   `json:"disk"`
}

// Value returns the percentage recorded for m.
func (s Sample) Value(m Metric) float64 {
	switch m {
	case CPU:
		return s.CPU
	case Memory:
		return s.Memory
	case Disk:
		return s.Disk
	default:
		return 0
	}
}

// WithValue returns a copy of s with metric m replaced.
func (s Sample) WithValue(m Metric, v float64) Sample {
	switch m {
	case CPU:
		s.CPU = v
	case Memory:
		s.Memory = v
	case Disk:
		s.Disk = v
	}
	return s
}

// Clamp bounds a percentage to [0,100]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
