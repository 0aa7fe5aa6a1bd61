package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"host-sentinel/internal/config"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  host: test-host\n"), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return NewApp(cfg, zerolog.Nop())
}

func TestSimulateCPUSpike(t *testing.T) {
	a := newTestApp(t)
	csvPath := filepath.Join(t.TempDir(), "out", "ticks.csv")

	var out bytes.Buffer
	err := a.Simulate(context.Background(), SimulateOptions{
		CPU:     "10x55,95x5",
		Memory:  "40",
		Disk:    "55",
		Step:    time.Second,
		Start:   time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
		CSVPath: csvPath,
		Out:     &out,
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "[10:00:59] WARNING: CPU usage at 80.7% exceeded threshold (80%)")
	assert.Contains(t, text, "anomaly: true")
	assert.Contains(t, text, "ticks: 60")
	assert.Contains(t, text, "forecast memory [degraded]: 40.0 40.0 40.0 40.0 40.0")

	file, err := os.Open(csvPath)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 61)
	assert.Equal(t, "tick", records[0][0])

	last := records[60]
	assert.Equal(t, "60", last[0])
	assert.Equal(t, "80.714", last[2])
	assert.Equal(t, "true", last[7])
	assert.Equal(t, "true", last[8])
}

func TestSimulateRejectsBadSeries(t *testing.T) {
	a := newTestApp(t)

	err := a.Simulate(context.Background(), SimulateOptions{CPU: "10xz", Out: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--cpu")

	err = a.Simulate(context.Background(), SimulateOptions{Out: &bytes.Buffer{}})
	require.Error(t, err)
}

func TestDownsampleRows(t *testing.T) {
	rows := make([]TickRow, 10)
	for i := range rows {
		rows[i].Tick = i + 1
	}

	assert.Len(t, downsampleRows(rows, 0), 10)
	assert.Len(t, downsampleRows(rows, 20), 10)

	got := downsampleRows(rows, 4)
	require.Len(t, got, 4)
	assert.Equal(t, 1, got[0].Tick)
	assert.Equal(t, 10, got[3].Tick)
}

func TestShowWithoutDatabase(t *testing.T) {
	a := newTestApp(t)
	err := a.Show(context.Background(), &bytes.Buffer{}, ShowOptions{Limit: 5})
	require.Error(t, err)
}

func TestHostnameOverride(t *testing.T) {
	a := newTestApp(t)
	assert.Equal(t, "test-host", a.hostname())
}
