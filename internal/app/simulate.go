package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"host-sentinel/internal/metrics"
	"host-sentinel/internal/pipeline"
	"host-sentinel/internal/sampler"
)

// SimulateOptions describe a scripted run.
type SimulateOptions struct {
	CPU       string
	Memory    string
	Disk      string
	Step      time.Duration
	Start     time.Time
	CSVPath   string
	MaxPoints int
	Out       io.Writer
}

// TickRow is the per-tick record of a simulation.
type TickRow struct {
	Tick      int
	At        time.Time
	Sample    metrics.Sample
	Stage     pipeline.Stage
	NewAlerts int
	Trained   bool
	Anomaly   bool
	Score     float64
}

// Simulate replays scripted series through the synchronous pipeline and
// prints alerts, the final forecasts and the anomaly verdict.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Step <= 0 {
		opts.Step = time.Second
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC().Truncate(time.Second)
	}

	series := make(map[metrics.Metric][]float64, 3)
	for m, raw := range map[metrics.Metric]string{metrics.CPU: opts.CPU, metrics.Memory: opts.Memory, metrics.Disk: opts.Disk} {
		values, err := sampler.ParseSeries(raw)
		if err != nil {
			return fmt.Errorf("--%s: %w", m, err)
		}
		series[m] = values
	}

	script := sampler.NewScripted(series[metrics.CPU], series[metrics.Memory], series[metrics.Disk], opts.Start, opts.Step)
	if script.Len() == 0 {
		return errors.New("at least one series must contain values")
	}

	orch, err := a.newPipeline(script, false, nil)
	if err != nil {
		return err
	}
	defer orch.Close()
	orch.SetInterval(opts.Step)

	rows := make([]TickRow, 0, script.Len())
	for i := 0; i < script.Len(); i++ {
		at := opts.Start.Add(time.Duration(i) * opts.Step)
		if err := orch.Tick(ctx, at); err != nil {
			return err
		}

		latest, _ := orch.LatestSample()
		fresh := 0
		for _, e := range orch.AlertEvents() {
			if e.Timestamp.Equal(latest.Timestamp) {
				fmt.Fprintln(out, e.Message)
				fresh++
			}
		}

		row := TickRow{Tick: i + 1, At: at, Sample: latest, Stage: orch.Stage(), NewAlerts: fresh}
		if v, ok := orch.AnomalyVerdict(); ok {
			row.Trained = true
			row.Anomaly = v.IsAnomaly
			row.Score = v.Score
		}
		rows = append(rows, row)
	}

	a.printSummary(out, orch, len(rows))

	if opts.CSVPath != "" {
		exported := downsampleRows(rows, opts.MaxPoints)
		if err := writeRowsCSV(opts.CSVPath, exported); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		a.Logger.Info().Int("total", len(rows)).Int("exported", len(exported)).Str("path", opts.CSVPath).Msg("simulation exported")
	}
	return nil
}

func (a *App) printSummary(out io.Writer, orch *pipeline.Orchestrator, ticks int) {
	status := orch.Status()
	fmt.Fprintf(out, "ticks: %d  stage: %s (%s)\n", ticks, status.Stage, status.StageDetail)
	fmt.Fprintf(out, "model: trained=%t samples_since_training=%d\n", status.Model.IsTrained, status.Model.SamplesSeenSinceTraining)

	if v, ok := orch.AnomalyVerdict(); ok {
		fmt.Fprintf(out, "anomaly: %t score=%s\n", v.IsAnomaly, formatDecimal(decimal.NewFromFloat(v.Score), 4))
	} else {
		fmt.Fprintln(out, "anomaly: model not trained")
	}

	for _, m := range metrics.All() {
		f := orch.Forecast(m)
		if !f.Ready() {
			fmt.Fprintf(out, "forecast %s [%s]\n", m, f.Status)
			continue
		}
		points := make([]string, len(f.Points))
		for i, p := range f.Points {
			points[i] = formatDecimal(decimal.NewFromFloat(p), 1)
		}
		fmt.Fprintf(out, "forecast %s [%s]: %s\n", m, f.Status, strings.Join(points, " "))
	}
}
