package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"host-sentinel/internal/storage"
)

// Show prints recently persisted alert events, or anomaly verdicts.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show audit records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Verdicts {
		verdicts, err := store.ListRecentVerdicts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return printVerdicts(out, verdicts)
	}

	events, err := store.ListRecentEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return printEvents(out, events)
}

func printEvents(out io.Writer, events []storage.EventRecord) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "no alert events found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tHost\tKind\tMetric\tValue\tThreshold\tMessage")
	for _, e := range events {
		metric := e.Metric
		if metric == "" {
			metric = "-"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.UTC().Format(time.RFC3339),
			e.Host,
			e.Kind,
			metric,
			formatDecimal(e.Value, 1),
			formatDecimal(e.Threshold, 0),
			sanitizeInline(e.Message),
		)
	}
	return writer.Flush()
}

func printVerdicts(out io.Writer, verdicts []storage.VerdictRecord) error {
	if len(verdicts) == 0 {
		fmt.Fprintln(out, "no anomaly verdicts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tHost\tScore\tCPU%\tMemory%\tDisk%")
	for _, v := range verdicts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			v.DetectedAt.UTC().Format(time.RFC3339),
			v.Host,
			formatDecimal(v.Score, 4),
			formatDecimal(v.CPU, 1),
			formatDecimal(v.Memory, 1),
			formatDecimal(v.Disk, 1),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
