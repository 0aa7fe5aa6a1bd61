package app

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

func downsampleRows(rows []TickRow, max int) []TickRow {
	if max <= 1 || len(rows) <= max {
		return rows
	}

	result := make([]TickRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeRowsCSV(path string, rows []TickRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"tick", "timestamp", "cpu", "memory", "disk", "stage", "new_alerts", "trained", "anomaly", "score"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		score := ""
		if row.Trained {
			score = formatDecimal(decimal.NewFromFloat(row.Score), 6)
		}
		record := []string{
			strconv.Itoa(row.Tick),
			row.At.UTC().Format(time.RFC3339),
			formatDecimal(decimal.NewFromFloat(row.Sample.CPU), 3),
			formatDecimal(decimal.NewFromFloat(row.Sample.Memory), 3),
			formatDecimal(decimal.NewFromFloat(row.Sample.Disk), 3),
			string(row.Stage),
			strconv.Itoa(row.NewAlerts),
			strconv.FormatBool(row.Trained),
			strconv.FormatBool(row.Anomaly),
			score,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
