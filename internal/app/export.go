package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"vault-harvester/internal/storage"
)

// Export renders historical harvest runs as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	if opts.MaxPoints <= 0 {
		opts.MaxPoints = a.Config.Export.MaxDataPoints
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	runs, err := store.ListRunsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		a.Logger.Info().Msg("no runs found for export window")
		return nil
	}

	downsampled := downsampleRuns(runs, opts.MaxPoints)
	a.Logger.Info().Int("total", len(runs)).Int("exported", len(downsampled)).Msg("exporting runs")

	if opts.CSVPath != "" {
		if err := writeRunsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRunsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRuns(runs []storage.RunRecord, max int) []storage.RunRecord {
	if max <= 0 || len(runs) <= max {
		return runs
	}

	result := make([]storage.RunRecord, 0, max)
	step := float64(len(runs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(runs) {
			idx = len(runs) - 1
		}
		result = append(result, runs[idx])
	}
	return result
}

func writeRunsCSV(path string, runs []storage.RunRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"started_at", "finished_at", "chain", "level", "harvested", "skipped", "errors", "profit_wei"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, run := range runs {
		record := []string{
			run.StartedAt.UTC().Format(time.RFC3339),
			run.FinishedAt.UTC().Format(time.RFC3339),
			run.Chain,
			run.Level,
			intString(run.Harvested),
			intString(run.Skipped),
			intString(run.Errors),
			run.ProfitWei,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRunsPNG(path string, runs []storage.RunRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(runs))
	harvested := make([]float64, len(runs))
	errored := make([]float64, len(runs))
	profit := make([]float64, len(runs))

	for i, run := range runs {
		x[i] = run.StartedAt
		harvested[i] = float64(run.Harvested)
		errored[i] = float64(run.Errors)
		profit[i] = profitNative(run.ProfitWei)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Vaults per run",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Profit (native)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Harvested",
				XValues: x,
				YValues: harvested,
			},
			chart.TimeSeries{
				Name:    "Errors",
				XValues: x,
				YValues: errored,
			},
			chart.TimeSeries{
				Name:    "Profit",
				XValues: x,
				YValues: profit,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// profitNative converts a wei decimal string to native units for plotting.
// Precision loss is acceptable in a chart.
func profitNative(weiStr string) float64 {
	d, err := decimal.NewFromString(weiStr)
	if err != nil {
		return 0
	}
	return d.Div(decimal.New(1, 18)).InexactFloat64()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
