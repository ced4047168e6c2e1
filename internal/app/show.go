package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
)

// Show prints recent harvest runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tChain\tLevel\tHarvested\tSkipped\tErrors\tProfit (wei)")

	for _, run := range runs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Chain,
			run.Level,
			run.Harvested,
			run.Skipped,
			run.Errors,
			run.ProfitWei,
		)
	}

	writer.Flush()
	return nil
}

func intString(v int) string {
	return strconv.Itoa(v)
}
