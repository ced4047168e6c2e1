package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vault-harvester/internal/harvest"
	"vault-harvester/internal/service"
)

// Harvest runs one immediate pass for a single chain and prints the redacted
// report. The pass is persisted and alerted on exactly like a scheduled one.
func (a *App) Harvest(ctx context.Context, opts HarvestOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	source := a.newVaultSource()
	orch, closeChain, err := a.dialChain(ctx, opts.Chain, source, opts.DryRun)
	if err != nil {
		return err
	}
	defer closeChain()

	runners := map[string]service.ChainRunner{opts.Chain: orch}
	svc := a.newService(nil, runners, store)

	report, runErr := svc.RunChain(ctx, opts.Chain)
	if report != nil {
		if printErr := a.printReport(report); printErr != nil {
			return printErr
		}
	}
	return runErr
}

// Decide runs the pipeline through the decision stage only and prints the
// report. Nothing is submitted, persisted, or alerted.
func (a *App) Decide(ctx context.Context, chain string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source := a.newVaultSource()
	orch, closeChain, err := a.dialChain(ctx, chain, source, true)
	if err != nil {
		return err
	}
	defer closeChain()

	report, runErr := orch.Run(ctx)
	if report != nil {
		if printErr := a.printReport(report); printErr != nil {
			return printErr
		}
	}
	return runErr
}

func (a *App) printReport(report *harvest.ChainReport) error {
	serialized, err := harvest.Serialize(report, a.Config.Redaction.Secrets)
	if err != nil {
		return fmt.Errorf("serialize report: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(serialized))
	return nil
}
