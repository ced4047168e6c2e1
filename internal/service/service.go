package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vault-harvester/internal/alerting"
	"vault-harvester/internal/config"
	"vault-harvester/internal/harvest"
	"vault-harvester/internal/scheduler"
	"vault-harvester/internal/severity"
	"vault-harvester/internal/storage"
)

// ChainRunner executes one chain's harvest pass.
type ChainRunner interface {
	Run(ctx context.Context) (*harvest.ChainReport, error)
}

// Service orchestrates scheduled harvest passes, persistence, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	runners   map[string]ChainRunner
	store     storage.RunStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	secrets  []string
	minLevel severity.Level
	alertsOn bool
}

// New constructs the harvesting service.
func New(cfg *config.Config, sched *scheduler.Scheduler, runners map[string]ChainRunner, store storage.RunStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	minLevel := severity.Warning
	switch cfg.Alerting.MinLevel {
	case "info":
		minLevel = severity.Info
	case "notice":
		minLevel = severity.Notice
	case "warning":
		minLevel = severity.Warning
	case "error":
		minLevel = severity.Error
	}

	return &Service{
		scheduler: sched,
		runners:   runners,
		store:     store,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		secrets:   cfg.Redaction.Secrets,
		minLevel:  minLevel,
		alertsOn:  cfg.Alerting.Enabled,
	}
}

// Run begins the scheduled harvesting loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.RunAllChains)
}

// RunAllChains executes one full pass over every configured chain. Chains
// run concurrently and independently: one chain's failure never aborts the
// others, and every produced report is handled even when its run errored.
func (s *Service) RunAllChains(ctx context.Context, tick time.Time) error {
	g, gctx := errgroup.WithContext(ctx)

	for chain, runner := range s.runners {
		g.Go(func() error {
			report, err := runner.Run(gctx)
			if err != nil {
				s.logger.Error().Str("chain", chain).Err(err).Msg("chain harvest pass failed")
			}
			if report != nil {
				s.handleReport(gctx, report)
			}
			// Chain failures are isolated; never propagate into the group.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info().Time("tick", tick).Int("chains", len(s.runners)).Msg("harvest pass complete")
	return nil
}

// RunChain executes one pass for a single chain and handles its report.
func (s *Service) RunChain(ctx context.Context, chain string) (*harvest.ChainReport, error) {
	runner, ok := s.runners[chain]
	if !ok {
		return nil, fmt.Errorf("chain %s not configured or not enabled", chain)
	}
	report, err := runner.Run(ctx)
	if report != nil {
		s.handleReport(ctx, report)
	}
	return report, err
}

// handleReport persists and alerts on a finalized report. Both sinks are
// best-effort: the report itself already captured what happened on chain.
func (s *Service) handleReport(ctx context.Context, report *harvest.ChainReport) {
	serialized, err := harvest.Serialize(report, s.secrets)
	if err != nil {
		s.logger.Error().Str("chain", report.Chain).Err(err).Msg("failed to serialize report")
		return
	}

	if s.store != nil {
		record := storage.RunRecord{
			Chain:      report.Chain,
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
			Level:      report.Summary.Level.String(),
			Harvested:  report.Summary.Harvested,
			Skipped:    report.Summary.Skipped,
			Errors:     report.Summary.Errors,
			ProfitWei:  report.Summary.AggregatedProfit.String(),
			Report:     serialized,
		}
		if _, err := s.store.InsertRun(ctx, record); err != nil {
			s.logger.Error().Str("chain", report.Chain).Err(err).Msg("failed to persist run")
		}
	}

	if s.alertsOn && s.notifier != nil && report.Summary.Level >= s.minLevel {
		if err := s.notifier.Notify(ctx, alerting.FromReport(report)); err != nil {
			s.logger.Error().Str("chain", report.Chain).Err(err).Msg("failed to dispatch alert")
		}
	}

	s.logger.Info().
		Str("chain", report.Chain).
		Str("level", report.Summary.Level.String()).
		Int("harvested", report.Summary.Harvested).
		Int("skipped", report.Summary.Skipped).
		Int("errors", report.Summary.Errors).
		Str("profit_wei", report.Summary.AggregatedProfit.String()).
		Msg("chain report finalized")
}
