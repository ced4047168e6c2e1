package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vault-harvester/internal/alerting"
	"vault-harvester/internal/chainclient"
	"vault-harvester/internal/config"
	"vault-harvester/internal/harvest"
	"vault-harvester/internal/scheduler"
	"vault-harvester/internal/service"
	"vault-harvester/internal/storage"
	"vault-harvester/internal/vaults"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newVaultSource() vaults.Source {
	return vaults.NewAPI(vaults.APIOptions{
		BaseURL:   a.Config.VaultAPI.BaseURL,
		Timeout:   a.Config.VaultAPI.RequestTimeout,
		UserAgent: a.Config.VaultAPI.UserAgent,
	}, a.Logger)
}

// dialChain connects one chain and wires its pipeline. The returned closer
// releases the RPC connection.
func (a *App) dialChain(ctx context.Context, chain string, source vaults.Source, dryRun bool) (*harvest.Orchestrator, func(), error) {
	chainCfg, ok := a.Config.Chains[chain]
	if !ok || !chainCfg.Enabled {
		return nil, nil, fmt.Errorf("chain %s not configured or not enabled", chain)
	}

	kind, err := chainclient.ParseLensKind(chainCfg.Lens.Kind)
	if err != nil {
		return nil, nil, fmt.Errorf("chain %s: %w", chain, err)
	}

	client, err := chainclient.Dial(ctx, chainclient.Options{
		Chain:         chain,
		RPCURL:        chainCfg.RPCURL,
		Timeout:       chainCfg.RequestTimeout,
		LensAddress:   chainCfg.Lens.Address,
		LensKind:      kind,
		DynamicFees:   chainCfg.FeeType == "dynamic",
		PrivateKeyHex: chainCfg.WalletPrivateKey,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}

	waiter := chainclient.NewReceiptWaiter(client, chainclient.ReceiptWaitOptions{
		Confirmations:   chainCfg.Receipt.Confirmations,
		Timeout:         chainCfg.Receipt.Timeout,
		PollInterval:    chainCfg.Receipt.PollInterval,
		NotFoundRetries: chainCfg.Receipt.NotFoundRetries,
		NotFoundDelay:   chainCfg.Receipt.NotFoundDelay,
	}, a.Logger)

	orch := harvest.NewOrchestrator(chain, chainCfg, client, source, waiter, a.Logger)
	orch.DryRun = dryRun
	return orch, client.Close, nil
}

// dialChains connects every enabled chain. Partial failure tears down the
// chains already dialed.
func (a *App) dialChains(ctx context.Context, dryRun bool) (map[string]service.ChainRunner, func(), error) {
	source := a.newVaultSource()
	runners := make(map[string]service.ChainRunner)
	closers := make([]func(), 0, len(a.Config.Chains))

	closeAll := func() {
		for _, close := range closers {
			close()
		}
	}

	for _, chain := range a.Config.EnabledChains() {
		orch, closer, err := a.dialChain(ctx, chain, source, dryRun)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		runners[chain] = orch
		closers = append(closers, closer)
	}

	if len(runners) == 0 {
		return nil, nil, errors.New("no chains enabled")
	}
	return runners, closeAll, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Discord.Enabled {
		cfg := a.Config.Alerting.Discord
		return alerting.NewDiscordNotifier(cfg.WebhookURL, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(sched *scheduler.Scheduler, runners map[string]service.ChainRunner, store *storage.Store) *service.Service {
	var runStore storage.RunStore
	if store != nil {
		runStore = store
	}
	return service.New(a.Config, sched, runners, runStore, a.newNotifier(), a.Logger)
}

// Run executes the long-running harvesting service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runners, closeChains, err := a.dialChains(ctx, false)
	if err != nil {
		return err
	}
	defer closeChains()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(sched, runners, store)

	a.Logger.Info().Int("chains", len(runners)).Msg("starting harvesting service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("harvesting service stopped")
	return nil
}

// HarvestOptions configure a one-shot chain pass.
type HarvestOptions struct {
	Chain  string
	DryRun bool
}

// ExportOptions hold parameters for exporting historical runs.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
