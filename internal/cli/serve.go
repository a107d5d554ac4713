package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/seekerhq/seeker/internal/config"
	"github.com/seekerhq/seeker/internal/logger"
	"github.com/seekerhq/seeker/internal/postgres"
	"github.com/seekerhq/seeker/internal/server"
	"github.com/seekerhq/seeker/pkg/access"
	"github.com/seekerhq/seeker/pkg/agent"
	"github.com/seekerhq/seeker/pkg/blob"
	"github.com/seekerhq/seeker/pkg/browser"
	"github.com/seekerhq/seeker/pkg/commandqueue"
	"github.com/seekerhq/seeker/pkg/credits"
	"github.com/seekerhq/seeker/pkg/llm"
	"github.com/seekerhq/seeker/pkg/research"
	"github.com/seekerhq/seeker/pkg/session"
	"github.com/seekerhq/seeker/pkg/tools"
	"github.com/seekerhq/seeker/pkg/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Seeker API server and research schedulers",
	Long: `Run the full platform in the foreground: the HTTP API, the agent
runtime, the recurring-research scheduler, and session cleanup. Stops
on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.New(pool)
	if err := store.Init(ctx); err != nil {
		return err
	}
	log.Info().Msg("database ready")

	models, err := llm.InferVendorModels(cfg.LLM.Models)
	if err != nil {
		return fmt.Errorf("models: %w", err)
	}
	summaryModels, err := llm.InferVendorModels(cfg.LLM.SummaryModels)
	if err != nil {
		return fmt.Errorf("summary models: %w", err)
	}

	llmClient := llm.NewClient(llm.ClientConfig{
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.LLM.OpenAIBaseURL,
		GeminiAPIKey:    cfg.LLM.GeminiAPIKey,
		ReplicateAPIKey: cfg.LLM.ReplicateAPIKey,
		LogDir:          cfg.LLM.LogDir,
		Logger:          log,
	})

	ledgerCfg := credits.DefaultConfig()
	if cfg.Credits.FreeCredits > 0 {
		ledgerCfg.FreeCredits = decimal.NewFromInt(cfg.Credits.FreeCredits)
	}
	ledger := credits.NewLedger(store, ledgerCfg, log)

	var blobs blob.Store
	if cfg.Blob.BaseURL != "" {
		blobs, err = blob.NewHTTPStore(blob.HTTPStoreConfig{
			BaseURL: cfg.Blob.BaseURL,
			Bucket:  cfg.Blob.Bucket,
			Secret:  cfg.Blob.Secret,
			Logger:  log,
		})
		if err != nil {
			return err
		}
	} else {
		log.Warn().Msg("no blob backend configured, archiving transcripts in memory")
		blobs = blob.NewMemoryStore()
	}

	var workflows *workflow.Client
	if cfg.Workflow.BaseURL != "" {
		workflows, err = workflow.NewClient(workflow.Config{
			BaseURL:  cfg.Workflow.BaseURL,
			Username: cfg.Workflow.Username,
			Password: cfg.Workflow.Password,
			Logger:   log,
		})
		if err != nil {
			return err
		}
	}

	// Headless Chrome is best effort: the browse tool falls back to
	// plain HTTP fetches without it.
	var fetcher tools.HTMLFetcher
	if f, err := browser.NewFetcher(browser.FetcherConfig{
		ControlURL:      cfg.Browser.ControlURL,
		NavigateTimeout: cfg.Browser.NavigateTimeout.Std(),
		Logger:          log,
	}); err != nil {
		log.Warn().Err(err).Msg("headless browser unavailable")
	} else {
		fetcher = f
		defer f.Close()
	}

	registry := tools.NewRegistry(ledger, log)
	if err := registerTools(registry, registryDeps{
		llm:       llmClient,
		models:    models,
		search:    cfg.LLM.SearchModel,
		fetcher:   fetcher,
		workflows: workflows,
		blobs:     blobs,
		counter:   store,
		log:       log,
	}); err != nil {
		return err
	}

	queue := commandqueue.New(log)
	defer queue.Close()

	sessions := session.NewManager(store, log)
	cleanup := session.NewCleanup(store, cfg.Agent.CleanupAge.Std(), cfg.Agent.CleanupInterval.Std(), log)
	if err := cleanup.Start(); err != nil {
		return err
	}
	defer cleanup.Stop() //nolint:errcheck

	runner, err := agent.NewRunner(agent.Config{
		Sessions:      sessions,
		Dispatcher:    registry,
		Ledger:        ledger,
		LLM:           llmClient,
		Queue:         queue,
		Models:        models,
		SummaryModels: summaryModels,
		Retries:       cfg.LLM.Retries,
		MaxIterations: cfg.Agent.MaxIterations,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	service, err := agent.NewResearchService(runner, sessions, blobs, log)
	if err != nil {
		return err
	}

	executor, err := research.NewExecutor(store, service, session.Config{
		TimeLimit:         cfg.Agent.TimeLimit.Std(),
		TokenThreshold:    cfg.Agent.TokenThreshold,
		PreserveExchanges: cfg.Agent.PreserveExchanges,
	}, log)
	if err != nil {
		return err
	}

	secret := []byte(cfg.Research.TokenSecret)
	handler := research.NewHandler(executor, secret, log)

	callbackURL := cfg.Research.CallbackBaseURL
	if callbackURL == "" {
		callbackURL = fmt.Sprintf("http://localhost:%d/api/internal", cfg.Server.Port)
	}
	queueClient, err := research.NewQueueClient(research.QueueClientConfig{
		BaseURL:  callbackURL,
		Secret:   secret,
		TokenTTL: cfg.Research.TokenTTL.Std(),
		Logger:   log,
	})
	if err != nil {
		return err
	}

	scheduler, err := research.NewScheduler(store, func(ctx context.Context, task *research.InfiniteResearch) error {
		return queueClient.EnqueueInfinite(ctx, task, nil)
	}, log)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	srv, err := server.New(server.Config{
		Addr:          cfg.Server.Addr(),
		Sessions:      sessions,
		Runner:        runner,
		Ledger:        ledger,
		Access:        access.NewResolver(store, log),
		Research:      handler,
		WebhookSecret: cfg.Credits.WebhookSecret,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	log.Info().Str("addr", cfg.Server.Addr()).Msg("seeker started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type registryDeps struct {
	llm       *llm.Client
	models    []llm.VendorModel
	search    string
	fetcher   tools.HTMLFetcher
	workflows *workflow.Client
	blobs     blob.Store
	counter   tools.DocumentCounter
	log       zerolog.Logger
}

func registerTools(registry *tools.Registry, deps registryDeps) error {
	browse, err := tools.NewBrowseTool(tools.BrowseToolConfig{
		LLM:     deps.llm,
		Models:  deps.models,
		Fetcher: deps.fetcher,
		Logger:  deps.log,
	})
	if err != nil {
		return err
	}
	if err := registry.Register(browse); err != nil {
		return err
	}

	searchTool, err := tools.NewSearchTool(tools.SearchToolConfig{
		LLM:    deps.llm,
		Model:  deps.search,
		Logger: deps.log,
	})
	if err != nil {
		return err
	}
	if err := registry.Register(searchTool); err != nil {
		return err
	}

	if err := registry.Register(tools.NewSaveContextTool()); err != nil {
		return err
	}

	counter, err := tools.NewDocumentCountTool(deps.counter)
	if err != nil {
		return err
	}
	if err := registry.Register(counter); err != nil {
		return err
	}

	// Media tools need the workflow backend.
	if deps.workflows == nil {
		deps.log.Warn().Msg("no workflow backend configured, media tools disabled")
		return nil
	}
	reel, err := tools.NewReelTool(tools.ReelToolConfig{
		Workflows: deps.workflows,
		Logger:    deps.log,
	})
	if err != nil {
		return err
	}
	if err := registry.Register(reel); err != nil {
		return err
	}
	retouch, err := tools.NewRetouchTool(tools.RetouchToolConfig{
		Workflows: deps.workflows,
		Blobs:     deps.blobs,
		Logger:    deps.log,
	})
	if err != nil {
		return err
	}
	return registry.Register(retouch)
}
