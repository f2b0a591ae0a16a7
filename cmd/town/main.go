package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jiejieje/alien-town/internal/agent"
	"github.com/jiejieje/alien-town/internal/api"
	"github.com/jiejieje/alien-town/internal/bus"
	"github.com/jiejieje/alien-town/internal/config"
	"github.com/jiejieje/alien-town/internal/dispatch"
	"github.com/jiejieje/alien-town/internal/embedding"
	"github.com/jiejieje/alien-town/internal/generation"
	"github.com/jiejieje/alien-town/internal/notify"
	"github.com/jiejieje/alien-town/internal/provider"
	"github.com/jiejieje/alien-town/internal/sim"
	"github.com/jiejieje/alien-town/internal/store"
	"github.com/jiejieje/alien-town/internal/vectorstore"
	"github.com/jiejieje/alien-town/internal/world"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Alien Town...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/town.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Initialize embedding provider
	embCfg := embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	}
	var embedder embedding.Provider
	switch embCfg.Provider {
	case "ollama":
		embedder = embedding.NewOllamaProvider(embCfg)
	default:
		embedder = embedding.NewOpenAIProvider(embCfg)
	}

	// Initialize town and stepper
	town := world.NewTown(cfg.Town, logger)
	simCfg := sim.Config{
		PoolSize:           cfg.Sim.PoolSize,
		CheckpointEvery:    cfg.Sim.CheckpointEvery,
		RelationDecayEvery: cfg.Sim.RelationDecayEvery,
		Retrieval:          cfg.Sim.Retrieval,
	}
	cycleCfg := agent.DefaultCycleConfig()
	if cfg.Sim.RetrieveK > 0 {
		cycleCfg.RetrieveK = cfg.Sim.RetrieveK
	}
	if cfg.Sim.ReflectionThreshold > 0 {
		cycleCfg.ReflectionThreshold = cfg.Sim.ReflectionThreshold
	}
	if cfg.Sim.MoodThreshold > 0 {
		cycleCfg.MoodThreshold = cfg.Sim.MoodThreshold
	}
	if cfg.Sim.CreativeCooldown > 0 {
		cycleCfg.CreativeCooldown = cfg.Sim.CreativeCooldown
	}
	stepper := sim.New(town, router, embedder, simCfg, cycleCfg, logger)

	// Checkpoint persistence: PostgreSQL when configured, local files
	// as the fallback, none when neither works.
	var persister sim.Persister
	var pgStore *store.PGStore
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.NewPGStore(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without DB persistence", zap.Error(pgErr))
		} else {
			migrations := cfg.Database.Postgres.MigrationsDir
			if migrations == "" {
				migrations = "migrations"
			}
			if mErr := ps.Migrate(context.Background(), migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			persister = ps
		}
	}
	if persister == nil && cfg.Sim.CheckpointDir != "" {
		fs, fsErr := store.NewFileStore(cfg.Sim.CheckpointDir, logger)
		if fsErr != nil {
			logger.Warn("checkpoint dir unavailable, running without persistence", zap.Error(fsErr))
		} else {
			persister = fs
		}
	}
	if persister != nil {
		stepper.SetPersister(persister)
	}

	// Event bus
	var eventBus *bus.Bus
	if cfg.Database.Redis.URL != "" {
		eb, busErr := bus.New(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(busErr))
		} else {
			eventBus = eb
			stepper.SetEventSink(eb)
		}
	}

	// Vector mirror for cross-agent semantic search
	var mirror *vectorstore.Mirror
	if cfg.Database.Qdrant.Host != "" {
		m, qErr := vectorstore.NewMirror(context.Background(), vectorstore.Config{
			Host:       cfg.Database.Qdrant.Host,
			Port:       cfg.Database.Qdrant.Port,
			Collection: cfg.Database.Qdrant.Collection,
		}, embedder.Dimension(), logger)
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without semantic search", zap.Error(qErr))
		} else {
			mirror = m
			stepper.SetIndexer(m)
		}
	}

	// Relation graph
	var relations *world.RelationGraph
	if cfg.Database.Neo4j.URI != "" {
		rg, rgErr := world.NewRelationGraph(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if rgErr != nil {
			logger.Warn("Neo4j unavailable, running without relation graph", zap.Error(rgErr))
		} else {
			relations = rg
			stepper.SetRelationGraph(rg)
		}
	}

	// Announcements
	broadcaster := notify.NewBroadcaster(logger)
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord unavailable, running without Discord announcements", zap.Error(dErr))
		} else {
			broadcaster.Add(dn)
			defer dn.Close()
		}
	}
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		sn, sErr := notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.ChannelID, logger)
		if sErr != nil {
			logger.Warn("Slack unavailable, running without Slack announcements", zap.Error(sErr))
		} else {
			broadcaster.Add(sn)
		}
	}

	// Creative dispatcher
	dispCfg := dispatch.DefaultConfig()
	if cfg.Generation.Workers > 0 {
		dispCfg.Workers = cfg.Generation.Workers
	}
	if cfg.Generation.QueueSize > 0 {
		dispCfg.QueueSize = cfg.Generation.QueueSize
	}
	if cfg.Generation.MaxFailures > 0 {
		dispCfg.MaxFailures = cfg.Generation.MaxFailures
	}
	if cfg.Generation.MaxPolls > 0 {
		dispCfg.MaxPolls = cfg.Generation.MaxPolls
	}
	if cfg.Generation.BackoffBaseSeconds > 0 {
		dispCfg.BackoffBase = time.Duration(cfg.Generation.BackoffBaseSeconds) * time.Second
	}
	if cfg.Generation.BackoffCapSeconds > 0 {
		dispCfg.BackoffCap = time.Duration(cfg.Generation.BackoffCapSeconds) * time.Second
	}
	if cfg.Generation.PollSeconds > 0 {
		dispCfg.PollInterval = time.Duration(cfg.Generation.PollSeconds) * time.Second
	}
	dispatcher := dispatch.New(dispCfg, func(id string) (*agent.Agent, bool) {
		a, err := stepper.Agent(id)
		return a, err == nil
	}, stepper.Tick, logger)
	dispatcher.SetEmbedder(embedder)
	dispatcher.SetAnnouncer(broadcaster)
	if eventBus != nil {
		dispatcher.SetEventSink(eventBus)
	}

	if cfg.Generation.Liblib.Enabled {
		lc, lErr := generation.NewLiblibClient(generation.LiblibConfig{
			BaseURL:      cfg.Generation.Liblib.BaseURL,
			AccessKey:    cfg.Generation.Liblib.AccessKey,
			SecretKey:    cfg.Generation.Liblib.SecretKey,
			CheckpointID: cfg.Generation.Liblib.CheckpointID,
		}, logger)
		if lErr != nil {
			logger.Warn("Liblib unavailable, running without image generation", zap.Error(lErr))
		} else {
			dispatcher.RegisterGenerator(agent.CreativeImage, lc)
		}
	}
	if cfg.Generation.Suno.Enabled {
		sc, sErr := generation.NewSunoClient(generation.SunoConfig{
			BaseURL:     cfg.Generation.Suno.BaseURL,
			APIKey:      cfg.Generation.Suno.APIKey,
			Model:       cfg.Generation.Suno.Model,
			CallbackURL: cfg.Generation.Suno.CallbackURL,
		}, logger)
		if sErr != nil {
			logger.Warn("Suno unavailable, running without music generation", zap.Error(sErr))
		} else {
			dispatcher.RegisterGenerator(agent.CreativeMusic, sc)
		}
	}
	if cfg.Generation.WebSim.Enabled {
		outDir := cfg.Generation.WebSim.OutDir
		if outDir == "" {
			outDir = "websim"
		}
		wg, wErr := generation.NewWebSimGenerator(router, outDir, logger)
		if wErr != nil {
			logger.Warn("WebSim output dir unavailable, running without page generation", zap.Error(wErr))
		} else {
			dispatcher.RegisterGenerator(agent.CreativeWebSim, wg)
		}
	}

	dispCtx, dispCancel := context.WithCancel(context.Background())
	dispatcher.Start(dispCtx)
	stepper.SetIntentSink(dispatcher)

	// Seed residents, or restore them from the latest checkpoint.
	restored := false
	if persister != nil {
		cp, loadErr := persister.Load(context.Background())
		switch {
		case loadErr == nil:
			if rErr := stepper.Resume(cp); rErr != nil {
				logger.Warn("checkpoint resume failed, seeding fresh residents", zap.Error(rErr))
			} else {
				restored = true
				logger.Info("Resumed from checkpoint", zap.Int64("tick", cp.Tick), zap.Int("agents", len(cp.Agents)))
			}
		case errors.Is(loadErr, store.ErrNoCheckpoint):
		default:
			logger.Warn("checkpoint load failed, seeding fresh residents", zap.Error(loadErr))
		}
	}
	if !restored {
		for _, rc := range cfg.Residents {
			a := agent.New(rc.Name, rc.Traits, world.Position{X: rc.X, Y: rc.Y})
			if aErr := stepper.AddAgent(a); aErr != nil {
				logger.Warn("failed to seed resident", zap.String("name", rc.Name), zap.Error(aErr))
			}
		}
		logger.Info("Seeded residents", zap.Int("count", len(cfg.Residents)))
	}

	// Tick loop
	runCtx, runCancel := context.WithCancel(context.Background())
	interval := time.Duration(cfg.Sim.TickIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		if rErr := stepper.Run(runCtx, interval); rErr != nil && rErr != context.Canceled {
			logger.Error("tick loop stopped", zap.Error(rErr))
		}
	}()
	logger.Info("Simulation started", zap.Duration("interval", interval))

	// Build HTTP handler
	handler := api.NewHandler(stepper, town, logger)
	handler.SetDispatcher(dispatcher)
	handler.SetEmbedder(embedder)
	if mirror != nil {
		handler.SetMirror(mirror)
	}
	if relations != nil {
		handler.SetRelationGraph(relations)
	}
	if persister != nil {
		handler.SetPersister(persister)
	}

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Alien Town listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Alien Town...")
	runCancel()
	ctx := context.Background()
	srv.Shutdown(ctx)

	dispatcher.Stop(10 * time.Second)
	dispCancel()

	if persister != nil {
		if sErr := persister.Save(ctx, stepper.Checkpoint()); sErr != nil {
			logger.Warn("final checkpoint failed", zap.Error(sErr))
		}
	}
	if eventBus != nil {
		eventBus.Close()
	}
	if mirror != nil {
		mirror.Close()
	}
	if relations != nil {
		relations.Close(ctx)
	}
	if pgStore != nil {
		pgStore.Close()
	}
}
