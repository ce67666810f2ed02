package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"channelwatch/scraper/internal/bot"
	"channelwatch/scraper/internal/config"
	"channelwatch/scraper/internal/database"
	"channelwatch/scraper/internal/fetch"
	"channelwatch/scraper/internal/ingest"
	"channelwatch/scraper/internal/links"
	"channelwatch/scraper/internal/models"
	"channelwatch/scraper/internal/ranking"
	"channelwatch/scraper/internal/report"
	"channelwatch/scraper/internal/scrape"
	"channelwatch/scraper/internal/server"
	"channelwatch/scraper/internal/storage"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func usage() {
	fmt.Println("Usage: scraper [command] [options]")
	fmt.Println("Commands: scrape, start, report, export, server, bot, reset")
	fmt.Println("\nFor command-specific options, use: scraper [command] -h")
}

func main() {
	// A missing .env file is fine, the environment may be set directly.
	_ = godotenv.Load()

	cfg := config.DefaultConfig()

	var logLevelStr string

	addCommonFlags := func(fs *flag.FlagSet) {
		fs.StringVar(&cfg.DBPath, "db", cfg.DBPath,
			"Path to the SQLite database file (env: SCRAPER_DB_PATH)")
		fs.StringVar(&logLevelStr, "log-level", config.GetEnvString("SCRAPER_LOG_LEVEL", config.DefaultLogLevel),
			"Log level: debug, info, warn, error (env: SCRAPER_LOG_LEVEL)")
	}

	var channelsFlag string
	var daysFlag int
	var limitFlag int

	addPipelineFlags := func(fs *flag.FlagSet) {
		fs.StringVar(&channelsFlag, "channels", "",
			"Comma-separated channel names, overrides SCRAPER_CHANNELS")
		fs.IntVar(&daysFlag, "days", cfg.LookbackDays,
			"Lookback window in days (env: SCRAPER_LOOKBACK_DAYS)")
	}

	scrapeCmd := flag.NewFlagSet("scrape", flag.ExitOnError)
	addCommonFlags(scrapeCmd)
	addPipelineFlags(scrapeCmd)
	scrapeCmd.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount,
		"Number of concurrent channel fetches (env: SCRAPER_WORKER_COUNT)")

	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	addCommonFlags(startCmd)
	addPipelineFlags(startCmd)
	startCmd.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount,
		"Number of concurrent channel fetches (env: SCRAPER_WORKER_COUNT)")
	startCmd.StringVar(&cfg.ScrapeCron, "cron", cfg.ScrapeCron,
		"Cron expression for scheduled scrapes (env: SCRAPER_CRON)")

	reportCmd := flag.NewFlagSet("report", flag.ExitOnError)
	addCommonFlags(reportCmd)
	addPipelineFlags(reportCmd)
	reportCmd.IntVar(&limitFlag, "limit", cfg.ReportLimit,
		"Maximum number of posts in the report (env: SCRAPER_REPORT_LIMIT)")

	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	addCommonFlags(exportCmd)
	addPipelineFlags(exportCmd)
	exportCmd.IntVar(&limitFlag, "limit", config.DefaultExportLimit,
		"Maximum number of posts in the export")
	exportCmd.StringVar(&cfg.OutputDir, "out", cfg.OutputDir,
		"Directory for export files (env: SCRAPER_OUTPUT_DIR)")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	addCommonFlags(serverCmd)
	serverCmd.StringVar(&cfg.ServerHost, "host", cfg.ServerHost,
		"Host to bind the server to (env: SCRAPER_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", cfg.ServerPort,
		"Port to listen on (env: SCRAPER_PORT)")

	botCmd := flag.NewFlagSet("bot", flag.ExitOnError)
	addCommonFlags(botCmd)
	botCmd.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount,
		"Number of concurrent channel fetches (env: SCRAPER_WORKER_COUNT)")

	resetCmd := flag.NewFlagSet("reset", flag.ExitOnError)
	addCommonFlags(resetCmd)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	run := func(fs *flag.FlagSet, fn func(*config.Config) error) {
		fs.Parse(os.Args[2:])

		if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
			cfg.LogLevel = level
		}
		zerolog.SetGlobalLevel(cfg.LogLevel)

		if channelsFlag != "" {
			cfg.Channels = config.SplitList(channelsFlag)
		}
		if daysFlag > 0 {
			cfg.LookbackDays = daysFlag
		}
		if limitFlag > 0 {
			cfg.ReportLimit = limitFlag
		}

		if err := fn(cfg); err != nil {
			log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
			os.Exit(1)
		}
	}

	switch os.Args[1] {
	case "scrape":
		run(scrapeCmd, runScrape)
	case "start":
		run(startCmd, runStart)
	case "report":
		run(reportCmd, runReport)
	case "export":
		run(exportCmd, runExport)
	case "server":
		run(serverCmd, runServer)
	case "bot":
		run(botCmd, runBot)
	case "reset":
		run(resetCmd, runReset)
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		usage()
		os.Exit(1)
	}
}

// openDB initializes the database with migrations applied.
func openDB(cfg *config.Config, readOnly bool) (*database.DB, error) {
	dbCfg := database.NewConfig(cfg.DBPath)
	dbCfg.ReadOnly = readOnly

	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// newCoordinator assembles the scrape pipeline against the database.
func newCoordinator(cfg *config.Config, db *database.DB) *scrape.Coordinator {
	classifier := links.NewClassifier(cfg.ResearchHosts)
	normalizer := ingest.NewNormalizer(classifier)
	repo := storage.NewRepository(db)
	return scrape.NewCoordinator(fetch.NewWebFetcher(), normalizer, repo, cfg.WorkerCount)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-shutdown
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	return ctx, cancel
}

// runScrape executes a single ingestion pass and prints the outcome.
func runScrape(cfg *config.Config) error {
	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	coordinator := newCoordinator(cfg, db)

	startTime := time.Now()
	rep, err := coordinator.Run(ctx, cfg.Channels, cfg.LookbackDays, time.Now().UTC())
	if err != nil {
		return err
	}

	log.Info().
		Dur("duration", time.Since(startTime)).
		Int("fetched", rep.TotalFetched()).
		Int("channels_ok", rep.ChannelsOK()).
		Bool("cancelled", rep.Cancelled).
		Msg("Scrape pass finished")

	for channel, cr := range rep.PerChannel {
		event := log.Info()
		if cr.Failed {
			event = log.Warn()
		}
		event.
			Str("channel", channel).
			Int("fetched", cr.Fetched).
			Int("inserted", cr.Inserted).
			Int("updated", cr.Updated).
			Int("skipped", cr.Skipped).
			Bool("failed", cr.Failed).
			Msg("Channel result")
	}
	return nil
}

// runStart runs an immediate scrape and then keeps scraping on the
// configured cron schedule until interrupted.
func runStart(cfg *config.Config) error {
	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	coordinator := newCoordinator(cfg, db)

	runOnce := func() {
		runCtx, runCancel := context.WithTimeout(ctx, 30*time.Minute)
		defer runCancel()

		rep, err := coordinator.Run(runCtx, cfg.Channels, cfg.LookbackDays, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Msg("Scheduled scrape failed")
			return
		}
		log.Info().
			Int("fetched", rep.TotalFetched()).
			Int("channels_ok", rep.ChannelsOK()).
			Bool("cancelled", rep.Cancelled).
			Msg("Scheduled scrape finished")
	}

	log.Info().Str("cron", cfg.ScrapeCron).Msg("Running initial scrape before scheduling")
	runOnce()

	if err := ctx.Err(); err != nil {
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ScrapeCron, runOnce); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cfg.ScrapeCron, err)
	}
	scheduler.Start()

	log.Info().Str("cron", cfg.ScrapeCron).Msg("Scheduler started")
	<-ctx.Done()

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(time.Minute):
		log.Warn().Msg("Timed out waiting for running jobs to finish")
	}

	log.Info().Msg("Scheduler stopped")
	return nil
}

// runReport prints the ranked posts for the lookback window to stdout.
func runReport(cfg *config.Config) error {
	posts, err := topPosts(cfg)
	if err != nil {
		return err
	}

	fmt.Println(report.Render(posts, cfg.LookbackDays))
	return nil
}

// runExport writes the ranked posts to JSON, Markdown and RSS files.
func runExport(cfg *config.Config) error {
	posts, err := topPosts(cfg)
	if err != nil {
		return err
	}

	paths, err := report.Export(posts, cfg.OutputDir, time.Now().UTC())
	if err != nil {
		return err
	}

	log.Info().
		Str("json", paths.JSON).
		Str("markdown", paths.Markdown).
		Str("rss", paths.RSS).
		Int("posts", len(posts)).
		Msg("Export complete")
	return nil
}

// topPosts runs the ranking over a read-only database handle.
func topPosts(cfg *config.Config) ([]models.Post, error) {
	db, err := openDB(cfg, true)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	engine := ranking.NewEngine(storage.NewRepository(db))
	window := ranking.WindowForLookback(time.Now().UTC(), cfg.LookbackDays, cfg.ReportLimit)

	posts, err := engine.Top(ctx, cfg.Channels, window)
	if err != nil {
		if errors.Is(err, models.ErrInvalidParameter) {
			return nil, fmt.Errorf("invalid report parameters: %w", err)
		}
		return nil, err
	}
	return posts, nil
}

// runServer starts the HTTP API server with the provided configuration.
func runServer(cfg *config.Config) error {
	db, err := openDB(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	return server.RunServer(db, cfg, log.Logger)
}

// runReset deletes the database file and recreates an empty one.
// It prompts for confirmation before deleting an existing database.
func runReset(cfg *config.Config) error {
	if _, err := os.Stat(cfg.DBPath); err == nil {
		fmt.Printf("Database %s already exists. All scraped posts will be lost.\n", cfg.DBPath)
		fmt.Print("Delete and recreate? (y/N): ")

		var answer string
		fmt.Scanln(&answer)

		if strings.ToLower(answer) != "y" {
			log.Info().Msg("Operation canceled by user")
			return fmt.Errorf("operation canceled by user")
		}

		if err := database.DeleteDB(cfg.DBPath); err != nil {
			log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to delete existing database")
			return fmt.Errorf("failed to delete existing database: %w", err)
		}
		log.Info().Str("path", cfg.DBPath).Msg("Deleted existing database")
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info().Str("path", cfg.DBPath).Msg("Database recreated")
	return nil
}

// runBot starts the chat bot with long polling.
func runBot(cfg *config.Config) error {
	if cfg.BotToken == "" {
		return fmt.Errorf("bot token is not configured (env: SCRAPER_BOT_TOKEN)")
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	repo := storage.NewRepository(db)
	coordinator := newCoordinator(cfg, db)
	engine := ranking.NewEngine(repo)

	b, err := bot.New(coordinator, engine, cfg, log.Logger)
	if err != nil {
		return err
	}

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
