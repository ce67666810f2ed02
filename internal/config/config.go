package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	DBPath    string
	OutputDir string

	// Scrape targets
	Channels []string

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Bot settings
	BotToken string

	// Pipeline settings
	LookbackDays int
	ReportLimit  int
	WorkerCount  int
	ScrapeCron   string

	// Classifier allow-list
	ResearchHosts []string

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns a configuration populated from environment
// variables with hardcoded fallbacks.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		DBPath:        GetEnvString("SCRAPER_DB_PATH", DefaultDBPath),
		OutputDir:     GetEnvString("SCRAPER_OUTPUT_DIR", DefaultOutputDir),
		Channels:      GetEnvStringSlice("SCRAPER_CHANNELS", nil),
		ServerHost:    GetEnvString("SCRAPER_HOST", DefaultServerHost),
		ServerPort:    GetEnvInt("SCRAPER_PORT", DefaultServerPort),
		APIKey:        GetEnvString("SCRAPER_API_KEY", ""),
		BotToken:      GetEnvString("SCRAPER_BOT_TOKEN", ""),
		LookbackDays:  GetEnvInt("SCRAPER_LOOKBACK_DAYS", DefaultLookbackDays),
		ReportLimit:   GetEnvInt("SCRAPER_REPORT_LIMIT", DefaultReportLimit),
		WorkerCount:   GetEnvInt("SCRAPER_WORKER_COUNT", DefaultWorkerCount),
		ScrapeCron:    GetEnvString("SCRAPER_CRON", DefaultScrapeCron),
		ResearchHosts: GetEnvStringSlice("SCRAPER_RESEARCH_HOSTS", DefaultResearchHosts),
		LogLevel:      GetEnvLogLevel("SCRAPER_LOG_LEVEL", logLevel),
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
