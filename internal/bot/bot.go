package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"channelwatch/scraper/internal/config"
	"channelwatch/scraper/internal/models"
	"channelwatch/scraper/internal/ranking"
	"channelwatch/scraper/internal/report"
	"channelwatch/scraper/internal/scrape"
)

// maxMessageLen stays under the platform's 4096 character limit with
// headroom for formatting.
const maxMessageLen = 3900

const maxLookbackDays = 90

// Bot answers chat commands with on-demand scrapes and ranked reports.
type Bot struct {
	api         *tgbotapi.BotAPI
	coordinator *scrape.Coordinator
	engine      *ranking.Engine
	cfg         *config.Config
	logger      zerolog.Logger

	// scrapeMu makes /scrape single flight so overlapping commands do
	// not hammer the channels.
	scrapeMu sync.Mutex
}

// New creates a bot against the configured token.
func New(coordinator *scrape.Coordinator, engine *ranking.Engine, cfg *config.Config, logger zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("creating bot API client: %w", err)
	}

	return &Bot{
		api:         api,
		coordinator: coordinator,
		engine:      engine,
		cfg:         cfg,
		logger:      logger.With().Str("service", "bot").Logger(),
	}, nil
}

// Run long-polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info().Str("username", b.api.Self.UserName).Msg("Bot starting")

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := b.api.GetUpdatesChan(updateCfg)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info().Msg("Bot stopping")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())

	b.logger.Debug().
		Str("command", msg.Command()).
		Strs("args", args).
		Int64("chat_id", chatID).
		Msg("Command received")

	switch msg.Command() {
	case "start", "help":
		b.send(chatID, helpText())
	case "scrape":
		b.handleScrape(ctx, chatID, args)
	case "top":
		b.handleTop(ctx, chatID, args)
	default:
		b.send(chatID, "Unknown command. Use /help for available commands.")
	}
}

func (b *Bot) handleScrape(ctx context.Context, chatID int64, args []string) {
	days := b.cfg.LookbackDays
	if len(args) > 0 {
		parsed, err := parseDays(args[0])
		if err != nil {
			b.send(chatID, err.Error())
			return
		}
		days = parsed
	}

	if !b.scrapeMu.TryLock() {
		b.send(chatID, "A scrape is already running, try again in a bit.")
		return
	}
	defer b.scrapeMu.Unlock()

	b.send(chatID, fmt.Sprintf("Scraping %d channels over the last %d days...", len(b.cfg.Channels), days))

	rep, err := b.coordinator.Run(ctx, b.cfg.Channels, days, time.Now().UTC())
	if err != nil {
		b.logger.Error().Err(err).Msg("Scrape command failed")
		b.send(chatID, fmt.Sprintf("Scrape failed: %v", err))
		return
	}

	b.send(chatID, formatScrapeReport(rep))
}

func (b *Bot) handleTop(ctx context.Context, chatID int64, args []string) {
	limit := b.cfg.ReportLimit
	days := b.cfg.LookbackDays

	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 1 {
			b.send(chatID, "Limit must be a positive number, e.g. /top 10 7")
			return
		}
		limit = parsed
	}
	if len(args) > 1 {
		parsed, err := parseDays(args[1])
		if err != nil {
			b.send(chatID, err.Error())
			return
		}
		days = parsed
	}

	window := ranking.WindowForLookback(time.Now().UTC(), days, limit)
	posts, err := b.engine.Top(ctx, b.cfg.Channels, window)
	if err != nil {
		if errors.Is(err, models.ErrInvalidParameter) {
			b.send(chatID, fmt.Sprintf("Invalid request: %v", err))
			return
		}
		b.logger.Error().Err(err).Msg("Top command failed")
		b.send(chatID, "Something went wrong building the report.")
		return
	}

	b.send(chatID, report.Render(posts, days))
}

// send delivers text to a chat, splitting it into chunks that fit the
// message size limit.
func (b *Bot) send(chatID int64, text string) {
	for _, chunk := range splitText(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.DisableWebPagePreview = true
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
			return
		}
	}
}

// splitText breaks text into chunks of at most maxLen runes, preferring
// newline boundaries so posts stay intact.
func splitText(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > maxLen {
		cut := maxLen
		for i := maxLen; i > maxLen/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func parseDays(s string) (int, error) {
	days, err := strconv.Atoi(s)
	if err != nil || days < 1 || days > maxLookbackDays {
		return 0, fmt.Errorf("days must be between 1 and %d, e.g. /scrape 7", maxLookbackDays)
	}
	return days, nil
}

func formatScrapeReport(rep *scrape.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scrape finished: %d posts across %d channels.\n", rep.TotalFetched(), rep.ChannelsOK())
	if rep.Cancelled {
		b.WriteString("The pass was cancelled before all channels completed.\n")
	}
	for channel, cr := range rep.PerChannel {
		if cr.Failed {
			fmt.Fprintf(&b, "- %s: failed (%s)\n", channel, strings.Join(cr.Errors, "; "))
			continue
		}
		fmt.Fprintf(&b, "- %s: %d fetched, %d new, %d updated, %d skipped\n",
			channel, cr.Fetched, cr.Inserted, cr.Updated, cr.Skipped)
	}
	return b.String()
}

func helpText() string {
	return `Channel watch bot.

Commands:
/scrape [days] - Collect recent posts from the configured channels
/top [limit] [days] - Show the top GitHub-linked posts by views
/help - Show this help`
}
