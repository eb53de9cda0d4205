// Package telegram delivers notifications through the Telegram Bot
// API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/tmsbridge/gradewatch/internal/domain"
	"github.com/tmsbridge/gradewatch/internal/notify"
)

// Config holds telegram sender configuration.
type Config struct {
	Enabled  bool
	BotToken string
	// RateLimit caps outgoing messages per second across all chats.
	// Telegram throttles bots around 30 msg/s globally.
	RateLimit float64
}

// botAPI is the slice of the bot client the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender implements the telegram channel.
type Sender struct {
	config  Config
	bot     botAPI
	limiter *rate.Limiter
}

// NewSender creates a telegram sender. Returns an error if enabled
// without a bot token or if the token is rejected by the API.
func NewSender(config Config) (*Sender, error) {
	if config.RateLimit <= 0 {
		config.RateLimit = 25
	}

	s := &Sender{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}

	if config.Enabled {
		if config.BotToken == "" {
			return nil, errors.New("telegram sender: bot token is required when enabled")
		}
		bot, err := tgbotapi.NewBotAPI(config.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram sender: %w", err)
		}
		s.bot = bot
	}

	slog.Info("telegram sender configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
	)
	return s, nil
}

// Kind returns the channel kind.
func (s *Sender) Kind() domain.ChannelKind {
	return domain.ChannelKindTelegram
}

// Send delivers one Markdown message to the chat id in target.
func (s *Sender) Send(ctx context.Context, target string, msg notify.Message) error {
	if !s.config.Enabled {
		slog.Debug("telegram sender disabled, skipping", "to", target)
		return nil
	}

	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram sender: bad chat id %q: %w", target, err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram sender: %w", err)
	}

	out := tgbotapi.NewMessage(chatID, msg.Body)
	out.ParseMode = tgbotapi.ModeMarkdown

	if _, err := s.bot.Send(out); err != nil {
		return fmt.Errorf("telegram sender: %w", err)
	}
	return nil
}
