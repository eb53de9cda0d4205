package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tmsbridge/gradewatch/internal/domain"
	"github.com/tmsbridge/gradewatch/internal/notify"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func newTestSender(bot botAPI) *Sender {
	return &Sender{
		config:  Config{Enabled: true, RateLimit: 100},
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(100), 1),
	}
}

func TestNewSender_RequiresToken(t *testing.T) {
	_, err := NewSender(Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot token is required")
}

func TestNewSender_DisabledNeedsNothing(t *testing.T) {
	sender, err := NewSender(Config{})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelKindTelegram, sender.Kind())
}

func TestSender_Send_Markdown(t *testing.T) {
	bot := &fakeBot{}
	sender := newTestSender(bot)

	err := sender.Send(context.Background(), "42", notify.Message{Body: "*Grade update*"})
	require.NoError(t, err)

	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, "*Grade update*", bot.sent[0].Text)
	assert.Equal(t, tgbotapi.ModeMarkdown, bot.sent[0].ParseMode)
}

func TestSender_Send_BadChatID(t *testing.T) {
	bot := &fakeBot{}
	sender := newTestSender(bot)

	err := sender.Send(context.Background(), "not-a-number", notify.Message{Body: "x"})
	require.Error(t, err)
	assert.Empty(t, bot.sent)
}

func TestSender_Send_APIError(t *testing.T) {
	bot := &fakeBot{err: errors.New("Forbidden: bot was blocked by the user")}
	sender := newTestSender(bot)

	err := sender.Send(context.Background(), "42", notify.Message{Body: "x"})
	assert.ErrorContains(t, err, "blocked")
}

func TestSender_Send_DisabledSkips(t *testing.T) {
	sender, err := NewSender(Config{})
	require.NoError(t, err)

	assert.NoError(t, sender.Send(context.Background(), "42", notify.Message{Body: "x"}))
}
