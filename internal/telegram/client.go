// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/almacross/internal/logger"
	"github.com/rewired-gh/almacross/internal/models"
)

// ErrNotificationFailed is returned when delivery exhausted its retries.
var ErrNotificationFailed = errors.New("notification failed")

const (
	ParseModeMarkdownV2 = "MarkdownV2"
	ParseModeHTML       = "HTML"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Options tunes delivery.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	ParseMode  string
}

// Client handles Telegram notifications.
type Client struct {
	mu  sync.Mutex
	bot sender
	api *tgbotapi.BotAPI // nil when built around a custom sender
	// dial creates the bot when it is not connected yet.
	dial func() (sender, error)

	chatID     int64
	channel    string
	maxRetries int
	retryDelay time.Duration
	parseMode  string
}

// NewClient creates a new Telegram client. chatID is either a numeric chat id
// or an @channel username. When the Bot API cannot be reached the client is
// still returned and connects again on the first send.
func NewClient(botToken, chatID string, opts Options) (*Client, error) {
	return newDialingClient(func() (sender, error) {
		bot, err := tgbotapi.NewBotAPI(botToken)
		if err != nil {
			return nil, err
		}
		return bot, nil
	}, chatID, opts)
}

func newDialingClient(dial func() (sender, error), chatID string, opts Options) (*Client, error) {
	c, err := newClient(nil, chatID, opts)
	if err != nil {
		return nil, err
	}
	c.dial = dial
	if err := c.connect(); err != nil {
		logger.Warn("Telegram unavailable at startup, retrying on first send: %v", err)
	}
	return c, nil
}

func newClient(bot sender, chatID string, opts Options) (*Client, error) {
	c := &Client{
		bot:        bot,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		parseMode:  opts.ParseMode,
	}
	if strings.HasPrefix(chatID, "@") {
		c.channel = chatID
	} else {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID: %w", err)
		}
		c.chatID = id
	}

	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryDelay < 0 {
		c.retryDelay = 0
	}
	if c.parseMode == "" {
		c.parseMode = ParseModeMarkdownV2
	}
	return c, nil
}

// connect creates the bot with the same fixed-delay retry as send. It is a
// no-op once connected.
func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot != nil {
		return nil
	}
	if c.dial == nil {
		return errors.New("no bot configured")
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		bot, err := c.dial()
		if err == nil {
			c.bot = bot
			if api, ok := bot.(*tgbotapi.BotAPI); ok {
				c.api = api
			}
			return nil
		}
		lastErr = err
		logger.Warn("Telegram connect attempt %d/%d failed: %v", i+1, c.maxRetries, err)
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay)
		}
	}
	return fmt.Errorf("failed to create Telegram bot: %w", lastErr)
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// answers /ping and /status. It returns immediately; the goroutine stops when
// ctx is cancelled. status builds the /status reply.
func (c *Client) ListenForCommands(ctx context.Context, status func() string) {
	if err := c.connect(); err != nil {
		logger.Warn("Bot commands disabled: %v", err)
		return
	}
	if c.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

// handleCommand answers commands from the configured destination only.
func (c *Client) handleCommand(msg *tgbotapi.Message, status func() string) {
	if !c.isDestination(msg.Chat) {
		logger.Debug("Ignoring /%s from chat %d", msg.Command(), chatIDOf(msg.Chat))
		return
	}
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		if status == nil {
			return
		}
		text = status()
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

func (c *Client) isDestination(chat *tgbotapi.Chat) bool {
	if chat == nil {
		return false
	}
	if c.channel != "" {
		return chat.UserName != "" && "@"+chat.UserName == c.channel
	}
	return chat.ID == c.chatID
}

func chatIDOf(chat *tgbotapi.Chat) int64 {
	if chat == nil {
		return 0
	}
	return chat.ID
}

// send delivers text with a fixed delay between attempts.
func (c *Client) send(text string) error {
	if err := c.connect(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	var msg tgbotapi.MessageConfig
	if c.channel != "" {
		msg = tgbotapi.NewMessageToChannel(c.channel, text)
	} else {
		msg = tgbotapi.NewMessage(c.chatID, text)
	}
	msg.ParseMode = c.parseMode
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("Telegram send attempt %d/%d failed: %v", i+1, c.maxRetries, err)
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay)
		}
	}
	return fmt.Errorf("%w: failed after %d retries: %v", ErrNotificationFailed, c.maxRetries, lastErr)
}

// SendAlert delivers a crossover alert.
func (c *Client) SendAlert(alert models.Alert) error {
	return c.send(formatAlert(alert, c.parseMode))
}

// SendError sends a pass failure notification.
func (c *Client) SendError(passErr error) error {
	var text string
	if c.parseMode == ParseModeHTML {
		text = fmt.Sprintf("⚠️ <b>ALMA alert pass failed</b>\n<code>%s</code>", html.EscapeString(passErr.Error()))
	} else {
		text = fmt.Sprintf("⚠️ *ALMA alert pass failed*\n`%s`", escapeMarkdownV2(passErr.Error()))
	}
	return c.send(text)
}

// formatAlert renders an alert in the given parse mode.
func formatAlert(a models.Alert, parseMode string) string {
	emoji, title := "🟢", "ALMA bullish cross"
	relation := "above"
	if a.Event == models.CrossBearish {
		emoji, title = "🔴", "ALMA bearish cross"
		relation = "below"
	}

	price := FormatPrice(a.Close)
	shortVal := FormatPrice(a.ShortALMA)
	longVal := FormatPrice(a.LongALMA)
	closedAt := a.CandleClosedAt().Format("2006-01-02 15:04:05 UTC")
	summary := fmt.Sprintf("ALMA%d crossed %s ALMA%d", a.ShortWindow, relation, a.LongWindow)

	if parseMode == ParseModeHTML {
		esc := html.EscapeString
		return fmt.Sprintf("%s <b>%s</b>\n\n"+
			"<b>%s</b> · %s\n"+
			"%s\n\n"+
			"💰 Close: <code>%s</code>\n"+
			"📈 ALMA%d: <code>%s</code>\n"+
			"📉 ALMA%d: <code>%s</code>\n"+
			"🕒 Candle close: %s",
			emoji, esc(title),
			esc(a.Symbol), esc(a.Interval),
			esc(summary),
			esc(price),
			a.ShortWindow, esc(shortVal),
			a.LongWindow, esc(longVal),
			esc(closedAt),
		)
	}

	esc := escapeMarkdownV2
	return fmt.Sprintf("%s *%s*\n\n"+
		"*%s* · %s\n"+
		"%s\n\n"+
		"💰 Close: `%s`\n"+
		"📈 ALMA%d: `%s`\n"+
		"📉 ALMA%d: `%s`\n"+
		"🕒 Candle close: %s",
		emoji, esc(title),
		esc(a.Symbol), esc(a.Interval),
		esc(summary),
		esc(price),
		a.ShortWindow, esc(shortVal),
		a.LongWindow, esc(longVal),
		esc(closedAt),
	)
}

// FormatPrice renders a price with up to 8 decimals and no trailing zeros.
func FormatPrice(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
