package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ErrConfigurationMissing is returned when a required secret is absent.
var ErrConfigurationMissing = errors.New("configuration missing")

const (
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
	EnvChatID   = "TELEGRAM_CHAT_ID"
)

// Credentials are the notification secrets, resolved once at startup.
type Credentials struct {
	BotToken string
	ChatID   string // numeric chat id or @channel username
}

// LoadCredentials reads the Telegram secrets from the process environment.
// When envFile exists it is loaded first; variables already set win.
func LoadCredentials(envFile string) (Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	creds := Credentials{
		BotToken: strings.TrimSpace(os.Getenv(EnvBotToken)),
		ChatID:   strings.TrimSpace(os.Getenv(EnvChatID)),
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Validate reports missing or unusable secrets as ErrConfigurationMissing.
func (c Credentials) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("%w: %s is not set", ErrConfigurationMissing, EnvBotToken)
	}
	if c.ChatID == "" {
		return fmt.Errorf("%w: %s is not set", ErrConfigurationMissing, EnvChatID)
	}
	if strings.HasPrefix(c.ChatID, "@") {
		if len(c.ChatID) < 2 {
			return fmt.Errorf("%w: %s channel name is empty", ErrConfigurationMissing, EnvChatID)
		}
		return nil
	}
	if _, err := strconv.ParseInt(c.ChatID, 10, 64); err != nil {
		return fmt.Errorf("%w: %s must be a numeric chat id or @channel: %v", ErrConfigurationMissing, EnvChatID, err)
	}
	return nil
}
