package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvAPIKey        = "BINANCE_API_KEY"
	EnvAPISecret     = "BINANCE_API_SECRET"
	EnvSMTPUsername  = "SMTP_USERNAME"
	EnvSMTPPassword  = "SMTP_PASSWORD"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
)

// LoadEnv loads a dotenv file into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Exchange.APIKey, EnvAPIKey)
	set(&c.Exchange.APISecret, EnvAPISecret)
	set(&c.Notify.Email.Username, EnvSMTPUsername)
	set(&c.Notify.Email.Password, EnvSMTPPassword)
	set(&c.Notify.Telegram.BotToken, EnvTelegramToken)
}
