package config

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"net/url"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeTestnet Mode = "testnet"
	ModeLive    Mode = "live"
)

const maxKlineLimit = 500

var klineIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

type Config struct {
	Mode             Mode                 `yaml:"mode"`
	KlineInterval    string               `yaml:"kline_interval"`
	KlineLimit       int                  `yaml:"kline_limit"`
	Continuous       bool                 `yaml:"continuous"`
	SleepSec         int64                `yaml:"sleep_sec"`
	OrderLifetimeSec int64                `yaml:"order_lifetime_sec"`
	Strict           bool                 `yaml:"strict"`
	SymbolPairs      []SymbolPair         `yaml:"symbol_pairs"`
	MinBalance       map[string]Decimal   `yaml:"min_balance"`
	MaxBalance       map[string]Decimal   `yaml:"max_balance"`
	PriceCheck       PriceCheckConfig     `yaml:"price_check"`
	MinNotionalFloor map[string]Decimal   `yaml:"min_notional_floor"`
	Retry            RetryConfig          `yaml:"retry"`
	Exchange         ExchangeConfig       `yaml:"exchange"`
	State            StateConfig          `yaml:"state"`
	Log              LogConfig            `yaml:"log"`
	Metrics          MetricsConfig        `yaml:"metrics"`
	Notify           NotifyConfig         `yaml:"notify"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type PriceCheckConfig struct {
	MinOrders        int     `yaml:"min_orders"`
	BuyTolerance     Decimal `yaml:"buy_tolerance"`
	SellTolerance    Decimal `yaml:"sell_tolerance"`
	// Lookback windows in days; 0 leaves the window unbounded. Buys default
	// to unbounded and sells to 7 days.
	BuyLookbackDays  *int `yaml:"buy_lookback_days"`
	SellLookbackDays *int `yaml:"sell_lookback_days"`
}

func (p PriceCheckConfig) BuyDays() int {
	if p.BuyLookbackDays == nil {
		return 0
	}
	return *p.BuyLookbackDays
}

func (p PriceCheckConfig) SellDays() int {
	if p.SellLookbackDays == nil {
		return 7
	}
	return *p.SellLookbackDays
}

type RetryConfig struct {
	MaxAttempts   int   `yaml:"max_attempts"`
	MinBackoffSec int64 `yaml:"min_backoff_sec"`
	MaxBackoffSec int64 `yaml:"max_backoff_sec"`
}

type ExchangeConfig struct {
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	RestBaseURL    string `yaml:"rest_base_url"`
	WSBaseURL      string `yaml:"ws_base_url"`
	RecvWindowMs   int64  `yaml:"recv_window_ms"`
	HTTPTimeoutSec int64  `yaml:"http_timeout_sec"`
}

type StateConfig struct {
	Dir          string `yaml:"dir"`
	LockTakeover *bool  `yaml:"lock_takeover"`
	LockStaleSec int64  `yaml:"lock_stale_sec"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type NotifyConfig struct {
	ErrorThrottleSec int64          `yaml:"error_throttle_sec"`
	QueueSize        int            `yaml:"queue_size"`
	Email            EmailConfig    `yaml:"email"`
	Telegram         TelegramConfig `yaml:"telegram"`
}

type EmailConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	From            string   `yaml:"from"`
	OrderRecipients []string `yaml:"order_recipients"`
	ErrorRecipients []string `yaml:"error_recipients"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

type CircuitBreakerConfig struct {
	Enabled           bool  `yaml:"enabled"`
	MaxPlaceFailures  int   `yaml:"max_place_failures"`
	MaxCancelFailures int   `yaml:"max_cancel_failures"`
	CooldownSec       int64 `yaml:"cooldown_sec"`
}

// Load reads, normalizes and validates a config file. Environment overrides
// for secrets are applied before validation.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes a single YAML document. lookup resolves environment
// overrides; nil disables them.
func Parse(data []byte, lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(new(yaml.Node)); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	if lookup != nil {
		cfg.applyEnv(lookup)
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.KlineInterval = strings.TrimSpace(c.KlineInterval)
	for i := range c.SymbolPairs {
		c.SymbolPairs[i].normalize()
	}
	c.MinBalance = upperKeys(c.MinBalance)
	c.MaxBalance = upperKeys(c.MaxBalance)
	c.MinNotionalFloor = upperKeys(c.MinNotionalFloor)
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Exchange.RestBaseURL = strings.TrimSpace(c.Exchange.RestBaseURL)
	c.Exchange.WSBaseURL = strings.TrimSpace(c.Exchange.WSBaseURL)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.File = strings.TrimSpace(c.Log.File)
	c.Metrics.ListenAddr = strings.TrimSpace(c.Metrics.ListenAddr)
	c.Notify.Email.Host = strings.TrimSpace(c.Notify.Email.Host)
	c.Notify.Email.From = strings.TrimSpace(c.Notify.Email.From)
	c.Notify.Telegram.BotToken = strings.TrimSpace(c.Notify.Telegram.BotToken)
	c.Notify.Telegram.ChatID = strings.TrimSpace(c.Notify.Telegram.ChatID)
	c.Notify.Telegram.APIBaseURL = strings.TrimSpace(c.Notify.Telegram.APIBaseURL)
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeTestnet
	}
	if c.KlineInterval == "" {
		c.KlineInterval = "5m"
	}
	if c.KlineLimit == 0 {
		c.KlineLimit = maxKlineLimit
	}
	if c.SleepSec == 0 {
		c.SleepSec = 300
	}
	if c.OrderLifetimeSec == 0 {
		c.OrderLifetimeSec = 600
	}
	if c.PriceCheck.MinOrders == 0 {
		c.PriceCheck.MinOrders = 5
	}
	if c.PriceCheck.BuyTolerance.IsZero() {
		c.PriceCheck.BuyTolerance = MustDecimal("1.0005")
	}
	if c.PriceCheck.SellTolerance.IsZero() {
		c.PriceCheck.SellTolerance = MustDecimal("1.0005")
	}
	if c.PriceCheck.SellLookbackDays == nil {
		days := 7
		c.PriceCheck.SellLookbackDays = &days
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.MinBackoffSec == 0 {
		c.Retry.MinBackoffSec = 5
	}
	if c.Retry.MaxBackoffSec == 0 {
		c.Retry.MaxBackoffSec = 120
	}
	if c.Exchange.RecvWindowMs == 0 {
		c.Exchange.RecvWindowMs = 5000
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.LockTakeover == nil {
		enabled := true
		c.State.LockTakeover = &enabled
	}
	if c.State.LockStaleSec == 0 {
		c.State.LockStaleSec = 600
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Notify.ErrorThrottleSec == 0 {
		c.Notify.ErrorThrottleSec = 86400
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
	if c.Notify.Email.Port == 0 {
		c.Notify.Email.Port = 587
	}
	if c.Notify.Email.From == "" {
		c.Notify.Email.From = c.Notify.Email.Username
	}
	if c.Notify.Telegram.APIBaseURL == "" {
		c.Notify.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Notify.Telegram.TimeoutSec == 0 {
		c.Notify.Telegram.TimeoutSec = 10
	}
	if c.CircuitBreaker.MaxPlaceFailures == 0 {
		c.CircuitBreaker.MaxPlaceFailures = 5
	}
	if c.CircuitBreaker.MaxCancelFailures == 0 {
		c.CircuitBreaker.MaxCancelFailures = 5
	}
	if c.CircuitBreaker.CooldownSec == 0 {
		c.CircuitBreaker.CooldownSec = 300
	}
	if c.Exchange.RestBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.RestBaseURL = "https://testnet.binance.vision"
		case ModeLive:
			c.Exchange.RestBaseURL = "https://api.binance.com"
		}
	}
	if c.Exchange.WSBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.WSBaseURL = "wss://ws-api.testnet.binance.vision/ws-api/v3"
		case ModeLive:
			c.Exchange.WSBaseURL = "wss://ws-api.binance.com/ws-api/v3"
		}
	}
}

// Validate checks process-level settings. Symbol pairs are validated one by
// one at cycle time so that a bad pair only skips itself.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeTestnet, ModeLive:
	default:
		return fmt.Errorf("mode must be testnet or live")
	}
	if _, ok := klineIntervals[c.KlineInterval]; !ok {
		return fmt.Errorf("kline_interval %q is not a Binance interval", c.KlineInterval)
	}
	if c.KlineLimit < 1 || c.KlineLimit > maxKlineLimit {
		return fmt.Errorf("kline_limit must be between 1 and %d", maxKlineLimit)
	}
	if c.SleepSec < 1 || c.SleepSec > 86400 {
		return fmt.Errorf("sleep_sec must be between 1 and 86400")
	}
	if c.OrderLifetimeSec < 1 {
		return fmt.Errorf("order_lifetime_sec must be >= 1")
	}
	if len(c.SymbolPairs) == 0 {
		return fmt.Errorf("symbol_pairs must not be empty")
	}
	for _, field := range []struct {
		name   string
		values map[string]Decimal
	}{
		{"min_balance", c.MinBalance},
		{"max_balance", c.MaxBalance},
		{"min_notional_floor", c.MinNotionalFloor},
	} {
		for asset, v := range field.values {
			if v.IsNegative() {
				return fmt.Errorf("%s.%s must be >= 0", field.name, asset)
			}
		}
	}
	if c.PriceCheck.MinOrders < 1 {
		return fmt.Errorf("price_check.min_orders must be >= 1")
	}
	if !c.PriceCheck.BuyTolerance.IsPositive() || !c.PriceCheck.SellTolerance.IsPositive() {
		return fmt.Errorf("price_check tolerances must be > 0")
	}
	if c.PriceCheck.BuyDays() < 0 || c.PriceCheck.SellDays() < 0 {
		return fmt.Errorf("price_check lookback days must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 20 {
		return fmt.Errorf("retry.max_attempts must be between 1 and 20")
	}
	if c.Retry.MinBackoffSec < 1 || c.Retry.MaxBackoffSec < c.Retry.MinBackoffSec {
		return fmt.Errorf("retry backoff must satisfy 1 <= min_backoff_sec <= max_backoff_sec")
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange api_key/api_secret are required for %s mode", c.Mode)
	}
	if c.Exchange.RecvWindowMs < 1 || c.Exchange.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange recv_window_ms must be between 1 and 60000")
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange http_timeout_sec must be between 1 and 120")
	}
	if err := validateURL(c.Exchange.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange rest_base_url %v", err)
	}
	if err := validateURL(c.Exchange.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange ws_base_url %v", err)
	}
	if c.State.LockStaleSec < 0 || c.State.LockStaleSec > 86400 {
		return fmt.Errorf("state.lock_stale_sec must be between 0 and 86400")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	if c.Notify.ErrorThrottleSec < 0 {
		return fmt.Errorf("notify.error_throttle_sec must be >= 0")
	}
	if c.Notify.QueueSize < 1 || c.Notify.QueueSize > 10000 {
		return fmt.Errorf("notify.queue_size must be between 1 and 10000")
	}
	if c.Notify.Email.Enabled {
		if err := c.Notify.Email.validate(); err != nil {
			return err
		}
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when telegram enabled")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram enabled")
		}
		if c.Notify.Telegram.TimeoutSec < 1 || c.Notify.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("notify.telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Notify.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("notify.telegram.api_base_url %v", err)
		}
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxPlaceFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_place_failures must be >= 1")
		}
		if c.CircuitBreaker.MaxCancelFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_cancel_failures must be >= 1")
		}
		if c.CircuitBreaker.CooldownSec < 1 || c.CircuitBreaker.CooldownSec > 86400 {
			return fmt.Errorf("circuit_breaker.cooldown_sec must be between 1 and 86400")
		}
	}
	return nil
}

func (e EmailConfig) validate() error {
	if e.Host == "" {
		return fmt.Errorf("notify.email.host is required when email enabled")
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("notify.email.port must be between 1 and 65535")
	}
	if _, err := mail.ParseAddress(e.From); err != nil {
		return fmt.Errorf("notify.email.from must be an address: %w", err)
	}
	if len(e.OrderRecipients) == 0 && len(e.ErrorRecipients) == 0 {
		return fmt.Errorf("notify.email needs order_recipients or error_recipients")
	}
	for _, r := range append(append([]string{}, e.OrderRecipients...), e.ErrorRecipients...) {
		if _, err := mail.ParseAddress(r); err != nil {
			return fmt.Errorf("notify.email recipient %q: %w", r, err)
		}
	}
	return nil
}

func upperKeys(in map[string]Decimal) map[string]Decimal {
	if in == nil {
		return nil
	}
	out := make(map[string]Decimal, len(in))
	for k, v := range in {
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out
}

// Decimals unwraps a config map for the guard and normalizer packages.
func Decimals(in map[string]Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v.Decimal
	}
	return out
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
