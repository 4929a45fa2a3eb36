package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"crypto_arb/internal/domain"
	"crypto_arb/internal/engine"
	"crypto_arb/internal/pricing"
	"crypto_arb/internal/saga"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	ModeLive  = "live"
	ModePaper = "paper"

	FeedREST = "rest"
	FeedWS   = "ws"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Mode string `yaml:"mode"` // live | paper
	} `yaml:"app"`

	Market struct {
		Base  string `yaml:"base"`
		Quote string `yaml:"quote"`
	} `yaml:"market"`

	Maker struct {
		RestURL        string `yaml:"rest_url"`
		WSURL          string `yaml:"ws_url"`
		Feed           string `yaml:"feed"` // rest | ws
		ClientID       string `yaml:"client_id"`
		Secret         string `yaml:"secret"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		PollIntervalMS int    `yaml:"poll_interval_ms"`
		TimeoutSec     int    `yaml:"timeout_sec"`
	} `yaml:"maker"`

	Aggressor struct {
		RestURL        string `yaml:"rest_url"`
		APIKey         string `yaml:"api_key"`
		APISecret      string `yaml:"api_secret"`
		Depth          int    `yaml:"depth"`
		PollIntervalMS int    `yaml:"poll_interval_ms"`
		TimeoutSec     int    `yaml:"timeout_sec"`
	} `yaml:"aggressor"`

	Strategy struct {
		Amount         decimal.Decimal `yaml:"amount"`
		MinTradeAmount decimal.Decimal `yaml:"min_trade_amount"`
		AmountDigits   int32           `yaml:"amount_digits"`
		MakerTick      decimal.Decimal `yaml:"maker_tick"`
		AggressorTick  decimal.Decimal `yaml:"aggressor_tick"`
		BandWidth      decimal.Decimal `yaml:"band_width"`
		PriceOver      decimal.Decimal `yaml:"price_over"`
		ProfitForward  decimal.Decimal `yaml:"profit_forward"`
		ProfitBackward decimal.Decimal `yaml:"profit_backward"`
		SkewLower      decimal.Decimal `yaml:"skew_lower"`
		SkewUpper      decimal.Decimal `yaml:"skew_upper"`
		SkewSlope      decimal.Decimal `yaml:"skew_slope"`
		CrossGuard     decimal.Decimal `yaml:"cross_guard"`

		LoopIntervalMS    int `yaml:"loop_interval_ms"`
		MakerStaleSec     int `yaml:"maker_stale_sec"`
		AggressorStaleSec int `yaml:"aggressor_stale_sec"`
		WarmUpSec         int `yaml:"warm_up_sec"`
		SessionRefreshMin int `yaml:"session_refresh_min"`
		OrderIntervalSec  int `yaml:"order_interval_sec"`
		RetryBudget       int `yaml:"retry_budget"`
		RetryDelaySec     int `yaml:"retry_delay_sec"`
		ReloginInitialSec int `yaml:"relogin_initial_sec"`
		ReloginAttempts   int `yaml:"relogin_attempts"`
	} `yaml:"strategy"`

	Supervisor struct {
		InitialBackoffSec int `yaml:"initial_backoff_sec"`
		MaxBackoffSec     int `yaml:"max_backoff_sec"`
		MaxRestarts       int `yaml:"max_restarts"`
	} `yaml:"supervisor"`

	Paper struct {
		MakerBase      decimal.Decimal `yaml:"maker_base"`
		MakerQuote     decimal.Decimal `yaml:"maker_quote"`
		AggressorBase  decimal.Decimal `yaml:"aggressor_base"`
		AggressorQuote decimal.Decimal `yaml:"aggressor_quote"`
	} `yaml:"paper"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Alert struct {
		WebhookURL string `yaml:"webhook_url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"alert"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// DefaultConfig returns the production defaults. LoadConfig starts from it,
// so a config file only needs the keys it changes.
func DefaultConfig() *Config {
	var c Config
	c.App.Name = "crypto_arb"
	c.App.Mode = ModePaper
	c.Market.Base, c.Market.Quote = "BTC", "KRW"

	c.Maker.RestURL = "https://api.korbit.co.kr"
	c.Maker.WSURL = "wss://ws.korbit.co.kr/v1/user/push"
	c.Maker.Feed = FeedREST
	c.Maker.PollIntervalMS = 300
	c.Maker.TimeoutSec = 10

	c.Aggressor.RestURL = "https://api.bithumb.com"
	c.Aggressor.Depth = 10
	c.Aggressor.PollIntervalMS = 200
	c.Aggressor.TimeoutSec = 10

	p := pricing.DefaultParams()
	s := &c.Strategy
	s.Amount, s.MinTradeAmount, s.AmountDigits = p.Amount, p.MinTradeAmount, p.AmountDigits
	s.MakerTick, s.AggressorTick = p.MakerTick, p.AggressorTick
	s.BandWidth, s.PriceOver = p.BandWidth, p.PriceOver
	s.ProfitForward, s.ProfitBackward = p.ProfitForward, p.ProfitBackward
	s.SkewLower, s.SkewUpper, s.SkewSlope = p.SkewLower, p.SkewUpper, p.SkewSlope
	s.CrossGuard = p.CrossGuard
	s.LoopIntervalMS = 500
	s.MakerStaleSec = 11
	s.AggressorStaleSec = 6
	s.WarmUpSec = 5
	s.SessionRefreshMin = 10
	s.OrderIntervalSec = 5
	s.RetryBudget = 5
	s.RetryDelaySec = 5
	s.ReloginInitialSec = 60
	s.ReloginAttempts = 5

	c.Supervisor.InitialBackoffSec = 60
	c.Supervisor.MaxBackoffSec = 3600
	c.Supervisor.MaxRestarts = 10

	c.Paper.MakerBase = decimal.NewFromInt(2)
	c.Paper.MakerQuote = decimal.NewFromInt(300_000_000)
	c.Paper.AggressorBase = decimal.NewFromInt(2)
	c.Paper.AggressorQuote = decimal.NewFromInt(300_000_000)

	c.Storage.Path = "data/trades.db"
	c.Alert.TimeoutSec = 5
	c.Metrics.Addr = "localhost:6060"

	c.Logging.Level = "info"
	c.Logging.Dir = "logs"
	c.Logging.MaxSizeMB = 10
	c.Logging.MaxBackups = 3
	c.Logging.MaxAgeDays = 28
	return &c
}

// LoadDotEnv loads a .env file into the environment. A missing file is fine.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.App.Mode != ModeLive && c.App.Mode != ModePaper {
		return &domain.ConfigError{Field: "app.mode", Err: fmt.Errorf("must be %q or %q, got %q", ModeLive, ModePaper, c.App.Mode)}
	}
	if c.Market.Base == "" || c.Market.Quote == "" {
		return &domain.ConfigError{Field: "market", Err: errors.New("base and quote are required")}
	}

	if err := checkURL(c.Maker.RestURL, "http://", "https://"); err != nil {
		return &domain.ConfigError{Field: "maker.rest_url", Err: err}
	}
	switch c.Maker.Feed {
	case FeedREST:
	case FeedWS:
		if err := checkURL(c.Maker.WSURL, "ws://", "wss://"); err != nil {
			return &domain.ConfigError{Field: "maker.ws_url", Err: err}
		}
	default:
		return &domain.ConfigError{Field: "maker.feed", Err: fmt.Errorf("unknown feed %q", c.Maker.Feed)}
	}
	if err := checkURL(c.Aggressor.RestURL, "http://", "https://"); err != nil {
		return &domain.ConfigError{Field: "aggressor.rest_url", Err: err}
	}

	if c.App.Mode == ModeLive {
		if c.Maker.ClientID == "" || c.Maker.Secret == "" {
			return &domain.ConfigError{Field: "maker.client_id", Err: errors.New("maker credentials are required in live mode")}
		}
		if c.Aggressor.APIKey == "" || c.Aggressor.APISecret == "" {
			return &domain.ConfigError{Field: "aggressor.api_key", Err: errors.New("aggressor credentials are required in live mode")}
		}
	}

	if err := c.Params().Validate(); err != nil {
		return &domain.ConfigError{Field: "strategy", Err: err}
	}
	s := c.Strategy
	if s.LoopIntervalMS <= 0 || s.MakerStaleSec <= 0 || s.AggressorStaleSec <= 0 {
		return &domain.ConfigError{Field: "strategy", Err: errors.New("loop interval and staleness thresholds must be positive")}
	}
	if s.RetryBudget < 1 {
		return &domain.ConfigError{Field: "strategy.retry_budget", Err: errors.New("must be at least 1")}
	}
	if c.Supervisor.MaxRestarts < 0 {
		return &domain.ConfigError{Field: "supervisor.max_restarts", Err: errors.New("must not be negative")}
	}

	return nil
}

func checkURL(raw string, schemes ...string) error {
	for _, s := range schemes {
		if strings.HasPrefix(raw, s) {
			if _, err := url.Parse(raw); err != nil {
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("invalid URL %q", raw)
}

// Params converts the strategy section into pricing parameters.
func (c *Config) Params() pricing.Params {
	s := c.Strategy
	return pricing.Params{
		Amount:         s.Amount,
		MinTradeAmount: s.MinTradeAmount,
		AmountDigits:   s.AmountDigits,
		MakerTick:      s.MakerTick,
		AggressorTick:  s.AggressorTick,
		BandWidth:      s.BandWidth,
		PriceOver:      s.PriceOver,
		ProfitForward:  s.ProfitForward,
		ProfitBackward: s.ProfitBackward,
		SkewLower:      s.SkewLower,
		SkewUpper:      s.SkewUpper,
		SkewSlope:      s.SkewSlope,
		CrossGuard:     s.CrossGuard,
	}
}

// EngineOptions converts the strategy section into control loop options.
func (c *Config) EngineOptions() engine.Options {
	s := c.Strategy
	opts := engine.DefaultOptions()
	opts.LoopInterval = time.Duration(s.LoopIntervalMS) * time.Millisecond
	opts.MakerStaleAfter = time.Duration(s.MakerStaleSec) * time.Second
	opts.AggressorStaleAfter = time.Duration(s.AggressorStaleSec) * time.Second
	opts.WarmUp = time.Duration(s.WarmUpSec) * time.Second
	opts.SessionRefresh = time.Duration(s.SessionRefreshMin) * time.Minute
	opts.ReloginInitial = time.Duration(s.ReloginInitialSec) * time.Second
	opts.ReloginAttempts = s.ReloginAttempts
	return opts
}

// SagaOptions converts the strategy section into compensation options.
func (c *Config) SagaOptions() saga.Options {
	s := c.Strategy
	return saga.Options{
		OrderInterval: time.Duration(s.OrderIntervalSec) * time.Second,
		RetryBudget:   s.RetryBudget,
		RetryDelay:    time.Duration(s.RetryDelaySec) * time.Second,
	}
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Maker.ClientID, "ARB_MAKER_CLIENT_ID")
	set(&cfg.Maker.Secret, "ARB_MAKER_SECRET")
	set(&cfg.Maker.Username, "ARB_MAKER_USERNAME")
	set(&cfg.Maker.Password, "ARB_MAKER_PASSWORD")
	set(&cfg.Aggressor.APIKey, "ARB_AGGRESSOR_KEY")
	set(&cfg.Aggressor.APISecret, "ARB_AGGRESSOR_SECRET")
	set(&cfg.Alert.WebhookURL, "ARB_ALERT_WEBHOOK")
	set(&cfg.App.Mode, "ARB_MODE")
}
