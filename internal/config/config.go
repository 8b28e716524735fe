package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration. Every recognized option is
// enumerated here and validated at boot; unknown values fail fast rather
// than flowing into the decision engine.
type Config struct {
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Rebalance RebalanceConfig `yaml:"rebalance"`
	Broker    BrokerConfig    `yaml:"broker"`
	Feed      FeedConfig      `yaml:"feed"`
	State     StateConfig     `yaml:"state"`
	Journal   JournalConfig   `yaml:"journal"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

type StrategyConfig struct {
	Name               string  `yaml:"name"`
	CapitalUSD         float64 `yaml:"capital_usd"`
	MinConviction      float64 `yaml:"min_conviction"`
	MaxOpenPositions   int     `yaml:"max_open_positions"`
	PositionSizeMinUSD float64 `yaml:"position_size_min_usd"`
	PositionSizeMaxUSD float64 `yaml:"position_size_max_usd"`
	// ConvictionScaling blends position size between min (0.0) and the
	// conviction-interpolated value (1.0).
	ConvictionScaling float64 `yaml:"conviction_scaling"`
}

type RiskConfig struct {
	StopLossPct         float64 `yaml:"stop_loss_pct"`
	TakeProfitPct       float64 `yaml:"take_profit_pct"`
	MaxHoldTradingDays  int     `yaml:"max_hold_trading_days"`
	DailyLossLimitPct   float64 `yaml:"daily_loss_limit_pct"`
	MonthlyLossLimitPct float64 `yaml:"monthly_loss_limit_pct"`
}

type RebalanceConfig struct {
	TopNStocks            int     `yaml:"top_n_stocks"`
	MaxPositionPct        float64 `yaml:"max_position_pct"` // fraction of portfolio, e.g. 0.05
	MinScore              float64 `yaml:"min_score"`
	RebalanceThresholdPct float64 `yaml:"rebalance_threshold_pct"` // relative deviation fraction, e.g. 0.20
	MinTradeUSD           float64 `yaml:"min_trade_usd"`
	Schedule              string  `yaml:"schedule"` // cron expression
}

type BrokerConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	Paper          bool          `yaml:"paper"`
	TimeInForce    string        `yaml:"time_in_force"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
}

type FeedConfig struct {
	SentimentURL   string        `yaml:"sentiment_url"`
	StreamURL      string        `yaml:"stream_url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type StateConfig struct {
	Backend   string `yaml:"backend"` // "file" or "redis"
	FilePath  string `yaml:"file_path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Namespace string `yaml:"namespace"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type MonitorConfig struct {
	Addr string `yaml:"addr"`
}

type JobsConfig struct {
	ScoreRefreshSchedule string `yaml:"score_refresh_schedule"`
}

// Load reads and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.TimeInForce == "" {
		c.Broker.TimeInForce = "day"
	}
	if c.Broker.RequestTimeout == 0 {
		c.Broker.RequestTimeout = 10 * time.Second
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = 3
	}
	if c.Broker.RetryBackoff == 0 {
		c.Broker.RetryBackoff = 500 * time.Millisecond
	}
	if c.Broker.RateLimitRPS == 0 {
		c.Broker.RateLimitRPS = 3
	}
	if c.Broker.RateLimitBurst == 0 {
		c.Broker.RateLimitBurst = 5
	}
	if c.Feed.PollInterval == 0 {
		c.Feed.PollInterval = 30 * time.Second
	}
	if c.Feed.RequestTimeout == 0 {
		c.Feed.RequestTimeout = 10 * time.Second
	}
	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
	if c.State.FilePath == "" {
		c.State.FilePath = "data/state.json"
	}
	if c.State.Namespace == "" {
		c.State.Namespace = "equityrun"
	}
	if c.Monitor.Addr == "" {
		c.Monitor.Addr = ":9090"
	}
	if c.Rebalance.Schedule == "" {
		c.Rebalance.Schedule = "0 15 * * 1" // Mondays 15:00 UTC
	}
}

// Validate checks every knob against its allowed range.
func (c *Config) Validate() error {
	s := c.Strategy
	if s.CapitalUSD <= 0 {
		return fmt.Errorf("strategy.capital_usd must be > 0, got %.2f", s.CapitalUSD)
	}
	if s.MinConviction < 0 || s.MinConviction > 100 {
		return fmt.Errorf("strategy.min_conviction must be in [0,100], got %.2f", s.MinConviction)
	}
	if s.MaxOpenPositions < 1 || s.MaxOpenPositions > 100 {
		return fmt.Errorf("strategy.max_open_positions must be in [1,100], got %d", s.MaxOpenPositions)
	}
	if s.PositionSizeMinUSD <= 0 || s.PositionSizeMaxUSD < s.PositionSizeMinUSD {
		return fmt.Errorf("strategy position size bounds invalid: min=%.2f max=%.2f",
			s.PositionSizeMinUSD, s.PositionSizeMaxUSD)
	}
	if s.ConvictionScaling < 0 || s.ConvictionScaling > 1 {
		return fmt.Errorf("strategy.conviction_scaling must be in [0,1], got %.2f", s.ConvictionScaling)
	}

	r := c.Risk
	if r.StopLossPct <= 0 || r.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0,1), got %.4f", r.StopLossPct)
	}
	if r.TakeProfitPct <= 0 || r.TakeProfitPct >= 1 {
		return fmt.Errorf("risk.take_profit_pct must be in (0,1), got %.4f", r.TakeProfitPct)
	}
	if r.MaxHoldTradingDays <= 0 {
		return fmt.Errorf("risk.max_hold_trading_days must be > 0, got %d", r.MaxHoldTradingDays)
	}
	if r.DailyLossLimitPct <= 0 || r.DailyLossLimitPct >= 1 {
		return fmt.Errorf("risk.daily_loss_limit_pct must be in (0,1), got %.4f", r.DailyLossLimitPct)
	}
	if r.MonthlyLossLimitPct <= 0 || r.MonthlyLossLimitPct >= 1 {
		return fmt.Errorf("risk.monthly_loss_limit_pct must be in (0,1), got %.4f", r.MonthlyLossLimitPct)
	}

	rb := c.Rebalance
	if rb.TopNStocks < 1 || rb.TopNStocks > 500 {
		return fmt.Errorf("rebalance.top_n_stocks must be in [1,500], got %d", rb.TopNStocks)
	}
	if rb.MaxPositionPct <= 0 || rb.MaxPositionPct > 1 {
		return fmt.Errorf("rebalance.max_position_pct must be in (0,1], got %.4f", rb.MaxPositionPct)
	}
	if rb.MinScore < 0 || rb.MinScore > 100 {
		return fmt.Errorf("rebalance.min_score must be in [0,100], got %.2f", rb.MinScore)
	}
	if rb.RebalanceThresholdPct < 0 || rb.RebalanceThresholdPct > 1 {
		return fmt.Errorf("rebalance.rebalance_threshold_pct must be in [0,1], got %.4f", rb.RebalanceThresholdPct)
	}
	if rb.MinTradeUSD < 0 {
		return fmt.Errorf("rebalance.min_trade_usd must be >= 0, got %.2f", rb.MinTradeUSD)
	}

	switch c.State.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("state.backend must be \"file\" or \"redis\", got %q", c.State.Backend)
	}
	if c.State.Backend == "redis" && c.State.RedisAddr == "" {
		return fmt.Errorf("state.redis_addr required for redis backend")
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn required when journal is enabled")
	}
	return nil
}
