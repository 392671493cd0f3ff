package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for trakr.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Server   ServerConfig   `yaml:"server"`
	Trade    TradeConfig    `yaml:"trade"`
	Detector DetectorConfig `yaml:"detector"`
	Solana   SolanaConfig   `yaml:"solana"`
	Jupiter  JupiterConfig  `yaml:"jupiter"`
	PumpFun  PumpFunConfig  `yaml:"pumpfun"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Helius   HeliusConfig   `yaml:"helius"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Telegram TelegramConfig `yaml:"telegram"`
	Storage  StorageConfig  `yaml:"storage"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	AuthSecret string `yaml:"auth_secret"` // shared secret for the webhook Authorization header
}

type TradeConfig struct {
	Mode                 string  `yaml:"trade_mode"` // paper|live
	BuySOLAmount         float64 `yaml:"buy_sol_amount"`
	TakeProfitPercent    float64 `yaml:"take_profit_percent"`
	StopLossPercent      float64 `yaml:"stop_loss_percent"`
	PricePollMs          int     `yaml:"price_poll_ms"`
	MinTradeIntervalMs   int     `yaml:"min_trade_interval_ms"`
	BuySettleTimeoutMs   int     `yaml:"buy_settle_timeout_ms"`
	WatcherBaseBackoffMs int     `yaml:"watcher_base_backoff_ms"`
	WatcherMaxBackoffMs  int     `yaml:"watcher_max_backoff_ms"`
}

type DetectorConfig struct {
	BuyDebounceMinutes int      `yaml:"buy_debounce_minutes"`
	ExcludedMints      []string `yaml:"excluded_mints"`
	MinTokenAmount     float64  `yaml:"min_token_amount"`
}

type SolanaConfig struct {
	// Comma-separated list of HTTP RPC endpoints for the broadcast race.
	RPCEndpoints string `yaml:"rpc_endpoints"`
	WSEndpoint   string `yaml:"ws_endpoint"`
	// Trader secret key, base58 or JSON integer array.
	TraderSecretKey    string `yaml:"trader_secret_key"`
	BroadcastMaxWaitMs int    `yaml:"broadcast_max_wait_ms"`
}

type JupiterConfig struct {
	SlippageBps int `yaml:"jup_slippage_bps"`
	// "auto" or an integer number of micro-lamports per compute unit.
	PriorityFeeLamports string `yaml:"jup_priority_fee_lamports"`
}

type PumpFunConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Force          bool    `yaml:"force_venue_fallback"`
	SlippagePct    float64 `yaml:"slippage_pct"`
	PriorityFeeSOL float64 `yaml:"priority_fee_sol"`
	Pool           string  `yaml:"pool"` // auto|pump|raydium
}

type TrackerConfig struct {
	APIURL             string  `yaml:"api_url"`
	APIKey             string  `yaml:"api_key"`
	MinWinRatePercent  float64 `yaml:"min_win_rate_percent"`
	MaxInactiveMinutes int     `yaml:"max_inactive_minutes"`
	MaxWallets         int     `yaml:"max_wallets"`
	CacheTTLMinutes    int     `yaml:"cache_ttl_minutes"`
}

type HeliusConfig struct {
	APIKey     string `yaml:"api_key"`
	WebhookURL string `yaml:"webhook_url"` // public URL the provider pushes events to
}

type OracleConfig struct {
	BirdeyeAPIKey string `yaml:"birdeye_api_key"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "trakr-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Trade.Mode == "" {
		cfg.Trade.Mode = "paper"
	}
	if cfg.Trade.BuySOLAmount == 0 {
		cfg.Trade.BuySOLAmount = 0.05
	}
	if cfg.Trade.TakeProfitPercent == 0 {
		cfg.Trade.TakeProfitPercent = 20
	}
	if cfg.Trade.StopLossPercent == 0 {
		cfg.Trade.StopLossPercent = 10
	}
	if cfg.Trade.PricePollMs == 0 {
		cfg.Trade.PricePollMs = 3000
	}
	if cfg.Trade.MinTradeIntervalMs == 0 {
		cfg.Trade.MinTradeIntervalMs = 1500
	}
	if cfg.Trade.BuySettleTimeoutMs == 0 {
		cfg.Trade.BuySettleTimeoutMs = 45000
	}
	if cfg.Trade.WatcherBaseBackoffMs == 0 {
		cfg.Trade.WatcherBaseBackoffMs = 1500
	}
	if cfg.Trade.WatcherMaxBackoffMs == 0 {
		cfg.Trade.WatcherMaxBackoffMs = 60000
	}
	if cfg.Detector.BuyDebounceMinutes == 0 {
		cfg.Detector.BuyDebounceMinutes = 10
	}
	if cfg.Solana.RPCEndpoints == "" {
		cfg.Solana.RPCEndpoints = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.BroadcastMaxWaitMs == 0 {
		cfg.Solana.BroadcastMaxWaitMs = 60000
	}
	if cfg.Jupiter.SlippageBps == 0 {
		cfg.Jupiter.SlippageBps = 250
	}
	if cfg.Jupiter.PriorityFeeLamports == "" {
		cfg.Jupiter.PriorityFeeLamports = "auto"
	}
	if cfg.PumpFun.SlippagePct == 0 {
		cfg.PumpFun.SlippagePct = 5
	}
	if cfg.PumpFun.PriorityFeeSOL == 0 {
		cfg.PumpFun.PriorityFeeSOL = 0.0005
	}
	if cfg.PumpFun.Pool == "" {
		cfg.PumpFun.Pool = "auto"
	}
	if cfg.Tracker.MinWinRatePercent == 0 {
		cfg.Tracker.MinWinRatePercent = 55
	}
	if cfg.Tracker.MaxInactiveMinutes == 0 {
		cfg.Tracker.MaxInactiveMinutes = 720
	}
	if cfg.Tracker.MaxWallets == 0 {
		cfg.Tracker.MaxWallets = 25
	}
	if cfg.Tracker.CacheTTLMinutes == 0 {
		cfg.Tracker.CacheTTLMinutes = 30
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if c.Trade.Mode != "paper" && c.Trade.Mode != "live" {
		return fmt.Errorf("config: trade_mode must be paper or live, got %q", c.Trade.Mode)
	}
	if c.Trade.BuySOLAmount <= 0 {
		return fmt.Errorf("config: buy_sol_amount must be positive")
	}
	if c.Trade.TakeProfitPercent <= 0 {
		return fmt.Errorf("config: take_profit_percent must be positive")
	}
	if c.Trade.StopLossPercent <= 0 {
		return fmt.Errorf("config: stop_loss_percent must be positive")
	}
	if len(c.RPCEndpoints()) == 0 {
		return fmt.Errorf("config: no usable rpc_endpoints")
	}
	if c.Trade.Mode == "live" && c.Solana.TraderSecretKey == "" {
		return fmt.Errorf("config: live mode requires trader_secret_key")
	}
	if _, ok := c.PriorityFeeOverride(); !ok && c.Jupiter.PriorityFeeLamports != "auto" {
		return fmt.Errorf("config: jup_priority_fee_lamports must be auto or an integer, got %q",
			c.Jupiter.PriorityFeeLamports)
	}
	return nil
}

// RPCEndpoints splits, trims, and deduplicates the endpoint list, dropping
// anything that is not http(s).
func (c *Config) RPCEndpoints() []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range strings.Split(c.Solana.RPCEndpoints, ",") {
		ep := strings.TrimSpace(raw)
		if ep == "" || seen[ep] {
			continue
		}
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	return out
}

// PriorityFeeOverride returns the configured compute-unit price and true when
// a fixed fee is set, or (0, false) for "auto".
func (c *Config) PriorityFeeOverride() (uint64, bool) {
	v := strings.TrimSpace(c.Jupiter.PriorityFeeLamports)
	if v == "" || v == "auto" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExcludedMintSet returns the excluded mints as a lookup set.
func (c *Config) ExcludedMintSet() map[string]bool {
	set := make(map[string]bool, len(c.Detector.ExcludedMints))
	for _, m := range c.Detector.ExcludedMints {
		set[m] = true
	}
	return set
}
