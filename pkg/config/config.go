package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SolanaConfig holds RPC endpoint settings.
type SolanaConfig struct {
	RPCEndpoints      []string `json:"rpc_endpoints"`
	WebsocketEndpoint string   `json:"websocket_endpoint"`
	Commitment        string   `json:"commitment"`
	TimeoutSeconds    int      `json:"timeout"`
}

// PumpFunConfig identifies the token-launch platform.
type PumpFunConfig struct {
	APIEndpoint       string `json:"api_endpoint"`
	WebsocketEndpoint string `json:"websocket_endpoint"`
	ProgramID         string `json:"program_id"`
}

// RaydiumConfig identifies the Raydium AMM program (used for platform
// attribution only; swaps go through the aggregator).
type RaydiumConfig struct {
	ProgramID string `json:"program_id"`
}

// TradingConfig holds copy-trade sizing and exit parameters.
type TradingConfig struct {
	MaxPositions             int     `json:"max_positions"`
	MaxBuyAmountSOL          float64 `json:"max_buy_amount_sol"`
	MinBalanceSOL            float64 `json:"min_balance_sol"`
	BuyAmountSOL             float64 `json:"buy_amount_sol"`
	CopyTradeEnabled         *bool   `json:"copy_trade_enabled"`
	CopyTradePercentage      float64 `json:"copy_trade_percentage"`
	MaxPositionSize          float64 `json:"max_position_size"`
	TakeProfitPercentage     float64 `json:"take_profit_percentage"`
	StopLossPercentage       float64 `json:"stop_loss_percentage"`
	TrailingStopPercentage   float64 `json:"trailing_stop_percentage"`
	TimeBasedStopLossMinutes int     `json:"time_based_stop_loss_minutes"`
	MinMarketCap             int     `json:"min_market_cap"`
	MinLiquidity             float64 `json:"min_liquidity"`
}

// CopyEnabled reports whether copy trading is on (default true).
func (t TradingConfig) CopyEnabled() bool {
	return t.CopyTradeEnabled == nil || *t.CopyTradeEnabled
}

// MonitoringConfig holds poll intervals, all in seconds.
type MonitoringConfig struct {
	NewTokenCheckInterval int     `json:"new_token_check_interval"`
	PriceCheckInterval    int     `json:"price_check_interval"`
	VolumeCheckInterval   int     `json:"volume_check_interval"`
	MaxTokenAgeMinutes    int     `json:"max_token_age_minutes"`
	MinMarketCap          int     `json:"min_market_cap"`
	VolumeSpikeThreshold  float64 `json:"volume_spike_threshold"`
}

// TrackingConfig lists the wallets to copy.
type TrackingConfig struct {
	Wallets []string `json:"wallets"`
}

// LoggingConfig mirrors pkg/logger.Config in settings.json.
type LoggingConfig struct {
	Level         string `json:"level"`
	FilePath      string `json:"file_path"`
	MaxFileSizeMB int    `json:"max_file_size_mb"`
	BackupCount   int    `json:"backup_count"`
	ConsoleOutput bool   `json:"console_output"`
}

// Settings is the full settings.json document.
type Settings struct {
	Solana     SolanaConfig     `json:"solana"`
	PumpFun    PumpFunConfig    `json:"pump_fun"`
	Raydium    RaydiumConfig    `json:"raydium"`
	Trading    TradingConfig    `json:"trading"`
	Monitoring MonitoringConfig `json:"monitoring"`
	Tracking   TrackingConfig   `json:"tracking"`
	Logging    LoggingConfig    `json:"logging"`
}

// Wallet is the wallet.json document. Either Keypair (64-byte ed25519 secret
// as an int array) or PrivateKey (base58) must be present.
type Wallet struct {
	PublicKey  string `json:"public_key"`
	Keypair    []int  `json:"keypair,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// SellRule is one prioritized exit rule from sell_strategy.yaml. Conditions
// map metric names to expressions like ">= 50" (see internal/engine/rules).
type SellRule struct {
	Name       string            `yaml:"name"`
	Priority   int               `yaml:"priority"`
	Action     string            `yaml:"action"`
	Conditions map[string]string `yaml:"conditions"`
}

// SellStrategySettings are the global knobs of the sell strategy.
type SellStrategySettings struct {
	CheckIntervalMS   int     `yaml:"check_interval_ms"`
	MaxHoldTime       int     `yaml:"max_hold_time"` // seconds
	EmergencyStopLoss float64 `yaml:"emergency_stop_loss"`
}

// ExecutionSettings control swap execution.
type ExecutionSettings struct {
	SlippageTolerance float64 `yaml:"slippage_tolerance"`
	PriorityFee       float64 `yaml:"priority_fee"`
}

// SellStrategy is the full sell_strategy.yaml document.
type SellStrategy struct {
	Settings     SellStrategySettings `yaml:"settings"`
	Execution    ExecutionSettings    `yaml:"execution"`
	SellingRules []SellRule           `yaml:"selling_rules"`
}

// Config bundles everything the bot loads at startup.
type Config struct {
	Settings     Settings
	Wallet       Wallet
	SellStrategy SellStrategy
}

// LoadSettings reads and validates settings.json.
func LoadSettings(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.Solana.Commitment == "" {
		s.Solana.Commitment = "confirmed"
	}
	if s.Solana.TimeoutSeconds == 0 {
		s.Solana.TimeoutSeconds = 30
	}
	if s.PumpFun.ProgramID == "" {
		s.PumpFun.ProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	}
	if s.Trading.MinBalanceSOL == 0 {
		s.Trading.MinBalanceSOL = 0.005
	}
	if s.Trading.BuyAmountSOL == 0 {
		s.Trading.BuyAmountSOL = 0.001
	}
	if s.Trading.CopyTradePercentage == 0 {
		s.Trading.CopyTradePercentage = 0.85
	}
	if s.Trading.MaxPositionSize == 0 {
		s.Trading.MaxPositionSize = 0.1
	}
	if s.Trading.TakeProfitPercentage == 0 {
		s.Trading.TakeProfitPercentage = 50
	}
	if s.Trading.StopLossPercentage == 0 {
		s.Trading.StopLossPercentage = 25
	}
	if s.Trading.TrailingStopPercentage == 0 {
		s.Trading.TrailingStopPercentage = 10
	}
	if s.Trading.TimeBasedStopLossMinutes == 0 {
		s.Trading.TimeBasedStopLossMinutes = 60
	}
	if s.Monitoring.PriceCheckInterval == 0 {
		s.Monitoring.PriceCheckInterval = 5
	}
	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
}

// Validate rejects settings the bot cannot run with.
func (s *Settings) Validate() error {
	if len(s.Solana.RPCEndpoints) == 0 {
		return fmt.Errorf("settings: no solana rpc endpoints configured")
	}
	if s.Solana.WebsocketEndpoint == "" {
		return fmt.Errorf("settings: websocket endpoint is required")
	}
	if s.Trading.MaxBuyAmountSOL <= 0 {
		return fmt.Errorf("settings: trading.max_buy_amount_sol must be > 0")
	}
	if s.Trading.CopyTradePercentage <= 0 || s.Trading.CopyTradePercentage > 1 {
		return fmt.Errorf("settings: trading.copy_trade_percentage must be in (0, 1]")
	}
	switch s.Solana.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("settings: unknown commitment %q", s.Solana.Commitment)
	}
	for _, w := range s.Tracking.Wallets {
		if strings.TrimSpace(w) == "" {
			return fmt.Errorf("settings: tracking.wallets contains an empty address")
		}
	}
	return nil
}

// LoadWallet reads wallet.json.
func LoadWallet(path string) (*Wallet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	var w Wallet
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Validate checks that key material is present and shaped correctly.
func (w *Wallet) Validate() error {
	if len(w.Keypair) == 0 && strings.TrimSpace(w.PrivateKey) == "" {
		return fmt.Errorf("wallet: missing keypair or private_key")
	}
	if len(w.Keypair) > 0 && len(w.Keypair) != 64 {
		return fmt.Errorf("wallet: keypair must be 64 bytes, got %d", len(w.Keypair))
	}
	for i, v := range w.Keypair {
		if v < 0 || v > 255 {
			return fmt.Errorf("wallet: keypair[%d]=%d out of byte range", i, v)
		}
	}
	return nil
}

// LoadSellStrategy reads and validates sell_strategy.yaml.
func LoadSellStrategy(path string) (*SellStrategy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sell strategy: %w", err)
	}
	var ss SellStrategy
	if err := yaml.Unmarshal(b, &ss); err != nil {
		return nil, fmt.Errorf("parse sell strategy: %w", err)
	}
	if ss.Settings.CheckIntervalMS == 0 {
		ss.Settings.CheckIntervalMS = 5000
	}
	if err := ss.Validate(); err != nil {
		return nil, err
	}
	return &ss, nil
}

// Validate checks rule shape; condition expressions are validated by the rule
// engine when compiled.
func (ss *SellStrategy) Validate() error {
	seen := map[string]bool{}
	for _, r := range ss.SellingRules {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("sell strategy: rule with empty name")
		}
		if seen[r.Name] {
			return fmt.Errorf("sell strategy: duplicate rule %q", r.Name)
		}
		seen[r.Name] = true
		if r.Action != "sell_all" && r.Action != "sell_half" {
			return fmt.Errorf("sell strategy: rule %q has unknown action %q", r.Name, r.Action)
		}
	}
	return nil
}

// Load reads the three config files from configDir (settings.json,
// wallet.json, sell_strategy.yaml).
func Load(configDir string) (*Config, error) {
	s, err := LoadSettings(configDir + "/settings.json")
	if err != nil {
		return nil, err
	}
	w, err := LoadWallet(configDir + "/wallet.json")
	if err != nil {
		return nil, err
	}
	ss, err := LoadSellStrategy(configDir + "/sell_strategy.yaml")
	if err != nil {
		return nil, err
	}
	return &Config{Settings: *s, Wallet: *w, SellStrategy: *ss}, nil
}
