package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsJSON = `{
  "solana": {
    "rpc_endpoints": ["https://api.mainnet-beta.solana.com"],
    "websocket_endpoint": "wss://api.mainnet-beta.solana.com",
    "commitment": "confirmed",
    "timeout": 30
  },
  "pump_fun": {
    "api_endpoint": "https://frontend-api.pump.fun",
    "websocket_endpoint": "wss://pumpportal.fun/api/data",
    "program_id": "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
  },
  "raydium": {"program_id": "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"},
  "trading": {"max_positions": 3, "max_buy_amount_sol": 0.05},
  "monitoring": {
    "new_token_check_interval": 10,
    "price_check_interval": 5,
    "volume_check_interval": 30,
    "max_token_age_minutes": 60,
    "min_market_cap": 4000,
    "volume_spike_threshold": 3.0
  },
  "tracking": {"wallets": ["9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"]},
  "logging": {
    "level": "info",
    "file_path": "logs/bot.log",
    "max_file_size_mb": 10,
    "backup_count": 3,
    "console_output": true
  }
}`

const sellStrategyYAML = `settings:
  check_interval_ms: 1000
  max_hold_time: 3600
  emergency_stop_loss: 50
execution:
  slippage_tolerance: 0.02
  priority_fee: 0.0001
selling_rules:
  - name: quick_profit
    priority: 1
    action: sell_all
    conditions:
      gain_percent: ">= 50"
  - name: cut_losses
    priority: 2
    action: sell_all
    conditions:
      gain_percent: "<= -20"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettings_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.json", settingsJSON)

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, 0.85, s.Trading.CopyTradePercentage)
	assert.Equal(t, 0.1, s.Trading.MaxPositionSize)
	assert.Equal(t, float64(50), s.Trading.TakeProfitPercentage)
	assert.Equal(t, 60, s.Trading.TimeBasedStopLossMinutes)
	assert.True(t, s.Trading.CopyEnabled())
}

func TestLoadSettings_RejectsMissingEndpoints(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.json", `{
		"solana": {"rpc_endpoints": [], "websocket_endpoint": "wss://x", "commitment": "confirmed", "timeout": 30},
		"trading": {"max_positions": 1, "max_buy_amount_sol": 0.01}
	}`)

	_, err := LoadSettings(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc endpoints")
}

func TestLoadSettings_RejectsBadCommitment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.json", `{
		"solana": {"rpc_endpoints": ["https://x"], "websocket_endpoint": "wss://x", "commitment": "eventual", "timeout": 30},
		"trading": {"max_positions": 1, "max_buy_amount_sol": 0.01}
	}`)

	_, err := LoadSettings(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commitment")
}

func TestLoadWallet_KeypairArray(t *testing.T) {
	dir := t.TempDir()
	raw := `{"public_key": "abc", "keypair": [`
	for i := 0; i < 64; i++ {
		if i > 0 {
			raw += ","
		}
		raw += "1"
	}
	raw += `]}`
	path := writeFile(t, dir, "wallet.json", raw)

	w, err := LoadWallet(path)
	require.NoError(t, err)
	assert.Len(t, w.Keypair, 64)
}

func TestLoadWallet_RejectsShortKeypair(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "wallet.json", `{"public_key": "abc", "keypair": [1,2,3]}`)

	_, err := LoadWallet(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "64 bytes")
}

func TestLoadWallet_AcceptsBase58PrivateKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "wallet.json", `{"public_key": "abc", "private_key": "3Wz"}`)

	_, err := LoadWallet(path)
	require.NoError(t, err)
}

func TestLoadSellStrategy(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sell_strategy.yaml", sellStrategyYAML)

	ss, err := LoadSellStrategy(path)
	require.NoError(t, err)
	require.Len(t, ss.SellingRules, 2)
	assert.Equal(t, "quick_profit", ss.SellingRules[0].Name)
	assert.Equal(t, ">= 50", ss.SellingRules[0].Conditions["gain_percent"])
	assert.Equal(t, 3600, ss.Settings.MaxHoldTime)
}

func TestLoadSellStrategy_RejectsUnknownAction(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sell_strategy.yaml", `settings:
  check_interval_ms: 1000
  max_hold_time: 60
  emergency_stop_loss: 50
execution:
  slippage_tolerance: 0.02
  priority_fee: 0
selling_rules:
  - name: nope
    priority: 1
    action: hodl
`)

	_, err := LoadSellStrategy(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestLoad_AllThreeFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "settings.json", settingsJSON)
	writeFile(t, dir, "sell_strategy.yaml", sellStrategyYAML)
	raw := `{"public_key": "abc", "private_key": "3Wz"}`
	writeFile(t, dir, "wallet.json", raw)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Settings.Tracking.Wallets, 1)
	assert.Len(t, cfg.SellStrategy.SellingRules, 2)
}
