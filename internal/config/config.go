// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// WalletConfig pairs one private key with the exit-strategy table it trades by.
type WalletConfig struct {
	PrivateKey  string
	StrategyIdx int
}

type Config struct {
	HeliusAPIKey     string   `mapstructure:"helius_api_key"`
	BirdeyeAPIToken  string   `mapstructure:"birdeye_api_token"`
	RPCList          []string `mapstructure:"rpc_list"`
	Port             int      `mapstructure:"port"`
	SettleDelaySec   int      `mapstructure:"settle_delay_sec"`
	DustThreshold    uint64   `mapstructure:"dust_threshold"`
	MaxChunkSOL      float64  `mapstructure:"max_chunk_sol"`
	SlippageBps      int      `mapstructure:"slippage_bps"`
	Retries          int      `mapstructure:"retries"`
	HoldTimeoutHours int      `mapstructure:"hold_timeout_hours"`
	DebugLogging     bool     `mapstructure:"debug_logging"`
	IgnoreMints      []string `mapstructure:"ignore_mints"`
	CloseMints       []string `mapstructure:"close_mints"`

	Wallets []WalletConfig `mapstructure:"-"`
}

const (
	DefaultPort             = 8080
	DefaultSettleDelaySec   = 120
	DefaultDustThreshold    = 1000
	DefaultMaxChunkSOL      = 10.0
	DefaultSlippageBps      = 200
	DefaultRetries          = 5
	DefaultHoldTimeoutHours = 240

	maxWalletSlots = 4
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"port":               DefaultPort,
		"settle_delay_sec":   DefaultSettleDelaySec,
		"dust_threshold":     DefaultDustThreshold,
		"max_chunk_sol":      DefaultMaxChunkSOL,
		"slippage_bps":       DefaultSlippageBps,
		"retries":            DefaultRetries,
		"hold_timeout_hours": DefaultHoldTimeoutHours,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; secrets can come entirely from the environment.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.RPCList) == 0 && cfg.HeliusAPIKey != "" {
		cfg.RPCList = []string{"https://mainnet.helius-rpc.com/?api-key=" + cfg.HeliusAPIKey}
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.HeliusAPIKey == "" {
		return errors.New("missing helius_api_key in configuration")
	}
	if cfg.BirdeyeAPIToken == "" {
		return errors.New("missing birdeye_api_token in configuration")
	}
	if len(cfg.Wallets) == 0 {
		return errors.New("no wallets configured")
	}
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.Port <= 0 {
		return errors.New("invalid port")
	}
	if cfg.SettleDelaySec < 0 {
		return errors.New("invalid settle_delay_sec")
	}
	if cfg.MaxChunkSOL <= 0 {
		return errors.New("invalid max_chunk_sol")
	}
	if cfg.SlippageBps <= 0 {
		return errors.New("invalid slippage_bps")
	}
	if cfg.Retries < 1 {
		return errors.New("invalid retries count")
	}
	if cfg.HoldTimeoutHours <= 0 {
		return errors.New("invalid hold_timeout_hours")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if key := v.GetString("HELIUS_API_KEY"); key != "" {
		cfg.HeliusAPIKey = key
	}
	if token := v.GetString("BIRDEYE_API_TOKEN"); token != "" {
		cfg.BirdeyeAPIToken = token
	}

	// Wallet slots: SOLANA_PRIVATE_KEY1..4 plus EXIT_STRATEGY1..4. A slot
	// is skipped unless both values are set.
	for i := 1; i <= maxWalletSlots; i++ {
		pk := v.GetString(fmt.Sprintf("SOLANA_PRIVATE_KEY%d", i))
		idx := v.GetInt(fmt.Sprintf("EXIT_STRATEGY%d", i))
		if pk == "" || idx == 0 {
			continue
		}
		cfg.Wallets = append(cfg.Wallets, WalletConfig{PrivateKey: pk, StrategyIdx: idx})
	}

	return nil
}
