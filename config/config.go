package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/justbytes/evmsniper/internal/domain"
)

// FactoryConfig binds one DEX deployment on a chain: the factory emitting
// creation events and the router the engine trades through.
type FactoryConfig struct {
	Version domain.Version
	Factory common.Address
	Router  common.Address
}

// ChainConfig describes one chain the sniper operates on.
type ChainConfig struct {
	Name       string
	ChainID    uint64
	WsURL      string
	PrivateKey string
	BaseTokens []string
	Factories  []FactoryConfig
}

// AuditConfig holds the security-screening parameters.
type AuditConfig struct {
	APIURL           string
	APIKey           string
	CallsPerMinute   int
	MaxTaxPercent    decimal.Decimal
	MaxHolderPercent decimal.Decimal
	MaxConcurrent    int
	MaxAttempts      int
	RetryDelay       time.Duration
	JournalDir       string
}

// TradeConfig holds the per-position trade parameters.
type TradeConfig struct {
	BuyAmountWei       *big.Int
	TargetMultiplier   decimal.Decimal
	StopLossMultiplier decimal.Decimal
	SlippagePercent    decimal.Decimal
	ConfirmTimeout     time.Duration
}

// Config is the fully parsed runtime configuration.
type Config struct {
	WebAddr string
	Audit   AuditConfig
	Trade   TradeConfig
	Chains  []ChainConfig
}

type FactoryTmp struct {
	Version string `yaml:"version"`
	Factory string `yaml:"factory"`
	Router  string `yaml:"router"`
}

type ChainTmp struct {
	Name       string       `yaml:"name"`
	ChainID    uint64       `yaml:"chain_id"`
	WsURL      string       `yaml:"ws_url"`
	PrivateKey string       `yaml:"private_key,omitempty"`
	BaseTokens []string     `yaml:"base_tokens"`
	Factories  []FactoryTmp `yaml:"factories"`
}

type AuditTmp struct {
	APIURL           string        `yaml:"api_url,omitempty"`
	APIKey           string        `yaml:"api_key,omitempty"`
	CallsPerMinute   int           `yaml:"calls_per_minute,omitempty"`
	MaxTaxPercent    string        `yaml:"max_tax_percent,omitempty"`
	MaxHolderPercent string        `yaml:"max_holder_percent,omitempty"`
	MaxConcurrent    int           `yaml:"max_concurrent,omitempty"`
	MaxAttempts      int           `yaml:"max_attempts,omitempty"`
	RetryDelay       time.Duration `yaml:"retry_delay,omitempty"`
	JournalDir       string        `yaml:"journal_dir,omitempty"`
}

type TradeTmp struct {
	BuyAmountWei       string        `yaml:"buy_amount_wei,omitempty"`
	TargetMultiplier   string        `yaml:"target_multiplier,omitempty"`
	StopLossMultiplier string        `yaml:"stop_loss_multiplier,omitempty"`
	SlippagePercent    string        `yaml:"slippage_percent,omitempty"`
	ConfirmTimeout     time.Duration `yaml:"confirm_timeout,omitempty"`
}

// ConfigTmp mirrors the yaml file before validation and parsing. All numeric
// thresholds are strings so yaml float rounding never touches them.
type ConfigTmp struct {
	WebAddr string     `yaml:"web_addr,omitempty"`
	Audit   AuditTmp   `yaml:"audit,omitempty"`
	Trade   TradeTmp   `yaml:"trade,omitempty"`
	Chains  []ChainTmp `yaml:"chains"`
}

// FromFile loads and validates a yaml configuration file.
func FromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return nil, err
	}
	return parse(tmp)
}

func parse(tmp ConfigTmp) (*Config, error) {
	if len(tmp.Chains) == 0 {
		return nil, fmt.Errorf("config: at least one chain is required")
	}

	cfg := &Config{
		WebAddr: tmp.WebAddr,
		Audit: AuditConfig{
			APIURL:           "https://api.gopluslabs.io",
			CallsPerMinute:   30,
			MaxTaxPercent:    decimal.NewFromInt(10),
			MaxHolderPercent: decimal.NewFromInt(10),
			MaxConcurrent:    4,
			MaxAttempts:      12,
			RetryDelay:       10 * time.Second,
			JournalDir:       "./wal/audit",
		},
		Trade: TradeConfig{
			BuyAmountWei:       big.NewInt(10_000_000_000_000_000),
			TargetMultiplier:   decimal.NewFromInt(2),
			StopLossMultiplier: decimal.NewFromFloat(0.5),
			SlippagePercent:    decimal.NewFromInt(2),
			ConfirmTimeout:     90 * time.Second,
		},
	}
	if cfg.WebAddr == "" {
		cfg.WebAddr = ":8080"
	}

	if err := applyAudit(&cfg.Audit, tmp.Audit); err != nil {
		return nil, err
	}
	if err := applyTrade(&cfg.Trade, tmp.Trade); err != nil {
		return nil, err
	}

	for _, c := range tmp.Chains {
		chain, err := parseChain(c)
		if err != nil {
			return nil, err
		}
		cfg.Chains = append(cfg.Chains, chain)
	}
	return cfg, nil
}

func applyAudit(dst *AuditConfig, tmp AuditTmp) error {
	if tmp.APIURL != "" {
		dst.APIURL = tmp.APIURL
	}
	dst.APIKey = tmp.APIKey
	if tmp.CallsPerMinute > 0 {
		dst.CallsPerMinute = tmp.CallsPerMinute
	}
	if tmp.MaxTaxPercent != "" {
		v, err := decimal.NewFromString(tmp.MaxTaxPercent)
		if err != nil {
			return fmt.Errorf("incorrect 'max_tax_percent' param in yaml config: %w", err)
		}
		dst.MaxTaxPercent = v
	}
	if tmp.MaxHolderPercent != "" {
		v, err := decimal.NewFromString(tmp.MaxHolderPercent)
		if err != nil {
			return fmt.Errorf("incorrect 'max_holder_percent' param in yaml config: %w", err)
		}
		dst.MaxHolderPercent = v
	}
	if tmp.MaxConcurrent > 0 {
		dst.MaxConcurrent = tmp.MaxConcurrent
	}
	if tmp.MaxAttempts > 0 {
		dst.MaxAttempts = tmp.MaxAttempts
	}
	if tmp.RetryDelay > 0 {
		dst.RetryDelay = tmp.RetryDelay
	}
	if tmp.JournalDir != "" {
		dst.JournalDir = tmp.JournalDir
	}
	return nil
}

func applyTrade(dst *TradeConfig, tmp TradeTmp) error {
	if tmp.BuyAmountWei != "" {
		amount, ok := new(big.Int).SetString(tmp.BuyAmountWei, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("incorrect 'buy_amount_wei' param in yaml config: %q", tmp.BuyAmountWei)
		}
		dst.BuyAmountWei = amount
	}
	if tmp.TargetMultiplier != "" {
		v, err := decimal.NewFromString(tmp.TargetMultiplier)
		if err != nil {
			return fmt.Errorf("incorrect 'target_multiplier' param in yaml config: %w", err)
		}
		dst.TargetMultiplier = v
	}
	if tmp.StopLossMultiplier != "" {
		v, err := decimal.NewFromString(tmp.StopLossMultiplier)
		if err != nil {
			return fmt.Errorf("incorrect 'stop_loss_multiplier' param in yaml config: %w", err)
		}
		dst.StopLossMultiplier = v
	}
	if tmp.SlippagePercent != "" {
		v, err := decimal.NewFromString(tmp.SlippagePercent)
		if err != nil {
			return fmt.Errorf("incorrect 'slippage_percent' param in yaml config: %w", err)
		}
		dst.SlippagePercent = v
	}
	if tmp.ConfirmTimeout > 0 {
		dst.ConfirmTimeout = tmp.ConfirmTimeout
	}

	if dst.TargetMultiplier.LessThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("'target_multiplier' must be greater than 1")
	}
	if dst.StopLossMultiplier.LessThanOrEqual(decimal.Zero) || dst.StopLossMultiplier.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("'stop_loss_multiplier' must be between 0 and 1")
	}
	if dst.SlippagePercent.IsNegative() || dst.SlippagePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("'slippage_percent' must be between 0 and 100")
	}
	return nil
}

func parseChain(tmp ChainTmp) (ChainConfig, error) {
	if tmp.Name == "" {
		return ChainConfig{}, fmt.Errorf("config: chain without a name")
	}
	if tmp.ChainID == 0 {
		return ChainConfig{}, fmt.Errorf("config: chain %q needs a chain_id", tmp.Name)
	}
	if tmp.WsURL == "" {
		return ChainConfig{}, fmt.Errorf("config: chain %q needs a ws_url", tmp.Name)
	}
	if len(tmp.BaseTokens) == 0 {
		return ChainConfig{}, fmt.Errorf("config: chain %q needs at least one base token", tmp.Name)
	}
	if len(tmp.Factories) == 0 {
		return ChainConfig{}, fmt.Errorf("config: chain %q needs at least one factory", tmp.Name)
	}
	for _, token := range tmp.BaseTokens {
		if !common.IsHexAddress(token) {
			return ChainConfig{}, fmt.Errorf("config: chain %q has an invalid base token %q", tmp.Name, token)
		}
	}

	chain := ChainConfig{
		Name:       tmp.Name,
		ChainID:    tmp.ChainID,
		WsURL:      tmp.WsURL,
		PrivateKey: tmp.PrivateKey,
		BaseTokens: tmp.BaseTokens,
	}
	// keys may come from the environment instead of the file
	if chain.PrivateKey == "" {
		chain.PrivateKey = os.Getenv("SNIPER_PRIVATE_KEY")
	}

	for _, f := range tmp.Factories {
		parsed, err := parseFactory(tmp.Name, f)
		if err != nil {
			return ChainConfig{}, err
		}
		chain.Factories = append(chain.Factories, parsed)
	}
	return chain, nil
}

func parseFactory(chainName string, tmp FactoryTmp) (FactoryConfig, error) {
	version, err := domain.ParseVersion(tmp.Version)
	if err != nil {
		return FactoryConfig{}, fmt.Errorf("config: chain %q: %w", chainName, err)
	}
	if !common.IsHexAddress(tmp.Factory) {
		return FactoryConfig{}, fmt.Errorf("config: chain %q has an invalid factory address %q", chainName, tmp.Factory)
	}
	if !common.IsHexAddress(tmp.Router) {
		return FactoryConfig{}, fmt.Errorf("config: chain %q has an invalid router address %q", chainName, tmp.Router)
	}
	return FactoryConfig{
		Version: version,
		Factory: common.HexToAddress(tmp.Factory),
		Router:  common.HexToAddress(tmp.Router),
	}, nil
}
