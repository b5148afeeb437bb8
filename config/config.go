package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"omnisettle/native/arbitration"
	"omnisettle/native/common"
	"omnisettle/native/escrow"
	"omnisettle/native/fees"
	"omnisettle/native/ledger"
	"omnisettle/native/settlement"
)

// FeeShare is one recipient row of a fee split table. Recipients are
// hex-encoded 20-byte account addresses.
type FeeShare struct {
	Recipient string `toml:"Recipient"`
	Bps       uint32 `toml:"Bps"`
}

// Config carries every recognized settlement option. Durations are seconds.
type Config struct {
	Service     string   `toml:"Service"`
	Environment string   `toml:"Environment"`
	LogLevel    string   `toml:"LogLevel"`
	Assets      []string `toml:"Assets"`

	MinEscrowAmount    uint64 `toml:"MinEscrowAmount"`
	MinDisputeDuration int64  `toml:"MinDisputeDuration"`
	DisputeStakeBps    uint32 `toml:"DisputeStakeBps"`
	ArbitrationFeeBps  uint32 `toml:"ArbitrationFeeBps"`
	MarketplaceFeeBps  uint32 `toml:"MarketplaceFeeBps"`

	PanelSize          uint32 `toml:"PanelSize"`
	MaxArbitrators     int    `toml:"MaxArbitrators"`
	MinArbitratorStake uint64 `toml:"MinArbitratorStake"`
	CounterStakeWindow int64  `toml:"CounterStakeWindow"`
	VotingPeriod       int64  `toml:"VotingPeriod"`

	DisputesPerMinute   float64 `toml:"DisputesPerMinute"`
	MaxDisputesPerEpoch uint32  `toml:"MaxDisputesPerEpoch"`
	QuotaEpochSeconds   uint32  `toml:"QuotaEpochSeconds"`

	MarketplaceFeeShares []FeeShare `toml:"MarketplaceFeeShares"`
	ArbitrationFeeShares []FeeShare `toml:"ArbitrationFeeShares"`
}

// Default returns the configuration the module ships with. Fee share tables
// have no sensible default recipients and must come from the operator.
func Default() *Config {
	return &Config{
		Service:            "omnisettle",
		Environment:        "local",
		LogLevel:           "info",
		Assets:             []string{"usd"},
		MinEscrowAmount:    1_000,
		MinDisputeDuration: 3_600,
		DisputeStakeBps:    10,
		ArbitrationFeeBps:  50,
		MarketplaceFeeBps:  100,
		PanelSize:          3,
		MaxArbitrators:     64,
		MinArbitratorStake: 10_000,
		CounterStakeWindow: 86_400,
		VotingPeriod:       259_200,
		DisputesPerMinute:  2,
	}
}

// Load reads and validates the configuration at path, filling unset fields
// from the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the structural constraints across all options.
func (c *Config) Validate() error {
	if c.MinDisputeDuration <= 0 {
		return fmt.Errorf("config: MinDisputeDuration must be positive")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		if strings.TrimSpace(asset) == "" {
			return fmt.Errorf("config: Assets must not contain blank entries")
		}
		if _, ok := seen[asset]; ok {
			return fmt.Errorf("config: duplicate asset %q", asset)
		}
		seen[asset] = struct{}{}
	}
	for name, bps := range map[string]uint32{
		"DisputeStakeBps":   c.DisputeStakeBps,
		"ArbitrationFeeBps": c.ArbitrationFeeBps,
		"MarketplaceFeeBps": c.MarketplaceFeeBps,
	} {
		if bps > 10_000 {
			return fmt.Errorf("config: %s out of range: %d", name, bps)
		}
	}
	if c.PanelSize < 3 || c.PanelSize%2 == 0 {
		return fmt.Errorf("config: PanelSize must be odd and >= 3, got %d", c.PanelSize)
	}
	if c.MaxArbitrators < int(c.PanelSize) {
		return fmt.Errorf("config: MaxArbitrators must be at least PanelSize")
	}
	if c.CounterStakeWindow <= 0 || c.VotingPeriod <= 0 {
		return fmt.Errorf("config: dispute windows must be positive")
	}
	if err := validateShares("MarketplaceFeeShares", c.MarketplaceFeeShares); err != nil {
		return err
	}
	return validateShares("ArbitrationFeeShares", c.ArbitrationFeeShares)
}

func validateShares(name string, shares []FeeShare) error {
	if len(shares) == 0 {
		return fmt.Errorf("config: %s must not be empty", name)
	}
	sum := uint64(0)
	for _, share := range shares {
		if _, err := ParseAddress(share.Recipient); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		sum += uint64(share.Bps)
	}
	if sum != 10_000 {
		return fmt.Errorf("config: %s must sum to 10000 bps, got %d", name, sum)
	}
	return nil
}

// ParseAddress decodes a hex account address with optional 0x prefix.
func ParseAddress(s string) (ledger.Address, error) {
	var addr ledger.Address
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("invalid address %q: want %d bytes, got %d", s, len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func feeTable(shares []FeeShare) (*fees.Table, error) {
	parsed := make([]fees.Share, 0, len(shares))
	for _, share := range shares {
		addr, err := ParseAddress(share.Recipient)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, fees.Share{Recipient: addr, Bps: share.Bps})
	}
	return fees.NewTable(parsed...)
}

// EscrowConfig materializes the escrow engine configuration, resolving both
// fee tables.
func (c *Config) EscrowConfig() (escrow.Config, error) {
	marketplace, err := feeTable(c.MarketplaceFeeShares)
	if err != nil {
		return escrow.Config{}, fmt.Errorf("config: MarketplaceFeeShares: %w", err)
	}
	arbitrationTable, err := feeTable(c.ArbitrationFeeShares)
	if err != nil {
		return escrow.Config{}, fmt.Errorf("config: ArbitrationFeeShares: %w", err)
	}
	return escrow.Config{
		MinEscrowAmount:   c.MinEscrowAmount,
		MinDuration:       c.MinDisputeDuration,
		DisputeStakeBps:   c.DisputeStakeBps,
		MarketplaceFeeBps: c.MarketplaceFeeBps,
		ArbitrationFeeBps: c.ArbitrationFeeBps,
		MarketplaceFees:   marketplace,
		ArbitrationFees:   arbitrationTable,
	}, nil
}

// ResolverParams materializes the dispute resolver timing parameters.
func (c *Config) ResolverParams() arbitration.Params {
	return arbitration.Params{
		PanelSize:          c.PanelSize,
		CounterStakeWindow: c.CounterStakeWindow,
		VotingPeriod:       c.VotingPeriod,
	}
}

// CoordinatorOptions materializes the coordinator throttling options.
func (c *Config) CoordinatorOptions() settlement.Options {
	return settlement.Options{
		DisputesPerMinute: c.DisputesPerMinute,
		DisputeQuota: common.Quota{
			MaxDisputesPerEpoch: c.MaxDisputesPerEpoch,
			EpochSeconds:        c.QuotaEpochSeconds,
		},
	}
}
