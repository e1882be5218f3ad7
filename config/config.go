package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"peerlend/native/lending"
)

// Config is the top-level market configuration shared by the daemon and
// operational tooling. Service-specific settings (listen addresses, data
// directories) live in each service's own config file.
type Config struct {
	DefaultMatchBudget uint64   `toml:"DefaultMatchBudget"`
	Markets            []Market `toml:"Markets"`
}

// Market declares one lending market, its oracle seed and its simulated pool
// backend.
type Market struct {
	Underlying          string `toml:"Underlying"`
	Symbol              string `toml:"Symbol"`
	ReserveFactorBps    uint64 `toml:"ReserveFactorBps"`
	CursorBps           uint64 `toml:"CursorBps"`
	MaxSortedUsers      uint64 `toml:"MaxSortedUsers"`
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps"`
	CloseFactorBps      uint64 `toml:"CloseFactorBps"`
	BorrowCap           string `toml:"BorrowCap"`
	P2PDisabled         bool   `toml:"P2PDisabled"`

	// Oracle seed values for the static price feed.
	PriceWad            string `toml:"PriceWad"`
	CollateralFactorBps uint64 `toml:"CollateralFactorBps"`

	Pool Pool `toml:"Pool"`
}

// Pool selects and parameterises the simulated pool backend for a market.
type Pool struct {
	// Kind is "scaled" (index-publishing backend) or "exchange-rate"
	// (pool-token backend).
	Kind               string `toml:"Kind"`
	ReserveFactorBps   uint64 `toml:"ReserveFactorBps"`
	InitialExchangeWad string `toml:"InitialExchangeWad"`
	AmbientSupplied    string `toml:"AmbientSupplied"`
	AmbientBorrowed    string `toml:"AmbientBorrowed"`

	Model Model `toml:"Model"`
}

// Model is the kinked interest curve, in decimal fractions.
type Model struct {
	BaseRate float64 `toml:"BaseRate"`
	Slope1   float64 `toml:"Slope1"`
	Slope2   float64 `toml:"Slope2"`
	Kink     float64 `toml:"Kink"`
}

// Load reads the configuration from path, writing a commented default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks addresses and numeric strings without touching the engine.
func (c *Config) Validate() error {
	seen := make(map[common.Address]struct{}, len(c.Markets))
	for i := range c.Markets {
		m := &c.Markets[i]
		m.Symbol = strings.TrimSpace(m.Symbol)
		if !common.IsHexAddress(m.Underlying) {
			return fmt.Errorf("market %q: invalid underlying address %q", m.Symbol, m.Underlying)
		}
		addr := common.HexToAddress(m.Underlying)
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("market %q: duplicate underlying %s", m.Symbol, addr.Hex())
		}
		seen[addr] = struct{}{}
		if m.Symbol == "" {
			return fmt.Errorf("market %s: symbol required", addr.Hex())
		}
		for name, value := range map[string]string{
			"BorrowCap":          m.BorrowCap,
			"PriceWad":           m.PriceWad,
			"InitialExchangeWad": m.Pool.InitialExchangeWad,
			"AmbientSupplied":    m.Pool.AmbientSupplied,
			"AmbientBorrowed":    m.Pool.AmbientBorrowed,
		} {
			if _, err := parseBig(value); err != nil {
				return fmt.Errorf("market %q: %s: %w", m.Symbol, name, err)
			}
		}
		switch m.Pool.Kind {
		case "", "scaled", "exchange-rate":
		default:
			return fmt.Errorf("market %q: unknown pool kind %q", m.Symbol, m.Pool.Kind)
		}
	}
	return nil
}

// MarketConfig converts the declaration into the engine's parameter set.
func (m *Market) MarketConfig() (lending.MarketConfig, error) {
	borrowCap, err := parseBig(m.BorrowCap)
	if err != nil {
		return lending.MarketConfig{}, err
	}
	return lending.MarketConfig{
		Underlying:          common.HexToAddress(m.Underlying),
		Symbol:              m.Symbol,
		ReserveFactorBps:    m.ReserveFactorBps,
		CursorBps:           m.CursorBps,
		MaxSortedUsers:      m.MaxSortedUsers,
		LiquidationBonusBps: m.LiquidationBonusBps,
		CloseFactorBps:      m.CloseFactorBps,
		BorrowCap:           borrowCap,
		P2PDisabled:         m.P2PDisabled,
	}, nil
}

// BuildPool constructs the configured pool adapter.
func (m *Market) BuildPool() (lending.PoolAdapter, error) {
	model := lending.DefaultInterestModel
	if m.Pool.Model != (Model{}) {
		model = lending.NewInterestModel(m.Pool.Model.BaseRate, m.Pool.Model.Slope1, m.Pool.Model.Slope2, m.Pool.Model.Kink)
	}
	supplied, err := parseBig(m.Pool.AmbientSupplied)
	if err != nil {
		return nil, err
	}
	borrowed, err := parseBig(m.Pool.AmbientBorrowed)
	if err != nil {
		return nil, err
	}
	switch m.Pool.Kind {
	case "", "scaled":
		return lending.NewScaledPool(model, m.Pool.ReserveFactorBps, supplied, borrowed), nil
	case "exchange-rate":
		initial, err := parseBig(m.Pool.InitialExchangeWad)
		if err != nil {
			return nil, err
		}
		return lending.NewExchangeRatePool(model, m.Pool.ReserveFactorBps, initial, supplied, borrowed), nil
	default:
		return nil, fmt.Errorf("unknown pool kind %q", m.Pool.Kind)
	}
}

// OracleSeed returns the static price and collateral factor for the market.
func (m *Market) OracleSeed() (*big.Int, uint64, error) {
	price, err := parseBig(m.PriceWad)
	if err != nil {
		return nil, 0, err
	}
	return price, m.CollateralFactorBps, nil
}

func parseBig(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	out, ok := new(big.Int).SetString(value, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return out, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DefaultMatchBudget: lending.DefaultMatchBudget,
		Markets: []Market{
			{
				Underlying:          "0x00000000000000000000000000000000000000A0",
				Symbol:              "pUSD",
				CursorBps:           3_333,
				ReserveFactorBps:    1_000,
				LiquidationBonusBps: 1_000,
				PriceWad:            "1000000000000000000",
				CollateralFactorBps: 8_000,
				Pool: Pool{
					Kind:            "scaled",
					AmbientSupplied: "1000000000000000000000000",
					AmbientBorrowed: "500000000000000000000000",
					Model:           Model{BaseRate: 0.02, Slope1: 0.15, Slope2: 0.6, Kink: 0.8},
				},
			},
		},
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
