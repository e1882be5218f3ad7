package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"peerlend/native/lending"
)

const sampleConfig = `
DefaultMatchBudget = 32

[[Markets]]
Underlying = "0x00000000000000000000000000000000000000A0"
Symbol = "pUSD"
ReserveFactorBps = 1000
CursorBps = 3333
LiquidationBonusBps = 700
BorrowCap = "5000000"
PriceWad = "1000000000000000000"
CollateralFactorBps = 8000

[Markets.Pool]
Kind = "scaled"
AmbientSupplied = "1000000000"
AmbientBorrowed = "400000000"

[Markets.Pool.Model]
BaseRate = 0.02
Slope1 = 0.15
Slope2 = 0.6
Kink = 0.8

[[Markets]]
Underlying = "0x00000000000000000000000000000000000000B0"
Symbol = "pETH"
PriceWad = "2000000000000000000000"
CollateralFactorBps = 7500

[Markets.Pool]
Kind = "exchange-rate"
InitialExchangeWad = "20000000000000000"
AmbientSupplied = "1000000000"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peerlend.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesMarkets(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.EqualValues(t, 32, cfg.DefaultMatchBudget)
	require.Len(t, cfg.Markets, 2)

	mc, err := cfg.Markets[0].MarketConfig()
	require.NoError(t, err)
	require.Equal(t, "pUSD", mc.Symbol)
	require.EqualValues(t, 1_000, mc.ReserveFactorBps)
	require.Zero(t, mc.BorrowCap.Cmp(big.NewInt(5_000_000)))

	pool, err := cfg.Markets[0].BuildPool()
	require.NoError(t, err)
	require.IsType(t, &lending.ScaledPool{}, pool)

	pool, err = cfg.Markets[1].BuildPool()
	require.NoError(t, err)
	require.IsType(t, &lending.ExchangeRatePool{}, pool)

	price, factor, err := cfg.Markets[1].OracleSeed()
	require.NoError(t, err)
	require.EqualValues(t, 7_500, factor)
	require.Equal(t, "2000000000000000000000", price.String())
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"bad address":    `[[Markets]]` + "\n" + `Underlying = "nope"` + "\n" + `Symbol = "X"`,
		"missing symbol": `[[Markets]]` + "\n" + `Underlying = "0x00000000000000000000000000000000000000A0"`,
		"bad amount": `[[Markets]]` + "\n" + `Underlying = "0x00000000000000000000000000000000000000A0"` + "\n" +
			`Symbol = "X"` + "\n" + `BorrowCap = "-5"`,
		"bad pool kind": `[[Markets]]` + "\n" + `Underlying = "0x00000000000000000000000000000000000000A0"` + "\n" +
			`Symbol = "X"` + "\n" + `[Markets.Pool]` + "\n" + `Kind = "aave"`,
		"duplicate market": `[[Markets]]` + "\n" + `Underlying = "0x00000000000000000000000000000000000000A0"` + "\n" +
			`Symbol = "X"` + "\n" + `[[Markets]]` + "\n" +
			`Underlying = "0x00000000000000000000000000000000000000A0"` + "\n" + `Symbol = "Y"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerlend.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Markets)

	// The generated file must load back cleanly.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.DefaultMatchBudget, reloaded.DefaultMatchBudget)
	require.NoError(t, reloaded.Validate())
}
