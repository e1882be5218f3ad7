package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay     = new(big.Int).Rsh(ray, 1)
	wad         = mustBigInt("1000000000000000000") // 1e18, oracle price precision
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

func rayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	numerator.Add(numerator, halfUp(b))
	numerator.Quo(numerator, b)
	return numerator
}

func percentMul(a *big.Int, bps uint64) *big.Int {
	if a == nil || a.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, new(big.Int).SetUint64(bps))
	product.Add(product, halfUp(basisPoints))
	product.Quo(product, basisPoints)
	return product
}

// underlyingOf converts scaled units into an underlying amount.
func underlyingOf(units, index *big.Int) *big.Int {
	if units == nil || units.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return rayMul(units, index)
}

// unitsOf converts an underlying amount into scaled units. Non-zero amounts
// never round down to zero units so dust cannot escape accounting.
func unitsOf(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	units := rayDiv(amount, index)
	if units.Sign() == 0 {
		return big.NewInt(1)
	}
	return units
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// subFloorZero returns a-b clamped at zero.
func subFloorZero(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

// halfUp returns floor(x/2), the bias added to a numerator so the following
// truncated division rounds half away from zero. Matches the halfRay
// convention above; anything larger would bump exact divisions by one.
func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Rsh(x, 1)
}
