package lending

import "math/big"

const blocksPerYear = 31_536_000

// InterestModel shapes how the simulated pool backends react to utilisation:
// a kinked curve with a base rate, a gentle slope up to the kink and a steep
// slope beyond it.
type InterestModel struct {
	BaseRate *big.Rat
	Slope1   *big.Rat
	Slope2   *big.Rat
	Kink     *big.Rat
}

// NewInterestModel constructs a model from decimal inputs, e.g. a 2% base
// rate is 0.02 and an 80% kink utilisation is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// DefaultInterestModel is a reasonable starting configuration.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)

// Utilisation computes U = totalBorrowed / totalSupplied, zero when the pool
// is empty.
func (m *InterestModel) Utilisation(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrowed, totalSupplied)
}

// BorrowAPR derives the borrow rate for the current utilisation.
func (m *InterestModel) BorrowAPR(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(totalBorrowed, totalSupplied)
	if utilisation.Sign() == 0 {
		return rate
	}

	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	slope2 := cloneRat(m.Slope2)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(slope1, utilisation))
	}

	rate.Add(rate, new(big.Rat).Mul(slope1, kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(slope2, excess))
}

// SupplyAPR derives the supply rate: borrow rate scaled by utilisation and
// the pool's reserve cut.
func (m *InterestModel) SupplyAPR(totalBorrowed, totalSupplied *big.Int, reserveFactorBps uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	borrowAPR := m.BorrowAPR(totalBorrowed, totalSupplied)
	utilisation := m.Utilisation(totalBorrowed, totalSupplied)
	if borrowAPR.Sign() == 0 || utilisation.Sign() == 0 {
		return new(big.Rat)
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	keep := new(big.Rat).SetFrac(big.NewInt(int64(10_000-reserveFactorBps)), big.NewInt(10_000))
	rate := new(big.Rat).Mul(borrowAPR, utilisation)
	return rate.Mul(rate, keep)
}

// rateFactor converts an annual rate into a ray growth factor over a number
// of blocks, using simple (non-compounded) interest within the interval.
func rateFactor(rate *big.Rat, blocks uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || blocks == 0 {
		return new(big.Int).Set(ray)
	}
	interval := new(big.Rat).Set(rate)
	interval.Quo(interval, new(big.Rat).SetUint64(blocksPerYear))
	interval.Mul(interval, new(big.Rat).SetUint64(blocks))
	factor := new(big.Rat).Add(big.NewRat(1, 1), interval)
	return ratToRay(factor)
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	num := scaled.Num()
	den := scaled.Denom()
	if den.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	out := new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
	if out.Cmp(ray) < 0 {
		return new(big.Int).Set(ray)
	}
	return out
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
