// Package market holds the per-market accrual snapshot and the pure
// functions that derive its current total assets and floating borrow debt
// from elapsed time, with no chain reads involved.
package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/exactly-bot/liquidator/internal/fixedpoint"
)

// INTERVAL is the fixed-rate pool maturity spacing in seconds: 4 weeks.
const INTERVAL int64 = 4 * 7 * 86_400

// secondsPerYear is the floating rate's annualization denominator.
const secondsPerYear int64 = 365 * 24 * 60 * 60

// precisionThreshold is the floor on the utilization delta divided by
// alpha (max utilization minus the lower utilization, a WAD ratio) below which the
// floating borrow rate integral is approximated by Simpson's rule instead
// of the closed-form logarithmic integral, matching the on-chain model's
// numerical safety cutoff.
var precisionThreshold = big.NewInt(750_000_000_000_000) // 7.5e14

// FixedPool is the accrual state of a single maturity's fixed-rate pool.
type FixedPool struct {
	Borrowed           *big.Int
	Supplied           *big.Int
	UnassignedEarnings *big.Int
	LastAccrual        *big.Int
}

// Market is a point-in-time snapshot of one listed market's accrual state,
// sufficient to derive TotalAssets/TotalFloatingBorrowAssets at any later
// timestamp without further chain reads.
type Market struct {
	Address                common.Address
	InterestRateModel      common.Address
	Price                  *big.Int
	PenaltyRate            *big.Int
	AdjustFactor           *big.Int
	Decimals               uint8
	FloatingAssets         *big.Int
	FloatingDepositShares  *big.Int
	FloatingDebt           *big.Int
	FloatingBorrowShares   *big.Int
	FloatingUtilization    *big.Int
	LastFloatingDebtUpdate *big.Int
	MaxFuturePools         uint8
	FixedPools             map[string]*FixedPool // keyed by maturity.String()

	SmartPoolFeeRate                *big.Int
	EarningsAccumulator             *big.Int
	LastAccumulatorAccrual          *big.Int
	EarningsAccumulatorSmoothFactor *big.Int

	PriceFeed common.Address
	Listed    bool

	FloatingFullUtilization *big.Int
	FloatingA               *big.Int
	FloatingB               *big.Int
	FloatingMaxUtilization  *big.Int

	TreasuryFeeRate *big.Int

	Asset      common.Address
	BaseMarket bool
}

func maturityKey(maturity int64) string {
	return new(big.Int).SetInt64(maturity).String()
}

// FixedPoolAt returns the fixed pool for the given maturity, or nil if the
// market has never had activity in that maturity.
func (m *Market) FixedPoolAt(maturity int64) *FixedPool {
	return m.FixedPools[maturityKey(maturity)]
}

// AccumulatedEarnings returns the portion of the smoothed earnings
// accumulator recognized by timestamp.
func (m *Market) AccumulatedEarnings(timestamp int64) (*big.Int, error) {
	elapsed := new(big.Int).Sub(big.NewInt(timestamp), m.LastAccumulatorAccrual)
	if elapsed.Sign() <= 0 {
		return big.NewInt(0), nil
	}

	smoothSpan, err := fixedpoint.MulWadDown(
		m.EarningsAccumulatorSmoothFactor,
		big.NewInt(INTERVAL*int64(m.MaxFuturePools)),
	)
	if err != nil {
		return nil, err
	}

	denom := new(big.Int).Add(elapsed, smoothSpan)
	return fixedpoint.MulDivDown(m.EarningsAccumulator, elapsed, denom)
}

// TotalAssets returns the market's total backing assets at timestamp:
// floating assets, plus unassigned fixed
// pool earnings pro-rated up to timestamp, plus the accumulated earnings
// smoothing term, plus the net-of-treasury-fee floating borrow interest
// accrued since the last update.
func (m *Market) TotalAssets(timestamp int64) (*big.Int, error) {
	latest := (timestamp - (timestamp % INTERVAL)) / INTERVAL

	smartPoolEarnings := big.NewInt(0)
	for i := latest; i <= latest+int64(m.MaxFuturePools); i++ {
		maturity := INTERVAL * i
		pool := m.FixedPoolAt(maturity)
		if pool == nil {
			continue
		}
		if big.NewInt(maturity).Cmp(pool.LastAccrual) <= 0 {
			continue
		}
		if timestamp < maturity {
			share, err := fixedpoint.MulDivDown(
				pool.UnassignedEarnings,
				new(big.Int).Sub(big.NewInt(timestamp), pool.LastAccrual),
				new(big.Int).Sub(big.NewInt(maturity), pool.LastAccrual),
			)
			if err != nil {
				return nil, err
			}
			smartPoolEarnings.Add(smartPoolEarnings, share)
		} else {
			smartPoolEarnings.Add(smartPoolEarnings, pool.UnassignedEarnings)
		}
	}

	accumulated, err := m.AccumulatedEarnings(timestamp)
	if err != nil {
		return nil, err
	}

	totalBorrow, err := m.TotalFloatingBorrowAssets(timestamp)
	if err != nil {
		return nil, err
	}
	netNewBorrow := new(big.Int).Sub(totalBorrow, m.FloatingDebt)
	treasuryKeep := new(big.Int).Sub(fixedpoint.WAD, m.TreasuryFeeRate)
	netOfTreasury, err := fixedpoint.MulWadDown(netNewBorrow, treasuryKeep)
	if err != nil {
		return nil, err
	}

	total := new(big.Int).Set(m.FloatingAssets)
	total.Add(total, smartPoolEarnings)
	total.Add(total, accumulated)
	total.Add(total, netOfTreasury)
	return total, nil
}

// floatingBorrowRate returns the WAD-scaled annualized borrow rate implied
// by the utilization moving from u0 to u1 (u0 <= u1). The branch is taken
// on the WAD ratio delta/alpha against precisionThreshold, where
// delta = u1 - u0 and alpha = FloatingMaxUtilization - u0: below the
// threshold the integral is approximated with Simpson's rule; above it,
// the closed-form natural-log integral is used.
func (m *Market) floatingBorrowRate(u0, u1 *big.Int) (*big.Int, error) {
	alpha := new(big.Int).Sub(m.FloatingMaxUtilization, u0)
	delta := new(big.Int).Sub(u1, u0)

	deltaOverAlpha, err := fixedpoint.DivWadDown(delta, alpha)
	if err != nil {
		return nil, err
	}

	var r *big.Int
	if deltaOverAlpha.CmpAbs(precisionThreshold) < 0 {
		r, err = m.simpsonRate(u0, u1, alpha)
	} else {
		r, err = m.logIntegralRate(alpha, u1, delta)
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(r, m.FloatingB), nil
}

// fourWad is the fused Simpson middle-term weight, 4e18.
var fourWad = new(big.Int).Mul(big.NewInt(4), fixedpoint.WAD)

// simpsonRate approximates the integral mean of a/(maxU-u) over [u0,u1]
// with Simpson's rule, (a/alpha + 4a/(maxU-mid) + a/(maxU-u1)) / 6, used
// when the interval is too narrow for the log-integral form to stay
// numerically stable. The middle term is a single fused
// a·4e18/(maxU-mid) so each of the three terms truncates exactly once.
func (m *Market) simpsonRate(u0, u1, alpha *big.Int) (*big.Int, error) {
	mid := new(big.Int).Add(u0, u1)
	mid.Div(mid, big.NewInt(2))

	c0, err := fixedpoint.DivWadDown(m.FloatingA, alpha)
	if err != nil {
		return nil, err
	}
	cm, err := fixedpoint.MulDivDown(m.FloatingA, fourWad, new(big.Int).Sub(m.FloatingMaxUtilization, mid))
	if err != nil {
		return nil, err
	}
	c1, err := fixedpoint.DivWadDown(m.FloatingA, new(big.Int).Sub(m.FloatingMaxUtilization, u1))
	if err != nil {
		return nil, err
	}

	sum := new(big.Int).Add(c0, cm)
	sum.Add(sum, c1)
	return sum.Div(sum, big.NewInt(6)), nil
}

// logIntegralRate uses the closed-form integral of a/(maxU-u) du, a single
// a · ln_wad(alpha/(maxU-u1)) / delta with one logarithm and one fused
// mul-div, so its truncation points line up with the on-chain evaluation.
func (m *Market) logIntegralRate(alpha, u1, delta *big.Int) (*big.Int, error) {
	ratio, err := fixedpoint.DivWadDown(alpha, new(big.Int).Sub(m.FloatingMaxUtilization, u1))
	if err != nil {
		return nil, err
	}
	ln, err := fixedpoint.LnWad(ratio)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDivDown(m.FloatingA, ln, delta)
}

// TotalFloatingBorrowAssets returns the floating debt compounded forward to
// timestamp at the rate implied by the utilization change since
// LastFloatingDebtUpdate.
func (m *Market) TotalFloatingBorrowAssets(timestamp int64) (*big.Int, error) {
	newUtilization := big.NewInt(0)
	if m.FloatingAssets.Sign() > 0 {
		u, err := fixedpoint.DivWadUp(m.FloatingDebt, m.FloatingAssets)
		if err != nil {
			return nil, err
		}
		newUtilization = u
	}

	lo, hi := m.FloatingUtilization, newUtilization
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}

	rate, err := m.floatingBorrowRate(lo, hi)
	if err != nil {
		return nil, err
	}

	elapsed := new(big.Int).Sub(big.NewInt(timestamp), m.LastFloatingDebtUpdate)
	if elapsed.Sign() <= 0 {
		return new(big.Int).Set(m.FloatingDebt), nil
	}
	ratePerElapsed, err := fixedpoint.MulDivDown(rate, elapsed, big.NewInt(secondsPerYear))
	if err != nil {
		return nil, err
	}

	newDebt, err := fixedpoint.MulWadDown(m.FloatingDebt, ratePerElapsed)
	if err != nil {
		return nil, err
	}

	return new(big.Int).Add(m.FloatingDebt, newDebt), nil
}
