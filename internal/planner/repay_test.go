package planner

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exactly-bot/liquidator/internal/account"
	"github.com/exactly-bot/liquidator/internal/fixedpoint"
	"github.com/exactly-bot/liquidator/internal/tokenpair"
)

func wad(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18)) }

func wadFrac(numer, denom int64) *big.Int {
	return new(big.Int).Div(wad(numer), big.NewInt(denom))
}

var (
	usdc = common.HexToAddress("0x00000000000000000000000000000000000a01")
	dai  = common.HexToAddress("0x00000000000000000000000000000000000a02")
)

func oneCollateralOneDebt(collateralValue, collateralAdjust, debtValue, debtAdjust int64) ([]account.MarketAccount, map[common.Address]*big.Int, map[common.Address]common.Address) {
	markets := []account.MarketAccount{
		{
			Market:                usdc,
			IsCollateral:          true,
			Decimals:              18,
			AdjustFactor:          wadFrac(collateralAdjust, 100),
			PenaltyRate:           big.NewInt(0),
			FloatingDepositAssets: wad(collateralValue),
			FloatingBorrowAssets:  big.NewInt(0),
		},
		{
			Market:               dai,
			IsCollateral:         false,
			Decimals:             18,
			AdjustFactor:         wadFrac(debtAdjust, 100),
			PenaltyRate:          big.NewInt(0),
			FloatingBorrowAssets: wad(debtValue),
		},
	}
	prices := map[common.Address]*big.Int{usdc: fixedpoint.WAD, dai: fixedpoint.WAD}
	assets := map[common.Address]common.Address{usdc: usdc, dai: dai}
	return markets, prices, assets
}

func TestPickMarketsHealthyAccountNoLiquidationNeeded(t *testing.T) {
	markets, prices, assets := oneCollateralOneDebt(1000, 80, 500, 90)
	repay, err := PickMarkets(markets, prices, 1_700_000_000, assets)
	require.NoError(t, err)

	// health factor = adjusted_collateral / adjusted_debt
	hf, err := fixedpoint.DivWadDown(repay.TotalAdjustedCollateral, repay.TotalAdjustedDebt)
	require.NoError(t, err)

	// 1000*0.8 / (500/0.9) = 800 / 555.56 ~= 1.44
	assert.True(t, hf.Cmp(wad(1)) > 0, "healthy account should have hf > 1 WAD, got %s", hf)
	lower := wadFrac(140, 100)
	upper := wadFrac(148, 100)
	assert.True(t, hf.Cmp(lower) >= 0 && hf.Cmp(upper) <= 0, "expected hf near 1.44, got %s", hf)
}

func TestPickMarketsAlwaysSelectsRepayMarketWhenDebtExists(t *testing.T) {
	markets, prices, assets := oneCollateralOneDebt(1000, 80, 900, 90)
	repay, err := PickMarkets(markets, prices, 1_700_000_000, assets)
	require.NoError(t, err)

	require.NotNil(t, repay.MarketToRepay)
	assert.Equal(t, dai, *repay.MarketToRepay)
	assert.True(t, repay.TotalAdjustedDebt.Sign() > 0)
}

func TestMaxRepayNeverExceedsTotalDebtInCloseFactorScenario(t *testing.T) {
	markets, prices, assets := oneCollateralOneDebt(1000, 80, 900, 90)
	repay, err := PickMarkets(markets, prices, 1_700_000_000, assets)
	require.NoError(t, err)

	incentive := &LiquidationIncentive{Liquidator: wadFrac(5, 100), Lenders: wadFrac(1, 100)}
	maxRepay, err := MaxRepayAssets(repay, incentive, uint256Max)
	require.NoError(t, err)

	assert.True(t, maxRepay.Cmp(wad(900)) <= 0, "max repay must never exceed total debt, got %s", maxRepay)
}

func TestSeizeCapBindsBelowDebtCap(t *testing.T) {
	markets, prices, assets := oneCollateralOneDebt(100, 80, 1000, 90)
	repay, err := PickMarkets(markets, prices, 1_700_000_000, assets)
	require.NoError(t, err)

	// market_to_seize_value = 100 * 0.8 = 80
	assert.Equal(t, wad(80), repay.MarketToSeizeValue)

	incentive := &LiquidationIncentive{Liquidator: wadFrac(5, 100), Lenders: wadFrac(1, 100)}
	maxRepay, err := MaxRepayAssets(repay, incentive, uint256Max)
	require.NoError(t, err)

	// seize_cap = 80 / 1.06 ~= 75.47, well below the debt-based cap, so the
	// seize cap must be the binding constraint.
	seizeCap, err := fixedpoint.DivWadUp(wad(80), wadFrac(106, 100))
	require.NoError(t, err)
	assert.True(t, maxRepay.Cmp(seizeCap) <= 0)
	assert.True(t, maxRepay.Cmp(wad(900)) < 0, "seize cap should bind well under the debt cap")
}

func TestPenaltyAccrualAddsOverdueInterest(t *testing.T) {
	markets := []account.MarketAccount{
		{
			Market:       dai,
			IsCollateral: false,
			Decimals:     18,
			AdjustFactor: wad(1),
			PenaltyRate:  big.NewInt(1e12), // 1e-6 WAD per second
			FixedBorrowPositions: []account.FixedBorrowPosition{
				{Maturity: 1_699_999_000, Principal: wad(100), Fee: wad(5)},
			},
			FloatingBorrowAssets: big.NewInt(0),
		},
	}
	prices := map[common.Address]*big.Int{dai: fixedpoint.WAD}
	assets := map[common.Address]common.Address{dai: dai}

	// maturity 1000s in the past at timestamp 1_700_000_000
	repay, err := PickMarkets(markets, prices, 1_700_000_000, assets)
	require.NoError(t, err)

	// borrowed = 105, overdue = 105 * 1000 * 1e-6 = 0.105; total value debt ~= 105.105
	expected := new(big.Int).Add(wad(105), wadFrac(105, 1000))
	diff := new(big.Int).Sub(repay.TotalValueDebt, expected)
	assert.True(t, diff.CmpAbs(big.NewInt(1e12)) < 0, "expected ~105.105 WAD debt, got %s", repay.TotalValueDebt)
}

func TestGetFlashPairPicksLowestFeeTier(t *testing.T) {
	json := `[["` + usdc.Hex() + `","` + dai.Hex() + `",3000],["` + usdc.Hex() + `","` + dai.Hex() + `",500],["` + usdc.Hex() + `","` + dai.Hex() + `",10000]]`
	catalog, err := tokenpair.Parse([]byte(json))
	require.NoError(t, err)

	repay := newRepay()
	repay.CollateralAssetAddress = usdc
	repay.RepayAssetAddress = dai

	pool, fee := GetFlashPair(repay, catalog)
	assert.Equal(t, usdc, pool)
	assert.Equal(t, uint32(500), fee)
}

func TestGetFlashPairNoRouteWhenCollateralMatchesRepayAndCatalogEmpty(t *testing.T) {
	catalog, err := tokenpair.Parse([]byte(`[]`))
	require.NoError(t, err)

	repay := newRepay()
	repay.CollateralAssetAddress = usdc
	repay.RepayAssetAddress = usdc

	pool, fee := GetFlashPair(repay, catalog)
	assert.Equal(t, common.Address{}, pool)
	assert.Equal(t, ^uint32(0), fee)
}

func TestOrderedAddressesSymmetryFeedsFlashPairLookup(t *testing.T) {
	lo, hi := tokenpair.OrderedAddresses(dai, usdc)
	lo2, hi2 := tokenpair.OrderedAddresses(usdc, dai)
	assert.Equal(t, lo, lo2)
	assert.Equal(t, hi, hi2)
}

func TestMaxRepayAssetsNeverExceedsMarketToLiquidateDebt(t *testing.T) {
	markets, prices, assets := oneCollateralOneDebt(500, 80, 2000, 90)
	repay, err := PickMarkets(markets, prices, 1_700_000_000, assets)
	require.NoError(t, err)

	incentive := &LiquidationIncentive{Liquidator: wadFrac(8, 100), Lenders: wadFrac(2, 100)}
	maxRepay, err := MaxRepayAssets(repay, incentive, uint256Max)
	require.NoError(t, err)

	assert.True(t, maxRepay.Cmp(repay.MarketToLiquidateDebt) <= 0)
}
