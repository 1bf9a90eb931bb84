// Package planner decides which markets to seize and repay for an
// undercollateralized account, how much to repay, and whether the
// liquidation is profitable enough to fire.
package planner

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/exactly-bot/liquidator/internal/account"
	"github.com/exactly-bot/liquidator/internal/fixedpoint"
	"github.com/exactly-bot/liquidator/internal/tokenpair"
)

// Repay accumulates the market-selection result PickMarkets scans for:
// the single collateral market to seize and single debt market to repay
// that maximize, respectively, adjusted collateral value and adjusted
// debt value, plus the account-wide collateral/debt totals the
// close-factor and profitability formulas need.
type Repay struct {
	Price                   *big.Int
	Decimals                uint8
	MarketToSeize           *common.Address
	MarketToSeizeValue      *big.Int
	MarketToRepay           *common.Address
	MarketToLiquidateDebt   *big.Int
	TotalValueCollateral    *big.Int
	TotalAdjustedCollateral *big.Int
	TotalValueDebt          *big.Int
	TotalAdjustedDebt       *big.Int
	RepayAssetAddress       common.Address
	CollateralAssetAddress  common.Address
}

func newRepay() *Repay {
	return &Repay{
		Price:                   big.NewInt(0),
		MarketToSeizeValue:      big.NewInt(0),
		MarketToLiquidateDebt:   big.NewInt(0),
		TotalValueCollateral:    big.NewInt(0),
		TotalAdjustedCollateral: big.NewInt(0),
		TotalValueDebt:          big.NewInt(0),
		TotalAdjustedDebt:       big.NewInt(0),
	}
}

// LiquidationIncentive is the auditor-wide split of the seize bonus between
// the liquidator and the protocol's lenders, both WAD-scaled fractions.
type LiquidationIncentive struct {
	Liquidator *big.Int
	Lenders    *big.Int
}

// PickMarkets scans every market an account participates in and selects
// the collateral market with the highest adjusted value to seize and the
// debt market with the highest adjusted value to repay, accumulating the
// account-wide totals used by the close-factor and profitability
// calculations. Ties (>=) favor the later market in iteration order.
func PickMarkets(markets []account.MarketAccount, prices map[common.Address]*big.Int, timestamp int64, assets map[common.Address]common.Address) (*Repay, error) {
	repay := newRepay()

	for _, m := range markets {
		price, ok := prices[m.Market]
		if !ok {
			continue
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(m.Decimals)), nil)

		if m.IsCollateral {
			collateralValue, err := fixedpoint.MulDivDown(m.FloatingDepositAssets, price, scale)
			if err != nil {
				return nil, err
			}
			adjustedCollateral, err := fixedpoint.MulWadDown(collateralValue, m.AdjustFactor)
			if err != nil {
				return nil, err
			}

			repay.TotalValueCollateral.Add(repay.TotalValueCollateral, collateralValue)
			repay.TotalAdjustedCollateral.Add(repay.TotalAdjustedCollateral, adjustedCollateral)

			if adjustedCollateral.Cmp(repay.MarketToSeizeValue) >= 0 {
				repay.MarketToSeizeValue = adjustedCollateral
				market := m.Market
				repay.MarketToSeize = &market
				repay.CollateralAssetAddress = assets[m.Market]
			}
		}

		marketDebtAssets := big.NewInt(0)
		for _, fp := range m.FixedBorrowPositions {
			borrowed := new(big.Int).Add(fp.Principal, fp.Fee)
			marketDebtAssets.Add(marketDebtAssets, borrowed)
			if fp.Maturity < timestamp {
				overdue := new(big.Int).Mul(big.NewInt(timestamp-fp.Maturity), m.PenaltyRate)
				penalty, err := fixedpoint.MulWadDown(borrowed, overdue)
				if err != nil {
					return nil, err
				}
				marketDebtAssets.Add(marketDebtAssets, penalty)
			}
		}
		marketDebtAssets.Add(marketDebtAssets, m.FloatingBorrowAssets)

		marketDebtValue, err := fixedpoint.MulDivUp(marketDebtAssets, price, scale)
		if err != nil {
			return nil, err
		}
		adjustedDebt, err := fixedpoint.DivWadUp(marketDebtValue, m.AdjustFactor)
		if err != nil {
			return nil, err
		}

		repay.TotalValueDebt.Add(repay.TotalValueDebt, marketDebtValue)
		repay.TotalAdjustedDebt.Add(repay.TotalAdjustedDebt, adjustedDebt)

		if adjustedDebt.Cmp(repay.MarketToLiquidateDebt) >= 0 {
			repay.MarketToLiquidateDebt = adjustedDebt
			market := m.Market
			repay.MarketToRepay = &market
			repay.Price = price
			repay.Decimals = m.Decimals
			repay.RepayAssetAddress = assets[m.Market]
		}
	}

	return repay, nil
}

// CalculateCloseFactor derives the fraction of total debt that may be
// repaid in one liquidation call so that, after seizing proportionally,
// the account's health factor lands at the 1.25 target.
func CalculateCloseFactor(repay *Repay, incentive *LiquidationIncentive) (*big.Int, error) {
	targetHealth := big.NewInt(0).Mul(big.NewInt(125), big.NewInt(1e16)) // 1.25 WAD

	adjustFactorNum, err := fixedpoint.MulWadDown(repay.TotalAdjustedCollateral, repay.TotalValueDebt)
	if err != nil {
		return nil, err
	}
	adjustFactorDen, err := fixedpoint.MulWadUp(repay.TotalAdjustedDebt, repay.TotalValueCollateral)
	if err != nil {
		return nil, err
	}
	adjustFactor, err := fixedpoint.DivWadUp(adjustFactorNum, adjustFactorDen)
	if err != nil {
		return nil, err
	}

	hf, err := fixedpoint.DivWadUp(repay.TotalAdjustedCollateral, repay.TotalAdjustedDebt)
	if err != nil {
		return nil, err
	}
	numerator := new(big.Int).Sub(targetHealth, hf)

	split := new(big.Int).Add(fixedpoint.WAD, incentive.Liquidator)
	split.Add(split, incentive.Lenders)
	crossTerm, err := fixedpoint.MulWadDown(incentive.Liquidator, incentive.Lenders)
	if err != nil {
		return nil, err
	}
	split.Add(split, crossTerm)

	scaledAdjustFactor, err := fixedpoint.MulWadDown(adjustFactor, split)
	if err != nil {
		return nil, err
	}
	denominator := new(big.Int).Sub(targetHealth, scaledAdjustFactor)

	return fixedpoint.DivWadUp(numerator, denominator)
}

// maxU256OverWad is floor((2^256-1) / 1e18): at or above it,
// MaxRepayAssets treats maxLiquidatorAssets as effectively unbounded.
var maxU256OverWad, _ = new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457", 10)

// uint256Max is 2^256-1, the "no budget cap" sentinel IsProfitable passes
// when the liquidator's own balance should never bind.
var uint256Max, _ = new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)

// MaxRepayAssets returns the largest repay amount (in the debt asset's
// native units) that respects the close-factor cap, the collateral-seize
// cap, the caller's own asset budget, and the account's remaining debt.
func MaxRepayAssets(repay *Repay, incentive *LiquidationIncentive, maxLiquidatorAssets *big.Int) (*big.Int, error) {
	closeFactor, err := CalculateCloseFactor(repay, incentive)
	if err != nil {
		return nil, err
	}
	cappedCloseFactor := closeFactor
	if cappedCloseFactor.Cmp(fixedpoint.WAD) > 0 {
		cappedCloseFactor = fixedpoint.WAD
	}

	debtCap, err := fixedpoint.MulWadUp(repay.TotalValueDebt, cappedCloseFactor)
	if err != nil {
		return nil, err
	}

	seizeSplit := new(big.Int).Add(fixedpoint.WAD, incentive.Liquidator)
	seizeSplit.Add(seizeSplit, incentive.Lenders)
	seizeCap, err := fixedpoint.DivWadUp(repay.MarketToSeizeValue, seizeSplit)
	if err != nil {
		return nil, err
	}

	valueCap := debtCap
	if seizeCap.Cmp(valueCap) < 0 {
		valueCap = seizeCap
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(repay.Decimals)), nil)
	assetCap, err := fixedpoint.MulDivUp(valueCap, scale, repay.Price)
	if err != nil {
		return nil, err
	}

	var budgetCap *big.Int
	if maxLiquidatorAssets.Cmp(maxU256OverWad) < 0 {
		budgetCap, err = fixedpoint.DivWadDown(maxLiquidatorAssets, new(big.Int).Add(fixedpoint.WAD, incentive.Lenders))
		if err != nil {
			return nil, err
		}
	} else {
		budgetCap = maxLiquidatorAssets
	}

	result := assetCap
	if budgetCap.Cmp(result) < 0 {
		result = budgetCap
	}
	if repay.MarketToLiquidateDebt.Cmp(result) < 0 {
		result = repay.MarketToLiquidateDebt
	}
	return result, nil
}

// maxProfit returns the WAD-scaled USD value of the seize bonus earned by
// repaying maxRepay.
func maxProfit(repay *Repay, maxRepay *big.Int, incentive *LiquidationIncentive) (*big.Int, error) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(repay.Decimals)), nil)
	repayValue, err := fixedpoint.MulDivUp(maxRepay, repay.Price, scale)
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Add(incentive.Liquidator, incentive.Lenders)
	return fixedpoint.MulWadDown(repayValue, bonus)
}

// maxCost returns the WAD-scaled USD cost of firing the liquidation: the
// lenders' cut paid out of the repay, the flash-swap fee, and the gas
// cost converted to USD via ethPrice.
func maxCost(repay *Repay, maxRepay *big.Int, incentive *LiquidationIncentive, swapFeePPM, gasPrice, gasCost, ethPrice *big.Int) (*big.Int, error) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(repay.Decimals)), nil)
	repayValue, err := fixedpoint.MulDivDown(maxRepay, repay.Price, scale)
	if err != nil {
		return nil, err
	}

	lendersCost, err := fixedpoint.MulWadDown(repayValue, incentive.Lenders)
	if err != nil {
		return nil, err
	}

	// swap fee is expressed in parts-per-million; scaling to WAD (1e6 ->
	// 1e18) needs a further *1e12.
	swapFeeWad := new(big.Int).Mul(swapFeePPM, big.NewInt(1e12))
	swapCost, err := fixedpoint.MulWadDown(repayValue, swapFeeWad)
	if err != nil {
		return nil, err
	}

	gasWei := new(big.Int).Mul(gasPrice, gasCost)
	gasCostUSD, err := fixedpoint.MulWadDown(gasWei, ethPrice)
	if err != nil {
		return nil, err
	}

	total := new(big.Int).Add(lendersCost, swapCost)
	total.Add(total, gasCostUSD)
	return total, nil
}

// profitabilityThreshold is the minimum WAD-scaled net profit
// (WAD / 1e16 = 1e-16 in relative terms) below which a liquidation is
// considered not worth firing even if nominally profitable.
var profitabilityThreshold = new(big.Int).Div(fixedpoint.WAD, big.NewInt(1e16))

// IsProfitable computes the maximum repay amount, the flash-swap funding
// pair, and whether firing the liquidation clears the profitability
// threshold. gasPrice is the most recently
// observed network gas price; ethPrice is WETH's resolved USD price.
func IsProfitable(repay *Repay, incentive *LiquidationIncentive, gasPrice, ethPrice *big.Int, catalog *tokenpair.Catalog) (profitable bool, maxRepay *big.Int, pool common.Address, fee uint32, err error) {
	baseRepay, err := MaxRepayAssets(repay, incentive, uint256Max) // effectively unbounded budget
	if err != nil {
		return false, nil, common.Address{}, 0, err
	}

	buffered, err := fixedpoint.MulWadDown(baseRepay, new(big.Int).Add(fixedpoint.WAD, big.NewInt(1e14)))
	if err != nil {
		return false, nil, common.Address{}, 0, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(repay.Decimals)), nil)
	tail, err := fixedpoint.MulDivUp(fixedpoint.WAD, scale, repay.Price)
	if err != nil {
		return false, nil, common.Address{}, 0, err
	}
	maxRepay = new(big.Int).Add(buffered, tail)

	pool, fee = GetFlashPair(repay, catalog)

	profit, err := maxProfit(repay, maxRepay, incentive)
	if err != nil {
		return false, nil, common.Address{}, 0, err
	}
	cost, err := maxCost(repay, maxRepay, incentive, big.NewInt(int64(fee)), gasPrice, big.NewInt(1500), ethPrice)
	if err != nil {
		return false, nil, common.Address{}, 0, err
	}

	net := new(big.Int).Sub(profit, cost)
	profitable = profit.Cmp(cost) > 0 && net.Cmp(profitabilityThreshold) > 0
	return profitable, maxRepay, pool, fee, nil
}

// GetFlashPair picks the token to flash-borrow from and the fee tier of
// the pool to borrow it through. When the collateral and repay assets
// differ and the catalog has a pool for that pair, the collateral is
// borrowed through the pair's lowest fee tier; otherwise every other known
// token is scanned for the lowest-fee pool paired with the collateral.
// With no such pool it returns the zero address and the maximum uint32 fee.
func GetFlashPair(repay *Repay, catalog *tokenpair.Catalog) (common.Address, uint32) {
	collateral := repay.CollateralAssetAddress
	repayAsset := repay.RepayAssetAddress

	if collateral != repayAsset {
		if fee, ok := catalog.LowestFee(collateral, repayAsset); ok {
			return collateral, fee
		}
	}

	lowestFee := ^uint32(0)
	var pairContract common.Address
	for token := range catalog.Tokens() {
		if token == collateral {
			continue
		}
		if fee, ok := catalog.LowestFee(token, collateral); ok && fee < lowestFee {
			lowestFee = fee
			pairContract = token
		}
	}
	return pairContract, lowestFee
}
