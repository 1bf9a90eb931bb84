package dispatch

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/exactly-bot/liquidator/internal/account"
	"github.com/exactly-bot/liquidator/internal/fixedpoint"
	"github.com/exactly-bot/liquidator/internal/planner"
	"github.com/exactly-bot/liquidator/internal/tokenpair"
	"github.com/exactly-bot/liquidator/pkg/contractclient"
	"github.com/exactly-bot/liquidator/pkg/txlistener"
	txtypes "github.com/exactly-bot/liquidator/pkg/types"
)

// ChainEvaluator re-derives a candidate's liquidation plan from live
// previewer/auditor reads: the account snapshot, its adjusted liquidity,
// the incentive split, and every market's price. Each read is issued as
// its own eth_call through contractclient.Client.
type ChainEvaluator struct {
	previewer  *contractclient.Client
	auditor    *contractclient.Client
	catalog    *tokenpair.Catalog
	marketWETH common.Address
}

// NewChainEvaluator builds an Evaluator backed by the given bound
// previewer and auditor contracts.
func NewChainEvaluator(previewer, auditor *contractclient.Client, catalog *tokenpair.Catalog, marketWETH common.Address) *ChainEvaluator {
	return &ChainEvaluator{previewer: previewer, auditor: auditor, catalog: catalog, marketWETH: marketWETH}
}

func (e *ChainEvaluator) Evaluate(
	ctx context.Context,
	accountAddr common.Address,
	gasPrice *big.Int,
	markets []common.Address,
	priceFeeds, assets map[common.Address]common.Address,
) (*Evaluation, error) {
	marketAccounts, adjustedCollateral, adjustedDebt, err := e.readAccount(accountAddr)
	if err != nil {
		return nil, err
	}
	if adjustedDebt.Sign() == 0 {
		return &Evaluation{Skip: true}, nil
	}

	hf, err := fixedpoint.DivWadDown(adjustedCollateral, adjustedDebt)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: health factor: %w", accountAddr.Hex(), err)
	}
	if hf.Cmp(fixedpoint.WAD) > 0 {
		return &Evaluation{Skip: true}, nil
	}

	incentive, err := e.readLiquidationIncentive()
	if err != nil {
		return nil, err
	}

	prices := make(map[common.Address]*big.Int, len(markets))
	for _, market := range markets {
		feed, ok := priceFeeds[market]
		if !ok {
			continue
		}
		price, err := e.readAssetPrice(feed)
		if err != nil {
			return nil, err
		}
		prices[market] = price
	}

	repay, err := planner.PickMarkets(marketAccounts, prices, time.Now().Unix(), assets)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: pick markets: %w", accountAddr.Hex(), err)
	}

	wethPrice, ok := prices[e.marketWETH]
	if !ok {
		return nil, fmt.Errorf("evaluate %s: no price quoted for weth market %s", accountAddr.Hex(), e.marketWETH.Hex())
	}

	profitable, maxRepay, pool, fee, err := planner.IsProfitable(repay, incentive, gasPrice, wethPrice, e.catalog)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: is profitable: %w", accountAddr.Hex(), err)
	}

	var marketToRepay, marketToSeize common.Address
	if repay.MarketToRepay != nil {
		marketToRepay = *repay.MarketToRepay
	}
	if repay.MarketToSeize != nil {
		marketToSeize = *repay.MarketToSeize
	}

	return &Evaluation{
		Profitable:    profitable,
		MaxRepay:      maxRepay,
		Pool:          pool,
		Fee:           fee,
		MarketToRepay: marketToRepay,
		MarketToSeize: marketToSeize,
	}, nil
}

func (e *ChainEvaluator) readAccount(addr common.Address) ([]account.MarketAccount, *big.Int, *big.Int, error) {
	raw, err := e.previewer.Call(nil, "exactly", addr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("previewer.exactly(%s): %w", addr.Hex(), err)
	}
	if len(raw) != 1 {
		return nil, nil, nil, fmt.Errorf("previewer.exactly(%s): unexpected result length %d", addr.Hex(), len(raw))
	}
	marketAccounts, err := decodeMarketAccounts(raw[0])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("previewer.exactly(%s): %w", addr.Hex(), err)
	}

	liquidity, err := e.auditor.Call(nil, "accountLiquidity", addr, common.Address{}, big.NewInt(0))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("auditor.accountLiquidity(%s): %w", addr.Hex(), err)
	}
	if len(liquidity) != 2 {
		return nil, nil, nil, fmt.Errorf("auditor.accountLiquidity(%s): unexpected result length %d", addr.Hex(), len(liquidity))
	}
	adjustedCollateral, ok := liquidity[0].(*big.Int)
	if !ok {
		return nil, nil, nil, fmt.Errorf("accountLiquidity(%s): unexpected collateral type %T", addr.Hex(), liquidity[0])
	}
	adjustedDebt, ok := liquidity[1].(*big.Int)
	if !ok {
		return nil, nil, nil, fmt.Errorf("accountLiquidity(%s): unexpected debt type %T", addr.Hex(), liquidity[1])
	}

	return marketAccounts, adjustedCollateral, adjustedDebt, nil
}

func (e *ChainEvaluator) readLiquidationIncentive() (*planner.LiquidationIncentive, error) {
	raw, err := e.auditor.Call(nil, "liquidationIncentive")
	if err != nil {
		return nil, fmt.Errorf("auditor.liquidationIncentive: %w", err)
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("liquidationIncentive: unexpected result length %d", len(raw))
	}
	liquidator, ok := raw[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("liquidationIncentive: unexpected liquidator type %T", raw[0])
	}
	lenders, ok := raw[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("liquidationIncentive: unexpected lenders type %T", raw[1])
	}
	return &planner.LiquidationIncentive{Liquidator: liquidator, Lenders: lenders}, nil
}

func (e *ChainEvaluator) readAssetPrice(feed common.Address) (*big.Int, error) {
	raw, err := e.auditor.Call(nil, "assetPrice", feed)
	if err != nil {
		return nil, fmt.Errorf("auditor.assetPrice(%s): %w", feed.Hex(), err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("assetPrice(%s): unexpected result length %d", feed.Hex(), len(raw))
	}
	price, ok := raw[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("assetPrice(%s): unexpected type %T", feed.Hex(), raw[0])
	}
	return price, nil
}

// decodeMarketAccounts walks the reflect-decoded array-of-tuple value
// abi.Unpack produces for previewer.exactly's return type. The ABI's
// tuple component order is expected to match account.MarketAccount's
// field declaration order: market, isCollateral, decimals, adjustFactor,
// penaltyRate, floatingDepositAssets, floatingBorrowAssets, and an
// optional trailing fixedBorrowPositions array.
func decodeMarketAccounts(raw any) ([]account.MarketAccount, error) {
	slice := reflect.ValueOf(raw)
	if slice.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected an array of market accounts, got %T", raw)
	}

	out := make([]account.MarketAccount, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		tuple := indirect(slice.Index(i))
		if tuple.Kind() != reflect.Struct || tuple.NumField() < 7 {
			return nil, fmt.Errorf("unexpected market account shape at index %d", i)
		}

		ma := account.MarketAccount{
			Market:                tuple.Field(0).Interface().(common.Address),
			IsCollateral:          tuple.Field(1).Interface().(bool),
			Decimals:              tuple.Field(2).Interface().(uint8),
			AdjustFactor:          tuple.Field(3).Interface().(*big.Int),
			PenaltyRate:           tuple.Field(4).Interface().(*big.Int),
			FloatingDepositAssets: tuple.Field(5).Interface().(*big.Int),
			FloatingBorrowAssets:  tuple.Field(6).Interface().(*big.Int),
		}
		if tuple.NumField() > 7 {
			ma.FixedBorrowPositions = decodeFixedBorrowPositions(tuple.Field(7))
		}
		out[i] = ma
	}
	return out, nil
}

func decodeFixedBorrowPositions(v reflect.Value) []account.FixedBorrowPosition {
	v = indirect(v)
	if v.Kind() != reflect.Slice {
		return nil
	}

	out := make([]account.FixedBorrowPosition, v.Len())
	for i := 0; i < v.Len(); i++ {
		tuple := indirect(v.Index(i))
		maturity := tuple.Field(0).Interface().(*big.Int)
		out[i] = account.FixedBorrowPosition{
			Maturity:  maturity.Int64(),
			Principal: tuple.Field(1).Interface().(*big.Int),
			Fee:       tuple.Field(2).Interface().(*big.Int),
		}
	}
	return out
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v
}

// ContractSubmitter sends the liquidation transaction via the liquidator
// contract's liquidate(marketToRepay, marketToSeize, borrower, maxRepay,
// pool, fee) method, gas-capped at a fixed 6_666_666, and waits for one
// confirmation via txlistener.
type ContractSubmitter struct {
	liquidator *contractclient.Client
	listener   *txlistener.Listener
	from       common.Address
	key        *ecdsa.PrivateKey
	gasLimit   uint64
}

// NewContractSubmitter builds a Submitter that sends liquidate transactions
// from the given signer through the bound liquidator contract client.
func NewContractSubmitter(liquidator *contractclient.Client, listener *txlistener.Listener, from common.Address, key *ecdsa.PrivateKey) *ContractSubmitter {
	return &ContractSubmitter{liquidator: liquidator, listener: listener, from: from, key: key, gasLimit: 6_666_666}
}

func (s *ContractSubmitter) Liquidate(
	_ context.Context,
	marketToRepay, marketToSeize, accountAddr common.Address,
	maxRepay *big.Int,
	pool common.Address,
	fee uint32,
) (common.Hash, error) {
	limit := s.gasLimit
	hash, err := s.liquidator.Send(txtypes.Standard, &limit, &s.from, s.key, "liquidate",
		marketToRepay, marketToSeize, accountAddr, maxRepay, pool, fee)
	if err != nil {
		return common.Hash{}, fmt.Errorf("submit liquidation for %s: %w", accountAddr.Hex(), err)
	}
	return hash, nil
}

func (s *ContractSubmitter) WaitForTransaction(hash common.Hash) (*Receipt, error) {
	receipt, err := s.listener.WaitForTransaction(hash)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		TransactionHash: receipt.TransactionHash,
		BlockNumber:     receipt.BlockNumber,
		GasUsed:         receipt.GasUsed,
	}, nil
}
