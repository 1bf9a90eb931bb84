package engine

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exactly-bot/liquidator/internal/events"
	"github.com/exactly-bot/liquidator/internal/fixedpoint"
)

var (
	usdcMarket = common.HexToAddress("0xa1")
	wethMarket = common.HexToAddress("0xa2")
	usdcFeed   = common.HexToAddress("0xf1")
	wethFeed   = common.HexToAddress("0xf2")
	alice      = common.HexToAddress("0xb1")
)

func listMarket(t *testing.T, s *Store, addr common.Address, decimals uint8) {
	t.Helper()
	require.NoError(t, s.Apply(events.MarketListed{Market: addr, Decimals: decimals}, gethtypes.Log{}))
}

func setPrice(t *testing.T, s *Store, marketAddr, feed common.Address, price *big.Int) {
	t.Helper()
	require.NoError(t, s.Apply(events.PriceFeedSet{Market: marketAddr, PriceFeed: feed}, gethtypes.Log{}))
	require.NoError(t, s.Apply(events.AnswerUpdated{PriceFeed: feed, Current: price, RoundId: big.NewInt(1), UpdatedAt: big.NewInt(1)}, gethtypes.Log{}))
}

func TestApplyUnlistedMarketReturnsDecodeError(t *testing.T) {
	s := NewStore(nil, nil)
	err := s.Apply(events.Deposit{Market: usdcMarket, Owner: alice, Assets: big.NewInt(1), Shares: big.NewInt(1)}, gethtypes.Log{})
	require.Error(t, err)
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestApplyDepositBorrowTracksSharesAndAssets(t *testing.T) {
	s := NewStore(nil, nil)
	listMarket(t, s, usdcMarket, 6)

	require.NoError(t, s.Apply(events.Deposit{
		Market: usdcMarket, Owner: alice,
		Assets: big.NewInt(1_000_000), Shares: big.NewInt(1_000_000),
	}, gethtypes.Log{}))
	require.NoError(t, s.Apply(events.Borrow{
		Market: usdcMarket, Borrower: alice,
		Assets: big.NewInt(500_000), Shares: big.NewInt(500_000),
	}, gethtypes.Log{}))

	setPrice(t, s, usdcMarket, usdcFeed, fixedpoint.WAD)
	require.NoError(t, s.Apply(events.AdjustFactorSet{Market: usdcMarket, AdjustFactor: fixedpoint.WAD}, gethtypes.Log{}))
	require.NoError(t, s.Apply(events.MarketEntered{Market: usdcMarket, Account: alice}, gethtypes.Log{}))

	candidates, err := s.Candidates(1_700_000_000)
	require.NoError(t, err)
	assert.Empty(t, candidates, "collateral comfortably exceeds debt, account should not be a candidate")
}

func TestCandidatesFlagsUndercollateralizedAccount(t *testing.T) {
	s := NewStore(nil, nil)
	listMarket(t, s, usdcMarket, 6)
	listMarket(t, s, wethMarket, 18)

	// Alice deposits 100 USDC as collateral (adjust factor 0.8) and borrows
	// 200 USDC worth from the WETH market (no collateral there), putting her
	// well under the 1 WAD health-factor threshold.
	require.NoError(t, s.Apply(events.Deposit{
		Market: usdcMarket, Owner: alice,
		Assets: big.NewInt(100_000_000), Shares: big.NewInt(100_000_000),
	}, gethtypes.Log{}))
	require.NoError(t, s.Apply(events.MarketEntered{Market: usdcMarket, Account: alice}, gethtypes.Log{}))
	adjustFactor := new(big.Int).Mul(new(big.Int).Div(fixedpoint.WAD, big.NewInt(10)), big.NewInt(8)) // 0.8 WAD
	require.NoError(t, s.Apply(events.AdjustFactorSet{
		Market: usdcMarket, AdjustFactor: adjustFactor,
	}, gethtypes.Log{}))

	borrowed := new(big.Int).Mul(big.NewInt(200), big.NewInt(1e18))
	require.NoError(t, s.Apply(events.Borrow{
		Market: wethMarket, Borrower: alice,
		Assets: borrowed, Shares: borrowed,
	}, gethtypes.Log{}))

	setPrice(t, s, usdcMarket, usdcFeed, fixedpoint.WAD)
	setPrice(t, s, wethMarket, wethFeed, fixedpoint.WAD)

	candidates, err := s.Candidates(1_700_000_000)
	require.NoError(t, err)
	require.Contains(t, candidates, alice)
	assert.True(t, candidates[alice].Repay.TotalAdjustedDebt.Sign() > 0)
}

func TestApplyLiquidateReducesDebtAndCollateral(t *testing.T) {
	s := NewStore(nil, nil)
	listMarket(t, s, usdcMarket, 6)
	listMarket(t, s, wethMarket, 18)

	require.NoError(t, s.Apply(events.Deposit{
		Market: wethMarket, Owner: alice,
		Assets: big.NewInt(10_000_000_000), Shares: big.NewInt(10_000_000_000),
	}, gethtypes.Log{}))
	require.NoError(t, s.Apply(events.Borrow{
		Market: usdcMarket, Borrower: alice,
		Assets: big.NewInt(1_000_000_000), Shares: big.NewInt(1_000_000_000),
	}, gethtypes.Log{}))

	require.NoError(t, s.Apply(events.Liquidate{
		Market: usdcMarket, Borrower: alice,
		Assets:       big.NewInt(400_000_000),
		SeizeMarket:  wethMarket,
		SeizedAssets: big.NewInt(4_000_000_000),
	}, gethtypes.Log{}))

	s.mu.Lock()
	debtMarket := s.markets[usdcMarket]
	collateralMarket := s.markets[wethMarket]
	s.mu.Unlock()

	assert.Equal(t, big.NewInt(600_000_000), debtMarket.FloatingDebt)
	assert.Equal(t, big.NewInt(6_000_000_000), collateralMarket.FloatingAssets)
}

func TestApplyWithdrawFloorsAtZero(t *testing.T) {
	s := NewStore(nil, nil)
	listMarket(t, s, usdcMarket, 6)
	require.NoError(t, s.Apply(events.Deposit{
		Market: usdcMarket, Owner: alice,
		Assets: big.NewInt(100), Shares: big.NewInt(100),
	}, gethtypes.Log{}))
	require.NoError(t, s.Apply(events.Withdraw{
		Market: usdcMarket, Owner: alice,
		Assets: big.NewInt(1_000), Shares: big.NewInt(1_000),
	}, gethtypes.Log{}))

	s.mu.Lock()
	m := s.markets[usdcMarket]
	s.mu.Unlock()
	assert.Equal(t, big.NewInt(0), m.FloatingAssets, "subFloor must never drive a tracked total negative")
}

func TestPriceResolvesOnlyAfterFeedAndAnswerSeen(t *testing.T) {
	s := NewStore(nil, nil)
	listMarket(t, s, usdcMarket, 6)

	_, ok := s.Price(usdcMarket)
	assert.False(t, ok, "no feed assigned yet")

	require.NoError(t, s.Apply(events.PriceFeedSet{Market: usdcMarket, PriceFeed: usdcFeed}, gethtypes.Log{}))
	_, ok = s.Price(usdcMarket)
	assert.False(t, ok, "feed assigned but no answer observed yet")

	require.NoError(t, s.Apply(events.AnswerUpdated{PriceFeed: usdcFeed, Current: fixedpoint.WAD, RoundId: big.NewInt(1), UpdatedAt: big.NewInt(1)}, gethtypes.Log{}))
	price, ok := s.Price(usdcMarket)
	require.True(t, ok)
	assert.Equal(t, fixedpoint.WAD, price)
}

func TestIncentiveReflectsLastLiquidationIncentiveSet(t *testing.T) {
	s := NewStore(nil, nil)
	require.NoError(t, s.Apply(events.LiquidationIncentiveSet{
		Liquidator: big.NewInt(100_000_000_000_000_000),
		Lenders:    big.NewInt(0),
	}, gethtypes.Log{}))
	incentive := s.Incentive()
	assert.Equal(t, big.NewInt(100_000_000_000_000_000), incentive.Liquidator)
}

func TestRestoreUndoesMutationsSinceSnapshot(t *testing.T) {
	s := NewStore(nil, nil)
	listMarket(t, s, usdcMarket, 6)
	require.NoError(t, s.Apply(events.Deposit{
		Market: usdcMarket, Owner: alice,
		Assets: big.NewInt(1_000_000), Shares: big.NewInt(1_000_000),
	}, gethtypes.Log{}))

	snap := s.Snapshot()

	require.NoError(t, s.Apply(events.Borrow{
		Market: usdcMarket, Borrower: alice,
		Assets: big.NewInt(500_000), Shares: big.NewInt(500_000),
	}, gethtypes.Log{}))
	s.mu.Lock()
	borrowed := new(big.Int).Set(s.markets[usdcMarket].FloatingDebt)
	s.mu.Unlock()
	assert.Equal(t, big.NewInt(500_000), borrowed)

	s.Restore(snap)

	s.mu.Lock()
	restored := new(big.Int).Set(s.markets[usdcMarket].FloatingDebt)
	deposited := new(big.Int).Set(s.markets[usdcMarket].FloatingAssets)
	s.mu.Unlock()
	assert.Equal(t, big.NewInt(0), restored, "restore must undo the post-snapshot borrow")
	assert.Equal(t, big.NewInt(1_000_000), deposited)
}

// fakeResolver serves fixed rate-curve params for any model address and
// records which models were asked for.
type fakeResolver struct {
	params RateModelParams
	models []common.Address
}

func (f *fakeResolver) Asset(ctx context.Context, market common.Address) (common.Address, error) {
	return common.Address{}, nil
}

func (f *fakeResolver) RateModel(ctx context.Context, model common.Address) (RateModelParams, error) {
	f.models = append(f.models, model)
	return f.params, nil
}

func TestResolvePendingRateModelsFillsCurveParams(t *testing.T) {
	irm := common.HexToAddress("0xc1")
	resolver := &fakeResolver{params: RateModelParams{
		FloatingA:              big.NewInt(2_000_000_000_000_000),
		FloatingB:              big.NewInt(-1_000_000_000_000),
		FloatingMaxUtilization: new(big.Int).Add(fixedpoint.WAD, big.NewInt(1e16)),
	}}
	s := NewStore(resolver, nil)
	listMarket(t, s, usdcMarket, 6)
	require.NoError(t, s.Apply(events.InterestRateModelSet{Market: usdcMarket, InterestRateModel: irm}, gethtypes.Log{}))

	require.NoError(t, s.ResolvePendingRateModels(context.Background()))
	require.Equal(t, []common.Address{irm}, resolver.models)

	s.mu.Lock()
	m := s.markets[usdcMarket]
	s.mu.Unlock()
	assert.Equal(t, resolver.params.FloatingA, m.FloatingA)
	assert.Equal(t, resolver.params.FloatingB, m.FloatingB)
	assert.Equal(t, resolver.params.FloatingMaxUtilization, m.FloatingMaxUtilization)

	// already-resolved curves are not re-fetched on the next pass.
	require.NoError(t, s.ResolvePendingRateModels(context.Background()))
	assert.Len(t, resolver.models, 1)
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	s := NewStore(nil, nil)
	listMarket(t, s, usdcMarket, 6)
	require.NoError(t, s.Apply(events.Deposit{
		Market: usdcMarket, Owner: alice,
		Assets: big.NewInt(1_000_000), Shares: big.NewInt(1_000_000),
	}, gethtypes.Log{}))

	snap := s.Snapshot()

	require.NoError(t, s.Apply(events.Deposit{
		Market: usdcMarket, Owner: alice,
		Assets: big.NewInt(1_000_000), Shares: big.NewInt(1_000_000),
	}, gethtypes.Log{}))

	assert.Equal(t, big.NewInt(1_000_000), snap.markets[usdcMarket].FloatingAssets,
		"snapshot must be a deep copy, unaffected by mutation of the live market's big.Int fields")
}
