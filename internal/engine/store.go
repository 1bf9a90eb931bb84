// Store is the indexer.Mirror implementation: the in-memory Market/Account
// state the indexer replays chain logs into, and the source the engine's
// poll loop scans to build each liquidation candidate batch. Mutated only
// by the indexer, read by the planner.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/exactly-bot/liquidator/internal/account"
	"github.com/exactly-bot/liquidator/internal/dispatch"
	"github.com/exactly-bot/liquidator/internal/events"
	"github.com/exactly-bot/liquidator/internal/fixedpoint"
	"github.com/exactly-bot/liquidator/internal/market"
	"github.com/exactly-bot/liquidator/internal/planner"
	"github.com/exactly-bot/liquidator/internal/priceresolve"
)

// fixedBorrow is one account's outstanding fixed-rate borrow at a single
// maturity, tracked at assets-face-value rather than pro-rated, since only
// BorrowAtMaturity/RepayAtMaturity mutate it and the planner only
// needs principal+fee as of "now" for picking the debt market.
type fixedBorrow struct {
	principal *big.Int
	fee       *big.Int
}

// position is one account's state in one market: whether it is enrolled as
// collateral, its floating deposit/borrow shares, and open fixed borrows
// keyed by maturity (unix seconds).
type position struct {
	isCollateral          bool
	floatingDepositShares *big.Int
	floatingBorrowShares  *big.Int
	fixedBorrows          map[int64]*fixedBorrow
}

func newPosition() *position {
	return &position{
		floatingDepositShares: big.NewInt(0),
		floatingBorrowShares:  big.NewInt(0),
		fixedBorrows:          make(map[int64]*fixedBorrow),
	}
}

// RateModelParams are the floating rate curve constants read off an
// InterestRateModel contract: rate(u) = a/(maxUtilization - u) + b.
type RateModelParams struct {
	FloatingA              *big.Int
	FloatingB              *big.Int
	FloatingMaxUtilization *big.Int
}

// MarketResolver supplies the handful of per-market constants no event
// carries: the underlying asset address and the interest rate model's
// curve parameters, each read once via a direct ContractClient.Call
// rather than waiting on a log (MarketListed and InterestRateModelSet
// only name the contracts, never their state).
type MarketResolver interface {
	Asset(ctx context.Context, market common.Address) (common.Address, error)
	RateModel(ctx context.Context, model common.Address) (RateModelParams, error)
}

// PriceReader re-fetches a leaf feed's latest answer directly from chain,
// used both for the UpdatePrice sentinel (a recognized rebase source with
// no usable event payload) and to backfill any feed the mirror has not yet
// seen an AnswerUpdated/NewTransmission for.
type PriceReader interface {
	AssetPrice(ctx context.Context, feed common.Address) (*big.Int, error)
}

// Store implements indexer.Mirror over an in-memory Market/Account mirror.
// All mutation happens through Apply, called only by the indexer in strict
// log order; reads (Candidates, market/account accessors) may run
// concurrently with the next Apply, so every access is guarded by mu.
type Store struct {
	mu sync.Mutex

	markets  map[common.Address]*market.Market
	feeds    map[common.Address]common.Address // market -> price feed
	controls map[common.Address]*priceresolve.Controller
	leaves   map[common.Address]*big.Int // feed -> latest raw answer

	positions map[common.Address]map[common.Address]*position // account -> market -> position

	incentive planner.LiquidationIncentive

	resolver MarketResolver
	reader   PriceReader
}

// NewStore builds an empty mirror. resolver and reader may be nil; when
// nil, asset-address resolution and price backfill are skipped (useful in
// tests that inject known markets/prices directly).
func NewStore(resolver MarketResolver, reader PriceReader) *Store {
	return &Store{
		markets:   make(map[common.Address]*market.Market),
		feeds:     make(map[common.Address]common.Address),
		controls:  make(map[common.Address]*priceresolve.Controller),
		leaves:    make(map[common.Address]*big.Int),
		positions: make(map[common.Address]map[common.Address]*position),
		resolver:  resolver,
		reader:    reader,
	}
}

// Snapshot is a deep copy of the mirror's mutable state, taken by the
// engine after each successful sync so a later-detected re-org can restore
// the mirror to its pre-fork values with Restore instead of trying to
// undo individual Apply calls.
type Snapshot struct {
	markets   map[common.Address]*market.Market
	feeds     map[common.Address]common.Address
	controls  map[common.Address]*priceresolve.Controller
	leaves    map[common.Address]*big.Int
	positions map[common.Address]map[common.Address]*position
	incentive planner.LiquidationIncentive
}

// Snapshot captures a deep copy of the mirror's current state. Every field
// Apply can mutate in place (market/position big.Int fields and fixed pool
// entries) is copied value-for-value; feeds/controls/incentive are only
// ever replaced wholesale by Apply, so a shallow copy of those maps is
// safe to keep alongside the live store.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	markets := make(map[common.Address]*market.Market, len(s.markets))
	for addr, m := range s.markets {
		markets[addr] = copyMarket(m)
	}
	positions := make(map[common.Address]map[common.Address]*position, len(s.positions))
	for acct, byMarket := range s.positions {
		cp := make(map[common.Address]*position, len(byMarket))
		for addr, pos := range byMarket {
			cp[addr] = copyPosition(pos)
		}
		positions[acct] = cp
	}
	feeds := make(map[common.Address]common.Address, len(s.feeds))
	for k, v := range s.feeds {
		feeds[k] = v
	}
	controls := make(map[common.Address]*priceresolve.Controller, len(s.controls))
	for k, v := range s.controls {
		controls[k] = v
	}
	leaves := make(map[common.Address]*big.Int, len(s.leaves))
	for k, v := range s.leaves {
		leaves[k] = new(big.Int).Set(v)
	}

	return &Snapshot{
		markets:   markets,
		feeds:     feeds,
		controls:  controls,
		leaves:    leaves,
		positions: positions,
		incentive: s.incentive,
	}
}

// Restore replaces the mirror's entire state with a previously captured
// Snapshot. Used when the engine detects a re-org: the indexer's
// checkpoint is rewound to the fork point and the mirror is restored to
// the snapshot taken at that same block, so replaying forward from the
// rewound checkpoint starts from true pre-fork state rather than
// double-applying the orphaned blocks' mutations.
func (s *Store) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets = snap.markets
	s.feeds = snap.feeds
	s.controls = snap.controls
	s.leaves = snap.leaves
	s.positions = snap.positions
	s.incentive = snap.incentive
}

func copyMarket(m *market.Market) *market.Market {
	cp := *m
	cp.Price = new(big.Int).Set(m.Price)
	cp.PenaltyRate = new(big.Int).Set(m.PenaltyRate)
	cp.AdjustFactor = new(big.Int).Set(m.AdjustFactor)
	cp.FloatingAssets = new(big.Int).Set(m.FloatingAssets)
	cp.FloatingDepositShares = new(big.Int).Set(m.FloatingDepositShares)
	cp.FloatingDebt = new(big.Int).Set(m.FloatingDebt)
	cp.FloatingBorrowShares = new(big.Int).Set(m.FloatingBorrowShares)
	cp.FloatingUtilization = new(big.Int).Set(m.FloatingUtilization)
	cp.LastFloatingDebtUpdate = new(big.Int).Set(m.LastFloatingDebtUpdate)
	cp.SmartPoolFeeRate = new(big.Int).Set(m.SmartPoolFeeRate)
	cp.EarningsAccumulator = new(big.Int).Set(m.EarningsAccumulator)
	cp.LastAccumulatorAccrual = new(big.Int).Set(m.LastAccumulatorAccrual)
	cp.EarningsAccumulatorSmoothFactor = new(big.Int).Set(m.EarningsAccumulatorSmoothFactor)
	cp.FloatingFullUtilization = new(big.Int).Set(m.FloatingFullUtilization)
	cp.FloatingA = new(big.Int).Set(m.FloatingA)
	cp.FloatingB = new(big.Int).Set(m.FloatingB)
	cp.FloatingMaxUtilization = new(big.Int).Set(m.FloatingMaxUtilization)
	cp.TreasuryFeeRate = new(big.Int).Set(m.TreasuryFeeRate)

	cp.FixedPools = make(map[string]*market.FixedPool, len(m.FixedPools))
	for key, pool := range m.FixedPools {
		cp.FixedPools[key] = &market.FixedPool{
			Borrowed:           new(big.Int).Set(pool.Borrowed),
			Supplied:           new(big.Int).Set(pool.Supplied),
			UnassignedEarnings: new(big.Int).Set(pool.UnassignedEarnings),
			LastAccrual:        new(big.Int).Set(pool.LastAccrual),
		}
	}
	return &cp
}

func copyPosition(pos *position) *position {
	cp := &position{
		isCollateral:          pos.isCollateral,
		floatingDepositShares: new(big.Int).Set(pos.floatingDepositShares),
		floatingBorrowShares:  new(big.Int).Set(pos.floatingBorrowShares),
		fixedBorrows:          make(map[int64]*fixedBorrow, len(pos.fixedBorrows)),
	}
	for maturity, fb := range pos.fixedBorrows {
		cp.fixedBorrows[maturity] = &fixedBorrow{
			principal: new(big.Int).Set(fb.principal),
			fee:       new(big.Int).Set(fb.fee),
		}
	}
	return cp
}

// Apply mutates the mirror for one decoded event, per indexer.Mirror.
func (s *Store) Apply(ev events.Event, log gethtypes.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case events.MarketListed:
		s.markets[e.Market] = &market.Market{
			Address:                         e.Market,
			Decimals:                        e.Decimals,
			Listed:                          true,
			Price:                           big.NewInt(0),
			PenaltyRate:                     big.NewInt(0),
			AdjustFactor:                    big.NewInt(0),
			FloatingAssets:                  big.NewInt(0),
			FloatingDepositShares:           big.NewInt(0),
			FloatingDebt:                    big.NewInt(0),
			FloatingBorrowShares:            big.NewInt(0),
			FloatingUtilization:             big.NewInt(0),
			LastFloatingDebtUpdate:          big.NewInt(0),
			FixedPools:                      make(map[string]*market.FixedPool),
			SmartPoolFeeRate:                big.NewInt(0),
			EarningsAccumulator:             big.NewInt(0),
			LastAccumulatorAccrual:          big.NewInt(0),
			EarningsAccumulatorSmoothFactor: big.NewInt(0),
			FloatingFullUtilization:         big.NewInt(0),
			FloatingA:                       big.NewInt(0),
			FloatingB:                       big.NewInt(0),
			FloatingMaxUtilization:          fixedpoint.WAD,
			TreasuryFeeRate:                 big.NewInt(0),
		}
		return nil

	case events.Deposit:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		pos := s.position(e.Owner, e.Market)
		pos.floatingDepositShares.Add(pos.floatingDepositShares, e.Shares)
		m.FloatingAssets.Add(m.FloatingAssets, e.Assets)
		m.FloatingDepositShares.Add(m.FloatingDepositShares, e.Shares)
		return nil

	case events.Withdraw:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		pos := s.position(e.Owner, e.Market)
		subFloor(pos.floatingDepositShares, e.Shares)
		subFloor(m.FloatingAssets, e.Assets)
		subFloor(m.FloatingDepositShares, e.Shares)
		return nil

	case events.Transfer:
		// Deposit/Withdraw already apply the mint/burn leg of a transfer
		// (the share token's zero-address mint/burn accompanies those
		// events); only a genuine account-to-account transfer needs
		// applying here, or floating deposit shares would be double-counted.
		zero := common.Address{}
		if e.From == zero || e.To == zero {
			return nil
		}
		if _, err := s.market(e.Market); err != nil {
			return err
		}
		from := s.position(e.From, e.Market)
		to := s.position(e.To, e.Market)
		subFloor(from.floatingDepositShares, e.Amount)
		to.floatingDepositShares.Add(to.floatingDepositShares, e.Amount)
		return nil

	case events.Borrow:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		pos := s.position(e.Borrower, e.Market)
		pos.floatingBorrowShares.Add(pos.floatingBorrowShares, e.Shares)
		m.FloatingDebt.Add(m.FloatingDebt, e.Assets)
		m.FloatingBorrowShares.Add(m.FloatingBorrowShares, e.Shares)
		return nil

	case events.Repay:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		pos := s.position(e.Borrower, e.Market)
		subFloor(pos.floatingBorrowShares, e.Shares)
		subFloor(m.FloatingDebt, e.Assets)
		subFloor(m.FloatingBorrowShares, e.Shares)
		return nil

	case events.BorrowAtMaturity:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		pos := s.position(e.Borrower, e.Market)
		fb, ok := pos.fixedBorrows[e.Maturity.Int64()]
		if !ok {
			fb = &fixedBorrow{principal: big.NewInt(0), fee: big.NewInt(0)}
			pos.fixedBorrows[e.Maturity.Int64()] = fb
		}
		fb.principal.Add(fb.principal, e.Assets)
		fb.fee.Add(fb.fee, e.Fee)
		pool := fixedPoolAt(m, e.Maturity.Int64())
		pool.Borrowed.Add(pool.Borrowed, e.Assets)
		return nil

	case events.RepayAtMaturity:
		if _, err := s.market(e.Market); err != nil {
			return err
		}
		pos := s.position(e.Borrower, e.Market)
		if fb, ok := pos.fixedBorrows[e.Maturity.Int64()]; ok {
			reduceFixedBorrow(fb, e.PositionAssets)
			if fb.principal.Sign() <= 0 && fb.fee.Sign() <= 0 {
				delete(pos.fixedBorrows, e.Maturity.Int64())
			}
		}
		return nil

	case events.DepositAtMaturity:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		pool := fixedPoolAt(m, e.Maturity.Int64())
		pool.Supplied.Add(pool.Supplied, e.Assets)
		return nil

	case events.WithdrawAtMaturity:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		pool := fixedPoolAt(m, e.Maturity.Int64())
		subFloor(pool.Supplied, e.Assets)
		return nil

	case events.Liquidate:
		if err := s.applyDebtReduction(e.Market, e.Borrower, e.Assets); err != nil {
			return err
		}
		zero := common.Address{}
		if e.SeizeMarket != zero {
			if err := s.applyCollateralReduction(e.SeizeMarket, e.Borrower, e.SeizedAssets); err != nil {
				return err
			}
		}
		return nil

	case events.Seize:
		return s.applyCollateralReduction(e.Market, e.Borrower, e.Assets)

	case events.MarketEntered:
		pos := s.position(e.Account, e.Market)
		pos.isCollateral = true
		return nil

	case events.MarketExited:
		pos := s.position(e.Account, e.Market)
		pos.isCollateral = false
		return nil

	case events.MarketUpdate:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		m.FloatingDepositShares = new(big.Int).Set(e.FloatingDepositShares)
		m.FloatingAssets = new(big.Int).Set(e.FloatingAssets)
		m.FloatingBorrowShares = new(big.Int).Set(e.FloatingBorrowShares)
		m.FloatingDebt = new(big.Int).Set(e.FloatingDebt)
		m.LastFloatingDebtUpdate = new(big.Int).Set(e.Timestamp)
		m.FloatingUtilization = utilizationOf(m)
		return nil

	case events.FloatingDebtUpdate:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		m.FloatingDebt = new(big.Int).Set(e.FloatingDebt)
		m.FloatingAssets = new(big.Int).Set(e.FloatingAssets)
		m.FloatingUtilization = new(big.Int).Set(e.Utilization)
		m.LastFloatingDebtUpdate = new(big.Int).Set(e.Timestamp)
		return nil

	case events.FixedEarningsUpdate:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		pool := fixedPoolAt(m, e.Maturity.Int64())
		pool.UnassignedEarnings = new(big.Int).Set(e.UnassignedEarnings)
		pool.LastAccrual = new(big.Int).Set(e.Timestamp)
		return nil

	case events.AccumulatorAccrual:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		m.EarningsAccumulator = big.NewInt(0)
		m.LastAccumulatorAccrual = new(big.Int).Set(e.Timestamp)
		return nil

	case events.AdjustFactorSet:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		m.AdjustFactor = new(big.Int).Set(e.AdjustFactor)
		return nil

	case events.PenaltyRateSet:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		m.PenaltyRate = new(big.Int).Set(e.PenaltyRate)
		return nil

	case events.TreasurySet:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		m.TreasuryFeeRate = new(big.Int).Set(e.TreasuryFeeRate)
		return nil

	case events.EarningsAccumulatorSmoothFactorSet:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		m.EarningsAccumulatorSmoothFactor = new(big.Int).Set(e.EarningsAccumulatorSmoothFactor)
		return nil

	case events.MaxFuturePoolsSet:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		m.MaxFuturePools = uint8(e.MaxFuturePools.Uint64())
		return nil

	case events.InterestRateModelSet:
		m, err := s.market(e.Market)
		if err != nil {
			return err
		}
		m.InterestRateModel = e.InterestRateModel
		// The event only names the model contract; zero the curve so
		// ResolvePendingRateModels re-reads its parameters next tick.
		m.FloatingA = big.NewInt(0)
		m.FloatingB = big.NewInt(0)
		m.FloatingMaxUtilization = new(big.Int).Set(fixedpoint.WAD)
		return nil

	case events.LiquidationIncentiveSet:
		s.incentive = planner.LiquidationIncentive{
			Liquidator: new(big.Int).Set(e.Liquidator),
			Lenders:    new(big.Int).Set(e.Lenders),
		}
		return nil

	case events.PriceFeedSet:
		s.feeds[e.Market] = e.PriceFeed
		// The mirror only ever instantiates a leaf controller: wrapper
		// topology (Single/Double) isn't derivable from this event, and the
		// dispatcher's own fire-path re-reads auditor.assetPrice live, which
		// resolves wrappers on-chain regardless of what the mirror assumes
		// here. priceresolve.Single/Double stay exercised by
		// internal/priceresolve's own tests for a caller that does have the
		// topology available.
		s.controls[e.Market] = priceresolve.MainPriceFeed(e.PriceFeed, nil)
		return nil

	case events.AnswerUpdated:
		s.leaves[e.PriceFeed] = new(big.Int).Set(e.Current)
		return nil

	case events.NewTransmission:
		s.leaves[e.PriceFeed] = new(big.Int).Set(e.Answer)
		return nil

	case events.NewRound, events.ReserveFactorSet, events.DampSpeedSet, events.BackupFeeRateSet,
		events.RoleGranted, events.RoleAdminChanged, events.RoleRevoked, events.Paused, events.Unpaused:
		// Recognized but not modeled: none of these affect the collateral/
		// debt quantities the planner reads. NewRound in particular carries
		// no answer payload, only a round-started signal.
		return nil

	default:
		return &DecodeError{Err: fmt.Errorf("unhandled event type %T", ev)}
	}
}

// RefreshPrices re-fetches every known feed's latest price through the
// injected PriceReader, invoked on the UpdatePrice sentinel and safe to
// call opportunistically (e.g. once per poll cycle) to backfill feeds the
// mirror has not yet seen an update event for.
func (s *Store) RefreshPrices(ctx context.Context) error {
	if s.reader == nil {
		return nil
	}

	s.mu.Lock()
	feeds := make([]common.Address, 0, len(s.feeds))
	seen := make(map[common.Address]bool)
	for _, feed := range s.feeds {
		if !seen[feed] {
			seen[feed] = true
			feeds = append(feeds, feed)
		}
	}
	s.mu.Unlock()

	for _, feed := range feeds {
		price, err := s.reader.AssetPrice(ctx, feed)
		if err != nil {
			return &NetError{Op: "AssetPrice", Err: err}
		}
		s.mu.Lock()
		s.leaves[feed] = price
		s.mu.Unlock()
	}
	return nil
}

// SetPriceReader replaces the live price backfill source given to
// NewStore.
func (s *Store) SetPriceReader(reader PriceReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reader = reader
}

// ResolvePendingAssets fills in the underlying asset address for every
// listed market that hasn't been resolved yet, a one-time-per-market chain
// read since MarketListed carries no asset field.
func (s *Store) ResolvePendingAssets(ctx context.Context) error {
	if s.resolver == nil {
		return nil
	}

	s.mu.Lock()
	pending := make([]common.Address, 0)
	zero := common.Address{}
	for addr, m := range s.markets {
		if m.Asset == zero {
			pending = append(pending, addr)
		}
	}
	s.mu.Unlock()

	for _, addr := range pending {
		asset, err := s.resolver.Asset(ctx, addr)
		if err != nil {
			return &NetError{Op: "Asset", Err: err}
		}
		s.mu.Lock()
		if m, ok := s.markets[addr]; ok {
			m.Asset = asset
		}
		s.mu.Unlock()
	}
	return nil
}

// ResolvePendingRateModels reads the floating rate curve parameters for
// every market whose interest rate model has been set but whose curve has
// not been fetched yet. Like ResolvePendingAssets, this is a per-model
// chain read: InterestRateModelSet carries the model's address, not its
// parameters, and the accrual math is meaningless with a zero curve.
func (s *Store) ResolvePendingRateModels(ctx context.Context) error {
	if s.resolver == nil {
		return nil
	}

	type pendingModel struct {
		market common.Address
		model  common.Address
	}
	s.mu.Lock()
	pending := make([]pendingModel, 0)
	zero := common.Address{}
	for addr, m := range s.markets {
		if m.InterestRateModel != zero && m.FloatingA.Sign() == 0 {
			pending = append(pending, pendingModel{market: addr, model: m.InterestRateModel})
		}
	}
	s.mu.Unlock()

	for _, p := range pending {
		params, err := s.resolver.RateModel(ctx, p.model)
		if err != nil {
			return &NetError{Op: "RateModel", Err: err}
		}
		s.mu.Lock()
		if m, ok := s.markets[p.market]; ok && m.InterestRateModel == p.model {
			m.FloatingA = new(big.Int).Set(params.FloatingA)
			m.FloatingB = new(big.Int).Set(params.FloatingB)
			m.FloatingMaxUtilization = new(big.Int).Set(params.FloatingMaxUtilization)
		}
		s.mu.Unlock()
	}
	return nil
}

// Incentive returns the auditor-wide liquidation incentive split last
// observed, or the zero value before any LiquidationIncentiveSet event.
func (s *Store) Incentive() planner.LiquidationIncentive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incentive
}

// Markets returns every listed market address, insertion order not
// significant (the planner reduces over them commutatively per market).
func (s *Store) Markets() []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Address, 0, len(s.markets))
	for addr := range s.markets {
		out = append(out, addr)
	}
	return out
}

// PriceFeeds returns the market -> feed address map the planner and
// dispatcher both need to know which feed to quote for each market.
func (s *Store) PriceFeeds() map[common.Address]common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[common.Address]common.Address, len(s.feeds))
	for k, v := range s.feeds {
		out[k] = v
	}
	return out
}

// Assets returns the market -> underlying asset address map.
func (s *Store) Assets() map[common.Address]common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	zero := common.Address{}
	out := make(map[common.Address]common.Address, len(s.markets))
	for addr, m := range s.markets {
		if m.Asset != zero {
			out[addr] = m.Asset
		}
	}
	return out
}

// Price returns the mirror's best current estimate of a market's USD price,
// resolved from whatever leaf answers have been observed so far.
func (s *Store) Price(marketAddr common.Address) (*big.Int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priceLocked(marketAddr)
}

func (s *Store) priceLocked(marketAddr common.Address) (*big.Int, bool) {
	ctrl, ok := s.controls[marketAddr]
	if !ok {
		return nil, false
	}
	price, err := ctrl.Resolve(s.leaves)
	if err != nil {
		return nil, false
	}
	return price, true
}

// Candidates walks every account the mirror has a position for, converts
// its tracked shares into the planner's asset-denominated MarketAccount
// shape, and returns the subset whose health factor has fallen at or below
// 1 WAD, keyed by account address and ready to hand to the dispatcher as an
// Update batch. This is a coarse, approximate filter: the dispatcher's
// ChainEvaluator re-derives the exact figures from a live previewer/auditor
// read before ever firing a transaction.
func (s *Store) Candidates(timestamp int64) (map[common.Address]dispatch.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices := make(map[common.Address]*big.Int, len(s.markets))
	for addr := range s.markets {
		if price, ok := s.priceLocked(addr); ok {
			prices[addr] = price
		}
	}
	assets := make(map[common.Address]common.Address, len(s.markets))
	zero := common.Address{}
	for addr, m := range s.markets {
		if m.Asset != zero {
			assets[addr] = m.Asset
		}
	}

	out := make(map[common.Address]dispatch.Candidate)
	for acctAddr, perMarket := range s.positions {
		marketAccounts := make([]account.MarketAccount, 0, len(perMarket))
		for marketAddr, pos := range perMarket {
			m, ok := s.markets[marketAddr]
			if !ok {
				continue
			}
			ma, err := positionToMarketAccount(pos, m, timestamp)
			if err != nil {
				return nil, &AccrualError{Market: marketAddr, Err: err}
			}
			marketAccounts = append(marketAccounts, ma)
		}
		if len(marketAccounts) == 0 {
			continue
		}

		repay, err := planner.PickMarkets(marketAccounts, prices, timestamp, assets)
		if err != nil {
			return nil, &PlanError{Account: acctAddr, Err: err}
		}
		if repay.TotalAdjustedDebt.Sign() == 0 {
			continue
		}

		hf, err := fixedpoint.DivWadDown(repay.TotalAdjustedCollateral, repay.TotalAdjustedDebt)
		if err != nil {
			return nil, &PlanError{Account: acctAddr, Err: err}
		}
		if hf.Cmp(fixedpoint.WAD) > 0 {
			continue
		}

		out[acctAddr] = dispatch.Candidate{
			Account: account.Account{Address: acctAddr, Markets: marketAccounts},
			Repay:   *repay,
		}
	}
	return out, nil
}

func (s *Store) market(addr common.Address) (*market.Market, error) {
	m, ok := s.markets[addr]
	if !ok {
		return nil, &DecodeError{Market: addr, Err: fmt.Errorf("event references unlisted market")}
	}
	return m, nil
}

func (s *Store) position(acct, marketAddr common.Address) *position {
	byMarket, ok := s.positions[acct]
	if !ok {
		byMarket = make(map[common.Address]*position)
		s.positions[acct] = byMarket
	}
	pos, ok := byMarket[marketAddr]
	if !ok {
		pos = newPosition()
		byMarket[marketAddr] = pos
	}
	return pos
}

// applyDebtReduction reduces a borrower's floating debt in market by
// assets, for the debt leg of Liquidate; ordinary Repay events are applied
// by their own case in Apply. Only floating debt is reduced: any excess
// beyond the tracked floating debt is not applied to fixed positions, and
// the dispatcher re-derives the authoritative figure live before firing.
func (s *Store) applyDebtReduction(marketAddr, borrower common.Address, assets *big.Int) error {
	if _, err := s.market(marketAddr); err != nil {
		return err
	}
	pos := s.position(borrower, marketAddr)
	m := s.markets[marketAddr]
	if m.FloatingBorrowShares.Sign() > 0 {
		shares, err := assetsToShares(assets, m.FloatingBorrowShares, mustTotalFloatingBorrow(m))
		if err == nil {
			subFloor(pos.floatingBorrowShares, shares)
			subFloor(m.FloatingBorrowShares, shares)
		}
	}
	subFloor(m.FloatingDebt, assets)
	return nil
}

func (s *Store) applyCollateralReduction(marketAddr, borrower common.Address, assets *big.Int) error {
	if _, err := s.market(marketAddr); err != nil {
		return err
	}
	pos := s.position(borrower, marketAddr)
	m := s.markets[marketAddr]
	if m.FloatingDepositShares.Sign() > 0 {
		shares, err := assetsToShares(assets, m.FloatingDepositShares, mustTotalAssets(m))
		if err == nil {
			subFloor(pos.floatingDepositShares, shares)
			subFloor(m.FloatingDepositShares, shares)
		}
	}
	subFloor(m.FloatingAssets, assets)
	return nil
}

func mustTotalAssets(m *market.Market) *big.Int {
	total, err := m.TotalAssets(time.Now().Unix())
	if err != nil || total.Sign() <= 0 {
		return new(big.Int).Set(m.FloatingAssets)
	}
	return total
}

func mustTotalFloatingBorrow(m *market.Market) *big.Int {
	total, err := m.TotalFloatingBorrowAssets(time.Now().Unix())
	if err != nil || total.Sign() <= 0 {
		return new(big.Int).Set(m.FloatingDebt)
	}
	return total
}

func assetsToShares(assets, totalShares, totalAssets *big.Int) (*big.Int, error) {
	if totalAssets.Sign() <= 0 {
		return new(big.Int).Set(assets), nil
	}
	return fixedpoint.MulDivDown(assets, totalShares, totalAssets)
}

func sharesToAssets(shares, totalShares, totalAssets *big.Int) (*big.Int, error) {
	if totalShares.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	return fixedpoint.MulDivDown(shares, totalAssets, totalShares)
}

func positionToMarketAccount(pos *position, m *market.Market, timestamp int64) (account.MarketAccount, error) {
	depositAssets, err := sharesToAssets(pos.floatingDepositShares, m.FloatingDepositShares, mustTotalAssets(m))
	if err != nil {
		return account.MarketAccount{}, err
	}
	totalBorrow, err := m.TotalFloatingBorrowAssets(timestamp)
	if err != nil {
		totalBorrow = m.FloatingDebt
	}
	borrowAssets, err := sharesToAssets(pos.floatingBorrowShares, m.FloatingBorrowShares, totalBorrow)
	if err != nil {
		return account.MarketAccount{}, err
	}

	positions := make([]account.FixedBorrowPosition, 0, len(pos.fixedBorrows))
	for maturity, fb := range pos.fixedBorrows {
		positions = append(positions, account.FixedBorrowPosition{
			Maturity:  maturity,
			Principal: new(big.Int).Set(fb.principal),
			Fee:       new(big.Int).Set(fb.fee),
		})
	}

	return account.MarketAccount{
		Market:                m.Address,
		IsCollateral:          pos.isCollateral,
		Decimals:              m.Decimals,
		AdjustFactor:          m.AdjustFactor,
		PenaltyRate:           m.PenaltyRate,
		FloatingDepositAssets: depositAssets,
		FloatingBorrowAssets:  borrowAssets,
		FixedBorrowPositions:  positions,
	}, nil
}

func fixedPoolAt(m *market.Market, maturity int64) *market.FixedPool {
	pool := m.FixedPoolAt(maturity)
	if pool != nil {
		return pool
	}
	pool = &market.FixedPool{
		Borrowed:           big.NewInt(0),
		Supplied:           big.NewInt(0),
		UnassignedEarnings: big.NewInt(0),
		LastAccrual:        big.NewInt(0),
	}
	m.FixedPools[new(big.Int).SetInt64(maturity).String()] = pool
	return pool
}

func reduceFixedBorrow(fb *fixedBorrow, positionAssets *big.Int) {
	total := new(big.Int).Add(fb.principal, fb.fee)
	if total.Sign() <= 0 || positionAssets.Cmp(total) >= 0 {
		fb.principal.SetInt64(0)
		fb.fee.SetInt64(0)
		return
	}
	remaining := new(big.Int).Sub(total, positionAssets)
	fb.principal, _ = fixedpoint.MulDivDown(fb.principal, remaining, total)
	fb.fee = new(big.Int).Sub(remaining, fb.principal)
}

func subFloor(x, delta *big.Int) {
	x.Sub(x, delta)
	if x.Sign() < 0 {
		*x = *big.NewInt(0)
	}
}

func utilizationOf(m *market.Market) *big.Int {
	if m.FloatingAssets.Sign() <= 0 {
		return big.NewInt(0)
	}
	u, err := fixedpoint.DivWadUp(m.FloatingDebt, m.FloatingAssets)
	if err != nil {
		return big.NewInt(0)
	}
	return u
}
