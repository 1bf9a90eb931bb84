// Package events decodes raw contract logs into the tagged union of
// protocol events the indexer cares about, dispatching on topic0 through
// a topic0-keyed ABI lookup (go-ethereum's abi.ABI already indexes events
// by their signature hash).
package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Event is implemented by every concrete decoded event type plus the two
// sentinels UpdatePrice and Ignore.
type Event interface {
	// Name returns the event's ABI name, or "" for a sentinel.
	Name() string
}

// Topic0 returns the log's event selector, the key every Event is
// dispatched on.
func Topic0(log gethtypes.Log) (common.Hash, bool) {
	if len(log.Topics) == 0 {
		return common.Hash{}, false
	}
	return log.Topics[0], true
}

// Deposit mirrors Market.Deposit(address,address,uint256,uint256).
type Deposit struct {
	Market common.Address
	Caller common.Address
	Owner  common.Address
	Assets *big.Int
	Shares *big.Int
}

func (Deposit) Name() string { return "Deposit" }

// Withdraw mirrors Market.Withdraw(address,address,address,uint256,uint256).
type Withdraw struct {
	Market   common.Address
	Caller   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *big.Int
	Shares   *big.Int
}

func (Withdraw) Name() string { return "Withdraw" }

// Transfer mirrors the ERC20 Transfer(address,address,uint256) event,
// emitted by every market's share token.
type Transfer struct {
	Market common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (Transfer) Name() string { return "Transfer" }

// Borrow mirrors Market.Borrow(address,address,address,uint256,uint256).
type Borrow struct {
	Market   common.Address
	Caller   common.Address
	Receiver common.Address
	Borrower common.Address
	Assets   *big.Int
	Shares   *big.Int
}

func (Borrow) Name() string { return "Borrow" }

// Repay mirrors Market.Repay(address,address,uint256,uint256).
type Repay struct {
	Market   common.Address
	Caller   common.Address
	Borrower common.Address
	Assets   *big.Int
	Shares   *big.Int
}

func (Repay) Name() string { return "Repay" }

// DepositAtMaturity mirrors
// Market.DepositAtMaturity(uint256,address,address,uint256,uint256).
type DepositAtMaturity struct {
	Market   common.Address
	Maturity *big.Int
	Caller   common.Address
	Owner    common.Address
	Assets   *big.Int
	Fee      *big.Int
}

func (DepositAtMaturity) Name() string { return "DepositAtMaturity" }

// WithdrawAtMaturity mirrors
// Market.WithdrawAtMaturity(uint256,address,address,address,uint256,uint256).
type WithdrawAtMaturity struct {
	Market           common.Address
	Maturity         *big.Int
	Caller           common.Address
	Receiver         common.Address
	Owner            common.Address
	AssetsDiscounted *big.Int
	Assets           *big.Int
}

func (WithdrawAtMaturity) Name() string { return "WithdrawAtMaturity" }

// BorrowAtMaturity mirrors
// Market.BorrowAtMaturity(uint256,address,address,address,uint256,uint256).
type BorrowAtMaturity struct {
	Market   common.Address
	Maturity *big.Int
	Caller   common.Address
	Receiver common.Address
	Borrower common.Address
	Assets   *big.Int
	Fee      *big.Int
}

func (BorrowAtMaturity) Name() string { return "BorrowAtMaturity" }

// RepayAtMaturity mirrors
// Market.RepayAtMaturity(uint256,address,address,uint256,uint256).
type RepayAtMaturity struct {
	Market         common.Address
	Maturity       *big.Int
	Caller         common.Address
	Borrower       common.Address
	Assets         *big.Int
	PositionAssets *big.Int
}

func (RepayAtMaturity) Name() string { return "RepayAtMaturity" }

// Liquidate mirrors
// Market.Liquidate(address,address,address,uint256,uint256,address,uint256).
type Liquidate struct {
	Market        common.Address
	Liquidator    common.Address
	Borrower      common.Address
	Receiver      common.Address
	Assets        *big.Int
	LendersAssets *big.Int
	SeizeMarket   common.Address
	SeizedAssets  *big.Int
}

func (Liquidate) Name() string { return "Liquidate" }

// Seize mirrors Market.Seize(address,address,address,uint256).
type Seize struct {
	Market     common.Address
	Liquidator common.Address
	Borrower   common.Address
	Assets     *big.Int
}

func (Seize) Name() string { return "Seize" }

// MarketUpdate mirrors Market.MarketUpdate at floating accrual points.
type MarketUpdate struct {
	Market                common.Address
	Timestamp             *big.Int
	FloatingDepositShares *big.Int
	FloatingAssets        *big.Int
	FloatingBorrowShares  *big.Int
	FloatingDebt          *big.Int
}

func (MarketUpdate) Name() string { return "MarketUpdate" }

// FixedEarningsUpdate mirrors Market.FixedEarningsUpdate at fixed-pool
// accrual points.
type FixedEarningsUpdate struct {
	Market             common.Address
	Timestamp          *big.Int
	Maturity           *big.Int
	UnassignedEarnings *big.Int
}

func (FixedEarningsUpdate) Name() string { return "FixedEarningsUpdate" }

// AccumulatorAccrual mirrors Market.AccumulatorAccrual(uint256).
type AccumulatorAccrual struct {
	Market    common.Address
	Timestamp *big.Int
}

func (AccumulatorAccrual) Name() string { return "AccumulatorAccrual" }

// FloatingDebtUpdate mirrors
// Market.FloatingDebtUpdate(uint256,uint256,uint256,uint256,uint256).
type FloatingDebtUpdate struct {
	Market         common.Address
	Timestamp      *big.Int
	FloatingDebt   *big.Int
	FloatingAssets *big.Int
	Utilization    *big.Int
}

func (FloatingDebtUpdate) Name() string { return "FloatingDebtUpdate" }

// MarketListed mirrors Auditor.MarketListed(address,uint8).
type MarketListed struct {
	Market   common.Address
	Decimals uint8
}

func (MarketListed) Name() string { return "MarketListed" }

// MarketEntered mirrors Auditor.MarketEntered(address,address).
type MarketEntered struct {
	Market  common.Address
	Account common.Address
}

func (MarketEntered) Name() string { return "MarketEntered" }

// MarketExited mirrors Auditor.MarketExited(address,address).
type MarketExited struct {
	Market  common.Address
	Account common.Address
}

func (MarketExited) Name() string { return "MarketExited" }

// AdjustFactorSet mirrors Auditor.AdjustFactorSet(address,uint256).
type AdjustFactorSet struct {
	Market       common.Address
	AdjustFactor *big.Int
}

func (AdjustFactorSet) Name() string { return "AdjustFactorSet" }

// PenaltyRateSet mirrors Market.PenaltyRateSet(uint256).
type PenaltyRateSet struct {
	Market      common.Address
	PenaltyRate *big.Int
}

func (PenaltyRateSet) Name() string { return "PenaltyRateSet" }

// ReserveFactorSet mirrors Market.ReserveFactorSet(uint256).
type ReserveFactorSet struct {
	Market        common.Address
	ReserveFactor *big.Int
}

func (ReserveFactorSet) Name() string { return "ReserveFactorSet" }

// DampSpeedSet mirrors Market.DampSpeedSet(uint256,uint256).
type DampSpeedSet struct {
	Market   common.Address
	DampUp   *big.Int
	DampDown *big.Int
}

func (DampSpeedSet) Name() string { return "DampSpeedSet" }

// TreasurySet mirrors Market.TreasurySet(address,uint256).
type TreasurySet struct {
	Market          common.Address
	Treasury        common.Address
	TreasuryFeeRate *big.Int
}

func (TreasurySet) Name() string { return "TreasurySet" }

// EarningsAccumulatorSmoothFactorSet mirrors
// Market.EarningsAccumulatorSmoothFactorSet(uint256).
type EarningsAccumulatorSmoothFactorSet struct {
	Market                          common.Address
	EarningsAccumulatorSmoothFactor *big.Int
}

func (EarningsAccumulatorSmoothFactorSet) Name() string {
	return "EarningsAccumulatorSmoothFactorSet"
}

// MaxFuturePoolsSet mirrors Market.MaxFuturePoolsSet(uint256).
type MaxFuturePoolsSet struct {
	Market         common.Address
	MaxFuturePools *big.Int
}

func (MaxFuturePoolsSet) Name() string { return "MaxFuturePoolsSet" }

// InterestRateModelSet mirrors Market.InterestRateModelSet(address).
type InterestRateModelSet struct {
	Market            common.Address
	InterestRateModel common.Address
}

func (InterestRateModelSet) Name() string { return "InterestRateModelSet" }

// LiquidationIncentiveSet mirrors Auditor.LiquidationIncentiveSet(tuple).
type LiquidationIncentiveSet struct {
	Liquidator *big.Int
	Lenders    *big.Int
}

func (LiquidationIncentiveSet) Name() string { return "LiquidationIncentiveSet" }

// BackupFeeRateSet mirrors Market.BackupFeeRateSet(uint256).
type BackupFeeRateSet struct {
	Market        common.Address
	BackupFeeRate *big.Int
}

func (BackupFeeRateSet) Name() string { return "BackupFeeRateSet" }

// PriceFeedSet mirrors Auditor.PriceFeedSet(address,address).
type PriceFeedSet struct {
	Market    common.Address
	PriceFeed common.Address
}

func (PriceFeedSet) Name() string { return "PriceFeedSet" }

// AnswerUpdated mirrors an AggregatorV2V3Interface's
// AnswerUpdated(int256,uint256,uint256) price feed update.
type AnswerUpdated struct {
	PriceFeed common.Address
	Current   *big.Int
	RoundId   *big.Int
	UpdatedAt *big.Int
}

func (AnswerUpdated) Name() string { return "AnswerUpdated" }

// NewRound mirrors an aggregator's NewRound(uint256,address,uint256).
type NewRound struct {
	PriceFeed common.Address
	RoundId   *big.Int
	StartedBy common.Address
	StartedAt *big.Int
}

func (NewRound) Name() string { return "NewRound" }

// NewTransmission mirrors an OCR aggregator's hand-rolled
// NewTransmission(uint32,int192,address,int192[],bytes,bytes32) event,
// which has no standard AggregatorV2V3Interface counterpart.
type NewTransmission struct {
	PriceFeed         common.Address
	AggregatorRoundID uint32
	Answer            *big.Int
	Transmitter       common.Address
}

func (NewTransmission) Name() string { return "NewTransmission" }

// RoleGranted mirrors AccessControl.RoleGranted(bytes32,address,address).
type RoleGranted struct {
	Contract common.Address
	Role     [32]byte
	Account  common.Address
	Sender   common.Address
}

func (RoleGranted) Name() string { return "RoleGranted" }

// RoleAdminChanged mirrors
// AccessControl.RoleAdminChanged(bytes32,bytes32,bytes32).
type RoleAdminChanged struct {
	Contract          common.Address
	Role              [32]byte
	PreviousAdminRole [32]byte
	NewAdminRole      [32]byte
}

func (RoleAdminChanged) Name() string { return "RoleAdminChanged" }

// RoleRevoked mirrors AccessControl.RoleRevoked(bytes32,address,address).
type RoleRevoked struct {
	Contract common.Address
	Role     [32]byte
	Account  common.Address
	Sender   common.Address
}

func (RoleRevoked) Name() string { return "RoleRevoked" }

// Paused mirrors Pausable.Paused(address).
type Paused struct {
	Contract common.Address
	Account  common.Address
}

func (Paused) Name() string { return "Paused" }

// Unpaused mirrors Pausable.Unpaused(address).
type Unpaused struct {
	Contract common.Address
	Account  common.Address
}

func (Unpaused) Name() string { return "Unpaused" }

// UpdatePrice is a sentinel emitted for a recognized-but-not-modeled price
// update source (the liquid-staking rebase events), signaling the indexer
// to re-fetch prices without attempting to decode a payload.
type UpdatePrice struct {
	Topic0 *common.Hash
}

func (UpdatePrice) Name() string { return "" }

// Ignore is a sentinel for an event the engine has no use for but does not
// consider an error: either one of the hardcoded legacy topics below, or a
// staking/aggregator-admin event irrelevant to liquidation.
type Ignore struct {
	Topic0 *common.Hash
}

func (Ignore) Name() string { return "" }

// ErrUnrecognizedLog is returned when a log's topic0 matches neither a
// known event ABI nor the static ignore list.
var ErrUnrecognizedLog = fmt.Errorf("events: unrecognized log")

// Decoder decodes raw logs into Event values using the ABI of each
// contract whose events it cares about, keyed by topic0 the same way
// go-ethereum's abi.ABI.EventByID already indexes its own events.
type Decoder struct {
	abis []abi.ABI
}

// NewDecoder builds a Decoder over the given contract ABIs (Market,
// Auditor, InterestRateModel, price feed aggregators, ...).
func NewDecoder(abis ...abi.ABI) *Decoder {
	return &Decoder{abis: abis}
}

// Decode dispatches a raw log to its concrete Event by topic0, falling
// back to the static ignore list, then to ErrUnrecognizedLog.
func (d *Decoder) Decode(log gethtypes.Log) (Event, error) {
	topic0, ok := Topic0(log)
	if !ok {
		return nil, fmt.Errorf("events: log has no topics: %w", ErrUnrecognizedLog)
	}

	for _, a := range d.abis {
		ev, err := a.EventByID(topic0)
		if err != nil {
			continue
		}
		decoded, err := decodeByName(a, *ev, log)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", ev.Name, err)
		}
		return decoded, nil
	}

	if isPriceRefreshTopic(topic0) {
		t := topic0
		return UpdatePrice{Topic0: &t}, nil
	}

	if isIgnoredTopic(topic0) || isPlainIgnoreTopic(topic0) {
		t := topic0
		return Ignore{Topic0: &t}, nil
	}

	return nil, fmt.Errorf("events: topic %s: %w", topic0.Hex(), ErrUnrecognizedLog)
}

func bigField(fields map[string]any, name string) *big.Int {
	if v, ok := fields[name].(*big.Int); ok {
		return v
	}
	return big.NewInt(0)
}

func addrField(fields map[string]any, name string) common.Address {
	switch v := fields[name].(type) {
	case common.Address:
		return v
	case common.Hash:
		return common.BytesToAddress(v.Bytes())
	default:
		return common.Address{}
	}
}

func hashField(fields map[string]any, name string) [32]byte {
	switch v := fields[name].(type) {
	case [32]byte:
		return v
	case common.Hash:
		return v
	default:
		return [32]byte{}
	}
}

func uint32Field(fields map[string]any, name string) uint32 {
	switch v := fields[name].(type) {
	case uint32:
		return v
	case *big.Int:
		return uint32(v.Uint64())
	default:
		return 0
	}
}

func uint8Field(fields map[string]any, name string) uint8 {
	switch v := fields[name].(type) {
	case uint8:
		return v
	case *big.Int:
		return uint8(v.Uint64())
	default:
		return 0
	}
}

// decodeByName maps a decoded ABI event onto its concrete Go struct by
// name. Only the events this engine consumes are fully typed; any ABI
// event this engine knows about but doesn't model falls back to Ignore.
func decodeByName(a abi.ABI, ev abi.Event, log gethtypes.Log) (Event, error) {
	fields := map[string]any{}
	if len(log.Data) > 0 {
		if err := a.UnpackIntoMap(fields, ev.Name, log.Data); err != nil {
			return nil, err
		}
	}
	indexed := 0
	for _, arg := range ev.Inputs {
		if !arg.Indexed {
			continue
		}
		if indexed+1 < len(log.Topics) {
			fields[arg.Name] = log.Topics[indexed+1]
		}
		indexed++
	}

	switch ev.Name {
	case "Deposit":
		return Deposit{
			Market: log.Address,
			Caller: addrField(fields, "caller"),
			Owner:  addrField(fields, "owner"),
			Assets: bigField(fields, "assets"),
			Shares: bigField(fields, "shares"),
		}, nil
	case "Withdraw":
		return Withdraw{
			Market:   log.Address,
			Caller:   addrField(fields, "caller"),
			Receiver: addrField(fields, "receiver"),
			Owner:    addrField(fields, "owner"),
			Assets:   bigField(fields, "assets"),
			Shares:   bigField(fields, "shares"),
		}, nil
	case "Transfer":
		return Transfer{
			Market: log.Address,
			From:   addrField(fields, "from"),
			To:     addrField(fields, "to"),
			Amount: bigField(fields, "value"),
		}, nil
	case "Borrow":
		return Borrow{
			Market:   log.Address,
			Caller:   addrField(fields, "caller"),
			Receiver: addrField(fields, "receiver"),
			Borrower: addrField(fields, "borrower"),
			Assets:   bigField(fields, "assets"),
			Shares:   bigField(fields, "shares"),
		}, nil
	case "Repay":
		return Repay{
			Market:   log.Address,
			Caller:   addrField(fields, "caller"),
			Borrower: addrField(fields, "borrower"),
			Assets:   bigField(fields, "assets"),
			Shares:   bigField(fields, "shares"),
		}, nil
	case "DepositAtMaturity":
		return DepositAtMaturity{
			Market:   log.Address,
			Maturity: bigField(fields, "maturity"),
			Caller:   addrField(fields, "caller"),
			Owner:    addrField(fields, "owner"),
			Assets:   bigField(fields, "assets"),
			Fee:      bigField(fields, "fee"),
		}, nil
	case "WithdrawAtMaturity":
		return WithdrawAtMaturity{
			Market:           log.Address,
			Maturity:         bigField(fields, "maturity"),
			Caller:           addrField(fields, "caller"),
			Receiver:         addrField(fields, "receiver"),
			Owner:            addrField(fields, "owner"),
			AssetsDiscounted: bigField(fields, "assetsDiscounted"),
			Assets:           bigField(fields, "assets"),
		}, nil
	case "BorrowAtMaturity":
		return BorrowAtMaturity{
			Market:   log.Address,
			Maturity: bigField(fields, "maturity"),
			Caller:   addrField(fields, "caller"),
			Receiver: addrField(fields, "receiver"),
			Borrower: addrField(fields, "borrower"),
			Assets:   bigField(fields, "assets"),
			Fee:      bigField(fields, "fee"),
		}, nil
	case "RepayAtMaturity":
		return RepayAtMaturity{
			Market:         log.Address,
			Maturity:       bigField(fields, "maturity"),
			Caller:         addrField(fields, "caller"),
			Borrower:       addrField(fields, "borrower"),
			Assets:         bigField(fields, "assets"),
			PositionAssets: bigField(fields, "positionAssets"),
		}, nil
	case "Liquidate":
		return Liquidate{
			Market:        log.Address,
			Liquidator:    addrField(fields, "liquidator"),
			Borrower:      addrField(fields, "borrower"),
			Receiver:      addrField(fields, "receiver"),
			Assets:        bigField(fields, "assets"),
			LendersAssets: bigField(fields, "lendersAssets"),
			SeizeMarket:   addrField(fields, "seizeMarket"),
			SeizedAssets:  bigField(fields, "seizedAssets"),
		}, nil
	case "Seize":
		return Seize{
			Market:     log.Address,
			Liquidator: addrField(fields, "liquidator"),
			Borrower:   addrField(fields, "borrower"),
			Assets:     bigField(fields, "assets"),
		}, nil
	case "MarketUpdate":
		return MarketUpdate{
			Market:                log.Address,
			Timestamp:             bigField(fields, "timestamp"),
			FloatingDepositShares: bigField(fields, "floatingDepositShares"),
			FloatingAssets:        bigField(fields, "floatingAssets"),
			FloatingBorrowShares:  bigField(fields, "floatingBorrowShares"),
			FloatingDebt:          bigField(fields, "floatingDebt"),
		}, nil
	case "FixedEarningsUpdate":
		return FixedEarningsUpdate{
			Market:             log.Address,
			Timestamp:          bigField(fields, "timestamp"),
			Maturity:           bigField(fields, "maturity"),
			UnassignedEarnings: bigField(fields, "unassignedEarnings"),
		}, nil
	case "AccumulatorAccrual":
		return AccumulatorAccrual{Market: log.Address, Timestamp: bigField(fields, "timestamp")}, nil
	case "FloatingDebtUpdate":
		return FloatingDebtUpdate{
			Market:         log.Address,
			Timestamp:      bigField(fields, "timestamp"),
			FloatingDebt:   bigField(fields, "floatingDebt"),
			FloatingAssets: bigField(fields, "floatingAssets"),
			Utilization:    bigField(fields, "utilization"),
		}, nil
	case "MarketListed":
		return MarketListed{Market: addrField(fields, "market"), Decimals: uint8Field(fields, "decimals")}, nil
	case "MarketEntered":
		return MarketEntered{Market: addrField(fields, "market"), Account: addrField(fields, "account")}, nil
	case "MarketExited":
		return MarketExited{Market: addrField(fields, "market"), Account: addrField(fields, "account")}, nil
	case "AdjustFactorSet":
		return AdjustFactorSet{Market: log.Address, AdjustFactor: bigField(fields, "adjustFactor")}, nil
	case "PenaltyRateSet":
		return PenaltyRateSet{Market: log.Address, PenaltyRate: bigField(fields, "penaltyRate")}, nil
	case "ReserveFactorSet":
		return ReserveFactorSet{Market: log.Address, ReserveFactor: bigField(fields, "reserveFactor")}, nil
	case "DampSpeedSet":
		return DampSpeedSet{Market: log.Address, DampUp: bigField(fields, "dampSpeedUp"), DampDown: bigField(fields, "dampSpeedDown")}, nil
	case "TreasurySet":
		return TreasurySet{Market: log.Address, Treasury: addrField(fields, "treasury"), TreasuryFeeRate: bigField(fields, "treasuryFeeRate")}, nil
	case "EarningsAccumulatorSmoothFactorSet":
		return EarningsAccumulatorSmoothFactorSet{Market: log.Address, EarningsAccumulatorSmoothFactor: bigField(fields, "earningsAccumulatorSmoothFactor")}, nil
	case "MaxFuturePoolsSet":
		return MaxFuturePoolsSet{Market: log.Address, MaxFuturePools: bigField(fields, "maxFuturePools")}, nil
	case "InterestRateModelSet":
		return InterestRateModelSet{Market: log.Address, InterestRateModel: addrField(fields, "interestRateModel")}, nil
	case "LiquidationIncentiveSet":
		return LiquidationIncentiveSet{Liquidator: bigField(fields, "liquidator"), Lenders: bigField(fields, "lenders")}, nil
	case "BackupFeeRateSet":
		return BackupFeeRateSet{Market: log.Address, BackupFeeRate: bigField(fields, "backupFeeRate")}, nil
	case "PriceFeedSet":
		return PriceFeedSet{Market: addrField(fields, "market"), PriceFeed: addrField(fields, "priceFeed")}, nil
	case "AnswerUpdated":
		return AnswerUpdated{
			PriceFeed: log.Address,
			Current:   bigField(fields, "current"),
			RoundId:   bigField(fields, "roundId"),
			UpdatedAt: bigField(fields, "updatedAt"),
		}, nil
	case "NewRound":
		return NewRound{
			PriceFeed: log.Address,
			RoundId:   bigField(fields, "roundId"),
			StartedBy: addrField(fields, "startedBy"),
			StartedAt: bigField(fields, "startedAt"),
		}, nil
	case "NewTransmission":
		return NewTransmission{
			PriceFeed:         log.Address,
			AggregatorRoundID: uint32Field(fields, "aggregatorRoundId"),
			Answer:            bigField(fields, "answer"),
			Transmitter:       addrField(fields, "transmitter"),
		}, nil
	case "RoleGranted":
		return RoleGranted{Contract: log.Address, Role: hashField(fields, "role"), Account: addrField(fields, "account"), Sender: addrField(fields, "sender")}, nil
	case "RoleAdminChanged":
		return RoleAdminChanged{
			Contract:          log.Address,
			Role:              hashField(fields, "role"),
			PreviousAdminRole: hashField(fields, "previousAdminRole"),
			NewAdminRole:      hashField(fields, "newAdminRole"),
		}, nil
	case "RoleRevoked":
		return RoleRevoked{Contract: log.Address, Role: hashField(fields, "role"), Account: addrField(fields, "account"), Sender: addrField(fields, "sender")}, nil
	case "Paused":
		return Paused{Contract: log.Address, Account: addrField(fields, "account")}, nil
	case "Unpaused":
		return Unpaused{Contract: log.Address, Account: addrField(fields, "account")}, nil
	default:
		t := log.Topics[0]
		return Ignore{Topic0: &t}, nil
	}
}
