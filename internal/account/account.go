// Package account holds the per-account, per-market position snapshot the
// planner walks when picking collateral/debt markets for a liquidation,
// mirroring the tuple shape Previewer.exactly(account) returns.
package account

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FixedBorrowPosition is one outstanding fixed-rate borrow at a single
// maturity: principal plus the fee owed for holding it until maturity.
type FixedBorrowPosition struct {
	Maturity  int64
	Principal *big.Int
	Fee       *big.Int
}

// MarketAccount is one market's worth of an account's position as returned
// by Previewer.exactly: whether the account has it enabled as collateral,
// its floating deposit/borrow balances, and its open fixed borrows.
type MarketAccount struct {
	Market                common.Address
	IsCollateral          bool
	Decimals              uint8
	AdjustFactor          *big.Int
	PenaltyRate           *big.Int
	FloatingDepositAssets *big.Int
	FloatingBorrowAssets  *big.Int
	FixedBorrowPositions  []FixedBorrowPosition
}

// Account is the full set of per-market positions for one borrower,
// returned by a single Previewer.exactly(address) multicall.
type Account struct {
	Address common.Address
	Markets []MarketAccount
}
