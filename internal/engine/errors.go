// Package engine names the error taxonomy for the
// indexer/planner/dispatch pipeline: NetError (RPC failure), DecodeError
// (log decode failure), AccrualError (market math failure), PlanError
// (liquidation planning failure), DispatchError (submission/confirmation
// failure). Each wraps an underlying error with %w; NetError carries the
// failed operation's name, the others the account and/or market address
// the log line needs.
package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NetError wraps an RPC call failure: a dropped connection, a timed-out
// eth_call, a provider rate limit.
type NetError struct {
	Op  string
	Err error
}

func (e *NetError) Error() string { return fmt.Sprintf("net: %s: %v", e.Op, e.Err) }
func (e *NetError) Unwrap() error { return e.Err }

// DecodeError wraps a log that could not be decoded into a known event,
// or whose decoded fields failed validation.
type DecodeError struct {
	Market common.Address
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: market %s: %v", e.Market.Hex(), e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// AccrualError wraps a failure recomputing a market's fixed-pool or
// floating accrual (e.g. an arithmetic overflow from internal/fixedpoint).
type AccrualError struct {
	Market common.Address
	Err    error
}

func (e *AccrualError) Error() string {
	return fmt.Sprintf("accrual: market %s: %v", e.Market.Hex(), e.Err)
}
func (e *AccrualError) Unwrap() error { return e.Err }

// PlanError wraps a failure in internal/planner picking markets or sizing
// a repay for an account.
type PlanError struct {
	Account common.Address
	Err     error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan: account %s: %v", e.Account.Hex(), e.Err)
}
func (e *PlanError) Unwrap() error { return e.Err }

// DispatchError wraps a failure submitting or confirming a liquidation
// transaction in internal/dispatch.
type DispatchError struct {
	Account common.Address
	Market  common.Address
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch: account %s market %s: %v", e.Account.Hex(), e.Market.Hex(), e.Err)
}
func (e *DispatchError) Unwrap() error { return e.Err }
