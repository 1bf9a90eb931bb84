// Package dispatch runs the Update/Insert candidate-table loop: a single
// worker drains planner batches from a channel and walks the table on a
// ~1ms idle tick, firing at most one liquidation attempt per step.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/exactly-bot/liquidator/internal/account"
	"github.com/exactly-bot/liquidator/internal/notify"
	"github.com/exactly-bot/liquidator/internal/planner"
)

// Action distinguishes a full candidate-table replacement (Update) from a
// merge of newly discovered candidates into the existing table (Insert).
type Action int

const (
	Update Action = iota
	Insert
)

// Candidate pairs an undercollateralized account with the repay plan the
// planner computed for it at discovery time. The dispatcher re-evaluates
// profitability from fresh chain state before firing and walks candidates
// in account-address order, so this plan is stored but not read when
// firing.
type Candidate struct {
	Account account.Account
	Repay   planner.Repay
}

// Batch is what the indexer/planner pipeline goroutine sends over the
// dispatcher's input channel each time it finishes a sync pass.
type Batch struct {
	Candidates map[common.Address]Candidate
	EthPrice   *big.Int
	GasPrice   *big.Int
	Incentive  planner.LiquidationIncentive
	Markets    []common.Address
	PriceFeeds map[common.Address]common.Address
	Assets     map[common.Address]common.Address
	Action     Action
}

// entry is one row of the dispatcher's internal candidate table: a
// candidate plus its backup age, how many consecutive batches it has
// stayed in the table since first seen (firing does not reset it).
type entry struct {
	account account.Account
	repay   planner.Repay
	age     uint32
}

// Evaluation is the outcome of re-checking a candidate against live chain
// state immediately before firing.
type Evaluation struct {
	// Skip is true when the fresh read shows the account is no longer
	// liquidatable (healthy, or has no debt) and nothing should fire.
	Skip          bool
	Profitable    bool
	MaxRepay      *big.Int
	Pool          common.Address
	Fee           uint32
	MarketToRepay common.Address
	MarketToSeize common.Address
}

// Evaluator re-derives a candidate's liquidation plan from fresh on-chain
// state, a previewer/auditor read issued right before firing, so a stale
// candidate table entry never causes a liquidation against data that has
// since moved.
type Evaluator interface {
	Evaluate(
		ctx context.Context,
		accountAddr common.Address,
		gasPrice *big.Int,
		markets []common.Address,
		priceFeeds, assets map[common.Address]common.Address,
	) (*Evaluation, error)
}

// Submitter sends the liquidation transaction and waits for it to be
// mined: the Liquidator.liquidate(...) call at its fixed gas cap, then a
// one-confirmation receipt wait.
type Submitter interface {
	Liquidate(
		ctx context.Context,
		marketToRepay, marketToSeize, accountAddr common.Address,
		maxRepay *big.Int,
		pool common.Address,
		fee uint32,
	) (common.Hash, error)
	WaitForTransaction(hash common.Hash) (*Receipt, error)
}

// Receipt is the subset of a mined transaction's receipt the dispatcher
// reports through the notifier.
type Receipt struct {
	TransactionHash string
	BlockNumber     string
	GasUsed         string
}

// dispatchState names the single-worker loop's current phase for logging,
// Idle -> Evaluating -> Firing -> Confirming -> Idle.
type dispatchState int

const (
	stateIdle dispatchState = iota
	stateEvaluating
	stateFiring
	stateConfirming
)

func (s dispatchState) String() string {
	switch s {
	case stateEvaluating:
		return "evaluating"
	case stateFiring:
		return "firing"
	case stateConfirming:
		return "confirming"
	default:
		return "idle"
	}
}

// Dispatcher owns the candidate table and the single goroutine that walks
// it, firing liquidations one at a time.
type Dispatcher struct {
	evaluator             Evaluator
	submitter             Submitter
	notifier              notify.Notifier
	backup                uint32
	liquidateUnprofitable bool

	mu         sync.Mutex
	candidates map[common.Address]*entry
	order      []common.Address

	state dispatchState
}

// New builds a Dispatcher. backup is the age a candidate must exceed, in
// consecutive batches since first seen, before it is eligible to fire
// (0 disables the backoff: every scan fires every candidate).
// liquidateUnprofitable fires a liquidation even when the profitability
// check says the gas/swap/incentive costs exceed the expected profit.
func New(evaluator Evaluator, submitter Submitter, notifier notify.Notifier, backup uint32, liquidateUnprofitable bool) *Dispatcher {
	return &Dispatcher{
		evaluator:             evaluator,
		submitter:             submitter,
		notifier:              notifier,
		backup:                backup,
		liquidateUnprofitable: liquidateUnprofitable,
		candidates:            make(map[common.Address]*entry),
	}
}

// Run drains batches from in and walks the candidate table, firing one
// liquidation attempt per ~1ms tick, until ctx is cancelled or in is
// closed. It is meant to run on its own goroutine, linked to the
// indexer/planner pipeline by a buffered channel.
func (d *Dispatcher) Run(ctx context.Context, in <-chan Batch) {
	var (
		gasPrice, ethPrice *big.Int
		incentive          planner.LiquidationIncentive
		markets            []common.Address
		priceFeeds, assets map[common.Address]common.Address
		cursor             int
	)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-in:
			if !ok {
				return
			}
			d.merge(batch)
			gasPrice, ethPrice = batch.GasPrice, batch.EthPrice
			incentive = batch.Incentive
			markets = batch.Markets
			priceFeeds = batch.PriceFeeds
			assets = batch.Assets
			cursor = 0
		case <-ticker.C:
			addr, cand, ok := d.next(&cursor)
			if !ok {
				continue
			}
			if d.backup == 0 || cand.age > d.backup {
				if d.backup > 0 {
					log.Printf("backup liquidation - %d", cand.age)
				}
				d.fire(ctx, addr, incentive, gasPrice, ethPrice, markets, priceFeeds, assets)
			} else {
				log.Printf("backup - not old enough: %d", cand.age)
			}
		}
	}
}

// merge applies a batch's action to the candidate table. Update replaces
// the whole table, carrying each surviving candidate's age forward by one.
// Insert adds only candidates not already present; an existing entry's
// plan is never overwritten, it merely ages.
func (d *Dispatcher) merge(b Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch b.Action {
	case Update:
		next := make(map[common.Address]*entry, len(b.Candidates))
		for addr, c := range b.Candidates {
			age := uint32(0)
			if d.backup > 0 {
				if prev, ok := d.candidates[addr]; ok {
					age = prev.age + 1
				}
			}
			next[addr] = &entry{account: c.Account, repay: c.Repay, age: age}
		}
		d.candidates = next
	case Insert:
		for addr, c := range b.Candidates {
			if existing, ok := d.candidates[addr]; ok {
				if d.backup > 0 {
					existing.age++
				}
				continue
			}
			d.candidates[addr] = &entry{account: c.Account, repay: c.Repay, age: 0}
		}
	}

	order := make([]common.Address, 0, len(d.candidates))
	for addr := range d.candidates {
		order = append(order, addr)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Hex() < order[j].Hex() })
	d.order = order
}

// next advances cursor by one and returns the candidate at that position,
// a single pass over the table taken one step per tick; the cursor resets
// on every batch and yields nothing once exhausted until the next batch
// arrives.
func (d *Dispatcher) next(cursor *int) (common.Address, entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if *cursor >= len(d.order) {
		return common.Address{}, entry{}, false
	}
	addr := d.order[*cursor]
	*cursor++

	cand, ok := d.candidates[addr]
	if !ok {
		return common.Address{}, entry{}, false
	}
	return addr, *cand, true
}

// fire re-evaluates a candidate against live chain state, and if it is
// still liquidatable and (profitable or liquidateUnprofitable is set),
// submits the liquidation and waits for its receipt. The batch's cached
// incentive and eth price are not used here, only gasPrice/markets/
// priceFeeds/assets are: the Evaluator re-fetches both live via the
// auditor, so they can never go stale between discovery and firing.
func (d *Dispatcher) fire(
	ctx context.Context,
	addr common.Address,
	_ planner.LiquidationIncentive,
	gasPrice, _ *big.Int,
	markets []common.Address,
	priceFeeds, assets map[common.Address]common.Address,
) {
	d.setState(stateEvaluating)
	eval, err := d.evaluator.Evaluate(ctx, addr, gasPrice, markets, priceFeeds, assets)
	if err != nil {
		d.notifier.Send(fmt.Sprintf("liquidation evaluation failed for %s: %v", addr.Hex(), err))
		d.setState(stateIdle)
		return
	}
	if eval == nil || eval.Skip {
		d.setState(stateIdle)
		return
	}
	if !eval.Profitable && !d.liquidateUnprofitable {
		log.Printf("not profitable to liquidate %s", addr.Hex())
		d.setState(stateIdle)
		return
	}

	d.setState(stateFiring)
	hash, err := d.submitter.Liquidate(ctx, eval.MarketToRepay, eval.MarketToSeize, addr, eval.MaxRepay, eval.Pool, eval.Fee)
	if err != nil {
		d.notifier.Send(fmt.Sprintf("liquidation submit failed for %s: %v", addr.Hex(), err))
		d.setState(stateIdle)
		return
	}

	d.setState(stateConfirming)
	receipt, err := d.submitter.WaitForTransaction(hash)
	if err != nil {
		d.notifier.Send(fmt.Sprintf("liquidation %s for %s did not confirm: %v", hash.Hex(), addr.Hex(), err))
		d.setState(stateIdle)
		return
	}

	d.notifier.Send(fmt.Sprintf(
		"account %s liquidated. tx=%s block=%s gasUsed=%s",
		addr.Hex(), receipt.TransactionHash, receipt.BlockNumber, receipt.GasUsed,
	))
	d.setState(stateIdle)
}

func (d *Dispatcher) setState(s dispatchState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// State reports the dispatcher's current phase, for tests and health
// diagnostics.
func (d *Dispatcher) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.String()
}

// Len reports how many candidates are currently tracked.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.candidates)
}
