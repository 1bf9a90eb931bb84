// Package engine wires the indexer, the Market/Account mirror (Store), and
// the dispatcher together into the poll loop: fetch head, sync logs into
// the mirror, scan the mirror for undercollateralized accounts, and hand
// the result to the dispatcher as an Update batch. A single blocking
// goroutine runs the whole cycle, sleeping between polls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/exactly-bot/liquidator/configs"
	"github.com/exactly-bot/liquidator/internal/dispatch"
	"github.com/exactly-bot/liquidator/internal/indexer"
)

// HeadSource is the single ethclient method the engine needs to learn the
// current chain head, narrowed the same way indexer.LogFetcher narrows
// FilterLogs.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HeaderSource lets the engine fetch a block's header by number to learn
// its hash and parent hash, the minimal surface needed to detect a re-org
// without subscribing to a head feed.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// reorgHistoryDepth bounds how many trailing (block, hash) pairs the
// engine remembers. A re-org deeper than this is treated as
// unrecoverable from the in-memory mirror and reported rather than
// silently under-rewound; mainnet re-orgs reaching this deep would be a
// finality failure far outside normal operation.
const reorgHistoryDepth = 256

// GasPricer supplies the network's current suggested gas price, fed into
// every dispatch batch for the profitability model's gas-cost term.
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Notifier is the narrow interface engine needs from internal/notify.
type Notifier interface {
	Send(text string)
}

// Engine drives the indexer/mirror/dispatcher pipeline on the calling
// goroutine as the process's single primary task.
type Engine struct {
	indexer    *indexer.Indexer
	store      *Store
	head       HeadSource
	headers    HeaderSource
	gas        GasPricer
	out        chan<- dispatch.Batch
	notifier   Notifier
	marketWETH common.Address
	enabled    bool

	chain      map[uint64]common.Hash
	chainOrder []uint64
	snapshots  map[uint64]*Snapshot
}

// New builds an Engine. enabled mirrors configs.Config.LiquidatorEnabled:
// when false the loop idles at configs.IdleSleep instead of polling.
func New(ix *indexer.Indexer, store *Store, head HeadSource, headers HeaderSource, gas GasPricer, out chan<- dispatch.Batch, notifier Notifier, marketWETH common.Address, enabled bool) *Engine {
	return &Engine{
		indexer:    ix,
		store:      store,
		head:       head,
		headers:    headers,
		gas:        gas,
		out:        out,
		notifier:   notifier,
		marketWETH: marketWETH,
		enabled:    enabled,
		chain:      make(map[uint64]common.Hash),
		snapshots:  make(map[uint64]*Snapshot),
	}
}

// Run loops until ctx is cancelled or an unrecoverable (non-network) error
// occurs. Network failures (head lookup, log filtering, price backfill) are
// logged to the Notifier and retried after configs.PollInterval; every
// other failure bubbles up and terminates the engine.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !e.enabled {
			if !sleepCtx(ctx, configs.IdleSleep) {
				return ctx.Err()
			}
			continue
		}

		if err := e.tick(ctx); err != nil {
			if isRetryable(err) {
				e.notifier.Send(fmt.Sprintf("engine: retrying after network error: %v", err))
				if !sleepCtx(ctx, configs.PollInterval) {
					return ctx.Err()
				}
				continue
			}
			e.notifier.Send(fmt.Sprintf("engine: terminating: %v", err))
			return err
		}

		if !sleepCtx(ctx, configs.PollInterval) {
			return ctx.Err()
		}
	}
}

func (e *Engine) tick(ctx context.Context) error {
	head, err := e.head.BlockNumber(ctx)
	if err != nil {
		return &NetError{Op: "BlockNumber", Err: err}
	}

	if err := e.checkReorg(ctx); err != nil {
		return err
	}

	synced := e.indexer.Checkpoint().LastBlockSynced
	if err := e.indexer.SyncToHead(ctx, head); err != nil {
		return err
	}

	if newSynced := e.indexer.Checkpoint().LastBlockSynced; newSynced != synced {
		if err := e.recordHead(ctx, newSynced); err != nil {
			return err
		}
	}

	if err := e.store.ResolvePendingAssets(ctx); err != nil {
		return err
	}
	if err := e.store.ResolvePendingRateModels(ctx); err != nil {
		return err
	}
	if err := e.store.RefreshPrices(ctx); err != nil {
		return err
	}

	candidates, err := e.store.Candidates(time.Now().Unix())
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	gasPrice, err := e.gas.SuggestGasPrice(ctx)
	if err != nil {
		return &NetError{Op: "SuggestGasPrice", Err: err}
	}

	ethPrice, ok := e.store.Price(e.marketWETH)
	if !ok {
		e.notifier.Send("engine: no resolved price for the weth market yet, skipping this cycle")
		return nil
	}

	batch := dispatch.Batch{
		Candidates: candidates,
		GasPrice:   gasPrice,
		EthPrice:   ethPrice,
		Incentive:  e.store.Incentive(),
		Markets:    e.store.Markets(),
		PriceFeeds: e.store.PriceFeeds(),
		Assets:     e.store.Assets(),
		Action:     dispatch.Update,
	}

	select {
	case e.out <- batch:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// checkReorg compares the chain's actual hash at the indexer's current
// checkpoint against the hash the engine recorded the last time it synced
// past that block. A mismatch means the canonical chain has changed
// beneath the mirror since then: walk back through the recorded history
// until a block whose recorded hash still matches the live chain is
// found (the fork's common ancestor), restore the mirror to the snapshot
// taken at that block, and rewind the indexer's checkpoint to match so
// the next SyncToHead replays only the new canonical blocks.
func (e *Engine) checkReorg(ctx context.Context) error {
	checkpoint := e.indexer.Checkpoint().LastBlockSynced
	if checkpoint == 0 {
		return nil
	}
	recorded, ok := e.chain[checkpoint]
	if !ok {
		return nil
	}

	header, err := e.headers.HeaderByNumber(ctx, new(big.Int).SetUint64(checkpoint))
	if err != nil {
		return &NetError{Op: "HeaderByNumber", Err: err}
	}
	if header.Hash() == recorded {
		return nil
	}

	ancestor := checkpoint
	for ancestor > 0 {
		ancestor--
		want, ok := e.chain[ancestor]
		if !ok {
			continue
		}
		h, err := e.headers.HeaderByNumber(ctx, new(big.Int).SetUint64(ancestor))
		if err != nil {
			return &NetError{Op: "HeaderByNumber", Err: err}
		}
		if h.Hash() == want {
			break
		}
	}

	snap, ok := e.snapshots[ancestor]
	if !ok {
		return fmt.Errorf("engine: re-org detected past block %d but no snapshot survives that far back", ancestor)
	}
	e.store.Restore(snap)
	e.indexer.Rewind(ancestor)
	e.notifier.Send(fmt.Sprintf("engine: re-org detected, rewound mirror to block %d", ancestor))

	for block := range e.chain {
		if block > ancestor {
			delete(e.chain, block)
			delete(e.snapshots, block)
		}
	}
	kept := e.chainOrder[:0]
	for _, block := range e.chainOrder {
		if block <= ancestor {
			kept = append(kept, block)
		}
	}
	e.chainOrder = kept
	return nil
}

// recordHead remembers the given block's hash and a mirror snapshot taken
// right after syncing to it, trimming entries older than
// reorgHistoryDepth so the history doesn't grow without bound.
func (e *Engine) recordHead(ctx context.Context, head uint64) error {
	header, err := e.headers.HeaderByNumber(ctx, new(big.Int).SetUint64(head))
	if err != nil {
		return &NetError{Op: "HeaderByNumber", Err: err}
	}

	e.chain[head] = header.Hash()
	e.snapshots[head] = e.store.Snapshot()
	e.chainOrder = append(e.chainOrder, head)

	for len(e.chainOrder) > reorgHistoryDepth {
		oldest := e.chainOrder[0]
		e.chainOrder = e.chainOrder[1:]
		delete(e.chain, oldest)
		delete(e.snapshots, oldest)
	}
	return nil
}

// isRetryable reports whether err represents a transient network failure
// the engine should back off and retry, as opposed to a decode/arithmetic/
// planning failure that signals a bug or an unrecognized protocol change
// and should terminate the engine. NetError is recognized structurally;
// the indexer's own FilterLogs failures are not wrapped in the engine's
// error taxonomy (internal/indexer cannot import internal/engine without a
// cycle), so they are recognized by the literal wrapping text
// indexer.SyncToHead uses for that stage. A hard decode failure
// (unrecognized topic0) always terminates.
func isRetryable(err error) bool {
	var netErr *NetError
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "indexer: filter logs")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
