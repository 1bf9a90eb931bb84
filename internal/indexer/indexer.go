// Package indexer rebuilds the Market/Account state mirror from chain
// logs: given a head block, fetch and decode the log range since the
// last checkpoint, apply events in strict (block, log index) order, and
// advance the checkpoint only once the whole range has been applied. It
// holds no head subscription: the engine's loop polls the chain head and
// calls SyncToHead, using blocking, context-scoped ethclient calls.
package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/exactly-bot/liquidator/internal/events"
)

// Checkpoint records the indexer's replay position: every log up to and
// including LastBlockSynced has been applied to the mirror.
type Checkpoint struct {
	LastBlockSynced uint64
}

// Mirror is the subset of state mutation the indexer drives. The engine's
// Market/Account stores implement this so the indexer stays decoupled
// from their concrete representation.
type Mirror interface {
	Apply(ev events.Event, log gethtypes.Log) error
	// RefreshPrices is invoked on an UpdatePrice sentinel event to force a
	// re-fetch of leaf feed prices outside the normal log stream.
	RefreshPrices(ctx context.Context) error
}

// LogFetcher is the single ethclient method the indexer needs, narrowed to
// an interface so tests can supply a fixture log source without an RPC
// connection.
type LogFetcher interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Indexer drains new blocks from a LogFetcher, decodes their logs, and
// applies them to a Mirror in strict order.
type Indexer struct {
	eth        LogFetcher
	decoder    *events.Decoder
	addresses  []common.Address
	mirror     Mirror
	checkpoint Checkpoint

	pollInterval time.Duration
}

// New builds an Indexer starting from startBlock, watching the given
// contract addresses.
func New(eth LogFetcher, decoder *events.Decoder, addresses []common.Address, mirror Mirror, startBlock uint64) *Indexer {
	return &Indexer{
		eth:          eth,
		decoder:      decoder,
		addresses:    addresses,
		mirror:       mirror,
		checkpoint:   Checkpoint{LastBlockSynced: startBlock},
		pollInterval: 12 * time.Second,
	}
}

// Checkpoint returns the indexer's current replay position.
func (ix *Indexer) Checkpoint() Checkpoint {
	return ix.checkpoint
}

// SyncToHead fetches every log in (lastBlockSynced, headBlock], applies
// them to the mirror in strict (block_number, log_index) order, and
// atomically advances the checkpoint. Callers
// observe either the pre-sync or post-sync checkpoint, never a partial
// one, since the checkpoint field is only written after every log in the
// range has been applied.
func (ix *Indexer) SyncToHead(ctx context.Context, headBlock uint64) error {
	if headBlock <= ix.checkpoint.LastBlockSynced {
		return nil
	}

	logs, err := ix.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(ix.checkpoint.LastBlockSynced + 1),
		ToBlock:   new(big.Int).SetUint64(headBlock),
		Addresses: ix.addresses,
	})
	if err != nil {
		return fmt.Errorf("indexer: filter logs [%d,%d]: %w", ix.checkpoint.LastBlockSynced+1, headBlock, err)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	for _, lg := range logs {
		ev, err := ix.decoder.Decode(lg)
		if err != nil {
			return fmt.Errorf("indexer: decode log block=%d index=%d: %w", lg.BlockNumber, lg.Index, err)
		}

		switch ev.(type) {
		case events.Ignore:
			continue
		case events.UpdatePrice:
			if err := ix.mirror.RefreshPrices(ctx); err != nil {
				return fmt.Errorf("indexer: refresh prices at block %d: %w", lg.BlockNumber, err)
			}
			continue
		default:
			if err := ix.mirror.Apply(ev, lg); err != nil {
				return fmt.Errorf("indexer: apply %T at block=%d index=%d: %w", ev, lg.BlockNumber, lg.Index, err)
			}
		}
	}

	ix.checkpoint.LastBlockSynced = headBlock
	return nil
}

// Rewind resets the checkpoint to a prior block, used when the engine
// detects a re-org (the chain's actual hash at the checkpoint no longer
// matches what was recorded when that block was synced). Rewind only
// moves the replay position: restoring the mirror itself to its
// pre-fork values is the caller's responsibility, since the indexer has
// no view into the Mirror's representation. The engine pairs every
// Rewind call with a Store.Restore to the snapshot taken at toBlock
// before replaying the new canonical logs forward from there.
func (ix *Indexer) Rewind(toBlock uint64) {
	if toBlock < ix.checkpoint.LastBlockSynced {
		ix.checkpoint.LastBlockSynced = toBlock
	}
}

// PollInterval reports the loop's head-poll cadence.
func (ix *Indexer) PollInterval() time.Duration {
	return ix.pollInterval
}
