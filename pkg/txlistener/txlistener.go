// Package txlistener polls for a transaction receipt, configured via
// functional options: txlistener.NewTxListener(client,
// WithPollInterval(...), WithTimeout(...)).
package txlistener

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	txtypes "github.com/exactly-bot/liquidator/pkg/types"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 2 * time.Minute
)

// Listener waits for a transaction to be mined and returns its receipt.
type Listener struct {
	eth          *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a Listener at construction time.
type Option func(*Listener)

func WithPollInterval(d time.Duration) Option {
	return func(l *Listener) { l.pollInterval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(l *Listener) { l.timeout = d }
}

func NewTxListener(eth *ethclient.Client, opts ...Option) *Listener {
	l := &Listener{eth: eth, pollInterval: defaultPollInterval, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction blocks, polling at pollInterval, until the transaction
// is mined or the configured timeout elapses.
func (l *Listener) WaitForTransaction(hash common.Hash) (*txtypes.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			status := "0x0"
			if receipt.Status == 1 {
				status = "0x1"
			}
			return &txtypes.TxReceipt{
				TransactionHash:   hash.Hex(),
				BlockNumber:       "0x" + receipt.BlockNumber.Text(16),
				Status:            status,
				GasUsed:           fmt.Sprintf("0x%x", receipt.GasUsed),
				EffectiveGasPrice: "0x" + receipt.EffectiveGasPrice.Text(16),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for transaction %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
