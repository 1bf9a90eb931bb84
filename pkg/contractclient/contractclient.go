// Package contractclient wraps a single deployed contract (address + ABI)
// over an ethclient.Client: Call for eth_call, Send for signed transactions, plus
// the ABI and receipt-decoding helpers the engine needs to pull event logs
// back out of a transaction.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	txtypes "github.com/exactly-bot/liquidator/pkg/types"
)

// Client is the bound-contract wrapper used by cmd/exactlybot and
// internal/dispatch: Call, Send, Abi, ContractAddress, ParseReceipt.
type Client struct {
	eth     *ethclient.Client
	addr    common.Address
	abi     abi.ABI
	chainID *big.Int
}

// NewContractClient binds an ABI to a deployed contract address over the
// given ethclient connection. chainID is looked up lazily on first Send.
func NewContractClient(eth *ethclient.Client, addr common.Address, contractABI abi.ABI) *Client {
	return &Client{eth: eth, addr: addr, abi: contractABI}
}

func (c *Client) ContractAddress() common.Address {
	return c.addr
}

func (c *Client) Abi() abi.ABI {
	return c.abi
}

// Call performs a read-only eth_call and decodes the outputs positionally.
func (c *Client) Call(from *common.Address, method string, args ...any) ([]any, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.addr, Data: input}
	if from != nil {
		msg.From = *from
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return c.abi.Unpack(method, out)
}

// Send signs and broadcasts a transaction invoking method with args.
// gasLimit, when nil, is estimated automatically.
func (c *Client) Send(
	txType txtypes.TxType,
	gasLimit *uint64,
	from *common.Address,
	pk *ecdsa.PrivateKey,
	method string,
	args ...any,
) (common.Hash, error) {
	if pk == nil {
		return common.Hash{}, fmt.Errorf("send %s: no signing key configured", method)
	}

	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if c.chainID == nil {
		id, err := c.eth.NetworkID(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain id: %w", err)
		}
		c.chainID = id
	}

	nonce, err := c.eth.PendingNonceAt(ctx, *from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce for %s: %w", from.Hex(), err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	limit := uint64(0)
	if gasLimit != nil {
		limit = *gasLimit
	} else {
		est, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: *from, To: &c.addr, Data: input})
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas for %s: %w", method, err)
		}
		limit = est
	}

	var tx *types.Transaction
	switch txType {
	case txtypes.Dynamic:
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID: c.chainID, Nonce: nonce, To: &c.addr, Gas: limit,
			GasFeeCap: gasPrice, GasTipCap: gasPrice, Data: input,
		})
	default:
		tx = types.NewTx(&types.LegacyTx{
			Nonce: nonce, To: &c.addr, Gas: limit, GasPrice: gasPrice, Data: input,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), pk)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign %s: %w", method, err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send %s: %w", method, err)
	}

	return signed.Hash(), nil
}

// TransactionData fetches the raw input data of a mined transaction, used
// by decode tooling to recover the call that produced it.
func (c *Client) TransactionData(hash common.Hash) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("fetch tx %s: %w", hash.Hex(), err)
	}
	return tx.Data(), nil
}

// DecodeTransaction decodes call data against the bound ABI, returning the
// method name and keyword arguments.
type DecodedCall struct {
	MethodName string         `json:"methodName"`
	Parameter  map[string]any `json:"parameter"`
}

func (c *Client) DecodeTransaction(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("decode transaction: input too short")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	args := map[string]any{}
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("unpack %s args: %w", method.Name, err)
	}
	return &DecodedCall{MethodName: method.Name, Parameter: args}, nil
}

// decodedEvent is the JSON shape ParseReceipt returns: one entry per log emitted by this
// contract in the receipt, with its event name and decoded parameters.
type decodedEvent struct {
	EventName string         `json:"EventName"`
	Parameter map[string]any `json:"Parameter"`
}

// ParseReceipt decodes every log in the receipt that was emitted by this
// client's contract address into a JSON array of {EventName, Parameter}.
func (c *Client) ParseReceipt(receipt *txtypes.TxReceipt) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	hash := common.HexToHash(receipt.TransactionHash)
	chainReceipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("fetch receipt %s: %w", hash.Hex(), err)
	}

	var events []decodedEvent
	for _, lg := range chainReceipt.Logs {
		if lg.Address != c.addr || len(lg.Topics) == 0 {
			continue
		}
		ev, err := c.abi.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}
		params := map[string]any{}
		if len(lg.Data) > 0 {
			if err := c.abi.UnpackIntoMap(params, ev.Name, lg.Data); err != nil {
				continue
			}
		}
		indexed := 0
		for _, arg := range ev.Inputs {
			if !arg.Indexed {
				continue
			}
			if indexed+1 < len(lg.Topics) {
				params[arg.Name] = lg.Topics[indexed+1].Hex()
			}
			indexed++
		}
		events = append(events, decodedEvent{EventName: ev.Name, Parameter: params})
	}

	out, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshal decoded events: %w", err)
	}
	return string(out), nil
}

// BoundContract exposes the underlying bind.BoundContract for callers
// that need FilterLogs/WatchLogs directly.
func (c *Client) BoundContract() *bind.BoundContract {
	return bind.NewBoundContract(c.addr, c.abi, c.eth, c.eth, c.eth)
}
