// Package priceresolve resolves a market's USD price from its price feed
// descriptor: either a leaf feed's latest answer, a rate-adjusted Single
// wrapper (liquid-staking style), or a multiplicative Double composition
// of two feeds.
package priceresolve

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/exactly-bot/liquidator/internal/fixedpoint"
)

// Single is a rate-adjusted wrapper feed: resolved price is
// mainPrice * rate / baseUnit, used for liquid-staking style assets whose
// USD price tracks an underlying feed scaled by an exchange rate.
type Single struct {
	Address            common.Address
	ConversionSelector [4]byte
	BaseUnit           *big.Int
	MainPrice          *big.Int
	Rate               *big.Int
	EventEmitter       *common.Address
}

// Double composes two feeds multiplicatively: resolved price is
// priceOne * priceTwo / baseUnit, used to chain feeds (e.g. BTC->ETH then
// ETH->USD).
type Double struct {
	PriceFeedOne common.Address
	PriceFeedTwo common.Address
	BaseUnit     *big.Int
	Decimals     *big.Int
	PriceOne     *big.Int
	PriceTwo     *big.Int
}

// Controller is the recursive PriceFeedController descriptor: a leaf feed
// (Wrapper == nil) resolves to its own cached price in leafPrices; a
// wrapped feed composes its wrapper's inputs.
type Controller struct {
	Address       common.Address
	MainPriceFeed *Controller
	EventEmitters []common.Address
	Wrapper       any // *Single, *Double, or nil for a leaf
}

// MainPriceFeed builds a leaf controller with no wrapper.
func MainPriceFeed(address common.Address, eventEmitters []common.Address) *Controller {
	return &Controller{Address: address, EventEmitters: eventEmitters}
}

// Resolve returns the WAD-scaled USD price this controller describes,
// given a map of leaf feed addresses to their latest on-chain answer.
// Resolution is pure. Only a leaf reads leafPrices; Single and Double use
// the prices cached on the wrapper itself, and MainPriceFeed is not
// followed.
func (c *Controller) Resolve(leafPrices map[common.Address]*big.Int) (*big.Int, error) {
	switch w := c.Wrapper.(type) {
	case nil:
		price, ok := leafPrices[c.Address]
		if !ok {
			return nil, fmt.Errorf("priceresolve: no cached price for leaf feed %s", c.Address.Hex())
		}
		return price, nil
	case *Single:
		product, err := fixedpoint.MulDivDown(w.MainPrice, w.Rate, w.BaseUnit)
		if err != nil {
			return nil, fmt.Errorf("priceresolve: single feed %s: %w", w.Address.Hex(), err)
		}
		return product, nil
	case *Double:
		product, err := fixedpoint.MulDivDown(w.PriceOne, w.PriceTwo, w.BaseUnit)
		if err != nil {
			return nil, fmt.Errorf("priceresolve: double feed %s/%s: %w", w.PriceFeedOne.Hex(), w.PriceFeedTwo.Hex(), err)
		}
		return product, nil
	default:
		return nil, fmt.Errorf("priceresolve: unknown wrapper type %T", w)
	}
}

// LeafAddresses returns the set of leaf feed addresses this controller's
// resolution reads from leafPrices: its own address for a leaf, none for a
// wrapper.
func (c *Controller) LeafAddresses() []common.Address {
	switch c.Wrapper.(type) {
	case nil:
		return []common.Address{c.Address}
	default:
		// Single/Double wrappers carry their own cached prices already
		// fetched alongside the market account data; they have no further
		// leaf feed to batch a call for.
		return nil
	}
}
