package priceresolve

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLeafReadsCachedPrice(t *testing.T) {
	feed := common.HexToAddress("0x0000000000000000000000000000000000000001")
	c := MainPriceFeed(feed, nil)

	leaves := map[common.Address]*big.Int{feed: big.NewInt(2_000e8)}
	got, err := c.Resolve(leaves)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2_000e8), got)
}

func TestResolveLeafMissingPriceErrors(t *testing.T) {
	feed := common.HexToAddress("0x0000000000000000000000000000000000000001")
	c := MainPriceFeed(feed, nil)

	_, err := c.Resolve(map[common.Address]*big.Int{})
	assert.Error(t, err)
}

func TestResolveSingleAppliesRateOverBaseUnit(t *testing.T) {
	c := &Controller{
		Address: common.HexToAddress("0x0000000000000000000000000000000000000002"),
		Wrapper: &Single{
			MainPrice: big.NewInt(2_000e8),
			Rate:      big.NewInt(1.1e18), // 1.1x exchange rate
			BaseUnit:  big.NewInt(1e18),
		},
	}

	got, err := c.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2200e8), got)
}

func TestResolveDoubleComposesMultiplicatively(t *testing.T) {
	c := &Controller{
		Wrapper: &Double{
			PriceOne: big.NewInt(30_000e8), // BTC/USD
			PriceTwo: big.NewInt(1e18),     // ETH/BTC scaled to 1e18
			BaseUnit: big.NewInt(1e18),
		},
	}

	got, err := c.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(30_000e8), got)
}

func TestLeafAddressesOnlyForUnwrappedControllers(t *testing.T) {
	feed := common.HexToAddress("0x0000000000000000000000000000000000000001")
	leaf := MainPriceFeed(feed, nil)
	assert.Equal(t, []common.Address{feed}, leaf.LeafAddresses())

	wrapped := &Controller{Wrapper: &Single{}}
	assert.Nil(t, wrapped.LeafAddresses())
}
