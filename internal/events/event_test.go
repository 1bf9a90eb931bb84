package events

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketABIJSON = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"caller","type":"address"},
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":false,"name":"assets","type":"uint256"},
		{"indexed":false,"name":"shares","type":"uint256"}
	],"name":"Deposit","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":false,"name":"market","type":"address"},
		{"indexed":false,"name":"account","type":"address"}
	],"name":"MarketEntered","type":"event"}
]`

func mustParseABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return parsed
}

func TestDecoderDecodesKnownEvent(t *testing.T) {
	marketABI := mustParseABI(t, marketABIJSON)
	ev := marketABI.Events["Deposit"]

	caller := common.HexToAddress("0x0000000000000000000000000000000000000001")
	owner := common.HexToAddress("0x0000000000000000000000000000000000000002")
	market := common.HexToAddress("0x0000000000000000000000000000000000000099")

	packed, err := ev.Inputs.NonIndexed().Pack(big.NewInt(1000), big.NewInt(2000))
	require.NoError(t, err)

	log := gethtypes.Log{
		Address: market,
		Topics: []common.Hash{
			ev.ID,
			common.BytesToHash(caller.Bytes()),
			common.BytesToHash(owner.Bytes()),
		},
		Data: packed,
	}

	d := NewDecoder(marketABI)
	decoded, err := d.Decode(log)
	require.NoError(t, err)

	dep, ok := decoded.(Deposit)
	require.True(t, ok)
	assert.Equal(t, market, dep.Market)
	assert.Equal(t, caller, dep.Caller)
	assert.Equal(t, owner, dep.Owner)
	assert.Equal(t, big.NewInt(1000), dep.Assets)
	assert.Equal(t, big.NewInt(2000), dep.Shares)
}

func TestDecoderDecodesModeledMarketEnteredEvent(t *testing.T) {
	marketABI := mustParseABI(t, marketABIJSON)
	ev := marketABI.Events["MarketEntered"]

	market := common.HexToAddress("0x0000000000000000000000000000000000000099")
	packed, err := ev.Inputs.NonIndexed().Pack(market, market)
	require.NoError(t, err)

	log := gethtypes.Log{
		Address: market,
		Topics:  []common.Hash{ev.ID},
		Data:    packed,
	}

	// MarketEntered IS modeled, so this should decode, not Ignore.
	d := NewDecoder(marketABI)
	decoded, err := d.Decode(log)
	require.NoError(t, err)
	_, ok := decoded.(MarketEntered)
	assert.True(t, ok)
}

func TestDecoderIgnoresStaticIgnoreListTopics(t *testing.T) {
	d := NewDecoder()
	log := gethtypes.Log{
		Topics: []common.Hash{ignoredTopics[0]},
	}
	decoded, err := d.Decode(log)
	require.NoError(t, err)
	_, ok := decoded.(Ignore)
	assert.True(t, ok)
}

func TestDecoderEmitsUpdatePriceForLidoRebaseTopics(t *testing.T) {
	d := NewDecoder()
	log := gethtypes.Log{
		Topics: []common.Hash{priceRefreshTopics[0]},
	}
	decoded, err := d.Decode(log)
	require.NoError(t, err)
	up, ok := decoded.(UpdatePrice)
	require.True(t, ok)
	require.NotNil(t, up.Topic0)
	assert.Equal(t, priceRefreshTopics[0], *up.Topic0)
}

func TestDecoderIgnoresPlainLidoAdminTopics(t *testing.T) {
	d := NewDecoder()
	log := gethtypes.Log{
		Topics: []common.Hash{plainIgnoreTopics[0]},
	}
	decoded, err := d.Decode(log)
	require.NoError(t, err)
	_, ok := decoded.(Ignore)
	assert.True(t, ok)
}

func TestDecoderErrorsOnUnrecognizedTopic(t *testing.T) {
	d := NewDecoder()
	log := gethtypes.Log{
		Topics: []common.Hash{common.HexToHash("0xdeadbeef")},
	}
	_, err := d.Decode(log)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnrecognizedLog)
}

func TestDecoderErrorsOnEmptyTopics(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode(gethtypes.Log{})
	require.Error(t, err)
}
