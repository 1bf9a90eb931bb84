package tokenpair

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenLow   = "0x0000000000000000000000000000000000000001"
	tokenHigh  = "0x0000000000000000000000000000000000000002"
	tokenThird = "0x0000000000000000000000000000000000000003"
)

func TestOrderedAddressesIsSymmetric(t *testing.T) {
	a := common.HexToAddress(tokenLow)
	b := common.HexToAddress(tokenHigh)

	lo1, hi1 := OrderedAddresses(a, b)
	lo2, hi2 := OrderedAddresses(b, a)

	assert.Equal(t, lo1, lo2)
	assert.Equal(t, hi1, hi2)
	assert.Equal(t, a, lo1)
	assert.Equal(t, b, hi1)
}

func TestParseTokenPairsPicksLowestFee(t *testing.T) {
	json := `[["` + tokenLow + `","` + tokenHigh + `",3000],["` + tokenLow + `","` + tokenHigh + `",500]]`
	cat, err := Parse([]byte(json))
	require.NoError(t, err)

	fee, ok := cat.LowestFee(common.HexToAddress(tokenLow), common.HexToAddress(tokenHigh))
	require.True(t, ok)
	assert.Equal(t, uint32(500), fee)

	// order shouldn't matter for lookup
	fee, ok = cat.LowestFee(common.HexToAddress(tokenHigh), common.HexToAddress(tokenLow))
	require.True(t, ok)
	assert.Equal(t, uint32(500), fee)
}

func TestParseTokenPairsTracksAllTokens(t *testing.T) {
	json := `[["` + tokenLow + `","` + tokenHigh + `",3000],["` + tokenHigh + `","` + tokenThird + `",100]]`
	cat, err := Parse([]byte(json))
	require.NoError(t, err)

	tokens := cat.Tokens()
	assert.Contains(t, tokens, common.HexToAddress(tokenLow))
	assert.Contains(t, tokens, common.HexToAddress(tokenHigh))
	assert.Contains(t, tokens, common.HexToAddress(tokenThird))
}

func TestLowestFeeMissingPair(t *testing.T) {
	cat, err := Parse([]byte(`[]`))
	require.NoError(t, err)

	_, ok := cat.LowestFee(common.HexToAddress(tokenLow), common.HexToAddress(tokenHigh))
	assert.False(t, ok)
}
