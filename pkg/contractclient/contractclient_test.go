package contractclient

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	txtypes "github.com/exactly-bot/liquidator/pkg/types"
)

// liquidatorABIJSON is a small liquidate(...) fixture ABI kept local to
// the test so it doesn't depend on a deployment's ABI file being present
// on disk; its argument list is not the one internal/dispatch sends to the
// production liquidator.
const liquidatorABIJSON = `[
	{"inputs":[
		{"name":"market","type":"address"},
		{"name":"borrower","type":"address"},
		{"name":"maxAssets","type":"uint256"},
		{"name":"seizeMarket","type":"address"}
	],"name":"liquidate","outputs":[],"type":"function"}
]`

func mustParseContractABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return parsed
}

func TestDecodeTransactionRecoversMethodAndArgs(t *testing.T) {
	liquidatorABI := mustParseContractABI(t, liquidatorABIJSON)
	marketAddr := common.HexToAddress("0x0000000000000000000000000000000000000a01")
	borrower := common.HexToAddress("0x0000000000000000000000000000000000000b02")
	seize := common.HexToAddress("0x0000000000000000000000000000000000000c03")

	data, err := liquidatorABI.Pack("liquidate", marketAddr, borrower, big.NewInt(1_000_000), seize)
	require.NoError(t, err)

	c := &Client{abi: liquidatorABI}
	decoded, err := c.DecodeTransaction(data)
	require.NoError(t, err)

	assert.Equal(t, "liquidate", decoded.MethodName)
	assert.Equal(t, marketAddr, decoded.Parameter["market"])
	assert.Equal(t, borrower, decoded.Parameter["borrower"])
	assert.Equal(t, big.NewInt(1_000_000), decoded.Parameter["maxAssets"])
	assert.Equal(t, seize, decoded.Parameter["seizeMarket"])
}

func TestDecodeTransactionRejectsShortInput(t *testing.T) {
	c := &Client{}
	_, err := c.DecodeTransaction([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDecodeTransactionRejectsUnknownSelector(t *testing.T) {
	liquidatorABI := mustParseContractABI(t, liquidatorABIJSON)
	c := &Client{abi: liquidatorABI}
	_, err := c.DecodeTransaction([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}

func TestAbiAndContractAddressReturnBoundValues(t *testing.T) {
	liquidatorABI := mustParseContractABI(t, liquidatorABIJSON)
	addr := common.HexToAddress("0x0000000000000000000000000000000000000d04")
	c := NewContractClient(nil, addr, liquidatorABI)

	assert.Equal(t, addr, c.ContractAddress())
	assert.Equal(t, liquidatorABI.Methods["liquidate"].Sig, c.Abi().Methods["liquidate"].Sig)
}

// Call packs its arguments through the bound ABI before it ever touches the
// network (c.eth.CallContract only runs after Pack succeeds), so a bad
// argument exercises and fails at that packing step with eth left nil.
func TestCallWrapsPackErrorWithoutTouchingTheNetwork(t *testing.T) {
	liquidatorABI := mustParseContractABI(t, liquidatorABIJSON)
	c := &Client{abi: liquidatorABI}

	_, err := c.Call(nil, "liquidate", "not-an-address")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pack liquidate")
}

// Send's nil-signing-key guard runs before any network call (nonce lookup,
// gas estimation, broadcast), so this exercises that real guard with eth
// left nil.
func TestSendRejectsMissingSigningKeyWithoutTouchingTheNetwork(t *testing.T) {
	liquidatorABI := mustParseContractABI(t, liquidatorABIJSON)
	c := &Client{abi: liquidatorABI}
	marketAddr := common.HexToAddress("0x0000000000000000000000000000000000000a01")

	_, err := c.Send(txtypes.Standard, nil, nil, nil, "liquidate", marketAddr, marketAddr, big.NewInt(1), marketAddr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signing key configured")
}
