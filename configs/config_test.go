package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
rpc: https://rpc.example.org
chain_id: 10
chain_id_name: optimism
terminator_address: "0x0000000000000000000000000000000000000a01"
terminator_flash_address: "0x0000000000000000000000000000000000000a02"
liquidator_enabled: true
liquidate_unprofitable: false
etherscan: https://optimistic.etherscan.io
charts_url: https://charts.example.org
backup: 3
weth_market_address: "0x0000000000000000000000000000000000000a03"
start_block: 100000
token_pairs_path: configs/token_pairs.json
webhook_url: https://hooks.example.org/liquidator
contract_client:
  auditor:
    address: "0x0000000000000000000000000000000000000a04"
    abi: abi/Auditor.json
  previewer:
    address: "0x0000000000000000000000000000000000000a05"
    abi: abi/Previewer.json
`

func TestLoadConfigParsesAllFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.org", cfg.RPC)
	assert.Equal(t, uint64(10), cfg.ChainID)
	assert.Equal(t, "optimism", cfg.ChainIDName)
	assert.True(t, cfg.LiquidatorEnabled)
	assert.False(t, cfg.LiquidateUnprofitable)
	assert.Equal(t, uint32(3), cfg.Backup)
	assert.Equal(t, uint64(100000), cfg.StartBlock)
	require.Len(t, cfg.ContractClient, 2)
	assert.Equal(t, "abi/Auditor.json", cfg.ContractClient["auditor"].ABI)
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yml")
	assert.Error(t, err)
}
