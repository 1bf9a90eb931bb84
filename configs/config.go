// Package configs loads the liquidator's YAML configuration via
// LoadConfig(path) (*Config, error).
package configs

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of config.yml.
type Config struct {
	RPC            string                            `yaml:"rpc"`
	ContractClient map[string]ContractClientYAMLData `yaml:"contract_client"`

	ChainID     uint64 `yaml:"chain_id"`
	ChainIDName string `yaml:"chain_id_name"`

	TerminatorAddress      string `yaml:"terminator_address"`
	TerminatorFlashAddress string `yaml:"terminator_flash_address"`
	LiquidatorEnabled      bool   `yaml:"liquidator_enabled"`
	LiquidateUnprofitable  bool   `yaml:"liquidate_unprofitable"`

	Etherscan string `yaml:"etherscan"`
	ChartsURL string `yaml:"charts_url"`

	// Backup is the backup age a liquidation candidate must exceed before
	// the dispatcher fires on it: its age counts the consecutive batches it
	// has stayed in the candidate table since first seen. Zero disables the
	// backoff entirely.
	Backup uint32 `yaml:"backup"`

	WETHMarketAddress string `yaml:"weth_market_address"`
	StartBlock        uint64 `yaml:"start_block"`
	TokenPairsPath    string `yaml:"token_pairs_path"`

	WebhookURL string `yaml:"webhook_url"`
}

// ContractClientYAMLData names a single bound contract: its address and
// the path to the ABI JSON file describing it.
type ContractClientYAMLData struct {
	Address string `yaml:"address"`
	ABI     string `yaml:"abi"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &config, nil
}

// PollInterval is the engine loop's head-poll cadence between ticks; not
// configurable.
const PollInterval = 12 * time.Second

// IdleSleep is how long the engine loop sleeps before checking again when
// the liquidator is disabled; while disabled the loop does not poll the
// chain or sync logs.
const IdleSleep = 20 * time.Second
