// Command exactlybot wires the indexer, the Market/Account mirror, the
// planner, and the dispatcher into the poll loop: load .env secrets with
// godotenv, load config.yml with configs.LoadConfig, dial an
// ethclient.Client, and hand bound contract clients to the engine.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	"github.com/exactly-bot/liquidator/configs"
	"github.com/exactly-bot/liquidator/internal/dispatch"
	"github.com/exactly-bot/liquidator/internal/engine"
	"github.com/exactly-bot/liquidator/internal/events"
	"github.com/exactly-bot/liquidator/internal/indexer"
	"github.com/exactly-bot/liquidator/internal/notify"
	"github.com/exactly-bot/liquidator/internal/tokenpair"
	"github.com/exactly-bot/liquidator/pkg/contractclient"
	"github.com/exactly-bot/liquidator/pkg/txlistener"
)

func main() {
	if err := run(); err != nil {
		log.Printf("exactlybot: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run() error {
	// .env carries the signing key and any RPC credentials.
	_ = godotenv.Load()

	configPath := "configs/config.yml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := configs.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	privKeyHex := os.Getenv("PRIVATE_KEY")
	if privKeyHex == "" {
		return fmt.Errorf("PRIVATE_KEY not set")
	}
	privKey, err := crypto.HexToECDSA(privKeyHex)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	senderAddr := crypto.PubkeyToAddress(privKey.PublicKey)

	eth, err := ethclient.Dial(cfg.RPC)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}

	abis := make(map[string]abi.ABI, len(cfg.ContractClient))
	watched := make([]common.Address, 0, len(cfg.ContractClient))
	for name, data := range cfg.ContractClient {
		parsed, err := loadABI(data.ABI)
		if err != nil {
			return fmt.Errorf("load abi for %s: %w", name, err)
		}
		abis[name] = parsed
		if common.IsHexAddress(data.Address) {
			watched = append(watched, common.HexToAddress(data.Address))
		}
	}

	auditorData, ok := cfg.ContractClient["auditor"]
	if !ok {
		return fmt.Errorf("config: contract_client.auditor is required")
	}
	previewerData, ok := cfg.ContractClient["previewer"]
	if !ok {
		return fmt.Errorf("config: contract_client.previewer is required")
	}
	liquidatorData, ok := cfg.ContractClient["liquidator"]
	if !ok {
		return fmt.Errorf("config: contract_client.liquidator is required")
	}
	marketABI, ok := abis["market"]
	if !ok {
		return fmt.Errorf("config: contract_client.market is required")
	}
	irmABI, ok := abis["interest_rate_model"]
	if !ok {
		return fmt.Errorf("config: contract_client.interest_rate_model is required")
	}

	auditorClient := contractclient.NewContractClient(eth, common.HexToAddress(auditorData.Address), abis["auditor"])
	previewerClient := contractclient.NewContractClient(eth, common.HexToAddress(previewerData.Address), abis["previewer"])
	liquidatorClient := contractclient.NewContractClient(eth, common.HexToAddress(liquidatorData.Address), abis["liquidator"])

	catalog, err := tokenpair.Load(cfg.TokenPairsPath)
	if err != nil {
		return fmt.Errorf("load token pair catalog: %w", err)
	}

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.WebhookURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.WebhookURL, 64)
	}

	resolver := &marketResolver{eth: eth, marketABI: marketABI, irmABI: irmABI}
	reader := &auditorPriceReader{auditor: auditorClient}

	store := engine.NewStore(resolver, reader)

	decoderABIs := make([]abi.ABI, 0, len(abis))
	for _, a := range abis {
		decoderABIs = append(decoderABIs, a)
	}
	decoder := events.NewDecoder(decoderABIs...)

	ix := indexer.New(eth, decoder, watched, store, cfg.StartBlock)

	batches := make(chan dispatch.Batch, 4)

	wethMarket := common.HexToAddress(cfg.WETHMarketAddress)

	eng := engine.New(ix, store, eth, eth, eth, batches, notifier, wethMarket, cfg.LiquidatorEnabled)

	evaluator := dispatch.NewChainEvaluator(previewerClient, auditorClient, catalog, wethMarket)
	listener := txlistener.NewTxListener(eth)
	submitter := dispatch.NewContractSubmitter(liquidatorClient, listener, senderAddr, privKey)
	disp := dispatch.New(evaluator, submitter, notifier, cfg.Backup, cfg.LiquidateUnprofitable)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go disp.Run(ctx, batches)

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	return nil
}

// loadABI reads and parses a contract ABI JSON file.
func loadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi %s: %w", path, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("decode abi %s: %w", path, err)
	}
	return parsed, nil
}

// marketResolver implements engine.MarketResolver by binding the shared
// Market and InterestRateModel ABIs to whichever addresses the
// MarketListed/InterestRateModelSet events name, reading the per-market
// constants no event carries: the ERC-4626 asset() address and the
// floating rate curve parameters.
type marketResolver struct {
	eth       *ethclient.Client
	marketABI abi.ABI
	irmABI    abi.ABI
}

func (r *marketResolver) Asset(_ context.Context, market common.Address) (common.Address, error) {
	client := contractclient.NewContractClient(r.eth, market, r.marketABI)
	out, err := client.Call(nil, "asset")
	if err != nil {
		return common.Address{}, fmt.Errorf("market %s asset(): %w", market.Hex(), err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("market %s asset(): unexpected result length %d", market.Hex(), len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("market %s asset(): unexpected type %T", market.Hex(), out[0])
	}
	return addr, nil
}

func (r *marketResolver) RateModel(_ context.Context, model common.Address) (engine.RateModelParams, error) {
	client := contractclient.NewContractClient(r.eth, model, r.irmABI)
	params := engine.RateModelParams{}

	views := []struct {
		method string
		dst    **big.Int
	}{
		{"floatingCurveA", &params.FloatingA},
		{"floatingCurveB", &params.FloatingB},
		{"floatingMaxUtilization", &params.FloatingMaxUtilization},
	}
	for _, v := range views {
		out, err := client.Call(nil, v.method)
		if err != nil {
			return engine.RateModelParams{}, fmt.Errorf("rate model %s %s(): %w", model.Hex(), v.method, err)
		}
		if len(out) != 1 {
			return engine.RateModelParams{}, fmt.Errorf("rate model %s %s(): unexpected result length %d", model.Hex(), v.method, len(out))
		}
		value, ok := out[0].(*big.Int)
		if !ok {
			return engine.RateModelParams{}, fmt.Errorf("rate model %s %s(): unexpected type %T", model.Hex(), v.method, out[0])
		}
		*v.dst = value
	}
	return params, nil
}

// auditorPriceReader implements engine.PriceReader over the bound Auditor
// client's assetPrice view, used to backfill a feed's price outside the
// normal log stream (the UpdatePrice sentinel).
type auditorPriceReader struct {
	auditor *contractclient.Client
}

func (r *auditorPriceReader) AssetPrice(_ context.Context, feed common.Address) (*big.Int, error) {
	out, err := r.auditor.Call(nil, "assetPrice", feed)
	if err != nil {
		return nil, fmt.Errorf("auditor assetPrice(%s): %w", feed.Hex(), err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("auditor assetPrice(%s): unexpected result length %d", feed.Hex(), len(out))
	}
	price, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("auditor assetPrice(%s): unexpected type %T", feed.Hex(), out[0])
	}
	return price, nil
}
