package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jinzhu/gorm/dialects/mysql"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/bitcoincash"
	"github.com/folionet/foliod/config"
	"github.com/folionet/foliod/coordinator"
	"github.com/folionet/foliod/dbaccess"
	"github.com/folionet/foliod/decoder"
	"github.com/folionet/foliod/decoder/balancerv2"
	"github.com/folionet/foliod/decoder/balancerv3"
	"github.com/folionet/foliod/decoder/curvegauge"
	"github.com/folionet/foliod/fetchers"
	"github.com/folionet/foliod/logger"
	"github.com/folionet/foliod/normalizer"
	"github.com/folionet/foliod/notifications"
	"github.com/folionet/foliod/server"
	"github.com/folionet/foliod/signal"
	"github.com/folionet/foliod/taskmanager"
	"github.com/folionet/foliod/util/panics"
)

const (
	etherscanBaseURL          = "https://api.etherscan.io/api"
	balancerV3SubgraphURL     = "https://api.thegraph.com/subgraphs/name/balancer/balancer-v3"
	curveGaugesSubgraphURL    = "https://api.thegraph.com/subgraphs/name/curvefi/curve-gauges"
	defaultDecoderSchemaVer   = 1
	subgraphBootstrapTimeout  = time.Minute
	wethMainnetAddress        = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	crvMainnetAddress         = "0xD533a949740bb3306d119CC777fa900bA034cd52"
)

func main() {
	defer panics.HandlePanic(log, nil)
	defer logger.Close()

	cfg, err := config.Parse()
	if err != nil {
		panic(fmt.Errorf("Error parsing command-line arguments: %s", err))
	}

	if cfg.Migrate {
		if err := dbaccess.Migrate(cfg); err != nil {
			panic(fmt.Errorf("Error migrating the database: %s", err))
		}
		return
	}

	db, err := dbaccess.Connect(cfg)
	if err != nil {
		panic(fmt.Errorf("Error connecting to the database: %s", err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			panic(fmt.Errorf("Error closing the database: %s", err))
		}
	}()

	hub := notifications.NewHub()
	defer hub.Close()
	aggregator := notifications.NewAggregator(hub)

	client := fetchers.NewClient(
		time.Duration(cfg.RPCTimeoutSecs)*time.Second, cfg.RPCPoolSizePerHost)

	tm := taskmanager.New(cfg, db, hub, aggregator)
	registerBitcoinChains(tm, client)
	registerEthereum(tm, cfg, client, aggregator)
	tm.SetPremiumRefresher(fetchers.NewPremiumAPI(client, cfg.PremiumAPIKey, cfg.PremiumAPISecret))
	tm.Start()
	defer tm.Stop()

	shutdownServer := server.Start(cfg.HTTPListen, db, tm, hub)
	defer shutdownServer()

	interrupt := signal.InterruptListener()
	<-interrupt
}

func registerBitcoinChains(tm *taskmanager.TaskManager, client *fetchers.Client) {
	blockchainInfo := fetchers.NewBlockchainInfoAPI(client)
	blockstream := fetchers.NewBlockstreamAPI(client)
	mempoolSpace := fetchers.NewMempoolSpaceAPI(client)
	blockcypher := fetchers.NewBlockcypherAPI(client, config.ActiveConfig().BlockcypherAPIKey)
	tm.RegisterBitcoinChain(&taskmanager.BitcoinChainService{
		Chain: chain.Bitcoin,
		Coordinator: coordinator.NewBitcoinCoordinator(chain.Bitcoin, []coordinator.BtcCallback{{
			Name:         "blockchain.info",
			Balances:     blockchainInfo.Balances,
			HasActivity:  blockchainInfo.HasActivity,
			Transactions: blockchainInfo.Transactions,
		}, {
			Name:        "blockstream.info",
			Balances:    blockstream.Balances,
			HasActivity: blockstream.HasActivity,
			// this API doesn't handle p2pk txs properly
			Transactions: nil,
		}, {
			Name:         "mempool.space",
			Balances:     mempoolSpace.Balances,
			HasActivity:  mempoolSpace.HasActivity,
			Transactions: nil,
		}, {
			Name:         "blockcypher.com",
			Balances:     nil,
			HasActivity:  nil,
			Transactions: blockcypher.Transactions,
		}}),
		Normalizer: normalizer.NewBitcoinNormalizer(chain.Bitcoin, nil),
	})

	haskoin := fetchers.NewHaskoinAPI(client)
	bchBook := bitcoincash.NewAddressBook()
	tm.RegisterBitcoinChain(&taskmanager.BitcoinChainService{
		Chain: chain.BitcoinCash,
		Coordinator: coordinator.NewBitcoinCoordinator(chain.BitcoinCash, []coordinator.BtcCallback{{
			Name:         "haskoin",
			Balances:     haskoin.Balances,
			HasActivity:  haskoin.HasActivity,
			Transactions: haskoin.Transactions,
		}}),
		Normalizer:  normalizer.NewBitcoinNormalizer(chain.BitcoinCash, bchBook.Display),
		AddressBook: bchBook,
	})
}

func registerEthereum(
	tm *taskmanager.TaskManager,
	cfg *config.Config,
	client *fetchers.Client,
	aggregator *notifications.Aggregator,
) {
	schemaVersion := defaultDecoderSchemaVer
	if cfg.DecoderSchemaVer > schemaVersion {
		schemaVersion = cfg.DecoderSchemaVer
	}
	tokens := decoder.NewTokenRegistry(chain.Ethereum)
	registry := decoder.NewRegistry(schemaVersion, tokens)

	balancerv2.Register(registry, chain.Ethereum, common.HexToAddress(wethMainnetAddress))
	balancerv3.Register(registry, chain.Ethereum,
		balancerPoolTokensLookup(client))
	curveDecoder := curvegauge.Register(registry, chain.Ethereum,
		nil, common.HexToAddress(crvMainnetAddress))
	spawn(func() { bootstrapCurveGauges(client, curveDecoder, registry) })

	etherscan := fetchers.NewEtherscanAPI(client, etherscanBaseURL, cfg.EtherscanAPIKey, chain.Ethereum)
	tm.RegisterEvmChain(&taskmanager.EvmChainService{
		Chain: chain.Ethereum,
		Coordinator: coordinator.NewEvmCoordinator(chain.Ethereum, []coordinator.EvmCallback{{
			Name:         "etherscan.io",
			Balances:     etherscan.Balances,
			Transactions: etherscan.Transactions,
		}}),
		Normalizer: normalizer.NewEvmNormalizer(chain.Ethereum, registry, aggregator),
		Registry:   registry,
	})
}

// balancerPoolTokensLookup resolves Balancer v3 pools to their underlying
// tokens through the protocol subgraph, caching the mapping.
func balancerPoolTokensLookup(client *fetchers.Client) balancerv3.PoolTokensFn {
	subgraph := fetchers.NewSubgraphClient(client, balancerV3SubgraphURL)
	var (
		mu     sync.Mutex
		cached map[common.Address][]common.Address
	)
	return func(pool common.Address) []common.Address {
		mu.Lock()
		defer mu.Unlock()
		if cached == nil {
			ctx, cancel := context.WithTimeout(context.Background(), subgraphBootstrapTimeout)
			defer cancel()
			poolTokens, err := subgraph.BalancerPoolTokens(ctx)
			if err != nil {
				log.Warnf("Failed to read balancer pool tokens from the subgraph: %s", err)
				return nil
			}
			cached = poolTokens
		}
		return cached[pool]
	}
}

// bootstrapCurveGauges loads the known gauge set from the protocol subgraph.
// It runs once at startup. Failures are non-fatal, but the gauge set is then
// left empty and gauge events are not decoded until the next start.
func bootstrapCurveGauges(client *fetchers.Client, d *curvegauge.Decoder, registry *decoder.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), subgraphBootstrapTimeout)
	defer cancel()
	subgraph := fetchers.NewSubgraphClient(client, curveGaugesSubgraphURL)
	gauges, err := subgraph.CurveGauges(ctx)
	if err != nil {
		log.Warnf("Failed to read curve gauges from the subgraph: %s", err)
		return
	}
	addresses := make([]common.Address, len(gauges))
	for i, gauge := range gauges {
		addresses[i] = gauge.Address
	}
	d.SetGauges(addresses)
	for _, address := range addresses {
		registry.RegisterAddressDecoder(address, d.DecodeGaugeEvent)
	}
	log.Infof("Loaded %d curve gauges", len(addresses))
}
