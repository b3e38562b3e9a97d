package taskmanager

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/bitcoincash"
	"github.com/folionet/foliod/config"
	"github.com/folionet/foliod/coordinator"
	"github.com/folionet/foliod/dbaccess"
	"github.com/folionet/foliod/decoder"
	"github.com/folionet/foliod/normalizer"
	"github.com/folionet/foliod/notifications"
)

const (
	balanceCacheTTL        = 5 * time.Minute
	balanceCacheSize       = 4096
	premiumRefreshInterval = 24 * time.Hour
	decodeBatchSize        = 500
)

// BitcoinChainService bundles everything the task manager needs to ingest one
// bitcoin-family chain.
type BitcoinChainService struct {
	Chain       chain.Chain
	Coordinator *coordinator.BitcoinCoordinator
	Normalizer  *normalizer.BitcoinNormalizer

	// AddressBook is set for Bitcoin Cash, where canonical and display
	// forms differ.
	AddressBook *bitcoincash.AddressBook
}

// EvmChainService bundles everything the task manager needs to ingest one EVM
// chain.
type EvmChainService struct {
	Chain       chain.Chain
	Coordinator *coordinator.EvmCoordinator
	Normalizer  *normalizer.EvmNormalizer
	Registry    *decoder.Registry
}

// PremiumRefresher re-validates premium credentials against the remote
// service.
type PremiumRefresher interface {
	Refresh(ctx context.Context) error
}

// TaskManager schedules and throttles the ingestion jobs: it enforces
// at-most-one-in-flight per fingerprint, bounds parallelism with a pool, and
// surfaces progress over the notification channel.
type TaskManager struct {
	cfg        *config.Config
	db         *dbaccess.DatabaseContext
	hub        *notifications.Hub
	aggregator *notifications.Aggregator

	btcServices map[chain.Chain]*BitcoinChainService
	evmServices map[chain.Chain]*EvmChainService
	premium     PremiumRefresher

	pool *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	balanceCache *expirable.LRU[string, decimal.Decimal]

	lastPremiumRefresh time.Time
	missingKeyNotified map[string]bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a task manager. Chain services are registered with
// RegisterBitcoinChain / RegisterEvmChain before Start.
func New(
	cfg *config.Config,
	db *dbaccess.DatabaseContext,
	hub *notifications.Hub,
	aggregator *notifications.Aggregator,
) *TaskManager {
	return &TaskManager{
		cfg:         cfg,
		db:          db,
		hub:         hub,
		aggregator:  aggregator,
		btcServices: make(map[chain.Chain]*BitcoinChainService),
		evmServices: make(map[chain.Chain]*EvmChainService),
		pool:        semaphore.NewWeighted(cfg.SchedulerPoolSize),
		inflight:    make(map[string]context.CancelFunc),
		balanceCache: expirable.NewLRU[string, decimal.Decimal](
			balanceCacheSize, nil, balanceCacheTTL),
		missingKeyNotified: make(map[string]bool),
		quit:               make(chan struct{}),
	}
}

// RegisterBitcoinChain registers a bitcoin-family chain service.
func (tm *TaskManager) RegisterBitcoinChain(service *BitcoinChainService) {
	tm.btcServices[service.Chain] = service
}

// RegisterEvmChain registers an EVM chain service.
func (tm *TaskManager) RegisterEvmChain(service *EvmChainService) {
	tm.evmServices[service.Chain] = service
}

// SetPremiumRefresher registers the premium credentials refresher.
func (tm *TaskManager) SetPremiumRefresher(refresher PremiumRefresher) {
	tm.premium = refresher
}

// Start launches the periodic scheduling loop.
func (tm *TaskManager) Start() {
	tm.wg.Add(1)
	spawn(func() {
		defer tm.wg.Done()
		ticker := time.NewTicker(time.Duration(tm.cfg.PollIntervalSecs) * time.Second)
		defer ticker.Stop()
		tm.schedulePass()
		for {
			select {
			case <-tm.quit:
				return
			case <-ticker.C:
				tm.schedulePass()
			}
		}
	})
}

// Stop cancels all in-flight tasks and waits for them to unwind.
func (tm *TaskManager) Stop() {
	close(tm.quit)
	tm.mu.Lock()
	for _, cancel := range tm.inflight {
		cancel()
	}
	tm.mu.Unlock()
	tm.wg.Wait()
}

// schedulePass schedules one round of periodic jobs.
func (tm *TaskManager) schedulePass() {
	for _, service := range tm.btcServices {
		service := service
		accounts, err := tm.db.Accounts(service.Chain.String())
		if err != nil {
			log.Errorf("Failed to read %s accounts: %s", service.Chain, err)
			continue
		}
		for _, account := range accounts {
			canonical := account.Canonical
			fingerprint := chain.TransactionsFingerprint(service.Chain, canonical)
			tm.trySchedule(fingerprint, func(ctx context.Context) error {
				return tm.queryBitcoinTransactions(ctx, service, canonical, nil)
			})
		}
		tm.trySchedule("decode:"+service.Chain.String(), func(ctx context.Context) error {
			return tm.decodePendingBitcoin(ctx, service)
		})
	}
	for _, service := range tm.evmServices {
		service := service
		accounts, err := tm.db.Accounts(service.Chain.String())
		if err != nil {
			log.Errorf("Failed to read %s accounts: %s", service.Chain, err)
			continue
		}
		for _, account := range accounts {
			address := account.Canonical
			fingerprint := chain.TransactionsFingerprint(service.Chain, address)
			tm.trySchedule(fingerprint, func(ctx context.Context) error {
				return tm.queryEvmTransactions(ctx, service, address, nil)
			})
		}
		tm.trySchedule("decode:"+service.Chain.String(), func(ctx context.Context) error {
			return tm.decodePendingEvm(ctx, service)
		})
	}

	tm.trySchedule("balances", tm.refreshBalances)

	if tm.premium != nil && time.Since(tm.lastPremiumRefresh) >= premiumRefreshInterval {
		tm.trySchedule("premium", tm.refreshPremium)
	}
}

// trySchedule runs a job in the pool under a fingerprint lock. Attempts to
// schedule a fingerprint that is already in flight are dropped, not queued.
func (tm *TaskManager) trySchedule(fingerprint string, job func(ctx context.Context) error) {
	tm.mu.Lock()
	if _, running := tm.inflight[fingerprint]; running {
		tm.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(
		context.Background(), time.Duration(tm.cfg.JobDeadlineMins)*time.Minute)
	tm.inflight[fingerprint] = cancel
	tm.mu.Unlock()

	tm.wg.Add(1)
	spawn(func() {
		defer tm.wg.Done()
		defer func() {
			cancel()
			tm.mu.Lock()
			delete(tm.inflight, fingerprint)
			tm.mu.Unlock()
		}()

		if err := tm.pool.Acquire(ctx, 1); err != nil {
			return // cancelled while waiting for a pool slot
		}
		defer tm.pool.Release(1)

		err := job(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Cancellation is success-with-no-new-data.
			log.Debugf("Task %s cancelled", fingerprint)
		default:
			// The range was not recorded; the next schedule retries.
			log.Errorf("Task %s failed: %s", fingerprint, err)
		}
	})
}

// CancelTasksForAddresses raises a cooperative cancel in all in-flight tasks
// of the given addresses. Tasks unwind without writing partial state.
func (tm *TaskManager) CancelTasksForAddresses(c chain.Chain, canonicalAddresses []string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, address := range canonicalAddresses {
		fingerprint := chain.TransactionsFingerprint(c, address)
		if cancel, ok := tm.inflight[fingerprint]; ok {
			cancel()
		}
	}
}
