package coordinator

import (
	"context"
	"math/big"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/evm"
	"github.com/folionet/foliod/fetchers"
)

// EvmCallback is one explorer's implementations of the EVM operations.
type EvmCallback struct {
	Name         string
	Balances     func(ctx context.Context, accounts []string) (map[string]*big.Int, error)
	Transactions func(ctx context.Context, accounts []string, options *fetchers.TxOptions) (int64, []*evm.Transaction, error)
}

// EvmCoordinator fans EVM-chain operations out over redundant explorers in
// priority order.
type EvmCoordinator struct {
	coordinator *Coordinator
	chain       chain.Chain
	callbacks   []EvmCallback
}

// NewEvmCoordinator creates a coordinator over the given explorers, tried in
// the given order.
func NewEvmCoordinator(c chain.Chain, callbacks []EvmCallback) *EvmCoordinator {
	return &EvmCoordinator{
		coordinator: New(),
		chain:       c,
		callbacks:   callbacks,
	}
}

// Balances queries the native balances of the accounts.
func (ec *EvmCoordinator) Balances(ctx context.Context, accounts []string) (map[string]*big.Int, error) {
	var result map[string]*big.Int
	attempts := make([]Attempt, len(ec.callbacks))
	for i, callback := range ec.callbacks {
		callback := callback
		attempts[i] = Attempt{Name: callback.Name}
		if callback.Balances != nil {
			attempts[i].Fn = func(ctx context.Context) error {
				balances, err := callback.Balances(ctx, accounts)
				if err != nil {
					return err
				}
				result = balances
				return nil
			}
		}
	}
	if err := ec.coordinator.Run(ctx, ec.chain.Location(), attempts); err != nil {
		return nil, err
	}
	return result, nil
}

// Transactions fetches the accounts' raw transactions, receipts included, in
// the options window.
func (ec *EvmCoordinator) Transactions(ctx context.Context, accounts []string, options *fetchers.TxOptions) (int64, []*evm.Transaction, error) {
	var (
		latestBlock int64
		txs         []*evm.Transaction
	)
	attempts := make([]Attempt, len(ec.callbacks))
	for i, callback := range ec.callbacks {
		callback := callback
		attempts[i] = Attempt{Name: callback.Name}
		if callback.Transactions != nil {
			attempts[i].Fn = func(ctx context.Context) error {
				block, fetched, err := callback.Transactions(ctx, accounts, options)
				if err != nil {
					return err
				}
				latestBlock, txs = block, fetched
				return nil
			}
		}
	}
	if err := ec.coordinator.Run(ctx, ec.chain.Location(), attempts); err != nil {
		return 0, nil, err
	}
	return latestBlock, txs, nil
}
