package coordinator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/bitcoin"
	"github.com/folionet/foliod/fetchers"
)

// BtcCallback is one provider's implementations of the bitcoin-family
// operations. Nil members mark operations the provider does not support.
type BtcCallback struct {
	Name         string
	Balances     func(ctx context.Context, accounts []string) (map[string]decimal.Decimal, error)
	HasActivity  func(ctx context.Context, accounts []string) (map[string]fetchers.Activity, error)
	Transactions func(ctx context.Context, accounts []string, options *fetchers.TxOptions) (int64, []*bitcoin.Tx, error)
}

// BitcoinCoordinator fans bitcoin-family operations out over redundant
// providers in priority order.
type BitcoinCoordinator struct {
	coordinator *Coordinator
	chain       chain.Chain
	callbacks   []BtcCallback
}

// NewBitcoinCoordinator creates a coordinator over the given providers,
// tried in the given order.
func NewBitcoinCoordinator(c chain.Chain, callbacks []BtcCallback) *BitcoinCoordinator {
	return &BitcoinCoordinator{
		coordinator: New(),
		chain:       c,
		callbacks:   callbacks,
	}
}

// Balances queries the balances of the accounts from the first provider able
// to answer.
func (bc *BitcoinCoordinator) Balances(ctx context.Context, accounts []string) (map[string]decimal.Decimal, error) {
	var result map[string]decimal.Decimal
	attempts := make([]Attempt, len(bc.callbacks))
	for i, callback := range bc.callbacks {
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
	if err := bc.coordinator.Run(ctx, bc.chain.Location(), attempts); err != nil {
		return nil, err
	}
	return result, nil
}

// HasActivity probes the accounts for any on-chain history.
func (bc *BitcoinCoordinator) HasActivity(ctx context.Context, accounts []string) (map[string]fetchers.Activity, error) {
	var result map[string]fetchers.Activity
	attempts := make([]Attempt, len(bc.callbacks))
	for i, callback := range bc.callbacks {
		callback := callback
		attempts[i] = Attempt{Name: callback.Name}
		if callback.HasActivity != nil {
			attempts[i].Fn = func(ctx context.Context) error {
				activity, err := callback.HasActivity(ctx, accounts)
				if err != nil {
					return err
				}
				result = activity
				return nil
			}
		}
	}
	if err := bc.coordinator.Run(ctx, bc.chain.Location(), attempts); err != nil {
		return nil, err
	}
	return result, nil
}

// Transactions fetches the accounts' raw transactions in the options window.
func (bc *BitcoinCoordinator) Transactions(ctx context.Context, accounts []string, options *fetchers.TxOptions) (int64, []*bitcoin.Tx, error) {
	var (
		latestBlock int64
		txs         []*bitcoin.Tx
	)
	attempts := make([]Attempt, len(bc.callbacks))
	for i, callback := range bc.callbacks {
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
	if err := bc.coordinator.Run(ctx, bc.chain.Location(), attempts); err != nil {
		return 0, nil, err
	}
	return latestBlock, txs, nil
}
