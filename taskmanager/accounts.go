package taskmanager

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/dbaccess"
	"github.com/folionet/foliod/events"
)

// canonicalize validates a user-entered address for a chain and returns its
// canonical form.
func (tm *TaskManager) canonicalize(c chain.Chain, address string) (string, error) {
	switch c.Kind {
	case chain.KindBitcoin:
		if _, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams); err != nil {
			return "", &UserInputError{Err: errors.Wrapf(err, "invalid bitcoin address %q", address)}
		}
		return address, nil
	case chain.KindBitcoinCash:
		service, ok := tm.btcServices[c]
		if !ok || service.AddressBook == nil {
			return "", errors.Errorf("chain %s is not configured", c)
		}
		canonical, err := service.AddressBook.Track(address)
		if err != nil {
			return "", &UserInputError{Err: err}
		}
		return canonical, nil
	case chain.KindEvm:
		if !common.IsHexAddress(address) {
			return "", &UserInputError{Err: errors.Errorf("invalid evm address %q", address)}
		}
		return common.HexToAddress(address).Hex(), nil
	}
	return "", &UserInputError{Err: errors.Errorf("unknown chain %s", c)}
}

// AddAccounts validates and stores new tracked addresses, probes them for
// activity, flips previously orphaned staking events back, and schedules the
// initial backfill.
func (tm *TaskManager) AddAccounts(ctx context.Context, c chain.Chain, addresses []string, label string) error {
	chainName := c.String()
	accounts := make([]dbaccess.Account, 0, len(addresses))
	canonicals := make([]string, 0, len(addresses))
	for _, address := range addresses {
		canonical, err := tm.canonicalize(c, address)
		if err != nil {
			return err
		}
		canonicals = append(canonicals, canonical)
		accounts = append(accounts, dbaccess.Account{
			Chain:     chainName,
			Address:   address,
			Canonical: canonical,
			Label:     label,
		})
	}

	if err := tm.db.AddAccounts(accounts); err != nil {
		return &UserInputError{Err: err}
	}

	for _, account := range accounts {
		if err := tm.db.RewriteStakingEvents(c.Location(), account.Address, false); err != nil {
			log.Warnf("Failed to restore staking events of %s: %s", account.Address, err)
		}
	}

	if service, ok := tm.btcServices[c]; ok {
		if activity, err := service.Coordinator.HasActivity(ctx, canonicals); err == nil {
			for address, info := range activity {
				log.Infof("Added %s account %s (has transactions: %v, balance: %s)",
					chainName, address, info.HasTransactions, info.Balance)
			}
		} else {
			log.Warnf("Failed to probe activity of new %s accounts: %s", chainName, err)
		}
	}

	tm.scheduleAccounts(c, canonicals)
	return nil
}

// scheduleAccounts kicks off transaction queries for the given canonical
// addresses.
func (tm *TaskManager) scheduleAccounts(c chain.Chain, canonicals []string) {
	if service, ok := tm.btcServices[c]; ok {
		for _, canonical := range canonicals {
			canonical := canonical
			tm.trySchedule(chain.TransactionsFingerprint(c, canonical), func(ctx context.Context) error {
				return tm.queryBitcoinTransactions(ctx, service, canonical, nil)
			})
		}
	}
	if service, ok := tm.evmServices[c]; ok {
		for _, canonical := range canonicals {
			canonical := canonical
			tm.trySchedule(chain.TransactionsFingerprint(c, canonical), func(ctx context.Context) error {
				return tm.queryEvmTransactions(ctx, service, canonical, nil)
			})
		}
	}
}

// RemoveAccounts cancels the in-flight tasks of the addresses and cascades:
// query ranges and links are removed, raw transactions are preserved, and
// staking events whose recipient is no longer tracked become informational.
func (tm *TaskManager) RemoveAccounts(c chain.Chain, addresses []string) error {
	chainName := c.String()
	for _, address := range addresses {
		account, err := tm.db.GetAccount(chainName, address)
		if err != nil {
			return err
		}
		if account == nil {
			return &UserInputError{Err: errors.Errorf("address %s is not tracked on %s", address, chainName)}
		}

		tm.CancelTasksForAddresses(c, []string{account.Canonical})

		fingerprint := chain.TransactionsFingerprint(c, account.Canonical)
		if err := tm.db.RemoveAccount(chainName, address, account.Canonical, fingerprint); err != nil {
			return err
		}
		if err := tm.db.RewriteStakingEvents(c.Location(), account.Address, true); err != nil {
			log.Warnf("Failed to rewrite staking events of %s: %s", account.Address, err)
		}

		if service, ok := tm.btcServices[c]; ok && service.AddressBook != nil {
			service.AddressBook.Untrack(account.Canonical)
		}
	}
	return nil
}

// QueryTransactions forces a pull for an address (or all tracked addresses of
// the chain) in the given window and returns the resulting events. When a
// pull for the same fingerprint is already in flight, the fetch is skipped
// and the stored events are returned.
func (tm *TaskManager) QueryTransactions(
	ctx context.Context,
	c chain.Chain,
	address string,
	window *dbaccess.Interval,
) ([]*events.HistoryEvent, error) {

	chainName := c.String()
	var targets []dbaccess.Account
	if address != "" {
		account, err := tm.db.GetAccount(chainName, address)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, &UserInputError{Err: errors.Errorf("address %s is not tracked on %s", address, chainName)}
		}
		targets = []dbaccess.Account{*account}
	} else {
		accounts, err := tm.db.Accounts(chainName)
		if err != nil {
			return nil, err
		}
		targets = accounts
	}

	for _, account := range targets {
		account := account
		fingerprint := chain.TransactionsFingerprint(c, account.Canonical)
		var jobErr error
		ran := tm.runExclusive(fingerprint, func(jobCtx context.Context) {
			if service, ok := tm.btcServices[c]; ok {
				jobErr = tm.queryBitcoinTransactions(jobCtx, service, account.Canonical, window)
			} else if service, ok := tm.evmServices[c]; ok {
				jobErr = tm.queryEvmTransactions(jobCtx, service, account.Canonical, window)
			}
		})
		if ran && jobErr != nil && !errors.Is(jobErr, context.Canceled) {
			return nil, jobErr
		}
	}

	filter := &events.Filter{Location: c.Location()}
	if window != nil {
		filter.FromTimestamp = chain.TimestampMS(window.Start)
		filter.ToTimestamp = chain.TimestampMS(window.End)
	}
	if address != "" {
		filter.LocationLabel = address
	}
	return tm.db.GetEvents(filter)
}

// runExclusive runs a job synchronously under a fingerprint lock. Returns
// false when the fingerprint was already in flight; the job is then skipped,
// not queued.
func (tm *TaskManager) runExclusive(fingerprint string, job func(ctx context.Context)) bool {
	tm.mu.Lock()
	if _, running := tm.inflight[fingerprint]; running {
		tm.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithTimeout(
		context.Background(), time.Duration(tm.cfg.JobDeadlineMins)*time.Minute)
	tm.inflight[fingerprint] = cancel
	tm.mu.Unlock()
	defer func() {
		cancel()
		tm.mu.Lock()
		delete(tm.inflight, fingerprint)
		tm.mu.Unlock()
	}()

	job(ctx)
	return true
}
