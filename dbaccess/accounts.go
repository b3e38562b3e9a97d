package dbaccess

import (
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// AddAccounts stores new tracked addresses. Adding an address that is already
// tracked is an error surfaced to the caller.
func (ctx *DatabaseContext) AddAccounts(accounts []Account) error {
	return ctx.withTransaction(func(dbTx *gorm.DB) error {
		for i := range accounts {
			var existing Account
			dbResult := dbTx.
				Where(&Account{Chain: accounts[i].Chain, Address: accounts[i].Address}).
				First(&existing)
			if dbResult.Error == nil {
				return errors.Errorf("address %s is already tracked on %s",
					accounts[i].Address, accounts[i].Chain)
			}
			if !gorm.IsRecordNotFoundError(dbResult.Error) {
				return errors.Wrap(dbResult.Error, "checking for existing account")
			}
			if err := dbTx.Create(&accounts[i]).Error; err != nil {
				return errors.Wrap(err, "inserting account")
			}
		}
		return nil
	})
}

// RemoveAccount deletes a tracked address together with its query ranges and
// raw-transaction links, in one transaction. Raw transactions and history
// events are preserved; the caller handles the staking-event rewrite.
func (ctx *DatabaseContext) RemoveAccount(chainName, address, canonical, fingerprint string) error {
	return ctx.withTransaction(func(dbTx *gorm.DB) error {
		dbResult := dbTx.
			Where(&Account{Chain: chainName, Address: address}).
			Delete(Account{})
		if dbResult.Error != nil {
			return errors.Wrap(dbResult.Error, "deleting account")
		}
		if dbResult.RowsAffected == 0 {
			return errors.Errorf("address %s is not tracked on %s", address, chainName)
		}
		if err := dbTx.Where(&QueryRange{Fingerprint: fingerprint}).Delete(QueryRange{}).Error; err != nil {
			return errors.Wrap(err, "deleting query ranges of removed account")
		}
		err := dbTx.
			Where(&RawTransactionLink{Chain: chainName, Address: canonical}).
			Delete(RawTransactionLink{}).Error
		return errors.Wrap(err, "deleting links of removed account")
	})
}

// Accounts returns the tracked addresses of a chain, or of all chains when
// chainName is empty.
func (ctx *DatabaseContext) Accounts(chainName string) ([]Account, error) {
	var rows []Account
	query := ctx.db
	if chainName != "" {
		query = query.Where(&Account{Chain: chainName})
	}
	if dbResult := query.Order("id ASC").Find(&rows); dbResult.Error != nil {
		return nil, errors.Wrap(dbResult.Error, "reading accounts")
	}
	return rows, nil
}

// GetAccount returns the tracked account with the given user-entered address.
func (ctx *DatabaseContext) GetAccount(chainName, address string) (*Account, error) {
	var row Account
	dbResult := ctx.db.Where(&Account{Chain: chainName, Address: address}).First(&row)
	if gorm.IsRecordNotFoundError(dbResult.Error) {
		return nil, nil
	}
	if dbResult.Error != nil {
		return nil, errors.Wrap(dbResult.Error, "reading account")
	}
	return &row, nil
}
