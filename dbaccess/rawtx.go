package dbaccess

import (
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// RawTxRecord is one raw transaction ready for storage, together with the
// tracked addresses that appear in it.
type RawTxRecord struct {
	TxID            string
	Block           int64
	TimestampMS     int64
	Fee             string
	Payload         []byte
	LinkedAddresses []string
}

// InsertRawTransactions stores a batch of raw transactions, their address
// links, and the query-range update of a successful fetch in one database
// transaction. Writing the same transaction twice is a no-op, so a crash
// between fetch and record is tolerated. Returns the tx ids that were
// actually new.
func (ctx *DatabaseContext) InsertRawTransactions(
	chainName string,
	records []RawTxRecord,
	fingerprint string,
	fetched *Interval,
) ([]string, error) {

	var newTxIDs []string
	err := ctx.withTransaction(func(dbTx *gorm.DB) error {
		for _, record := range records {
			var existing RawTransaction
			dbResult := dbTx.
				Where(&RawTransaction{Chain: chainName, TxID: record.TxID}).
				First(&existing)
			if dbResult.Error != nil && !gorm.IsRecordNotFoundError(dbResult.Error) {
				return errors.Wrap(dbResult.Error, "checking for existing raw transaction")
			}
			if gorm.IsRecordNotFoundError(dbResult.Error) {
				row := RawTransaction{
					Chain:       chainName,
					TxID:        record.TxID,
					Block:       record.Block,
					TimestampMS: record.TimestampMS,
					Fee:         record.Fee,
					Payload:     record.Payload,
				}
				if err := dbTx.Create(&row).Error; err != nil {
					return errors.Wrap(err, "inserting raw transaction")
				}
				newTxIDs = append(newTxIDs, record.TxID)
			}

			for _, address := range record.LinkedAddresses {
				link := RawTransactionLink{Chain: chainName, TxID: record.TxID, Address: address}
				var existingLink RawTransactionLink
				dbResult := dbTx.Where(&link).First(&existingLink)
				if gorm.IsRecordNotFoundError(dbResult.Error) {
					if err := dbTx.Create(&link).Error; err != nil {
						return errors.Wrap(err, "inserting raw transaction link")
					}
				} else if dbResult.Error != nil {
					return errors.Wrap(dbResult.Error, "checking for existing raw transaction link")
				}
			}
		}

		if fetched != nil {
			if err := recordRangeTx(dbTx, fingerprint, fetched.Start, fetched.End); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newTxIDs, nil
}

// RawTransactionsForAddress returns the stored raw transactions linked to an
// address on a chain, ordered by timestamp.
func (ctx *DatabaseContext) RawTransactionsForAddress(chainName, address string) ([]RawTransaction, error) {
	var rows []RawTransaction
	dbResult := ctx.db.
		Joins("JOIN raw_transaction_links ON raw_transaction_links.chain = raw_transactions.chain"+
			" AND raw_transaction_links.tx_id = raw_transactions.tx_id").
		Where("raw_transaction_links.address = ? AND raw_transactions.chain = ?", address, chainName).
		Order("raw_transactions.timestamp_ms ASC").
		Find(&rows)
	if dbResult.Error != nil {
		return nil, errors.Wrap(dbResult.Error, "reading raw transactions for address")
	}
	return rows, nil
}

// PendingDecode returns raw transactions of a chain whose stored decode
// version is older than the current decoder schema version.
func (ctx *DatabaseContext) PendingDecode(chainName string, schemaVersion int, limit int) ([]RawTransaction, error) {
	var rows []RawTransaction
	query := ctx.db.
		Where("chain = ? AND decoded_schema_version < ?", chainName, schemaVersion).
		Order("timestamp_ms ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if dbResult := query.Find(&rows); dbResult.Error != nil {
		return nil, errors.Wrap(dbResult.Error, "reading pending raw transactions")
	}
	return rows, nil
}

// MarkDecoded stamps a raw transaction with the decoder schema version its
// events were produced under.
func (ctx *DatabaseContext) MarkDecoded(chainName, txID string, schemaVersion int) error {
	dbResult := ctx.db.Model(&RawTransaction{}).
		Where(&RawTransaction{Chain: chainName, TxID: txID}).
		Update("decoded_schema_version", schemaVersion)
	return errors.Wrap(dbResult.Error, "marking raw transaction decoded")
}

// PurgeChainData deletes all raw transactions and links of a chain. Admin
// operation only.
func (ctx *DatabaseContext) PurgeChainData(chainName string) error {
	return ctx.withTransaction(func(dbTx *gorm.DB) error {
		if err := dbTx.Where(&RawTransaction{Chain: chainName}).Delete(RawTransaction{}).Error; err != nil {
			return errors.Wrap(err, "purging raw transactions")
		}
		if err := dbTx.Where(&RawTransactionLink{Chain: chainName}).Delete(RawTransactionLink{}).Error; err != nil {
			return errors.Wrap(err, "purging raw transaction links")
		}
		return nil
	})
}

// DeleteLinksForAddress removes the address→transaction links of a removed
// address. The raw transactions themselves are preserved since another
// address may refer to them.
func (ctx *DatabaseContext) DeleteLinksForAddress(chainName, address string) error {
	dbResult := ctx.db.
		Where(&RawTransactionLink{Chain: chainName, Address: address}).
		Delete(RawTransactionLink{})
	return errors.Wrap(dbResult.Error, "deleting raw transaction links")
}
