package dbaccess

import (
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// MissingRanges returns the sub-intervals of [start, end] that have not yet
// been fetched for the given fingerprint, in ascending order.
func (ctx *DatabaseContext) MissingRanges(fingerprint string, start, end int64) ([]Interval, error) {
	recorded, err := ctx.recordedIntervals(ctx.db, fingerprint)
	if err != nil {
		return nil, err
	}
	return missingIntervals(recorded, Interval{Start: start, End: end}), nil
}

// RecordedRanges returns the coalesced intervals already fetched for the
// fingerprint.
func (ctx *DatabaseContext) RecordedRanges(fingerprint string) ([]Interval, error) {
	return ctx.recordedIntervals(ctx.db, fingerprint)
}

func (ctx *DatabaseContext) recordedIntervals(dbTx *gorm.DB, fingerprint string) ([]Interval, error) {
	var rows []QueryRange
	dbResult := dbTx.
		Where(&QueryRange{Fingerprint: fingerprint}).
		Order("start_ts ASC").
		Find(&rows)
	if dbResult.Error != nil {
		return nil, errors.Wrap(dbResult.Error, "reading query ranges")
	}
	intervals := make([]Interval, len(rows))
	for i, row := range rows {
		intervals[i] = Interval{Start: row.StartTS, End: row.EndTS}
	}
	return intervals, nil
}

// RecordRange adds [start, end] to the fetched ranges of the fingerprint,
// coalescing adjacent and overlapping intervals, atomically.
func (ctx *DatabaseContext) RecordRange(fingerprint string, start, end int64) error {
	return ctx.withTransaction(func(dbTx *gorm.DB) error {
		return recordRangeTx(dbTx, fingerprint, start, end)
	})
}

// recordRangeTx performs the range merge inside an existing transaction so
// that callers can combine it with raw-transaction inserts.
func recordRangeTx(dbTx *gorm.DB, fingerprint string, start, end int64) error {
	var rows []QueryRange
	dbResult := dbTx.
		Where(&QueryRange{Fingerprint: fingerprint}).
		Order("start_ts ASC").
		Find(&rows)
	if dbResult.Error != nil {
		return errors.Wrap(dbResult.Error, "reading query ranges")
	}
	intervals := make([]Interval, len(rows))
	for i, row := range rows {
		intervals[i] = Interval{Start: row.StartTS, End: row.EndTS}
	}

	merged := mergeInterval(intervals, Interval{Start: start, End: end})

	dbResult = dbTx.Where(&QueryRange{Fingerprint: fingerprint}).Delete(QueryRange{})
	if dbResult.Error != nil {
		return errors.Wrap(dbResult.Error, "clearing query ranges")
	}
	for _, interval := range merged {
		row := QueryRange{Fingerprint: fingerprint, StartTS: interval.Start, EndTS: interval.End}
		if err := dbTx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "inserting query range")
		}
	}
	return nil
}

// DeleteRanges removes all fetched ranges of the fingerprint. Called when the
// corresponding address is removed.
func (ctx *DatabaseContext) DeleteRanges(fingerprint string) error {
	dbResult := ctx.db.Where(&QueryRange{Fingerprint: fingerprint}).Delete(QueryRange{})
	return errors.Wrap(dbResult.Error, "deleting query ranges")
}
