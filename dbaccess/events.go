package dbaccess

import (
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/events"
)

// IgnoredActionTypeHistoryEvent is the action type under which ignored
// history-event identifiers are recorded.
const IgnoredActionTypeHistoryEvent = "history event"

// InsertEvents appends normalized history events. Inserting an event whose
// (event identifier, sequence index) already exists is a silent skip so that
// re-decodes are idempotent.
func (ctx *DatabaseContext) InsertEvents(eventList []*events.HistoryEvent) error {
	return ctx.withTransaction(func(dbTx *gorm.DB) error {
		return insertEventsTx(dbTx, eventList)
	})
}

// InsertEventsMarkDecoded appends the events of a decoded transaction and
// stamps the raw transaction with the decoder schema version, atomically.
func (ctx *DatabaseContext) InsertEventsMarkDecoded(
	chainName, txID string,
	schemaVersion int,
	eventList []*events.HistoryEvent,
) error {
	return ctx.withTransaction(func(dbTx *gorm.DB) error {
		if err := insertEventsTx(dbTx, eventList); err != nil {
			return err
		}
		dbResult := dbTx.Model(&RawTransaction{}).
			Where(&RawTransaction{Chain: chainName, TxID: txID}).
			Update("decoded_schema_version", schemaVersion)
		return errors.Wrap(dbResult.Error, "marking raw transaction decoded")
	})
}

// ReplaceEventsForIdentifier deletes all events of a logical operation and
// inserts the replacements in one transaction. Used for re-decoding when the
// decoder schema version advances. User-edited notes on events that survive
// with the same (identifier, sequence index) key are preserved.
func (ctx *DatabaseContext) ReplaceEventsForIdentifier(
	identifier string,
	eventList []*events.HistoryEvent,
) error {
	return ctx.withTransaction(func(dbTx *gorm.DB) error {
		var existing []HistoryEvent
		dbResult := dbTx.Where(&HistoryEvent{EventIdentifier: identifier}).Find(&existing)
		if dbResult.Error != nil {
			return errors.Wrap(dbResult.Error, "reading events for replacement")
		}
		customNotes := make(map[uint64]string)
		for _, row := range existing {
			if row.CustomizedNotes {
				customNotes[row.SequenceIndex] = row.Notes
			}
		}

		dbResult = dbTx.Where(&HistoryEvent{EventIdentifier: identifier}).Delete(HistoryEvent{})
		if dbResult.Error != nil {
			return errors.Wrap(dbResult.Error, "deleting events for replacement")
		}
		for _, event := range eventList {
			row, err := eventToModel(event)
			if err != nil {
				return err
			}
			if notes, ok := customNotes[event.SequenceIndex]; ok {
				// Conservative choice: a note the user edited survives
				// the re-decode.
				row.Notes = notes
				row.CustomizedNotes = true
			}
			if err := dbTx.Create(row).Error; err != nil {
				return errors.Wrap(err, "inserting replacement event")
			}
		}
		return nil
	})
}

// DeleteEventsForIdentifier removes all events of a logical operation.
func (ctx *DatabaseContext) DeleteEventsForIdentifier(identifier string) error {
	dbResult := ctx.db.Where(&HistoryEvent{EventIdentifier: identifier}).Delete(HistoryEvent{})
	return errors.Wrap(dbResult.Error, "deleting events")
}

// GetEvents returns stored events matching the filter ordered by
// (timestamp, event identifier, sequence index).
func (ctx *DatabaseContext) GetEvents(filter *events.Filter) ([]*events.HistoryEvent, error) {
	query := ctx.db.Model(&HistoryEvent{})
	if filter.FromTimestamp != 0 {
		query = query.Where("timestamp_ms >= ?", int64(filter.FromTimestamp))
	}
	if filter.ToTimestamp != 0 {
		query = query.Where("timestamp_ms <= ?", int64(filter.ToTimestamp))
	}
	if filter.Location != "" {
		query = query.Where("location = ?", filter.Location)
	}
	if filter.LocationLabel != "" {
		query = query.Where("location_label = ?", filter.LocationLabel)
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, eventType := range filter.EventTypes {
			types[i] = string(eventType)
		}
		query = query.Where("event_type IN (?)", types)
	}
	if filter.EventIdentifier != "" {
		query = query.Where("event_identifier = ?", filter.EventIdentifier)
	}
	if !filter.IncludeIgnored {
		query = query.Where(
			"event_identifier NOT IN (SELECT external_id FROM ignored_actions WHERE action_type = ?)",
			IgnoredActionTypeHistoryEvent)
	}
	query = query.Order("timestamp_ms ASC, event_identifier ASC, sequence_index ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []HistoryEvent
	if dbResult := query.Find(&rows); dbResult.Error != nil {
		return nil, errors.Wrap(dbResult.Error, "reading events")
	}
	result := make([]*events.HistoryEvent, len(rows))
	for i, row := range rows {
		event, err := modelToEvent(&row)
		if err != nil {
			return nil, err
		}
		result[i] = event
	}
	return result, nil
}

// UpdateEventNotes edits the user-editable notes field of a single event.
func (ctx *DatabaseContext) UpdateEventNotes(identifier string, sequenceIndex uint64, notes string) error {
	dbResult := ctx.db.Model(&HistoryEvent{}).
		Where("event_identifier = ? AND sequence_index = ?", identifier, sequenceIndex).
		Updates(map[string]interface{}{"notes": notes, "customized_notes": true})
	if dbResult.Error != nil {
		return errors.Wrap(dbResult.Error, "updating event notes")
	}
	if dbResult.RowsAffected == 0 {
		return errors.Errorf("no event with identifier %s and sequence index %d", identifier, sequenceIndex)
	}
	return nil
}

// RewriteStakingEvents flips staking events of a location/label pair to
// informational (when their recipient address stops being tracked) or back
// (on re-tracking). Only reward-subtype events are touched, so data-carrying
// informational events are never caught by the reverse direction.
func (ctx *DatabaseContext) RewriteStakingEvents(location, locationLabel string, toInformational bool) error {
	from, to := events.TypeStaking, events.TypeInformational
	if !toInformational {
		from, to = to, from
	}
	dbResult := ctx.db.Model(&HistoryEvent{}).
		Where("location = ? AND location_label = ? AND event_type = ? AND event_subtype = ?",
			location, locationLabel, string(from), string(events.SubtypeReward)).
		Update("event_type", string(to))
	return errors.Wrap(dbResult.Error, "rewriting staking events")
}

func insertEventsTx(dbTx *gorm.DB, eventList []*events.HistoryEvent) error {
	for _, event := range eventList {
		var existing HistoryEvent
		dbResult := dbTx.
			Where(&HistoryEvent{EventIdentifier: event.EventIdentifier}).
			Where("sequence_index = ?", event.SequenceIndex).
			First(&existing)
		if dbResult.Error == nil {
			continue // idempotent re-decode
		}
		if !gorm.IsRecordNotFoundError(dbResult.Error) {
			return errors.Wrap(dbResult.Error, "checking for existing event")
		}
		row, err := eventToModel(event)
		if err != nil {
			return err
		}
		if err := dbTx.Create(row).Error; err != nil {
			return errors.Wrap(err, "inserting event")
		}
	}
	return nil
}

func eventToModel(event *events.HistoryEvent) (*HistoryEvent, error) {
	extraData, err := event.SerializeExtraData()
	if err != nil {
		return nil, err
	}
	return &HistoryEvent{
		EventIdentifier: event.EventIdentifier,
		SequenceIndex:   event.SequenceIndex,
		TimestampMS:     int64(event.Timestamp),
		Location:        event.Location,
		EventType:       string(event.EventType),
		EventSubtype:    string(event.EventSubtype),
		Asset:           event.Asset,
		Amount:          event.Amount.String(),
		LocationLabel:   event.LocationLabel,
		Notes:           event.Notes,
		Counterparty:    event.Counterparty,
		Address:         event.Address,
		ExtraData:       extraData,
	}, nil
}

func modelToEvent(row *HistoryEvent) (*events.HistoryEvent, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing stored amount %q", row.Amount)
	}
	extraData, err := events.DeserializeExtraData(row.ExtraData)
	if err != nil {
		return nil, err
	}
	return &events.HistoryEvent{
		EventIdentifier: row.EventIdentifier,
		SequenceIndex:   row.SequenceIndex,
		Timestamp:       chain.TimestampMS(row.TimestampMS),
		Location:        row.Location,
		EventType:       events.EventType(row.EventType),
		EventSubtype:    events.EventSubtype(row.EventSubtype),
		Asset:           row.Asset,
		Amount:          amount,
		LocationLabel:   row.LocationLabel,
		Notes:           row.Notes,
		Counterparty:    row.Counterparty,
		Address:         row.Address,
		ExtraData:       extraData,
	}, nil
}
