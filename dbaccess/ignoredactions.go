package dbaccess

import (
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// IgnoreActions marks the given external ids of an action type as excluded
// from accounting. Already-ignored ids are skipped.
func (ctx *DatabaseContext) IgnoreActions(actionType string, externalIDs []string) error {
	return ctx.withTransaction(func(dbTx *gorm.DB) error {
		for _, externalID := range externalIDs {
			row := IgnoredAction{ActionType: actionType, ExternalID: externalID}
			var existing IgnoredAction
			dbResult := dbTx.Where(&row).First(&existing)
			if dbResult.Error == nil {
				continue
			}
			if !gorm.IsRecordNotFoundError(dbResult.Error) {
				return errors.Wrap(dbResult.Error, "checking for existing ignored action")
			}
			if err := dbTx.Create(&row).Error; err != nil {
				return errors.Wrap(err, "inserting ignored action")
			}
		}
		return nil
	})
}

// UnignoreActions removes the given external ids from the ignored set.
func (ctx *DatabaseContext) UnignoreActions(actionType string, externalIDs []string) error {
	dbResult := ctx.db.
		Where("action_type = ? AND external_id IN (?)", actionType, externalIDs).
		Delete(IgnoredAction{})
	return errors.Wrap(dbResult.Error, "deleting ignored actions")
}

// IgnoredActions returns all ignored external ids of an action type.
func (ctx *DatabaseContext) IgnoredActions(actionType string) ([]string, error) {
	var rows []IgnoredAction
	dbResult := ctx.db.Where(&IgnoredAction{ActionType: actionType}).Find(&rows)
	if dbResult.Error != nil {
		return nil, errors.Wrap(dbResult.Error, "reading ignored actions")
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ExternalID
	}
	return ids, nil
}
