package dbaccess

import (
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// GetSetting reads a named setting. Returns the fallback when unset.
func (ctx *DatabaseContext) GetSetting(name, fallback string) (string, error) {
	var row Setting
	dbResult := ctx.db.Where(&Setting{Name: name}).First(&row)
	if gorm.IsRecordNotFoundError(dbResult.Error) {
		return fallback, nil
	}
	if dbResult.Error != nil {
		return "", errors.Wrap(dbResult.Error, "reading setting")
	}
	return row.Value, nil
}

// SetSetting writes a named setting, overwriting any previous value.
func (ctx *DatabaseContext) SetSetting(name, value string) error {
	return ctx.withTransaction(func(dbTx *gorm.DB) error {
		var row Setting
		dbResult := dbTx.Where(&Setting{Name: name}).First(&row)
		if gorm.IsRecordNotFoundError(dbResult.Error) {
			return errors.Wrap(dbTx.Create(&Setting{Name: name, Value: value}).Error, "inserting setting")
		}
		if dbResult.Error != nil {
			return errors.Wrap(dbResult.Error, "reading setting")
		}
		row.Value = value
		return errors.Wrap(dbTx.Save(&row).Error, "updating setting")
	})
}
