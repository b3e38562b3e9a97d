package dbaccess

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	"github.com/folionet/foliod/config"
)

// DatabaseContext represents a context in which all database queries run.
type DatabaseContext struct {
	db *gorm.DB
}

// Connect connects to the database and validates that the schema is current.
func Connect(cfg *config.Config) (*DatabaseContext, error) {
	connectionString := buildConnectionString(cfg)
	migrator, err := openMigrator(cfg, connectionString)
	if err != nil {
		return nil, err
	}
	isCurrent, version, err := isCurrent(migrator)
	if err != nil {
		return nil, errors.Errorf("Error checking whether the database is current: %s", err)
	}
	if !isCurrent {
		return nil, errors.Errorf("Database is not current (version %d). Please migrate "+
			"the database by running the server with --migrate flag and then run it again.", version)
	}

	db, err := gorm.Open("mysql", connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to the database")
	}
	db.SetLogger(gormLogger{})

	return &DatabaseContext{db: db}, nil
}

// Close closes the DatabaseContext's connection, if it's open.
func (ctx *DatabaseContext) Close() error {
	if ctx.db == nil {
		return nil
	}
	return ctx.db.Close()
}

// withTransaction runs fn inside a single database transaction, committing on
// nil error and rolling back otherwise.
func (ctx *DatabaseContext) withTransaction(fn func(dbTx *gorm.DB) error) error {
	dbTx := ctx.db.Begin()
	if dbTx.Error != nil {
		return errors.Wrap(dbTx.Error, "beginning transaction")
	}
	if err := fn(dbTx); err != nil {
		dbTx.Rollback()
		return err
	}
	return errors.Wrap(dbTx.Commit().Error, "committing transaction")
}

// Migrate migrates the database to the latest version.
func Migrate(cfg *config.Config) error {
	migrator, err := openMigrator(cfg, buildConnectionString(cfg))
	if err != nil {
		return err
	}
	isCurrent, version, err := isCurrent(migrator)
	if err != nil {
		return errors.Errorf("Error checking whether the database is current: %s", err)
	}
	if isCurrent {
		log.Infof("Database is already up-to-date (version %d)", version)
		return nil
	}
	err = migrator.Up()
	if err != nil {
		return errors.Wrap(err, "migrating the database")
	}
	version, isDirty, err := migrator.Version()
	if err != nil {
		return errors.Wrap(err, "reading the database version after migration")
	}
	if isDirty {
		return errors.New("error migrating database: database is dirty")
	}
	log.Infof("Migrated database to the latest version (version %d)", version)
	return nil
}

// latestMigrationVersion must be bumped whenever a migration file is added
// under the migrations directory.
const latestMigrationVersion = 1

func openMigrator(cfg *config.Config, connectionString string) (*migrate.Migrate, error) {
	migrator, err := migrate.New(
		"file://"+cfg.MigrationsPath, "mysql://"+connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "opening the migrator")
	}
	return migrator, nil
}

func isCurrent(migrator *migrate.Migrate) (bool, uint, error) {
	version, isDirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, errors.Wrap(err, "reading the database version")
	}
	if isDirty {
		return false, version, errors.New("database is dirty")
	}
	return version == latestMigrationVersion, version, nil
}

func buildConnectionString(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True",
		cfg.DBUser, cfg.DBPassword, cfg.DBAddress, cfg.DBName)
}

type gormLogger struct{}

func (l gormLogger) Print(v ...interface{}) {
	log.Debugf("%s", fmt.Sprint(v...))
}
