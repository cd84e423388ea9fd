package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed *.sql
var files embed.FS

var ErrDirty = errors.New("keyboard history schema is dirty")

// Migrate brings the keyboard history schema to the latest version. A
// database left dirty by an interrupted migration is refused.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}

	from, dirty, err := migrator.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case dirty:
		return fmt.Errorf("%w at version %d", ErrDirty, from)
	}

	err = migrator.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Debugw("keyboard history schema up to date", "version", from)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate up from version %d: %w", from, err)
	}

	to, _, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.Infow("migrated keyboard history schema", "from", from, "to", to)

	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return migrator, nil
}
