// Package migrations embeds the SQL schema migrations and runs them with
// golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// FS holds the *.sql migration files.
//
//go:embed *.sql
var FS embed.FS

// Direction selects which way Run migrates.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Status reports the schema state after Run.
type Status struct {
	Version  uint
	Dirty    bool
	NoChange bool
}

// Run migrates the database at dsn. steps of 0 applies every pending
// migration in the given direction.
//
// Precondition: dsn must be a postgres:// URL.
// Postcondition: Returns the resulting schema Status or a non-nil error.
func Run(dsn string, dir Direction, steps int) (Status, error) {
	src, err := iofs.New(FS, ".")
	if err != nil {
		return Status{}, fmt.Errorf("opening embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return Status{}, fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	switch dir {
	case Up:
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case Down:
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return Status{}, fmt.Errorf("invalid direction %q: must be 'up' or 'down'", dir)
	}

	var st Status
	if errors.Is(err, migrate.ErrNoChange) {
		st.NoChange = true
	} else if err != nil {
		return Status{}, fmt.Errorf("migration failed: %w", err)
	}

	st.Version, st.Dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return st, fmt.Errorf("reading schema version: %w", err)
	}
	return st, nil
}
