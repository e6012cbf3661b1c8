package sqlite

import (
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/jotlabs/memochat/internal/profile"
	"github.com/jotlabs/memochat/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN. SQLite is the
// default driver: the engine is a single-writer local store, which is the
// workload SQLite with WAL handles best.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No shared-cache: it's obsolete; WAL journal mode is a better solution.
	// - No foreign key constraints: the message->session relation is
	//   validated by the engine, and the delete cascade runs in one
	//   transaction here, so the pragma only adds surprise on upgrades.
	// - Journal mode set to WAL: recommended for most applications as it
	//   prevents locking issues.
	//
	// Notes:
	// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	//
	// References:
	// - https://pkg.go.dev/modernc.org/sqlite#Driver.Open
	// - https://www.sqlite.org/pragma.html
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// Single connection is optimal with WAL for a single-writer local store.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}
