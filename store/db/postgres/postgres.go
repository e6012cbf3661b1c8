package postgres

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	// Import the Postgres driver.
	_ "github.com/lib/pq"

	"github.com/jotlabs/memochat/internal/profile"
	"github.com/jotlabs/memochat/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a Postgres database specified by the profile DSN. Postgres is
// the driver for shared deployments where more than one instance reads the
// same history.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	driver := DB{db: postgresDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns the numbered Postgres placeholder for position n.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
