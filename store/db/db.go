// Package db selects the database driver named by the runtime profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/jotlabs/memochat/internal/profile"
	"github.com/jotlabs/memochat/store"
	"github.com/jotlabs/memochat/store/db/postgres"
	"github.com/jotlabs/memochat/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
