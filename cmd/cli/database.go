package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/freaksdesign/PertScan/internal/db"
	"github.com/freaksdesign/PertScan/internal/errors"
)

// DatabaseOperation represents a function that operates on a database connection.
type DatabaseOperation func(*db.DB) error

// connectDatabase opens the configured database and applies pending
// migrations.
func (a *app) connectDatabase(ctx context.Context) (*db.DB, error) {
	return a.openDatabase(ctx, true)
}

func (a *app) openDatabase(ctx context.Context, migrate bool) (*db.DB, error) {
	if !a.cfg.HasDatabase() {
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			"no database configured; set database.host, database.database and database.username",
			"database", nil)
	}

	connect := db.Connect
	if migrate {
		connect = db.ConnectAndMigrate
	}
	database, err := connect(ctx, &a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return database, nil
}

// withDatabase runs operation with a migrated connection and closes it
// afterwards.
func (a *app) withDatabase(ctx context.Context, operation DatabaseOperation) error {
	return a.runWithDatabase(ctx, true, operation)
}

// withSchemaDatabase is withDatabase without the automatic migration, for
// the migrate commands.
func (a *app) withSchemaDatabase(ctx context.Context, operation DatabaseOperation) error {
	return a.runWithDatabase(ctx, false, operation)
}

func (a *app) runWithDatabase(ctx context.Context, migrate bool, operation DatabaseOperation) error {
	database, err := a.openDatabase(ctx, migrate)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	return operation(database)
}
