// ABOUTME: Store construction from database configuration
// ABOUTME: Selects the SQLite, Postgres or DynamoDB backend by driver name

package store

import (
	"context"
	"fmt"

	"github.com/2389/cellular/internal/config"
)

// Open builds the configured backend. dynamo is only called for the
// dynamodb driver so other deployments never load AWS configuration.
func Open(ctx context.Context, cfg config.DatabaseConfig, dynamo func(context.Context) (DynamoAPI, error)) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewSQLiteStore(cfg.Path)
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	case config.DriverDynamoDB:
		if dynamo == nil {
			return nil, fmt.Errorf("dynamodb driver requires an AWS client")
		}
		client, err := dynamo(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating dynamodb client: %w", err)
		}
		return NewDynamoStore(client, DynamoTables{
			Users: cfg.UsersTable,
			Cells: cfg.CellsTable,
			Items: cfg.ItemsTable,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
