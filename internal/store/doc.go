// Package store provides durable storage for users, cells and per-cell items.
//
// # Architecture
//
// Three interfaces split the surface by owner:
//
//   - UserStore: the router's user directory
//   - CellStore: the cell registry shared by the router and cellctl
//   - ItemStore: a cell gateway's per-user key/value items
//
// Store combines them. Every backend implements all three:
//
//   - SQLiteStore (modernc.org/sqlite): default, single node
//   - PostgresStore (pgx + goose migrations): shared by router replicas
//   - DynamoStore (aws-sdk-go-v2): serverless deployments
//   - MockStore: in-memory, for tests
//
// # Conditional Writes
//
// Router replicas race on the same username and cellctl runs race on the
// same cell, so no method reads and then writes:
//
//   - CreateUser / CreateCell insert only if the key is free (ErrAlreadyExists)
//   - TransitionCell is compare-and-set on status (ErrStatusConflict)
//   - DeleteCell removes and returns the row in one statement
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrAlreadyExists: insert-if-absent lost
//   - ErrStatusConflict: cell was not in an expected status
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests with real SQL.
package store
