package core

import (
	"fmt"
	"os"

	"ndxchannels/internal/infra/persistence/memory"
	"ndxchannels/internal/infra/persistence/postgres"
	"ndxchannels/internal/infra/persistence/sqlite"
	"ndxchannels/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Environment variables read by OpenPersistentStore.
const (
	EnvStorageDriver = "NDXCHANNELS_STORAGE_DRIVER"
	EnvSQLitePath    = "NDXCHANNELS_SQLITE_PATH"
	EnvPostgresDSN   = "NDXCHANNELS_POSTGRES_DSN"
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	NDXCHANNELS_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	NDXCHANNELS_SQLITE_PATH: path to sqlite file (default ./ndxchannels.db)
//	NDXCHANNELS_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := os.Getenv(EnvStorageDriver)
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(os.Getenv(EnvSQLitePath), engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(os.Getenv(EnvPostgresDSN), engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
