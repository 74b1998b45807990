// Package blob is the entry point for blob storage. Callers depend on the
// Store interface; concrete drivers live under internal/infra/blob.
package blob

import (
	"ndxchannels/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
	ContentTypeJSON  = core.ContentTypeJSON
)

var (
	ErrNotFound   = core.ErrNotFound
	ErrExists     = core.ErrExists
	ErrInvalidKey = core.ErrInvalidKey
)
