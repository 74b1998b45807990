package blob

import (
	"context"
	"fmt"
	"os"

	"ndxchannels/internal/infra/blob/fs"
	memorystore "ndxchannels/internal/infra/blob/memory"
	infraS3 "ndxchannels/internal/infra/blob/s3"
)

// Environment variables read by Open.
const (
	EnvDriver = "NDXCHANNELS_BLOB_DRIVER"
	EnvFSRoot = "NDXCHANNELS_BLOB_FS_ROOT"
)

// Open selects a Store implementation using environment variables.
//
//	NDXCHANNELS_BLOB_DRIVER: fs|s3|memory (default fs)
//	NDXCHANNELS_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	NDXCHANNELS_BLOB_S3_*: see internal/infra/blob/s3
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv(EnvDriver)
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv(EnvFSRoot))
	case DriverS3:
		store, err := infraS3.OpenFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem returns a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	store, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// S3Config configures NewS3.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	store, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMockS3ForTests returns an S3 store served by an in-process fake transport.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
