package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"odmcore/internal/infra/blob/fs"
	memorystore "odmcore/internal/infra/blob/memory"
	infraS3 "odmcore/internal/infra/blob/s3"
)

// S3Config re-exports the S3 driver configuration.
type S3Config = infraS3.Config

// Config selects and configures a driver.
type Config struct {
	Driver Driver   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// Environment variables read by ConfigFromEnv:
//
//	ODM_BLOB_DRIVER        fs|s3|memory (default fs)
//	ODM_BLOB_FS_ROOT       root directory for fs (default ./artifacts)
//	ODM_BLOB_S3_BUCKET     bucket, required for s3
//	ODM_BLOB_S3_REGION     region (default us-east-1)
//	ODM_BLOB_S3_ENDPOINT   custom endpoint, e.g. MinIO
//	ODM_BLOB_S3_PATH_STYLE true|false
//	ODM_BLOB_S3_PREFIX     key prefix inside the bucket
//
// Credentials come from the standard AWS_* variables.
const envPrefix = "ODM_BLOB_"

// ConfigFromEnv overlays ODM_BLOB_* variables on base.
func ConfigFromEnv(base Config) Config {
	get := func(name string) (string, bool) { return os.LookupEnv(envPrefix + name) }
	if v, ok := get("DRIVER"); ok {
		base.Driver = Driver(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := get("FS_ROOT"); ok {
		base.FSRoot = v
	}
	if v, ok := get("S3_BUCKET"); ok {
		base.S3.Bucket = v
	}
	if v, ok := get("S3_REGION"); ok {
		base.S3.Region = v
	}
	if v, ok := get("S3_ENDPOINT"); ok {
		base.S3.Endpoint = v
	}
	if v, ok := get("S3_PATH_STYLE"); ok {
		base.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if v, ok := get("S3_PREFIX"); ok {
		base.S3.Prefix = v
	}
	return base
}

// Open builds the store selected by cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewFilesystem returns a filesystem store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns an S3 store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMockS3ForTests exposes the fake bucket to tests in other packages.
func NewMockS3ForTests(prefix string) Store { return infraS3.NewMockForTests(prefix) }
