package main

import (
	"context"

	"github.com/vango-dev/tablesync/internal/config"
	"github.com/vango-dev/tablesync/internal/errors"
	"github.com/vango-dev/tablesync/pkg/store"
)

// openStore opens the snapshot store the store section selects.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewMemoryStore(), nil

	case config.DriverFile:
		return store.NewFileStore(cfg.StoreDir())

	case config.DriverSQLite:
		var opts []store.SQLStoreOption
		if cfg.Store.Table != "" {
			opts = append(opts, store.WithSQLTableName(cfg.Store.Table))
		}
		return store.OpenSQLite(ctx, cfg.StorePath(), opts...)

	case config.DriverS3:
		s3cfg := cfg.Store.S3
		client := store.NewS3Client(store.S3Options{
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			UsePathStyle:    s3cfg.UsePathStyle,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		return store.NewS3Store(client, s3cfg.Bucket, s3cfg.Prefix), nil
	}

	return nil, errors.New(errors.CodeConfigInvalid).
		WithDetailf("unknown store.driver %q", cfg.Store.Driver)
}
