package archive

import (
	"context"
	"fmt"

	"alchemy/internal/archive/core"
	"alchemy/internal/config"
	"alchemy/internal/infra/archive/fs"
	"alchemy/internal/infra/archive/memory"
	"alchemy/internal/infra/archive/s3"
)

// Open selects an archive store from cfg. An empty driver defaults to fs.
func Open(ctx context.Context, cfg config.Archive) (Store, error) {
	driver := core.Driver(cfg.Driver)
	if driver == "" {
		driver = core.DriverFilesystem
	}
	switch driver {
	case core.DriverFilesystem:
		store, err := fs.New(cfg.Root)
		if err != nil {
			return nil, err
		}
		return store, nil
	case core.DriverMemory:
		return memory.New(), nil
	case core.DriverS3:
		store, err := s3.New(ctx, s3.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			Prefix:          cfg.Prefix,
			PathStyle:       cfg.UsePathStyle,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}
