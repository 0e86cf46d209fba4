package main

import (
	"context"
	"fmt"

	"github.com/greyhawk/ocular/pkg/backend"
	"github.com/greyhawk/ocular/pkg/config"
	"github.com/greyhawk/ocular/pkg/control"
	"github.com/greyhawk/ocular/pkg/dlp"
	"github.com/greyhawk/ocular/pkg/logstore"
	"github.com/greyhawk/ocular/pkg/storage"
)

// openSurface loads config (or defaults) and opens a Control Surface
// over a freshly-opened database, for CLI subcommands that don't run
// the proxy server itself. The returned cleanup closes everything.
func openSurface(configPath string) (*control.Surface, func(), error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	patterns, err := dlp.NewStore(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open pattern store: %w", err)
	}
	registry, err := backend.NewRegistry(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open backend registry: %w", err)
	}
	logs := logstore.New(db)

	s := control.New(db, patterns, registry, logs, nil)
	cleanup := func() {
		logs.Close()
		_ = db.Close()
	}
	return s, cleanup, nil
}
