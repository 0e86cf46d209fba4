package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/greyhawk/ocular/pkg/backend"
	"github.com/greyhawk/ocular/pkg/config"
	"github.com/greyhawk/ocular/pkg/dlp"
	"github.com/greyhawk/ocular/pkg/logstore"
	"github.com/greyhawk/ocular/pkg/proxy"
	"github.com/greyhawk/ocular/pkg/ratelimit"
	"github.com/greyhawk/ocular/pkg/storage"
	"github.com/spf13/cobra"
)

func newProxyCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Start the DLP reverse proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			patterns, err := dlp.NewStore(ctx, db)
			if err != nil {
				return fmt.Errorf("init pattern store: %w", err)
			}
			registry, err := backend.NewRegistry(ctx, db)
			if err != nil {
				return fmt.Errorf("init backend registry: %w", err)
			}
			logs := logstore.New(db)
			defer logs.Close()

			srv := proxy.New(cfg, patterns, registry, ratelimit.New(), logs)

			log.Printf("starting ocular proxy with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ocular.yaml", "path to config file")
	return cmd
}
