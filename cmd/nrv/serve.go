package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/nerve/internal/api"
	"github.com/matiasleandrokruk/nerve/internal/domain/devorch"
	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
	"github.com/matiasleandrokruk/nerve/internal/server"
	"github.com/matiasleandrokruk/nerve/internal/toolserver"
	pkgauth "github.com/matiasleandrokruk/nerve/pkg/auth"
)

func (a *app) serveDevCmd() *cobra.Command {
	var addr, apiKey string
	cmd := &cobra.Command{
		Use:   "serve-dev",
		Short: "Serve the in-process development orchestrator over HTTP",
		Long: `Serve the development orchestrator: a fixed capability snapshot and
scripted task streams, behind the same HTTP API a real orchestrator exposes.

NRV_JWT_SECRET signs session tokens. Clients authenticate with the API key
whose bcrypt hash is NRV_DEV_API_KEY_HASH (see 'nrv hash-key'), or with
--accept-key for a quick local run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.DevAddr
			}
			cfg, err := serverConfig(addr)
			if err != nil {
				return &usageError{err: err}
			}

			issuer, err := pkgauth.NewIssuer(a.cfg.JWTSecret, pkgauth.ParseTTL(a.cfg.TokenTTL))
			if err != nil {
				return &usageError{err: fmt.Errorf("NRV_JWT_SECRET: %w", err)}
			}
			hash := a.cfg.DevAPIKeyHash
			if apiKey != "" {
				if hash, err = pkgauth.HashAPIKey(apiKey); err != nil {
					return err
				}
			}
			if hash == "" {
				return &usageError{err: errors.New("no API key: set NRV_DEV_API_KEY_HASH or pass --accept-key")}
			}

			var snap *orch.CapabilitySnapshot
			if a.cfg.DevSnapshot != "" {
				if snap, err = orch.LoadSnapshot(a.cfg.DevSnapshot); err != nil {
					return err
				}
			}

			router := api.NewRouter(api.Deps{
				Orchestrator: devorch.New(snap, devorch.WithLogger(a.logger)),
				Issuer:       issuer,
				APIKeyHash:   hash,
				Logger:       a.logger,
			})
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.NewServer(router, cfg, a.logger).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides NRV_DEV_ADDR)")
	cmd.Flags().StringVar(&apiKey, "accept-key", "", "accept this API key instead of NRV_DEV_API_KEY_HASH")
	return cmd
}

func serverConfig(addr string) (server.Config, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return server.Config{}, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return server.Config{}, fmt.Errorf("listen port %q: %w", portStr, err)
	}
	cfg := server.DefaultConfig()
	cfg.Host, cfg.Port = host, port
	return cfg, nil
}

func (a *app) mcpCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the patch toolkit as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			guard := a.guard()
			if root != "" {
				guard.Root = root
			}
			if guard.Root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				guard.Root = wd
			}
			store, err := a.openJournal(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := toolserver.New(toolserver.Config{
				Guard:        guard,
				Journal:      store,
				BackupSuffix: a.cfg.BackupSuffix,
				Logger:       a.logger,
			})
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "directory tool paths resolve under (default: working directory)")
	return cmd
}

func (a *app) hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Print the bcrypt hash to use as NRV_DEV_API_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := pkgauth.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, hash) //nolint:errcheck
			return nil
		},
	}
}
