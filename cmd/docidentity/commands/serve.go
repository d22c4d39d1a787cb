package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/api"
	"github.com/danghamo/docidentity/internal/api/auth"
	"github.com/danghamo/docidentity/internal/api/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON-RPC admin API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	env, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer env.close()

	env.log.Info("Starting docidentity admin API",
		zap.String("version", Version),
		zap.String("environment", env.cfg.Server.Environment),
	)

	deps := api.Dependencies{
		Users: env.stores.Users,
		Roles: env.stores.Roles,
		JWT:   auth.NewJWTService(env.cfg.Auth.JWTSecret, env.cfg.Auth.JWTIssuer, env.cfg.Auth.JWTExpiration),
		Bus:   env.bus,
		Audit: env.audit,
		Info: handlers.ServerInfo{
			Version:       Version,
			Environment:   env.cfg.Server.Environment,
			Backend:       env.cfg.Store.Backend,
			Collection:    env.cfg.Store.Collection,
			Partitioned:   env.cfg.Store.Partitioned,
			EventsEnabled: env.bus != nil,
		},
	}
	if env.handle.Redis != nil {
		deps.Health = map[string]api.HealthChecker{"redis": env.handle.Redis}
	}

	server, err := api.NewServer(env.cfg, env.log, deps)
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	go func() {
		select {
		case <-quit:
			env.log.Info("Shutting down server...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := server.Start(ctx); err != nil {
		env.log.Error("Server error", zap.Error(err))
		return err
	}

	env.log.Info("Server gracefully stopped")
	return nil
}
