package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/donorline/donorline-go/internal/httpapi"
	"github.com/donorline/donorline-go/internal/platform/auditlog"
	"github.com/donorline/donorline-go/internal/platform/auth"
	"github.com/donorline/donorline-go/internal/platform/httpserver"
	pgrepo "github.com/donorline/donorline-go/internal/repo/postgres"
)

func newServeCmd() *cobra.Command {
	var (
		addr    string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the entity API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger()

			httpCfg, err := httpserver.ConfigFromEnv(serviceName)
			if err != nil {
				return configErr("server", err)
			}
			if addr != "" {
				httpCfg.Addr = addr
			}
			authCfg, err := auth.ConfigFromEnv()
			if err != nil {
				return configErr("auth", err)
			}

			a, err := openApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				applied, err := pgrepo.ApplyMigrations(ctx, a.db)
				if err != nil {
					return err
				}
				logger.Info("migrations applied", "count", len(applied), "files", applied)
			}

			authenticator, err := auth.New(ctx, authCfg)
			if err != nil {
				return configErr("auth", err)
			}
			var mw *auth.Middleware
			if authenticator != nil {
				mw = &auth.Middleware{
					Logger:        logger,
					Authenticator: authenticator,
					Authorize:     auth.ActionRoleAuthorizer(),
					Audit: func(ctx context.Context, ev auth.DenyEvent) error {
						return auditlog.InsertAuthDeny(ctx, a.db, serviceName, ev)
					},
				}
			} else {
				logger.Warn("authentication disabled", "mode", string(authCfg.Mode))
			}

			api, err := httpapi.New(ctx, logger, a.gateway, mw)
			if err != nil {
				return err
			}

			checks := []httpserver.ReadinessCheck{{
				Name:  "postgres",
				Check: httpserver.WithTimeout(2*time.Second, a.db.PingContext),
			}}
			if a.store != nil {
				checks = append(checks, httpserver.ReadinessCheck{
					Name:  "objectstore",
					Check: httpserver.WithTimeout(2*time.Second, a.checkObjectStore),
				})
			}

			mux := http.NewServeMux()
			mux.Handle("GET /healthz", httpserver.Healthz(serviceName))
			mux.Handle("GET /readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
			api.Register(mux)

			return httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, mux))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides DONORLINE_HTTP_ADDR)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}
