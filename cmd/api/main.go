package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/orderflow/internal/app"
	"github.com/imrishuroy/orderflow/internal/auth"
	"github.com/imrishuroy/orderflow/internal/config"
	"github.com/imrishuroy/orderflow/internal/handlers"
	"github.com/imrishuroy/orderflow/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cliApp := &cli.App{
		Name:  "orderflow-api",
		Usage: "cart, order and return workflows over HTTP",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API (local server when RUN_LOCAL=true, Lambda otherwise)",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply SQL schema migrations",
				Action: migrate,
			},
			{
				Name:  "token",
				Usage: "print a signed access token for local testing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true, Usage: "user id to put in sub"},
					&cli.StringFlag{Name: "role", Value: "user", Usage: "user or admin"},
				},
				Action: token,
			},
		},
		DefaultCommand: "serve",
	}
	if err := cliApp.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("orderflow-api failed")
	}
}

func load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat), nil
}

func serve(c *cli.Context) error {
	cfg, log, err := load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("close resources")
		}
	}()

	r := handlers.SetupRouter(a.HandlerConfig())

	if !cfg.RunLocal {
		adapter := ginadapter.New(r)
		lambda.StartWithOptions(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			return adapter.ProxyWithContext(ctx, req)
		}, lambda.WithContext(ctx))
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("running local server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func migrate(c *cli.Context) error {
	cfg, log, err := load()
	if err != nil {
		return err
	}
	if cfg.StoreBackend != config.BackendPostgres && cfg.StoreBackend != config.BackendSQLite {
		return errors.New("migrate needs STORE_BACKEND=postgres or sqlite")
	}
	s, err := app.OpenSQL(c.Context, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Migrate(); err != nil {
		return err
	}
	log.WithField("backend", cfg.StoreBackend).Info("migrations applied")
	return nil
}

func token(c *cli.Context) error {
	cfg, _, err := load()
	if err != nil {
		return err
	}
	p, err := auth.NewJWTProvider(cfg.JWTAccessSecret)
	if err != nil {
		return fmt.Errorf("JWT_ACCESS_SECRET: %w", err)
	}
	signed, err := p.Issue(c.String("user"), auth.Role(c.String("role")), cfg.JWTTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, signed)
	return nil
}
