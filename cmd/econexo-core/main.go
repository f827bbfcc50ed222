package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/econexo/backend/internal/controllers"
	"github.com/econexo/backend/internal/database"
	"github.com/econexo/backend/internal/push"
	"github.com/econexo/backend/internal/reminders"
	"github.com/econexo/backend/internal/rooms"
)

func main() {
	ctx := context.Background()
	ctx, _ = signal.NotifyContext(ctx, os.Interrupt)

	app := &cli.App{
		Name: "econexo-core",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Value: false,
				EnvVars: []string{
					"ECONEXO_CORE_DEBUG",
				},
			},
			&cli.StringFlag{
				Name:     "postgres-uri",
				Required: true,
				EnvVars: []string{
					"ECONEXO_CORE_POSTGRES_URI",
				},
			},
		},
		Before: func(cctx *cli.Context) (err error) {
			err = setupLogging(cctx.Bool("debug"))
			return
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the room and push-subscription API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "http-listen-address",
						Value: "127.0.0.1:3009",
						EnvVars: []string{
							"ECONEXO_CORE_HTTP_LISTEN_ADDRESS",
						},
					},
					&cli.StringFlag{
						Name: "session-secret",
						EnvVars: []string{
							"ECONEXO_CORE_SESSION_SECRET",
						},
					},
					&cli.StringSliceFlag{
						Name:  "allowed-origin",
						Value: cli.NewStringSlice("*"),
						EnvVars: []string{
							"ECONEXO_CORE_ALLOWED_ORIGINS",
						},
					},
					&cli.DurationFlag{
						Name:  "sweep-interval",
						Value: time.Minute,
						EnvVars: []string{
							"ECONEXO_CORE_SWEEP_INTERVAL",
						},
					},
				},
				Action: serve,
			},
			{
				Name:  "dispatch",
				Usage: "run a single reminder dispatch pass (intended for cron)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "vapid-public-key",
						Required: true,
						EnvVars: []string{
							"ECONEXO_CORE_VAPID_PUBLIC_KEY",
						},
					},
					&cli.StringFlag{
						Name:     "vapid-private-key",
						Required: true,
						EnvVars: []string{
							"ECONEXO_CORE_VAPID_PRIVATE_KEY",
						},
					},
					&cli.StringFlag{
						Name:  "vapid-contact",
						Value: "mailto:hello@econexo.org",
						EnvVars: []string{
							"ECONEXO_CORE_VAPID_CONTACT",
						},
					},
					&cli.StringFlag{
						Name:  "base-url",
						Value: "https://econexo.org",
						EnvVars: []string{
							"ECONEXO_CORE_BASE_URL",
						},
					},
					&cli.DurationFlag{
						Name:  "pass-timeout",
						Value: 5 * time.Minute,
						EnvVars: []string{
							"ECONEXO_CORE_PASS_TIMEOUT",
						},
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Value: 8,
						EnvVars: []string{
							"ECONEXO_CORE_DISPATCH_CONCURRENCY",
						},
					},
				},
				Action: dispatch,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		zap.L().Fatal("unhandled error", zap.Error(err))
	}
}

func setupLogging(debugMode bool) error {
	var cfg zap.Config

	if debugMode {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level.SetLevel(zapcore.DebugLevel)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.Development = false
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level.SetLevel(zapcore.InfoLevel)
	}

	cfg.OutputPaths = []string{
		"stdout",
	}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(logger)

	return nil
}

func openDatabase(cctx *cli.Context) (db *bun.DB, err error) {
	var dbConfig *pgx.ConnConfig
	if dbConfig, err = pgx.ParseConfig(cctx.String("postgres-uri")); err != nil {
		err = fmt.Errorf("unable to parse postgres uri: %w", err)
		return
	}

	sqldb := stdlib.OpenDB(*dbConfig)
	db = bun.NewDB(sqldb, pgdialect.New())

	if cctx.Bool("debug") {
		var dbLogger io.Writer = &zapio.Writer{Log: zap.L().With(zap.String("section", "bun")), Level: zapcore.DebugLevel}

		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.WithWriter(dbLogger),
		))
	}

	if _, err = db.ExecContext(cctx.Context, "SELECT 1"); err != nil {
		err = fmt.Errorf("failed to test database connection: %w", err)
		return
	}

	if err = database.Migrate(db); err != nil {
		return
	}

	return
}

func serve(cctx *cli.Context) (err error) {
	ctx := cctx.Context
	defer func() { _ = zap.L().Sync() }()

	var db *bun.DB
	if db, err = openDatabase(cctx); err != nil {
		return
	}
	defer func() { _ = db.Close() }()

	roomManager := rooms.NewManager()
	go roomManager.RunSweeper(ctx, cctx.Duration("sweep-interval"))

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	})

	if cctx.Bool("debug") {
		(&controllers.GoDebugController{Rooms: roomManager}).Register(router)
	}
	(&controllers.HealthController{DB: db}).Register(router)
	(&controllers.RoomController{
		Rooms:         roomManager,
		SessionSecret: cctx.String("session-secret"),
	}).Register(router)
	(&controllers.PushController{
		Subscriptions: &database.SubscriptionStore{DB: db},
	}).Register(router)

	srv := &http.Server{
		Addr: cctx.String("http-listen-address"),
		Handler: handlers.CORS(
			handlers.AllowedOrigins(cctx.StringSlice("allowed-origin")),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
			handlers.AllowCredentials(),
		)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	serverDone := make(chan interface{})
	go func() {
		zap.L().Info("serving requests", zap.String("addr", "http://"+srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("failed to listen for http requests", zap.Error(err))
		}
		close(serverDone)
	}()

	select {
	case <-serverDone:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	return
}

func dispatch(cctx *cli.Context) (err error) {
	defer func() { _ = zap.L().Sync() }()

	var db *bun.DB
	if db, err = openDatabase(cctx); err != nil {
		return
	}
	defer func() { _ = db.Close() }()

	engine := reminders.NewEngine(
		&database.EventStore{DB: db},
		&database.SubscriptionStore{DB: db},
		&database.NotificationLog{DB: db},
		push.NewSender(
			cctx.String("vapid-public-key"),
			cctx.String("vapid-private-key"),
			cctx.String("vapid-contact"),
		),
		cctx.String("base-url"),
		reminders.WithConcurrency(cctx.Int("concurrency")),
	)

	// A stuck provider must not block the next scheduled pass; anything cut
	// off by the deadline is retried safely next time.
	ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("pass-timeout"))
	defer cancel()

	result, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("dispatch pass: %w", err)
	}

	for _, msg := range result.Errors {
		zap.L().Warn("delivery failure", zap.String("detail", msg))
	}
	zap.L().Info("dispatch pass complete",
		zap.Int("sent", result.Sent),
		zap.Int("failures", len(result.Errors)))

	return
}
