package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/goliatone/go-accounts/config"
	"github.com/goliatone/go-accounts/middleware/csrf"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config *config.Config
	bunDB  *bun.DB
	repo   accounts.RepositoryManager
	auther *accounts.RouteAuthenticator
	srv    router.Server[*fiber.App]
	logger *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	cfg, err := config.Load(os.Args[1:])

	lgr := newLogger(err == nil && cfg.Debug)

	if err != nil {
		lgr.GetLogger("config").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.Debug {
		fmt.Println(dumpConfig(cfg))
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		app.GetLogger("persistence").Error("failed to set up persistence", "error", err)
		os.Exit(1)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		app.GetLogger("http").Error("failed to set up http server", "error", err)
		os.Exit(1)
	}

	if err := WithAccounts(ctx, app); err != nil {
		app.GetLogger("accounts").Error("failed to set up accounts", "error", err)
		os.Exit(1)
	}

	app.srv.Serve(cfg.Server.Address)

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	if err := app.bunDB.Close(); err != nil {
		app.GetLogger("persistence").Error("failed to close database", "error", err)
	}
}

func newLogger(debug bool) *glog.BaseLogger {
	level := glog.Info
	if debug {
		level = glog.Trace
	}

	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("accounts"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.Persistence

	var db *bun.DB
	switch cfg.Driver {
	case accounts.DialectPostgres:
		sqldb, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return err
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if cfg.Debug {
		db.AddQueryHook(queryLogger{logger: app.GetLogger("persistence:sql")})
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "database is not reachable")
	}

	if err := accounts.Migrate(ctx, db.DB, cfg.Driver); err != nil {
		return err
	}

	repo := accounts.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	app.bunDB = db
	app.repo = repo

	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	engine := django.NewFileSystem(http.FS(accounts.GetViewsFS()), ".html")
	engine.Reload(app.config.Debug)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.config.Debug,
			StrictRouting:     false,
			PassLocalsToViews: true,
			Views:             engine,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))
	srv.Router().Use(mflash.New(mflash.ConfigDefault))

	csrfKey := sha256.Sum256([]byte(app.config.Auth.SigningKey))
	srv.Router().Use(csrf.New(csrf.Config{
		SecureKey:  csrfKey[:],
		Expiration: app.config.Auth.TokenExpiration,
	}))

	srv.Router().Get("/", func(ctx router.Context) error {
		return ctx.Redirect("/dashboard", http.StatusFound)
	})

	app.srv = srv

	return nil
}

func WithAccounts(_ context.Context, app *App) error {
	cfg := app.config
	key := []byte(cfg.Auth.SigningKey)

	activityLogger := app.GetLogger("accounts:activity")
	sink := activitymap.NewSink(func(_ context.Context, record activitymap.Record) error {
		activityLogger.Info("activity",
			"verb", record.Verb,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"channel", record.Channel,
			"metadata", record.Metadata,
			"occurred_at", record.OccurredAt,
		)
		return nil
	})

	provider := accounts.NewUserProvider(app.repo.Users()).
		WithLoggerProvider(app.logger)

	sessions := accounts.NewSessionTokenService(key, cfg.Auth.TokenExpiration, cfg.Auth.Issuer, cfg.Auth.Audience).
		WithLogger(app.GetLogger("accounts:session"))

	authenticator := accounts.NewAuthenticator(provider, sessions).
		WithLogger(app.GetLogger("accounts:auth")).
		WithActivitySink(sink)

	app.auther = accounts.NewHTTPAuthenticator(authenticator, accounts.SessionConfig{
		CookieName:            cfg.Auth.CookieName,
		LoginRoute:            "/login",
		TokenExpiration:       cfg.Auth.TokenExpiration,
		ExtendedTokenDuration: cfg.Auth.ExtendedTokenDuration,
		Secure:                cfg.Auth.CookieSecure,
	}).WithLogger(app.GetLogger("accounts:http"))

	renderer, err := accounts.NewDefaultMailRenderer()
	if err != nil {
		return err
	}

	var mailer accounts.Mailer
	switch cfg.Mail.Driver {
	case "smtp":
		mailer = accounts.NewSMTPMailer(accounts.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}).WithLogger(app.GetLogger("accounts:mail"))
	default:
		mailer = accounts.NewLogMailer(app.GetLogger("accounts:mail"))
	}

	var throttle accounts.MailThrottle
	if cfg.Mail.RatePerHour > 0 {
		throttle = accounts.NewRateMailThrottle(cfg.Mail.RatePerHour, cfg.Mail.Burst)
	}

	features := accounts.StaticFeatureGate{
		gate.FeatureUsersSignup:        cfg.Features.Signup,
		gate.FeatureUsersPasswordReset: cfg.Features.PasswordReset,
	}

	accounts.RegisterRoutes(app.srv.Router().Group("/"),
		accounts.WithRepositoryManager(app.repo),
		accounts.WithHTTPAuthenticator(app.auther),
		accounts.WithActivation(
			accounts.NewActivationTokenService(key),
			cfg.Auth.ActivationTimeout(),
			accounts.RepeatActivationPolicy(cfg.Auth.ActivationRepeatPolicy),
		),
		accounts.WithMail(renderer, mailer, throttle),
		accounts.WithPasswordResetTimeout(cfg.Auth.PasswordResetTimeout),
		accounts.WithSite(cfg.Server.Protocol, cfg.Server.Domain),
		accounts.WithFeatureGate(features),
		accounts.WithControllerActivitySink(sink),
		accounts.WithControllerLogger(app.GetLogger("accounts:ctrl")),
		accounts.WithDebug(cfg.Debug),
	)

	return nil
}

type queryLogger struct {
	logger glog.Logger
}

func (q queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (q queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if event.Err != nil && event.Err != sql.ErrNoRows {
		q.logger.Error("query failed", "query", event.Query, "error", event.Err)
		return
	}
	q.logger.Debug("query", "query", event.Query, "duration", time.Since(event.StartTime))
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}

func dumpConfig(cfg *config.Config) string {
	return print.MaybePrettyJSON(cfg)
}
