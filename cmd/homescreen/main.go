package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/disciple-tools/homescreen-apps/internal/accounts"
	"github.com/disciple-tools/homescreen-apps/internal/boot"
	"github.com/disciple-tools/homescreen-apps/internal/config"
	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/db"
	"github.com/disciple-tools/homescreen-apps/internal/dispatcher"
	"github.com/disciple-tools/homescreen-apps/internal/handlers"
	"github.com/disciple-tools/homescreen-apps/internal/logger"
	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
	"github.com/disciple-tools/homescreen-apps/internal/mycontacts"
	"github.com/disciple-tools/homescreen-apps/internal/notify"
	"github.com/disciple-tools/homescreen-apps/internal/schedule"
	"github.com/disciple-tools/homescreen-apps/internal/server"
	"github.com/disciple-tools/homescreen-apps/internal/templates"
	"github.com/disciple-tools/homescreen-apps/internal/version"
)

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			boot.ProvideRuntimeConfig,
			provideLogger,

			provideDBConn,
			fx.Annotate(crm.NewPGStore, fx.As(new(crm.Store))),
			provideNotifier,
			notify.NewService,
			provideMagicLinks,
			provideTemplates,

			func(store crm.Store) accounts.Store { return store },
			accounts.NewService,
			func(links *magiclink.Service) dispatcher.Linker { return links },
			func(links *magiclink.Service) handlers.Verifier { return links },
			dispatcher.NewService,
			mycontacts.NewService,
			templates.NewRunner,
			provideSchedule,

			provideServerHandler(providePingHandler),
			provideServerHandler(provideSwaggerHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideDispatcherHandler),
			provideServerHandler(provideMyContactsHandler),
			provideServerHandler(provideTemplatesHandler),
			provideServerHandler(handlers.NewAppsHandler),

			provideServer,
		),
		fx.Invoke(
			startScheduleService,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

// provideNotifier fans events out to every configured sink. With neither RabbitMQ nor
// SMTP configured, events are dropped.
func provideNotifier(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (notify.Notifier, error) {
	var sinks notify.Multi
	if cfg.RabbitMQ.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		conn, err := notify.DialWithRetry(ctx, notify.ConnectionOptions{
			URL:           cfg.RabbitMQ.URL,
			RetryAttempts: cfg.RabbitMQ.RetryAttempts,
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		publisher, err := notify.NewPublisher(log, conn, cfg.RabbitMQ.Exchange)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if err := publisher.Close(); err != nil {
					return fmt.Errorf("close publisher: %w", err)
				}
				return nil
			},
		})
		sinks = append(sinks, publisher)
	}
	if cfg.SMTP.Enabled() {
		mailer, err := notify.NewMailer(log, cfg.SMTP)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, mailer)
	}
	if len(sinks) == 0 {
		log.Info("no notification sinks configured")
		return notify.Nop{}, nil
	}
	return sinks, nil
}

func provideMagicLinks(log *slog.Logger, store crm.Store, rc *boot.RuntimeConfig) *magiclink.Service {
	return magiclink.NewService(log, store, rc.Root, rc.BaseURL, magiclink.DefaultApps)
}

func provideTemplates() (*templates.Registry, error) {
	defs, err := templates.Builtin()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return templates.NewRegistry(defs), nil
}

func provideSchedule(log *slog.Logger, store crm.Store, notifier *notify.Service, cfg config.Config) (*schedule.Service, error) {
	return schedule.NewService(log, store, notifier, cfg.Schedule)
}

func providePingHandler(log *slog.Logger, conn *pgxpool.Pool) *handlers.PingHandler {
	return handlers.NewPingHandler(log, conn)
}

func provideSwaggerHandler(log *slog.Logger) *handlers.SwaggerHandler {
	return handlers.NewSwaggerHandler(log, "")
}

func provideAuthHandler(log *slog.Logger, accountService *accounts.Service, rc *boot.RuntimeConfig) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, accountService, rc.JwtSecret, rc.JwtExpiresIn)
}

func provideDispatcherHandler(log *slog.Logger, service *dispatcher.Service, accountService *accounts.Service, rc *boot.RuntimeConfig) *handlers.DispatcherHandler {
	return handlers.NewDispatcherHandler(log, service, accountService, rc.Root)
}

func provideMyContactsHandler(log *slog.Logger, service *mycontacts.Service, links handlers.Verifier, rc *boot.RuntimeConfig) *handlers.MyContactsHandler {
	return handlers.NewMyContactsHandler(log, service, links, rc.Root)
}

func provideTemplatesHandler(log *slog.Logger, registry *templates.Registry, runner *templates.Runner, links handlers.Verifier, rc *boot.RuntimeConfig) *handlers.TemplatesHandler {
	return handlers.NewTemplatesHandler(log, registry, runner, links, rc.Root)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, server.Options{
		Addr:      params.RuntimeConfig.ServerAddr,
		JWTSecret: params.RuntimeConfig.JwtSecret,
		Root:      params.RuntimeConfig.Root,
		RateLimit: params.Config.RateLimit,
	}, params.ServerHandlers...)
}

func startScheduleService(lc fx.Lifecycle, scheduleService *schedule.Service, cfg config.Config, logger *slog.Logger) {
	if cfg.Schedule.Disabled {
		logger.Info("stale digest disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduleService.Start()
		},
		OnStop: func(ctx context.Context) error {
			return scheduleService.Stop(ctx)
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
) {
	fmt.Printf("Starting homescreen apps %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
