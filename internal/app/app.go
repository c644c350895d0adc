// Package app assembles the dermascan services from settings and owns
// their shutdown order.
package app

import (
	"context"
	"io"
	"time"

	"github.com/dermascan/dermascan/internal/auth"
	"github.com/dermascan/dermascan/internal/buildinfo"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/examination"
	"github.com/dermascan/dermascan/internal/history"
	"github.com/dermascan/dermascan/internal/inference"
	"github.com/dermascan/dermascan/internal/logger"
	"github.com/dermascan/dermascan/internal/mqtt"
	"github.com/dermascan/dermascan/internal/notification"
	"github.com/dermascan/dermascan/internal/observability"
	"github.com/dermascan/dermascan/internal/storage"
)

const (
	telemetryFlushTimeout = 2 * time.Second
	redisDialTimeout      = 5 * time.Second
	slowInferenceWarning  = 20 * time.Second
)

// App holds every long-lived service of a running instance.
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
	Logger   logger.Logger
	Metrics  *observability.Metrics

	Store     datastore.Interface
	Bucket    storage.Bucket
	Predictor *inference.Client
	Auth      *auth.Service
	Cookies   *auth.CookieSessions
	Visits    *examination.Service
	History   *history.Service

	Notifier  *notification.Dispatcher
	MQTT      mqtt.Client
	Publisher *mqtt.Publisher

	closers []func()
}

// Option adjusts what New wires.
type Option func(*options)

type options struct {
	skipBroker bool
}

// WithoutBroker leaves MQTT and notifications unwired, for commands that
// never create examinations.
func WithoutBroker() Option {
	return func(o *options) { o.skipBroker = true }
}

// New opens the datastore and bucket and wires the workflow services. On
// error everything opened so far is closed again.
func New(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Settings: settings,
		Build:    build,
		Logger:   logger.Global().Module("app"),
	}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	if err := errors.InitSentry(settings.Telemetry.SentryDSN, settings.Main.Environment, build.Release()); err != nil {
		a.Logger.Warn("error reporting disabled", logger.Error(err))
	} else if settings.Telemetry.SentryDSN != "" {
		a.onClose(func() { errors.FlushTelemetry(telemetryFlushTimeout) })
	}

	var err error
	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}

	if err = a.openStore(); err != nil {
		return nil, err
	}
	if err = a.openBucket(); err != nil {
		return nil, err
	}
	if err = a.openAuth(ctx); err != nil {
		return nil, err
	}

	a.Predictor = inference.NewClient(inference.ConfigFromSettings(&settings.Inference), logger.Global().Module("inference"))
	a.Predictor.SetObserver(func(d time.Duration, err error) {
		if err == nil && d > slowInferenceWarning {
			a.Logger.Warn("classifier responded slowly", logger.Duration("elapsed", d))
		}
	})

	hooks := examination.Hooks{Metrics: a.Metrics.Workflow}
	if !o.skipBroker {
		if err = a.openNotifier(); err != nil {
			return nil, err
		}
		a.openBroker(ctx)
		if a.Notifier != nil {
			hooks.Alerts = a.Notifier
		}
		if a.Publisher != nil {
			hooks.Events = a.Publisher
		}
	}

	a.Visits = examination.NewService(examination.ConfigFromSettings(settings), a.Store, a.Bucket, a.Predictor,
		nil, hooks, logger.Global().Module("examination"))
	a.onClose(a.Visits.Close)

	a.History = history.NewService(a.Store, a.Bucket, settings.Workflow.HistoryPageSize, logger.Global().Module("history"))
	if a.Publisher != nil {
		a.History.SetHooks(a.Metrics.Workflow, a.Publisher)
	} else {
		a.History.SetHooks(a.Metrics.Workflow, nil)
	}

	a.Logger.Info("services ready",
		logger.String("version", build.Version()),
		logger.String("database", settings.Database.Driver),
		logger.String("storage", a.Bucket.Name()),
		logger.Bool("notifications", a.Notifier != nil),
		logger.Bool("mqtt", a.Publisher != nil))
	ready = true
	return a, nil
}

func (a *App) openStore() error {
	store, err := datastore.New(a.Settings)
	if err != nil {
		return err
	}
	if err := store.Open(); err != nil {
		return err
	}
	a.Store = store
	a.onClose(func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn("error closing datastore", logger.Error(err))
		}
	})
	return nil
}

func (a *App) openBucket() error {
	bucket, err := storage.New(&a.Settings.Storage, logger.Global().Module("storage"))
	if err != nil {
		return err
	}
	a.Bucket = bucket
	if c, ok := bucket.(io.Closer); ok {
		a.onClose(func() {
			if err := c.Close(); err != nil {
				a.Logger.Warn("error closing storage", logger.Error(err))
			}
		})
	}
	return nil
}

func (a *App) openAuth(ctx context.Context) error {
	cfg := a.Settings.Auth
	var revocations auth.RevocationStore
	if cfg.Redis.Addr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
		defer cancel()
		r, err := auth.DialRedisRevocations(dialCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		revocations = r
	}

	svc, err := auth.NewService(auth.Config{
		Secret:         []byte(cfg.JWTSecret),
		SessionTTL:     cfg.SessionTTL,
		BcryptCost:     cfg.BcryptCost,
		LoginPerMinute: cfg.LoginRateLimit,
	}, a.Store, revocations, logger.Global().Module("auth"))
	if err != nil {
		if revocations != nil {
			_ = revocations.Close()
		}
		return err
	}
	a.Auth = svc
	a.onClose(func() {
		if err := svc.Close(); err != nil {
			a.Logger.Warn("error closing session store", logger.Error(err))
		}
	})

	if cfg.CookieSecret != "" {
		a.Cookies = auth.NewCookieSessions([]byte(cfg.CookieSecret), cfg.CookieSecure)
	}
	return nil
}

func (a *App) openNotifier() error {
	d, err := notification.NewFromSettings(&a.Settings.Notification, logger.Global().Module("notification"))
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	d.SetObserver(a.Metrics.Notification)
	a.Notifier = d
	a.onClose(d.Close)
	return nil
}

// openBroker connects to MQTT. A broker that is down at startup is logged
// and examinations proceed without events.
func (a *App) openBroker(ctx context.Context) {
	if !a.Settings.MQTT.Enabled {
		return
	}
	log := logger.Global().Module("mqtt")
	client, err := mqtt.NewClient(mqtt.ConfigFromSettings(a.Settings), a.Metrics.MQTT, log)
	if err != nil {
		a.Logger.Warn("MQTT disabled", logger.Error(err))
		return
	}
	if err := client.Connect(ctx); err != nil {
		a.Logger.Warn("MQTT broker unreachable, events disabled", logger.Error(err))
		return
	}
	a.MQTT = client
	a.Publisher = mqtt.NewPublisher(client, log)
	a.onClose(client.Disconnect)
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases services in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
