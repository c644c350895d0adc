package app

import (
	"context"

	"github.com/dermascan/dermascan/internal/api"
	v1 "github.com/dermascan/dermascan/internal/api/v1"
	"github.com/dermascan/dermascan/internal/logger"
)

// NewServer builds the HTTP server over the app's services.
func (a *App) NewServer() (*api.Server, error) {
	return api.New(a.Settings,
		api.WithLogger(logger.Global().Module("api")),
		api.WithMetrics(a.Metrics),
		api.WithController(
			v1.WithAuth(a.Auth, a.Cookies),
			v1.WithExaminations(a.Visits),
			v1.WithHistory(a.History),
			v1.WithDataStore(a.Store),
			v1.WithBucket(a.Bucket),
		),
	)
}

// Serve runs the HTTP API until ctx is cancelled, then drains in-flight
// requests.
func (a *App) Serve(ctx context.Context) error {
	server, err := a.NewServer()
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	a.Logger.Info("shutdown requested", logger.String("cause", context.Cause(ctx).Error()))
	return server.Shutdown()
}
