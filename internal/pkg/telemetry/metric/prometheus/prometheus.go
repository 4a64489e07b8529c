// Package prometheus exposes the metrics registry by an HTTP endpoint.
package prometheus

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/common/servicectx"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const (
	Endpoint                = "/metrics"
	readHeaderTimeout       = 10 * time.Second
	gracefulShutdownTimeout = 30 * time.Second
)

// ServeMetrics starts the HTTP server with the metrics endpoint, it returns the listen address.
// The server is stopped on the process shutdown.
func ServeMetrics(ctx context.Context, serviceName, listenAddr string, registry *prometheus.Registry, logger log.Logger, proc *servicectx.Process) (string, error) {
	logger = logger.WithComponent("metrics")

	mux := http.NewServeMux()
	mux.Handle(Endpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:          log.NewStdErrorLogger(logger),
		Registry:          registry,
		EnableOpenMetrics: true,
	}))

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return "", errors.PrefixErrorf(err, `cannot start metrics server on "%s"`, listenAddr)
	}
	addr := listener.Addr().String()

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          log.NewStdErrorLogger(logger.WithComponent("http-server")),
	}

	proc.Add(func(_ context.Context, shutdown servicectx.ShutdownFn) {
		logger.Infof(ctx, `started metrics server of "%s" on "%s%s"`, serviceName, addr, Endpoint)
		if serverErr := srv.Serve(listener); !errors.Is(serverErr, http.ErrServerClosed) {
			shutdown(context.WithoutCancel(ctx), serverErr)
		}
	})

	proc.OnShutdown(func(ctx context.Context) {
		ctx, cancel := context.WithTimeoutCause(ctx, gracefulShutdownTimeout, errors.New("graceful shutdown timeout"))
		defer cancel()

		logger.Infof(ctx, `shutting down metrics server at "%s"`, addr)
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf(ctx, `metrics server shutdown error: %s`, err)
		}
		logger.Info(ctx, "metrics server shutdown finished")
	})

	return addr, nil
}
