package http

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/speedrun-hq/settler/logging"
)

const shutdownTimeout = 10 * time.Second

// Serve runs srv until ctx is done and then shuts it down gracefully.
// A server that fails to listen returns the error right away.
func Serve(ctx context.Context, srv *http.Server, logger zerolog.Logger) error {
	logger = logger.With().
		Str(logging.FieldModule, "http").
		Str("addr", srv.Addr).
		Logger()

	served := make(chan error, 1)

	go func() {
		logger.Info().Msg("Starting HTTP server")
		served <- srv.ListenAndServe()
	}()

	select {
	case err := <-served:
		return errors.Wrap(err, "http server stopped")
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shutdown http server")
	}

	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server stopped")
	}

	logger.Info().Msg("HTTP server shutdown complete")

	return nil
}
