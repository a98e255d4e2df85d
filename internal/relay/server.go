package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Serve runs a relay on ln until ctx is cancelled, then shuts it down
// gracefully.
func Serve(ctx context.Context, ln net.Listener, logger zerolog.Logger) error {
	hub := NewHub(logger)
	go hub.Run()

	srv := &http.Server{
		Handler:           NewRouter(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("relay listening")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		hub.Stop()
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; stopping
	// the hub closes them.
	err := srv.Shutdown(shutdownCtx)
	hub.Stop()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("relay forced to shutdown")
		return err
	}
	logger.Info().Msg("relay stopped")
	return nil
}
