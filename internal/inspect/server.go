package inspect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/logging"
)

var log = logging.Logger("inspect")

// NewHTTPServer binds to loopback only.
func NewHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.InspectPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, handler http.Handler) error {
	srv := NewHTTPServer(cfg, handler)
	errCh := make(chan error, 1)
	go func() {
		log.Infow("inspect server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
