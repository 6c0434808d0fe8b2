package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
)

// Serve runs the proxy on addr until ctx is canceled. Read and write
// timeouts stay unset so long-lived streams and websocket upgrades are
// not cut off; only header reads are bounded.
func (rt *Router) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           rt,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("router listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
