package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"social-app/pkg/logger"

	"github.com/thejerf/suture/v4"
)

// httpService runs an http.Server under the supervisor.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func newHTTPService(server *http.Server, shutdownTimeout time.Duration) *httpService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &httpService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()
	logger.Info("listening on %s", h.server.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown: %v", err)
		}
		return ctx.Err()
	}
}

func (h *httpService) String() string {
	return "http-server"
}
