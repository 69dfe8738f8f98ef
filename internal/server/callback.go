package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

const shutdownGrace = 5 * time.Second

// CallbackServer runs a one-shot HTTP listener for an [OAuthHandler].
type CallbackServer struct {
	handler *OAuthHandler
	timeout time.Duration
	logger  *log.Logger
}

// NewCallbackServer creates a CallbackServer. A non-positive timeout waits until ctx is done.
func NewCallbackServer(handler *OAuthHandler, timeout time.Duration, logger *log.Logger) *CallbackServer {
	if logger == nil {
		logger = log.Default()
	}
	return &CallbackServer{handler: handler, timeout: timeout, logger: logger}
}

// Serve accepts requests on ln until the handler reports an outcome, the timeout elapses
// or ctx is cancelled, then shuts the listener down. In-flight responses are allowed to finish.
func (s *CallbackServer) Serve(ctx context.Context, ln net.Listener) (*oauth2.Token, error) {
	router := NewBasicRouter()
	router.Use(LoggingMiddleware(s.logger))
	router.Handler(s.handler)

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("callback server shutdown", "error", err)
		}
	}()

	var timeout <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	s.logger.Debug("waiting for callback", "addr", ln.Addr().String(), "timeout", s.timeout)

	select {
	case result := <-s.handler.Result():
		if err := result.Error(); err != nil {
			return nil, err
		}
		return result.Token, nil
	case err, ok := <-serveErr:
		if !ok {
			return nil, fmt.Errorf("%w: callback server stopped", shared.ErrOAuthCallback)
		}
		return nil, fmt.Errorf("callback server: %w", err)
	case <-timeout:
		return nil, fmt.Errorf("%w: no callback received within %s", shared.ErrTimeout, s.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
