package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/timerhsenso/sentinela/logger"
)

type ApiListener struct {
	logger  logger.Logger
	server  *http.Server
	tlsCert string
	tlsKey  string
	stopped atomic.Bool
}

type ApiListenerConfig struct {
	Logger      logger.Logger
	Address     string
	TLSCertFile string
	TLSKeyFile  string
	TLSEnabled  bool
}

func NewApiListener(cfg ApiListenerConfig, httpHandler http.Handler) (*ApiListener, error) {
	var handler http.Handler = httpHandler
	handler = middleware.RealIP(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recoverer(handler)

	server := &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	listener := &ApiListener{
		logger: cfg.Logger,
		server: server,
	}
	if cfg.TLSEnabled {
		listener.tlsCert = cfg.TLSCertFile
		listener.tlsKey = cfg.TLSKeyFile
	}

	return listener, nil
}

func (l *ApiListener) Addr() string {
	return l.server.Addr
}

// Start begins the HTTP server and blocks until the context is cancelled
// or the server fails.
func (l *ApiListener) Start(ctx context.Context) error {
	l.logger.Info("starting HTTP server",
		logger.String("address", l.server.Addr),
		logger.Bool("tls", l.tlsCert != ""))

	errChan := make(chan error, 1)
	go func() {
		var err error
		if l.tlsCert != "" {
			err = l.server.ListenAndServeTLS(l.tlsCert, l.tlsKey)
		} else {
			err = l.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("shutdown signal received")
		return l.Stop()
	case err := <-errChan:
		l.logger.Error("HTTP server error", logger.Err(err))
		return err
	}
}

func (l *ApiListener) Stop() error {
	// Check if already stopped, return early if so
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}

	l.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.server.Shutdown(ctx); err != nil {
		l.logger.Error("error when shutting down the HTTP server", logger.Err(err))
		return err
	}

	l.logger.Info("HTTP server stopped")
	return nil
}
