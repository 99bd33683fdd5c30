package webui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/browser"

	"github.com/23skdu/quarrel-chat/internal/logger"
)

type LaunchOptions struct {
	Host      string
	Port      int // 0 picks a free port
	InBrowser bool
	// ShutdownTimeout bounds graceful shutdown; default 10s.
	ShutdownTimeout time.Duration
	// OnListen, when set, receives the widget URL once the listener is bound.
	OnListen func(url string)
}

// Launch serves the widget until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Launch(ctx context.Context, opts LaunchOptions) error {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	url := widgetURL(opts.Host, ln.Addr().(*net.TCPAddr).Port)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown does not track hijacked connections.
	srv.RegisterOnShutdown(s.closeConns)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Log.Info("Chat widget listening", "url", url, "title", s.ui.Title)
	if opts.OnListen != nil {
		opts.OnListen(url)
	}
	if opts.InBrowser {
		if err := openBrowser(url); err != nil {
			logger.Log.Warn("Could not open browser", "url", url, "error", err)
		}
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Log.Info("Shutting down chat widget")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	// RegisterOnShutdown hooks run asynchronously; cancel before waiting.
	s.closeConns()

	waited := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-shutdownCtx.Done():
		logger.Log.Warn("WebSocket connections still open after shutdown timeout", "timeout", opts.ShutdownTimeout)
	}

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// widgetURL is the address a local browser should open.
func widgetURL(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// openBrowser is replaced in tests.
var openBrowser = browser.OpenURL
