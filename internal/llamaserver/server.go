// Package llamaserver runs llama.cpp's llama-server as a child process and
// waits for it to finish loading the model.
package llamaserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/23skdu/quarrel-chat/internal/logger"
)

// ErrExited is returned when the process stops, whether during startup or
// while serving.
var ErrExited = errors.New("llama-server exited")

var (
	pollInterval = 250 * time.Millisecond
	stopGrace    = 10 * time.Second
)

type Options struct {
	Binary         string
	ModelPath      string
	Threads        int
	ContextSize    int
	GPULayers      int
	Host           string
	Port           int // 0 picks a free port
	ExtraArgs      []string
	StartupTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Binary == "" {
		o.Binary = "llama-server"
	}
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = 2 * time.Minute
	}
}

// Args returns the command line passed to the binary.
func (o Options) Args() []string {
	args := []string{"-m", o.ModelPath}
	if o.ContextSize > 0 {
		args = append(args, "-c", strconv.Itoa(o.ContextSize))
	}
	if o.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(o.Threads))
	}
	args = append(args,
		"-ngl", strconv.Itoa(o.GPULayers),
		"--host", o.Host,
		"--port", strconv.Itoa(o.Port),
	)
	return append(args, o.ExtraArgs...)
}

type Server struct {
	opts Options
	cmd  *exec.Cmd
	url  string
	log  *logger.Logger

	done     chan struct{}
	exitErr  error
	stopOnce sync.Once
}

// Start launches the binary and blocks until GET /health answers 200, the
// process exits, ctx is cancelled or StartupTimeout elapses. On any failure
// the process is stopped before returning.
func Start(ctx context.Context, opts Options) (*Server, error) {
	opts.setDefaults()
	if opts.ModelPath == "" {
		return nil, errors.New("llama-server: model path is required")
	}
	if opts.Port == 0 {
		port, err := freePort(opts.Host)
		if err != nil {
			return nil, fmt.Errorf("llama-server: pick port: %w", err)
		}
		opts.Port = port
	}

	s := &Server{
		opts: opts,
		url:  "http://" + net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		log:  logger.Log.With("component", "llama-server"),
		done: make(chan struct{}),
	}

	s.cmd = exec.Command(opts.Binary, opts.Args()...)
	stdout := s.log.Writer("stream", "stdout")
	stderr := s.log.Writer("stream", "stderr")
	s.cmd.Stdout = stdout
	s.cmd.Stderr = stderr

	s.log.Info("Starting llama-server", "binary", opts.Binary, "model", opts.ModelPath, "url", s.url)
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("llama-server: start %s: %w", opts.Binary, err)
	}

	go func() {
		err := s.cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		if err != nil {
			s.exitErr = fmt.Errorf("%w: %v", ErrExited, err)
		} else {
			s.exitErr = ErrExited
		}
		close(s.done)
	}()

	startCtx, cancel := context.WithTimeout(ctx, opts.StartupTimeout)
	defer cancel()

	started := time.Now()
	if err := s.waitReady(startCtx); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.log.Info("llama-server ready", "pid", s.cmd.Process.Pid, "load_time", time.Since(started).String())
	return s, nil
}

func (s *Server) waitReady(ctx context.Context) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			// 503 while the model is loading
			s.log.Debug("llama-server not ready", "status", resp.StatusCode)
		}

		select {
		case <-s.done:
			return fmt.Errorf("llama-server stopped before becoming ready: %w", s.exitErr)
		case <-ctx.Done():
			return fmt.Errorf("llama-server did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// URL is the base URL of the OpenAI-compatible API.
func (s *Server) URL() string { return s.url }

// Done is closed when the process exits.
func (s *Server) Done() <-chan struct{} { return s.done }

// Err returns the exit error once Done is closed, nil before.
func (s *Server) Err() error {
	select {
	case <-s.done:
		return s.exitErr
	default:
		return nil
	}
}

// Wait blocks until the process exits or ctx is cancelled. An exit is
// reported as an error wrapping ErrExited; cancellation returns nil.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.exitErr
	case <-ctx.Done():
		return nil
	}
}

// Close interrupts the process and kills it if it has not exited within the
// grace period. It is safe to call more than once.
func (s *Server) Close() error {
	s.stopOnce.Do(func() {
		select {
		case <-s.done:
			return
		default:
		}

		s.log.Info("Stopping llama-server", "pid", s.cmd.Process.Pid)
		if runtime.GOOS == "windows" {
			_ = s.cmd.Process.Kill()
		} else if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = s.cmd.Process.Kill()
		}

		select {
		case <-s.done:
		case <-time.After(stopGrace):
			s.log.Warn("llama-server did not stop in time, killing", "grace", stopGrace.String())
			_ = s.cmd.Process.Kill()
			<-s.done
		}
	})
	return nil
}

func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = l.Close()
	}()
	return l.Addr().(*net.TCPAddr).Port, nil
}
