package webui

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/23skdu/quarrel-chat/internal/metrics"
)

// Version is overridden at build time with -ldflags "-X ...webui.Version=...".
var Version = "dev"

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]Status `json:"checks"`
}

type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]Status{"server": {Status: "healthy"}}
	status := "healthy"
	if s.opts.Ready != nil {
		engine := s.checkEngine(r.Context())
		checks["engine"] = engine
		if engine.Status != "healthy" {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Checks:    checks,
	})
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready == nil {
		_, _ = w.Write([]byte("Ready\n"))
		return
	}

	engine := s.checkEngine(r.Context())
	if engine.Status == "healthy" {
		_, _ = w.Write([]byte("Ready\n"))
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status": "not ready",
		"checks": map[string]Status{"engine": engine},
	})
}

func (s *Server) checkEngine(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.opts.Ready(ctx); err != nil {
		metrics.SetEngineUp(false)
		return Status{Status: "unhealthy", Message: err.Error()}
	}
	metrics.SetEngineUp(true)
	return Status{Status: "healthy"}
}

func version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
	})
}
