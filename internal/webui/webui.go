// Package webui serves the browser chat widget and its JSON and WebSocket
// APIs on top of a chat.RespondFunc.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/quarrel-chat/internal/chat"
	"github.com/23skdu/quarrel-chat/internal/gguf"
)

//go:embed templates/index.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

const maxBodyBytes = 1 << 20

// ChatInterface is a titled chat widget backed by Respond.
type ChatInterface struct {
	Title       string
	Description string
	Respond     chat.RespondFunc
}

// Options carries what the widget reports about itself and how it is
// protected. All fields are optional.
type Options struct {
	Profile        string
	Backend        string
	Model          *gguf.Summary
	APIKey         string
	AllowedOrigins []string
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	ui   ChatInterface
	opts Options

	// WebSocket connections derive their context from ctx and are counted
	// in conns so shutdown can cancel and wait for them.
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

func New(ui ChatInterface, opts Options) (*Server, error) {
	if ui.Respond == nil {
		return nil, errors.New("webui: Respond is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{ui: ui, opts: opts, ctx: ctx, cancel: cancel}, nil
}

// trackConn registers one WebSocket goroutine set. It reports false once
// the server is closing.
func (s *Server) trackConn(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns.Add(n)
	return true
}

// closeConns cancels every WebSocket connection and refuses new ones.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
}

// Handler returns the router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.opts.AllowedOrigins))

	r.Get("/health", s.health)
	r.Get("/healthz", healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/version", version)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", s.index)
	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Group(func(api chi.Router) {
		api.Use(apiKeyAuth(s.opts.APIKey))
		api.With(middleware.RequestSize(maxBodyBytes)).Post("/api/chat", s.chat)
		api.Get("/api/info", s.info)
		api.Get("/ws", s.serveWS)
	})

	return r
}

type indexData struct {
	Title       string
	Description string
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, indexData{Title: s.ui.Title, Description: s.ui.Description}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type Info struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Profile     string        `json:"profile,omitempty"`
	Backend     string        `json:"backend,omitempty"`
	Model       *gguf.Summary `json:"model,omitempty"`
	Version     string        `json:"version"`
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Info{
		Title:       s.ui.Title,
		Description: s.ui.Description,
		Profile:     s.opts.Profile,
		Backend:     s.opts.Backend,
		Model:       s.opts.Model,
		Version:     Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

var startTime = time.Now()
