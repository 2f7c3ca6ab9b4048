package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/maistro/internal/channel"
	"github.com/mtzanidakis/maistro/internal/config"
	"github.com/mtzanidakis/maistro/internal/configs"
	"github.com/mtzanidakis/maistro/internal/execution"
	"github.com/mtzanidakis/maistro/internal/mcp"
	"github.com/mtzanidakis/maistro/internal/models"
	"github.com/mtzanidakis/maistro/internal/scheduler"
	"github.com/mtzanidakis/maistro/internal/store"
)

//go:embed static
var staticFiles embed.FS

// Deps are the components the HTTP surface exposes. Store and Scheduler are
// optional.
type Deps struct {
	Configs   *configs.Manager
	MCP       *mcp.Manager
	Models    *models.Manager
	Orch      *execution.Orchestrator
	Channels  *channel.Registry
	Store     *store.Store
	Scheduler *scheduler.Scheduler
}

type Server struct {
	configs   *configs.Manager
	mcp       *mcp.Manager
	models    *models.Manager
	orch      *execution.Orchestrator
	channels  *channel.Registry
	store     *store.Store
	scheduler *scheduler.Scheduler
	cfg       config.WebConfig
	version   string
	startedAt time.Time

	pingInterval time.Duration

	// runCtx outlives individual requests; executions started over HTTP
	// keep running after the response is written.
	runCtx context.Context
	runs   sync.WaitGroup
}

func NewServer(deps Deps, cfg config.WebConfig, version string) *Server {
	return &Server{
		configs:      deps.Configs,
		mcp:          deps.MCP,
		models:       deps.Models,
		orch:         deps.Orch,
		channels:     deps.Channels,
		store:        deps.Store,
		scheduler:    deps.Scheduler,
		cfg:          cfg,
		version:      version,
		startedAt:    time.Now(),
		pingInterval: 30 * time.Second,
		runCtx:       context.Background(),
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	s.registerAPI(mux)

	mux.HandleFunc("GET /ws/execution/{id}", s.handleExecutionSocket)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("static fs: %w", err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(staticFS)))

	return s.withMiddleware(mux), nil
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	slog.Info("web server listening", "addr", addr)
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled, then waits for the
// executions it started to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.runCtx = ctx

	handler, err := s.Handler()
	if err != nil {
		ln.Close()
		return err
	}

	server := &http.Server{Handler: handler}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("web server shutdown", "error", err)
		}
	}()

	if err := server.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	// Handlers may still be starting runs until Shutdown returns.
	<-shutdownDone
	s.runs.Wait()
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.cfg.Auth != "" && requiresAuth(r.URL.Path) && !s.checkAuth(w, r) {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requiresAuth(path string) bool {
	if path == "/api/health" {
		return false
	}
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/ws/")
}

// checkAuth validates Basic Auth. Returns true if authenticated.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if _, pass, ok := r.BasicAuth(); ok && pass == s.cfg.Auth {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="maistro"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}
