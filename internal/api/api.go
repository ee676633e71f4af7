package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/netutil"

	"github.com/sunbk201/netrule/internal/config"
	"github.com/sunbk201/netrule/internal/descriptor"
	applog "github.com/sunbk201/netrule/internal/log"
	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/settings"
	"github.com/sunbk201/netrule/internal/statistics"
)

// maxConns bounds concurrent API connections; log streams hold one each.
const maxConns = 64

type APIServer struct {
	version        string
	cfg            *config.Config
	holder         *settings.Holder
	engine         *rule.Engine
	stats          *statistics.Recorder
	local          *descriptor.LocalSet
	httpServer     *http.Server
	logBroadcaster *applog.Broadcaster
}

// New wires the API to the published settings. stats and lb may be nil.
func New(version string, cfg *config.Config, holder *settings.Holder, engine *rule.Engine,
	stats *statistics.Recorder, local *descriptor.LocalSet, lb *applog.Broadcaster) *APIServer {
	return &APIServer{
		version:        version,
		cfg:            cfg,
		holder:         holder,
		engine:         engine,
		stats:          stats,
		local:          local,
		logBroadcaster: lb,
	}
}

func (s *APIServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if s.cfg.APIServerSecret != "" {
		r.Use(s.authMiddleware)
	}

	r.Get("/version", s.handleVersion)
	r.Get("/config", s.handleConfig)
	r.Get("/settings", s.handleSettings)
	r.Get("/stats", s.handleStats)
	r.Get("/logs", s.handleLogs)

	r.Route("/rules/{domain}", func(r chi.Router) {
		r.Get("/", s.handleGetRules)
		r.Put("/", s.handlePutRules)
		r.Post("/", s.handleAddRule)
		r.Put("/{id}", s.handleReplaceRule)
		r.Delete("/{id}", s.handleDeleteRule)
		r.Post("/{id}/move", s.handleMoveRule)
		r.Post("/{id}/enable", s.handleSetEnabled(true))
		r.Post("/{id}/disable", s.handleSetEnabled(false))
	})
	r.Post("/evaluate/{domain}", s.handleEvaluate)

	r.Route("/debug/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		r.Handle("/goroutine", pprof.Handler("goroutine"))
		r.Handle("/heap", pprof.Handler("heap"))
		r.Handle("/allocs", pprof.Handler("allocs"))
	})
	return r
}

func (s *APIServer) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.APIServer,
		Handler:           s.Router(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.cfg.APIServer)
	if err != nil {
		return fmt.Errorf("api-server listen failed: %w", err)
	}
	ln = netutil.LimitListener(ln, maxConns)

	slog.Info("api-server started", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("api-server error", slog.Any("error", err))
		}
	}()
	return nil
}

func (s *APIServer) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("api-server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("api-server request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIServerSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
