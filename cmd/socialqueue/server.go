package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"socialqueue/internal/middleware"
	"socialqueue/internal/models"
	"socialqueue/internal/service"
	"socialqueue/pkg/twitter/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// QueueAPI is the queue service surface the scheduling endpoints call.
type QueueAPI interface {
	Enqueue(ctx context.Context, owner string, req service.EnqueueRequest) (string, error)
	Get(ctx context.Context, owner, id string) (*models.EntryView, error)
	List(ctx context.Context, owner string) ([]models.EntryView, error)
	Update(ctx context.Context, owner, id string, req service.UpdateRequest) error
	Cancel(ctx context.Context, owner, id string) error
}

// TwitterAuthAPI covers the OAuth exchange and the search proxy.
type TwitterAuthAPI interface {
	RequestToken(ctx context.Context, callbackURL string) (*types.RequestToken, error)
	AccessToken(ctx context.Context, requestToken, verifier string) (*types.AccessToken, error)
	Search(ctx context.Context, username, query string) (json.RawMessage, error)
}

type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *logrus.Logger
	cfg     *models.Config
	queue   QueueAPI
	twitter TwitterAuthAPI
	feed    *service.StatusFeed
	tokens  middleware.TokenSource
	server  *http.Server
}

func NewServer(cfg *models.Config, queue QueueAPI, twitterAPI TwitterAuthAPI, feed *service.StatusFeed, tokens middleware.TokenSource, logger *logrus.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		cfg:     cfg,
		queue:   queue,
		twitter: twitterAPI,
		feed:    feed,
		tokens:  tokens,
	}

	s.setupRoutes()
	s.handler = middleware.CORS(s.router)
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	auth := middleware.BearerAuth(s.tokens, s.logger)

	s.router.Handle("/scheduled/stream", tokenFromQuery(auth(s.handleStream()))).Methods(http.MethodGet)
	s.router.Handle("/scheduled", auth(s.handleEnqueue())).Methods(http.MethodPost)
	s.router.Handle("/scheduled", auth(s.handleRead())).Methods(http.MethodGet)
	s.router.Handle("/scheduled", auth(s.handleUpdate())).Methods(http.MethodPut)
	s.router.Handle("/scheduled", auth(s.handleCancel())).Methods(http.MethodDelete)

	s.router.HandleFunc("/twitter/login", s.handleTwitterLogin()).Methods(http.MethodPost)
	s.router.HandleFunc("/twitter/auth", s.handleTwitterAuth()).Methods(http.MethodPost)
	s.router.HandleFunc("/twitter/search", s.handleTwitterSearch()).Methods(http.MethodGet)
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// tokenFromQuery lets browser websocket clients, which cannot set headers,
// pass the bearer token as ?access_token=.
func tokenFromQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if token := r.URL.Query().Get("access_token"); token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"version":     Version,
			"subscribers": s.feed.Subscribers(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
