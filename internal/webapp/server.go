// Package webapp is the browser-facing configuration server. It owns the
// OAuth consent flow and hands the resulting credential to the rotation loop
// exclusively through durable storage; the two share no in-memory state.
package webapp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"inkframe/internal/core"
	"inkframe/internal/webapp/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

// stateTTL bounds how long a started consent flow stays completable
const stateTTL = 15 * time.Minute

// CredentialWriter interface for persisting the exchanged token
type CredentialWriter interface {
	Load(ctx context.Context) (*core.Credential, error)
	SaveToken(ctx context.Context, token *oauth2.Token) error
}

// Server is the configuration web server
type Server struct {
	store  CredentialWriter
	oauth  *oauth2.Config
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]time.Time
}

// NewServer creates a new configuration server
func NewServer(store CredentialWriter, oauth *oauth2.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  store,
		oauth:  oauth,
		logger: logger,
		states: make(map[string]time.Time),
	}
}

// Router creates and configures the Gin router
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(s.logger))
	router.Use(middleware.Logging(s.logger))

	router.GET("/", s.getIndex)
	router.GET("/health", s.getHealth)
	router.GET("/auth", s.getAuth)
	router.GET("/oauth2callback", s.getCallback)

	return router
}

// rememberState records a pending OAuth state token
func (s *Server) rememberState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for token, created := range s.states {
		if now.Sub(created) > stateTTL {
			delete(s.states, token)
		}
	}
	s.states[state] = now
}

// consumeState validates and removes a pending state token
func (s *Server) consumeState(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return time.Since(created) <= stateTTL
}
