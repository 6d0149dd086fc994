// Package fakeserver is an in-memory stand-in for the chat backend: the
// REST API under /api and the socket.io endpoint, with hooks tests use to
// push events, delete accounts and inject failures.
package fakeserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/channel"
	"chatsync/internal/hub"
	"chatsync/internal/logging"
	"chatsync/internal/middleware"
	"chatsync/internal/model"
	"chatsync/internal/socketio"

	"github.com/gin-gonic/gin"
)

var log = logging.Logger("fakeserver")

type Options struct {
	Secret       string
	TokenExpiry  time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
	Now          func() time.Time
}

type Server struct {
	db       *DB
	tokenCfg auth.TokenConfig
	hub      *hub.Hub
	io       *socketio.Server
	router   *gin.Engine

	mu       sync.Mutex
	failures map[string]int
	conns    map[*socketio.ServerConn]*hub.Connection
}

func New(opts Options) *Server {
	if opts.Secret == "" {
		opts.Secret = "fakeserver-secret"
	}
	if opts.TokenExpiry <= 0 {
		opts.TokenExpiry = 24 * time.Hour
	}
	s := &Server{
		db:       NewDB(opts.Now),
		tokenCfg: auth.TokenConfig{Secret: opts.Secret, Expiry: opts.TokenExpiry, Issuer: "fakeserver"},
		hub:      hub.New(),
		failures: make(map[string]int),
		conns:    make(map[*socketio.ServerConn]*hub.Connection),
	}
	s.io = socketio.NewServer(socketio.ServerOptions{
		Authenticate: s.authenticateSocket,
		OnEvent:      s.onEvent,
		OnDisconnect: s.onDisconnect,
		PingInterval: opts.PingInterval,
		PingTimeout:  opts.PingTimeout,
	})
	s.router = s.newRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) DB() *DB { return s.db }

// AddUser creates an account and returns it with a signed token.
func (s *Server) AddUser(name string) (model.Profile, string, error) {
	p := s.db.AddUser(name)
	token, err := s.Token(p.ID)
	return p, token, err
}

func (s *Server) Token(userID string) (string, error) {
	return auth.CreateToken(userID, s.tokenCfg)
}

// DeleteUser makes every later request of the user fail with 401 and drops
// their sockets.
func (s *Server) DeleteUser(userID string) {
	s.db.Delete(userID)
	s.DisconnectUser(userID)
}

// EmitTo pushes event to every socket of userID and reports how many
// received it.
func (s *Server) EmitTo(userID, event string, payload any) int {
	return s.hub.Emit(userID, event, payload)
}

func (s *Server) Online() []string { return s.hub.Online() }

// DisconnectUser drops the user's sockets without deleting the account.
func (s *Server) DisconnectUser(userID string) {
	if s.hub.Kick(userID) {
		s.hub.Broadcast(userID, channel.EventUserOffline, userID)
	}
}

// FailPath makes requests for method and path (relative to /api, e.g.
// "GET friends/list") answer with status until ClearFailures.
func (s *Server) FailPath(method, path string, status int) {
	s.mu.Lock()
	s.failures[method+" "+strings.Trim(path, "/")] = status
	s.mu.Unlock()
}

func (s *Server) ClearFailures() {
	s.mu.Lock()
	s.failures = make(map[string]int)
	s.mu.Unlock()
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.Any("/socket.io/", gin.WrapH(s.io))

	api := r.Group("/api")
	api.Use(s.injectFailures)
	api.Use(middleware.RequireAuth(s.verify))

	friends := &friendsHandler{s: s}
	api.GET("/friends/list", friends.List)
	api.GET("/friends/requests", friends.Requests)
	api.POST("/friends/request", friends.SendRequest)
	api.POST("/friends/accept/:id", friends.Accept)
	api.POST("/friends/reject/:id", friends.Reject)
	api.DELETE("/friends/remove/:id", friends.Remove)

	profile := &profileHandler{s: s}
	api.GET("/friends/profile", profile.Own)
	api.GET("/friends/profile/:id", profile.Get)
	api.PUT("/friends/profile", profile.Update)
	api.POST("/friends/avatar", profile.UploadAvatar)

	convs := &conversationHandler{s: s}
	api.GET("/conversations/mine", convs.Mine)
	api.POST("/conversations/create-private", convs.CreatePrivate)
	api.GET("/conversations/:id/messages", convs.Messages)
	api.POST("/conversations/:id/messages", convs.Send)

	return r
}

// verify accepts a signed token whose account still exists.
func (s *Server) verify(token string) (string, error) {
	claims, err := auth.VerifyToken(token, s.tokenCfg)
	if err != nil {
		return "", err
	}
	if !s.db.Exists(claims.UserID) {
		return "", errors.New("account deleted")
	}
	return claims.UserID, nil
}

func (s *Server) injectFailures(c *gin.Context) {
	path := strings.Trim(strings.TrimPrefix(c.Request.URL.Path, "/api"), "/")
	s.mu.Lock()
	status, ok := s.failures[c.Request.Method+" "+path]
	s.mu.Unlock()
	if ok {
		c.JSON(status, gin.H{"error": "Injected failure"})
		c.Abort()
		return
	}
	c.Next()
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Already exists"})
	case errors.Is(err, ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func mustUserID(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
	}
	return userID, ok
}

func (s *Server) authenticateSocket(raw json.RawMessage) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Token == "" {
		return "", errors.New("Authentication error")
	}
	userID, err := s.verify(body.Token)
	if err != nil {
		return "", errors.New("Authentication error")
	}
	return userID, nil
}
