// Package inspect serves a read-only JSON view of the running session's
// state store on localhost.
package inspect

import (
	"net/http"
	"sort"
	"time"

	"chatsync/internal/liveness"
	"chatsync/internal/middleware"
	"chatsync/internal/model"
	"chatsync/internal/store"

	"github.com/gin-gonic/gin"
)

// View is what the inspect server reads; engine.Engine satisfies it.
type View interface {
	Store() *store.Store
	Session() (model.Session, bool)
	State() liveness.State
	Live() bool
}

type Deps struct {
	View        View
	Token       string
	Limiter     *middleware.RateLimiter
	TypingStale time.Duration
	Now         func() time.Time
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TypingStale <= 0 {
		deps.TypingStale = 5 * time.Second
	}
	if deps.Limiter == nil {
		deps.Limiter = middleware.NewRateLimiter(120, time.Minute)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	h := &stateHandler{deps: deps}
	protected := r.Group("/v1")
	protected.Use(middleware.RateLimitMiddleware(deps.Limiter))
	protected.Use(middleware.RequireAuth(middleware.StaticToken(deps.Token)))
	protected.GET("/state", h.State)
	protected.GET("/conversations", h.Conversations)
	protected.GET("/conversations/:id/messages", h.Messages)
	protected.GET("/friends", h.Friends)
	protected.GET("/requests", h.Requests)
	protected.GET("/profile", h.Profile)
	protected.GET("/presence", h.Presence)
	protected.GET("/typing", h.Typing)
	protected.GET("/notifications", h.Notifications)

	return r
}

type stateHandler struct {
	deps Deps
}

func (h *stateHandler) State(c *gin.Context) {
	st := h.deps.View.Store()
	body := gin.H{
		"state":   h.deps.View.State(),
		"live":    h.deps.View.Live(),
		"epoch":   st.Epoch(),
		"current": st.Current(),
	}
	if s, ok := h.deps.View.Session(); ok {
		body["session"] = gin.H{"id": s.ID, "name": s.Name, "role": s.Role}
	}
	c.JSON(http.StatusOK, body)
}

func (h *stateHandler) Conversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conversations": nonNil(h.deps.View.Store().Conversations())})
}

func (h *stateHandler) Messages(c *gin.Context) {
	st := h.deps.View.Store()
	id := c.Param("id")
	if _, ok := st.Conversation(id); !ok && len(st.Messages(id)) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": nonNil(st.Messages(id))})
}

func (h *stateHandler) Friends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"friends": nonNil(h.deps.View.Store().Friends())})
}

func (h *stateHandler) Requests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"requests": nonNil(h.deps.View.Store().Requests())})
}

func (h *stateHandler) Profile(c *gin.Context) {
	p, ok := h.deps.View.Store().Profile()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func (h *stateHandler) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": nonNil(h.deps.View.Store().Online())})
}

// Typing lists received typing entries, leaving out stale ones.
func (h *stateHandler) Typing(c *gin.Context) {
	now := h.deps.Now()
	type entry struct {
		ConversationID string `json:"chatId"`
		model.TypingEntry
	}
	out := []entry{}
	for conv, e := range h.deps.View.Store().Typing() {
		if e.Stale(now, h.deps.TypingStale) {
			continue
		}
		out = append(out, entry{ConversationID: conv, TypingEntry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	c.JSON(http.StatusOK, gin.H{"typing": out})
}

func (h *stateHandler) Notifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": nonNil(h.deps.View.Store().Notifications())})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
