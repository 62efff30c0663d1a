package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tribeat/internal/auth"
	"tribeat/internal/channel"
	"tribeat/internal/models"
	"tribeat/internal/service/live"
	"tribeat/internal/service/session"
)

// Handler wires HTTP routes to the session service and the live event router.
type Handler struct {
	sessions  *session.Service
	auth      *auth.Service
	router    *live.Router
	transport channel.Transport
}

// NewHandler constructs a Handler instance.
func NewHandler(sessions *session.Service, authService *auth.Service, router *live.Router, transport channel.Transport) *Handler {
	return &Handler{
		sessions:  sessions,
		auth:      authService,
		router:    router,
		transport: transport,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	authMW := h.auth.Middleware()
	authed := api.Group("")
	authed.Use(authMW)
	authed.POST("/users/logout", h.logoutUser)
	authed.POST("/sessions", h.createSession)
	authed.GET("/sessions", h.listSessions)
	authed.GET("/sessions/:id", h.getSession)
	authed.POST("/sessions/:id/enroll", h.enroll)
	authed.GET("/sessions/:id/state", h.getState)
	authed.POST("/sessions/:id/event", h.submitEvent)
	authed.GET("/sessions/:id/presence", h.getPresence)
	authed.GET("/sessions/:id/ws", h.attachWS)
	authed.POST("/realtime/auth", h.authorizeChannel)
}

func (h *Handler) authorizedIdentity(c *gin.Context) (models.Identity, bool) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok || identity.UserID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return models.Identity{}, false
	}
	return identity, true
}

// statusFromLiveErr maps the router's error taxonomy onto HTTP statuses.
func statusFromLiveErr(err error) int {
	switch {
	case errors.Is(err, live.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, live.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, live.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, live.ErrSessionEnded):
		return http.StatusGone
	case errors.Is(err, live.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, live.ErrQueueFull):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type credentialsRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.sessions.RegisterUser(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"role":       user.Role,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.sessions.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.SetCookie(h.auth.AuthCookieName(), authToken, int(h.auth.TokenTTL().Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"role":       user.Role,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if token, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.SetCookie(h.auth.AuthCookieName(), "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

type createSessionRequest struct {
	Title       string     `json:"title"`
	MediaURL    string     `json:"media_url"`
	MediaType   string     `json:"media_type"`
	IsPublic    bool       `json:"is_public"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (h *Handler) createSession(c *gin.Context) {
	identity, ok := h.authorizedIdentity(c)
	if !ok {
		return
	}
	if identity.Role != models.RoleCoach && !identity.Role.Elevated() {
		c.JSON(http.StatusForbidden, gin.H{"error": "coach role required"})
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sess, err := h.sessions.CreateSession(c.Request.Context(), identity.UserID,
		req.Title, req.MediaURL, req.MediaType, req.IsPublic, req.ScheduledAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) listSessions(c *gin.Context) {
	identity, ok := h.authorizedIdentity(c)
	if !ok {
		return
	}
	sessions, err := h.sessions.ListSessionsForCoach(c.Request.Context(), identity.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	identity, ok := h.authorizedIdentity(c)
	if !ok {
		return
	}
	sess, err := h.router.Access(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		c.JSON(statusFromLiveErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) enroll(c *gin.Context) {
	identity, ok := h.authorizedIdentity(c)
	if !ok {
		return
	}
	if err := h.sessions.Enroll(c.Request.Context(), c.Param("id"), identity.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getState(c *gin.Context) {
	identity, ok := h.authorizedIdentity(c)
	if !ok {
		return
	}
	state, err := h.router.GetState(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		c.JSON(statusFromLiveErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

type eventRequest struct {
	Kind        channel.Kind `json:"kind"`
	CurrentTime float64      `json:"current_time"`
	Volume      int          `json:"volume"`
}

func (h *Handler) submitEvent(c *gin.Context) {
	identity, ok := h.authorizedIdentity(c)
	if !ok {
		return
	}
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var payload any
	switch req.Kind {
	case channel.KindPlay:
		payload = channel.PlayPayload{CurrentTime: req.CurrentTime}
	case channel.KindPause:
		payload = channel.PausePayload{CurrentTime: req.CurrentTime}
	case channel.KindSeek:
		payload = channel.SeekPayload{CurrentTime: req.CurrentTime}
	case channel.KindVolume:
		payload = channel.VolumePayload{Volume: req.Volume}
	case channel.KindEnd:
		payload = channel.EndPayload{}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event kind"})
		return
	}

	evt, err := h.router.Submit(c.Request.Context(), identity, c.Param("id"), req.Kind, payload)
	if err != nil {
		c.JSON(statusFromLiveErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, evt)
}

func (h *Handler) getPresence(c *gin.Context) {
	identity, ok := h.authorizedIdentity(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	if _, err := h.router.Access(c.Request.Context(), identity, sessionID); err != nil {
		c.JSON(statusFromLiveErr(err), gin.H{"error": err.Error()})
		return
	}
	if h.transport == nil {
		c.JSON(http.StatusOK, gin.H{"members": make([]channel.Member, 0)})
		return
	}
	members, err := h.transport.Presence(c.Request.Context(), channel.Name(sessionID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if members == nil {
		members = make([]channel.Member, 0)
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type channelAuthRequest struct {
	Channel string `json:"channel"`
}

// authorizeChannel is the channel auth callback: it re-derives access from
// the store and never consults presence.
func (h *Handler) authorizeChannel(c *gin.Context) {
	identity, ok := h.authorizedIdentity(c)
	if !ok {
		return
	}
	var req channelAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sessionID, ok := channel.SessionID(req.Channel)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	if _, err := h.router.Access(c.Request.Context(), identity, sessionID); err != nil {
		c.JSON(statusFromLiveErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channel": req.Channel,
		"user": gin.H{
			"user_id": identity.UserID,
			"name":    identity.Name,
			"role":    identity.Role,
		},
	})
}
