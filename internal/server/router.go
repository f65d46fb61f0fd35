package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/auth"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/posts"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const viewerIDContextKey = "doodlemap_viewer_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserDirectory    = errors.New("user directory dependency required")
	errMissingPostsService     = errors.New("posts service dependency required")
)

// SessionValidator authenticates requests carrying a session JWT.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserDirectory resolves session claims to canonical user ids.
type UserDirectory interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
	GetUser(ctx context.Context, userID string) (users.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

type Dependencies struct {
	SessionValidator SessionValidator
	Users            UserDirectory
	PostsService     *posts.Service
	Realtime         *RealtimeDispatcher
	Logger           *zap.Logger
	AllowedOrigins   []string
	MaxContentBytes  int
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.PostsService == nil {
		return nil, errMissingPostsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	maxContentBytes := deps.MaxContentBytes
	if maxContentBytes <= 0 {
		maxContentBytes = posts.DefaultMaxContentBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:        deps.SessionValidator,
		users:           deps.Users,
		postsService:    deps.PostsService,
		realtime:        realtime,
		logger:          logger,
		maxBodyBytes:    maxRequestBytes(maxContentBytes),
		heartbeatPeriod: realtimeHeartbeatPeriod,
	}

	authGroup := router.Group("/auth")
	authGroup.Use(handler.resolveViewer)
	authGroup.GET("/check", handler.handleAuthCheck)
	authGroup.DELETE("/account", handler.requireViewer, handler.handleDeleteAccount)

	postGroup := router.Group("/post")
	postGroup.Use(handler.resolveViewer)
	postGroup.GET("/:id", handler.handleGetPost)

	protected := postGroup.Group("")
	protected.Use(handler.requireViewer)
	protected.POST("", handler.handleCreatePost)
	protected.GET("/feed", handler.handleFeed)
	protected.GET("/user", handler.handleListOwnPosts)
	protected.GET("/events", handler.handleEvents)
	protected.DELETE("/:id", handler.handleDeletePost)
	for _, route := range []struct {
		path   string
		action posts.VoteAction
	}{
		{path: "/:id/upvote", action: posts.VoteActionUp},
		{path: "/:id/downvote", action: posts.VoteActionDown},
	} {
		protected.POST(route.path, handler.handleVote(route.action))
		protected.GET(route.path, handler.handleVote(route.action))
	}
	protected.DELETE("/:id/vote", handler.handleVote(posts.VoteActionClear))

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions        SessionValidator
	users           UserDirectory
	postsService    *posts.Service
	realtime        *RealtimeDispatcher
	logger          *zap.Logger
	maxBodyBytes    int64
	heartbeatPeriod time.Duration
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// resolveViewer attaches the canonical viewer id when the request carries a
// valid session. Anonymous requests pass through untouched.
func (h *httpHandler) resolveViewer(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.Next()
		return
	}

	viewerID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("viewer resolution failed", zap.Error(err))
		c.Next()
		return
	}
	c.Set(viewerIDContextKey, viewerID)
	c.Next()
}

func (h *httpHandler) requireViewer(c *gin.Context) {
	if c.GetString(viewerIDContextKey) == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "unauthenticated", Code: "auth.unauthenticated"})
		return
	}
	c.Next()
}

func (h *httpHandler) handleAuthCheck(c *gin.Context) {
	viewerID := c.GetString(viewerIDContextKey)
	if viewerID == "" {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	user, err := h.users.GetUser(c.Request.Context(), viewerID)
	if err != nil {
		h.logger.Error("failed to load user", zap.String("user_id", viewerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error", Code: "auth.check.query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": user.Profile()})
}

func (h *httpHandler) handleDeleteAccount(c *gin.Context) {
	viewerID := c.GetString(viewerIDContextKey)
	deleted, err := h.postsService.DeleteOwnerPosts(c.Request.Context(), viewerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.users.DeleteUser(c.Request.Context(), viewerID); err != nil {
		h.logger.Error("failed to delete user", zap.String("user_id", viewerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error", Code: "auth.delete_account.delete_failed"})
		return
	}
	h.logger.Info("account deleted", zap.String("user_id", viewerID), zap.Int64("posts_deleted", deleted))
	c.Status(http.StatusOK)
}

// respondError maps service error kinds onto HTTP statuses. Store diagnostics
// stay in the logs; clients only see the code.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, message := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, posts.ErrValidation):
		status, message = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, posts.ErrUnauthenticated):
		status, message = http.StatusForbidden, "unauthenticated"
	case errors.Is(err, posts.ErrForbidden):
		status, message = http.StatusForbidden, "forbidden"
	case errors.Is(err, posts.ErrNotFound):
		status, message = http.StatusNotFound, "not_found"
	}

	code := "internal"
	var serviceErr *posts.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	c.JSON(status, errorResponse{Error: message, Code: code})
}

func maxRequestBytes(maxContentBytes int) int64 {
	// base64 inflates by 4/3; the rest covers the JSON envelope.
	return int64(maxContentBytes)/3*4 + 4 + 4096
}
