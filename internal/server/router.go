package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/appcontentbiz/QAA/internal/auth"
	"github.com/appcontentbiz/QAA/internal/collab"
	"github.com/appcontentbiz/QAA/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityContextKey = "qaa_identity"

var (
	errMissingVerifier    = errors.New("credential verifier dependency required")
	errMissingCoordinator = errors.New("coordinator dependency required")
	errMissingRegistry    = errors.New("room registry dependency required")
	errMissingStore       = errors.New("coordination store dependency required")
	errMissingAccess      = errors.New("access checker dependency required")
)

// CredentialVerifier validates a raw connection credential.
type CredentialVerifier interface {
	Verify(ctx context.Context, rawCredential string) (auth.Identity, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Verifier    CredentialVerifier
	Coordinator *collab.Coordinator
	Registry    *collab.Registry
	Store       store.Store
	Access      collab.AccessChecker
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router: the WebSocket endpoint plus the
// read-side REST endpoints late joiners use to catch up.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Access == nil {
		return nil, errMissingAccess
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:    deps.Verifier,
		coordinator: deps.Coordinator,
		registry:    deps.Registry,
		store:       deps.Store,
		access:      deps.Access,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", handler.handleSocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/projects/:projectId/presence", handler.handleListPresence)
	protected.GET("/projects/:projectId/chat", handler.handleListChat)
	protected.GET("/projects/:projectId/components/:componentId/changes", handler.handleListChanges)

	return router, nil
}

type httpHandler struct {
	verifier    CredentialVerifier
	coordinator *collab.Coordinator
	registry    *collab.Registry
	store       store.Store
	access      collab.AccessChecker
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// extractCredential accepts the Authorization bearer header or, for browser
// WebSocket clients that cannot set headers, the access_token query
// parameter.
func extractCredential(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("access_token"))
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	credential := extractCredential(c)
	identity, err := h.verifier.Verify(c.Request.Context(), credential)
	if err != nil {
		h.logger.Warn("credential verification failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authFailureCode(err)})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func identityFrom(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok
}

func authFailureCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "auth_missing"
	case errors.Is(err, auth.ErrExpiredCredential):
		return "auth_expired"
	case errors.Is(err, auth.ErrRevokedCredential):
		return "auth_revoked"
	case errors.Is(err, auth.ErrInactiveUser):
		return "user_inactive"
	default:
		return "auth_invalid"
	}
}

func (h *httpHandler) requireProjectAccess(c *gin.Context) (auth.Identity, string, bool) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Identity{}, "", false
	}
	projectID := c.Param("projectId")
	allowed, err := h.access.HasProjectAccess(c.Request.Context(), projectID, identity.UserID)
	if err != nil {
		h.logger.Error("access check failed", zap.Error(err), zap.String("project_id", projectID))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": collab.CodeStoreUnavailable})
		return auth.Identity{}, "", false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": collab.CodeAccessDenied})
		return auth.Identity{}, "", false
	}
	return identity, projectID, true
}

func (h *httpHandler) handleListPresence(c *gin.Context) {
	_, projectID, ok := h.requireProjectAccess(c)
	if !ok {
		return
	}
	records, err := h.store.ListPresence(c.Request.Context(), projectID)
	if err != nil {
		h.logger.Error("presence list failed", zap.Error(err), zap.String("project_id", projectID))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": collab.CodeStoreUnavailable})
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": records})
}

func (h *httpHandler) handleListChat(c *gin.Context) {
	_, projectID, ok := h.requireProjectAccess(c)
	if !ok {
		return
	}
	messages, err := h.store.ListChatMessages(c.Request.Context(), projectID)
	if err != nil {
		h.logger.Error("chat list failed", zap.Error(err), zap.String("project_id", projectID))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": collab.CodeStoreUnavailable})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *httpHandler) handleListChanges(c *gin.Context) {
	_, projectID, ok := h.requireProjectAccess(c)
	if !ok {
		return
	}
	componentID := c.Param("componentId")
	records, err := h.store.ListChanges(c.Request.Context(), componentID)
	if err != nil {
		h.logger.Error("change list failed", zap.Error(err),
			zap.String("project_id", projectID), zap.String("component_id", componentID))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": collab.CodeStoreUnavailable})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": records})
}
