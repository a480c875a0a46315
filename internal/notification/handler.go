package notification

import (
	"net/http"
	"strconv"

	"leadflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler serves the in-app notification feed.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/unread-count", h.UnreadCount)
	rg.POST("/:id/read", h.MarkRead)
	rg.POST("/read-all", h.MarkAllRead)
}

func scope(c *gin.Context) (workspaceID, userID uuid.UUID, ok bool) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return uuid.Nil, uuid.Nil, false
	}
	if id.WorkspaceID() == uuid.Nil {
		httpkit.Error(c, http.StatusForbidden, "workspace scope required", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return id.WorkspaceID(), id.UserID(), true
}

func (h *Handler) List(c *gin.Context) {
	workspaceID, userID, ok := scope(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.svc.List(c.Request.Context(), workspaceID, userID, limit)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) UnreadCount(c *gin.Context) {
	workspaceID, userID, ok := scope(c)
	if !ok {
		return
	}
	count, err := h.svc.CountUnread(c.Request.Context(), workspaceID, userID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"count": count})
}

func (h *Handler) MarkRead(c *gin.Context) {
	workspaceID, userID, ok := scope(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := h.svc.MarkRead(c.Request.Context(), workspaceID, userID, id); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"ok": true})
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	workspaceID, userID, ok := scope(c)
	if !ok {
		return
	}
	if err := h.svc.MarkAllRead(c.Request.Context(), workspaceID, userID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"ok": true})
}
