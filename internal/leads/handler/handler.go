// Package handler exposes the leads API over gin.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"leadflow_backend/internal/leads/service"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgWorkspaceScope   = "workspace scope required"

	sweepTimeout = 30 * time.Second
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
	log *logger.Logger
}

func New(svc *service.Service, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{svc: svc, val: val, log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("/:id/replies", h.ProcessReply)
	rg.POST("/:id/proofs", h.RecordProof)
}

// workspaceScope resolves the tenant from the token, aborting when absent.
func workspaceScope(c *gin.Context) (uuid.UUID, bool) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return uuid.Nil, false
	}
	if id.WorkspaceID() == uuid.Nil {
		httpkit.Error(c, http.StatusForbidden, msgWorkspaceScope, nil)
		return uuid.Nil, false
	}
	return id.WorkspaceID(), true
}

// List returns the workspace's newest leads. Loading the list also kicks an
// opportunistic SLA sweep in the background, so deadlines are enforced even
// without the scheduler running.
func (h *Handler) List(c *gin.Context) {
	workspaceID, ok := workspaceScope(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	leads, err := h.svc.ListLeads(c.Request.Context(), workspaceID, limit)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	go func(wsID uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := h.svc.Sweep(ctx, &wsID); err != nil {
			h.log.Warn("opportunistic sweep failed", "workspaceId", wsID, "error", err)
		}
	}(workspaceID)

	httpkit.OK(c, gin.H{"items": leads})
}

func (h *Handler) ProcessReply(c *gin.Context) {
	workspaceID, ok := workspaceScope(c)
	if !ok {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	res, err := h.svc.ProcessReply(c.Request.Context(), workspaceID, leadID, req.Text)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, res)
}

func (h *Handler) RecordProof(c *gin.Context) {
	workspaceID, ok := workspaceScope(c)
	if !ok {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.ProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	res, err := h.svc.RecordProof(c.Request.Context(), workspaceID, leadID, req.ProofType, req.Payload)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, res)
}

// Sweep triggers an immediate breach and escalation sweep for the workspace.
func (h *Handler) Sweep(c *gin.Context) {
	workspaceID, ok := workspaceScope(c)
	if !ok {
		return
	}

	report, err := h.svc.Sweep(c.Request.Context(), &workspaceID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{
		"breaches":      report.Breaches,
		"reminders":     report.Escalation.Reminders,
		"reassignments": report.Escalation.Reassignments,
		"managerAlerts": report.Escalation.ManagerAlerts,
	})
}
