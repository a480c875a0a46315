package workspaces

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgWorkspaceScope   = "workspace scope required"
	msgAdminRequired    = "admin role required"
)

type createWorkspaceRequest struct {
	Name          string          `json:"name" validate:"required,max=120"`
	Timezone      string          `json:"timezone" validate:"omitempty,max=64"`
	BusinessHours json.RawMessage `json:"businessHours"`
}

type memberRequest struct {
	UserID      string `json:"userId" validate:"required,uuid"`
	Role        string `json:"role" validate:"required,oneof=OWNER ADMIN MANAGER AGENT"`
	Status      string `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
	IsAvailable bool   `json:"isAvailable"`
}

type escalationRequest struct {
	Enabled           bool    `json:"enabled"`
	RemindAtPct       float64 `json:"remindAtPct" validate:"min=0,max=1000"`
	ReassignAtPct     float64 `json:"reassignAtPct" validate:"min=0,max=1000"`
	ManagerAlertAtPct float64 `json:"managerAlertAtPct" validate:"min=0,max=1000"`
}

type stageRequest struct {
	Key                  string             `json:"key" validate:"required,max=64"`
	Name                 string             `json:"name" validate:"required,max=120"`
	TargetMinutes        int                `json:"targetMinutes" validate:"required,min=1"`
	BusinessHoursEnabled bool               `json:"businessHoursEnabled"`
	StopOnProofTypes     []string           `json:"stopOnProofTypes"`
	Position             int                `json:"position" validate:"min=0"`
	Escalation           *escalationRequest `json:"escalation"`
}

type createFlowRequest struct {
	Name                string         `json:"name" validate:"required,max=120"`
	EligibleAgents      []string       `json:"eligibleAgents" validate:"dive,uuid"`
	FallbackOwnerUserID *string        `json:"fallbackOwnerUserId" validate:"omitempty,uuid"`
	Stages              []stageRequest `json:"stages" validate:"required,min=1,dive"`
}

type updateStagesRequest struct {
	Stages []stageRequest `json:"stages" validate:"required,min=1,dive"`
}

type Handler struct {
	svc *Service
	val *validator.Validator
}

func NewHandler(svc *Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.CreateWorkspace)
	rg.GET("/me", h.GetCurrent)
	rg.GET("/members", h.ListMembers)
	rg.POST("/members", h.UpsertMember)
	rg.POST("/flows", h.CreateFlow)
	rg.PUT("/flows/:id/stages", h.UpdateFlowStages)
}

// adminScope resolves the tenant and requires a management role for writes.
func adminScope(c *gin.Context) (uuid.UUID, bool) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return uuid.Nil, false
	}
	if id.WorkspaceID() == uuid.Nil {
		httpkit.Error(c, http.StatusForbidden, msgWorkspaceScope, nil)
		return uuid.Nil, false
	}
	if !id.HasRole(RoleOwner) && !id.HasRole(RoleAdmin) && !id.HasRole(RoleManager) {
		httpkit.Error(c, http.StatusForbidden, msgAdminRequired, nil)
		return uuid.Nil, false
	}
	return id.WorkspaceID(), true
}

func (h *Handler) CreateWorkspace(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	ws, err := h.svc.CreateWorkspace(c.Request.Context(), CreateWorkspaceInput{
		Name:          req.Name,
		Timezone:      req.Timezone,
		BusinessHours: req.BusinessHours,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, gin.H{"id": ws.ID, "name": ws.Name, "timezone": ws.Timezone})
}

func (h *Handler) GetCurrent(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	if id.WorkspaceID() == uuid.Nil {
		httpkit.Error(c, http.StatusForbidden, msgWorkspaceScope, nil)
		return
	}

	ws, err := h.svc.GetWorkspace(c.Request.Context(), id.WorkspaceID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{
		"id":            ws.ID,
		"name":          ws.Name,
		"timezone":      ws.Timezone,
		"businessHours": json.RawMessage(ws.BusinessHours),
	})
}

func (h *Handler) ListMembers(c *gin.Context) {
	workspaceID, ok := adminScope(c)
	if !ok {
		return
	}

	members, err := h.svc.ListMemberships(c.Request.Context(), workspaceID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"items": members})
}

func (h *Handler) UpsertMember(c *gin.Context) {
	workspaceID, ok := adminScope(c)
	if !ok {
		return
	}

	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	if err := h.svc.UpsertMembership(c.Request.Context(), Membership{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        req.Role,
		Status:      req.Status,
		IsAvailable: req.IsAvailable,
	}); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"status": "ok"})
}

func (h *Handler) CreateFlow(c *gin.Context) {
	workspaceID, ok := adminScope(c)
	if !ok {
		return
	}

	var req createFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	agents := make([]uuid.UUID, 0, len(req.EligibleAgents))
	for _, raw := range req.EligibleAgents {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		agents = append(agents, id)
	}
	var fallback *uuid.UUID
	if req.FallbackOwnerUserID != nil {
		id, err := uuid.Parse(*req.FallbackOwnerUserID)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		fallback = &id
	}

	flow, err := h.svc.CreateFlow(c.Request.Context(), CreateFlowInput{
		WorkspaceID:         workspaceID,
		Name:                req.Name,
		EligibleAgents:      agents,
		FallbackOwnerUserID: fallback,
		Stages:              stageInputs(req.Stages),
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, gin.H{"id": flow.ID, "name": flow.Name})
}

func (h *Handler) UpdateFlowStages(c *gin.Context) {
	workspaceID, ok := adminScope(c)
	if !ok {
		return
	}
	flowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req updateStagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if err := h.svc.UpdateFlowStages(c.Request.Context(), workspaceID, flowID, stageInputs(req.Stages)); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"status": "ok"})
}

func stageInputs(reqs []stageRequest) []StageInput {
	stages := make([]StageInput, 0, len(reqs))
	for _, st := range reqs {
		in := StageInput{
			Key:                  st.Key,
			Name:                 st.Name,
			TargetMinutes:        st.TargetMinutes,
			BusinessHoursEnabled: st.BusinessHoursEnabled,
			StopOnProofTypes:     st.StopOnProofTypes,
			Position:             st.Position,
		}
		if st.Escalation != nil {
			in.Escalation = &EscalationInput{
				Enabled:           st.Escalation.Enabled,
				RemindAtPct:       st.Escalation.RemindAtPct,
				ReassignAtPct:     st.Escalation.ReassignAtPct,
				ManagerAlertAtPct: st.Escalation.ManagerAlertAtPct,
			}
		}
		stages = append(stages, in)
	}
	return stages
}
