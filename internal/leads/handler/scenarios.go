package handler

import (
	"net/http"

	"leadflow_backend/internal/autopilot"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ScenarioHandler serves the autopilot scenario admin surface.
type ScenarioHandler struct {
	admin *autopilot.Admin
	val   *validator.Validator
}

func NewScenarioHandler(admin *autopilot.Admin, val *validator.Validator) *ScenarioHandler {
	return &ScenarioHandler{admin: admin, val: val}
}

func (h *ScenarioHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.PUT("/:id", h.Update)
	rg.POST("/:id/default", h.SetDefault)
}

func (h *ScenarioHandler) bind(c *gin.Context) (autopilot.ScenarioInput, bool) {
	var req transport.ScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return autopilot.ScenarioInput{}, false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return autopilot.ScenarioInput{}, false
	}
	handoverUserID, err := transport.ParseOptionalUUID(req.HandoverUserID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return autopilot.ScenarioInput{}, false
	}

	return autopilot.ScenarioInput{
		Name:               req.Name,
		Mode:               req.Mode,
		MaxQuestions:       req.MaxQuestions,
		SLAMinutes:         req.SLAMinutes,
		AIPrompt:           req.AIPrompt,
		AgentName:          req.AgentName,
		CompanyName:        req.CompanyName,
		CompanyDescription: req.CompanyDescription,
		OfferSummary:       req.OfferSummary,
		CalendarLinkRaw:    req.CalendarLinkRaw,
		HandoverUserID:     handoverUserID,
		IsDefault:          req.IsDefault,
	}, true
}

func (h *ScenarioHandler) List(c *gin.Context) {
	workspaceID, ok := workspaceScope(c)
	if !ok {
		return
	}
	items, err := h.admin.ListScenarios(c.Request.Context(), workspaceID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *ScenarioHandler) Create(c *gin.Context) {
	workspaceID, ok := workspaceScope(c)
	if !ok {
		return
	}
	in, ok := h.bind(c)
	if !ok {
		return
	}

	s, err := h.admin.CreateScenario(c.Request.Context(), workspaceID, in)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, s)
}

func (h *ScenarioHandler) Update(c *gin.Context) {
	workspaceID, ok := workspaceScope(c)
	if !ok {
		return
	}
	scenarioID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	in, ok := h.bind(c)
	if !ok {
		return
	}

	s, err := h.admin.UpdateScenario(c.Request.Context(), workspaceID, scenarioID, in)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, s)
}

func (h *ScenarioHandler) SetDefault(c *gin.Context) {
	workspaceID, ok := workspaceScope(c)
	if !ok {
		return
	}
	scenarioID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	if err := h.admin.SetDefault(c.Request.Context(), workspaceID, scenarioID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"ok": true})
}
