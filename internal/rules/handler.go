package rules

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"beacon/internal/logger"
	"beacon/pkg/errors"
)

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
	Service Service
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		Service:     service,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		rules := v1.Group("/tenants/:tenantId/rules")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.GET("/:id/versions", h.GetRuleVersions)
		}

		v1.GET("/tenants/:tenantId/rule-changes", h.GetChangeLogs)
	}
}

// ListRules godoc
// @Summary      List automation rules
// @Description  List a tenant's automation rules, most recently updated first
// @Tags         automation-rules
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true   "Tenant ID"
// @Param        limit     query     int     false  "Page size"
// @Param        offset    query     int     false  "Page offset"
// @Success      200       {array}   AutomationRule
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	var page Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rules, err := h.Service.ListRules(c.Request.Context(), c.Param("tenantId"), page)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule godoc
// @Summary      Create an automation rule
// @Description  Create a new automation rule for a tenant
// @Tags         automation-rules
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string             true  "Tenant ID"
// @Param        rule      body      CreateRuleRequest  true  "Rule definition"
// @Success      201       {object}  AutomationRule
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      409       {object}  errors.ErrorResponse
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.CreateRule(c.Request.Context(), c.Param("tenantId"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetRule godoc
// @Summary      Get an automation rule
// @Description  Get a single automation rule by ID
// @Tags         automation-rules
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true  "Tenant ID"
// @Param        id        path      string  true  "Rule ID"
// @Success      200       {object}  AutomationRule
// @Failure      403       {object}  errors.ErrorResponse
// @Failure      404       {object}  errors.ErrorResponse
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/rules/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Request.Context(), c.Param("tenantId"), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update an automation rule
// @Description  Patch an existing automation rule
// @Tags         automation-rules
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string             true  "Tenant ID"
// @Param        id        path      string             true  "Rule ID"
// @Param        rule      body      UpdateRuleRequest  true  "Fields to update"
// @Success      200       {object}  AutomationRule
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      403       {object}  errors.ErrorResponse
// @Failure      404       {object}  errors.ErrorResponse
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.UpdateRule(c.Request.Context(), c.Param("tenantId"), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete an automation rule
// @Description  Delete an automation rule by ID
// @Tags         automation-rules
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true  "Tenant ID"
// @Param        id        path      string  true  "Rule ID"
// @Success      204       "No Content"
// @Failure      403       {object}  errors.ErrorResponse
// @Failure      404       {object}  errors.ErrorResponse
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/rules/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	err := h.Service.DeleteRule(c.Request.Context(), c.Param("tenantId"), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetRuleVersions godoc
// @Summary      Get rule version history
// @Description  Get the stored version history for a rule
// @Tags         automation-rules
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true  "Tenant ID"
// @Param        id        path      string  true  "Rule ID"
// @Success      200       {array}   RuleVersion
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/rules/{id}/versions [get]
func (h *Handler) GetRuleVersions(c *gin.Context) {
	versions, err := h.Service.GetRuleVersions(c.Request.Context(), c.Param("tenantId"), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

// GetChangeLogs godoc
// @Summary      Get rule change logs
// @Description  Get recent configuration changes for a tenant's rules
// @Tags         automation-rules
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true   "Tenant ID"
// @Param        rule_id   query     string  false  "Filter by rule ID"
// @Param        limit     query     int     false  "Maximum entries"
// @Success      200       {array}   ChangeLog
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/rule-changes [get]
func (h *Handler) GetChangeLogs(c *gin.Context) {
	var ruleID *string
	if id := c.Query("rule_id"); id != "" {
		ruleID = &id
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	logs, err := h.Service.GetChangeLogs(c.Request.Context(), c.Param("tenantId"), ruleID, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
