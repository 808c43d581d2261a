package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"beacon/internal/logger"
	"beacon/pkg/errors"
)

type Handler struct {
	service Service
	logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1/tenants/:tenantId")
	{
		v1.GET("/executions", h.ListLogs)
		v1.GET("/metrics/snapshot", h.GetSnapshot)
		v1.GET("/rules/:id/impact", h.GetImpact)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// ListLogs godoc
// @Summary      List execution logs
// @Description  List a tenant's execution audit log, most recent first
// @Tags         audit
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true   "Tenant ID"
// @Param        rule_id   query     string  false  "Filter by rule ID"
// @Param        start     query     string  false  "Window start (RFC3339)"
// @Param        end       query     string  false  "Window end (RFC3339)"
// @Param        limit     query     int     false  "Maximum entries"
// @Success      200       {array}   ExecutionLog
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/executions [get]
func (h *Handler) ListLogs(c *gin.Context) {
	filter := ListLogsFilter{
		RuleID: c.Query("rule_id"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = parsed
		}
	}

	if c.Query("start") != "" || c.Query("end") != "" {
		window, err := parseWindow(c, "start", "end")
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
			return
		}
		filter.Window = &window
	}

	logs, err := h.service.ListLogs(c.Request.Context(), c.Param("tenantId"), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetSnapshot godoc
// @Summary      Get metrics snapshot
// @Description  Aggregate execution counts for a tenant over a time window
// @Tags         audit
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true  "Tenant ID"
// @Param        start     query     string  true  "Window start (RFC3339)"
// @Param        end       query     string  true  "Window end (RFC3339)"
// @Success      200       {object}  MetricsSnapshot
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/metrics/snapshot [get]
func (h *Handler) GetSnapshot(c *gin.Context) {
	window, err := parseWindow(c, "start", "end")
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	snapshot, err := h.service.GetSnapshot(c.Request.Context(), c.Param("tenantId"), window)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetImpact godoc
// @Summary      Get rule impact analysis
// @Description  Before/after tenant metric comparison around a rule's activation. When no windows are given they are derived around the rule's first successful execution.
// @Tags         audit
// @Accept       json
// @Produce      json
// @Param        tenantId         path      string  true   "Tenant ID"
// @Param        id               path      string  true   "Rule ID"
// @Param        baseline_start   query     string  false  "Baseline window start (RFC3339)"
// @Param        baseline_end     query     string  false  "Baseline window end (RFC3339)"
// @Param        treatment_start  query     string  false  "Treatment window start (RFC3339)"
// @Param        treatment_end    query     string  false  "Treatment window end (RFC3339)"
// @Success      200              {object}  ImpactAnalysis
// @Failure      400              {object}  errors.ErrorResponse
// @Failure      404              {object}  errors.ErrorResponse
// @Failure      500              {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/rules/{id}/impact [get]
func (h *Handler) GetImpact(c *gin.Context) {
	// Zero windows tell the service to anchor the comparison on the rule's
	// first successful execution.
	var baseline, treatment Window
	if hasWindowParams(c, "baseline_start", "baseline_end", "treatment_start", "treatment_end") {
		var err error
		baseline, err = parseWindow(c, "baseline_start", "baseline_end")
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
			return
		}

		treatment, err = parseWindow(c, "treatment_start", "treatment_end")
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
			return
		}
	}

	impact, err := h.service.GetImpact(c.Request.Context(), c.Param("tenantId"), c.Param("id"), baseline, treatment)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, impact)
}

func hasWindowParams(c *gin.Context, params ...string) bool {
	for _, param := range params {
		if c.Query(param) != "" {
			return true
		}
	}
	return false
}

func parseWindow(c *gin.Context, startParam, endParam string) (Window, error) {
	start, err := time.Parse(time.RFC3339, c.Query(startParam))
	if err != nil {
		return Window{}, err
	}
	end, err := time.Parse(time.RFC3339, c.Query(endParam))
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}
