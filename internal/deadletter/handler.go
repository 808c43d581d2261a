package deadletter

import (
	"net/http"
	"strconv"

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
	v1 := router.Group("/api/v1/tenants/:tenantId/dead-letters")
	{
		v1.GET("", h.List)
		v1.POST("/:id/resolve", h.Resolve)
		v1.POST("/:id/discard", h.Discard)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// List godoc
// @Summary      List dead-letter items
// @Description  List a tenant's retry queue and dead-letter items, most recently failed first
// @Tags         dead-letters
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true   "Tenant ID"
// @Param        state     query     string  false  "Filter by state"  Enums(pending, retrying, resolved, dead_lettered, discarded)
// @Param        rule_id   query     string  false  "Filter by rule ID"
// @Param        limit     query     int     false  "Maximum entries"
// @Success      200       {array}   DeadLetterItem
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/dead-letters [get]
func (h *Handler) List(c *gin.Context) {
	filter := ListFilter{
		State:  State(c.Query("state")),
		RuleID: c.Query("rule_id"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = parsed
		}
	}

	items, err := h.service.List(c.Request.Context(), c.Param("tenantId"), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// Resolve godoc
// @Summary      Resolve a dead-letter item manually
// @Description  Mark an item resolved without replaying its stimulus
// @Tags         dead-letters
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true  "Tenant ID"
// @Param        id        path      string  true  "Item ID"
// @Success      200       {object}  DeadLetterItem
// @Failure      404       {object}  errors.ErrorResponse
// @Failure      409       {object}  errors.ErrorResponse
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/dead-letters/{id}/resolve [post]
func (h *Handler) Resolve(c *gin.Context) {
	item, err := h.service.ResolveManually(c.Request.Context(), c.Param("tenantId"), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Discard godoc
// @Summary      Discard a dead-letter item
// @Description  Drop an item from operator view; the record is retained
// @Tags         dead-letters
// @Accept       json
// @Produce      json
// @Param        tenantId  path      string  true  "Tenant ID"
// @Param        id        path      string  true  "Item ID"
// @Success      200       {object}  DeadLetterItem
// @Failure      404       {object}  errors.ErrorResponse
// @Failure      409       {object}  errors.ErrorResponse
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /tenants/{tenantId}/dead-letters/{id}/discard [post]
func (h *Handler) Discard(c *gin.Context) {
	item, err := h.service.Discard(c.Request.Context(), c.Param("tenantId"), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
