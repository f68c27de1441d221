package v1

import (
	"net/http"

	"github.com/freeflowhq/billing-engine/internal/api/dto"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/service"
	"github.com/gin-gonic/gin"
)

type WebhookEndpointHandler struct {
	service service.WebhookEndpointService
	log     *logger.Logger
}

func NewWebhookEndpointHandler(service service.WebhookEndpointService, log *logger.Logger) *WebhookEndpointHandler {
	return &WebhookEndpointHandler{service: service, log: log}
}

func (h *WebhookEndpointHandler) CreateEndpoint(c *gin.Context) {
	var req dto.CreateWebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateEndpoint(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create webhook endpoint", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *WebhookEndpointHandler) GetEndpoint(c *gin.Context) {
	id := c.Param("id")
	resp, err := h.service.GetEndpoint(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WebhookEndpointHandler) ListEndpoints(c *gin.Context) {
	resp, err := h.service.ListEndpoints(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WebhookEndpointHandler) UpdateEndpoint(c *gin.Context) {
	id := c.Param("id")
	var req dto.UpdateWebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.UpdateEndpoint(c.Request.Context(), id, &req)
	if err != nil {
		h.log.Error("Failed to update webhook endpoint", "error", err, "endpoint_id", id)
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WebhookEndpointHandler) DeleteEndpoint(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.DeleteEndpoint(c.Request.Context(), id); err != nil {
		h.log.Error("Failed to delete webhook endpoint", "error", err, "endpoint_id", id)
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
