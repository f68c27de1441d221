package v1

import (
	"net/http"

	"github.com/freeflowhq/billing-engine/internal/api/dto"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/service"
	"github.com/gin-gonic/gin"
)

type InvoiceHandler struct {
	service service.InvoiceService
	dunning service.DunningService
	log     *logger.Logger
}

func NewInvoiceHandler(service service.InvoiceService, dunning service.DunningService, log *logger.Logger) *InvoiceHandler {
	return &InvoiceHandler{service: service, dunning: dunning, log: log}
}

// @Summary Create a one-off invoice
// @Description Create a draft invoice not tied to a subscription period
// @Tags Invoices
// @Accept json
// @Produce json
// @Param invoice body dto.CreateOneOffInvoiceRequest true "Invoice lines"
// @Success 201 {object} dto.InvoiceResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /invoices [post]
func (h *InvoiceHandler) CreateOneOffInvoice(c *gin.Context) {
	var req dto.CreateOneOffInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateOneOffInvoice(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create invoice", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Invoice ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.GetInvoice(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	resp, err := h.service.ListInvoices(c.Request.Context(), c.Query("customer_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *InvoiceHandler) AddLineItem(c *gin.Context) {
	id := c.Param("id")
	var req dto.AddLineItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.AddLineItem(c.Request.Context(), id, &req)
	if err != nil {
		h.log.Error("Failed to add line item", "error", err, "invoice_id", id)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Finalize an invoice
// @Description Compute totals, apply an optional coupon and open the invoice
// @Tags Invoices
// @Param id path string true "Invoice ID"
// @Success 200 {object} dto.InvoiceResponse
// @Router /invoices/{id}/finalize [post]
func (h *InvoiceHandler) FinalizeInvoice(c *gin.Context) {
	id := c.Param("id")
	var req dto.FinalizeInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}

	inv, err := h.service.Finalize(c.Request.Context(), id, req.CouponCode)
	if err != nil {
		h.log.Error("Failed to finalize invoice", "error", err, "invoice_id", id)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewInvoiceResponse(inv))
}

func (h *InvoiceHandler) VoidInvoice(c *gin.Context) {
	id := c.Param("id")
	resp, err := h.service.VoidInvoice(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to void invoice", "error", err, "invoice_id", id)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RetryPayment runs one collection attempt immediately, outside the
// scheduler's calendar
func (h *InvoiceHandler) RetryPayment(c *gin.Context) {
	id := c.Param("id")
	result, err := h.dunning.ProcessCollection(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to retry payment", "error", err, "invoice_id", id)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invoice":          dto.NewInvoiceResponse(result.Invoice),
		"outcome":          result.Outcome,
		"decline_reason":   result.DeclineReason,
		"already_recorded": result.AlreadyRecorded,
	})
}
