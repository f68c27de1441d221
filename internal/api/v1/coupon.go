package v1

import (
	"net/http"

	"github.com/freeflowhq/billing-engine/internal/api/dto"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/service"
	"github.com/gin-gonic/gin"
)

type CouponHandler struct {
	service service.CouponService
	log     *logger.Logger
}

func NewCouponHandler(service service.CouponService, log *logger.Logger) *CouponHandler {
	return &CouponHandler{service: service, log: log}
}

func (h *CouponHandler) CreateCoupon(c *gin.Context) {
	var req dto.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateCoupon(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create coupon", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *CouponHandler) GetCoupon(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Coupon ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.GetCoupon(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *CouponHandler) ListCoupons(c *gin.Context) {
	resp, err := h.service.ListCoupons(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ValidateCoupon resolves a code and reports whether it can currently be
// applied; exhausted and expired codes come back as typed errors
func (h *CouponHandler) ValidateCoupon(c *gin.Context) {
	code := c.Param("code")
	coupon, err := h.service.Resolve(c.Request.Context(), code)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewCouponResponse(coupon))
}
