package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enroll-api/internal/service"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
	"github.com/noah-isme/sma-enroll-api/pkg/response"
)

// WaitlistHandler exposes waitlist position and promotion endpoints.
type WaitlistHandler struct {
	capacity *service.CapacityService
}

// NewWaitlistHandler constructs WaitlistHandler.
func NewWaitlistHandler(capacity *service.CapacityService) *WaitlistHandler {
	return &WaitlistHandler{capacity: capacity}
}

// List godoc
// @Summary List a class waitlist in position order
// @Tags Waitlist
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/waitlist [get]
func (h *WaitlistHandler) List(c *gin.Context) {
	entries, err := h.capacity.ListWaitlist(c.Request.Context(), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Position godoc
// @Summary Get a student's waitlist position and probability estimate
// @Tags Waitlist
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/waitlist/{studentId} [get]
func (h *WaitlistHandler) Position(c *gin.Context) {
	snapshot, err := h.capacity.GetWaitlistPosition(c.Request.Context(), c.Param("classId"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Accept godoc
// @Summary Accept a promotion offer
// @Tags Waitlist
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/waitlist/accept [post]
func (h *WaitlistHandler) Accept(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	enrollment, err := h.capacity.AcceptPromotion(c.Request.Context(), c.Param("classId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Decline godoc
// @Summary Decline a promotion offer
// @Tags Waitlist
// @Produce json
// @Param classId path string true "Class ID"
// @Success 204
// @Router /classes/{classId}/waitlist/decline [post]
func (h *WaitlistHandler) Decline(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.capacity.DeclinePromotion(c.Request.Context(), c.Param("classId"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Promote godoc
// @Summary Trigger promotion for a class with free seats
// @Tags Waitlist
// @Produce json
// @Param classId path string true "Class ID"
// @Success 204
// @Router /classes/{classId}/waitlist/promote [post]
func (h *WaitlistHandler) Promote(c *gin.Context) {
	if err := h.capacity.Promote(c.Request.Context(), c.Param("classId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
