package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	"github.com/noah-isme/sma-enroll-api/internal/service"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
	"github.com/noah-isme/sma-enroll-api/pkg/response"
)

// OverrideHandler exposes the administrative override workflow.
type OverrideHandler struct {
	overrides *service.OverrideService
}

// NewOverrideHandler constructs OverrideHandler.
func NewOverrideHandler(overrides *service.OverrideService) *OverrideHandler {
	return &OverrideHandler{overrides: overrides}
}

// OverridePayload is the body of an override request.
type OverridePayload struct {
	ClassID   string `json:"class_id" binding:"required"`
	StudentID string `json:"student_id" binding:"required"`
	Type      string `json:"type" binding:"required,override_type"`
	Notes     string `json:"notes"`
}

// Request godoc
// @Summary File an override request
// @Tags Overrides
// @Accept json
// @Produce json
// @Param payload body OverridePayload true "Override request"
// @Success 201 {object} response.Envelope
// @Router /overrides [post]
func (h *OverrideHandler) Request(c *gin.Context) {
	var req OverridePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	overrideType := models.OverrideType(strings.ToUpper(req.Type))
	request, err := h.overrides.RequestOverride(c.Request.Context(), *claims, req.ClassID, req.StudentID, overrideType, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Approve godoc
// @Summary Approve a pending override
// @Tags Overrides
// @Produce json
// @Param id path string true "Override ID"
// @Success 200 {object} response.Envelope
// @Router /overrides/{id}/approve [post]
func (h *OverrideHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, allocation, err := h.overrides.ApproveOverride(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"override": request, "allocation": allocation}, nil)
}

// Deny godoc
// @Summary Deny a pending override
// @Tags Overrides
// @Accept json
// @Produce json
// @Param id path string true "Override ID"
// @Param payload body DenyPayload true "Denial reason"
// @Success 200 {object} response.Envelope
// @Router /overrides/{id}/deny [post]
func (h *OverrideHandler) Deny(c *gin.Context) {
	var req DenyPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "a denial reason is required"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.overrides.DenyOverride(c.Request.Context(), c.Param("id"), *claims, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ListPending godoc
// @Summary List pending overrides
// @Tags Overrides
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /overrides/pending [get]
func (h *OverrideHandler) ListPending(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	requests, total, err := h.overrides.ListPending(c.Request.Context(), claims.InstitutionID, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// Policy godoc
// @Summary Get the override capability for the caller's role
// @Tags Overrides
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /overrides/policy [get]
func (h *OverrideHandler) Policy(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	policy, ok := h.overrides.GetPolicy(claims.Role)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role cannot request overrides"))
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}
