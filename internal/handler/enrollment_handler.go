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

// EnrollmentHandler exposes the admission flow endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// RequestEnrollmentPayload is the body of a single enrollment request.
type RequestEnrollmentPayload struct {
	ClassID       string `json:"class_id" binding:"required"`
	StudentID     string `json:"student_id" binding:"required"`
	Justification string `json:"justification"`
}

// BulkEnrollPayload is the body of a bulk enrollment request.
type BulkEnrollPayload struct {
	ClassID    string   `json:"class_id" binding:"required"`
	StudentIDs []string `json:"student_ids" binding:"required"`
}

// DropPayload carries the optional drop reason.
type DropPayload struct {
	Reason string `json:"reason"`
}

// Request godoc
// @Summary Request enrollment in a class
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body RequestEnrollmentPayload true "Enrollment request"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Request(c *gin.Context) {
	var req RequestEnrollmentPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if claims.Role == models.RoleStudent && claims.UserID != req.StudentID {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students can only enroll themselves"))
		return
	}

	decision, err := h.enrollments.RequestEnrollment(c.Request.Context(), req.ClassID, req.StudentID, claims.UserID, req.Justification)
	if err != nil {
		response.Error(c, err)
		return
	}
	if decision.Existing {
		response.JSON(c, http.StatusOK, decision, nil)
		return
	}
	response.Created(c, decision)
}

// Bulk godoc
// @Summary Enroll multiple students
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body BulkEnrollPayload true "Bulk enrollment request"
// @Success 200 {object} response.Envelope
// @Router /enrollments/bulk [post]
func (h *EnrollmentHandler) Bulk(c *gin.Context) {
	var req BulkEnrollPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.enrollments.BulkEnroll(c.Request.Context(), req.ClassID, req.StudentIDs, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param classId query string false "Filter by class"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.StudentID = c.Query("studentId")
	filter.ClassID = c.Query("classId")
	if status := c.Query("status"); status != "" {
		filter.Status = models.EnrollmentStatus(strings.ToUpper(status))
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	claims := claimsFromContext(c)
	if claims != nil {
		filter.InstitutionID = claims.InstitutionID
	}

	enrollments, total, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Drop godoc
// @Summary Drop an enrolled student
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Param payload body DropPayload false "Drop reason"
// @Success 204
// @Router /classes/{classId}/students/{studentId} [delete]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	var req DropPayload
	_ = c.ShouldBindJSON(&req)
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	err := h.enrollments.DropStudent(c.Request.Context(), c.Param("classId"), c.Param("studentId"), req.Reason, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Complete godoc
// @Summary Mark an enrollment completed
// @Tags Enrollments
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /classes/{classId}/students/{studentId}/complete [post]
func (h *EnrollmentHandler) Complete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	err := h.enrollments.CompleteEnrollment(c.Request.Context(), c.Param("classId"), c.Param("studentId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Eligibility godoc
// @Summary Evaluate eligibility without enrolling
// @Tags Enrollments
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/students/{studentId}/eligibility [get]
func (h *EnrollmentHandler) Eligibility(c *gin.Context) {
	result, err := h.enrollments.EvaluateEligibility(c.Request.Context(), c.Param("classId"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AcceptInvitation godoc
// @Summary Redeem an invitation to an invitation-only class
// @Tags Enrollments
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/invitations/accept [post]
func (h *EnrollmentHandler) AcceptInvitation(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	decision, err := h.enrollments.AcceptInvitation(c.Request.Context(), c.Param("classId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}
