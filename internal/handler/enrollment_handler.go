package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enroll-api/internal/dto"
	"github.com/noah-isme/sma-enroll-api/internal/models"
	"github.com/noah-isme/sma-enroll-api/internal/service"
	appErrors "github.com/noah-isme/sma-enroll-api/pkg/errors"
	"github.com/noah-isme/sma-enroll-api/pkg/response"
)

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	audit       *service.AuditRecorder
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, audit *service.AuditRecorder) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, audit: audit}
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
	filter.Status = models.EnrollmentStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Create godoc
// @Summary Enroll student
// @Description Decides enrolled, waitlisted or denied for one student and class.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	decision, err := h.enrollments.Enroll(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, decision)
}

// Bulk godoc
// @Summary Enroll a batch of students into one class
// @Description Partial success is expected; the result reports every student.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.BulkEnrollRequest true "Bulk enrollment payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/bulk [post]
func (h *EnrollmentHandler) Bulk(c *gin.Context) {
	var req dto.BulkEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.enrollments.BulkEnroll(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Drop godoc
// @Summary Drop an enrollment before the drop deadline
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.StatusChangeRequest false "Drop reason"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/students/{studentId}/drop [post]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	var req dto.StatusChangeRequest
	_ = c.ShouldBindJSON(&req)
	decision, err := h.enrollments.Drop(c.Request.Context(), claimsFromContext(c), c.Param("studentId"), c.Param("classId"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Withdraw godoc
// @Summary Withdraw from a class after the drop deadline
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.StatusChangeRequest false "Withdrawal reason"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/students/{studentId}/withdraw [post]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	var req dto.StatusChangeRequest
	_ = c.ShouldBindJSON(&req)
	decision, err := h.enrollments.Withdraw(c.Request.Context(), claimsFromContext(c), c.Param("studentId"), c.Param("classId"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Complete godoc
// @Summary Mark an enrollment as completed
// @Tags Enrollments
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/students/{studentId}/complete [post]
func (h *EnrollmentHandler) Complete(c *gin.Context) {
	decision, err := h.enrollments.Complete(c.Request.Context(), claimsFromContext(c), c.Param("studentId"), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// History godoc
// @Summary Enrollment audit history for a student and class
// @Tags Enrollments
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/students/{studentId}/history [get]
func (h *EnrollmentHandler) History(c *gin.Context) {
	logs, err := h.audit.History(c.Request.Context(), c.Param("studentId"), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}
