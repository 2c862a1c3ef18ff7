package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enroll-api/internal/service"
	"github.com/noah-isme/sma-enroll-api/pkg/response"
)

// WaitlistHandler exposes waitlist endpoints.
type WaitlistHandler struct {
	enrollments *service.EnrollmentService
	waitlist    *service.WaitlistService
}

// NewWaitlistHandler constructs WaitlistHandler.
func NewWaitlistHandler(enrollments *service.EnrollmentService, waitlist *service.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{enrollments: enrollments, waitlist: waitlist}
}

// List godoc
// @Summary List the ordered waitlist for a class
// @Tags Waitlist
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/waitlist [get]
func (h *WaitlistHandler) List(c *gin.Context) {
	entries, err := h.waitlist.List(c.Request.Context(), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Position godoc
// @Summary A student's waitlist position and promotion estimate
// @Tags Waitlist
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{classId}/waitlist/{studentId} [get]
func (h *WaitlistHandler) Position(c *gin.Context) {
	position, err := h.enrollments.GetWaitlistPosition(c.Request.Context(), c.Param("classId"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, position, nil)
}

// Leave godoc
// @Summary Leave a class waitlist
// @Tags Waitlist
// @Produce json
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/waitlist/{studentId} [delete]
func (h *WaitlistHandler) Leave(c *gin.Context) {
	decision, err := h.enrollments.LeaveWaitlist(c.Request.Context(), claimsFromContext(c), c.Param("studentId"), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}
