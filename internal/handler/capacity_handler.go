package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enroll-api/internal/service"
	"github.com/noah-isme/sma-enroll-api/pkg/response"
)

// CapacityHandler exposes seat usage endpoints for classes.
type CapacityHandler struct {
	enrollments *service.EnrollmentService
}

// NewCapacityHandler constructs CapacityHandler.
func NewCapacityHandler(enrollments *service.EnrollmentService) *CapacityHandler {
	return &CapacityHandler{enrollments: enrollments}
}

// Get godoc
// @Summary Current seat usage for a class
// @Tags Capacity
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/capacity [get]
func (h *CapacityHandler) Get(c *gin.Context) {
	status, err := h.enrollments.GetCapacity(c.Request.Context(), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Reconcile godoc
// @Summary Rebuild cached seat counts from enrollment rows
// @Tags Capacity
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/capacity/reconcile [post]
func (h *CapacityHandler) Reconcile(c *gin.Context) {
	status, err := h.enrollments.ReconcileClass(c.Request.Context(), claimsFromContext(c), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
