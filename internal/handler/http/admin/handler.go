package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clinichub-backend/internal/service/verification"
	"clinichub-backend/pkg/response"
)

// Handler handles doctor verification HTTP requests.
type Handler struct {
	verification *verification.Service
}

// NewHandler creates an admin handler.
func NewHandler(verificationService *verification.Service) *Handler {
	return &Handler{verification: verificationService}
}

// RegisterPublicRoutes mounts the unauthenticated registration route.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/doctors/register", h.RegisterDoctor)
}

// RegisterAdminRoutes mounts the decision routes; callers must already
// be role-gated to admin.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.PUT("/doctors/:doctorId/approve", h.ApproveDoctor)
	rg.PUT("/doctors/:doctorId/reject", h.RejectDoctor)
}

// RegisterDoctor creates a pending doctor account.
// POST /v1/doctors/register
func (h *Handler) RegisterDoctor(c *gin.Context) {
	var req verification.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	user, err := h.verification.RegisterDoctor(c.Request.Context(), &req)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, user)
}

// ApproveDoctor marks a doctor as verified.
// PUT /v1/admin/doctors/:doctorId/approve
func (h *Handler) ApproveDoctor(c *gin.Context) {
	if err := h.verification.ApproveDoctor(c.Request.Context(), c.Param("doctorId")); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "approved"})
}

// RejectDoctorRequest carries the rejection reason.
type RejectDoctorRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectDoctor marks a doctor's verification as rejected.
// PUT /v1/admin/doctors/:doctorId/reject
func (h *Handler) RejectDoctor(c *gin.Context) {
	var req RejectDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.verification.RejectDoctor(c.Request.Context(), c.Param("doctorId"), req.Reason); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "rejected"})
}
