package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/imageforge/api/internal/middleware"
	"github.com/imageforge/api/internal/model"
	"github.com/imageforge/api/internal/service"
	"github.com/imageforge/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/jobs
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if err := req.Validate(); err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	ownerID := middleware.GetUserID(c)
	priority := model.PriorityStandard
	if middleware.GetUserPlan(c) == "premium" {
		priority = model.PriorityPremium
	}

	result, err := h.service.Submit(c.Context(), ownerID, &req, priority)
	if err != nil {
		if errors.Is(err, service.ErrQuotaExceeded) {
			return response.QuotaExceeded(c, "Monthly generation quota exceeded")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Status(c.Context(), jobID, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Download handles GET /api/jobs/:jobId/download
func (h *JobHandler) Download(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Download(c.Context(), jobID, middleware.GetUserID(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrNoResult):
			return response.Conflict(c, "Job has no result to download")
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/jobs/:jobId/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) []string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}

	var details []string
	for _, fe := range ve {
		details = append(details, fmt.Sprintf("field '%s' failed on '%s'", fe.Field(), fe.Tag()))
	}
	return details
}
