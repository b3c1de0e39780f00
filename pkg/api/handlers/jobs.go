package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/jordanlanch/companion-api/pkg/api/errors"
	"github.com/jordanlanch/companion-api/pkg/jobs"
	"github.com/labstack/echo/v4"
)

// JobsHandler handles background job endpoints
type JobsHandler struct {
	reconciler *jobs.Reconciler
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(reconciler *jobs.Reconciler) *JobsHandler {
	return &JobsHandler{
		reconciler: reconciler,
	}
}

// Reconcile godoc
// @Summary Run commission reconciliation
// @Description Distributes commissions for completed payments the webhook missed and retries partial distributions. Requires admin role.
// @Tags Admin Jobs
// @Produce json
// @Security BearerAuth
// @Success 200 {object} jobs.Report
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Forbidden - admin role required"
// @Failure 500 {object} models.ErrorResponse
// @Router /admin/jobs/reconcile [post]
func (h *JobsHandler) Reconcile(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Minute)
	defer cancel()

	report, err := h.reconciler.Run(ctx)
	if err != nil {
		return apierrors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
