// Package reports implements the report HTTP endpoints: anonymous intake, linking anonymous
// reports to an account, the gated valuation fetch and the public VIN check.
package reports

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vehicle-valuation/valuation-backend/internal/db/models"
	"github.com/vehicle-valuation/valuation-backend/internal/middleware"
	"github.com/vehicle-valuation/valuation-backend/internal/services"
	"github.com/vehicle-valuation/valuation-backend/internal/telemetry"
	"github.com/vehicle-valuation/valuation-backend/internal/valuation"
	"github.com/vehicle-valuation/valuation-backend/internal/validation"
)

// ReportStore is the data access used directly by the handlers.
type ReportStore interface {
	LinkAnonymousReports(ctx context.Context, userID, email string) (int64, error)
	UpdateValuation(ctx context.Context, reportID string, amount int64) error
	LogAPICall(ctx context.Context, entry *models.APICallLog) error
}

// Valuer fetches a market valuation from the billed provider.
type Valuer interface {
	Estimate(ctx context.Context, vin string, mileage int, zip string) (*valuation.Estimate, error)
}

// Handler serves the report endpoints
type Handler struct {
	intake *services.ReportIntake
	gate   *services.ReportGate
	store  ReportStore
	valuer Valuer
	now    func() time.Time
}

// NewHandler creates a report handler
func NewHandler(intake *services.ReportIntake, gate *services.ReportGate, store ReportStore, valuer Valuer) *Handler {
	return &Handler{
		intake: intake,
		gate:   gate,
		store:  store,
		valuer: valuer,
		now:    time.Now,
	}
}

// createReportRequest accepts mileage as either a JSON number or a string.
type createReportRequest struct {
	Email   string `json:"email"`
	VIN     string `json:"vin"`
	Mileage any    `json:"mileage"`
	ZipCode string `json:"zip_code"`
}

func mileageText(v any) string {
	switch m := v.(type) {
	case nil:
		return ""
	case string:
		return m
	case float64:
		return strconv.FormatFloat(m, 'f', -1, 64)
	default:
		// Objects, arrays and booleans fail integer parsing downstream.
		return "invalid"
	}
}

// CreateReport creates a report for an anonymous or signed-in caller. A resubmission of the
// same VIN, email and mileage within the duplicate window returns the existing report.
// POST /api/v1/reports
func (h *Handler) CreateReport(c *gin.Context) {
	var req createReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var identity *services.Identity
	if userID, email, ok := middleware.CurrentUser(c); ok {
		identity = &services.Identity{UserID: userID, Email: email}
	}

	result, err := h.intake.Create(c.Request.Context(), services.IntakeRequest{
		Email:   req.Email,
		VIN:     req.VIN,
		Mileage: mileageText(req.Mileage),
		ZipCode: req.ZipCode,
	}, identity)
	if err != nil {
		var fieldErr *services.FieldError
		if errors.As(err, &fieldErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fieldErr.Message, "field": fieldErr.Field})
			return
		}
		slog.Error("failed to create report", "request_id", middleware.RequestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create report"})
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"report":    result.Report,
		"duplicate": result.Duplicate,
	})
}

// LinkReports attaches every anonymous report filed under the caller's email to their account.
// POST /api/v1/reports/link
func (h *Handler) LinkReports(c *gin.Context) {
	userID, email, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	linked, err := h.store.LinkAnonymousReports(c.Request.Context(), userID, email)
	if err != nil {
		slog.Error("failed to link anonymous reports", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link reports"})
		return
	}

	if linked > 0 {
		slog.Info("linked anonymous reports", "user_id", userID, "count", linked)
	}
	c.JSON(http.StatusOK, gin.H{"linked": linked})
}

// FetchValuation runs the report gate and, only if every check passes, calls the billed
// valuation provider and stores the result.
// POST /api/v1/reports/:id/valuation
func (h *Handler) FetchValuation(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	reportID := c.Param("id")
	ctx := c.Request.Context()

	gate := h.gate.ValidateBeforeExpensiveCall(ctx, reportID, userID)
	if !gate.Valid {
		telemetry.ValuationRequestsTotal.WithLabelValues("rejected").Inc()
		c.JSON(services.HTTPStatus(gate.Code), gate)
		return
	}
	data := gate.Data

	start := h.now()
	estimate, err := h.valuer.Estimate(ctx, data.VIN, data.Mileage, data.ZipCode)
	h.logAPICall(ctx, reportID, h.now().Sub(start), err)

	if err != nil {
		telemetry.ValuationRequestsTotal.WithLabelValues("provider_error").Inc()
		slog.Error("valuation provider call failed", "report_id", reportID, "error", err)
		if errors.Is(err, valuation.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Valuation service is not available"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Valuation provider request failed"})
		return
	}

	if err := h.store.UpdateValuation(ctx, reportID, estimate.Amount); err != nil {
		telemetry.ValuationRequestsTotal.WithLabelValues("store_error").Inc()
		slog.Error("failed to store valuation", "report_id", reportID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store valuation"})
		return
	}

	telemetry.ValuationRequestsTotal.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, gin.H{
		"report_id": reportID,
		"valuation": estimate,
	})
}

// logAPICall records the provider call. Failures are logged and otherwise ignored.
func (h *Handler) logAPICall(ctx context.Context, reportID string, elapsed time.Duration, callErr error) {
	entry := &models.APICallLog{
		ReportID:   reportID,
		Provider:   valuation.ProviderName,
		StatusCode: http.StatusOK,
		DurationMS: elapsed.Milliseconds(),
	}
	if callErr != nil {
		msg := callErr.Error()
		entry.Error = &msg
		entry.StatusCode = 0
		var statusErr *valuation.StatusError
		if errors.As(callErr, &statusErr) {
			entry.StatusCode = statusErr.StatusCode
		}
	}
	if err := h.store.LogAPICall(ctx, entry); err != nil {
		slog.Warn("failed to record valuation API call", "report_id", reportID, "error", err)
	}
}

// CheckVIN validates a VIN and returns its decomposition. It never calls a paid provider.
// GET /api/v1/vin/:vin
func (h *Handler) CheckVIN(c *gin.Context) {
	vin := validation.SanitizeVIN(c.Param("vin"))

	resp := gin.H{
		"vin":   vin,
		"valid": true,
		"error": nil,
		"info":  nil,
	}
	if msg := validation.VINValidationError(vin); msg != "" {
		resp["valid"] = false
		resp["error"] = msg
	}
	if info := validation.ExtractVINInfo(vin); info != nil {
		resp["info"] = info
		resp["model_years"] = validation.ModelYearCandidates(info.ModelYear[0], h.now().Year()+1)
	}

	c.JSON(http.StatusOK, resp)
}
