// Package services implements the business logic that sits between the HTTP handlers and the
// repositories: the pre-valuation report gate, idempotent anonymous intake and best-effort
// report enrichment.
package services

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vehicle-valuation/valuation-backend/internal/db/models"
	"github.com/vehicle-valuation/valuation-backend/internal/telemetry"
	"github.com/vehicle-valuation/valuation-backend/internal/validation"
)

// ErrorCode identifies why the report gate rejected a request.
type ErrorCode string

// Gate error codes.
const (
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	CodePaymentRequired ErrorCode = "PAYMENT_REQUIRED"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeInvalidVIN      ErrorCode = "INVALID_VIN"
	CodeInvalidMileage  ErrorCode = "INVALID_MILEAGE"
	CodeInvalidZIP      ErrorCode = "INVALID_ZIP"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
)

// HTTPStatus maps a gate error code to the response status used by the API layer.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodePaymentRequired:
		return http.StatusPaymentRequired
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidVIN, CodeInvalidMileage, CodeInvalidZIP:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ReportData is the sanitized vehicle data handed to the external valuation call.
type ReportData struct {
	VIN     string `json:"vin"`
	Mileage int    `json:"mileage"`
	ZipCode string `json:"zip_code"`
}

// GateResult is the outcome of one gate check or of the whole gate.
// Code is set whenever Valid is false.
type GateResult struct {
	Valid bool        `json:"valid"`
	Error string      `json:"error,omitempty"`
	Code  ErrorCode   `json:"errorCode,omitempty"`
	Data  *ReportData `json:"data,omitempty"`
}

func passed(data *ReportData) GateResult {
	return GateResult{Valid: true, Data: data}
}

// ReportGateStore is the data access the gate needs. Lookups return nil, nil for a missing row.
type ReportGateStore interface {
	GetReportForOwner(ctx context.Context, reportID, userID string) (*models.Report, error)
	GetReportPayment(ctx context.Context, reportID string) (*models.ReportPayment, error)
	GetReportVehicleData(ctx context.Context, reportID string) (*models.ReportVehicleData, error)
}

// GateOptions configures a ReportGate.
type GateOptions struct {
	// DisablePaymentCheck skips payment verification entirely. Development and staging only.
	DisablePaymentCheck bool
}

// ReportGate decides whether a report may be used for a billed valuation call.
type ReportGate struct {
	store ReportGateStore
	opts  GateOptions
}

// NewReportGate creates a new report gate
func NewReportGate(store ReportGateStore, opts GateOptions) *ReportGate {
	if opts.DisablePaymentCheck {
		slog.Warn("report gate: payment check is DISABLED; paid valuation calls are not protected")
	}
	return &ReportGate{store: store, opts: opts}
}

func (g *ReportGate) reject(reportID string, code ErrorCode, msg string) GateResult {
	telemetry.ReportGateRejectionsTotal.WithLabelValues(string(code)).Inc()
	slog.Info("report gate rejected", "report_id", reportID, "code", code)
	return GateResult{Valid: false, Error: msg, Code: code}
}

func (g *ReportGate) storageFault(reportID, check string, err error, msg string) GateResult {
	slog.Error("report gate: lookup failed", "report_id", reportID, "check", check, "error", err)
	return g.reject(reportID, CodeValidationError, msg)
}

// ValidateOwnership checks that reportID belongs to userID. A missing report and a report
// owned by someone else produce the same result.
func (g *ReportGate) ValidateOwnership(ctx context.Context, reportID, userID string) GateResult {
	report, err := g.store.GetReportForOwner(ctx, reportID, userID)
	if err != nil {
		return g.storageFault(reportID, "ownership", err, "Failed to validate report ownership")
	}
	if report == nil {
		return g.reject(reportID, CodeUnauthorized, "Report not found or access denied")
	}
	return passed(nil)
}

// ValidatePaymentStatus checks that a payment was captured for reportID.
// With DisablePaymentCheck set it succeeds without touching storage.
func (g *ReportGate) ValidatePaymentStatus(ctx context.Context, reportID string) GateResult {
	if g.opts.DisablePaymentCheck {
		return passed(nil)
	}

	payment, err := g.store.GetReportPayment(ctx, reportID)
	if err != nil {
		return g.storageFault(reportID, "payment", err, "Failed to verify payment status")
	}
	if payment == nil {
		return g.reject(reportID, CodeNotFound, "Report not found")
	}
	if !payment.IsPaid() {
		return g.reject(reportID, CodePaymentRequired, "Payment is required before this report can be valued")
	}
	return passed(nil)
}

// ValidateReportData checks the stored VIN, mileage and ZIP code and returns them ready for the
// valuation call. The VIN is returned sanitized; mileage and ZIP are returned as stored.
func (g *ReportGate) ValidateReportData(ctx context.Context, reportID string) GateResult {
	data, err := g.store.GetReportVehicleData(ctx, reportID)
	if err != nil {
		return g.storageFault(reportID, "data", err, "Failed to validate report data")
	}
	if data == nil {
		return g.reject(reportID, CodeNotFound, "Report not found")
	}

	vin := validation.SanitizeVIN(data.VIN)
	if !validation.IsValidVIN(vin) {
		return g.reject(reportID, CodeInvalidVIN, "Report has an invalid VIN")
	}
	if data.Mileage == nil || !validation.IsValidMileage(*data.Mileage) {
		return g.reject(reportID, CodeInvalidMileage, "Report mileage is missing or out of range")
	}
	if data.ZipCode == nil || !validation.IsValidZIP(*data.ZipCode) {
		return g.reject(reportID, CodeInvalidZIP, "Report ZIP code is missing or invalid")
	}

	return passed(&ReportData{VIN: vin, Mileage: *data.Mileage, ZipCode: *data.ZipCode})
}

// ValidateBeforeExpensiveCall runs ownership, payment and data checks in that order and
// returns the first failure. On success the result carries the data from the last check.
// Callers must use this before spending money on a third-party valuation request.
func (g *ReportGate) ValidateBeforeExpensiveCall(ctx context.Context, reportID, userID string) GateResult {
	return firstFailure(
		func() GateResult { return g.ValidateOwnership(ctx, reportID, userID) },
		func() GateResult { return g.ValidatePaymentStatus(ctx, reportID) },
		func() GateResult { return g.ValidateReportData(ctx, reportID) },
	)
}

// firstFailure runs checks in order and stops at the first invalid result.
// It returns the last result when every check passes.
func firstFailure(checks ...func() GateResult) GateResult {
	result := passed(nil)
	for _, check := range checks {
		result = check()
		if !result.Valid {
			return result
		}
	}
	return result
}
