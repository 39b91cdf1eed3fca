package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vehicle-valuation/valuation-backend/internal/db/models"
	"github.com/vehicle-valuation/valuation-backend/internal/safego"
	"github.com/vehicle-valuation/valuation-backend/internal/telemetry"
	"github.com/vehicle-valuation/valuation-backend/internal/validation"
)

// Defaults for IntakeOptions.
const (
	DefaultDuplicateWindow   = 5 * time.Minute
	DefaultEnrichmentTimeout = 15 * time.Second
)

// ErrInvalidInput is wrapped by every *FieldError.
var ErrInvalidInput = errors.New("invalid input")

// FieldError reports which submitted field failed validation and why.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidInput
}

// Identity is the authenticated caller, if any.
type Identity struct {
	UserID string
	Email  string
}

// IntakeRequest carries the raw submitted fields. Mileage is kept as text so that
// malformed numbers are reported as a field error instead of a decode failure.
type IntakeRequest struct {
	Email   string
	VIN     string
	Mileage string
	ZipCode string
}

// IntakeResult is the created or replayed report.
type IntakeResult struct {
	Report    *models.Report
	Duplicate bool
}

// ReportIntakeStore is the data access used by intake. FindRecentDuplicate returns nil, nil
// when no matching report exists.
type ReportIntakeStore interface {
	FindRecentDuplicate(ctx context.Context, vin, email string, mileage int, since time.Time) (*models.Report, error)
	CreateReport(ctx context.Context, report *models.Report) error
}

// Enricher performs best-effort follow-up work on a newly created report.
type Enricher interface {
	Enrich(ctx context.Context, report *models.Report) error
}

// IntakeOptions configures ReportIntake. Zero values select the defaults.
type IntakeOptions struct {
	DuplicateWindow   time.Duration
	EnrichmentTimeout time.Duration
}

// ReportIntake creates reports for anonymous and authenticated callers, replaying a recent
// identical submission instead of creating a second report.
type ReportIntake struct {
	store    ReportIntakeStore
	opts     IntakeOptions
	enricher Enricher
	now      func() time.Time
}

// NewReportIntake creates a new intake service. enricher may be nil.
func NewReportIntake(store ReportIntakeStore, opts IntakeOptions, enricher Enricher) *ReportIntake {
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = DefaultDuplicateWindow
	}
	if opts.EnrichmentTimeout <= 0 {
		opts.EnrichmentTimeout = DefaultEnrichmentTimeout
	}
	return &ReportIntake{store: store, opts: opts, enricher: enricher, now: time.Now}
}

type intakeFields struct {
	email   string
	vin     string
	mileage int
	zip     string
}

// validateIntake sanitizes and checks the submitted fields in form order.
func validateIntake(req IntakeRequest) (*intakeFields, error) {
	email := validation.SanitizeEmail(req.Email)
	if msg := validation.EmailValidationError(email); msg != "" {
		return nil, &FieldError{Field: "email", Message: msg}
	}

	vin := validation.SanitizeVIN(req.VIN)
	if msg := validation.VINValidationError(vin); msg != "" {
		return nil, &FieldError{Field: "vin", Message: msg}
	}

	if strings.TrimSpace(req.Mileage) == "" {
		return nil, &FieldError{Field: "mileage", Message: "Mileage is required"}
	}
	mileage, ok := validation.ParseMileage(req.Mileage)
	if !ok {
		return nil, &FieldError{
			Field:   "mileage",
			Message: fmt.Sprintf("Mileage must be a whole number between %d and %d", validation.MinMileage, validation.MaxMileage),
		}
	}

	zip := strings.TrimSpace(req.ZipCode)
	if zip == "" {
		return nil, &FieldError{Field: "zip_code", Message: "ZIP code is required"}
	}
	if !validation.IsValidZIP(zip) {
		return nil, &FieldError{Field: "zip_code", Message: "ZIP code must be exactly 5 digits"}
	}

	return &intakeFields{email: email, vin: vin, mileage: mileage, zip: zip}, nil
}

// Create validates the request, replays a matching report created within the duplicate
// window, or inserts a new one. The report is owned by identity only when the session email
// matches the submitted email; otherwise it stays anonymous for later linking.
//
// The duplicate lookup and the insert are not atomic, so two identical submissions racing
// each other can both insert.
func (s *ReportIntake) Create(ctx context.Context, req IntakeRequest, identity *Identity) (*IntakeResult, error) {
	fields, err := validateIntake(req)
	if err != nil {
		telemetry.ReportIntakeTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	now := s.now()
	existing, err := s.store.FindRecentDuplicate(ctx, fields.vin, fields.email, fields.mileage, now.Add(-s.opts.DuplicateWindow))
	if err != nil {
		telemetry.ReportIntakeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to check for duplicate report: %w", err)
	}
	if existing != nil {
		telemetry.ReportIntakeTotal.WithLabelValues("duplicate").Inc()
		slog.Info("report intake: replaying recent duplicate", "report_id", existing.ID)
		return &IntakeResult{Report: existing, Duplicate: true}, nil
	}

	report := &models.Report{
		Email:     &fields.email,
		VIN:       fields.vin,
		Mileage:   &fields.mileage,
		ZipCode:   &fields.zip,
		Status:    models.ReportStatusPending,
		CreatedAt: now,
	}
	if identity != nil && identity.UserID != "" && strings.EqualFold(strings.TrimSpace(identity.Email), fields.email) {
		userID := identity.UserID
		report.UserID = &userID
	}

	if err := s.store.CreateReport(ctx, report); err != nil {
		telemetry.ReportIntakeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	telemetry.ReportIntakeTotal.WithLabelValues("created").Inc()
	slog.Info("report created", "report_id", report.ID, "anonymous", report.IsAnonymous())

	if s.enricher != nil {
		snapshot := *report
		safego.GoWithTimeout("report enrichment", s.opts.EnrichmentTimeout, func(ctx context.Context) error {
			return s.enricher.Enrich(ctx, &snapshot)
		})
	}

	return &IntakeResult{Report: report}, nil
}
