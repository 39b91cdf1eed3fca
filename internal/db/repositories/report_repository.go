// report_repository.go implements ReportRepository, the data-access layer behind the report
// gate, anonymous intake, enrichment, and valuation flows.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vehicle-valuation/valuation-backend/internal/db/models"
)

const reportColumns = `id, user_id, email, vin, mileage, zip_code,
	stripe_payment_intent_id, paypal_order_id, amount_paid, status,
	year, make, model, valuation_amount, valued_at, created_at, updated_at`

// ReportRepository handles report database operations
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// GetReportForOwner retrieves a report by ID only if it is owned by userID.
// Returns nil when the report does not exist or belongs to someone else.
func (r *ReportRepository) GetReportForOwner(ctx context.Context, reportID, userID string) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1 AND user_id = $2`

	var report models.Report
	err := r.db.GetContext(ctx, &report, query, reportID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetReportPayment retrieves the payment fields of a report
func (r *ReportRepository) GetReportPayment(ctx context.Context, reportID string) (*models.ReportPayment, error) {
	query := `
		SELECT id, stripe_payment_intent_id, paypal_order_id, amount_paid
		FROM reports
		WHERE id = $1`

	var payment models.ReportPayment
	err := r.db.GetContext(ctx, &payment, query, reportID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetReportVehicleData retrieves the VIN, mileage and ZIP stored on a report
func (r *ReportRepository) GetReportVehicleData(ctx context.Context, reportID string) (*models.ReportVehicleData, error) {
	query := `SELECT id, vin, mileage, zip_code FROM reports WHERE id = $1`

	var data models.ReportVehicleData
	err := r.db.GetContext(ctx, &data, query, reportID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// FindRecentDuplicate returns the newest report with the same VIN, email (case-insensitive)
// and mileage created at or after since.
func (r *ReportRepository) FindRecentDuplicate(ctx context.Context, vin, email string, mileage int, since time.Time) (*models.Report, error) {
	query := `SELECT ` + reportColumns + `
		FROM reports
		WHERE vin = $1 AND lower(email) = lower($2) AND mileage = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1`

	var report models.Report
	err := r.db.GetContext(ctx, &report, query, vin, email, mileage, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// CreateReport inserts a new report. ID, status and timestamps are filled in when unset.
func (r *ReportRepository) CreateReport(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.Status == "" {
		report.Status = models.ReportStatusPending
	}
	now := time.Now()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = now

	query := `
		INSERT INTO reports (id, user_id, email, vin, mileage, zip_code, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		report.ID,
		report.UserID,
		report.Email,
		report.VIN,
		report.Mileage,
		report.ZipCode,
		report.Status,
		report.CreatedAt,
		report.UpdatedAt,
	)
	return err
}

// LinkAnonymousReports assigns every anonymous report filed under email to userID.
// Reports that already have an owner are never touched. Returns the number of reports linked.
func (r *ReportRepository) LinkAnonymousReports(ctx context.Context, userID, email string) (int64, error) {
	query := `
		UPDATE reports SET
			user_id = $1,
			updated_at = $2
		WHERE user_id IS NULL AND lower(email) = lower($3)`

	result, err := r.db.ExecContext(ctx, query, userID, time.Now(), email)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// UpdateVehicleInfo stores decoded vehicle details and moves a pending report to decoded
func (r *ReportRepository) UpdateVehicleInfo(ctx context.Context, reportID string, year int, make, model string) error {
	query := `
		UPDATE reports SET
			year = $1,
			make = $2,
			model = $3,
			status = CASE WHEN status = 'pending' THEN 'decoded' ELSE status END,
			updated_at = $4
		WHERE id = $5`

	_, err := r.db.ExecContext(ctx, query, year, make, model, time.Now(), reportID)
	return err
}

// UpdateValuation stores the valuation amount (cents) and marks the report valued
func (r *ReportRepository) UpdateValuation(ctx context.Context, reportID string, amount int64) error {
	now := time.Now()
	query := `
		UPDATE reports SET
			valuation_amount = $1,
			status = 'valued',
			valued_at = $2,
			updated_at = $2
		WHERE id = $3`

	_, err := r.db.ExecContext(ctx, query, amount, now, reportID)
	return err
}

// LogAPICall records an outbound provider call made for a report
func (r *ReportRepository) LogAPICall(ctx context.Context, entry *models.APICallLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO api_call_logs (id, report_id, provider, status_code, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ReportID,
		entry.Provider,
		entry.StatusCode,
		entry.DurationMS,
		entry.Error,
		entry.CreatedAt,
	)
	return err
}
