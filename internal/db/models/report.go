// Package models defines the database model types for the valuation backend.
// Each type corresponds to a database table (or a projection of one) and uses struct tags
// for both JSON serialization and sqlx row scanning.
// Models are pure data types. Business logic belongs in the service layer, query logic
// belongs in the repositories layer.
package models

import "time"

// Report statuses.
const (
	ReportStatusPending = "pending"
	ReportStatusDecoded = "decoded"
	ReportStatusValued  = "valued"
)

// Report is a valuation report for one vehicle. A report is anonymous while UserID is nil;
// Email is then used to link it to an account later.
type Report struct {
	ID                    string     `db:"id" json:"id"`
	UserID                *string    `db:"user_id" json:"user_id"`
	Email                 *string    `db:"email" json:"email,omitempty"`
	VIN                   string     `db:"vin" json:"vin"`
	Mileage               *int       `db:"mileage" json:"mileage"`
	ZipCode               *string    `db:"zip_code" json:"zip_code"`
	StripePaymentIntentID *string    `db:"stripe_payment_intent_id" json:"-"`
	PayPalOrderID         *string    `db:"paypal_order_id" json:"-"`
	AmountPaid            *int64     `db:"amount_paid" json:"-"` // cents
	Status                string     `db:"status" json:"status"`
	Year                  *int       `db:"year" json:"year,omitempty"`
	Make                  *string    `db:"make" json:"make,omitempty"`
	Model                 *string    `db:"model" json:"model,omitempty"`
	ValuationAmount       *int64     `db:"valuation_amount" json:"valuation_amount,omitempty"` // cents
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
	ValuedAt              *time.Time `db:"valued_at" json:"valued_at,omitempty"`
}

// IsAnonymous reports whether the report has not been linked to a user yet.
func (r *Report) IsAnonymous() bool {
	return r.UserID == nil
}

// ReportPayment is the payment projection of a report.
type ReportPayment struct {
	ID                    string  `db:"id"`
	StripePaymentIntentID *string `db:"stripe_payment_intent_id"`
	PayPalOrderID         *string `db:"paypal_order_id"`
	AmountPaid            *int64  `db:"amount_paid"`
}

// IsPaid reports whether either processor recorded the payment and a positive amount was
// captured.
func (p *ReportPayment) IsPaid() bool {
	hasProcessor := (p.StripePaymentIntentID != nil && *p.StripePaymentIntentID != "") ||
		(p.PayPalOrderID != nil && *p.PayPalOrderID != "")
	return hasProcessor && p.AmountPaid != nil && *p.AmountPaid > 0
}

// ReportVehicleData is the projection of a report used for the external valuation call.
type ReportVehicleData struct {
	ID      string  `db:"id"`
	VIN     string  `db:"vin"`
	Mileage *int    `db:"mileage"`
	ZipCode *string `db:"zip_code"`
}
