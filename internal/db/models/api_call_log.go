// Package models - api_call_log.go defines the record written after each paid third-party
// API call made on behalf of a report.
package models

import "time"

// APICallLog records one outbound call to a billed provider.
type APICallLog struct {
	ID         string    `db:"id" json:"id"`
	ReportID   string    `db:"report_id" json:"report_id"`
	Provider   string    `db:"provider" json:"provider"`
	StatusCode int       `db:"status_code" json:"status_code"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	Error      *string   `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
