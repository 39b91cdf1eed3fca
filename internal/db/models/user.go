// Package models - user.go defines the User model for accounts that own valuation reports.
package models

import "time"

// User represents a registered account
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
