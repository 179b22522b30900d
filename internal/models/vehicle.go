package models

import (
	"strings"
	"time"
)

type Vehicle struct {
	Registration string    `json:"registration"`
	UserID       int64     `json:"user_id"`
	OwnerName    string    `json:"owner_name"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeRegistration upper-cases a plate and strips spaces and dashes so
// "ab 12-cd" and "AB12CD" refer to the same vehicle.
func NormalizeRegistration(reg string) string {
	reg = strings.ToUpper(strings.TrimSpace(reg))
	return strings.NewReplacer(" ", "", "-", "").Replace(reg)
}
