package models

import "time"

// Allowed subsidy rates (Beihilfesatz) in percent
var SubsidyRates = []int{50, 70, 80}

// Settings holds the personal and insurance data of the (single) user
type Settings struct {
	UserID      string    `json:"user_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Address     string    `json:"address"`
	SubsidyRate int       `json:"subsidy_rate"`
	NotifyEmail bool      `json:"notify_email"`
	NotifyPush  bool      `json:"notify_push"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultSettings returns the values a fresh installation starts with
func DefaultSettings(userID string) *Settings {
	return &Settings{
		UserID:      userID,
		FirstName:   "Max",
		LastName:    "Mustermann",
		Email:       "max.mustermann@schule-nrw.de",
		Phone:       "+49 123 456789",
		Address:     "Musterstraße 123, 12345 Musterstadt",
		SubsidyRate: 50,
		NotifyEmail: true,
	}
}

// IsValidSubsidyRate reports whether rate is one of SubsidyRates
func IsValidSubsidyRate(rate int) bool {
	for _, r := range SubsidyRates {
		if r == rate {
			return true
		}
	}
	return false
}
