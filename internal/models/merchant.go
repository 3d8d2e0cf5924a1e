package models

import "gorm.io/gorm"

// Merchant is the payee a series bills on behalf of. Auto-send needs a
// destination, so series operations require a non-empty email.
type Merchant struct {
	gorm.Model
	TeamID uint   `json:"team_id" gorm:"index;not null"`
	Name   string `json:"name" gorm:"not null"`
	Email  string `json:"email"`
}

// HasEmail reports whether the merchant resolves to a usable send address.
func (m *Merchant) HasEmail() bool {
	return m.Email != ""
}
