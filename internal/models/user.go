package models

import "time"

type User struct {
	ID                  int    `json:"id" example:"1"`                   // User ID
	Email               string `json:"email" example:"user@example.com"` // User email
	AccountID           string `json:"account_id" example:"acc_7f3a91"`  // Coin account this user owns
	FirstName           string `json:"first_name" example:"Ama"`
	LastName            string `json:"last_name" example:"Mensah"`
	PhoneNumber         string `json:"phone_number" example:"+233501234567"`
	IsAdmin             bool   `json:"is_admin"`
	FailedLoginAttempts int    `json:"-"`
	LockedUntil         *time.Time
	LastLogin           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
