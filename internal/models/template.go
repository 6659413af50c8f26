package models

import "time"

// BotTemplate is a catalog entry a deployment is created from. The catalog is
// read-mostly; this service only ever looks templates up.
type BotTemplate struct {
	TemplateID  string    `json:"template_id" db:"template_id"`
	Name        string    `json:"name" db:"name"`
	SourceRef   string    `json:"source_ref" db:"source_ref"` // repository/image the worker is built from
	Description string    `json:"description" db:"description"`
	Icon        string    `json:"icon" db:"icon"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type Notification struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Severity  string    `json:"severity" db:"severity"` // INFO, WARNING, ERROR
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
