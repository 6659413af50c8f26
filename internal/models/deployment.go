package models

import (
	"time"
)

const (
	DeploymentStatusQueued    = "QUEUED"
	DeploymentStatusDeploying = "DEPLOYING"
	DeploymentStatusRunning   = "RUNNING"
	DeploymentStatusStopped   = "STOPPED"
	DeploymentStatusFailed    = "FAILED"
)

const (
	PlanTrial   = "TRIAL"
	PlanMonthly = "MONTHLY"
)

// Status only ever moves forward. STOPPED and FAILED are terminal; a terminal
// deployment may still be deleted.
var validDeploymentTransitions = map[string][]string{
	DeploymentStatusQueued:    {DeploymentStatusDeploying, DeploymentStatusStopped, DeploymentStatusFailed},
	DeploymentStatusDeploying: {DeploymentStatusRunning, DeploymentStatusStopped, DeploymentStatusFailed},
	DeploymentStatusRunning:   {DeploymentStatusStopped, DeploymentStatusFailed},
}

func CanTransitionTo(current, target string) bool {
	for _, s := range validDeploymentTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == DeploymentStatusStopped || status == DeploymentStatusFailed
}

type Deployment struct {
	ID         string     `json:"id" db:"id"`
	AccountID  string     `json:"account_id" db:"account_id"`
	TemplateID string     `json:"template_id" db:"template_id"`
	Status     string     `json:"status" db:"status"`
	Plan       string     `json:"plan" db:"plan"`
	EnvVars    string     `json:"env_vars,omitempty" db:"env_vars"` // JSON object, opaque to the lifecycle engine
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"` // set at creation from the plan duration, immutable
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

type DeploymentLog struct {
	ID           int       `json:"id" db:"id"`
	DeploymentID string    `json:"deployment_id" db:"deployment_id"`
	Level        string    `json:"level" db:"level"`
	Message      string    `json:"message" db:"message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
