package services

import (
	"errors"
	"fmt"

	"github.com/bothive/backend/internal/gateway"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrAlreadyTerminal    = errors.New("deployment already in terminal state")
	ErrDuplicateReference = errors.New("reference already used by another account")
	ErrVerifyInProgress   = errors.New("verification already in progress for this reference")

	// Gateway boundary errors surface verbatim to the caller.
	ErrGatewayUnavailable = gateway.ErrUnavailable
	ErrGatewayRejected    = gateway.ErrRejected
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// InsufficientFundsError carries the figures the client needs to prompt a
// top-up.
type InsufficientFundsError struct {
	Required int64
	Balance  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d coins, have %d", e.Required, e.Balance)
}

// PaymentNotCompletedError carries the raw gateway status so the client can
// decide whether to keep polling or let the user retry.
type PaymentNotCompletedError struct {
	Reference     string
	GatewayStatus string
}

func (e *PaymentNotCompletedError) Error() string {
	return fmt.Sprintf("payment %s not completed: gateway status %q", e.Reference, e.GatewayStatus)
}
