package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bothive/backend/internal/config"
	"github.com/bothive/backend/internal/gateway"
	"github.com/bothive/backend/internal/models"
)

// PaymentService reconciles the internal coin balance against the external
// payment processor. Every charge attempt is journaled under its gateway
// reference; a journal entry is flipped to SUCCESS exactly once, atomically
// with the matching credit.
type PaymentService struct {
	db       *sql.DB
	redis    *redis.Client
	gateway  gateway.Gateway
	ledger   *CoinLedgerService
	provider string
	lockTTL  time.Duration
}

func NewPaymentService(db *sql.DB, redisClient *redis.Client, gw gateway.Gateway, ledger *CoinLedgerService, gwCfg *config.GatewayConfig, planCfg *config.PlanConfig) *PaymentService {
	return &PaymentService{
		db:       db,
		redis:    redisClient,
		gateway:  gw,
		ledger:   ledger,
		provider: gwCfg.Provider,
		lockTTL:  planCfg.VerifyLockTimeout,
	}
}

type ChargeResult struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode"`
}

type VerifyResult struct {
	Reference       string `json:"reference"`
	Balance         int64  `json:"balance"`
	Coins           int64  `json:"coins"`
	AlreadyCredited bool   `json:"alreadyCredited"`
}

type MobileChargeResult struct {
	Reference     string `json:"reference"`
	GatewayStatus string `json:"gatewayStatus"`
	DisplayText   string `json:"displayText"`
}

// InitializeCharge starts a redirect-based top-up. The gateway assigns nothing
// here: the reference is minted locally, handed to the gateway, and journaled
// as PENDING so a later verification can find it.
func (s *PaymentService) InitializeCharge(ctx context.Context, accountID, email string, amount int64, currency string, coins int64, channelHint string) (*ChargeResult, error) {
	reference := "chg_" + uuid.New().String()

	var channels []string
	if channelHint != "" {
		channels = []string{channelHint}
	}

	result, err := s.gateway.Initialize(ctx, email, amount, currency, channels, reference)
	if err != nil {
		return nil, err
	}
	if result.Reference != "" {
		reference = result.Reference
	}

	if err := s.insertJournalEntry(ctx, &models.JournalEntry{
		Reference: reference,
		AccountID: accountID,
		Amount:    amount,
		Currency:  currency,
		Coins:     coins,
		Status:    models.JournalStatusPending,
		Provider:  s.provider,
		Channel:   channelHint,
	}); err != nil {
		return nil, err
	}

	log.Printf("[PAYMENT] Initialized charge %s for account %s: %d %s -> %d coins", reference, accountID, amount, currency, coins)
	return &ChargeResult{
		Reference:        reference,
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
	}, nil
}

// VerifyCharge settles a charge against the gateway and credits the coins
// exactly once.
//
// The journal row is locked FOR UPDATE for the whole verification, so two
// concurrent calls for the same reference cannot both observe PENDING and both
// credit. An entry already in SUCCESS short-circuits without touching the
// gateway.
func (s *PaymentService) VerifyCharge(ctx context.Context, reference, accountID string) (*VerifyResult, error) {
	if s.redis != nil {
		lock := newReferenceLock(s.redis, reference, uuid.New().String(), s.lockTTL)
		if err := lock.Lock(ctx, 100*time.Millisecond, 50); err != nil {
			if err == ErrLockNotAcquired {
				return nil, ErrVerifyInProgress
			}
			log.Printf("[PAYMENT] Reference lock unavailable for %s, relying on row lock: %v", reference, err)
		} else {
			defer lock.Unlock(ctx)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.lockJournalEntry(tx, reference)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("journal entry %s: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if entry.AccountID != accountID {
		return nil, ErrAccessDenied
	}

	if entry.Status == models.JournalStatusSuccess {
		var balance int64
		if err := tx.QueryRow(`SELECT balance FROM accounts WHERE account_id = $1`, accountID).Scan(&balance); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		log.Printf("[PAYMENT] Charge %s already credited, returning current balance", reference)
		return &VerifyResult{Reference: reference, Balance: balance, Coins: entry.Coins, AlreadyCredited: true}, nil
	}

	result, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}

	if result.GatewayStatus != gateway.StatusSuccess {
		if gateway.IsTerminalFailure(result.GatewayStatus) {
			if err := s.markJournalStatusTx(tx, reference, models.JournalStatusFailed); err != nil {
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			log.Printf("[PAYMENT] Charge %s terminally failed at gateway: %s", reference, result.GatewayStatus)
		}
		return nil, &PaymentNotCompletedError{Reference: reference, GatewayStatus: result.GatewayStatus}
	}

	// Credit and journal flip commit or roll back together.
	balance, err := s.ledger.CreditTx(tx, accountID, entry.Coins, reference)
	if err != nil {
		return nil, err
	}

	if err := s.markJournalStatusTx(tx, reference, models.JournalStatusSuccess); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[PAYMENT] Charge %s verified, credited %d coins to %s (balance %d)", reference, entry.Coins, accountID, balance)
	return &VerifyResult{Reference: reference, Balance: balance, Coins: entry.Coins, AlreadyCredited: false}, nil
}

// DirectMobileCharge pushes a payment prompt to the customer's phone. The
// journal entry stays PENDING; crediting only ever happens through
// VerifyCharge once the gateway reports success.
func (s *PaymentService) DirectMobileCharge(ctx context.Context, accountID, email string, amount int64, currency, phone, provider string, coins int64) (*MobileChargeResult, error) {
	result, err := s.gateway.ChargeMobileMoney(ctx, email, amount, currency, phone, provider)
	if err != nil {
		return nil, err
	}

	if err := s.insertJournalEntry(ctx, &models.JournalEntry{
		Reference: result.Reference,
		AccountID: accountID,
		Amount:    amount,
		Currency:  currency,
		Coins:     coins,
		Status:    models.JournalStatusPending,
		Provider:  provider,
		Channel:   "mobile_money",
	}); err != nil {
		return nil, err
	}

	log.Printf("[PAYMENT] Mobile money charge %s for account %s via %s: %s", result.Reference, accountID, provider, result.GatewayStatus)
	return &MobileChargeResult{
		Reference:     result.Reference,
		GatewayStatus: result.GatewayStatus,
		DisplayText:   result.DisplayText,
	}, nil
}

// CheckStatus is a gateway passthrough for client polling loops.
func (s *PaymentService) CheckStatus(ctx context.Context, reference string) (string, error) {
	return s.gateway.CheckStatus(ctx, reference)
}

func (s *PaymentService) insertJournalEntry(ctx context.Context, entry *models.JournalEntry) error {
	var existingAccount string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id FROM payment_journal WHERE reference = $1`, entry.Reference).Scan(&existingAccount)
	if err == nil {
		log.Printf("[PAYMENT] Duplicate reference %s (held by account %s)", entry.Reference, existingAccount)
		return ErrDuplicateReference
	}
	if err != sql.ErrNoRows {
		return err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_journal (reference, account_id, amount, currency, coins, status, provider, channel, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		entry.Reference, entry.AccountID, entry.Amount, entry.Currency, entry.Coins,
		entry.Status, entry.Provider, entry.Channel, now)
	return err
}

func (s *PaymentService) lockJournalEntry(tx *sql.Tx, reference string) (*models.JournalEntry, error) {
	entry := &models.JournalEntry{Reference: reference}
	err := tx.QueryRow(`
		SELECT account_id, amount, currency, coins, status
		FROM payment_journal
		WHERE reference = $1
		FOR UPDATE`, reference).Scan(&entry.AccountID, &entry.Amount, &entry.Currency, &entry.Coins, &entry.Status)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PaymentService) markJournalStatusTx(tx *sql.Tx, reference, status string) error {
	_, err := tx.Exec(`
		UPDATE payment_journal SET status = $1, updated_at = $2 WHERE reference = $3`,
		status, time.Now(), reference)
	return err
}
