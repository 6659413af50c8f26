package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/bothive/backend/internal/config"
	"github.com/bothive/backend/internal/models"
)

// ExpirySweeper periodically force-terminates deployments whose plan has run
// out. Expired trials are removed entirely; expired monthly deployments are
// left STOPPED. The sweep tolerates partial failure: one bad record is logged
// and skipped, never aborting the pass.
type ExpirySweeper struct {
	db          *sql.DB
	deployments *DeploymentService
	notifier    Notifier
	interval    time.Duration
	batchSize   int
	stopCh      chan struct{}
}

func NewExpirySweeper(db *sql.DB, deployments *DeploymentService, notifier Notifier, cfg *config.PlanConfig) *ExpirySweeper {
	return &ExpirySweeper{
		db:          db,
		deployments: deployments,
		notifier:    notifier,
		interval:    cfg.SweepInterval,
		batchSize:   cfg.SweepBatchSize,
		stopCh:      make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called.
// Meant to be launched on its own goroutine from main.
func (s *ExpirySweeper) Start(ctx context.Context) {
	log.Printf("[SWEEPER] Expiry sweeper started (interval %s)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[SWEEPER] Context cancelled, sweeper exiting")
			return
		case <-s.stopCh:
			log.Println("[SWEEPER] Stop requested, sweeper exiting")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *ExpirySweeper) Stop() {
	close(s.stopCh)
}

type expiredDeployment struct {
	ID        string
	AccountID string
	Plan      string
}

// SweepOnce scans for expired RUNNING/DEPLOYING deployments and terminates
// them through the same guarded stop path user stops take, so a record a user
// stopped concurrently is skipped without error or duplicate log lines.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) {
	expired, err := s.findExpired(ctx)
	if err != nil {
		log.Printf("[SWEEPER] Scan failed: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	log.Printf("[SWEEPER] Found %d expired deployment(s)", len(expired))

	notified := map[string]bool{}
	for _, dep := range expired {
		handled, err := s.expireOne(ctx, dep)
		if err != nil {
			log.Printf("[SWEEPER] Failed to expire deployment %s: %v", dep.ID, err)
			continue
		}
		if !handled {
			continue
		}

		if s.notifier != nil && !notified[dep.AccountID] {
			notified[dep.AccountID] = true
			s.notifier.Publish(ctx, dep.AccountID, "Deployment expired",
				"One or more of your bot deployments reached the end of its plan and was stopped.", "WARNING")
		}
	}
}

func (s *ExpirySweeper) findExpired(ctx context.Context) ([]expiredDeployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, plan
		FROM deployments
		WHERE status IN ($1, $2) AND expires_at IS NOT NULL AND expires_at < $3
		ORDER BY expires_at
		LIMIT $4`,
		models.DeploymentStatusRunning, models.DeploymentStatusDeploying, time.Now(), s.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expired := []expiredDeployment{}
	for rows.Next() {
		var dep expiredDeployment
		if err := rows.Scan(&dep.ID, &dep.AccountID, &dep.Plan); err != nil {
			return nil, err
		}
		expired = append(expired, dep)
	}

	return expired, rows.Err()
}

// expireOne terminates a single expired deployment. It reports false when a
// concurrent user action already put the record in a terminal state.
func (s *ExpirySweeper) expireOne(ctx context.Context, dep expiredDeployment) (bool, error) {
	stopped, err := s.deployments.ForceStop(ctx, dep.ID, "plan expired")
	if err != nil {
		return false, err
	}
	if !stopped {
		return false, nil
	}

	if dep.Plan == models.PlanTrial {
		if err := s.deployments.Remove(ctx, dep.ID); err != nil && !isNotFound(err) {
			return false, err
		}
		log.Printf("[SWEEPER] Expired trial deployment %s removed", dep.ID)
		return true, nil
	}

	log.Printf("[SWEEPER] Expired deployment %s stopped", dep.ID)
	return true, nil
}
