package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bothive/backend/internal/config"
	"github.com/bothive/backend/internal/models"
)

// DeploymentService drives bot deployments through their lifecycle:
// QUEUED -> DEPLOYING -> RUNNING -> STOPPED/FAILED. Creation finances the
// deployment through a BillingPolicy inside the same database transaction as
// the insert; the provisioning walk runs on a cancellable goroutine per
// deployment.
type DeploymentService struct {
	db        *sql.DB
	catalog   *CatalogService
	plans     *config.PlanConfig
	metered   BillingPolicy
	unmetered BillingPolicy

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewDeploymentService(db *sql.DB, catalog *CatalogService, ledger *CoinLedgerService, plans *config.PlanConfig) *DeploymentService {
	return &DeploymentService{
		db:        db,
		catalog:   catalog,
		plans:     plans,
		metered:   NewMeteredBilling(ledger, plans),
		unmetered: NewUnmeteredBilling(),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Create registers a deployment in QUEUED state. The billing charge, the
// deployment row and the first log line commit or roll back as one unit, so
// coins can never be taken for a deployment that was not created, and no
// deployment exists unpaid. The provisioning walk is kicked off asynchronously
// and the QUEUED record returned immediately.
func (s *DeploymentService) Create(ctx context.Context, accountID, templateID string, envVars map[string]string, plan string, admin bool) (*models.Deployment, error) {
	if plan != models.PlanTrial && plan != models.PlanMonthly {
		return nil, fmt.Errorf("unknown plan %q", plan)
	}

	if _, err := s.catalog.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}

	envJSON := ""
	if len(envVars) > 0 {
		data, err := json.Marshal(envVars)
		if err != nil {
			return nil, err
		}
		envJSON = string(data)
	}

	now := time.Now()
	dep := &models.Deployment{
		ID:         "dep_" + uuid.New().String(),
		AccountID:  accountID,
		TemplateID: templateID,
		Status:     models.DeploymentStatusQueued,
		Plan:       plan,
		EnvVars:    envJSON,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	expiresAt := now.Add(s.plans.Duration(plan))
	dep.ExpiresAt = &expiresAt

	billing := s.metered
	if admin {
		billing = s.unmetered
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := billing.ChargeCreate(tx, accountID, plan, dep.ID); err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO deployments (id, account_id, template_id, status, plan, env_vars, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		dep.ID, dep.AccountID, dep.TemplateID, dep.Status, dep.Plan, dep.EnvVars, dep.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	if err := s.appendLogTx(tx, dep.ID, "INFO", "queued"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[DEPLOY] Created deployment %s for account %s (template %s, plan %s)", dep.ID, accountID, templateID, plan)
	s.startProvisioning(dep.ID)
	return dep, nil
}

// Get returns a deployment the requester may see.
func (s *DeploymentService) Get(ctx context.Context, id, requesterID string, admin bool) (*models.Deployment, error) {
	dep, err := s.fetchDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if dep.AccountID != requesterID && !admin {
		return nil, ErrAccessDenied
	}
	return dep, nil
}

func (s *DeploymentService) List(ctx context.Context, accountID string) ([]models.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, template_id, status, plan, env_vars, expires_at, created_at, updated_at
		FROM deployments
		WHERE account_id = $1
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := []models.Deployment{}
	for rows.Next() {
		var dep models.Deployment
		if err := rows.Scan(&dep.ID, &dep.AccountID, &dep.TemplateID, &dep.Status, &dep.Plan,
			&dep.EnvVars, &dep.ExpiresAt, &dep.CreatedAt, &dep.UpdatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, dep)
	}

	return deployments, rows.Err()
}

// Logs returns the append-ordered log of a deployment.
func (s *DeploymentService) Logs(ctx context.Context, id, requesterID string, admin bool) ([]models.DeploymentLog, error) {
	if _, err := s.Get(ctx, id, requesterID, admin); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deployment_id, level, message, created_at
		FROM deployment_logs
		WHERE deployment_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.DeploymentLog{}
	for rows.Next() {
		var entry models.DeploymentLog
		if err := rows.Scan(&entry.ID, &entry.DeploymentID, &entry.Level, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// Stop moves a deployment to STOPPED. Repeated stops are idempotent: a record
// already terminal is returned unchanged, with no extra log lines, so a user
// stop racing the expiry sweeper converges on a single transition.
func (s *DeploymentService) Stop(ctx context.Context, id, requesterID string, admin bool) (*models.Deployment, error) {
	dep, err := s.Get(ctx, id, requesterID, admin)
	if err != nil {
		return nil, err
	}

	s.cancelWalk(id)

	stopped, err := s.transitionToStopped(ctx, id, "stop signal received", "container stopped")
	if err != nil {
		return nil, err
	}
	if !stopped {
		log.Printf("[DEPLOY] Deployment %s already terminal (%s), stop is a no-op", id, dep.Status)
		return dep, nil
	}

	log.Printf("[DEPLOY] Deployment %s stopped by %s", id, requesterID)
	return s.fetchDeployment(ctx, id)
}

// Delete removes a deployment and its logs. Allowed from any state, including
// terminal ones.
func (s *DeploymentService) Delete(ctx context.Context, id, requesterID string, admin bool) error {
	if _, err := s.Get(ctx, id, requesterID, admin); err != nil {
		return err
	}

	s.cancelWalk(id)

	if err := s.deleteDeployment(ctx, id); err != nil {
		return err
	}

	log.Printf("[DEPLOY] Deployment %s deleted by %s", id, requesterID)
	return nil
}

// ForceStop is the sweeper's terminal transition. It shares the guarded
// update with Stop, so a record a user stopped first is skipped without error
// or duplicate log lines.
func (s *DeploymentService) ForceStop(ctx context.Context, id, reason string) (bool, error) {
	s.cancelWalk(id)
	return s.transitionToStopped(ctx, id, reason, "container stopped")
}

// Remove deletes a deployment without access checks; internal, used by the
// sweeper for expired trials.
func (s *DeploymentService) Remove(ctx context.Context, id string) error {
	s.cancelWalk(id)
	return s.deleteDeployment(ctx, id)
}

// Shutdown cancels all provisioning walks and waits for them to drain.
func (s *DeploymentService) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// transitionToStopped performs the guarded terminal update. It reports false
// when the record was already terminal or gone, which callers treat as an
// idempotent no-op.
func (s *DeploymentService) transitionToStopped(ctx context.Context, id string, logLines ...string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE deployments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5, $6)`,
		models.DeploymentStatusStopped, time.Now(), id,
		models.DeploymentStatusQueued, models.DeploymentStatusDeploying, models.DeploymentStatusRunning)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	for _, line := range logLines {
		if err := s.appendLogTx(tx, id, "INFO", line); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *DeploymentService) deleteDeployment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM deployment_logs WHERE deployment_id = $1`, id); err != nil {
		return err
	}

	result, err := tx.Exec(`DELETE FROM deployments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}

	return tx.Commit()
}

func (s *DeploymentService) fetchDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	dep := &models.Deployment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, template_id, status, plan, env_vars, expires_at, created_at, updated_at
		FROM deployments
		WHERE id = $1`, id).Scan(
		&dep.ID, &dep.AccountID, &dep.TemplateID, &dep.Status, &dep.Plan,
		&dep.EnvVars, &dep.ExpiresAt, &dep.CreatedAt, &dep.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// Provisioning walk

var provisioningSteps = []string{
	"pulling template source",
	"installing dependencies",
	"starting container",
}

func (s *DeploymentService) startProvisioning(id string) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
		}()
		s.provision(ctx, id)
	}()
}

func (s *DeploymentService) cancelWalk(id string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
	s.mu.Unlock()
}

// provision advances QUEUED -> DEPLOYING -> RUNNING, appending a log line per
// step. Every transition is a guarded update: if a stop or delete got there
// first, the walk aborts silently.
func (s *DeploymentService) provision(ctx context.Context, id string) {
	ok, err := s.advanceStatus(ctx, id, models.DeploymentStatusQueued, models.DeploymentStatusDeploying, "deploying")
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failDeployment(id, err)
		return
	}
	if !ok {
		return
	}

	for _, step := range provisioningSteps {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.plans.ProvisionStepWait):
		}

		if err := s.appendLog(ctx, id, "INFO", step); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.failDeployment(id, err)
			return
		}
	}

	ok, err = s.advanceStatus(ctx, id, models.DeploymentStatusDeploying, models.DeploymentStatusRunning, "container running")
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failDeployment(id, err)
		return
	}
	if ok {
		log.Printf("[DEPLOY] Deployment %s is running", id)
	}
}

func (s *DeploymentService) advanceStatus(ctx context.Context, id, from, to, logLine string) (bool, error) {
	if !models.CanTransitionTo(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE deployments SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, time.Now(), id, from)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	if err := s.appendLogTx(tx, id, "INFO", logLine); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// failDeployment marks a deployment FAILED after a provisioning error. No
// refund is issued for a failed walk; creation-time failures roll the debit
// back inside the create transaction instead.
func (s *DeploymentService) failDeployment(id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Printf("[DEPLOY] Provisioning failed for %s: %v", id, cause)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("[DEPLOY] Failed to open failure transaction for %s: %v", id, err)
		return
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE deployments SET status = $1, updated_at = $2 WHERE id = $3 AND status IN ($4, $5)`,
		models.DeploymentStatusFailed, time.Now(), id,
		models.DeploymentStatusQueued, models.DeploymentStatusDeploying)
	if err != nil {
		log.Printf("[DEPLOY] Failed to mark %s failed: %v", id, err)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return
	}

	if err := s.appendLogTx(tx, id, "ERROR", fmt.Sprintf("provisioning error: %v", cause)); err != nil {
		log.Printf("[DEPLOY] Failed to append failure log for %s: %v", id, err)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[DEPLOY] Failed to commit failure for %s: %v", id, err)
	}
}

func (s *DeploymentService) appendLog(ctx context.Context, id, level, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployment_logs (deployment_id, level, message, created_at)
		VALUES ($1, $2, $3, $4)`, id, level, message, time.Now())
	return err
}

func (s *DeploymentService) appendLogTx(tx *sql.Tx, id, level, message string) error {
	_, err := tx.Exec(`
		INSERT INTO deployment_logs (deployment_id, level, message, created_at)
		VALUES ($1, $2, $3, $4)`, id, level, message, time.Now())
	return err
}
