package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bothive/backend/internal/models"
)

const notificationQueue = "notification_queue"

// Notifier is the outbound notification boundary. Callers fire and forget;
// delivery failures are logged, never propagated.
type Notifier interface {
	Publish(ctx context.Context, accountID, title, message, severity string)
}

type NotificationService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewNotificationService(db *sql.DB, redisClient *redis.Client) *NotificationService {
	return &NotificationService{db: db, redis: redisClient}
}

// Publish stores the notification and queues it for delivery workers.
func (s *NotificationService) Publish(ctx context.Context, accountID, title, message, severity string) {
	n := models.Notification{
		ID:        "ntf_" + uuid.New().String(),
		AccountID: accountID,
		Title:     title,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, account_id, title, message, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.AccountID, n.Title, n.Message, n.Severity, n.CreatedAt)
	if err != nil {
		log.Printf("[NOTIFY] Failed to store notification for %s: %v", accountID, err)
		return
	}

	if s.redis != nil {
		if data, err := json.Marshal(n); err == nil {
			if err := s.redis.RPush(ctx, notificationQueue, data).Err(); err != nil {
				log.Printf("[NOTIFY] Failed to queue notification %s: %v", n.ID, err)
			}
		}
	}

	log.Printf("[NOTIFY] %s: %s - %s", accountID, title, message)
}

func (s *NotificationService) List(ctx context.Context, accountID string, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, title, message, severity, created_at
		FROM notifications
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Title, &n.Message, &n.Severity, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// ListNotifications returns the caller's notifications
// @Summary List notifications
// @Tags notifications
// @Produce json
// @Success 200 {object} object{notifications=[]models.Notification,count=int}
// @Failure 401 {object} map[string]string
// @Router /notifications [get]
func (s *NotificationService) ListNotifications(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	notifications, err := s.List(r.Context(), accountID, 50)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch notifications", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"notifications": notifications,
		"count":         len(notifications),
	})
}
