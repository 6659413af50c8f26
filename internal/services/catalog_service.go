package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/bothive/backend/internal/models"
)

const templateCacheTTL = 5 * time.Minute

// CatalogService is the read-mostly template catalog boundary. Deployment
// creation only needs existence and source lookups from it.
type CatalogService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewCatalogService(db *sql.DB, redisClient *redis.Client) *CatalogService {
	return &CatalogService{db: db, redis: redisClient}
}

func (s *CatalogService) GetTemplate(ctx context.Context, templateID string) (*models.BotTemplate, error) {
	if s.redis != nil {
		key := fmt.Sprintf("template:%s", templateID)
		if cached, err := s.redis.Get(ctx, key).Bytes(); err == nil {
			var tpl models.BotTemplate
			if err := json.Unmarshal(cached, &tpl); err == nil {
				return &tpl, nil
			}
		}
	}

	tpl := &models.BotTemplate{}
	err := s.db.QueryRowContext(ctx, `
		SELECT template_id, name, source_ref, description, icon, created_at
		FROM bot_templates
		WHERE template_id = $1`, templateID).Scan(
		&tpl.TemplateID, &tpl.Name, &tpl.SourceRef, &tpl.Description, &tpl.Icon, &tpl.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", templateID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(tpl); err == nil {
			s.redis.Set(ctx, fmt.Sprintf("template:%s", templateID), data, templateCacheTTL)
		}
	}

	return tpl, nil
}

func (s *CatalogService) ListTemplates(ctx context.Context) ([]models.BotTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT template_id, name, source_ref, description, icon, created_at
		FROM bot_templates
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []models.BotTemplate{}
	for rows.Next() {
		var tpl models.BotTemplate
		if err := rows.Scan(&tpl.TemplateID, &tpl.Name, &tpl.SourceRef, &tpl.Description, &tpl.Icon, &tpl.CreatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}

	return templates, rows.Err()
}

// ListTemplatesHandler lists the bot template catalog
// @Summary List bot templates
// @Tags templates
// @Produce json
// @Success 200 {object} object{templates=[]models.BotTemplate,count=int}
// @Failure 500 {object} map[string]string
// @Router /templates [get]
func (s *CatalogService) ListTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	templates, err := s.ListTemplates(r.Context())
	if err != nil {
		log.Printf("[CATALOG] Failed to list templates: %v", err)
		SendErrorResponse(w, "Failed to fetch templates", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	json.NewEncoder(w).Encode(map[string]any{
		"templates": templates,
		"count":     len(templates),
	})
}

// GetTemplateHandler returns one template
// @Summary Get bot template
// @Tags templates
// @Produce json
// @Param templateId path string true "Template ID"
// @Success 200 {object} models.BotTemplate
// @Failure 404 {object} map[string]string
// @Router /templates/{templateId} [get]
func (s *CatalogService) GetTemplateHandler(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateId")

	tpl, err := s.GetTemplate(r.Context(), templateID)
	if err != nil {
		if isNotFound(err) {
			SendErrorResponse(w, "Template not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch template", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tpl)
}
