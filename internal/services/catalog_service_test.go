package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/bothive/backend/internal/models"
)

func TestCatalogService_GetTemplate(t *testing.T) {
	t.Run("reads from database without redis", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewCatalogService(db, nil)

		mock.ExpectQuery("SELECT template_id, name, source_ref, description, icon, created_at FROM bot_templates WHERE template_id = \\$1").
			WithArgs("tpl_echo").
			WillReturnRows(sqlmock.NewRows([]string{"template_id", "name", "source_ref", "description", "icon", "created_at"}).
				AddRow("tpl_echo", "Echo Bot", "github.com/bots/echo", "replies with the input", "echo.svg", time.Now()))

		tpl, err := service.GetTemplate(context.Background(), "tpl_echo")
		assert.NoError(t, err)
		assert.Equal(t, "Echo Bot", tpl.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cache hit skips the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewCatalogService(db, redisClient)

		cached, _ := json.Marshal(models.BotTemplate{TemplateID: "tpl_echo", Name: "Echo Bot"})
		redisMock.ExpectGet("template:tpl_echo").SetVal(string(cached))

		tpl, err := service.GetTemplate(context.Background(), "tpl_echo")
		assert.NoError(t, err)
		assert.Equal(t, "Echo Bot", tpl.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("cache miss populates the cache", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewCatalogService(db, redisClient)

		redisMock.ExpectGet("template:tpl_echo").RedisNil()
		redisMock.Regexp().ExpectSet("template:tpl_echo", `.*`, templateCacheTTL).SetVal("OK")

		mock.ExpectQuery("SELECT template_id, name, source_ref, description, icon, created_at FROM bot_templates WHERE template_id = \\$1").
			WithArgs("tpl_echo").
			WillReturnRows(sqlmock.NewRows([]string{"template_id", "name", "source_ref", "description", "icon", "created_at"}).
				AddRow("tpl_echo", "Echo Bot", "github.com/bots/echo", "replies with the input", "echo.svg", time.Now()))

		tpl, err := service.GetTemplate(context.Background(), "tpl_echo")
		assert.NoError(t, err)
		assert.Equal(t, "Echo Bot", tpl.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("missing template", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewCatalogService(db, nil)

		mock.ExpectQuery("SELECT template_id, name, source_ref, description, icon, created_at FROM bot_templates WHERE template_id = \\$1").
			WithArgs("tpl_missing").
			WillReturnRows(sqlmock.NewRows([]string{"template_id"}))

		_, err = service.GetTemplate(context.Background(), "tpl_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCatalogService_ListTemplatesHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCatalogService(db, nil)

	mock.ExpectQuery("SELECT template_id, name, source_ref, description, icon, created_at FROM bot_templates ORDER BY name").
		WillReturnRows(sqlmock.NewRows([]string{"template_id", "name", "source_ref", "description", "icon", "created_at"}).
			AddRow("tpl_echo", "Echo Bot", "github.com/bots/echo", "replies with the input", "echo.svg", time.Now()).
			AddRow("tpl_faq", "FAQ Bot", "github.com/bots/faq", "answers common questions", "faq.svg", time.Now()))

	r := httptest.NewRequest("GET", "/api/v1/templates", nil)
	w := httptest.NewRecorder()

	service.ListTemplatesHandler(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Templates []models.BotTemplate `json:"templates"`
		Count     int                  `json:"count"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Count)
	assert.Len(t, response.Templates, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
