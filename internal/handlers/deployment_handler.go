package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bothive/backend/internal/services"
)

type DeploymentHandler struct {
	service   *services.DeploymentService
	validator *services.ValidationHelper
}

func NewDeploymentHandler(service *services.DeploymentService) *DeploymentHandler {
	return &DeploymentHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CreateDeploymentRequest is the payload for launching a bot
// @Description Deployment creation request
type CreateDeploymentRequest struct {
	TemplateID string            `json:"template_id" validate:"required"`
	Plan       string            `json:"plan" validate:"required,oneof=trial monthly"`
	EnvVars    map[string]string `json:"env_vars" validate:"omitempty,max=50"`
}

// Create launches a new bot deployment
// @Summary Create deployment
// @Description Charge the coin balance and queue a new bot deployment
// @Tags deployments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateDeploymentRequest true "Deployment request"
// @Success 201 {object} models.Deployment
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /deployments [post]
func (h *DeploymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	isAdmin, _ := r.Context().Value("isAdmin").(bool)

	var req CreateDeploymentRequest
	if !decodeJSON(w, r, &req, h.validator) {
		return
	}

	dep, err := h.service.Create(r.Context(), accountID, req.TemplateID, req.EnvVars, strings.ToUpper(req.Plan), isAdmin)
	if err != nil {
		h.writeDeploymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(dep)
}

// List returns the caller's deployments
// @Summary List deployments
// @Description List all deployments owned by the authenticated account
// @Tags deployments
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Deployment
// @Router /deployments [get]
func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	deps, err := h.service.List(r.Context(), accountID)
	if err != nil {
		h.writeDeploymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deps)
}

// Get returns a single deployment
// @Summary Get deployment
// @Description Fetch a deployment by ID
// @Tags deployments
// @Produce json
// @Security BearerAuth
// @Param deploymentId path string true "Deployment ID"
// @Success 200 {object} models.Deployment
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /deployments/{deploymentId} [get]
func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, isAdmin := callerIdentity(r)
	if accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	dep, err := h.service.Get(r.Context(), chi.URLParam(r, "deploymentId"), accountID, isAdmin)
	if err != nil {
		h.writeDeploymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dep)
}

// Logs returns the lifecycle log of a deployment
// @Summary Get deployment logs
// @Description Fetch the lifecycle log lines for a deployment
// @Tags deployments
// @Produce json
// @Security BearerAuth
// @Param deploymentId path string true "Deployment ID"
// @Success 200 {array} models.DeploymentLog
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /deployments/{deploymentId}/logs [get]
func (h *DeploymentHandler) Logs(w http.ResponseWriter, r *http.Request) {
	accountID, isAdmin := callerIdentity(r)
	if accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	logs, err := h.service.Logs(r.Context(), chi.URLParam(r, "deploymentId"), accountID, isAdmin)
	if err != nil {
		h.writeDeploymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}

// Stop halts a running deployment
// @Summary Stop deployment
// @Description Stop a deployment; repeated stops are harmless
// @Tags deployments
// @Produce json
// @Security BearerAuth
// @Param deploymentId path string true "Deployment ID"
// @Success 200 {object} models.Deployment
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /deployments/{deploymentId}/stop [post]
func (h *DeploymentHandler) Stop(w http.ResponseWriter, r *http.Request) {
	accountID, isAdmin := callerIdentity(r)
	if accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	dep, err := h.service.Stop(r.Context(), chi.URLParam(r, "deploymentId"), accountID, isAdmin)
	if err != nil {
		h.writeDeploymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dep)
}

// Delete removes a deployment and its logs
// @Summary Delete deployment
// @Description Permanently remove a deployment and its log history
// @Tags deployments
// @Produce json
// @Security BearerAuth
// @Param deploymentId path string true "Deployment ID"
// @Success 204 "Deleted"
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /deployments/{deploymentId} [delete]
func (h *DeploymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID, isAdmin := callerIdentity(r)
	if accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if err := h.service.Delete(r.Context(), chi.URLParam(r, "deploymentId"), accountID, isAdmin); err != nil {
		h.writeDeploymentError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DeploymentHandler) writeDeploymentError(w http.ResponseWriter, err error) {
	var insufficient *services.InsufficientFundsError

	switch {
	case errors.As(err, &insufficient):
		services.SendErrorResponse(w, err.Error(), http.StatusPaymentRequired, nil)
	case errors.Is(err, services.ErrNotFound):
		services.SendErrorResponse(w, "Deployment not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrAccessDenied):
		services.SendErrorResponse(w, "Access denied", http.StatusForbidden, nil)
	case errors.Is(err, services.ErrAlreadyTerminal):
		services.SendErrorResponse(w, "Deployment already finished", http.StatusConflict, nil)
	default:
		log.Printf("[DEPLOY] Unexpected error: %v", err)
		services.SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

func callerIdentity(r *http.Request) (string, bool) {
	accountID, _ := r.Context().Value("accountID").(string)
	isAdmin, _ := r.Context().Value("isAdmin").(bool)
	return accountID, isAdmin
}
