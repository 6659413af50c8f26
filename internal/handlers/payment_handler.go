package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/bothive/backend/internal/services"
)

type PaymentHandler struct {
	service   *services.PaymentService
	validator *services.ValidationHelper
}

func NewPaymentHandler(service *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// InitializeCharge starts a gateway checkout for a coin top-up
// @Summary Initialize coin top-up
// @Description Start a payment gateway checkout session for purchasing coins
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{email=string,amount=int64,currency=string,coins=int64,channel=string,format=string} true "Charge request"
// @Success 200 {object} services.ChargeResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /coins/topup [post]
func (h *PaymentHandler) InitializeCharge(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Currency string `json:"currency" validate:"required,len=3"`
		Coins    int64  `json:"coins" validate:"required,gt=0"`
		Channel  string `json:"channel" validate:"omitempty,oneof=card mobile_money bank_transfer"`
		Format   string `json:"format" validate:"omitempty,oneof=link qr"`
	}

	if !decodeJSON(w, r, &req, h.validator) {
		return
	}

	result, err := h.service.InitializeCharge(r.Context(), accountID, req.Email, req.Amount, req.Currency, req.Coins, req.Channel)
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	payload := map[string]any{
		"success":          true,
		"reference":        result.Reference,
		"authorizationUrl": result.AuthorizationURL,
		"accessCode":       result.AccessCode,
	}

	// Mobile clients can ask for the checkout link as a scannable code.
	if req.Format == "qr" {
		qrImage, err := encodeQRImage(result.AuthorizationURL)
		if err != nil {
			log.Printf("[PAYMENT] QR encoding failed for %s: %v", result.Reference, err)
			services.SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
			return
		}
		payload["qrImage"] = qrImage
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// VerifyCharge confirms a pending top-up and credits coins exactly once
// @Summary Verify coin top-up
// @Description Confirm a payment with the gateway and credit the coin balance
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param reference path string true "Charge reference"
// @Success 200 {object} services.VerifyResult
// @Failure 402 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /coins/verify/{reference} [post]
func (h *PaymentHandler) VerifyCharge(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	reference := chi.URLParam(r, "reference")
	if reference == "" {
		services.SendErrorResponse(w, "Reference is required", http.StatusBadRequest, nil)
		return
	}

	result, err := h.service.VerifyCharge(r.Context(), reference, accountID)
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// MobileMoneyCharge pushes a charge prompt directly to a mobile money wallet
// @Summary Charge mobile money
// @Description Initiate a mobile money charge for a coin top-up
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{email=string,amount=int64,currency=string,phone=string,provider=string,coins=int64} true "Mobile charge request"
// @Success 200 {object} services.MobileChargeResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /coins/topup/mobile [post]
func (h *PaymentHandler) MobileMoneyCharge(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Currency string `json:"currency" validate:"required,len=3"`
		Phone    string `json:"phone" validate:"required,e164"`
		Provider string `json:"provider" validate:"required,oneof=mtn vod atl"`
		Coins    int64  `json:"coins" validate:"required,gt=0"`
	}

	if !decodeJSON(w, r, &req, h.validator) {
		return
	}

	result, err := h.service.DirectMobileCharge(r.Context(), accountID, req.Email, req.Amount, req.Currency, req.Phone, req.Provider, req.Coins)
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ChargeStatus returns the raw gateway status for a reference
// @Summary Check charge status
// @Description Query the payment gateway for the current status of a charge
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param reference path string true "Charge reference"
// @Success 200 {object} object{reference=string,status=string}
// @Failure 502 {object} services.ErrorResponse
// @Router /coins/status/{reference} [get]
func (h *PaymentHandler) ChargeStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		services.SendErrorResponse(w, "Reference is required", http.StatusBadRequest, nil)
		return
	}

	status, err := h.service.CheckStatus(r.Context(), reference)
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"reference": reference,
		"status":    status,
	})
}

func (h *PaymentHandler) writePaymentError(w http.ResponseWriter, err error) {
	var notCompleted *services.PaymentNotCompletedError
	var insufficient *services.InsufficientFundsError

	switch {
	case errors.As(err, &notCompleted):
		services.SendErrorResponse(w, err.Error(), http.StatusPaymentRequired, nil)
	case errors.As(err, &insufficient):
		services.SendErrorResponse(w, err.Error(), http.StatusPaymentRequired, nil)
	case errors.Is(err, services.ErrNotFound):
		services.SendErrorResponse(w, "Charge not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrAccessDenied):
		services.SendErrorResponse(w, "Access denied", http.StatusForbidden, nil)
	case errors.Is(err, services.ErrDuplicateReference):
		services.SendErrorResponse(w, "Reference already in use", http.StatusConflict, nil)
	case errors.Is(err, services.ErrVerifyInProgress):
		services.SendErrorResponse(w, "Verification already in progress", http.StatusConflict, nil)
	case errors.Is(err, services.ErrGatewayUnavailable):
		services.SendErrorResponse(w, "Payment gateway unavailable", http.StatusBadGateway, nil)
	case errors.Is(err, services.ErrGatewayRejected):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		log.Printf("[PAYMENT] Unexpected error: %v", err)
		services.SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

func encodeQRImage(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeJSON applies the shared request decoding discipline: bounded body,
// unknown fields rejected, single JSON object, then struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, v *services.ValidationHelper) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := v.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}

	return true
}
