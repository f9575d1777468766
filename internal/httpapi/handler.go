// Package httpapi exposes the checkout and payment pipeline over HTTP.
// Authentication is out of scope; the X-User-ID header stands in for an
// authenticated principal.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/checkout"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/webhook"
)

const maxBodySize = 1 << 20

type Handler struct {
	checkout *checkout.Service
	webhooks *webhook.Processor
	logger   *zap.Logger
}

func NewHandler(checkoutSvc *checkout.Service, webhooks *webhook.Processor, logger *zap.Logger) *Handler {
	return &Handler{checkout: checkoutSvc, webhooks: webhooks, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.handleCheckout)
		r.Post("/payment/verify", h.handleVerifyPayment)
		r.Post("/payment/webhook", h.handleWebhook)
		r.Get("/orders", h.handleListOrders)
		r.Get("/orders/{id}", h.handleGetOrder)
		r.Post("/orders/{id}/cancel", h.handleCancelOrder)
		r.Post("/admin/orders/{id}/status", h.handleUpdateStatus)
	})

	return r
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req checkout.CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = userID

	if req.ShippingAddress == "" || req.ShippingCity == "" || req.ShippingCountry == "" || req.ShippingZipCode == "" {
		h.writeError(w, http.StatusBadRequest, "shipping address, city, country and zip code are required")
		return
	}

	result, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RemoteOrderID   string `json:"remote_order_id"`
		RemotePaymentID string `json:"remote_payment_id"`
		Signature       string `json:"signature"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.RemoteOrderID == "" || req.Signature == "" {
		h.writeError(w, http.StatusBadRequest, "remote_order_id and signature are required")
		return
	}

	order, err := h.checkout.VerifyAndConfirm(r.Context(), req.RemoteOrderID, req.RemotePaymentID, req.Signature)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	signature := r.Header.Get("X-Razorpay-Signature")

	event, err := h.webhooks.Handle(r.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrSignatureInvalid):
			h.writeError(w, http.StatusBadRequest, "invalid webhook signature")
		case event != nil:
			// Handler failed but the ledger row is pending; the sweeper
			// will retry, so tell the gateway not to.
			h.writeJSON(w, http.StatusOK, map[string]string{
				"status":   "accepted",
				"event_id": event.EventID,
			})
		default:
			h.logger.Error("webhook handling failed", zap.Error(err))
			if isMalformed(err) {
				h.writeError(w, http.StatusBadRequest, "malformed webhook payload")
				return
			}
			h.writeError(w, http.StatusInternalServerError, "webhook processing failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"event_id": event.EventID,
		"result":   event.ProcessingResult,
	})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	orderID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	order, err := h.checkout.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	orders, err := h.checkout.ListOrders(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	orderID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	order, err := h.checkout.Cancel(r.Context(), userID, orderID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
		Note   string `json:"note,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	order, err := h.checkout.UpdateStatus(r.Context(), orderID, req.Status, req.Note)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		h.writeError(w, http.StatusBadRequest, "valid X-User-ID header required")
		return 0, false
	}
	return userID, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps domain errors onto status codes. Transient lock
// contention surfaces as 503 so clients retry; shortfalls are 409 with
// the per-product detail attached.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var shortfall *checkout.StockUnavailableError

	switch {
	case errors.As(err, &shortfall):
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  "stock unavailable",
			"issues": shortfall.Issues,
		})
	case errors.Is(err, database.ErrEmptyCart):
		h.writeError(w, http.StatusBadRequest, "cart is empty")
	case errors.Is(err, database.ErrPaymentIDRequired):
		h.writeError(w, http.StatusBadRequest, "payment id is required")
	case errors.Is(err, database.ErrSignatureInvalid):
		h.writeError(w, http.StatusBadRequest, "invalid payment signature")
	case errors.Is(err, database.ErrOrderNotFound), errors.Is(err, database.ErrProductNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrCancelNotAllowed):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrInsufficientStock):
		h.writeError(w, http.StatusConflict, "insufficient stock")
	case errors.Is(err, database.ErrGatewayUnavailable):
		h.writeError(w, http.StatusBadGateway, "payment gateway unavailable")
	case errors.Is(err, database.ErrLockTimeout):
		h.writeError(w, http.StatusServiceUnavailable, "temporarily busy, retry shortly")
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func isMalformed(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "malformed webhook payload")
}
