package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
)

// Payments is the orchestrator as seen by the HTTP layer.
type Payments interface {
	Create(ctx context.Context, credential string, req domain.CreateRequest) (domain.Payment, error)
	Get(ctx context.Context, credential, id string) (domain.Payment, error)
	List(ctx context.Context, credential string, q domain.ListQuery) (domain.Page, error)
	Capture(ctx context.Context, credential, id string) (domain.Payment, error)
	Cancel(ctx context.Context, credential, id string) (domain.Payment, error)
	Refund(ctx context.Context, credential, id string, amount *int64, reason string) (domain.Payment, error)
	Verify(ctx context.Context, credential, id string, passed bool) (domain.Payment, error)
	Confirm(ctx context.Context, credential, id string) (domain.Payment, error)
	Dispute(ctx context.Context, credential, id, reason string) (domain.Payment, error)
}

type Handler struct {
	log      *slog.Logger
	payments Payments
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, payments Payments) *Handler {
	return &Handler{
		log:      log,
		payments: payments,
		tracer:   otel.Tracer("payment-http"),
	}
}

type refundReq struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

type verifyReq struct {
	Passed bool `json:"passed"`
}

type disputeReq struct {
	Reason string `json:"reason"`
}

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1/payments", func(r chi.Router) {
		r.Post("/", h.traced("CreatePayment", h.create))
		r.Get("/", h.traced("ListPayments", h.list))
		r.Get("/{id}", h.traced("GetPayment", h.get))
		r.Post("/{id}/capture", h.traced("CapturePayment", h.capture))
		r.Post("/{id}/cancel", h.traced("CancelPayment", h.cancel))
		r.Post("/{id}/refund", h.traced("RefundPayment", h.refund))
		r.Post("/{id}/verify", h.traced("VerifyPayment", h.verify))
		r.Post("/{id}/confirm", h.traced("ConfirmPayment", h.confirm))
		r.Post("/{id}/dispute", h.traced("DisputePayment", h.dispute))
	})
	return r
}

func (h *Handler) traced(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, name)
		defer span.End()
		next(w, r.WithContext(ctx))
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.payments.Create(r.Context(), credential(r), req)
	h.respond(w, http.StatusCreated, p, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Get(r.Context(), credential(r), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, p, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := domain.ListQuery{
		StartingAfter: v.Get("starting_after"),
		EndingBefore:  v.Get("ending_before"),
		CustomerID:    v.Get("customer"),
		Status:        domain.Status(v.Get("status")),
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, apperr.Validation("limit must be an integer"))
			return
		}
		q.Limit = n
	}
	page, err := h.payments.List(r.Context(), credential(r), q)
	h.respond(w, http.StatusOK, page, err)
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Capture(r.Context(), credential(r), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, p, err)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Cancel(r.Context(), credential(r), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, p, err)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := decode(r, &req, true); err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.payments.Refund(r.Context(), credential(r), chi.URLParam(r, "id"), req.Amount, req.Reason)
	h.respond(w, http.StatusOK, p, err)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.payments.Verify(r.Context(), credential(r), chi.URLParam(r, "id"), req.Passed)
	h.respond(w, http.StatusOK, p, err)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Confirm(r.Context(), credential(r), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, p, err)
}

func (h *Handler) dispute(w http.ResponseWriter, r *http.Request) {
	var req disputeReq
	if err := decode(r, &req, true); err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.payments.Dispute(r.Context(), credential(r), chi.URLParam(r, "id"), req.Reason)
	h.respond(w, http.StatusOK, p, err)
}

// credential extracts the API key from "Authorization: Bearer <key>".
func credential(r *http.Request) string {
	v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func decode(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, status, body)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(apperr.KindOf(err))
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResp{Error: msg, Code: code})
}

func statusFor(k apperr.Kind) (int, string) {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case apperr.KindAuthentication:
		return http.StatusUnauthorized, "AUTH_ERROR"
	case apperr.KindPayment:
		return http.StatusPaymentRequired, "PAYMENT_ERROR"
	case apperr.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case apperr.KindConflict:
		return http.StatusConflict, "CONFLICT"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
