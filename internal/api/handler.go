package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/service"
	"go.uber.org/zap"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Settlement is the engine surface the handlers call.
type Settlement interface {
	Transfer(ctx context.Context, p domain.Principal, in service.TransferInput) (*service.TransferResult, error)
	SubmitRequest(ctx context.Context, p domain.Principal, in service.RequestInput) (*service.RequestResult, error)
	RespondToRequest(ctx context.Context, p domain.Principal, requestID, action string) (*service.RespondResult, error)
	OpenAccount(ctx context.Context, id domain.Identity) (*service.OpenAccountResult, error)
	Balance(ctx context.Context, p domain.Principal) (domain.Account, error)
	Transactions(ctx context.Context, p domain.Principal) ([]domain.TransactionRecord, error)
	Requests(ctx context.Context, p domain.Principal, direction string) ([]domain.MoneyRequest, error)
}

// Sockets upgrades a request into a realtime channel for accountID.
type Sockets interface {
	Serve(w http.ResponseWriter, r *http.Request, accountID string) error
}

type Handler struct {
	svc     Settlement
	sockets Sockets
	logger  *zap.Logger
}

func NewHandler(svc Settlement, sockets Sockets, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, sockets: sockets, logger: logger.Named("api")}
}

type errorBody struct {
	Error string      `json:"error"`
	Code  domain.Code `json:"code,omitempty"`
}

// statusFor maps a settlement error code to its HTTP status.
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeInvalidInput, domain.CodeInvalidAction:
		return http.StatusBadRequest
	case domain.CodeInvalidAmount, domain.CodeSelfTransfer, domain.CodeSelfRequest,
		domain.CodeInsufficientBalance, domain.CodeIdempotencyMismatch:
		return http.StatusUnprocessableEntity
	case domain.CodeRecipientNotFound, domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeAlreadyProcessed, domain.CodeConcurrentModification:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.logger.Debug("response write failed", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, errorBody{Error: msg}, method, endpoint)
}

// respondFailure renders an engine error. Anything without a code is an
// internal error and its details stay in the log.
func (h *Handler) respondFailure(w http.ResponseWriter, err error, method, endpoint string) {
	var de *domain.Error
	if !errors.As(err, &de) {
		h.logger.Error("unclassified failure", zap.String("endpoint", endpoint), zap.Error(err))
		h.respondJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"}, method, endpoint)
		return
	}
	status := statusFor(de.Code)
	if status == http.StatusInternalServerError {
		h.logger.Error("settlement failure", zap.String("endpoint", endpoint), zap.String("code", string(de.Code)), zap.Error(err))
	}
	h.respondJSON(w, status, errorBody{Error: de.Message, Code: de.Code}, method, endpoint)
}
