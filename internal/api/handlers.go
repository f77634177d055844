package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/service"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type transferBody struct {
	RecipientEmail string      `json:"recipient_email"`
	Amount         json.Number `json:"amount"`
}

type requestBody struct {
	RecipientEmail string      `json:"recipient_email"`
	Amount         json.Number `json:"amount"`
	Message        string      `json:"message"`
}

type respondBody struct {
	Action string `json:"action"`
}

type accountBody struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
}

// decode reads a bounded JSON body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return domain.Invalid("request body could not be read")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.Invalid("malformed JSON body")
	}
	return nil
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	const method, endpoint = "POST", "/transfers"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues(method, endpoint))
	defer timer.ObserveDuration()

	// 1. Decode and parse the amount strictly
	var body transferBody
	if err := decode(w, r, &body); err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	amount, err := domain.ParseAmount(body.Amount.String())
	if err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}

	// 2. Call Service
	res, err := h.svc.Transfer(r.Context(), principalFrom(r.Context()), service.TransferInput{
		RecipientEmail: body.RecipientEmail,
		Amount:         amount,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}

	// 3. Replays answer 200 with the original transaction id
	if res.Replayed {
		h.respondJSON(w, http.StatusOK, res, method, endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, res, method, endpoint)
}

func (h *Handler) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	const method, endpoint = "POST", "/requests"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues(method, endpoint))
	defer timer.ObserveDuration()

	var body requestBody
	if err := decode(w, r, &body); err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	amount, err := domain.ParseAmount(body.Amount.String())
	if err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}

	res, err := h.svc.SubmitRequest(r.Context(), principalFrom(r.Context()), service.RequestInput{
		RecipientEmail: body.RecipientEmail,
		Amount:         amount,
		Message:        body.Message,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	h.respondJSON(w, status, res, method, endpoint)
}

func (h *Handler) RespondToRequestHandler(w http.ResponseWriter, r *http.Request) {
	const method, endpoint = "POST", "/requests/{requestId}/respond"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues(method, endpoint))
	defer timer.ObserveDuration()

	var body respondBody
	if err := decode(w, r, &body); err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	res, err := h.svc.RespondToRequest(r.Context(), principalFrom(r.Context()), mux.Vars(r)["requestId"], body.Action)
	if err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, res, method, endpoint)
}

func (h *Handler) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	const method, endpoint = "GET", "/requests"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues(method, endpoint))
	defer timer.ObserveDuration()

	requests, err := h.svc.Requests(r.Context(), principalFrom(r.Context()), r.URL.Query().Get("type"))
	if err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	if requests == nil {
		requests = []domain.MoneyRequest{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"requests": requests}, method, endpoint)
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	const method, endpoint = "GET", "/balance"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues(method, endpoint))
	defer timer.ObserveDuration()

	account, err := h.svc.Balance(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, account, method, endpoint)
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	const method, endpoint = "GET", "/transactions"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues(method, endpoint))
	defer timer.ObserveDuration()

	records, err := h.svc.Transactions(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	if records == nil {
		records = []domain.TransactionRecord{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"transactions": records}, method, endpoint)
}

// CreateAccountHandler is the signup hook called by the identity provider.
func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	const method, endpoint = "POST", "/accounts"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues(method, endpoint))
	defer timer.ObserveDuration()

	var body accountBody
	if err := decode(w, r, &body); err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	res, err := h.svc.OpenAccount(r.Context(), domain.Identity{
		AccountID: body.AccountID,
		Email:     body.Email,
		Username:  body.Username,
	})
	if err != nil {
		h.respondFailure(w, err, method, endpoint)
		return
	}
	status := http.StatusOK
	if res.Credited {
		status = http.StatusCreated
	}
	h.respondJSON(w, status, res, method, endpoint)
}

func (h *Handler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	httpReqTotal.WithLabelValues("GET", "/ws", "101").Inc()
	if err := h.sockets.Serve(w, r, p.AccountID); err != nil {
		h.logger.Debug("websocket session ended with error", zap.String("account_id", p.AccountID), zap.Error(err))
	}
}
