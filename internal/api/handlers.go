package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payflow/internal/action"
	"github.com/punchamoorthee/payflow/internal/domain"
	"github.com/punchamoorthee/payflow/internal/schedule"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payflow_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Handler exposes the money-movement engine over REST. It is thin on
// purpose: requests become commands, commands go through the processor.
type Handler struct {
	processor *action.Processor
	engine    *schedule.Engine
	accounts  domain.AccountRepository
	transfers domain.TransferRepository
	schedules domain.ScheduleRepository
}

func NewHandler(
	processor *action.Processor,
	engine *schedule.Engine,
	accounts domain.AccountRepository,
	transfers domain.TransferRepository,
	schedules domain.ScheduleRepository,
) *Handler {
	return &Handler{
		processor: processor,
		engine:    engine,
		accounts:  accounts,
		transfers: transfers,
		schedules: schedules,
	}
}

// Router wires all endpoints.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/accounts", h.CreateAccountHandler).Methods("POST")
	v1.HandleFunc("/accounts/{number}", h.GetAccountHandler).Methods("GET")
	v1.HandleFunc("/transfers", h.CreateTransferHandler).Methods("POST")
	v1.HandleFunc("/transfers/{id}", h.GetTransferHandler).Methods("GET")
	v1.HandleFunc("/transfers/{id}/cancel", h.CancelTransferHandler).Methods("POST")
	v1.HandleFunc("/schedules", h.CreateScheduleHandler).Methods("POST")
	v1.HandleFunc("/schedules/{id}", h.GetScheduleHandler).Methods("GET")
	v1.HandleFunc("/schedules/{id}/pause", h.PauseScheduleHandler).Methods("POST")
	v1.HandleFunc("/schedules/{id}/resume", h.ResumeScheduleHandler).Methods("POST")
	v1.HandleFunc("/schedules/{id}/cancel", h.CancelScheduleHandler).Methods("POST")
	v1.HandleFunc("/schedules/{id}/executions", h.ListExecutionsHandler).Methods("GET")
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createAccountRequest struct {
	OwnerID        string          `json:"owner_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	defer track("POST", "/accounts")()

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/accounts", http.StatusBadRequest, errBody("malformed JSON body"))
		return
	}
	if req.OwnerID == "" {
		h.respond(w, "POST", "/accounts", http.StatusUnprocessableEntity, errBody("owner_id required"))
		return
	}
	if req.InitialBalance.Sign() < 0 {
		h.respond(w, "POST", "/accounts", http.StatusUnprocessableEntity, errBody("negative initial balance"))
		return
	}

	acct := &domain.Account{
		AccountNumber: uuid.NewString(),
		OwnerID:       req.OwnerID,
		Balance:       req.InitialBalance,
		Status:        domain.AccountActive,
	}
	if err := h.accounts.Create(r.Context(), acct); err != nil {
		h.respond(w, "POST", "/accounts", http.StatusInternalServerError, errBody("system error creating account"))
		return
	}
	h.respond(w, "POST", "/accounts", http.StatusCreated, acct)
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	acct, err := h.accounts.FindByAccountNumber(r.Context(), number)
	if err != nil {
		h.respond(w, "GET", "/accounts/{number}", http.StatusNotFound, errBody("account not found"))
		return
	}
	h.respond(w, "GET", "/accounts/{number}", http.StatusOK, acct)
}

type transferRequest struct {
	Kind        string          `json:"kind"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	BankCode    string          `json:"bank_code"`
	BankAccount string          `json:"bank_account"`
	Amount      decimal.Decimal `json:"amount"`
	Memo        string          `json:"memo"`
	Pin         string          `json:"pin"`
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	defer track("POST", "/transfers")()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		h.respond(w, "POST", "/transfers", http.StatusBadRequest, errBody("missing Idempotency-Key header"))
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/transfers", http.StatusBadRequest, errBody("malformed JSON body"))
		return
	}

	var cmd domain.Command
	switch domain.TransferKind(req.Kind) {
	case domain.KindInternal, "":
		cmd = domain.InternalTransferCommand{
			TransactionID: idempotencyKey,
			FromAccount:   req.FromAccount,
			ToAccount:     req.ToAccount,
			Amount:        req.Amount,
			Memo:          req.Memo,
		}
	case domain.KindExternal:
		cmd = domain.ExternalTransferCommand{
			TransactionID: idempotencyKey,
			FromAccount:   req.FromAccount,
			BankCode:      req.BankCode,
			BankAccount:   req.BankAccount,
			Amount:        req.Amount,
			Memo:          req.Memo,
		}
	case domain.KindPin:
		cmd = domain.PinTransferCommand{
			TransactionID: idempotencyKey,
			FromAccount:   req.FromAccount,
			ToAccount:     req.ToAccount,
			Amount:        req.Amount,
			Memo:          req.Memo,
			Pin:           req.Pin,
		}
	default:
		h.respond(w, "POST", "/transfers", http.StatusUnprocessableEntity, errBody("unknown transfer kind"))
		return
	}

	res := h.processor.Process(r.Context(), cmd)
	h.respond(w, "POST", "/transfers", statusCodeFor(res), res)
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := h.transfers.FindByTransactionID(r.Context(), id)
	if err != nil {
		h.respond(w, "GET", "/transfers/{id}", http.StatusNotFound, errBody("transfer not found"))
		return
	}
	h.respond(w, "GET", "/transfers/{id}", http.StatusOK, t)
}

func (h *Handler) CancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res := h.processor.Cancel(r.Context(), id)
	code := http.StatusOK
	if res.Status != domain.ResultSuccess {
		code = http.StatusConflict
	}
	h.respond(w, "POST", "/transfers/{id}/cancel", code, res)
}

type scheduleRequest struct {
	FromAccount   string          `json:"from_account"`
	ToAccount     string          `json:"to_account"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo"`
	Frequency     string          `json:"frequency"`
	DayOfMonth    int             `json:"day_of_month"`
	Weekday       int             `json:"weekday"`
	MonthOfYear   int             `json:"month_of_year"`
	Hour          int             `json:"hour"`
	Minute        int             `json:"minute"`
	FireAt        *time.Time      `json:"fire_at"`
	EndDate       *time.Time      `json:"end_date"`
	MaxExecutions int             `json:"max_executions"`
}

func (h *Handler) CreateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	defer track("POST", "/schedules")()

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/schedules", http.StatusBadRequest, errBody("malformed JSON body"))
		return
	}

	s := &domain.ScheduledTransfer{
		FromAccount: req.FromAccount,
		ToAccount:   req.ToAccount,
		Amount:      req.Amount,
		Memo:        req.Memo,
		Recurrence: domain.Recurrence{
			Frequency:   domain.Frequency(req.Frequency),
			DayOfMonth:  req.DayOfMonth,
			Weekday:     time.Weekday(req.Weekday),
			MonthOfYear: time.Month(req.MonthOfYear),
			Hour:        req.Hour,
			Minute:      req.Minute,
		},
		EndDate:       req.EndDate,
		MaxExecutions: req.MaxExecutions,
	}
	if req.FireAt != nil {
		s.NextRunAt = *req.FireAt
	}

	if err := h.engine.Create(r.Context(), s); err != nil {
		h.respond(w, "POST", "/schedules", http.StatusUnprocessableEntity, errBody(err.Error()))
		return
	}
	h.respond(w, "POST", "/schedules", http.StatusCreated, s)
}

func (h *Handler) GetScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s, err := h.schedules.FindByID(r.Context(), id)
	if err != nil {
		h.respond(w, "GET", "/schedules/{id}", http.StatusNotFound, errBody("schedule not found"))
		return
	}
	h.respond(w, "GET", "/schedules/{id}", http.StatusOK, s)
}

func (h *Handler) PauseScheduleHandler(w http.ResponseWriter, r *http.Request) {
	h.scheduleOp(w, r, "/schedules/{id}/pause", h.engine.Pause)
}

func (h *Handler) ResumeScheduleHandler(w http.ResponseWriter, r *http.Request) {
	h.scheduleOp(w, r, "/schedules/{id}/resume", h.engine.Resume)
}

func (h *Handler) CancelScheduleHandler(w http.ResponseWriter, r *http.Request) {
	h.scheduleOp(w, r, "/schedules/{id}/cancel", h.engine.Cancel)
}

func (h *Handler) scheduleOp(w http.ResponseWriter, r *http.Request, endpoint string, op func(ctx context.Context, id string) error) {
	id := mux.Vars(r)["id"]
	if err := op(r.Context(), id); err != nil {
		code := http.StatusConflict
		if errors.Is(err, domain.ErrScheduleNotFound) {
			code = http.StatusNotFound
		}
		h.respond(w, "POST", endpoint, code, errBody(err.Error()))
		return
	}
	h.respond(w, "POST", endpoint, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	execs, err := h.schedules.ListExecutions(r.Context(), id)
	if err != nil {
		h.respond(w, "GET", "/schedules/{id}/executions", http.StatusInternalServerError, errBody("could not list executions"))
		return
	}
	h.respond(w, "GET", "/schedules/{id}/executions", http.StatusOK, execs)
}

// statusCodeFor maps processor results onto HTTP codes: a settled
// success is 201, a replay is 200, and ambiguous outcomes are 202
// because the request was accepted but the money's fate is not known.
func statusCodeFor(res domain.ActionResult) int {
	// A replay returns the recorded outcome, whatever it was.
	if res.Code == domain.CodeReplay {
		return http.StatusOK
	}
	switch res.Status {
	case domain.ResultSuccess:
		return http.StatusCreated
	case domain.ResultPending, domain.ResultTimeout, domain.ResultUnknown:
		return http.StatusAccepted
	default:
		switch res.Code {
		case domain.CodeInProgress, domain.CodeLockContention:
			return http.StatusConflict
		case domain.CodeValidationFailed:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusInternalServerError
		}
	}
}

func (h *Handler) respond(w http.ResponseWriter, method, endpoint string, code int, payload interface{}) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func track(method, endpoint string) func() {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(method, endpoint))
	return func() { timer.ObserveDuration() }
}
