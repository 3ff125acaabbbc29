package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/mparany/garageops/internal/cache"
	"github.com/mparany/garageops/internal/domain"
	"github.com/mparany/garageops/internal/service"
	"github.com/mparany/garageops/internal/store"
	"github.com/mparany/garageops/internal/watch"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "garage_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "garage_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const catalogCacheKey = "catalog:repair-types"
const catalogCacheTTL = 60 * time.Second

type Handler struct {
	accounts *service.AccountService
	payments *service.PaymentService
	store    store.Store
	watcher  *watch.Watcher
	rdb      *redis.Client // nil when Redis is not configured
}

func NewHandler(accounts *service.AccountService, payments *service.PaymentService, s store.Store, w *watch.Watcher, rdb *redis.Client) *Handler {
	return &Handler{accounts: accounts, payments: payments, store: s, watcher: w, rdb: rdb}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/register"))
	defer timer.ObserveDuration()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/register")
		return
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		h.fail(w, http.StatusBadRequest, "Missing required fields (name, email, password)", "POST", "/register")
		return
	}

	acct, err := h.accounts.Register(r.Context(), service.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		Address:  req.Address,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrWeakCredential):
			h.fail(w, http.StatusUnprocessableEntity, "Password too weak", "POST", "/register")
		case errors.Is(err, domain.ErrDuplicateAccount):
			h.fail(w, http.StatusConflict, "Account already exists", "POST", "/register")
		default:
			h.fail(w, http.StatusInternalServerError, err.Error(), "POST", "/register")
		}
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/register", "201").Inc()
	respondWithJSON(w, http.StatusCreated, map[string]any{"success": true, "user": acct})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/login"))
	defer timer.ObserveDuration()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/login")
		return
	}

	acct, token, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			httpRequestsTotal.WithLabelValues("POST", "/login", "401").Inc()
			respondWithJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
			return
		}
		h.fail(w, http.StatusInternalServerError, err.Error(), "POST", "/login")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/login", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "user": acct, "token": token})
}

func (h *Handler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "Invalid user id", "GET", "/users/{id}")
		return
	}
	if authed, _ := AccountID(r); id != authed {
		h.fail(w, http.StatusUnauthorized, "Token does not match user id", "GET", "/users/{id}")
		return
	}

	acct, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			h.fail(w, http.StatusNotFound, "User not found", "GET", "/users/{id}")
			return
		}
		h.fail(w, http.StatusInternalServerError, err.Error(), "GET", "/users/{id}")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/users/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, acct)
}

type createCarRequest struct {
	Make    string `json:"make"`
	Model   string `json:"model"`
	Year    int    `json:"year"`
	Plate   string `json:"plate"`
	OwnerID int64  `json:"owner_id"`
}

func (h *Handler) CreateCarHandler(w http.ResponseWriter, r *http.Request) {
	var req createCarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/cars")
		return
	}
	if req.Make == "" || req.Model == "" {
		h.fail(w, http.StatusBadRequest, "Missing required fields (make, model)", "POST", "/cars")
		return
	}

	owner := req.OwnerID
	if owner == 0 {
		owner, _ = AccountID(r)
	}

	car := &domain.Vehicle{Make: req.Make, Model: req.Model, Year: req.Year, Plate: req.Plate, OwnerID: owner}
	if err := h.store.CreateVehicle(r.Context(), car); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			h.fail(w, http.StatusNotFound, "Owner account not found", "POST", "/cars")
			return
		}
		h.fail(w, http.StatusInternalServerError, err.Error(), "POST", "/cars")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/cars", "201").Inc()
	respondWithJSON(w, http.StatusCreated, map[string]any{"success": true, "car": car})
}

func (h *Handler) ListCarsHandler(w http.ResponseWriter, r *http.Request) {
	cars, err := h.store.ListVehicles(r.Context())
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err.Error(), "GET", "/cars")
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/cars", "200").Inc()
	respondWithJSON(w, http.StatusOK, cars)
}

type createIssueRequest struct {
	Description  string `json:"description"`
	Severity     string `json:"severity"`
	CarID        int64  `json:"car_id"`
	RepairTypeID int64  `json:"repair_type_id"`
}

func (h *Handler) CreateIssueHandler(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/issues")
		return
	}
	if req.Description == "" || req.CarID == 0 {
		h.fail(w, http.StatusBadRequest, "Missing required fields (description, car_id)", "POST", "/issues")
		return
	}

	issue := &domain.Issue{
		VehicleID:    req.CarID,
		RepairTypeID: req.RepairTypeID,
		Description:  req.Description,
		Severity:     req.Severity,
	}
	if err := h.store.CreateIssue(r.Context(), issue); err != nil {
		if errors.Is(err, domain.ErrVehicleNotFound) {
			h.fail(w, http.StatusNotFound, "Car not found", "POST", "/issues")
			return
		}
		h.fail(w, http.StatusInternalServerError, err.Error(), "POST", "/issues")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/issues", "201").Inc()
	respondWithJSON(w, http.StatusCreated, map[string]any{"success": true, "issue": issue})
}

func (h *Handler) RepairedIssuesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "Invalid user id", "GET", "/repaired-issues/{userId}")
		return
	}
	if authed, _ := AccountID(r); userID != authed {
		h.fail(w, http.StatusUnauthorized, "Token does not match user id", "GET", "/repaired-issues/{userId}")
		return
	}

	charges, err := h.payments.EligibleCharges(r.Context(), userID)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err.Error(), "GET", "/repaired-issues/{userId}")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/repaired-issues/{userId}", "200").Inc()
	respondWithJSON(w, http.StatusOK, charges)
}

type createPaymentRequest struct {
	UserID        int64   `json:"user_id"`
	Amount        float64 `json:"amount"`
	IssueID       *int64  `json:"issue_id"`
	PaymentMethod string  `json:"payment_method"`
}

func (h *Handler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "Stream read error", "POST", "/payments")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req createPaymentRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.fail(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/payments")
		return
	}

	authed, _ := AccountID(r)
	if req.UserID == 0 {
		req.UserID = authed
	}
	if req.UserID != authed {
		h.fail(w, http.StatusUnauthorized, "Token does not match user_id", "POST", "/payments")
		return
	}

	params := domain.ChargeParams{
		AccountID: req.UserID,
		IssueID:   req.IssueID,
		Amount:    req.Amount,
		Method:    req.PaymentMethod,
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		hash := sha256.Sum256(bodyBytes)
		params.IdempotencyKey = key
		params.RequestHash = hex.EncodeToString(hash[:])
	}

	result, err := h.payments.Charge(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			h.failPayment(w, http.StatusUnprocessableEntity, "Positive amount required")
		case errors.Is(err, domain.ErrAccountNotFound):
			h.failPayment(w, http.StatusNotFound, "User not found")
		case errors.Is(err, domain.ErrIssueNotFound):
			h.failPayment(w, http.StatusNotFound, "Issue not found")
		case errors.Is(err, domain.ErrIssueNotPayable):
			h.failPayment(w, http.StatusUnprocessableEntity, "Issue is not payable")
		case errors.Is(err, domain.ErrInsufficientFunds):
			h.failPayment(w, http.StatusUnprocessableEntity, "Insufficient capital")
		case errors.Is(err, domain.ErrTxConflict):
			h.failPayment(w, http.StatusConflict, "Transaction conflict, retry")
		case errors.Is(err, domain.ErrIdempotencyConflict):
			h.failPayment(w, http.StatusConflict, "Request processing in progress")
		case errors.Is(err, domain.ErrIdempotencyMismatch):
			h.failPayment(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
		default:
			h.failPayment(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if result.Replayed {
		httpRequestsTotal.WithLabelValues("POST", "/payments", "200").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(result.ReplayedStatus)
		w.Write(result.ReplayedBody)
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/payments", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"payment":     result.Payment,
		"new_capital": result.NewCapital,
	})
}

func (h *Handler) ListRepairTypesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Catalog is read-only reference data, safe to serve from cache.
	if h.rdb != nil {
		var cached []domain.RepairType
		if found, err := cache.Get(ctx, h.rdb, catalogCacheKey, &cached); err == nil && found {
			httpRequestsTotal.WithLabelValues("GET", "/repair-types", "200").Inc()
			respondWithJSON(w, http.StatusOK, cached)
			return
		}
	}

	types, err := h.store.ListRepairTypes(ctx)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err.Error(), "GET", "/repair-types")
		return
	}
	if h.rdb != nil {
		_ = cache.Set(ctx, h.rdb, catalogCacheKey, types, catalogCacheTTL)
	}

	httpRequestsTotal.WithLabelValues("GET", "/repair-types", "200").Inc()
	respondWithJSON(w, http.StatusOK, types)
}

func (h *Handler) fail(w http.ResponseWriter, code int, msg, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithError(w, code, msg)
}

// failPayment keeps the {success:false, error} shape the payment clients
// expect.
func (h *Handler) failPayment(w http.ResponseWriter, code int, msg string) {
	httpRequestsTotal.WithLabelValues("POST", "/payments", strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, map[string]any{"success": false, "error": msg})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
