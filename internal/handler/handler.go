package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/atm-service/internal/config"
	"github.com/Dan9191/atm-service/internal/integrations/camt"
	"github.com/Dan9191/atm-service/internal/middleware"
	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/service"
	"github.com/Dan9191/atm-service/internal/utils"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	svc *service.Service
	log *logrus.Logger
	cfg *config.Config
}

func NewHandler(svc *service.Service, log *logrus.Logger, cfg *config.Config) *Handler {
	return &Handler{svc: svc, log: log, cfg: cfg}
}

type pinLoginRequest struct {
	CardToken string `json:"cardToken" validate:"required,max=128"`
	PIN       string `json:"pin" validate:"required,len=4,numeric"`
}

type pinLoginResponse struct {
	CustomerName string `json:"customerName"`
	CardNetwork  string `json:"cardNetwork"`
}

type moneyRequest struct {
	Amount         *decimal.Decimal `json:"amount" validate:"required"`
	IdempotencyKey string           `json:"idempotencyKey" validate:"required,max=128"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type transactionItem struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

type transactionsResponse struct {
	Items []transactionItem `json:"items"`
}

// Login handles PIN authentication and sets the session cookie
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req pinLoginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.Login(r.Context(), req.CardToken, req.PIN, h.clientInfo(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    res.Token,
		Path:     "/",
		MaxAge:   int(time.Until(res.Session.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	middleware.RespondWithJSON(w, http.StatusOK, pinLoginResponse{
		CustomerName: res.CustomerName,
		CardNetwork:  res.CardNetwork,
	})
}

// Logout revokes the current session and clears the cookie
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, models.ErrUnauthenticated)
		return
	}
	if err := h.svc.Logout(r.Context(), session, middleware.ClientOrigin(r, h.cfg.TrustedProxies)); err != nil {
		h.respondError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	middleware.RespondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Balance returns the current account balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, models.ErrUnauthenticated)
		return
	}
	balance, err := h.svc.GetBalance(r.Context(), session)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, balanceResponse{Balance: utils.FormatMoney(balance)})
}

// Deposit credits the account
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.Deposit)
}

// Withdraw debits the account
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.Withdraw)
}

type mutation func(ctx context.Context, session *models.Session, amount decimal.Decimal, key string) (decimal.Decimal, error)

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op mutation) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, models.ErrUnauthenticated)
		return
	}
	var req moneyRequest
	if !decode(w, r, &req) {
		return
	}

	// the wire amount is rounded half-up to cents before it reaches the ledger
	amount := utils.Quantize(*req.Amount)
	balance, err := op(r.Context(), session, amount, req.IdempotencyKey)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, balanceResponse{Balance: utils.FormatMoney(balance)})
}

// Transactions lists recent account activity
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, models.ErrUnauthenticated)
		return
	}
	limit, ok := queryLimit(w, r, service.DefaultTransactionLimit)
	if !ok {
		return
	}
	txns, err := h.svc.ListTransactions(r.Context(), session, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]transactionItem, 0, len(txns))
	for _, txn := range txns {
		items = append(items, transactionItem{
			ID:        txn.ID,
			Type:      string(txn.Type),
			Amount:    utils.FormatMoney(txn.Amount),
			CreatedAt: txn.CreatedAt,
		})
	}
	middleware.RespondWithJSON(w, http.StatusOK, transactionsResponse{Items: items})
}

// Statement exports the account statement as camt.053 XML
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, models.ErrUnauthenticated)
		return
	}
	limit, ok := queryLimit(w, r, service.MaxTransactionLimit)
	if !ok {
		return
	}
	st, err := h.svc.GetStatement(r.Context(), session, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	body, err := camt.BuildStatement(camt.StatementInput{
		Account:      st.Account,
		HolderName:   st.HolderName,
		CardLabel:    st.CardLabel,
		Transactions: st.Transactions,
		GeneratedAt:  st.GeneratedAt,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", camt.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// BlockCard blocks a card and ends its sessions
func (h *Handler) BlockCard(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

// UnblockCard lifts an administrative block
func (h *Handler) UnblockCard(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *Handler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	cardID, err := strconv.ParseInt(mux.Vars(r)["cardID"], 10, 64)
	if err != nil || cardID <= 0 {
		middleware.RespondWithError(w, http.StatusBadRequest, "Invalid card id")
		return
	}
	actor := middleware.AdminFromContext(r.Context())
	origin := middleware.ClientOrigin(r, h.cfg.TrustedProxies)
	if blocked {
		err = h.svc.BlockCard(r.Context(), cardID, actor, origin)
	} else {
		err = h.svc.UnblockCard(r.Context(), cardID, actor, origin)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]any{"cardId": cardID, "blocked": blocked})
}

// Audit lists audit entries, newest first
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	var cardID *int64
	if raw := r.URL.Query().Get("cardId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "Invalid cardId")
			return
		}
		cardID = &id
	}
	limit, ok := queryLimit(w, r, 100)
	if !ok {
		return
	}
	entries, err := h.svc.ListAudit(r.Context(), cardID, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{
		Origin:    middleware.ClientOrigin(r, h.cfg.TrustedProxies),
		UserAgent: r.UserAgent(),
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(dst); validationErrors != nil {
		middleware.RespondWithValidationError(w, validationErrors)
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		middleware.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

// respondError maps domain failures onto HTTP statuses. Unknown errors never leak their text.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("request_id", middleware.RequestID(r.Context())).Error("Unhandled error")
	}
	middleware.RespondWithError(w, status, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid PIN or card"
	case errors.Is(err, models.ErrSessionExpired):
		return http.StatusUnauthorized, "Session expired"
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized, "Not authenticated"
	case errors.Is(err, models.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "Too many attempts, try again later"
	case errors.Is(err, models.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusBadRequest, "Insufficient funds"
	case errors.Is(err, models.ErrInvalidIdempotencyKey):
		return http.StatusBadRequest, "Idempotency key is required"
	case errors.Is(err, models.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, models.ErrCardNotFound):
		return http.StatusNotFound, "Card not found"
	case errors.Is(err, models.ErrIdempotencyKeyInUse):
		return http.StatusConflict, "Idempotency key already used"
	case errors.Is(err, models.ErrTransient):
		return http.StatusServiceUnavailable, "Temporarily unavailable, retry"
	}
	return http.StatusInternalServerError, "Internal error"
}
