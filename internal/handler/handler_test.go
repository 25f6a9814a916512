package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/atm-service/internal/config"
	"github.com/Dan9191/atm-service/internal/middleware"
	"github.com/Dan9191/atm-service/internal/repository"
	"github.com/Dan9191/atm-service/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "handler-test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	repo := repository.NewMemoryRepository()
	_, err := repository.Seed(context.Background(), repo, repository.DemoFixtures(), func(pin string) (string, error) {
		b, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
		return string(b), err
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.Config{
		SessionTTL:         15 * time.Minute,
		LockoutMaxAttempts: 5,
		LockoutWindow:      15 * time.Minute,
		JWTSecret:          testSecret,
		CORSOrigin:         "http://localhost:3000",
	}
	svc := service.NewService(repo, log, cfg)
	return NewHandler(svc, log, cfg).NewRouter()
}

func do(t *testing.T, h http.Handler, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "192.0.2.1:4000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, token, pin string) *http.Cookie {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/auth/pin", `{"cardToken":"`+token+`","pin":"`+pin+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLogin(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/auth/pin", `{"cardToken":"TOK_VISA_1111","pin":"9999"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"message":"Invalid PIN or card"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/auth/pin", `{"cardToken":"TOK_NOPE","pin":"9999"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"message":"Invalid PIN or card"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/auth/pin", `{"cardToken":"TOK_VISA_1111","pin":"12a4"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/auth/pin", `{"cardToken":"TOK_VISA_1111","pin":"1234"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"customerName":"Alex Rivera","cardNetwork":"visa"}`, rec.Body.String())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, middleware.SessionCookie, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	require.InDelta(t, 900, cookies[0].MaxAge, 2)
}

func TestAccountFlow(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/account/balance", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := login(t, h, "TOK_MC_2222", "4321")

	rec = do(t, h, http.MethodGet, "/account/balance", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"balance":"890.00"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/account/deposit", `{"amount":"10.005","idempotencyKey":"d-1"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"balance":"900.01"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/account/deposit", `{"amount":10.01,"idempotencyKey":"d-1"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"balance":"900.01"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/account/withdraw", `{"amount":"1000","idempotencyKey":"w-1"}`, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"message":"Insufficient funds"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/account/withdraw", `{"amount":"0","idempotencyKey":"w-2"}`, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"message":"Invalid amount"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/account/withdraw", `{"amount":"1.00"}`, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/account/withdraw", `{"amount":"100.01","idempotencyKey":"w-3"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"balance":"800.00"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/transactions?limit=1", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	require.Equal(t, "withdrawal", first["type"])
	require.Equal(t, "100.01", first["amount"])

	rec = do(t, h, http.MethodGet, "/transactions", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["items"].([]any), 2)

	rec = do(t, h, http.MethodGet, "/transactions?limit=abc", "", cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/account/statement", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
	require.Contains(t, rec.Body.String(), "<Nm>Sam Lee</Nm>")
	require.Contains(t, rec.Body.String(), "800.00")
}

func TestIdempotencyKeyInUse(t *testing.T) {
	h := newTestRouter(t)
	alex := login(t, h, "TOK_VISA_1111", "1234")
	sam := login(t, h, "TOK_MC_2222", "4321")

	rec := do(t, h, http.MethodPost, "/account/deposit", `{"amount":"1","idempotencyKey":"shared"}`, alex)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/account/deposit", `{"amount":"1","idempotencyKey":"shared"}`, sam)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogout(t *testing.T) {
	h := newTestRouter(t)
	cookie := login(t, h, "TOK_PULSE_5555", "5555")

	rec := do(t, h, http.MethodPost, "/auth/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	require.Negative(t, cleared[0].MaxAge)

	rec = do(t, h, http.MethodGet, "/account/balance", "", cookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLockoutOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	for i := 0; i < 5; i++ {
		rec := do(t, h, http.MethodPost, "/auth/pin", `{"cardToken":"TOK_PLUS_6666","pin":"0000"}`, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/auth/pin", `{"cardToken":"TOK_PLUS_6666","pin":"6666"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"message":"Invalid PIN or card"}`, rec.Body.String())
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@bank",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func TestAdminRoutes(t *testing.T) {
	h := newTestRouter(t)
	cookie := login(t, h, "TOK_VISA_1111", "1234")

	req := httptest.NewRequest(http.MethodPost, "/admin/cards/1/block", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// ids share one sequence: customer 1, card 2, account 3
	req = httptest.NewRequest(http.MethodPost, "/admin/cards/2/block", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"cardId":2,"blocked":true}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/account/balance", "", cookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/cards/999/block", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/audit?cardId=2&limit=10", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["items"].([]any)
	require.Len(t, items, 2)
	require.Equal(t, "card_block", items[0].(map[string]any)["action"])
	require.Equal(t, "pin_ok", items[1].(map[string]any)["action"])
}

func TestOpsRoutes(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/-/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/-/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/account/deposit", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
