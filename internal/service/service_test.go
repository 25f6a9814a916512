package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/atm-service/internal/config"
	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testToken = "TOK_TEST_0000"
	testPIN   = "2468"
)

var testClient = ClientInfo{Origin: "10.0.0.1", UserAgent: "atm-test/1.0"}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func cheapHash(pin string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	return string(b), err
}

func testConfig() *config.Config {
	return &config.Config{
		SessionTTL:         15 * time.Minute,
		LockoutMaxAttempts: 5,
		LockoutWindow:      15 * time.Minute,
	}
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	svc   *Service
	repo  *repository.MemoryRepository
	clock *testClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo := repository.NewMemoryRepository()
	fixtures := append(repository.DemoFixtures(), repository.Fixture{
		FullName: "Test Holder",
		Email:    "holder@example.com",
		Balance:  decimal.RequireFromString("100.00"),
		Token:    testToken,
		BIN:      "400000",
		Last4:    "0000",
		Network:  "visa",
		PIN:      testPIN,
	})
	_, err := repository.Seed(context.Background(), repo, fixtures, cheapHash)
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc := NewService(repo, testLogger(), testConfig(), opts...)
	svc.retryBackoff = time.Millisecond
	return &fixture{svc: svc, repo: repo, clock: clock}
}

func (f *fixture) login(t *testing.T, token, pin string) *LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), token, pin, testClient)
	require.NoError(t, err)
	return res
}

func (f *fixture) card(t *testing.T, token string) *models.Card {
	t.Helper()
	var card *models.Card
	err := f.repo.WithTx(context.Background(), func(tx repository.Tx) error {
		var err error
		card, err = tx.GetCardByTokenForUpdate(context.Background(), token)
		return err
	})
	require.NoError(t, err)
	return card
}

func (f *fixture) audit(t *testing.T, cardID *int64) []*models.AuditLog {
	t.Helper()
	entries, err := f.svc.ListAudit(context.Background(), cardID, 100)
	require.NoError(t, err)
	return entries
}

func countActions(entries []*models.AuditLog, action, result string) int {
	n := 0
	for _, e := range entries {
		if e.Action == action && e.Result == result {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	lockouts chan string
	txns     chan string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{lockouts: make(chan string, 16), txns: make(chan string, 256)}
}

func (n *fakeNotifier) SendLockoutAlert(to, name, cardLabel string, until time.Time) error {
	n.lockouts <- to + "|" + cardLabel
	return nil
}

func (n *fakeNotifier) SendTransactionNotification(to, name string, accountID int64, txnType models.TransactionType, amount, balance decimal.Decimal) error {
	select {
	case n.txns <- to + "|" + string(txnType):
	default:
	}
	return nil
}

type fakeThrottler struct {
	allowed bool
	err     error
}

func (f fakeThrottler) Allow(ctx context.Context, origin string) (bool, error) {
	return f.allowed, f.err
}

func TestReady(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Ready(context.Background()))
}
