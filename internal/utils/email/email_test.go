package email

import (
	"testing"
	"time"

	"github.com/Dan9191/atm-service/internal/config"
	"github.com/Dan9191/atm-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testSender() *Sender {
	return NewSender(&config.Config{SenderEmail: "no-reply@atm.local", SMTPHost: "127.0.0.1", SMTPPort: "1"}, logrus.New())
}

func TestLockoutAlert(t *testing.T) {
	until := time.Date(2026, 5, 1, 12, 15, 0, 0, time.UTC)
	e := testSender().lockoutAlert("alex@example.com", "Alex Rivera", "VISA ••1111", until)

	require.Equal(t, []string{"alex@example.com"}, e.To)
	require.Equal(t, "no-reply@atm.local", e.From)
	require.Contains(t, string(e.Text), "VISA ••1111")
	require.Contains(t, string(e.Text), "2026-05-01 12:15:00")
}

func TestTransactionNotification(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	e := testSender().transactionNotification("sam@example.com", "Sam Lee", 7, models.TransactionWithdrawal,
		decimal.RequireFromString("40"), decimal.RequireFromString("850.5"), at)

	require.Equal(t, "Withdrawal Notification", e.Subject)
	require.Contains(t, string(e.Text), "An amount of 40.00 USD has been withdrawn from your account 7.")
	require.Contains(t, string(e.Text), "Current balance: 850.50 USD")
}

func TestSend_Unreachable(t *testing.T) {
	err := testSender().SendLockoutAlert("alex@example.com", "Alex", "VISA ••1111", time.Now())
	require.Error(t, err)
}
