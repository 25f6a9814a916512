package email

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/Dan9191/atm-service/internal/config"
	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/utils"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendLockoutAlert tells the cardholder their card was locked after repeated PIN failures
func (s *Sender) SendLockoutAlert(to, name, cardLabel string, until time.Time) error {
	e := s.lockoutAlert(to, name, cardLabel, until)
	return s.send(e, "lockout alert")
}

// SendTransactionNotification sends a notification email for deposit or withdrawal
func (s *Sender) SendTransactionNotification(to, name string, accountID int64, txnType models.TransactionType, amount, balance decimal.Decimal) error {
	e := s.transactionNotification(to, name, accountID, txnType, amount, balance, time.Now())
	return s.send(e, string(txnType)+" notification")
}

func (s *Sender) lockoutAlert(to, name, cardLabel string, until time.Time) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Card Temporarily Locked"

	body := fmt.Sprintf("Dear %s,\n\n", name)
	body += fmt.Sprintf(
		"Your card %s was locked after too many incorrect PIN entries.\n"+
			"It will be available again after %s UTC.\n"+
			"If this was not you, please contact the bank.\n",
		cardLabel, until.UTC().Format("2006-01-02 15:04:05"),
	)
	body += "\nBest regards,\nATM Service"
	e.Text = []byte(body)
	return e
}

func (s *Sender) transactionNotification(to, name string, accountID int64, txnType models.TransactionType, amount, balance decimal.Decimal, at time.Time) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	title := strings.ToUpper(string(txnType[:1])) + string(txnType[1:])
	e.Subject = fmt.Sprintf("%s Notification", title)

	body := fmt.Sprintf("Dear %s,\n\n", name)
	switch txnType {
	case models.TransactionDeposit:
		body += fmt.Sprintf("Your account %d has been credited with %s USD.\n", accountID, utils.FormatMoney(amount))
	case models.TransactionWithdrawal:
		body += fmt.Sprintf("An amount of %s USD has been withdrawn from your account %d.\n", utils.FormatMoney(amount), accountID)
	}
	body += fmt.Sprintf(
		"Transaction time: %s\n"+
			"Current balance: %s USD\n",
		at.UTC().Format("2006-01-02 15:04:05"), utils.FormatMoney(balance),
	)
	body += "\nBest regards,\nATM Service"
	e.Text = []byte(body)
	return e
}

func (s *Sender) send(e *email.Email, kind string) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send %s to %s: %v", kind, strings.Join(e.To, ","), err)
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}

	s.logger.Infof("Email sent to %s: %s", strings.Join(e.To, ","), e.Subject)
	return nil
}
