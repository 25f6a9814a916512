package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/atm-service/internal/metrics"
	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/repository"
	"github.com/Dan9191/atm-service/internal/utils"
	"github.com/sirupsen/logrus"
)

// LoginResult is returned on successful PIN authentication
type LoginResult struct {
	Token        string // Raw bearer token, handed to the client once
	Session      *models.Session
	CustomerName string
	CardNetwork  string
}

type lockNotice struct {
	email string
	name  string
	label string
	until time.Time
}

// Login authenticates a card with its PIN and issues a session.
// Every refusal surfaces as ErrInvalidCredentials; the cause is kept in the audit trail.
func (s *Service) Login(ctx context.Context, cardToken, pin string, client ClientInfo) (*LoginResult, error) {
	now := s.now()
	log := s.log.WithField("origin", client.Origin)

	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, client.Origin)
		if err != nil {
			log.WithError(err).Warn("Login throttle unavailable, allowing attempt")
			allowed = true
		}
		if !allowed {
			metrics.LoginAttempts.WithLabelValues(metrics.LoginThrottled).Inc()
			err := s.store.WithTx(ctx, func(tx repository.Tx) error {
				return s.record(ctx, tx, auditEntry(nil, models.AuditPINThrottle, models.AuditResultDeny, client.Origin, now, nil))
			})
			if err != nil {
				log.WithError(err).Error("Failed to record throttled login")
			}
			return nil, models.ErrTooManyAttempts
		}
	}

	var (
		result  *LoginResult
		denied  string
		notice  *lockNotice
		cardLog logrus.Fields
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		result, denied, notice, cardLog = nil, "", nil, logrus.Fields{}

		card, err := tx.GetCardByTokenForUpdate(ctx, cardToken)
		if errors.Is(err, repository.ErrNotFound) {
			utils.BurnPINCheck(pin)
			denied = reasonUnknownCard
			return s.record(ctx, tx, auditEntry(nil, models.AuditPINFail, models.AuditResultDeny, client.Origin, now,
				map[string]any{"reason": denied}))
		}
		if err != nil {
			return err
		}
		cardID := card.ID
		cardLog = logrus.Fields{
			"card_id":    cardID,
			"card":       utils.MaskCard(card.BIN, card.Last4),
			"card_state": card.State(now).String(),
		}

		if reason := s.lockout.denyReason(card, now); reason != "" {
			utils.BurnPINCheck(pin)
			denied = reason
			meta := map[string]any{"reason": reason}
			if card.LockedUntil != nil && reason == reasonLocked {
				meta["locked_until"] = card.LockedUntil.UTC().Format(time.RFC3339)
			}
			return s.record(ctx, tx, auditEntry(&cardID, models.AuditPINFail, models.AuditResultDeny, client.Origin, now, meta))
		}

		if !utils.VerifyPIN(pin, card.PINHash) {
			attempts, locked := s.lockout.registerFailure(card, now)
			if err := tx.UpdateCardLockState(ctx, card); err != nil {
				return err
			}
			denied = reasonBadPIN
			meta := map[string]any{"reason": denied, "attempts": attempts, "locked": locked}
			if locked {
				meta["locked_until"] = card.LockedUntil.UTC().Format(time.RFC3339)
				customer, err := tx.GetCustomer(ctx, card.CustomerID)
				if err != nil {
					return err
				}
				notice = &lockNotice{
					email: customer.Email,
					name:  customer.FullName,
					label: utils.CardLabel(card.Network, card.Last4),
					until: *card.LockedUntil,
				}
			}
			return s.record(ctx, tx, auditEntry(&cardID, models.AuditPINFail, models.AuditResultDeny, client.Origin, now, meta))
		}

		s.lockout.registerSuccess(card)
		if err := tx.UpdateCardLockState(ctx, card); err != nil {
			return err
		}
		raw, session, err := s.issueSession(ctx, tx, card, client, now)
		if err != nil {
			return err
		}
		customer, err := tx.GetCustomer(ctx, card.CustomerID)
		if err != nil {
			return err
		}
		if err := s.record(ctx, tx, auditEntry(&cardID, models.AuditPINOK, models.AuditResultOK, client.Origin, now, nil)); err != nil {
			return err
		}
		result = &LoginResult{
			Token:        raw,
			Session:      session,
			CustomerName: customer.FullName,
			CardNetwork:  card.Network,
		}
		return nil
	})
	if err != nil {
		metrics.LoginAttempts.WithLabelValues(metrics.LoginError).Inc()
		log.WithError(err).Error("Login failed")
		return nil, storageErr("login", err)
	}

	if denied != "" {
		metrics.LoginAttempts.WithLabelValues(metrics.LoginDenied).Inc()
		log.WithFields(cardLog).WithField("reason", denied).Warn("PIN login refused")
		if notice != nil {
			metrics.CardLockouts.Inc()
			s.notifyLockout(notice)
		}
		return nil, models.ErrInvalidCredentials
	}

	metrics.LoginAttempts.WithLabelValues(metrics.LoginOK).Inc()
	log.WithFields(cardLog).Info("PIN login succeeded")
	return result, nil
}

func (s *Service) notifyLockout(n *lockNotice) {
	if s.notifier == nil || n.email == "" {
		return
	}
	go func() {
		if err := s.notifier.SendLockoutAlert(n.email, n.name, n.label, n.until); err != nil {
			s.log.WithError(err).Warn("Failed to send lockout alert")
		}
	}()
}
