package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/repository"
	"github.com/Dan9191/atm-service/internal/utils"
)

// issueSession creates a session for card inside the login unit of work.
// The raw token is returned once and never stored.
func (s *Service) issueSession(ctx context.Context, tx repository.Tx, card *models.Card, client ClientInfo, now time.Time) (string, *models.Session, error) {
	raw, err := utils.NewSessionToken()
	if err != nil {
		return "", nil, err
	}
	session := &models.Session{
		CardID:         card.ID,
		TokenHash:      utils.HashToken(raw),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.sessionTTL),
		Origin:         client.Origin,
		UserAgentHash:  utils.HashUserAgent(client.UserAgent),
	}
	if err := tx.CreateSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}
	return raw, session, nil
}

// ResolveSession maps a presented bearer token to its live session.
func (s *Service) ResolveSession(ctx context.Context, rawToken string) (*models.Session, error) {
	if rawToken == "" {
		return nil, models.ErrUnauthenticated
	}
	now := s.now()

	var session *models.Session
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		found, err := tx.GetLiveSessionByTokenHash(ctx, utils.HashToken(rawToken))
		if err != nil {
			return err
		}
		session = found
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, models.ErrUnauthenticated
	}
	if err != nil {
		return nil, storageErr("resolve session", err)
	}
	if session.Expired(now) {
		return nil, models.ErrSessionExpired
	}

	if err := s.store.TouchSession(ctx, session.ID, now); err != nil {
		s.log.WithError(err).WithField("session_id", session.ID).Warn("Failed to record session activity")
	} else {
		session.LastActivityAt = now
	}
	return session, nil
}

// Logout revokes the session. Revoking an already revoked session changes nothing.
func (s *Service) Logout(ctx context.Context, session *models.Session, origin string) error {
	now := s.now()
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		changed, err := tx.RevokeSession(ctx, session.ID, now)
		if err != nil || !changed {
			return err
		}
		cardID := session.CardID
		return s.record(ctx, tx, auditEntry(&cardID, models.AuditLogout, models.AuditResultOK, origin, now, nil))
	})
	if err != nil {
		return storageErr("logout", err)
	}
	s.log.WithField("card_id", session.CardID).Info("Session revoked")
	return nil
}

// PurgeSessions deletes sessions that expired or were revoked more than retention ago.
func (s *Service) PurgeSessions(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.store.PurgeSessions(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, storageErr("purge sessions", err)
	}
	if n > 0 {
		s.log.WithField("count", n).Info("Purged stale sessions")
	}
	return n, nil
}
