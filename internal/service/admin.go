package service

import (
	"context"
	"errors"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/repository"
	"github.com/sirupsen/logrus"
)

const maxAuditLimit = 500

// BlockCard blocks a card administratively and revokes its live sessions.
func (s *Service) BlockCard(ctx context.Context, cardID int64, actor, origin string) error {
	return s.setBlocked(ctx, cardID, true, actor, origin)
}

// UnblockCard lifts an administrative block. The failure counter and any lock are left as is.
func (s *Service) UnblockCard(ctx context.Context, cardID int64, actor, origin string) error {
	return s.setBlocked(ctx, cardID, false, actor, origin)
}

func (s *Service) setBlocked(ctx context.Context, cardID int64, blocked bool, actor, origin string) error {
	now := s.now()
	action := models.AuditCardUnblock
	if blocked {
		action = models.AuditCardBlock
	}

	var revoked int64
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetCard(ctx, cardID); err != nil {
			return err
		}
		if err := tx.SetCardBlocked(ctx, cardID, blocked, now); err != nil {
			return err
		}
		meta := map[string]any{"actor": actor}
		if blocked {
			n, err := tx.RevokeCardSessions(ctx, cardID, now)
			if err != nil {
				return err
			}
			revoked = n
			meta["sessions_revoked"] = n
		}
		return s.record(ctx, tx, auditEntry(&cardID, action, models.AuditResultOK, origin, now, meta))
	})
	if errors.Is(err, repository.ErrNotFound) {
		return models.ErrCardNotFound
	}
	if err != nil {
		return storageErr(action, err)
	}
	s.log.WithFields(logrus.Fields{"card_id": cardID, "actor": actor, "sessions_revoked": revoked}).Info("Card block state changed")
	return nil
}

// ListAudit returns the newest audit entries, optionally for one card.
func (s *Service) ListAudit(ctx context.Context, cardID *int64, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	var out []*models.AuditLog
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListAuditLogs(ctx, cardID, limit)
		return err
	})
	if err != nil {
		return nil, storageErr("list audit", err)
	}
	if out == nil {
		out = []*models.AuditLog{}
	}
	return out, nil
}
