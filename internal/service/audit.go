package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/repository"
)

// record appends an audit entry inside the caller's unit of work.
func (s *Service) record(ctx context.Context, tx repository.Tx, entry *models.AuditLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if err := tx.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to record audit %s: %w", entry.Action, err)
	}
	return nil
}

func auditEntry(cardID *int64, action, result, origin string, at time.Time, meta map[string]any) *models.AuditLog {
	return &models.AuditLog{
		CardID:    cardID,
		Action:    action,
		Result:    result,
		Origin:    origin,
		Timestamp: at,
		Meta:      meta,
	}
}
