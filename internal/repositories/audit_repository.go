// internal/repositories/audit_repository.go
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"merithub/internal/models"
)

// ===============================
// AUDIT REPOSITORY
// ===============================

// queryer is satisfied by both *sql.DB and *sql.Tx so audit rows can be
// written standalone or inside an award transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// AuditRepository is the write-only audit sink for privileged actions
type AuditRepository interface {
	// Record writes an audit entry outside any transaction. Failures
	// are logged, never propagated: auditing a denial must not turn the
	// denial into a server error.
	Record(ctx context.Context, entry *models.AuditEntry)

	// RecordTx writes an audit entry inside the caller's transaction,
	// so the entry commits atomically with the mutation it describes.
	RecordTx(ctx context.Context, tx *sql.Tx, entry *models.AuditEntry) error
}

type auditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates an audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) AuditRepository {
	return &auditRepository{db: db, logger: logger}
}

func (r *auditRepository) Record(ctx context.Context, entry *models.AuditEntry) {
	if err := r.insert(ctx, r.db, entry); err != nil {
		r.logger.Error("Failed to record audit entry",
			zap.Int64("actor_id", entry.ActorID),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func (r *auditRepository) RecordTx(ctx context.Context, tx *sql.Tx, entry *models.AuditEntry) error {
	return r.insert(ctx, tx, entry)
}

func (r *auditRepository) insert(ctx context.Context, q queryer, entry *models.AuditEntry) error {
	if entry.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("failed to generate audit id: %w", err)
		}
		entry.ID = id.String()
	}

	query := `
		INSERT INTO audit_log (id, actor_id, action, target_type, target_id, details, success, error_message, remote_addr, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`

	_, err := q.ExecContext(ctx, query,
		entry.ID, entry.ActorID, entry.Action, entry.TargetType, entry.TargetID,
		entry.Details, entry.Success, entry.ErrorMessage, entry.RemoteAddr,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}
