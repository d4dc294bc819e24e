// internal/services/bulk_service.go
package services

import (
	"context"

	"go.uber.org/zap"

	"merithub/internal/models"
	"merithub/internal/ratelimit"
	"merithub/internal/validation"
)

// ===============================
// BULK SERVICE
// ===============================

type bulkService struct {
	badges   BadgeService
	governor *ratelimit.Governor
	maxItems int
	logger   *zap.Logger
}

// NewBulkService creates the bulk orchestrator
func NewBulkService(badges BadgeService, governor *ratelimit.Governor, maxItems int, logger *zap.Logger) BulkService {
	return &bulkService{
		badges:   badges,
		governor: governor,
		maxItems: maxItems,
		logger:   logger,
	}
}

// Run processes the batch sequentially. Per-item failures are recorded
// and processing continues; only batch-level problems (invalid action,
// over-limit size, bulk rate limit) fail the whole call. Items are
// processed in order so duplicate awards within one batch resolve
// deterministically: first wins, second reports the duplicate.
func (s *bulkService) Run(ctx context.Context, req *BulkRequest, actor *models.ActorContext) (*models.BulkOperationResult, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}
	if !req.Action.Valid() {
		return nil, NewValidationError("action must be AWARD or REVOKE", nil)
	}
	if len(req.Items) > s.maxItems {
		return nil, NewBulkLimitExceededError(len(req.Items), s.maxItems)
	}

	// One bulk admission per call, bucketed by batch size. Each
	// non-preview item still consumes its own award/revoke admission
	// inside the engine.
	bucket := s.governor.BulkSizeBucket(len(req.Items))
	if decision := s.governor.Admit(ctx, actor, ratelimit.OpBulk, bucket); !decision.Allowed {
		return nil, NewRateLimitedError(string(ratelimit.OpBulk), decision.RetryAfter)
	}

	result := &models.BulkOperationResult{
		Requested: len(req.Items),
		Preview:   req.Preview,
	}

	for i, item := range req.Items {
		if err := s.runItem(ctx, req.Action, item, req.Preview, actor); err != nil {
			svcErr := GetServiceError(err)
			result.Failed++
			result.Failures = append(result.Failures, models.BulkItemFailure{
				Index:   i,
				Kind:    svcErr.Type,
				Message: svcErr.Message,
			})
			continue
		}
		result.Succeeded++
	}

	s.logger.Info("Bulk run completed",
		zap.String("action", string(req.Action)),
		zap.Bool("preview", req.Preview),
		zap.Int("requested", result.Requested),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int64("actor_id", actor.ActorID),
	)
	return result, nil
}

func (s *bulkService) runItem(ctx context.Context, action models.BulkAction, item BulkItem, preview bool, actor *models.ActorContext) error {
	switch action {
	case models.BulkActionAward:
		req := &AwardBadgeRequest{
			BadgeDefinitionID: item.BadgeDefinitionID,
			SubjectID:         item.SubjectID,
			Reason:            item.Reason,
			ProjectID:         item.ProjectID,
			EventID:           item.EventID,
		}
		if preview {
			return s.badges.ValidateAward(ctx, req, actor)
		}
		_, err := s.badges.Award(ctx, req, actor)
		return err
	case models.BulkActionRevoke:
		req := &RevokeBadgeRequest{
			AwardID: item.AwardID,
			Reason:  item.Reason,
		}
		if preview {
			return s.badges.ValidateRevoke(ctx, req, actor)
		}
		_, err := s.badges.Revoke(ctx, req, actor)
		return err
	}
	return NewValidationError("action must be AWARD or REVOKE", nil)
}
