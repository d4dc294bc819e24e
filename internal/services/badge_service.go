// internal/services/badge_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"merithub/internal/authz"
	"merithub/internal/events"
	"merithub/internal/identity"
	"merithub/internal/models"
	"merithub/internal/ratelimit"
	"merithub/internal/repositories"
	"merithub/internal/validation"
)

// ===============================
// BADGE SERVICE
// ===============================

type badgeService struct {
	definitions repositories.DefinitionRepository
	awards      repositories.AwardRepository
	audit       repositories.AuditRepository
	identity    identity.Client
	governor    *ratelimit.Governor
	bus         *events.Bus
	logger      *zap.Logger
}

// NewBadgeService creates the badge governance service
func NewBadgeService(
	definitions repositories.DefinitionRepository,
	awards repositories.AwardRepository,
	audit repositories.AuditRepository,
	identityClient identity.Client,
	governor *ratelimit.Governor,
	bus *events.Bus,
	logger *zap.Logger,
) BadgeService {
	return &badgeService{
		definitions: definitions,
		awards:      awards,
		audit:       audit,
		identity:    identityClient,
		governor:    governor,
		bus:         bus,
		logger:      logger,
	}
}

// ===============================
// DEFINITION LIFECYCLE
// ===============================

func (s *badgeService) CreateDefinition(ctx context.Context, req *CreateDefinitionRequest, actor *models.ActorContext) (*models.BadgeDefinition, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}
	if !req.Rarity.Valid() {
		return nil, NewValidationError(fmt.Sprintf("unknown rarity '%s'", req.Rarity), nil)
	}
	if !authz.CanManageDefinitions(actor) {
		return nil, NewAuthorizationDeniedError("only institution heads may manage badge definitions")
	}
	if req.Global && !actor.HasRole(models.RoleSuperAdmin) {
		return nil, NewAuthorizationDeniedError("only super admins may create global badge definitions")
	}

	if decision := s.governor.Admit(ctx, actor, ratelimit.OpCreateDefinition, ""); !decision.Allowed {
		return nil, NewRateLimitedError(string(ratelimit.OpCreateDefinition), decision.RetryAfter)
	}

	def := &models.BadgeDefinition{
		Name:        req.Name,
		Description: req.Description,
		Icon:        req.Icon,
		Color:       req.Color,
		Category:    req.Category,
		Rarity:      req.Rarity,
		Points:      req.Points,
		IsActive:    true,
		CreatedBy:   actor.ActorID,
	}
	if !req.Global {
		institutionID := actor.InstitutionID
		def.InstitutionID = &institutionID
	}

	if err := s.definitions.Create(ctx, def); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			return nil, NewConflictError(
				fmt.Sprintf("a badge definition named '%s' already exists in this scope", req.Name),
				"DUPLICATE_DEFINITION_NAME",
			)
		}
		return nil, NewTransactionFailureError("failed to create badge definition", err)
	}

	s.audit.Record(ctx, &models.AuditEntry{
		ActorID:    actor.ActorID,
		Action:     "badge_definition.create",
		TargetType: "badge_definition",
		TargetID:   &def.ID,
		Details:    fmt.Sprintf("name=%s category=%s rarity=%s", def.Name, def.Category, def.Rarity),
		Success:    true,
		RemoteAddr: actor.RemoteAddr,
	})

	s.logger.Info("Badge definition created",
		zap.Int64("definition_id", def.ID),
		zap.String("name", def.Name),
		zap.Int64("actor_id", actor.ActorID),
	)
	return def, nil
}

func (s *badgeService) GetDefinition(ctx context.Context, id int64, actor *models.ActorContext) (*models.BadgeDefinition, error) {
	def, err := s.definitions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, NewNotFoundError("badge definition not found")
		}
		return nil, NewTransactionFailureError("failed to load badge definition", err)
	}
	// Cross-institution definitions are indistinguishable from absent
	// ones so existence does not leak.
	if actor != nil && !actor.HasRole(models.RoleSuperAdmin) && !def.UsableBy(actor.InstitutionID) {
		return nil, NewNotFoundError("badge definition not found")
	}
	return def, nil
}

func (s *badgeService) ListDefinitions(ctx context.Context, filter repositories.DefinitionFilter, actor *models.ActorContext) ([]*models.BadgeDefinition, int, error) {
	if decision := s.governor.Admit(ctx, actor, ratelimit.OpRead, ""); !decision.Allowed {
		return nil, 0, NewRateLimitedError(string(ratelimit.OpRead), decision.RetryAfter)
	}
	if actor == nil {
		return nil, 0, NewAuthorizationDeniedError("authentication required")
	}
	if !actor.HasRole(models.RoleSuperAdmin) {
		institutionID := actor.InstitutionID
		filter.InstitutionID = &institutionID
	}

	defs, total, err := s.definitions.List(ctx, filter)
	if err != nil {
		return nil, 0, NewTransactionFailureError("failed to list badge definitions", err)
	}
	return defs, total, nil
}

func (s *badgeService) UpdateDefinition(ctx context.Context, id int64, req *UpdateDefinitionRequest, actor *models.ActorContext) (*models.BadgeDefinition, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}
	if !req.Rarity.Valid() {
		return nil, NewValidationError(fmt.Sprintf("unknown rarity '%s'", req.Rarity), nil)
	}
	if !authz.CanManageDefinitions(actor) {
		return nil, NewAuthorizationDeniedError("only institution heads may manage badge definitions")
	}

	def, err := s.GetDefinition(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := guardDefinitionOwnership(def, actor); err != nil {
		return nil, err
	}

	def.Name = req.Name
	def.Description = req.Description
	def.Icon = req.Icon
	def.Color = req.Color
	def.Category = req.Category
	def.Rarity = req.Rarity
	def.Points = req.Points

	if err := s.definitions.Update(ctx, def); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			return nil, NewConflictError(
				fmt.Sprintf("a badge definition named '%s' already exists in this scope", req.Name),
				"DUPLICATE_DEFINITION_NAME",
			)
		}
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, NewNotFoundError("badge definition not found")
		}
		return nil, NewTransactionFailureError("failed to update badge definition", err)
	}

	s.audit.Record(ctx, &models.AuditEntry{
		ActorID:    actor.ActorID,
		Action:     "badge_definition.update",
		TargetType: "badge_definition",
		TargetID:   &def.ID,
		Success:    true,
		RemoteAddr: actor.RemoteAddr,
	})
	return def, nil
}

// guardDefinitionOwnership enforces the mutation rule shared by update
// and activation: a non-super actor may only mutate definitions their
// own institution owns. Global definitions, though usable everywhere,
// are mutable only by super admins.
func guardDefinitionOwnership(def *models.BadgeDefinition, actor *models.ActorContext) error {
	if actor.HasRole(models.RoleSuperAdmin) {
		return nil
	}
	if def.IsGlobal() || *def.InstitutionID != actor.InstitutionID {
		return NewAuthorizationDeniedError("cannot modify a badge definition outside your institution")
	}
	return nil
}

func (s *badgeService) SetDefinitionActive(ctx context.Context, id int64, active bool, actor *models.ActorContext) error {
	if !authz.CanManageDefinitions(actor) {
		return NewAuthorizationDeniedError("only institution heads may manage badge definitions")
	}
	def, err := s.GetDefinition(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := guardDefinitionOwnership(def, actor); err != nil {
		return err
	}

	if err := s.definitions.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return NewNotFoundError("badge definition not found")
		}
		return NewTransactionFailureError("failed to update badge definition state", err)
	}

	action := "badge_definition.deactivate"
	if active {
		action = "badge_definition.activate"
	}
	s.audit.Record(ctx, &models.AuditEntry{
		ActorID:    actor.ActorID,
		Action:     action,
		TargetType: "badge_definition",
		TargetID:   &id,
		Success:    true,
		RemoteAddr: actor.RemoteAddr,
	})
	return nil
}

// ===============================
// AWARD
// ===============================

// resolveSubject runs the eligibility gates shared by Award and
// ValidateAward: the subject must exist, be a student, sit in the
// actor's reachable scope. Absent, non-student, and cross-institution
// subjects all collapse to not-found so existence never leaks across
// institutions.
func (s *badgeService) resolveSubject(ctx context.Context, subjectID int64, actor *models.ActorContext) (*models.SubjectRecord, error) {
	subject := s.identity.Lookup(ctx, subjectID)
	if subject == nil || !subject.IsStudent() {
		return nil, NewNotFoundError("subject not found")
	}
	if !actor.HasRole(models.RoleSuperAdmin) && subject.InstitutionID != actor.InstitutionID {
		return nil, NewNotFoundError("subject not found")
	}
	if !authz.CanManage(actor, subject.InstitutionID, subject.Department) {
		return nil, NewAuthorizationDeniedError("you are not authorized to manage this subject")
	}
	return subject, nil
}

func (s *badgeService) Award(ctx context.Context, req *AwardBadgeRequest, actor *models.ActorContext) (*models.BadgeAward, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}
	if !authz.CanAward(actor) {
		return nil, NewAuthorizationDeniedError("you are not authorized to award badges")
	}

	subject, err := s.resolveSubject(ctx, req.SubjectID, actor)
	if err != nil {
		s.auditFailure(ctx, actor, "badge.award", "badge_award", nil, err)
		return nil, err
	}

	if decision := s.governor.Admit(ctx, actor, ratelimit.OpAward, ""); !decision.Allowed {
		return nil, NewRateLimitedError(string(ratelimit.OpAward), decision.RetryAfter)
	}

	award := &models.BadgeAward{
		SubjectID:            req.SubjectID,
		DefinitionID:         req.BadgeDefinitionID,
		SubjectInstitutionID: subject.InstitutionID,
		SubjectDepartment:    subject.Department,
		AwardedBy:            actor.ActorID,
		AwardedByName:        req.AwardedByName,
		Reason:               req.Reason,
		ProjectID:            req.ProjectID,
		EventID:              req.EventID,
	}

	var definition *models.BadgeDefinition
	txErr := s.awards.InTx(ctx, func(tx repositories.AwardTx) error {
		def, err := tx.GetDefinitionForUpdate(ctx, req.BadgeDefinitionID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return NewNotFoundError("badge definition not found")
			}
			return NewTransactionFailureError("failed to load badge definition", err)
		}
		if !def.UsableBy(subject.InstitutionID) {
			return NewNotFoundError("badge definition not found")
		}
		if !def.IsActive {
			return NewBadgeInactiveError(def.ID)
		}

		// Fast path only; the uniqueness constraint is the authority.
		exists, err := tx.AwardExists(ctx, req.SubjectID, req.BadgeDefinitionID)
		if err != nil {
			return NewTransactionFailureError("failed to check existing award", err)
		}
		if exists {
			return NewDuplicateAwardError(req.SubjectID, req.BadgeDefinitionID)
		}

		if err := tx.InsertAward(ctx, award); err != nil {
			if errors.Is(err, repositories.ErrDuplicateAward) {
				return NewDuplicateAwardError(req.SubjectID, req.BadgeDefinitionID)
			}
			return NewTransactionFailureError("failed to insert award", err)
		}

		definition = def
		return tx.RecordAudit(ctx, &models.AuditEntry{
			ActorID:    actor.ActorID,
			Action:     "badge.award",
			TargetType: "badge_award",
			TargetID:   &award.ID,
			Details:    fmt.Sprintf("subject=%d definition=%d reason=%s", req.SubjectID, req.BadgeDefinitionID, req.Reason),
			Success:    true,
			RemoteAddr: actor.RemoteAddr,
		})
	})
	if txErr != nil {
		s.auditFailure(ctx, actor, "badge.award", "badge_award", nil, txErr)
		var svcErr *ServiceError
		if errors.As(txErr, &svcErr) {
			return nil, txErr
		}
		return nil, NewTransactionFailureError("award transaction failed", txErr)
	}

	award.Definition = definition
	s.logger.Info("Badge awarded",
		zap.Int64("award_id", award.ID),
		zap.Int64("subject_id", award.SubjectID),
		zap.Int64("definition_id", award.DefinitionID),
		zap.Int64("actor_id", actor.ActorID),
	)

	// Post-commit, fire and forget.
	s.bus.Publish(ctx, events.EventBadgeAwarded, &events.BadgeAwardedEvent{
		Award:      award,
		Definition: definition,
		ActorID:    actor.ActorID,
		OccurredAt: time.Now(),
	})
	return award, nil
}

func (s *badgeService) ValidateAward(ctx context.Context, req *AwardBadgeRequest, actor *models.ActorContext) error {
	if err := validation.ValidateStruct(req); err != nil {
		return NewValidationError(err.Error(), err)
	}
	if !authz.CanAward(actor) {
		return NewAuthorizationDeniedError("you are not authorized to award badges")
	}

	subject, err := s.resolveSubject(ctx, req.SubjectID, actor)
	if err != nil {
		return err
	}

	def, err := s.definitions.GetByID(ctx, req.BadgeDefinitionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return NewNotFoundError("badge definition not found")
		}
		return NewTransactionFailureError("failed to load badge definition", err)
	}
	if !def.UsableBy(subject.InstitutionID) {
		return NewNotFoundError("badge definition not found")
	}
	if !def.IsActive {
		return NewBadgeInactiveError(def.ID)
	}

	exists, err := s.awards.Exists(ctx, req.SubjectID, req.BadgeDefinitionID)
	if err != nil {
		return NewTransactionFailureError("failed to check existing award", err)
	}
	if exists {
		return NewDuplicateAwardError(req.SubjectID, req.BadgeDefinitionID)
	}
	return nil
}

// ===============================
// REVOKE
// ===============================

// loadRevocable runs the shared revoke gates: the award must exist and
// sit within the actor's institution (cross-institution awards look
// absent), and the actor must hold revoke authority.
func (s *badgeService) loadRevocable(ctx context.Context, awardID int64, actor *models.ActorContext) (*models.BadgeAward, error) {
	award, err := s.awards.GetByID(ctx, awardID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, NewNotFoundError("award not found")
		}
		return nil, NewTransactionFailureError("failed to load award", err)
	}
	if !actor.HasRole(models.RoleSuperAdmin) && award.SubjectInstitutionID != actor.InstitutionID {
		return nil, NewNotFoundError("award not found")
	}
	if !authz.CanRevoke(actor) {
		return nil, NewAuthorizationDeniedError("only institution heads may revoke badges")
	}
	return award, nil
}

func (s *badgeService) Revoke(ctx context.Context, req *RevokeBadgeRequest, actor *models.ActorContext) (*models.RevocationResult, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	award, err := s.loadRevocable(ctx, req.AwardID, actor)
	if err != nil {
		s.auditFailure(ctx, actor, "badge.revoke", "badge_award", &req.AwardID, err)
		return nil, err
	}

	if decision := s.governor.Admit(ctx, actor, ratelimit.OpRevoke, ""); !decision.Allowed {
		return nil, NewRateLimitedError(string(ratelimit.OpRevoke), decision.RetryAfter)
	}

	result := &models.RevocationResult{
		AwardID:        award.ID,
		SubjectID:      award.SubjectID,
		DefinitionID:   award.DefinitionID,
		DefinitionName: award.Definition.Name,
		Reason:         req.Reason,
	}

	txErr := s.awards.InTx(ctx, func(tx repositories.AwardTx) error {
		if err := tx.DeleteAward(ctx, award.ID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				// Concurrently revoked between load and delete.
				return NewNotFoundError("award not found")
			}
			return NewTransactionFailureError("failed to delete award", err)
		}
		return tx.RecordAudit(ctx, &models.AuditEntry{
			ActorID:    actor.ActorID,
			Action:     "badge.revoke",
			TargetType: "badge_award",
			TargetID:   &award.ID,
			Details:    fmt.Sprintf("subject=%d definition=%d reason=%s", award.SubjectID, award.DefinitionID, req.Reason),
			Success:    true,
			RemoteAddr: actor.RemoteAddr,
		})
	})
	if txErr != nil {
		s.auditFailure(ctx, actor, "badge.revoke", "badge_award", &req.AwardID, txErr)
		var svcErr *ServiceError
		if errors.As(txErr, &svcErr) {
			return nil, txErr
		}
		return nil, NewTransactionFailureError("revoke transaction failed", txErr)
	}

	s.logger.Info("Badge revoked",
		zap.Int64("award_id", award.ID),
		zap.Int64("subject_id", award.SubjectID),
		zap.Int64("actor_id", actor.ActorID),
	)

	s.bus.Publish(ctx, events.EventBadgeRevoked, &events.BadgeRevokedEvent{
		Result:     result,
		ActorID:    actor.ActorID,
		OccurredAt: time.Now(),
	})
	return result, nil
}

func (s *badgeService) ValidateRevoke(ctx context.Context, req *RevokeBadgeRequest, actor *models.ActorContext) error {
	if err := validation.ValidateStruct(req); err != nil {
		return NewValidationError(err.Error(), err)
	}
	_, err := s.loadRevocable(ctx, req.AwardID, actor)
	return err
}

// ===============================
// SCOPED READS
// ===============================

func (s *badgeService) ListAwards(ctx context.Context, subjectID *int64, pagination models.PaginationParams, actor *models.ActorContext) ([]*models.BadgeAward, int, error) {
	if decision := s.governor.Admit(ctx, actor, ratelimit.OpRead, ""); !decision.Allowed {
		return nil, 0, NewRateLimitedError(string(ratelimit.OpRead), decision.RetryAfter)
	}

	if actor == nil {
		return nil, 0, NewAuthorizationDeniedError("authentication required")
	}

	filter := repositories.AwardFilter{
		SubjectID:  subjectID,
		Pagination: pagination,
	}
	scope := authz.DataScope{Kind: authz.ScopeInstitution}
	if !actor.HasRole(models.RoleSuperAdmin) {
		scope = authz.ResolveDataScope(actor)
		switch scope.Kind {
		case authz.ScopeNone:
			return nil, 0, NewAuthorizationDeniedError("you are not authorized to list awards")
		case authz.ScopeDepartment:
			filter.Department = scope.Department
		}
		institutionID := actor.InstitutionID
		filter.InstitutionID = &institutionID
	}

	awards, total, err := s.awards.List(ctx, filter)
	if err != nil {
		return nil, 0, NewTransactionFailureError("failed to list awards", err)
	}
	if scope.Kind == authz.ScopePlacementSubset {
		awards, total = s.filterPlacementEligible(ctx, awards, total)
	}
	return awards, total, nil
}

// filterPlacementEligible narrows an institution-wide listing to subjects
// the identity subsystem tags as placement-eligible. Eligibility lives in
// the identity subsystem, not our storage, so the cut happens after the
// query; subjects the identity client cannot resolve are treated as
// ineligible.
func (s *badgeService) filterPlacementEligible(ctx context.Context, awards []*models.BadgeAward, total int) ([]*models.BadgeAward, int) {
	if len(awards) == 0 {
		return awards, total
	}
	seen := make(map[int64]struct{}, len(awards))
	ids := make([]int64, 0, len(awards))
	for _, a := range awards {
		if _, ok := seen[a.SubjectID]; ok {
			continue
		}
		seen[a.SubjectID] = struct{}{}
		ids = append(ids, a.SubjectID)
	}

	records := s.identity.LookupBatch(ctx, ids)
	filtered := awards[:0]
	for _, a := range awards {
		record, ok := records[a.SubjectID]
		if !ok || !record.PlacementEligible {
			total--
			continue
		}
		filtered = append(filtered, a)
	}
	if total < len(filtered) {
		total = len(filtered)
	}
	return filtered, total
}

func (s *badgeService) Leaderboard(ctx context.Context, actor *models.ActorContext) ([]*models.LeaderboardEntry, error) {
	if decision := s.governor.Admit(ctx, actor, ratelimit.OpLeaderboard, ""); !decision.Allowed {
		return nil, NewRateLimitedError(string(ratelimit.OpLeaderboard), decision.RetryAfter)
	}
	if actor == nil {
		return nil, NewAuthorizationDeniedError("authentication required")
	}

	var department *string
	if !actor.HasRole(models.RoleSuperAdmin) {
		scope := authz.ResolveDataScope(actor)
		if scope.Kind == authz.ScopeDepartment {
			department = scope.Department
		}
	}

	entries, err := s.awards.Leaderboard(ctx, actor.InstitutionID, department, 100)
	if err != nil {
		return nil, NewTransactionFailureError("failed to build leaderboard", err)
	}
	return entries, nil
}

// ===============================
// AUDIT HELPERS
// ===============================

// auditFailure records a denied or failed privileged action. Rate-limit
// rejections are not audited: they are throttling, not denials.
func (s *badgeService) auditFailure(ctx context.Context, actor *models.ActorContext, action, targetType string, targetID *int64, cause error) {
	if IsRateLimited(cause) {
		return
	}
	msg := cause.Error()
	s.audit.Record(ctx, &models.AuditEntry{
		ActorID:      actor.ActorID,
		Action:       action,
		TargetType:   targetType,
		TargetID:     targetID,
		Success:      false,
		ErrorMessage: &msg,
		RemoteAddr:   actor.RemoteAddr,
	})
}
