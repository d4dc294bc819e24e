// internal/services/interface.go
package services

import (
	"context"

	"merithub/internal/models"
	"merithub/internal/repositories"
)

// ===============================
// REQUEST TYPES
// ===============================

// CreateDefinitionRequest creates a new badge definition. Global
// definitions (no owning institution) may only be created by super
// admins; everyone else creates within their own institution.
type CreateDefinitionRequest struct {
	Name        string        `json:"name" validate:"required,min=2,max=100"`
	Description string        `json:"description" validate:"required,max=1000"`
	Icon        string        `json:"icon" validate:"max=100"`
	Color       string        `json:"color" validate:"max=20"`
	Category    string        `json:"category" validate:"required,max=50"`
	Rarity      models.Rarity `json:"rarity" validate:"required"`
	Points      int           `json:"points" validate:"gte=0,lte=10000"`
	Global      bool          `json:"global"`
}

// UpdateDefinitionRequest updates mutable fields of a definition
type UpdateDefinitionRequest struct {
	Name        string        `json:"name" validate:"required,min=2,max=100"`
	Description string        `json:"description" validate:"required,max=1000"`
	Icon        string        `json:"icon" validate:"max=100"`
	Color       string        `json:"color" validate:"max=20"`
	Category    string        `json:"category" validate:"required,max=50"`
	Rarity      models.Rarity `json:"rarity" validate:"required"`
	Points      int           `json:"points" validate:"gte=0,lte=10000"`
}

// AwardBadgeRequest awards one badge to one subject
type AwardBadgeRequest struct {
	BadgeDefinitionID int64   `json:"badge_definition_id" validate:"required,gt=0"`
	SubjectID         int64   `json:"subject_id" validate:"required,gt=0"`
	Reason            string  `json:"reason" validate:"required,min=3,max=500"`
	ProjectID         *int64  `json:"project_id,omitempty"`
	EventID           *int64  `json:"event_id,omitempty"`
	AwardedByName     *string `json:"awarded_by_name,omitempty"`
}

// RevokeBadgeRequest revokes one existing award
type RevokeBadgeRequest struct {
	AwardID int64  `json:"award_id" validate:"required,gt=0"`
	Reason  string `json:"reason" validate:"required,min=3,max=500"`
}

// BulkItem is one unit of a bulk run. Award actions read
// BadgeDefinitionID/SubjectID; revoke actions read AwardID.
type BulkItem struct {
	BadgeDefinitionID int64   `json:"badge_definition_id,omitempty"`
	SubjectID         int64   `json:"subject_id,omitempty"`
	AwardID           int64   `json:"award_id,omitempty"`
	Reason            string  `json:"reason"`
	ProjectID         *int64  `json:"project_id,omitempty"`
	EventID           *int64  `json:"event_id,omitempty"`
}

// BulkRequest runs one action over many items, optionally in preview
// mode where nothing is persisted.
type BulkRequest struct {
	Action  models.BulkAction `json:"action" validate:"required"`
	Items   []BulkItem        `json:"items" validate:"required,min=1"`
	Preview bool              `json:"preview"`
}

// ===============================
// SERVICE INTERFACES
// ===============================

// BadgeService is the badge governance engine: definition lifecycle,
// award/revoke transactions, and scoped reads.
type BadgeService interface {
	CreateDefinition(ctx context.Context, req *CreateDefinitionRequest, actor *models.ActorContext) (*models.BadgeDefinition, error)
	GetDefinition(ctx context.Context, id int64, actor *models.ActorContext) (*models.BadgeDefinition, error)
	ListDefinitions(ctx context.Context, filter repositories.DefinitionFilter, actor *models.ActorContext) ([]*models.BadgeDefinition, int, error)
	UpdateDefinition(ctx context.Context, id int64, req *UpdateDefinitionRequest, actor *models.ActorContext) (*models.BadgeDefinition, error)
	SetDefinitionActive(ctx context.Context, id int64, active bool, actor *models.ActorContext) error

	Award(ctx context.Context, req *AwardBadgeRequest, actor *models.ActorContext) (*models.BadgeAward, error)
	Revoke(ctx context.Context, req *RevokeBadgeRequest, actor *models.ActorContext) (*models.RevocationResult, error)

	// ValidateAward and ValidateRevoke run every gate of the
	// corresponding mutation without touching storage. Bulk preview is
	// built on them.
	ValidateAward(ctx context.Context, req *AwardBadgeRequest, actor *models.ActorContext) error
	ValidateRevoke(ctx context.Context, req *RevokeBadgeRequest, actor *models.ActorContext) error

	ListAwards(ctx context.Context, subjectID *int64, pagination models.PaginationParams, actor *models.ActorContext) ([]*models.BadgeAward, int, error)
	Leaderboard(ctx context.Context, actor *models.ActorContext) ([]*models.LeaderboardEntry, error)
}

// BulkService orchestrates bulk award/revoke runs
type BulkService interface {
	Run(ctx context.Context, req *BulkRequest, actor *models.ActorContext) (*models.BulkOperationResult, error)
}
