package models

import "time"

// Rarity is the ordered scarcity tier of a badge definition.
type Rarity string

const (
	RarityCommon    Rarity = "COMMON"
	RarityUncommon  Rarity = "UNCOMMON"
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
)

// rarityOrder maps tiers onto a comparable scale, COMMON lowest.
var rarityOrder = map[Rarity]int{
	RarityCommon:    0,
	RarityUncommon:  1,
	RarityRare:      2,
	RarityEpic:      3,
	RarityLegendary: 4,
}

// Valid reports whether r is a known rarity tier.
func (r Rarity) Valid() bool {
	_, ok := rarityOrder[r]
	return ok
}

// Less reports whether r is a lower tier than other.
func (r Rarity) Less(other Rarity) bool {
	return rarityOrder[r] < rarityOrder[other]
}

// BadgeDefinition is a reusable credential template owned by an
// institution, or global when InstitutionID is nil. Definitions are never
// physically deleted; deactivation flips IsActive so existing awards keep
// their referential history.
type BadgeDefinition struct {
	ID            int64      `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	Description   string     `json:"description" db:"description"`
	Icon          string     `json:"icon" db:"icon"`
	Color         string     `json:"color" db:"color"`
	Category      string     `json:"category" db:"category"`
	Rarity        Rarity     `json:"rarity" db:"rarity"`
	Points        int        `json:"points" db:"points"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	InstitutionID *int64     `json:"institution_id,omitempty" db:"institution_id"`
	CreatedBy     int64      `json:"created_by" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// IsGlobal reports whether the definition is usable by any institution.
func (d *BadgeDefinition) IsGlobal() bool {
	return d.InstitutionID == nil
}

// UsableBy reports whether the definition may be awarded within the given
// institution.
func (d *BadgeDefinition) UsableBy(institutionID int64) bool {
	return d.IsGlobal() || *d.InstitutionID == institutionID
}

// BadgeAward records that a subject holds a badge definition. At most one
// non-revoked award exists per (SubjectID, DefinitionID) pair; the
// database uniqueness constraint is the authority for that invariant.
// Revocation hard-deletes the row, so the subject's institution and
// department are captured here at award time for later authorization
// checks.
type BadgeAward struct {
	ID                   int64     `json:"id" db:"id"`
	SubjectID            int64     `json:"subject_id" db:"subject_id"`
	DefinitionID         int64     `json:"badge_definition_id" db:"badge_definition_id"`
	SubjectInstitutionID int64     `json:"subject_institution_id" db:"subject_institution_id"`
	SubjectDepartment    *string   `json:"subject_department,omitempty" db:"subject_department"`
	AwardedBy            int64     `json:"awarded_by" db:"awarded_by"`
	AwardedByName        *string   `json:"awarded_by_name,omitempty" db:"awarded_by_name"`
	Reason               string    `json:"reason" db:"reason"`
	ProjectID            *int64    `json:"project_id,omitempty" db:"project_id"`
	EventID              *int64    `json:"event_id,omitempty" db:"event_id"`
	AwardedAt            time.Time `json:"awarded_at" db:"awarded_at"`

	// Populated by joins for display, not persisted on the awards table.
	Definition *BadgeDefinition `json:"definition,omitempty" db:"-"`
}

// RevocationResult summarizes a completed revoke for caller display; the
// award row itself is gone by the time this is returned.
type RevocationResult struct {
	AwardID        int64  `json:"award_id"`
	SubjectID      int64  `json:"subject_id"`
	DefinitionID   int64  `json:"badge_definition_id"`
	DefinitionName string `json:"badge_name"`
	Reason         string `json:"reason"`
}

// LeaderboardEntry is one row of the points leaderboard.
type LeaderboardEntry struct {
	SubjectID   int64 `json:"subject_id" db:"subject_id"`
	BadgeCount  int   `json:"badge_count" db:"badge_count"`
	TotalPoints int   `json:"total_points" db:"total_points"`
}
