// internal/repositories/badge_repository.go
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"merithub/internal/models"
)

// ===============================
// SENTINEL ERRORS
// ===============================

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateAward is returned when the awards uniqueness
	// constraint on (subject_id, badge_definition_id) rejects an insert
	ErrDuplicateAward = errors.New("duplicate award")

	// ErrDuplicateName is returned when a definition name collides
	// within its institution scope
	ErrDuplicateName = errors.New("duplicate definition name")
)

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-constraint failure
// on the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return constraint == "" || strings.Contains(pqErr.Constraint, constraint)
	}
	return false
}

// ===============================
// DEFINITION REPOSITORY
// ===============================

// DefinitionFilter narrows definition listings
type DefinitionFilter struct {
	InstitutionID *int64 // institution-owned plus global definitions
	Category      string
	ActiveOnly    bool
	Pagination    models.PaginationParams
}

// DefinitionRepository persists badge definitions
type DefinitionRepository interface {
	Create(ctx context.Context, def *models.BadgeDefinition) error
	GetByID(ctx context.Context, id int64) (*models.BadgeDefinition, error)
	List(ctx context.Context, filter DefinitionFilter) ([]*models.BadgeDefinition, int, error)
	Update(ctx context.Context, def *models.BadgeDefinition) error
	SetActive(ctx context.Context, id int64, active bool) error
}

type definitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a definition repository
func NewDefinitionRepository(db *sql.DB, logger *zap.Logger) DefinitionRepository {
	return &definitionRepository{db: db, logger: logger}
}

const definitionColumns = `id, name, description, icon, color, category, rarity, points, is_active, institution_id, created_by, created_at, updated_at`

func scanDefinition(row interface{ Scan(...interface{}) error }) (*models.BadgeDefinition, error) {
	var def models.BadgeDefinition
	err := row.Scan(
		&def.ID, &def.Name, &def.Description, &def.Icon, &def.Color,
		&def.Category, &def.Rarity, &def.Points, &def.IsActive,
		&def.InstitutionID, &def.CreatedBy, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *definitionRepository) Create(ctx context.Context, def *models.BadgeDefinition) error {
	query := `
		INSERT INTO badge_definitions (name, description, icon, color, category, rarity, points, is_active, institution_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		def.Name, def.Description, def.Icon, def.Color, def.Category,
		def.Rarity, def.Points, def.IsActive, def.InstitutionID, def.CreatedBy,
	).Scan(&def.ID, &def.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "badge_definitions") {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create badge definition: %w", err)
	}
	return nil
}

func (r *definitionRepository) GetByID(ctx context.Context, id int64) (*models.BadgeDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM badge_definitions WHERE id = $1`

	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get badge definition: %w", err)
	}
	return def, nil
}

func (r *definitionRepository) List(ctx context.Context, filter DefinitionFilter) ([]*models.BadgeDefinition, int, error) {
	filter.Pagination.Normalize()

	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1

	if filter.InstitutionID != nil {
		conditions = append(conditions, fmt.Sprintf("(institution_id IS NULL OR institution_id = $%d)", argIdx))
		args = append(args, *filter.InstitutionID)
		argIdx++
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIdx))
		args = append(args, filter.Category)
		argIdx++
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}
	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM badge_definitions WHERE ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count badge definitions: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM badge_definitions WHERE %s ORDER BY category, name LIMIT $%d OFFSET $%d`,
		definitionColumns, where, argIdx, argIdx+1,
	)
	args = append(args, filter.Pagination.Limit, filter.Pagination.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list badge definitions: %w", err)
	}
	defer rows.Close()

	var defs []*models.BadgeDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan badge definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, total, rows.Err()
}

func (r *definitionRepository) Update(ctx context.Context, def *models.BadgeDefinition) error {
	query := `
		UPDATE badge_definitions
		SET name = $1, description = $2, icon = $3, color = $4, category = $5,
		    rarity = $6, points = $7, updated_at = NOW()
		WHERE id = $8`

	result, err := r.db.ExecContext(ctx, query,
		def.Name, def.Description, def.Icon, def.Color, def.Category,
		def.Rarity, def.Points, def.ID,
	)
	if err != nil {
		if isUniqueViolation(err, "badge_definitions") {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to update badge definition: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *definitionRepository) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE badge_definitions SET is_active = $1, updated_at = NOW() WHERE id = $2`,
		active, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update badge definition state: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ===============================
// AWARD REPOSITORY
// ===============================

// AwardTx is the transactional surface of an award mutation. All of its
// operations run inside the transaction opened by AwardRepository.InTx,
// so the duplicate check, insert, and audit record commit or roll back
// together.
type AwardTx interface {
	GetDefinitionForUpdate(ctx context.Context, id int64) (*models.BadgeDefinition, error)
	AwardExists(ctx context.Context, subjectID, definitionID int64) (bool, error)
	InsertAward(ctx context.Context, award *models.BadgeAward) error
	DeleteAward(ctx context.Context, awardID int64) error
	RecordAudit(ctx context.Context, entry *models.AuditEntry) error
}

// AwardFilter narrows award listings
type AwardFilter struct {
	SubjectID     *int64
	DefinitionID  *int64
	InstitutionID *int64
	Department    *string
	Pagination    models.PaginationParams
}

// AwardRepository persists badge awards
type AwardRepository interface {
	InTx(ctx context.Context, fn func(tx AwardTx) error) error
	GetByID(ctx context.Context, id int64) (*models.BadgeAward, error)
	Exists(ctx context.Context, subjectID, definitionID int64) (bool, error)
	List(ctx context.Context, filter AwardFilter) ([]*models.BadgeAward, int, error)
	Leaderboard(ctx context.Context, institutionID int64, department *string, limit int) ([]*models.LeaderboardEntry, error)
}

type awardRepository struct {
	db     *sql.DB
	audit  AuditRepository
	logger *zap.Logger
}

// NewAwardRepository creates an award repository. The audit repository
// is injected so audit rows share the award transaction.
func NewAwardRepository(db *sql.DB, audit AuditRepository, logger *zap.Logger) AwardRepository {
	return &awardRepository{db: db, audit: audit, logger: logger}
}

func (r *awardRepository) InTx(ctx context.Context, fn func(tx AwardTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&awardTx{tx: tx, audit: r.audit}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error("Failed to roll back award transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type awardTx struct {
	tx    *sql.Tx
	audit AuditRepository
}

func (t *awardTx) GetDefinitionForUpdate(ctx context.Context, id int64) (*models.BadgeDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM badge_definitions WHERE id = $1 FOR UPDATE`

	def, err := scanDefinition(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock badge definition: %w", err)
	}
	return def, nil
}

func (t *awardTx) AwardExists(ctx context.Context, subjectID, definitionID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM badge_awards WHERE subject_id = $1 AND badge_definition_id = $2)`,
		subjectID, definitionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check award existence: %w", err)
	}
	return exists, nil
}

func (t *awardTx) InsertAward(ctx context.Context, award *models.BadgeAward) error {
	query := `
		INSERT INTO badge_awards (subject_id, badge_definition_id, subject_institution_id, subject_department,
		                          awarded_by, awarded_by_name, reason, project_id, event_id, awarded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id, awarded_at`

	err := t.tx.QueryRowContext(ctx, query,
		award.SubjectID, award.DefinitionID, award.SubjectInstitutionID, award.SubjectDepartment,
		award.AwardedBy, award.AwardedByName, award.Reason, award.ProjectID, award.EventID,
	).Scan(&award.ID, &award.AwardedAt)
	if err != nil {
		// The constraint is the authority for at-most-one-award; the
		// AwardExists fast path can always lose a race.
		if isUniqueViolation(err, "badge_awards_subject") {
			return ErrDuplicateAward
		}
		return fmt.Errorf("failed to insert award: %w", err)
	}
	return nil
}

func (t *awardTx) DeleteAward(ctx context.Context, awardID int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM badge_awards WHERE id = $1`, awardID)
	if err != nil {
		return fmt.Errorf("failed to delete award: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *awardTx) RecordAudit(ctx context.Context, entry *models.AuditEntry) error {
	return t.audit.RecordTx(ctx, t.tx, entry)
}

const awardColumns = `a.id, a.subject_id, a.badge_definition_id, a.subject_institution_id, a.subject_department,
	a.awarded_by, a.awarded_by_name, a.reason, a.project_id, a.event_id, a.awarded_at`

func scanAwardWithDefinition(row interface{ Scan(...interface{}) error }) (*models.BadgeAward, error) {
	var award models.BadgeAward
	var def models.BadgeDefinition
	err := row.Scan(
		&award.ID, &award.SubjectID, &award.DefinitionID, &award.SubjectInstitutionID, &award.SubjectDepartment,
		&award.AwardedBy, &award.AwardedByName, &award.Reason, &award.ProjectID, &award.EventID, &award.AwardedAt,
		&def.ID, &def.Name, &def.Description, &def.Icon, &def.Color,
		&def.Category, &def.Rarity, &def.Points, &def.IsActive,
		&def.InstitutionID, &def.CreatedBy, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	award.Definition = &def
	return &award, nil
}

func (r *awardRepository) GetByID(ctx context.Context, id int64) (*models.BadgeAward, error) {
	query := `
		SELECT ` + awardColumns + `, d.` + strings.ReplaceAll(definitionColumns, ", ", ", d.") + `
		FROM badge_awards a
		JOIN badge_definitions d ON d.id = a.badge_definition_id
		WHERE a.id = $1`

	award, err := scanAwardWithDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get award: %w", err)
	}
	return award, nil
}

func (r *awardRepository) Exists(ctx context.Context, subjectID, definitionID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM badge_awards WHERE subject_id = $1 AND badge_definition_id = $2)`,
		subjectID, definitionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check award existence: %w", err)
	}
	return exists, nil
}

func (r *awardRepository) List(ctx context.Context, filter AwardFilter) ([]*models.BadgeAward, int, error) {
	filter.Pagination.Normalize()

	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1

	if filter.SubjectID != nil {
		conditions = append(conditions, fmt.Sprintf("a.subject_id = $%d", argIdx))
		args = append(args, *filter.SubjectID)
		argIdx++
	}
	if filter.DefinitionID != nil {
		conditions = append(conditions, fmt.Sprintf("a.badge_definition_id = $%d", argIdx))
		args = append(args, *filter.DefinitionID)
		argIdx++
	}
	if filter.InstitutionID != nil {
		conditions = append(conditions, fmt.Sprintf("a.subject_institution_id = $%d", argIdx))
		args = append(args, *filter.InstitutionID)
		argIdx++
	}
	if filter.Department != nil {
		conditions = append(conditions, fmt.Sprintf("a.subject_department = $%d", argIdx))
		args = append(args, *filter.Department)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM badge_awards a WHERE ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count awards: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s, d.%s
		FROM badge_awards a
		JOIN badge_definitions d ON d.id = a.badge_definition_id
		WHERE %s
		ORDER BY a.awarded_at DESC
		LIMIT $%d OFFSET $%d`,
		awardColumns, strings.ReplaceAll(definitionColumns, ", ", ", d."), where, argIdx, argIdx+1,
	)
	args = append(args, filter.Pagination.Limit, filter.Pagination.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list awards: %w", err)
	}
	defer rows.Close()

	var awards []*models.BadgeAward
	for rows.Next() {
		award, err := scanAwardWithDefinition(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan award: %w", err)
		}
		awards = append(awards, award)
	}
	return awards, total, rows.Err()
}

func (r *awardRepository) Leaderboard(ctx context.Context, institutionID int64, department *string, limit int) ([]*models.LeaderboardEntry, error) {
	conditions := []string{"a.subject_institution_id = $1"}
	args := []interface{}{institutionID}
	argIdx := 2

	if department != nil {
		conditions = append(conditions, fmt.Sprintf("a.subject_department = $%d", argIdx))
		args = append(args, *department)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT a.subject_id, COUNT(*) AS badge_count, COALESCE(SUM(d.points), 0) AS total_points
		FROM badge_awards a
		JOIN badge_definitions d ON d.id = a.badge_definition_id
		WHERE %s
		GROUP BY a.subject_id
		ORDER BY total_points DESC, badge_count DESC, a.subject_id
		LIMIT $%d`,
		strings.Join(conditions, " AND "), argIdx,
	)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*models.LeaderboardEntry
	for rows.Next() {
		var entry models.LeaderboardEntry
		if err := rows.Scan(&entry.SubjectID, &entry.BadgeCount, &entry.TotalPoints); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
