// internal/services/badge_service_test.go
package services

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"merithub/internal/events"
	"merithub/internal/models"
	"merithub/internal/ratelimit"
	"merithub/internal/repositories"
)

// ===============================
// FAKES
// ===============================

type fakeDefinitionRepo struct {
	defs   map[int64]*models.BadgeDefinition
	nextID int64
}

func newFakeDefinitionRepo() *fakeDefinitionRepo {
	return &fakeDefinitionRepo{defs: make(map[int64]*models.BadgeDefinition)}
}

func (f *fakeDefinitionRepo) Create(_ context.Context, def *models.BadgeDefinition) error {
	f.nextID++
	def.ID = f.nextID
	def.CreatedAt = time.Now()
	copied := *def
	f.defs[def.ID] = &copied
	return nil
}

func (f *fakeDefinitionRepo) GetByID(_ context.Context, id int64) (*models.BadgeDefinition, error) {
	def, ok := f.defs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *def
	return &copied, nil
}

func (f *fakeDefinitionRepo) List(_ context.Context, filter repositories.DefinitionFilter) ([]*models.BadgeDefinition, int, error) {
	var out []*models.BadgeDefinition
	for _, def := range f.defs {
		if filter.InstitutionID != nil && !def.IsGlobal() && *def.InstitutionID != *filter.InstitutionID {
			continue
		}
		if filter.ActiveOnly && !def.IsActive {
			continue
		}
		copied := *def
		out = append(out, &copied)
	}
	return out, len(out), nil
}

func (f *fakeDefinitionRepo) Update(_ context.Context, def *models.BadgeDefinition) error {
	if _, ok := f.defs[def.ID]; !ok {
		return repositories.ErrNotFound
	}
	copied := *def
	f.defs[def.ID] = &copied
	return nil
}

func (f *fakeDefinitionRepo) SetActive(_ context.Context, id int64, active bool) error {
	def, ok := f.defs[id]
	if !ok {
		return repositories.ErrNotFound
	}
	def.IsActive = active
	return nil
}

type fakeAwardRepo struct {
	defs   *fakeDefinitionRepo
	awards map[int64]*models.BadgeAward
	audits []*models.AuditEntry
	nextID int64

	// raceOnInsert simulates a concurrent awarder landing between the
	// existence check and the insert: the check sees nothing, the
	// uniqueness constraint still rejects.
	raceOnInsert bool
}

func newFakeAwardRepo(defs *fakeDefinitionRepo) *fakeAwardRepo {
	return &fakeAwardRepo{defs: defs, awards: make(map[int64]*models.BadgeAward)}
}

func (f *fakeAwardRepo) InTx(_ context.Context, fn func(tx repositories.AwardTx) error) error {
	return fn(&fakeAwardTx{store: f})
}

func (f *fakeAwardRepo) GetByID(_ context.Context, id int64) (*models.BadgeAward, error) {
	award, ok := f.awards[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *award
	if def, ok := f.defs.defs[award.DefinitionID]; ok {
		defCopy := *def
		copied.Definition = &defCopy
	}
	return &copied, nil
}

func (f *fakeAwardRepo) Exists(_ context.Context, subjectID, definitionID int64) (bool, error) {
	for _, a := range f.awards {
		if a.SubjectID == subjectID && a.DefinitionID == definitionID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAwardRepo) List(_ context.Context, filter repositories.AwardFilter) ([]*models.BadgeAward, int, error) {
	var out []*models.BadgeAward
	for _, a := range f.awards {
		if filter.SubjectID != nil && a.SubjectID != *filter.SubjectID {
			continue
		}
		if filter.InstitutionID != nil && a.SubjectInstitutionID != *filter.InstitutionID {
			continue
		}
		if filter.Department != nil && (a.SubjectDepartment == nil || *a.SubjectDepartment != *filter.Department) {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	return out, len(out), nil
}

func (f *fakeAwardRepo) Leaderboard(_ context.Context, institutionID int64, department *string, limit int) ([]*models.LeaderboardEntry, error) {
	points := map[int64]*models.LeaderboardEntry{}
	for _, a := range f.awards {
		if a.SubjectInstitutionID != institutionID {
			continue
		}
		entry, ok := points[a.SubjectID]
		if !ok {
			entry = &models.LeaderboardEntry{SubjectID: a.SubjectID}
			points[a.SubjectID] = entry
		}
		entry.BadgeCount++
		if def, ok := f.defs.defs[a.DefinitionID]; ok {
			entry.TotalPoints += def.Points
		}
	}
	var out []*models.LeaderboardEntry
	for _, e := range points {
		out = append(out, e)
	}
	return out, nil
}

type fakeAwardTx struct {
	store *fakeAwardRepo
}

func (t *fakeAwardTx) GetDefinitionForUpdate(ctx context.Context, id int64) (*models.BadgeDefinition, error) {
	return t.store.defs.GetByID(ctx, id)
}

func (t *fakeAwardTx) AwardExists(ctx context.Context, subjectID, definitionID int64) (bool, error) {
	if t.store.raceOnInsert {
		return false, nil
	}
	return t.store.Exists(ctx, subjectID, definitionID)
}

func (t *fakeAwardTx) InsertAward(ctx context.Context, award *models.BadgeAward) error {
	if t.store.raceOnInsert {
		return repositories.ErrDuplicateAward
	}
	if exists, _ := t.store.Exists(ctx, award.SubjectID, award.DefinitionID); exists {
		return repositories.ErrDuplicateAward
	}
	t.store.nextID++
	award.ID = t.store.nextID
	award.AwardedAt = time.Now()
	copied := *award
	t.store.awards[award.ID] = &copied
	return nil
}

func (t *fakeAwardTx) DeleteAward(_ context.Context, awardID int64) error {
	if _, ok := t.store.awards[awardID]; !ok {
		return repositories.ErrNotFound
	}
	delete(t.store.awards, awardID)
	return nil
}

func (t *fakeAwardTx) RecordAudit(_ context.Context, entry *models.AuditEntry) error {
	t.store.audits = append(t.store.audits, entry)
	return nil
}

type fakeAuditRepo struct {
	entries []*models.AuditEntry
}

func (f *fakeAuditRepo) Record(_ context.Context, entry *models.AuditEntry) {
	f.entries = append(f.entries, entry)
}

func (f *fakeAuditRepo) RecordTx(_ context.Context, _ *sql.Tx, entry *models.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeIdentityClient struct {
	subjects map[int64]*models.SubjectRecord
}

func (f *fakeIdentityClient) Lookup(_ context.Context, subjectID int64) *models.SubjectRecord {
	return f.subjects[subjectID]
}

func (f *fakeIdentityClient) LookupBatch(ctx context.Context, subjectIDs []int64) map[int64]*models.SubjectRecord {
	out := make(map[int64]*models.SubjectRecord)
	for _, id := range subjectIDs {
		if record := f.Lookup(ctx, id); record != nil {
			out[id] = record
		}
	}
	return out
}

// ===============================
// FIXTURE
// ===============================

type badgeFixture struct {
	service  BadgeService
	defs     *fakeDefinitionRepo
	awards   *fakeAwardRepo
	audit    *fakeAuditRepo
	identity *fakeIdentityClient
	bus      *events.Bus
}

func newBadgeFixture(t *testing.T, governorCfg *ratelimit.Config) *badgeFixture {
	t.Helper()
	if governorCfg == nil {
		governorCfg = &ratelimit.Config{Enabled: false}
	}
	defs := newFakeDefinitionRepo()
	awards := newFakeAwardRepo(defs)
	audit := &fakeAuditRepo{}
	identityClient := &fakeIdentityClient{subjects: make(map[int64]*models.SubjectRecord)}
	governor := ratelimit.NewGovernor(governorCfg, ratelimit.NewLocalStore(), zap.NewNop())
	bus := events.NewBus(zap.NewNop())

	return &badgeFixture{
		service:  NewBadgeService(defs, awards, audit, identityClient, governor, bus, zap.NewNop()),
		defs:     defs,
		awards:   awards,
		audit:    audit,
		identity: identityClient,
		bus:      bus,
	}
}

func strptr(s string) *string { return &s }

func (f *badgeFixture) addDefinition(institutionID *int64, active bool) *models.BadgeDefinition {
	def := &models.BadgeDefinition{
		Name:          fmt.Sprintf("Definition %d", f.defs.nextID+1),
		Description:   "a badge",
		Category:      "achievement",
		Rarity:        models.RarityCommon,
		Points:        10,
		IsActive:      active,
		InstitutionID: institutionID,
		CreatedBy:     1,
	}
	_ = f.defs.Create(context.Background(), def)
	return def
}

func (f *badgeFixture) addStudent(subjectID, institutionID int64, department *string) {
	f.identity.subjects[subjectID] = &models.SubjectRecord{
		SubjectID:     subjectID,
		InstitutionID: institutionID,
		Department:    department,
		Roles:         []models.Role{models.RoleStudent},
	}
}

func headActor(institutionID int64) *models.ActorContext {
	return &models.ActorContext{
		ActorID:       1,
		Roles:         []models.Role{models.RoleInstitutionHead},
		InstitutionID: institutionID,
	}
}

func deptAdminActor(institutionID int64, department string) *models.ActorContext {
	return &models.ActorContext{
		ActorID:       2,
		Roles:         []models.Role{models.RoleDepartmentAdmin},
		InstitutionID: institutionID,
		Department:    &department,
	}
}

func placementsActor(institutionID int64) *models.ActorContext {
	return &models.ActorContext{
		ActorID:       3,
		Roles:         []models.Role{models.RolePlacementsAdmin},
		InstitutionID: institutionID,
	}
}

func awardRequest(definitionID, subjectID int64) *AwardBadgeRequest {
	return &AwardBadgeRequest{
		BadgeDefinitionID: definitionID,
		SubjectID:         subjectID,
		Reason:            "outstanding capstone project",
	}
}

// ===============================
// AWARD TESTS
// ===============================

func TestAwardSuccess(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, strptr("Physics"))

	award, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), headActor(7))

	require.NoError(t, err)
	assert.NotZero(t, award.ID)
	assert.Equal(t, int64(100), award.SubjectID)
	assert.Equal(t, int64(7), award.SubjectInstitutionID)
	assert.Equal(t, "Physics", *award.SubjectDepartment)
	require.NotNil(t, award.Definition)
	assert.Equal(t, def.Name, award.Definition.Name)

	// The audit record commits with the award.
	require.Len(t, f.awards.audits, 1)
	assert.Equal(t, "badge.award", f.awards.audits[0].Action)
	assert.True(t, f.awards.audits[0].Success)
}

func TestAwardPublishesEvent(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)

	received := make(chan interface{}, 1)
	f.bus.Subscribe(events.EventBadgeAwarded, func(_ context.Context, event interface{}) {
		received <- event
	})

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), headActor(7))
	require.NoError(t, err)

	select {
	case event := <-received:
		awarded, ok := event.(*events.BadgeAwardedEvent)
		require.True(t, ok)
		assert.Equal(t, int64(100), awarded.Award.SubjectID)
	case <-time.After(time.Second):
		t.Fatal("expected a badge awarded event")
	}
}

func TestAwardDuplicateFails(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	actor := headActor(7)
	ctx := context.Background()

	_, err := f.service.Award(ctx, awardRequest(def.ID, 100), actor)
	require.NoError(t, err)

	_, err = f.service.Award(ctx, awardRequest(def.ID, 100), actor)
	require.Error(t, err)
	assert.True(t, IsDuplicateAward(err))
	assert.Len(t, f.awards.awards, 1)
}

func TestAwardInsertConflictReportsDuplicate(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	// Concurrent awarder wins between the existence check and the
	// insert; the uniqueness constraint is the authority.
	f.awards.raceOnInsert = true

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), headActor(7))

	require.Error(t, err)
	assert.True(t, IsDuplicateAward(err))
	assert.Empty(t, f.awards.awards)
}

func TestAwardUnknownSubjectNotFound(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 999), headActor(7))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestAwardCrossInstitutionSubjectNotFound(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 8, nil) // different institution

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), headActor(7))
	require.Error(t, err)
	// Same error as absent, so cross-institution existence never leaks.
	assert.True(t, IsNotFound(err))
}

func TestAwardNonStudentNotFound(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.identity.subjects[100] = &models.SubjectRecord{
		SubjectID:     100,
		InstitutionID: 7,
		Roles:         []models.Role{models.RoleFaculty},
	}

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), headActor(7))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestAwardInactiveDefinition(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, false)
	f.addStudent(100, 7, nil)

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), headActor(7))
	require.Error(t, err)
	assert.True(t, IsErrorKind(err, ErrKindBadgeInactive))
}

func TestAwardDefinitionFromOtherInstitutionNotFound(t *testing.T) {
	f := newBadgeFixture(t, nil)
	otherInstitution := int64(8)
	def := f.addDefinition(&otherInstitution, true)
	f.addStudent(100, 7, nil)

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), headActor(7))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestAwardGlobalDefinitionUsableAnywhere(t *testing.T) {
	f := newBadgeFixture(t, nil)
	def := f.addDefinition(nil, true) // global
	f.addStudent(100, 7, nil)

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), headActor(7))
	assert.NoError(t, err)
}

func TestAwardDeptAdminWrongDepartmentDenied(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, strptr("Chemistry"))

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), deptAdminActor(7, "Physics"))
	require.Error(t, err)
	assert.True(t, IsAuthorizationDenied(err))
}

func TestAwardFacultyDenied(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	actor := &models.ActorContext{
		ActorID:       3,
		Roles:         []models.Role{models.RoleFaculty},
		InstitutionID: 7,
	}

	_, err := f.service.Award(context.Background(), awardRequest(def.ID, 100), actor)
	require.Error(t, err)
	assert.True(t, IsAuthorizationDenied(err))
}

func TestAwardRateLimited(t *testing.T) {
	cfg := &ratelimit.Config{
		Enabled: true,
		Windows: map[ratelimit.Operation]ratelimit.Window{
			ratelimit.OpAward: {Max: 1, Duration: time.Minute},
		},
	}
	f := newBadgeFixture(t, cfg)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	f.addStudent(101, 7, nil)
	actor := headActor(7)
	ctx := context.Background()

	_, err := f.service.Award(ctx, awardRequest(def.ID, 100), actor)
	require.NoError(t, err)

	_, err = f.service.Award(ctx, awardRequest(def.ID, 101), actor)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))

	svcErr := GetServiceError(err)
	retryAfter, ok := svcErr.Details["retry_after_seconds"].(int)
	require.True(t, ok)
	assert.Positive(t, retryAfter)
}

func TestAwardValidationFailure(t *testing.T) {
	f := newBadgeFixture(t, nil)
	_, err := f.service.Award(context.Background(), &AwardBadgeRequest{}, headActor(7))
	require.Error(t, err)
	assert.True(t, IsErrorKind(err, ErrKindValidation))
}

// ===============================
// REVOKE TESTS
// ===============================

func TestRevokeThenReAward(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	actor := headActor(7)
	ctx := context.Background()

	award, err := f.service.Award(ctx, awardRequest(def.ID, 100), actor)
	require.NoError(t, err)

	result, err := f.service.Revoke(ctx, &RevokeBadgeRequest{AwardID: award.ID, Reason: "awarded in error"}, actor)
	require.NoError(t, err)
	assert.Equal(t, award.SubjectID, result.SubjectID)
	assert.Equal(t, def.Name, result.DefinitionName)
	assert.Empty(t, f.awards.awards)

	// A revoked badge leaves no residue and may be re-awarded.
	_, err = f.service.Award(ctx, awardRequest(def.ID, 100), actor)
	assert.NoError(t, err)
}

func TestRevokeDeptAdminDenied(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, strptr("Physics"))
	admin := deptAdminActor(7, "Physics")
	ctx := context.Background()

	award, err := f.service.Award(ctx, awardRequest(def.ID, 100), admin)
	require.NoError(t, err)

	// Department admins can award but never revoke.
	_, err = f.service.Revoke(ctx, &RevokeBadgeRequest{AwardID: award.ID, Reason: "changed my mind"}, admin)
	require.Error(t, err)
	assert.True(t, IsAuthorizationDenied(err))
}

func TestRevokeCrossInstitutionNotFound(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	ctx := context.Background()

	award, err := f.service.Award(ctx, awardRequest(def.ID, 100), headActor(7))
	require.NoError(t, err)

	_, err = f.service.Revoke(ctx, &RevokeBadgeRequest{AwardID: award.ID, Reason: "not ours"}, headActor(8))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRevokeMissingAwardNotFound(t *testing.T) {
	f := newBadgeFixture(t, nil)
	_, err := f.service.Revoke(context.Background(), &RevokeBadgeRequest{AwardID: 999, Reason: "nothing there"}, headActor(7))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

// ===============================
// DEFINITION TESTS
// ===============================

func TestCreateDefinitionDeniedForDeptAdmin(t *testing.T) {
	f := newBadgeFixture(t, nil)
	req := &CreateDefinitionRequest{
		Name:        "Research Star",
		Description: "excellent research output",
		Category:    "research",
		Rarity:      models.RarityRare,
		Points:      50,
	}

	_, err := f.service.CreateDefinition(context.Background(), req, deptAdminActor(7, "Physics"))
	require.Error(t, err)
	assert.True(t, IsAuthorizationDenied(err))
}

func TestCreateGlobalDefinitionRequiresSuperAdmin(t *testing.T) {
	f := newBadgeFixture(t, nil)
	req := &CreateDefinitionRequest{
		Name:        "Platform Pioneer",
		Description: "global achievement",
		Category:    "platform",
		Rarity:      models.RarityLegendary,
		Points:      100,
		Global:      true,
	}

	_, err := f.service.CreateDefinition(context.Background(), req, headActor(7))
	require.Error(t, err)
	assert.True(t, IsAuthorizationDenied(err))

	super := &models.ActorContext{ActorID: 9, Roles: []models.Role{models.RoleSuperAdmin}}
	def, err := f.service.CreateDefinition(context.Background(), req, super)
	require.NoError(t, err)
	assert.True(t, def.IsGlobal())
}

func TestCreateDefinitionOwnedByActorInstitution(t *testing.T) {
	f := newBadgeFixture(t, nil)
	req := &CreateDefinitionRequest{
		Name:        "Department Medal",
		Description: "department achievement",
		Category:    "department",
		Rarity:      models.RarityUncommon,
		Points:      20,
	}

	def, err := f.service.CreateDefinition(context.Background(), req, headActor(7))
	require.NoError(t, err)
	require.NotNil(t, def.InstitutionID)
	assert.Equal(t, int64(7), *def.InstitutionID)
	assert.True(t, def.IsActive)
}

func TestDeactivateGlobalDefinitionRequiresSuperAdmin(t *testing.T) {
	f := newBadgeFixture(t, nil)
	def := f.addDefinition(nil, true)

	err := f.service.SetDefinitionActive(context.Background(), def.ID, false, headActor(7))
	require.Error(t, err)
	assert.True(t, IsAuthorizationDenied(err))
	stored, getErr := f.defs.GetByID(context.Background(), def.ID)
	require.NoError(t, getErr)
	assert.True(t, stored.IsActive)

	super := &models.ActorContext{ActorID: 9, Roles: []models.Role{models.RoleSuperAdmin}}
	require.NoError(t, f.service.SetDefinitionActive(context.Background(), def.ID, false, super))
	stored, getErr = f.defs.GetByID(context.Background(), def.ID)
	require.NoError(t, getErr)
	assert.False(t, stored.IsActive)
}

func TestDeactivateDefinitionCrossInstitutionDenied(t *testing.T) {
	f := newBadgeFixture(t, nil)
	otherInstitution := int64(8)
	def := f.addDefinition(&otherInstitution, true)

	err := f.service.SetDefinitionActive(context.Background(), def.ID, false, headActor(7))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	stored, getErr := f.defs.GetByID(context.Background(), def.ID)
	require.NoError(t, getErr)
	assert.True(t, stored.IsActive)
}

func TestGetDefinitionCrossInstitutionNotFound(t *testing.T) {
	f := newBadgeFixture(t, nil)
	otherInstitution := int64(8)
	def := f.addDefinition(&otherInstitution, true)

	_, err := f.service.GetDefinition(context.Background(), def.ID, headActor(7))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

// ===============================
// READ TESTS
// ===============================

func TestListAwardsScopedToDepartment(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, strptr("Physics"))
	f.addStudent(101, 7, strptr("Chemistry"))
	head := headActor(7)
	ctx := context.Background()

	_, err := f.service.Award(ctx, awardRequest(def.ID, 100), head)
	require.NoError(t, err)
	_, err = f.service.Award(ctx, awardRequest(def.ID, 101), head)
	require.NoError(t, err)

	awards, total, err := f.service.ListAwards(ctx, nil, models.PaginationParams{}, deptAdminActor(7, "Physics"))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, awards, 1)
	assert.Equal(t, int64(100), awards[0].SubjectID)
}

func TestListAwardsNilActorDenied(t *testing.T) {
	f := newBadgeFixture(t, nil)

	_, _, err := f.service.ListAwards(context.Background(), nil, models.PaginationParams{}, nil)
	require.Error(t, err)
	assert.True(t, IsAuthorizationDenied(err))

	_, _, err = f.service.ListDefinitions(context.Background(), repositories.DefinitionFilter{}, nil)
	require.Error(t, err)
	assert.True(t, IsAuthorizationDenied(err))
}

func TestListAwardsPlacementsAdminEligibleSubset(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, strptr("Physics"))
	f.addStudent(101, 7, strptr("Chemistry"))
	f.identity.subjects[100].PlacementEligible = true
	head := headActor(7)
	ctx := context.Background()

	_, err := f.service.Award(ctx, awardRequest(def.ID, 100), head)
	require.NoError(t, err)
	_, err = f.service.Award(ctx, awardRequest(def.ID, 101), head)
	require.NoError(t, err)

	awards, total, err := f.service.ListAwards(ctx, nil, models.PaginationParams{}, placementsActor(7))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, awards, 1)
	assert.Equal(t, int64(100), awards[0].SubjectID)

	// The institution head still sees everything.
	awards, total, err = f.service.ListAwards(ctx, nil, models.PaginationParams{}, head)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, awards, 2)
}

func TestLeaderboardAggregatesPoints(t *testing.T) {
	f := newBadgeFixture(t, nil)
	institutionID := int64(7)
	first := f.addDefinition(&institutionID, true)
	second := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	head := headActor(7)
	ctx := context.Background()

	_, err := f.service.Award(ctx, awardRequest(first.ID, 100), head)
	require.NoError(t, err)
	_, err = f.service.Award(ctx, awardRequest(second.ID, 100), head)
	require.NoError(t, err)

	entries, err := f.service.Leaderboard(ctx, head)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].BadgeCount)
	assert.Equal(t, 20, entries[0].TotalPoints)
}
