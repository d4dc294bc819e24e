// internal/services/bulk_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"merithub/internal/models"
	"merithub/internal/ratelimit"
)

func newBulkFixture(t *testing.T, maxItems int, governorCfg *ratelimit.Config) (*badgeFixture, BulkService) {
	t.Helper()
	f := newBadgeFixture(t, governorCfg)
	if governorCfg == nil {
		governorCfg = &ratelimit.Config{Enabled: false}
	}
	governor := ratelimit.NewGovernor(governorCfg, ratelimit.NewLocalStore(), zap.NewNop())
	bulk := NewBulkService(f.service, governor, maxItems, zap.NewNop())
	return f, bulk
}

func TestBulkOverLimitRejectedUntouched(t *testing.T) {
	f, bulk := newBulkFixture(t, 2, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	for i := int64(100); i < 103; i++ {
		f.addStudent(i, 7, nil)
	}

	req := &BulkRequest{
		Action: models.BulkActionAward,
		Items: []BulkItem{
			{BadgeDefinitionID: def.ID, SubjectID: 100, Reason: "batch award"},
			{BadgeDefinitionID: def.ID, SubjectID: 101, Reason: "batch award"},
			{BadgeDefinitionID: def.ID, SubjectID: 102, Reason: "batch award"},
		},
	}

	_, err := bulk.Run(context.Background(), req, headActor(7))
	require.Error(t, err)
	assert.True(t, IsErrorKind(err, ErrKindBulkLimitExceeded))
	// No item of an over-limit batch may be processed.
	assert.Empty(t, f.awards.awards)
}

func TestBulkPreviewIsStorageNoOp(t *testing.T) {
	f, bulk := newBulkFixture(t, 100, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	f.addStudent(101, 7, nil)

	req := &BulkRequest{
		Action:  models.BulkActionAward,
		Preview: true,
		Items: []BulkItem{
			{BadgeDefinitionID: def.ID, SubjectID: 100, Reason: "batch award"},
			{BadgeDefinitionID: def.ID, SubjectID: 101, Reason: "batch award"},
			{BadgeDefinitionID: def.ID, SubjectID: 999, Reason: "batch award"}, // unknown subject
		},
	}

	result, err := bulk.Run(context.Background(), req, headActor(7))
	require.NoError(t, err)
	assert.True(t, result.Preview)
	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, 2, result.Failures[0].Index)
	assert.Equal(t, ErrKindNotFound, result.Failures[0].Kind)

	assert.Empty(t, f.awards.awards)
	assert.Empty(t, f.awards.audits)
}

func TestBulkDuplicateWithinBatchFirstWins(t *testing.T) {
	f, bulk := newBulkFixture(t, 100, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)

	req := &BulkRequest{
		Action: models.BulkActionAward,
		Items: []BulkItem{
			{BadgeDefinitionID: def.ID, SubjectID: 100, Reason: "batch award"},
			{BadgeDefinitionID: def.ID, SubjectID: 100, Reason: "batch award again"},
		},
	}

	result, err := bulk.Run(context.Background(), req, headActor(7))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].Index)
	assert.Equal(t, ErrKindDuplicateAward, result.Failures[0].Kind)
	assert.Len(t, f.awards.awards, 1)
}

func TestBulkPartialFailureContinues(t *testing.T) {
	f, bulk := newBulkFixture(t, 100, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	f.addStudent(102, 7, nil)

	req := &BulkRequest{
		Action: models.BulkActionAward,
		Items: []BulkItem{
			{BadgeDefinitionID: def.ID, SubjectID: 100, Reason: "batch award"},
			{BadgeDefinitionID: def.ID, SubjectID: 101, Reason: "batch award"}, // unknown
			{BadgeDefinitionID: def.ID, SubjectID: 102, Reason: "batch award"},
		},
	}

	result, err := bulk.Run(context.Background(), req, headActor(7))
	require.NoError(t, err)
	// The middle failure must not abort the remainder.
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, f.awards.awards, 2)
}

func TestBulkRevoke(t *testing.T) {
	f, bulk := newBulkFixture(t, 100, nil)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	actor := headActor(7)
	ctx := context.Background()

	award, err := f.service.Award(ctx, awardRequest(def.ID, 100), actor)
	require.NoError(t, err)

	req := &BulkRequest{
		Action: models.BulkActionRevoke,
		Items: []BulkItem{
			{AwardID: award.ID, Reason: "bulk cleanup"},
			{AwardID: 999, Reason: "bulk cleanup"},
		},
	}

	result, err := bulk.Run(ctx, req, actor)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, f.awards.awards)
}

func TestBulkInvalidAction(t *testing.T) {
	_, bulk := newBulkFixture(t, 100, nil)
	req := &BulkRequest{
		Action: models.BulkAction("PROMOTE"),
		Items:  []BulkItem{{AwardID: 1, Reason: "nope"}},
	}

	_, err := bulk.Run(context.Background(), req, headActor(7))
	require.Error(t, err)
	assert.True(t, IsErrorKind(err, ErrKindValidation))
}

func TestBulkCallRateLimited(t *testing.T) {
	cfg := &ratelimit.Config{
		Enabled: true,
		Windows: map[ratelimit.Operation]ratelimit.Window{
			ratelimit.OpBulk: {Max: 1, Duration: time.Minute},
		},
		BulkLargeThreshold: 100,
	}
	f, bulk := newBulkFixture(t, 100, cfg)
	institutionID := int64(7)
	def := f.addDefinition(&institutionID, true)
	f.addStudent(100, 7, nil)
	actor := headActor(7)
	ctx := context.Background()

	req := &BulkRequest{
		Action:  models.BulkActionAward,
		Preview: true,
		Items:   []BulkItem{{BadgeDefinitionID: def.ID, SubjectID: 100, Reason: "batch award"}},
	}

	_, err := bulk.Run(ctx, req, actor)
	require.NoError(t, err)

	_, err = bulk.Run(ctx, req, actor)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}
