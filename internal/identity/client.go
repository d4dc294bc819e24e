// internal/identity/client.go
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"merithub/internal/breaker"
	"merithub/internal/cache"
	"merithub/internal/config"
	"merithub/internal/models"
)

// ===============================
// IDENTITY LOOKUP CLIENT
// ===============================

// Client resolves subject records from the identity subsystem. All
// calls go through the circuit breaker; any failure mode (not found,
// unauthorized, timeout, breaker open) collapses to a nil record so
// callers have a single absence path to handle.
type Client interface {
	// Lookup returns the subject's record, or nil when the subject is
	// absent or the identity subsystem is unreachable.
	Lookup(ctx context.Context, subjectID int64) *models.SubjectRecord

	// LookupBatch resolves N subjects in as few round-trips as the
	// identity subsystem allows. Absent subjects are missing from the
	// returned map.
	LookupBatch(ctx context.Context, subjectIDs []int64) map[int64]*models.SubjectRecord
}

// subjectPayload is the identity subsystem's wire format
type subjectPayload struct {
	SubjectID         int64    `json:"subject_id"`
	InstitutionID     int64    `json:"institution_id"`
	Department        *string  `json:"department,omitempty"`
	Year              *int     `json:"year,omitempty"`
	Roles             []string `json:"roles"`
	PlacementEligible bool     `json:"placement_eligible"`
}

func (p *subjectPayload) toRecord() *models.SubjectRecord {
	roles := make([]models.Role, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, models.Role(r))
	}
	return &models.SubjectRecord{
		SubjectID:         p.SubjectID,
		InstitutionID:     p.InstitutionID,
		Department:        p.Department,
		Year:              p.Year,
		Roles:             roles,
		PlacementEligible: p.PlacementEligible,
	}
}

type httpClient struct {
	baseURL        string
	httpClient     *http.Client
	breaker        *breaker.Breaker
	cache          cache.Cache
	cacheTTL       time.Duration
	maxRetries     int
	batchSupported bool
	logger         *zap.Logger
}

// NewClient creates an identity lookup client backed by HTTP
func NewClient(cfg config.IdentityConfig, brk *breaker.Breaker, c cache.Cache, logger *zap.Logger) Client {
	return &httpClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		breaker:        brk,
		cache:          c,
		cacheTTL:       cfg.CacheTTL,
		maxRetries:     cfg.MaxRetries,
		batchSupported: cfg.BatchSupported,
		logger:         logger,
	}
}

// ===============================
// SINGLE LOOKUP
// ===============================

func (c *httpClient) Lookup(ctx context.Context, subjectID int64) *models.SubjectRecord {
	cacheKey := fmt.Sprintf("identity:subject:%d", subjectID)
	if c.cache != nil {
		if cached, found := c.cache.Get(ctx, cacheKey); found {
			if record := decodeCached(cached); record != nil {
				return record
			}
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchSubject(ctx, subjectID)
	})
	if err != nil {
		// Breaker open, timeout, and transport errors all collapse to
		// absence. The distinction only matters for logs.
		c.logger.Warn("Identity lookup failed",
			zap.Int64("subject_id", subjectID),
			zap.Bool("breaker_open", breaker.IsOpen(err)),
			zap.Error(err),
		)
		return nil
	}

	record, ok := result.(*models.SubjectRecord)
	if !ok || record == nil {
		return nil
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, record, c.cacheTTL); err != nil {
			c.logger.Debug("Failed to cache subject record", zap.Error(err))
		}
	}
	return record
}

// fetchSubject performs the HTTP round-trip with retry on transient
// failures. A 404 returns (nil, nil) so it does not count against the
// breaker: an absent subject is a healthy answer.
func (c *httpClient) fetchSubject(ctx context.Context, subjectID int64) (*models.SubjectRecord, error) {
	var record *models.SubjectRecord

	operation := func() error {
		url := fmt.Sprintf("%s/api/v1/subjects/%d", c.baseURL, subjectID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			record = nil
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("identity subsystem returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("identity subsystem returned %d", resp.StatusCode))
		}

		var payload subjectPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode subject payload: %w", err))
		}
		record = payload.toRecord()
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(50*time.Millisecond),
			backoff.WithMaxInterval(500*time.Millisecond),
		), uint64(c.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return record, nil
}

// ===============================
// BATCH LOOKUP
// ===============================

const batchFanOutConcurrency = 5

func (c *httpClient) LookupBatch(ctx context.Context, subjectIDs []int64) map[int64]*models.SubjectRecord {
	if len(subjectIDs) == 0 {
		return map[int64]*models.SubjectRecord{}
	}

	if c.batchSupported {
		if records, err := c.fetchBatch(ctx, subjectIDs); err == nil {
			return records
		}
		// Batch endpoint failed; fall through to per-subject fan-out so
		// a degraded batch contract does not blank out the whole set.
	}
	return c.fanOut(ctx, subjectIDs)
}

func (c *httpClient) fetchBatch(ctx context.Context, subjectIDs []int64) (map[int64]*models.SubjectRecord, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		ids := make([]string, len(subjectIDs))
		for i, id := range subjectIDs {
			ids[i] = fmt.Sprintf("%d", id)
		}
		url := fmt.Sprintf("%s/api/v1/subjects?ids=%s", c.baseURL, strings.Join(ids, ","))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("identity subsystem returned %d", resp.StatusCode)
		}

		var payloads map[string]*subjectPayload
		if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
			return nil, fmt.Errorf("failed to decode batch payload: %w", err)
		}

		records := make(map[int64]*models.SubjectRecord, len(payloads))
		for _, p := range payloads {
			if p != nil {
				records[p.SubjectID] = p.toRecord()
			}
		}
		return records, nil
	})
	if err != nil {
		c.logger.Warn("Identity batch lookup failed",
			zap.Int("subject_count", len(subjectIDs)),
			zap.Error(err),
		)
		return nil, err
	}
	records, _ := result.(map[int64]*models.SubjectRecord)
	return records, nil
}

// fanOut resolves subjects one at a time with bounded concurrency.
// Each lookup goes through the breaker individually, so a tripped
// breaker short-circuits the remainder cheaply.
func (c *httpClient) fanOut(ctx context.Context, subjectIDs []int64) map[int64]*models.SubjectRecord {
	var mu sync.Mutex
	records := make(map[int64]*models.SubjectRecord, len(subjectIDs))

	sem := make(chan struct{}, batchFanOutConcurrency)
	var wg sync.WaitGroup
	for _, id := range subjectIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(subjectID int64) {
			defer wg.Done()
			defer func() { <-sem }()
			if record := c.Lookup(ctx, subjectID); record != nil {
				mu.Lock()
				records[subjectID] = record
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return records
}

// decodeCached converts a cached value back into a SubjectRecord. The
// memory cache stores the struct directly; the Redis cache round-trips
// through JSON and hands back a generic map.
func decodeCached(value interface{}) *models.SubjectRecord {
	switch v := value.(type) {
	case *models.SubjectRecord:
		return v
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var payload subjectPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil
		}
		return payload.toRecord()
	default:
		return nil
	}
}
