// internal/handlers/api/v1/badges/badges_controller.go
package badges

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
	"go.uber.org/zap"

	"merithub/internal/contextutils"
	"merithub/internal/models"
	"merithub/internal/repositories"
	"merithub/internal/response"
	"merithub/internal/services"
)

// ===============================
// BADGES CONTROLLER
// ===============================

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// Controller exposes the badge governance HTTP surface
type Controller struct {
	badges services.BadgeService
	bulk   services.BulkService
	logger *zap.Logger
}

// NewController creates the badges controller
func NewController(badges services.BadgeService, bulk services.BulkService, logger *zap.Logger) *Controller {
	return &Controller{badges: badges, bulk: bulk, logger: logger}
}

// Routes mounts the controller's endpoints
func (c *Controller) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/definitions", func(r chi.Router) {
		r.Post("/", c.CreateDefinition)
		r.Get("/", c.ListDefinitions)
		r.Get("/{id}", c.GetDefinition)
		r.Put("/{id}", c.UpdateDefinition)
		r.Post("/{id}/activate", c.ActivateDefinition)
		r.Post("/{id}/deactivate", c.DeactivateDefinition)
	})

	r.Post("/awards", c.Award)
	r.Get("/awards", c.ListAwards)
	r.Post("/revoke", c.Revoke)
	r.Post("/bulk", c.Bulk)
	r.Get("/leaderboard", c.Leaderboard)

	return r
}

// ===============================
// DEFINITION ENDPOINTS
// ===============================

func (c *Controller) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req services.CreateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}

	def, err := c.badges.CreateDefinition(r.Context(), &req, contextutils.GetActor(r.Context()))
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, r, http.StatusCreated, def)
}

// listDefinitionsQuery is the query-string shape for definition listing
type listDefinitionsQuery struct {
	Category string `schema:"category"`
	Active   bool   `schema:"active"`
	Limit    int    `schema:"limit"`
	Offset   int    `schema:"offset"`
}

func (c *Controller) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	var query listDefinitionsQuery
	if err := queryDecoder.Decode(&query, r.URL.Query()); err != nil {
		response.WriteError(w, r, http.StatusBadRequest, "INVALID_QUERY", "query parameters are malformed")
		return
	}

	filter := repositories.DefinitionFilter{
		Category:   query.Category,
		ActiveOnly: query.Active,
		Pagination: models.PaginationParams{Limit: query.Limit, Offset: query.Offset},
	}
	defs, total, err := c.badges.ListDefinitions(r.Context(), filter, contextutils.GetActor(r.Context()))
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}

	filter.Pagination.Normalize()
	response.WriteJSON(w, r, http.StatusOK, response.ListPayload{
		Items: defs,
		Meta:  response.Meta{Total: total, Limit: filter.Pagination.Limit, Offset: filter.Pagination.Offset},
	})
}

func (c *Controller) GetDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	def, err := c.badges.GetDefinition(r.Context(), id, contextutils.GetActor(r.Context()))
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, r, http.StatusOK, def)
}

func (c *Controller) UpdateDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req services.UpdateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}

	def, err := c.badges.UpdateDefinition(r.Context(), id, &req, contextutils.GetActor(r.Context()))
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, r, http.StatusOK, def)
}

func (c *Controller) ActivateDefinition(w http.ResponseWriter, r *http.Request) {
	c.setDefinitionActive(w, r, true)
}

func (c *Controller) DeactivateDefinition(w http.ResponseWriter, r *http.Request) {
	c.setDefinitionActive(w, r, false)
}

func (c *Controller) setDefinitionActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := c.badges.SetDefinitionActive(r.Context(), id, active, contextutils.GetActor(r.Context())); err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, r, http.StatusOK, map[string]bool{"is_active": active})
}

// ===============================
// AWARD ENDPOINTS
// ===============================

func (c *Controller) Award(w http.ResponseWriter, r *http.Request) {
	var req services.AwardBadgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}

	award, err := c.badges.Award(r.Context(), &req, contextutils.GetActor(r.Context()))
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, r, http.StatusCreated, award)
}

func (c *Controller) Revoke(w http.ResponseWriter, r *http.Request) {
	var req services.RevokeBadgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}

	result, err := c.badges.Revoke(r.Context(), &req, contextutils.GetActor(r.Context()))
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, r, http.StatusOK, result)
}

// listAwardsQuery is the query-string shape for award listing
type listAwardsQuery struct {
	SubjectID *int64 `schema:"subject_id"`
	Limit     int    `schema:"limit"`
	Offset    int    `schema:"offset"`
}

func (c *Controller) ListAwards(w http.ResponseWriter, r *http.Request) {
	var query listAwardsQuery
	if err := queryDecoder.Decode(&query, r.URL.Query()); err != nil {
		response.WriteError(w, r, http.StatusBadRequest, "INVALID_QUERY", "query parameters are malformed")
		return
	}

	pagination := models.PaginationParams{Limit: query.Limit, Offset: query.Offset}
	awards, total, err := c.badges.ListAwards(r.Context(), query.SubjectID, pagination, contextutils.GetActor(r.Context()))
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}

	pagination.Normalize()
	response.WriteJSON(w, r, http.StatusOK, response.ListPayload{
		Items: awards,
		Meta:  response.Meta{Total: total, Limit: pagination.Limit, Offset: pagination.Offset},
	})
}

// ===============================
// BULK + LEADERBOARD
// ===============================

func (c *Controller) Bulk(w http.ResponseWriter, r *http.Request) {
	var req services.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}

	result, err := c.bulk.Run(r.Context(), &req, contextutils.GetActor(r.Context()))
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, r, http.StatusOK, result)
}

func (c *Controller) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := c.badges.Leaderboard(r.Context(), contextutils.GetActor(r.Context()))
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, r, http.StatusOK, entries)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.WriteError(w, r, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer")
		return 0, false
	}
	return id, true
}
