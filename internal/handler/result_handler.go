package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/model"
	"github.com/stemsi/drivertest-bot/internal/response"
	"github.com/stemsi/drivertest-bot/internal/validator"
)

const (
	defaultPerPage = 20
)

// ResultArchive is the read side of the PostgreSQL result archive.
type ResultArchive interface {
	List(ctx context.Context, page, perPage int, campaign string, telegramID int64) ([]model.ArchivedResult, int64, error)
	CampaignStats(ctx context.Context) ([]model.CampaignStats, error)
}

// ResultHandler exposes the archived results.
type ResultHandler struct {
	archive ResultArchive
	log     zerolog.Logger
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(archive ResultArchive, log zerolog.Logger) *ResultHandler {
	return &ResultHandler{
		archive: archive,
		log:     log.With().Str("component", "result_handler").Logger(),
	}
}

// ListResults godoc
// GET /api/v1/admin/results?page=&per_page=&campaign=&telegram_id=
func (h *ResultHandler) ListResults(c *gin.Context) {
	var q model.ResultListQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = defaultPerPage
	}

	results, total, err := h.archive.List(c.Request.Context(), q.Page, q.PerPage, q.Campaign, q.TelegramID)
	if err != nil {
		requestLog(c, h.log).Error().Err(err).Msg("Failed to list results")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if results == nil {
		results = []model.ArchivedResult{}
	}

	totalPages := int(total) / q.PerPage
	if int(total)%q.PerPage != 0 {
		totalPages++
	}

	response.SuccessWithPagination(c, http.StatusOK, results, &response.Pagination{
		Page:       q.Page,
		PerPage:    q.PerPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}

// CampaignStats godoc
// GET /api/v1/admin/stats/campaigns
func (h *ResultHandler) CampaignStats(c *gin.Context) {
	stats, err := h.archive.CampaignStats(c.Request.Context())
	if err != nil {
		requestLog(c, h.log).Error().Err(err).Msg("Failed to aggregate campaign stats")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if stats == nil {
		stats = []model.CampaignStats{}
	}
	response.Success(c, http.StatusOK, stats)
}
