package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/halmakey/pngin/internal/api/respond"
	"github.com/halmakey/pngin/internal/model"
	"github.com/halmakey/pngin/internal/repository/catalog"
)

// service defines the interface for export operations.
type service interface {
	Trigger(ctx context.Context, collectionID string) (model.ExportRequest, error)
	History(ctx context.Context, collectionID string) ([]model.ExportRequest, []model.ExportResult, error)
}

// Handler provides HTTP handlers for export endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// Trigger starts an export run for the collection and responds with the
// queued request.
func (h *Handler) Trigger(c *ginext.Context) {
	collectionID := c.Param("id")

	req, err := h.service.Trigger(c.Request.Context(), collectionID)
	if err != nil {
		if errors.Is(err, catalog.ErrCollectionNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("collection not found"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to trigger export")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to trigger export"))
		return
	}

	respond.Created(c, req)
}

// HistoryResponse pairs the collection's export requests with their results.
type HistoryResponse struct {
	Requests []model.ExportRequest `json:"requests"`
	Results  []model.ExportResult  `json:"results"`
}

// History returns the collection's export requests and results, newest
// first.
func (h *Handler) History(c *ginext.Context) {
	collectionID := c.Param("id")

	requests, results, err := h.service.History(c.Request.Context(), collectionID)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to load export history")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to load export history"))
		return
	}

	respond.OK(c, HistoryResponse{Requests: requests, Results: results})
}
