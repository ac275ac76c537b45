package path

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/halmakey/pngin/internal/api/respond"
	"github.com/halmakey/pngin/internal/model"
	"github.com/halmakey/pngin/internal/pathtree"
	pathsvc "github.com/halmakey/pngin/internal/service/path"
)

// service defines the interface for folder tree operations.
type service interface {
	ListPaths(ctx context.Context, collectionID string) ([]model.CollectionPath, error)
	ChildrenAt(ctx context.Context, collectionID string, depth int, under string) ([]model.CollectionPath, error)
	CreatePath(ctx context.Context, collectionID, path string) (model.CollectionPath, error)
	DeletePath(ctx context.Context, collectionID, path string) error
	ReorderPaths(ctx context.Context, collectionID, primary string, moving []string, target string) error
	AssignSubmissions(ctx context.Context, collectionID, targetPath string, submissionIDs []string) error
	ReorderSubmissions(ctx context.Context, collectionID, path, primary string, moving []string, target string) error
}

// Handler provides HTTP handlers for folder tree endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// List returns the collection's folder rows. With a "depth" query parameter
// it returns only the rows one level below that depth, optionally scoped by
// "under".
func (h *Handler) List(c *ginext.Context) {
	collectionID := c.Param("id")

	if depthStr := c.Query("depth"); depthStr != "" {
		depth, err := strconv.Atoi(depthStr)
		if err != nil || depth < 0 {
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid depth: %q", depthStr))
			return
		}

		rows, err := h.service.ChildrenAt(c.Request.Context(), collectionID, depth, c.Query("under"))
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to list children")
			respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to list paths"))
			return
		}
		respond.OK(c, rows)
		return
	}

	rows, err := h.service.ListPaths(c.Request.Context(), collectionID)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to list paths")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to list paths"))
		return
	}

	respond.OK(c, rows)
}

// CreateRequest is the body for creating a folder.
type CreateRequest struct {
	Path string `json:"path"`
}

// Create adds a folder to the collection's tree.
func (h *Handler) Create(c *ginext.Context) {
	collectionID := c.Param("id")

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	created, err := h.service.CreatePath(c.Request.Context(), collectionID, req.Path)
	if err != nil {
		if isPolicyError(err) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Msg("failed to create path")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to create path"))
		return
	}

	respond.Created(c, created)
}

// Delete removes a folder and its subtree, folding the submissions into the
// parent.
func (h *Handler) Delete(c *ginext.Context) {
	collectionID := c.Param("id")

	path := c.Query("path")
	if path == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("path query parameter is required"))
		return
	}

	if err := h.service.DeletePath(c.Request.Context(), collectionID, path); err != nil {
		if isPolicyError(err) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Msg("failed to delete path")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to delete path"))
		return
	}

	c.Status(http.StatusNoContent)
}

// ReorderRequest is a drag and drop of folders or submissions: Primary is
// the grabbed id, Moving the whole selection, Target the drop position.
type ReorderRequest struct {
	Primary string   `json:"primary"`
	Moving  []string `json:"moving"`
	Target  string   `json:"target"`
}

// Reorder moves a selection of sibling folders next to a target folder.
func (h *Handler) Reorder(c *ginext.Context) {
	collectionID := c.Param("id")

	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	if err := h.service.ReorderPaths(c.Request.Context(), collectionID, req.Primary, req.Moving, req.Target); err != nil {
		if isPolicyError(err) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Msg("failed to reorder paths")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to reorder paths"))
		return
	}

	c.Status(http.StatusNoContent)
}

// AssignRequest is the body for moving submissions into a folder.
type AssignRequest struct {
	Path          string   `json:"path"`
	SubmissionIDs []string `json:"submissionIds"`
}

// Assign moves submissions into a folder, removing them from any other.
func (h *Handler) Assign(c *ginext.Context) {
	collectionID := c.Param("id")

	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	if err := h.service.AssignSubmissions(c.Request.Context(), collectionID, req.Path, req.SubmissionIDs); err != nil {
		if errors.Is(err, pathsvc.ErrInvalidPath) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}
		if isNotFound(err) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("path not found"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to assign submissions")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to assign submissions"))
		return
	}

	c.Status(http.StatusNoContent)
}

// ReorderSubmissionsRequest is the body for a drag and drop inside one
// folder's submission list.
type ReorderSubmissionsRequest struct {
	Path    string   `json:"path"`
	Primary string   `json:"primary"`
	Moving  []string `json:"moving"`
	Target  string   `json:"target"`
}

// ReorderSubmissions reorders a folder's submission list.
func (h *Handler) ReorderSubmissions(c *ginext.Context) {
	collectionID := c.Param("id")

	var req ReorderSubmissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	if err := h.service.ReorderSubmissions(c.Request.Context(), collectionID, req.Path, req.Primary, req.Moving, req.Target); err != nil {
		if isPolicyError(err) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Msg("failed to reorder submissions")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to reorder submissions"))
		return
	}

	c.Status(http.StatusNoContent)
}

func isPolicyError(err error) bool {
	return errors.Is(err, pathsvc.ErrInvalidPath) ||
		errors.Is(err, pathsvc.ErrPathTooDeep) ||
		errors.Is(err, pathsvc.ErrTooManyPaths)
}

func isNotFound(err error) bool {
	return errors.Is(err, pathtree.ErrPathNotFound)
}
