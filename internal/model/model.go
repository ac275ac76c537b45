package model

import (
	"fmt"
	"time"
)

// ExportStatus is the lifecycle state of one export run.
type ExportStatus string

const (
	ExportStatusProcess  ExportStatus = "process"
	ExportStatusComplete ExportStatus = "complete"
	ExportStatusError    ExportStatus = "error"
)

// Allowed submission dimensions. Every submitted image is exactly one of
// these three aspect classes.
var AllowedSubmissionSizes = [][2]int{
	{1920, 1080},
	{1080, 1920},
	{1920, 1920},
}

// Collection is a single exhibition. Read-only input to the export
// pipeline.
type Collection struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	URL                  string    `json:"url"`
	Sequence             int       `json:"sequence"`
	FormActive           bool      `json:"formActive"`
	Visible              bool      `json:"visible"`
	SubmissionsPerAuthor int       `json:"submissionsPerAuthor"`
	Created              time.Time `json:"created"`
}

// Author is one exhibitor within a collection, one per (collection, user)
// pair. The ID is "<collectionId>.<userId>".
type Author struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	Comment      string    `json:"comment"`
	ImageID      string    `json:"imageId"`
	Created      time.Time `json:"created"`
}

// AuthorID builds the composite author identifier.
func AuthorID(collectionID, userID string) string {
	return fmt.Sprintf("%s.%s", collectionID, userID)
}

// Submission is one exhibited image. The ID is "<authorId>.<imageId>".
type Submission struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	AuthorID     string    `json:"authorId"`
	ImageID      string    `json:"imageId"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Sequence     int       `json:"sequence"`
	Comment      string    `json:"comment"`
	Created      time.Time `json:"created"`
}

// SubmissionID builds the composite submission identifier.
func SubmissionID(authorID, imageID string) string {
	return fmt.Sprintf("%s.%s", authorID, imageID)
}

// CollectionPath is one node of a collection's folder tree. Path is a
// slash-joined string and "" denotes the root; ancestry is derived from the
// string and never stored. SubmissionIDs is the explicit ordered assignment
// for this folder only.
type CollectionPath struct {
	CollectionID  string    `json:"collectionId"`
	Path          string    `json:"path"`
	SubmissionIDs []string  `json:"submissionIds"`
	Sequence      int       `json:"sequence"`
	Updated       time.Time `json:"timestamp"`
}

// NewCollectionPath creates an empty folder row.
func NewCollectionPath(collectionID, path string, sequence int) CollectionPath {
	return CollectionPath{
		CollectionID:  collectionID,
		Path:          path,
		SubmissionIDs: []string{},
		Sequence:      sequence,
		Updated:       time.Now(),
	}
}

// ExportRequest is one triggered export run, the unit placed on the work
// queue. Immutable once created.
type ExportRequest struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	Created      time.Time `json:"created"`
}

// ExportResult is the durable progress record of a run, created together
// with its request. Paths is the append-only list of folder paths exported
// so far; StartTime is stamped when a worker claims the run.
type ExportResult struct {
	ID           string       `json:"id"`
	CollectionID string       `json:"collectionId"`
	Status       ExportStatus `json:"status"`
	Paths        []string     `json:"paths"`
	Message      string       `json:"message,omitempty"`
	StartTime    *time.Time   `json:"startTime,omitempty"`
	EndTime      *time.Time   `json:"endTime,omitempty"`
	Updated      time.Time    `json:"timestamp"`
}
