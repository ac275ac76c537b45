package model

// Fixed page geometry for exported videos. Submission pages are a 6x6 grid
// of 720x720 tiles, author credit pages an 8x14 grid of 540x308 tiles; both
// render onto the same 4320x4320 canvas, one page per video second.
const (
	CanvasWidth  = 4320
	CanvasHeight = 4320

	SubmissionTileWidth  = 720
	SubmissionTileHeight = 720
	SubmissionsPerPage   = 6 * 6

	AuthorTileWidth  = 540
	AuthorTileHeight = 308
	AuthorsPerPage   = 8 * 14

	// Author credit images are exported at a fixed size.
	AuthorImageWidth  = 700
	AuthorImageHeight = 400
)

// ExportRecord is the manifest written next to each exported video. The
// downstream player correlates Sequence values with tile positions in the
// video frames, so field meanings here are load-bearing.
type ExportRecord struct {
	ExportID    string                   `json:"exportId"`
	Path        string                   `json:"path"`
	Timestamp   int64                    `json:"timestamp"`
	Submissions []ExportSubmissionRecord `json:"submissions"`
	Authors     []ExportAuthorRecord     `json:"authors"`
	// AuthorPage is the page (= second) index where the author credit
	// section begins, i.e. the number of submission pages.
	AuthorPage int `json:"authorPage"`
}

// ExportSubmissionRecord is one exhibited work within a manifest.
type ExportSubmissionRecord struct {
	ID       string             `json:"id"`
	Path     string             `json:"path"`
	ImageID  string             `json:"imageId"`
	Width    int                `json:"width"`
	Height   int                `json:"height"`
	Sequence int                `json:"sequence"`
	Author   ExportAuthorRecord `json:"author"`
}

// ExportAuthorRecord is one exhibitor credit within a manifest.
type ExportAuthorRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageID  string `json:"imageId"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Sequence int    `json:"sequence"`
}
