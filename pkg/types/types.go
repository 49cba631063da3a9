// Package types defines the domain model shared by the jobwatch server and client.
package types

import (
	"strings"
	"time"
)

// JobID is the opaque, snapshot-unique identifier of a download job.
type JobID string

// Category groups jobs in the dashboard.
type Category string

const (
	CategoryMovies  Category = "movies"
	CategoryTVShows Category = "tv_shows"
	CategoryOther   Category = "other"
)

// Categories is the fixed display order of dashboard sections.
var Categories = [...]Category{CategoryMovies, CategoryTVShows, CategoryOther}

// Index returns the position of c in the display order.
func (c Category) Index() int {
	switch c {
	case CategoryMovies:
		return 0
	case CategoryTVShows:
		return 1
	default:
		return 2
	}
}

// ParseCategory maps a raw category label onto a known category.
// Anything unrecognized, including the empty string, is CategoryOther.
func ParseCategory(raw string) Category {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "movies", "movie", "films":
		return CategoryMovies
	case "tv_shows", "tv", "tv shows", "tv-shows", "series", "shows":
		return CategoryTVShows
	default:
		return CategoryOther
	}
}

// Enrichment is optional media metadata attached to a job.
type Enrichment struct {
	PosterURL   string   `json:"posterUrl,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	Description string   `json:"description,omitempty"`
}

// JobRecord is one job as seen at a single poll tick.
type JobRecord struct {
	ID           JobID       `json:"id"`
	Name         string      `json:"name"`
	State        JobState    `json:"state"`
	Progress     float64     `json:"progress"` // [0,1]
	SizeBytes    int64       `json:"sizeBytes"`
	SeedCount    int         `json:"seedCount"`
	PeerCount    int         `json:"peerCount"`
	DownloadRate int64       `json:"downloadRate"` // bytes/s
	UploadRate   int64       `json:"uploadRate"`   // bytes/s
	ETASeconds   int64       `json:"etaSeconds"`   // -1 = unbounded
	Category     Category    `json:"category"`
	AddedAt      int64       `json:"addedAt"` // unix seconds, 0 if unknown
	Enrichment   *Enrichment `json:"enrichment,omitempty"`
}

// Normalize clamps progress and fills defaults for fields the source may omit.
func (r JobRecord) Normalize() JobRecord {
	if r.Progress < 0 {
		r.Progress = 0
	}
	if r.Progress > 1 {
		r.Progress = 1
	}
	r.Category = ParseCategory(string(r.Category))
	if r.State == "" {
		r.State = StateUnknown
	}
	if r.AddedAt < 0 {
		r.AddedAt = 0
	}
	return r
}

// Snapshot is the complete ordered set of job records of one poll tick.
type Snapshot struct {
	Jobs      []JobRecord `json:"jobs"`
	FetchedAt time.Time   `json:"fetchedAt"`
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Jobs)
}

// FilePriority is the download priority of a single file within a job.
type FilePriority int

const (
	PrioritySkip    FilePriority = 0
	PriorityNormal  FilePriority = 1
	PriorityHigh    FilePriority = 6
	PriorityMaximum FilePriority = 7
)

// Valid reports whether p is one of the priorities the job-control API accepts.
func (p FilePriority) Valid() bool {
	switch p {
	case PrioritySkip, PriorityNormal, PriorityHigh, PriorityMaximum:
		return true
	}
	return false
}

func (p FilePriority) String() string {
	switch p {
	case PrioritySkip:
		return "skip"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityMaximum:
		return "maximum"
	}
	return "invalid"
}

// FileEntry is one file inside a job.
type FileEntry struct {
	ID        int          `json:"id"`
	Name      string       `json:"name"`
	SizeBytes int64        `json:"sizeBytes"`
	Progress  float64      `json:"progress"`
	Priority  FilePriority `json:"priority"`
}

// CommandResult is the reply body of every mutating command endpoint.
type CommandResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FileList is the reply body of the listFiles endpoint.
type FileList struct {
	Files []FileEntry `json:"files"`
	Error string      `json:"error,omitempty"`
}
