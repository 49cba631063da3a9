// ============================================================================
// jobwatch Job Source Interfaces
// ============================================================================
//
// Package: internal/source
// File: source.go
// Purpose: Defines the boundary to the external job-control API.
//
// Motivation:
//   The poller and the command endpoints must not care which job-control
//   API they talk to. Two implementations exist:
//
//   - QBittorrent: the qBittorrent Web API v2 over HTTP.
//   - Simulated: an in-process fleet of fake downloads for demos and tests.
//
// ============================================================================

package source

import (
	"context"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// SnapshotSource produces the current ordered list of jobs.
type SnapshotSource interface {
	// FetchSnapshot returns every job known to the job-control API in the
	// API's own order. It must respect ctx cancellation.
	FetchSnapshot(ctx context.Context) ([]types.JobRecord, error)
}

// CommandAPI issues control commands against individual jobs.
//
// Every method returns a *types.CommandError on failure so callers can
// report which command and which job failed.
type CommandAPI interface {
	Pause(ctx context.Context, id types.JobID) error
	Resume(ctx context.Context, id types.JobID) error
	Delete(ctx context.Context, id types.JobID, deleteFiles bool) error
	ListFiles(ctx context.Context, id types.JobID) ([]types.FileEntry, error)
	SetFilePriority(ctx context.Context, id types.JobID, fileIDs []int, priority types.FilePriority) error
}

// JobAPI is the complete job-control surface.
type JobAPI interface {
	SnapshotSource
	CommandAPI
}
