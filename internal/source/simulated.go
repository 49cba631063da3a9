package source

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// ErrSimulatedFailure is returned by the simulated source when it decides a
// fetch should fail.
var ErrSimulatedFailure = errors.New("simulated fetch failure")

// SimulatedConfig configures the simulated source.
type SimulatedConfig struct {
	FailureRate float64 // probability in [0,1] that a fetch fails
	Seed        int64
	Now         func() time.Time
}

type simJob struct {
	rec    types.JobRecord
	files  []types.FileEntry
	dlRate int64
}

// Simulated is an in-process JobAPI with downloads that advance on every
// fetch. It is used by the demo command and in tests.
type Simulated struct {
	mu       sync.Mutex
	jobs     []*simJob
	rng      *rand.Rand
	failRate float64
	now      func() time.Time
	last     time.Time
}

var simulatedCatalog = []struct {
	name     string
	category types.Category
	size     int64
}{
	{"Big.Buck.Bunny.2008.1080p.BluRay.x264", types.CategoryMovies, 928 << 20},
	{"Sintel.2010.720p.WEB-DL", types.CategoryMovies, 652 << 20},
	{"Tears.of.Steel.2012.2160p.HEVC", types.CategoryMovies, 6 << 30},
	{"Cosmos.Laundromat.S01E01.1080p.WEB-DL", types.CategoryTVShows, 1400 << 20},
	{"Night.Sky.S02.1080p.WEBRip", types.CategoryTVShows, 11 << 30},
	{"ubuntu-24.04-desktop-amd64.iso", types.CategoryOther, 5900 << 20},
}

// NewSimulated creates a simulated source pre-populated with a small catalog.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = now().UnixNano()
	}
	s := &Simulated{
		rng:      rand.New(rand.NewSource(seed)),
		failRate: cfg.FailureRate,
		now:      now,
	}
	start := now().Add(-time.Hour)
	for i, c := range simulatedCatalog {
		rate := int64(512<<10) + s.rng.Int63n(8<<20)
		s.jobs = append(s.jobs, &simJob{
			rec: types.JobRecord{
				ID:           types.JobID(fmt.Sprintf("%040x", i+1)),
				Name:         c.name,
				State:        types.StateDownloading,
				SizeBytes:    c.size,
				SeedCount:    5 + s.rng.Intn(200),
				PeerCount:    s.rng.Intn(40),
				DownloadRate: rate,
				ETASeconds:   -1,
				Category:     c.category,
				AddedAt:      start.Add(time.Duration(i) * 7 * time.Minute).Unix(),
			},
			files:  simulatedFiles(c.name, c.size),
			dlRate: rate,
		})
	}
	return s
}

func simulatedFiles(name string, size int64) []types.FileEntry {
	return []types.FileEntry{
		{ID: 0, Name: name + "/" + name + ".mkv", SizeBytes: size - 64<<10, Priority: types.PriorityNormal},
		{ID: 1, Name: name + "/" + name + ".nfo", SizeBytes: 32 << 10, Priority: types.PriorityNormal},
		{ID: 2, Name: name + "/sample.mkv", SizeBytes: 32 << 10, Priority: types.PrioritySkip},
	}
}

// FetchSnapshot implements SnapshotSource.
func (s *Simulated) FetchSnapshot(ctx context.Context) ([]types.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRate > 0 && s.rng.Float64() < s.failRate {
		return nil, ErrSimulatedFailure
	}

	now := s.now()
	elapsed := time.Second
	if !s.last.IsZero() {
		elapsed = now.Sub(s.last)
	}
	s.last = now

	out := make([]types.JobRecord, 0, len(s.jobs))
	for _, j := range s.jobs {
		s.advance(j, elapsed)
		out = append(out, j.rec)
	}
	return out, nil
}

func (s *Simulated) advance(j *simJob, elapsed time.Duration) {
	if j.rec.State != types.StateDownloading {
		return
	}
	done := float64(j.dlRate) * elapsed.Seconds() / float64(j.rec.SizeBytes)
	j.rec.Progress += done
	if j.rec.Progress >= 1 {
		j.rec.Progress = 1
		j.rec.State = types.StateSeeding
		j.rec.DownloadRate = 0
		j.rec.UploadRate = int64(64<<10) + s.rng.Int63n(1<<20)
		j.rec.ETASeconds = -1
		return
	}
	j.rec.DownloadRate = j.dlRate
	remaining := float64(j.rec.SizeBytes) * (1 - j.rec.Progress)
	j.rec.ETASeconds = int64(remaining / float64(j.dlRate))
}

func (s *Simulated) find(id types.JobID) (*simJob, int) {
	for i, j := range s.jobs {
		if j.rec.ID == id {
			return j, i
		}
	}
	return nil, -1
}

func unknownJob(cmd string, id types.JobID) error {
	return &types.CommandError{Command: cmd, JobID: id, Cause: errors.New("unknown job")}
}

// Pause implements CommandAPI.
func (s *Simulated) Pause(_ context.Context, id types.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, _ := s.find(id)
	if j == nil {
		return unknownJob("pause", id)
	}
	if !j.rec.State.Pausable() {
		return &types.CommandError{Command: "pause", JobID: id, Cause: fmt.Errorf("cannot pause in state %s", j.rec.State)}
	}
	if j.rec.Progress >= 1 {
		j.rec.State = types.StateStopped
	} else {
		j.rec.State = types.StatePaused
	}
	j.rec.DownloadRate, j.rec.UploadRate, j.rec.ETASeconds = 0, 0, -1
	return nil
}

// Resume implements CommandAPI.
func (s *Simulated) Resume(_ context.Context, id types.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, _ := s.find(id)
	if j == nil {
		return unknownJob("resume", id)
	}
	if !j.rec.State.Resumable() {
		return &types.CommandError{Command: "resume", JobID: id, Cause: fmt.Errorf("cannot resume in state %s", j.rec.State)}
	}
	if j.rec.Progress >= 1 {
		j.rec.State = types.StateSeeding
	} else {
		j.rec.State = types.StateDownloading
	}
	return nil
}

// Delete implements CommandAPI. deleteFiles has no effect in simulation.
func (s *Simulated) Delete(_ context.Context, id types.JobID, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, i := s.find(id)
	if i < 0 {
		return unknownJob("delete", id)
	}
	s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
	return nil
}

// ListFiles implements CommandAPI.
func (s *Simulated) ListFiles(_ context.Context, id types.JobID) ([]types.FileEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, _ := s.find(id)
	if j == nil {
		return nil, unknownJob("files", id)
	}
	files := make([]types.FileEntry, len(j.files))
	for i, f := range j.files {
		f.Progress = j.rec.Progress
		if f.Priority == types.PrioritySkip {
			f.Progress = 0
		}
		files[i] = f
	}
	return files, nil
}

// SetFilePriority implements CommandAPI.
func (s *Simulated) SetFilePriority(_ context.Context, id types.JobID, fileIDs []int, priority types.FilePriority) error {
	if !priority.Valid() {
		return &types.CommandError{Command: "priority", JobID: id, Cause: fmt.Errorf("invalid priority %d", priority)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, _ := s.find(id)
	if j == nil {
		return unknownJob("priority", id)
	}
	for _, fid := range fileIDs {
		if fid < 0 || fid >= len(j.files) {
			return &types.CommandError{Command: "priority", JobID: id, Cause: fmt.Errorf("unknown file %d", fid)}
		}
	}
	for _, fid := range fileIDs {
		j.files[fid].Priority = priority
	}
	return nil
}
