package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"movies":   CategoryMovies,
		"Movie":    CategoryMovies,
		"tv_shows": CategoryTVShows,
		" TV ":     CategoryTVShows,
		"":         CategoryOther,
		"music":    CategoryOther,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseCategory(raw), "raw=%q", raw)
	}
}

func TestCategoryIndexFollowsDisplayOrder(t *testing.T) {
	for i, c := range Categories {
		assert.Equal(t, i, c.Index())
	}
	assert.Equal(t, 2, Category("bogus").Index())
}

func TestNormalizeRecord(t *testing.T) {
	r := JobRecord{ID: "a", Progress: 1.7, AddedAt: -5, Category: "weird"}.Normalize()

	assert.Equal(t, 1.0, r.Progress)
	assert.Equal(t, int64(0), r.AddedAt)
	assert.Equal(t, CategoryOther, r.Category)
	assert.Equal(t, StateUnknown, r.State)
}

func TestNormalizeState(t *testing.T) {
	cases := map[string]JobState{
		"downloading":  StateDownloading,
		"forcedDL":     StateDownloading,
		"uploading":    StateUploading,
		"stalledUP":    StateSeedingStalled,
		"queuedUP":     StateSeedingQueued,
		"pausedDL":     StatePaused,
		"stoppedUP":    StateStopped,
		"queuedDL":     StateQueuedDownload,
		"stalledDL":    StateStalledDownload,
		"missingFiles": StateError,
		"seeding":      StateSeeding,
		"???":          StateUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeState(raw), "raw=%q", raw)
	}
}

func TestPauseAndResumeAreExclusive(t *testing.T) {
	all := []JobState{
		StateQueuedDownload, StateDownloading, StateUploading, StateSeeding,
		StateSeedingStalled, StateSeedingQueued, StatePaused, StateStalledDownload,
		StateStopped, StateChecking, StateError, StateUnknown,
	}
	for _, s := range all {
		assert.False(t, s.Pausable() && s.Resumable(), "state %s offers both", s)
	}
	assert.True(t, StateSeeding.Pausable())
	assert.True(t, StateStopped.Resumable())
	assert.False(t, StateError.Pausable())
	assert.False(t, StateError.Resumable())
}

func TestStateClass(t *testing.T) {
	assert.Equal(t, ClassSeeding, StateUploading.Class())
	assert.Equal(t, ClassPaused, StateStopped.Class())
	assert.Equal(t, ClassQueued, StateStalledDownload.Class())
	assert.Equal(t, ClassError, StateError.Class())
}

func TestFilePriorityValid(t *testing.T) {
	for _, p := range []FilePriority{0, 1, 6, 7} {
		assert.True(t, p.Valid())
	}
	for _, p := range []FilePriority{-1, 2, 5, 8} {
		assert.False(t, p.Valid())
	}
}

func TestCommandErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", &CommandError{Command: "pause", JobID: "abc", Cause: ErrUnauthorized})

	assert.True(t, IsUnauthorized(err))
	var cmdErr *CommandError
	assert.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, JobID("abc"), cmdErr.JobID)
	assert.Contains(t, err.Error(), "pause")
}
