package types

// JobState is the normalized job state. The job-control API has its own
// state machine; NormalizeState folds its labels onto this smaller set.
type JobState string

const (
	StateQueuedDownload  JobState = "queued-download"
	StateDownloading     JobState = "downloading"
	StateUploading       JobState = "uploading"
	StateSeeding         JobState = "seeding"
	StateSeedingStalled  JobState = "seeding-stalled"
	StateSeedingQueued   JobState = "seeding-queued"
	StatePaused          JobState = "paused"
	StateStalledDownload JobState = "stalled-download"
	StateStopped         JobState = "stopped"
	StateChecking        JobState = "checking"
	StateError           JobState = "error"
	StateUnknown         JobState = "unknown"
)

// StateClass is the display class a state renders with.
type StateClass string

const (
	ClassQueued      StateClass = "queued"
	ClassDownloading StateClass = "downloading"
	ClassSeeding     StateClass = "seeding"
	ClassPaused      StateClass = "paused"
	ClassError       StateClass = "error"
)

// NormalizeState maps a raw qBittorrent state (or an already normalized
// one) to a JobState.
func NormalizeState(raw string) JobState {
	switch raw {
	case "downloading", "forcedDL", "metaDL", "forcedMetaDL", "allocating":
		return StateDownloading
	case "uploading":
		return StateUploading
	case "forcedUP", "seeding":
		return StateSeeding
	case "stalledUP", "seeding-stalled":
		return StateSeedingStalled
	case "queuedUP", "seeding-queued":
		return StateSeedingQueued
	case "pausedDL", "pausedUP", "paused":
		return StatePaused
	case "stoppedDL", "stoppedUP", "stopped":
		return StateStopped
	case "queuedDL", "queued-download", "queued":
		return StateQueuedDownload
	case "stalledDL", "stalled-download":
		return StateStalledDownload
	case "checkingDL", "checkingUP", "checkingResumeData", "moving", "checking":
		return StateChecking
	case "error", "missingFiles":
		return StateError
	}
	return StateUnknown
}

// Class returns the display class of s.
func (s JobState) Class() StateClass {
	switch s {
	case StateDownloading:
		return ClassDownloading
	case StateUploading, StateSeeding, StateSeedingStalled, StateSeedingQueued:
		return ClassSeeding
	case StatePaused, StateStopped:
		return ClassPaused
	case StateError:
		return ClassError
	}
	return ClassQueued
}

// Label returns the human readable label of s.
func (s JobState) Label() string {
	switch s {
	case StateQueuedDownload:
		return "Queued"
	case StateDownloading:
		return "Downloading"
	case StateUploading:
		return "Uploading"
	case StateSeeding:
		return "Seeding"
	case StateSeedingStalled:
		return "Seeding (stalled)"
	case StateSeedingQueued:
		return "Seeding (queued)"
	case StatePaused:
		return "Paused"
	case StateStalledDownload:
		return "Stalled"
	case StateStopped:
		return "Stopped"
	case StateChecking:
		return "Checking"
	case StateError:
		return "Error"
	}
	return "Unknown"
}

// Pausable reports whether the pause action applies to s.
func (s JobState) Pausable() bool {
	switch s {
	case StateDownloading, StateUploading, StateSeeding, StateSeedingStalled, StateSeedingQueued:
		return true
	}
	return false
}

// Resumable reports whether the resume action applies to s.
func (s JobState) Resumable() bool {
	switch s {
	case StatePaused, StateQueuedDownload, StateStalledDownload, StateStopped:
		return true
	}
	return false
}
