package pipeline

import (
	"strconv"
	"time"
)

type State int

const (
	Idle State = iota
	Recording
	Paused
	Processing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	case Paused:
		return "Paused"
	case Processing:
		return "Processing"
	case Stopped:
		return "Stopped"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

type EventType int

const (
	StateChanged EventType = iota
	PermissionNeeded
	Saved
	Discarded
	Error
)

func (t EventType) String() string {
	switch t {
	case StateChanged:
		return "state"
	case PermissionNeeded:
		return "permission"
	case Saved:
		return "saved"
	case Discarded:
		return "discarded"
	case Error:
		return "error"
	}
	return "EventType(" + strconv.Itoa(int(t)) + ")"
}

// Snapshot is what observers see of the current session.
type Snapshot struct {
	State      State
	Elapsed    time.Duration
	Transcript string
	// AudioPath is the artifact a saved note will own: the compressed file,
	// or the raw container when transcoding failed and it was kept.
	AudioPath string
	RawPath   string
	Duration  time.Duration
	Backend   string
	TimedOut  bool
	Err       error
}

type Event struct {
	Type     EventType
	State    State
	Snapshot Snapshot
	NoteID   string // Saved only
	Err      error
}
