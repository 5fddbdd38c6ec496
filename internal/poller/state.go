package poller

import (
	"errors"

	"github.com/example/rekognify/internal/recognition"
)

// Phase is the coarse state of a poll.
type Phase int

const (
	Polling Phase = iota
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Polling:
		return "polling"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is one node of the poll state machine. Attempt counts the status
// queries already answered with not-ready.
type State struct {
	Phase   Phase
	Attempt int
	Info    *recognition.ImageInfo
	Err     error
}

// Terminal reports whether no further query will be made.
func (s State) Terminal() bool {
	return s.Phase != Polling
}

// Next is the transition taken from s once the status query issued in s
// answers with (info, err). Only the not-ready signal below the retry ceiling
// keeps the machine polling.
func (p Policy) Next(id string, s State, info *recognition.ImageInfo, err error) State {
	if s.Terminal() {
		return s
	}

	switch {
	case err == nil && info == nil:
		return State{Phase: Failed, Attempt: s.Attempt, Err: recognition.NewLookupError(id, 0, errors.New("empty result"))}
	case err == nil:
		return State{Phase: Succeeded, Attempt: s.Attempt, Info: info}
	case errors.Is(err, recognition.ErrNotReady) && s.Attempt < p.MaxRetries:
		return State{Phase: Polling, Attempt: s.Attempt + 1}
	case errors.Is(err, recognition.ErrNotReady):
		return State{Phase: Failed, Attempt: s.Attempt, Err: recognition.NewPollExhausted(id, s.Attempt+1)}
	case recognition.KindOf(err) != nil:
		return State{Phase: Failed, Attempt: s.Attempt, Err: err}
	default:
		return State{Phase: Failed, Attempt: s.Attempt, Err: recognition.NewLookupError(id, 0, err)}
	}
}
