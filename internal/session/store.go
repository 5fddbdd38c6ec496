// Package session keeps the per-user state of the current upload-to-result
// cycle. Every cycle gets a generation; results of a superseded generation
// are dropped instead of overwriting newer state.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/rekognify/internal/recognition"
)

// ErrStale is returned when a cycle has been superseded by a newer one.
var ErrStale = errors.New("session: cycle superseded")

// Status describes where the current cycle is.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Failure is the user-visible notification of a failed cycle.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Snapshot is a copy of a session's state.
type Snapshot struct {
	UserID     string              `json:"-"`
	Generation uint64              `json:"generation"`
	CycleID    string              `json:"cycle_id,omitempty"`
	ID         string              `json:"id,omitempty"`
	Loading    bool                `json:"loading"`
	Status     Status              `json:"status"`
	Filename   string              `json:"filename,omitempty"`
	Labels     []recognition.Label `json:"labels,omitempty"`
	Failure    *Failure            `json:"error,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Ticket identifies one cycle. It is handed to whoever applies the cycle's
// results.
type Ticket struct {
	UserID     string
	Generation uint64
	CycleID    string
}

type entry struct {
	snap   Snapshot
	cancel context.CancelFunc
}

// Store is the process-local session table.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*entry), now: time.Now}
}

func (s *Store) get(userID string) *entry {
	e, ok := s.sessions[userID]
	if !ok {
		e = &entry{snap: Snapshot{UserID: userID, Status: StatusIdle}}
		s.sessions[userID] = e
	}
	return e
}

// supersede advances the generation and cancels the previous cycle's work.
func (s *Store) supersede(e *entry) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.snap = Snapshot{
		UserID:     e.snap.UserID,
		Generation: e.snap.Generation + 1,
		Status:     StatusIdle,
		UpdatedAt:  s.now(),
	}
}

// Begin starts a new cycle for userID, superseding any cycle in flight.
func (s *Store) Begin(userID, filename string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(userID)
	s.supersede(e)
	e.snap.CycleID = uuid.NewString()
	e.snap.Loading = true
	e.snap.Status = StatusUploading
	e.snap.Filename = filename
	return Ticket{UserID: userID, Generation: e.snap.Generation, CycleID: e.snap.CycleID}
}

// Reset is the "new file selected" transition: id absent, not loading, and
// any in-flight cycle abandoned.
func (s *Store) Reset(userID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(userID)
	s.supersede(e)
	return e.snap
}

// current returns the entry when t still names the latest cycle.
func (s *Store) current(t Ticket) (*entry, bool) {
	e, ok := s.sessions[t.UserID]
	if !ok || e.snap.Generation != t.Generation {
		return nil, false
	}
	return e, true
}

// Publish records the uploaded id and the cancel func of the poll that will
// follow. It fails with ErrStale when the cycle was superseded meanwhile.
func (s *Store) Publish(t Ticket, id string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.current(t)
	if !ok {
		return ErrStale
	}
	e.snap.ID = id
	e.snap.Status = StatusProcessing
	e.snap.UpdatedAt = s.now()
	e.cancel = cancel
	return nil
}

// Complete applies labels to the session if t is still current.
func (s *Store) Complete(t Ticket, info *recognition.ImageInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.current(t)
	if !ok {
		return false
	}
	e.snap.Loading = false
	e.snap.Status = StatusCompleted
	e.snap.Labels = append([]recognition.Label(nil), info.Labels...)
	e.snap.Failure = nil
	e.snap.UpdatedAt = s.now()
	e.cancel = nil
	return true
}

// Fail records err as the cycle's notification if t is still current. A
// failure before the upload finished leaves the id absent.
func (s *Store) Fail(t Ticket, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.current(t)
	if !ok {
		return false
	}
	if e.snap.Status == StatusUploading {
		e.snap.ID = ""
	}
	e.snap.Loading = false
	e.snap.Status = StatusFailed
	e.snap.Failure = &Failure{Kind: FailureKind(err), Message: err.Error()}
	e.snap.UpdatedAt = s.now()
	e.cancel = nil
	return true
}

// Get returns a copy of the session of userID.
func (s *Store) Get(userID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return Snapshot{UserID: userID, Status: StatusIdle}
	}
	snap := e.snap
	snap.Labels = append([]recognition.Label(nil), e.snap.Labels...)
	if e.snap.Failure != nil {
		failure := *e.snap.Failure
		snap.Failure = &failure
	}
	return snap
}

// Close cancels every cycle in flight.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.sessions {
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
	}
}

// FailureKind names the error class shown to the user.
func FailureKind(err error) string {
	switch recognition.KindOf(err) {
	case recognition.ErrCredential:
		return "credential"
	case recognition.ErrTransfer:
		return "transfer"
	case recognition.ErrLookup:
		return "lookup"
	case recognition.ErrPollExhausted:
		return "poll_exhausted"
	}
	switch {
	case errors.Is(err, recognition.ErrUnsupportedMediaType), errors.Is(err, recognition.ErrEmptyPayload):
		return "validation"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}
