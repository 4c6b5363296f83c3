// Package session holds the server-side working copy of the transcript a
// client is editing. One session exists per deployment: the app is a
// single-operator desk tool, so the working copy is a process-wide
// singleton guarded by a mutex.
package session

import (
	"fmt"
	"sync"

	"voicedesk/internal/domain"
	"voicedesk/internal/services"
)

// Phase is the lifecycle state of the working copy.
type Phase string

const (
	// PhaseEmpty means no transcript is loaded.
	PhaseEmpty Phase = "empty"
	// PhaseLoaded means a transcript is loaded and open for edits.
	PhaseLoaded Phase = "loaded"
	// PhaseEditing means one segment is held open for an individual edit.
	// Only one segment can be mid-edit at a time.
	PhaseEditing Phase = "editing"
)

// State is the mutable working copy plus its edit bookkeeping.
type State struct {
	engine *services.EditEngine

	mu           sync.Mutex
	phase        Phase
	editingIndex int
	result       domain.TranscriptionResult
	retained     []string
}

func New(engine *services.EditEngine) *State {
	return &State{
		engine:       engine,
		phase:        PhaseEmpty,
		editingIndex: -1,
	}
}

// Replace installs a freshly assembled transcript, discarding any previous
// working copy including its audit log. An in-flight segment edit is
// abandoned.
func (s *State) Replace(result domain.TranscriptionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.AuditLog == nil {
		result.AuditLog = []domain.AuditEntry{}
	}
	s.result = result
	s.retained = nil
	s.phase = PhaseLoaded
	s.editingIndex = -1
}

// Clear drops the working copy entirely.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.result = domain.TranscriptionResult{}
	s.retained = nil
	s.phase = PhaseEmpty
	s.editingIndex = -1
}

// Snapshot returns a copy of the current working copy; ok is false when
// nothing is loaded.
func (s *State) Snapshot() (domain.TranscriptionResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseEmpty {
		return domain.TranscriptionResult{}, false
	}
	return s.copyResultLocked(), true
}

// Phase returns the current lifecycle state and, when editing, the index of
// the segment held open.
func (s *State) Phase() (Phase, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.editingIndex
}

// BeginEdit opens one segment for an individual edit. A second segment
// cannot be opened until the first is committed or cancelled.
func (s *State) BeginEdit(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseEmpty:
		return &domain.ValidationError{Field: "session", Reason: "no transcript is loaded"}
	case PhaseEditing:
		if s.editingIndex != index {
			return &domain.ValidationError{
				Field:  "segmentIndex",
				Reason: fmt.Sprintf("segment %d is already being edited", s.editingIndex),
			}
		}
		return nil
	}

	if index < 0 || index >= len(s.result.Segments) {
		return &domain.ValidationError{
			Field:  "segmentIndex",
			Reason: fmt.Sprintf("index %d out of range (%d segments)", index, len(s.result.Segments)),
		}
	}

	s.phase = PhaseEditing
	s.editingIndex = index
	return nil
}

// CancelEdit releases the segment held open without applying anything.
func (s *State) CancelEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseEditing {
		s.phase = PhaseLoaded
		s.editingIndex = -1
	}
}

// ApplyEdit runs one edit through the engine against the working copy.
// Successful edits append to the audit log and return the recomputed view;
// failed edits leave the working copy untouched. An individual segment edit
// also closes the editing focus.
func (s *State) ApplyEdit(edit services.Edit) (domain.TranscriptionResult, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseEmpty {
		return domain.TranscriptionResult{}, "", &domain.ValidationError{Field: "session", Reason: "no transcript is loaded"}
	}

	outcome, err := s.engine.Apply(s.result.Segments, s.retained, edit)
	if err != nil {
		return domain.TranscriptionResult{}, "", err
	}

	s.result.Segments = outcome.Segments
	s.result.SpeakerStatistics = outcome.SpeakerStatistics
	s.result.FullTranscript = outcome.FullTranscript
	if outcome.Entry != nil {
		s.result.AuditLog = append(s.result.AuditLog, *outcome.Entry)
	}

	// Bulk operations maintain the retained set: a renamed-away or deleted
	// name must not linger in availableSpeakers.
	switch op := edit.(type) {
	case services.RenameSpeaker:
		s.substituteRetainedLocked(op.Old, op.New)
	case services.ReassignSpeaker:
		s.dropRetainedLocked(op.Old)
	case services.DeleteSpeaker:
		s.dropRetainedLocked(op.Name)
	}
	s.result.AvailableSpeakers = domain.AvailableSpeakers(s.result.Segments, s.retained)

	if s.phase == PhaseEditing {
		s.phase = PhaseLoaded
		s.editingIndex = -1
	}

	return s.copyResultLocked(), outcome.Message, nil
}

// RetainSpeaker keeps a name in the available-speaker set even when no
// segment currently carries it.
func (s *State) RetainSpeaker(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.retained {
		if existing == name {
			return
		}
	}
	s.retained = append(s.retained, name)
	s.result.AvailableSpeakers = domain.AvailableSpeakers(s.result.Segments, s.retained)
}

func (s *State) substituteRetainedLocked(old, new string) {
	for i, name := range s.retained {
		if name == old {
			s.retained[i] = new
			return
		}
	}
}

func (s *State) dropRetainedLocked(name string) {
	kept := s.retained[:0]
	for _, existing := range s.retained {
		if existing != name {
			kept = append(kept, existing)
		}
	}
	s.retained = kept
}

func (s *State) copyResultLocked() domain.TranscriptionResult {
	out := s.result
	out.Segments = append([]domain.Segment(nil), s.result.Segments...)
	out.AvailableSpeakers = append([]string(nil), s.result.AvailableSpeakers...)
	out.SpeakerStatistics = append([]domain.SpeakerInfo(nil), s.result.SpeakerStatistics...)
	out.AuditLog = append([]domain.AuditEntry(nil), s.result.AuditLog...)
	return out
}
