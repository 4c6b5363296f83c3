package session

import (
	"testing"

	"voicedesk/internal/domain"
	"voicedesk/internal/services"
)

func loadedState(t *testing.T) *State {
	t.Helper()

	segments := []domain.Segment{
		{Current: domain.SpeakerText{Speaker: "Guest-1", Text: "First."}},
		{Current: domain.SpeakerText{Speaker: "Guest-2", Text: "Second."}},
	}
	domain.AssignLineNumbers(segments)

	s := New(services.NewEditEngine())
	s.Replace(domain.TranscriptionResult{
		Success:           true,
		Segments:          segments,
		FullTranscript:    domain.BuildTranscript(segments),
		AvailableSpeakers: domain.AvailableSpeakers(segments, nil),
		SpeakerStatistics: domain.SpeakerStatistics(segments),
	})
	return s
}

func TestEmptySessionRejectsEdits(t *testing.T) {
	s := New(services.NewEditEngine())

	if _, ok := s.Snapshot(); ok {
		t.Error("empty session returned a snapshot")
	}
	if err := s.BeginEdit(0); !domain.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, _, err := s.ApplyEdit(services.EditSegmentText{Index: 0, NewText: "x"}); !domain.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSingleSegmentEditFocus(t *testing.T) {
	s := loadedState(t)

	if err := s.BeginEdit(0); err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	if phase, idx := s.Phase(); phase != PhaseEditing || idx != 0 {
		t.Fatalf("phase = %v/%d", phase, idx)
	}

	// Re-opening the same segment is a no-op; a different one is refused.
	if err := s.BeginEdit(0); err != nil {
		t.Errorf("re-opening the same segment: %v", err)
	}
	if err := s.BeginEdit(1); !domain.IsValidation(err) {
		t.Errorf("expected refusal for second segment, got %v", err)
	}

	s.CancelEdit()
	if phase, _ := s.Phase(); phase != PhaseLoaded {
		t.Errorf("cancel should return to loaded, got %v", phase)
	}
	if err := s.BeginEdit(1); err != nil {
		t.Errorf("begin after cancel: %v", err)
	}
}

func TestApplyEditAppendsAuditAndClosesFocus(t *testing.T) {
	s := loadedState(t)

	if err := s.BeginEdit(0); err != nil {
		t.Fatalf("begin edit: %v", err)
	}

	result, _, err := s.ApplyEdit(services.EditSegmentText{Index: 0, NewText: "Corrected."})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(result.AuditLog) != 1 {
		t.Fatalf("audit log length = %d", len(result.AuditLog))
	}
	if result.AuditLog[0].Action != domain.ActionSegmentEdit {
		t.Errorf("action = %q", result.AuditLog[0].Action)
	}
	if phase, _ := s.Phase(); phase != PhaseLoaded {
		t.Errorf("apply should close the editing focus, got %v", phase)
	}

	// A second edit accumulates.
	result, _, err = s.ApplyEdit(services.RenameSpeaker{Old: "Guest-1", New: "Alice"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if len(result.AuditLog) != 2 {
		t.Errorf("audit log length = %d", len(result.AuditLog))
	}
}

func TestFailedEditLeavesStateUntouched(t *testing.T) {
	s := loadedState(t)

	before, _ := s.Snapshot()
	if _, _, err := s.ApplyEdit(services.EditSegmentText{Index: 99, NewText: "x"}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	after, _ := s.Snapshot()
	if len(after.AuditLog) != len(before.AuditLog) {
		t.Error("failed edit appended to the audit log")
	}
	if after.Segments[0].Current.Text != before.Segments[0].Current.Text {
		t.Error("failed edit mutated segments")
	}
}

func TestReplaceDiscardsAuditLog(t *testing.T) {
	s := loadedState(t)

	if _, _, err := s.ApplyEdit(services.RenameSpeaker{Old: "Guest-1", New: "Alice"}); err != nil {
		t.Fatalf("rename: %v", err)
	}

	s.Replace(domain.TranscriptionResult{Success: true})
	result, ok := s.Snapshot()
	if !ok {
		t.Fatal("expected loaded state")
	}
	if len(result.AuditLog) != 0 {
		t.Errorf("replace must reset the audit log, got %d entries", len(result.AuditLog))
	}
}

func TestRetainSpeakerSurvivesWithZeroSegments(t *testing.T) {
	s := loadedState(t)
	s.RetainSpeaker("Producer")

	result, _, err := s.ApplyEdit(services.RenameSpeaker{Old: "Guest-1", New: "Alice"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}

	found := false
	for _, name := range result.AvailableSpeakers {
		if name == "Producer" {
			found = true
		}
	}
	if !found {
		t.Errorf("retained speaker missing from %v", result.AvailableSpeakers)
	}
}

func TestBulkOperationsMaintainRetainedSpeakers(t *testing.T) {
	s := loadedState(t)
	s.RetainSpeaker("Guest-1")
	s.RetainSpeaker("Guest-2")

	// Rename substitutes the retained name; the old one must not linger.
	result, _, err := s.ApplyEdit(services.RenameSpeaker{Old: "Guest-1", New: "Alice"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	want := []string{"Alice", "Guest-2"}
	if len(result.AvailableSpeakers) != len(want) {
		t.Fatalf("after rename: %v, want %v", result.AvailableSpeakers, want)
	}
	for i := range want {
		if result.AvailableSpeakers[i] != want[i] {
			t.Fatalf("after rename: %v, want %v", result.AvailableSpeakers, want)
		}
	}

	// Reassign folds the speakers and drops the source name.
	result, _, err = s.ApplyEdit(services.ReassignSpeaker{Old: "Guest-2", New: "Alice"})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if len(result.AvailableSpeakers) != 1 || result.AvailableSpeakers[0] != "Alice" {
		t.Fatalf("after reassign: %v, want [Alice]", result.AvailableSpeakers)
	}
}

func TestDeleteSpeakerDropsRetainedName(t *testing.T) {
	s := loadedState(t)
	s.RetainSpeaker("Guest-2")

	result, _, err := s.ApplyEdit(services.DeleteSpeaker{Name: "Guest-2"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, name := range result.AvailableSpeakers {
		if name == "Guest-2" {
			t.Fatalf("deleted speaker survived in %v", result.AvailableSpeakers)
		}
	}
	want := []string{"Guest-1", domain.UnknownSpeaker}
	if len(result.AvailableSpeakers) != len(want) {
		t.Fatalf("after delete: %v, want %v", result.AvailableSpeakers, want)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := loadedState(t)

	snap, _ := s.Snapshot()
	snap.Segments[0].Current.Text = "tampered"

	again, _ := s.Snapshot()
	if again.Segments[0].Current.Text == "tampered" {
		t.Error("snapshot shares backing storage with the session")
	}
}

func TestClear(t *testing.T) {
	s := loadedState(t)
	s.Clear()

	if phase, _ := s.Phase(); phase != PhaseEmpty {
		t.Errorf("phase after clear = %v", phase)
	}
	if _, ok := s.Snapshot(); ok {
		t.Error("cleared session returned a snapshot")
	}
}
