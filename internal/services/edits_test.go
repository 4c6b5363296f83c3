package services

import (
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"voicedesk/internal/domain"
)

func testSegments() []domain.Segment {
	gofakeit.Seed(11)
	mk := func(speaker string, offsetSec int64) domain.Segment {
		return domain.Segment{
			Current:       domain.SpeakerText{Speaker: speaker, Text: gofakeit.Sentence(6)},
			OffsetTicks:   offsetSec * domain.TicksPerSecond,
			DurationTicks: 3 * domain.TicksPerSecond,
		}
	}
	segments := []domain.Segment{
		mk("Guest-1", 0),
		mk("Guest-2", 5),
		mk("Guest-1", 10),
	}
	domain.AssignLineNumbers(segments)
	return segments
}

func testEngine() *EditEngine {
	engine := NewEditEngine()
	engine.now = func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) }
	return engine
}

func TestRenameThenReassignFoldsSpeakers(t *testing.T) {
	engine := testEngine()
	segments := testSegments()

	renamed, err := engine.Apply(segments, nil, RenameSpeaker{Old: "Guest-1", New: "Alice"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Entry.Action != domain.ActionBulkSpeakerRename {
		t.Errorf("rename action = %q", renamed.Entry.Action)
	}
	if renamed.Entry.SegmentCount != 2 {
		t.Errorf("rename segment count = %d", renamed.Entry.SegmentCount)
	}

	reassigned, err := engine.Apply(renamed.Segments, nil, ReassignSpeaker{Old: "Guest-2", New: "Alice"})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if reassigned.Entry.Action != domain.ActionBulkSpeakerReassignment {
		t.Errorf("reassign action = %q", reassigned.Entry.Action)
	}

	if len(reassigned.AvailableSpeakers) != 1 || reassigned.AvailableSpeakers[0] != "Alice" {
		t.Fatalf("available speakers = %v, want [Alice]", reassigned.AvailableSpeakers)
	}
	if len(reassigned.SpeakerStatistics) != 1 || reassigned.SpeakerStatistics[0].SegmentCount != 3 {
		t.Fatalf("statistics = %+v, want one speaker with 3 segments", reassigned.SpeakerStatistics)
	}
}

func TestRenameRejectsExistingTarget(t *testing.T) {
	engine := testEngine()

	_, err := engine.Apply(testSegments(), nil, RenameSpeaker{Old: "Guest-1", New: "Guest-2"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "reassignment") {
		t.Errorf("error should point at reassignment: %v", err)
	}
}

func TestDeleteSpeakerFallsBackToUnknown(t *testing.T) {
	engine := testEngine()

	outcome, err := engine.Apply(testSegments(), nil, DeleteSpeaker{Name: "Guest-1"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if outcome.Entry.Action != domain.ActionBulkSpeakerDelete {
		t.Errorf("delete action = %q", outcome.Entry.Action)
	}
	for _, idx := range []int{0, 2} {
		if outcome.Segments[idx].Current.Speaker != domain.UnknownSpeaker {
			t.Errorf("segment %d speaker = %q", idx, outcome.Segments[idx].Current.Speaker)
		}
	}

	if _, err := engine.Apply(outcome.Segments, nil, DeleteSpeaker{Name: domain.UnknownSpeaker}); !domain.IsValidation(err) {
		t.Errorf("the fallback speaker must not be deletable, got %v", err)
	}
}

func TestIndividualEditActions(t *testing.T) {
	engine := testEngine()
	base := testSegments()

	textOnly, err := engine.Apply(base, nil, EditSegmentText{Index: 0, NewText: "Corrected."})
	if err != nil {
		t.Fatalf("text edit: %v", err)
	}
	if textOnly.Entry.Action != domain.ActionSegmentEdit {
		t.Errorf("text edit action = %q", textOnly.Entry.Action)
	}
	if !textOnly.Segments[0].TextWasChanged() {
		t.Error("text change marker not set")
	}
	if textOnly.Segments[0].Original.Text != base[0].Current.Text {
		t.Errorf("original text not snapshotted: %q", textOnly.Segments[0].Original.Text)
	}

	speakerOnly, err := engine.Apply(base, nil, EditSegmentSpeaker{Index: 1, NewSpeaker: "Moderator"})
	if err != nil {
		t.Fatalf("speaker edit: %v", err)
	}
	if speakerOnly.Entry.Action != domain.ActionSpeakerChange {
		t.Errorf("speaker edit action = %q", speakerOnly.Entry.Action)
	}

	both, err := engine.Apply(base, nil, EditSegmentBoth{Index: 2, NewText: "New text.", NewSpeaker: "Moderator"})
	if err != nil {
		t.Fatalf("both edit: %v", err)
	}
	if both.Entry.Action != domain.ActionEditWithSpeakerChange {
		t.Errorf("both edit action = %q", both.Entry.Action)
	}
	if both.Entry.OldText == "" || both.Entry.OldSpeaker == "" {
		t.Errorf("audit entry missing old values: %+v", both.Entry)
	}
}

func TestBothEditThatOnlyChangesOneFieldAuditsTheChange(t *testing.T) {
	engine := testEngine()
	base := testSegments()

	outcome, err := engine.Apply(base, nil, EditSegmentBoth{Index: 0, NewText: base[0].Current.Text, NewSpeaker: "Alice"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome.Entry.Action != domain.ActionSpeakerChange {
		t.Errorf("action = %q, want %q", outcome.Entry.Action, domain.ActionSpeakerChange)
	}
}

func TestNoOpEditIsRejected(t *testing.T) {
	engine := testEngine()
	base := testSegments()

	_, err := engine.Apply(base, nil, EditSegmentText{Index: 0, NewText: base[0].Current.Text})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidationLimits(t *testing.T) {
	engine := testEngine()
	base := testSegments()

	longText := strings.Repeat("a", MaxSegmentTextLength+1)
	if _, err := engine.Apply(base, nil, EditSegmentText{Index: 0, NewText: longText}); !domain.IsValidation(err) {
		t.Errorf("over-long text accepted")
	}

	if _, err := engine.Apply(base, nil, EditSegmentSpeaker{Index: 0, NewSpeaker: "<script>"}); !domain.IsValidation(err) {
		t.Errorf("angle brackets accepted in speaker name")
	}

	longName := strings.Repeat("n", MaxSpeakerNameLength+1)
	if _, err := engine.Apply(base, nil, RenameSpeaker{Old: "Guest-1", New: longName}); !domain.IsValidation(err) {
		t.Errorf("over-long speaker name accepted")
	}
}

func TestEditsAreAtomic(t *testing.T) {
	engine := testEngine()
	base := testSegments()

	// One structurally invalid segment poisons the whole batch even when
	// the edit itself targets a valid one.
	poisoned := append([]domain.Segment(nil), base...)
	poisoned[2].OffsetTicks = -1

	_, err := engine.Apply(poisoned, nil, EditSegmentText{Index: 0, NewText: "fine"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if poisoned[0].Current.Text == "fine" {
		t.Error("rejected edit mutated the input")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	engine := testEngine()
	base := testSegments()
	originalSpeaker := base[0].Current.Speaker

	if _, err := engine.Apply(base, nil, RenameSpeaker{Old: "Guest-1", New: "Alice"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if base[0].Current.Speaker != originalSpeaker {
		t.Error("input segments were mutated")
	}
}

func TestLineNumbersReassignedAfterEdit(t *testing.T) {
	engine := testEngine()
	base := testSegments()
	base[0].LineNumber = 99

	outcome, err := engine.Apply(base, nil, RenameSpeaker{Old: "Guest-1", New: "Alice"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for i, seg := range outcome.Segments {
		if seg.LineNumber != i+1 {
			t.Errorf("segment %d line number = %d", i, seg.LineNumber)
		}
	}
}
