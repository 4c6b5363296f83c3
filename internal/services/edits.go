package services

import (
	"fmt"
	"strings"
	"time"

	"voicedesk/internal/domain"
)

// Validation limits for edit input.
const (
	MaxSpeakerNameLength = 100
	MaxSegmentTextLength = 10000
)

// Edit is one transcript mutation. The concrete type decides whether the
// change is a bulk speaker operation or an individual segment edit, which
// in turn decides how it is audited.
type Edit interface {
	editKind() string
}

// RenameSpeaker relabels every segment of one speaker with a name not yet
// in use.
type RenameSpeaker struct {
	Old string
	New string
}

// ReassignSpeaker moves every segment of one speaker onto another existing
// speaker, folding the two together.
type ReassignSpeaker struct {
	Old string
	New string
}

// DeleteSpeaker removes a speaker; their segments fall back to the
// unknown-speaker sentinel.
type DeleteSpeaker struct {
	Name string
}

// EditSegmentText replaces one segment's text.
type EditSegmentText struct {
	Index   int
	NewText string
}

// EditSegmentSpeaker replaces one segment's speaker.
type EditSegmentSpeaker struct {
	Index      int
	NewSpeaker string
}

// EditSegmentBoth replaces one segment's text and speaker together.
type EditSegmentBoth struct {
	Index      int
	NewText    string
	NewSpeaker string
}

func (RenameSpeaker) editKind() string      { return "rename_speaker" }
func (ReassignSpeaker) editKind() string    { return "reassign_speaker" }
func (DeleteSpeaker) editKind() string      { return "delete_speaker" }
func (EditSegmentText) editKind() string    { return "edit_text" }
func (EditSegmentSpeaker) editKind() string { return "edit_speaker" }
func (EditSegmentBoth) editKind() string    { return "edit_both" }

// EditOutcome is the recomputed transcript state after an applied edit,
// with the audit entry describing the change.
type EditOutcome struct {
	Segments          []domain.Segment
	AvailableSpeakers []string
	SpeakerStatistics []domain.SpeakerInfo
	FullTranscript    string
	Entry             *domain.AuditEntry
	Message           string
}

// EditEngine applies transcript edits. It is stateless: callers pass the
// current segments in and receive a fully recomputed view back. Edits are
// atomic — validation failures leave the input untouched.
type EditEngine struct {
	now func() time.Time
}

func NewEditEngine() *EditEngine {
	return &EditEngine{now: time.Now}
}

// Apply validates and executes one edit against a copy of segments.
// retained carries speaker names that must survive in the available set
// even with zero segments (a renamed-away speaker's new name before any
// reassignment, for example).
func (e *EditEngine) Apply(segments []domain.Segment, retained []string, edit Edit) (EditOutcome, error) {
	if err := validateSegments(segments); err != nil {
		return EditOutcome{}, err
	}

	working := append([]domain.Segment(nil), segments...)
	var entry *domain.AuditEntry
	var message string
	var err error

	switch op := edit.(type) {
	case RenameSpeaker:
		entry, message, err = e.renameSpeaker(working, retained, op)
	case ReassignSpeaker:
		entry, message, err = e.reassignSpeaker(working, op)
	case DeleteSpeaker:
		entry, message, err = e.deleteSpeaker(working, op)
	case EditSegmentText:
		entry, message, err = e.editSegment(working, op.Index, op.NewText, "", false)
	case EditSegmentSpeaker:
		entry, message, err = e.editSegment(working, op.Index, "", op.NewSpeaker, true)
	case EditSegmentBoth:
		entry, message, err = e.editSegment(working, op.Index, op.NewText, op.NewSpeaker, true)
	default:
		err = &domain.ValidationError{Field: "edit", Reason: fmt.Sprintf("unsupported edit type %T", edit)}
	}
	if err != nil {
		return EditOutcome{}, err
	}

	domain.AssignLineNumbers(working)
	return EditOutcome{
		Segments:          working,
		AvailableSpeakers: domain.AvailableSpeakers(working, retained),
		SpeakerStatistics: domain.SpeakerStatistics(working),
		FullTranscript:    domain.BuildTranscript(working),
		Entry:             entry,
		Message:           message,
	}, nil
}

func (e *EditEngine) renameSpeaker(segments []domain.Segment, retained []string, op RenameSpeaker) (*domain.AuditEntry, string, error) {
	if err := ValidateSpeakerName(op.New); err != nil {
		return nil, "", err
	}
	if op.Old == op.New {
		return nil, "", &domain.ValidationError{Field: "newSpeaker", Reason: "new name matches the current name"}
	}
	existing := domain.AvailableSpeakers(segments, retained)
	for _, name := range existing {
		if name == op.New {
			return nil, "", &domain.ValidationError{
				Field:  "newSpeaker",
				Reason: fmt.Sprintf("speaker %q already exists; use reassignment to merge speakers", op.New),
			}
		}
	}

	affected := relabel(segments, op.Old, op.New)
	if len(affected) == 0 {
		return nil, "", &domain.ValidationError{Field: "speaker", Reason: fmt.Sprintf("speaker %q not found", op.Old)}
	}

	return &domain.AuditEntry{
		Timestamp:        e.now(),
		Action:           domain.ActionBulkSpeakerRename,
		OldSpeaker:       op.Old,
		NewSpeaker:       op.New,
		SegmentCount:     len(affected),
		AffectedSegments: affected,
		Description:      fmt.Sprintf("Renamed speaker %q to %q across %d segment(s)", op.Old, op.New, len(affected)),
	}, fmt.Sprintf("Renamed %q to %q (%d segments)", op.Old, op.New, len(affected)), nil
}

func (e *EditEngine) reassignSpeaker(segments []domain.Segment, op ReassignSpeaker) (*domain.AuditEntry, string, error) {
	if err := ValidateSpeakerName(op.New); err != nil {
		return nil, "", err
	}
	if op.Old == op.New {
		return nil, "", &domain.ValidationError{Field: "newSpeaker", Reason: "source and target speaker are the same"}
	}

	affected := relabel(segments, op.Old, op.New)
	if len(affected) == 0 {
		return nil, "", &domain.ValidationError{Field: "speaker", Reason: fmt.Sprintf("speaker %q not found", op.Old)}
	}

	return &domain.AuditEntry{
		Timestamp:        e.now(),
		Action:           domain.ActionBulkSpeakerReassignment,
		OldSpeaker:       op.Old,
		NewSpeaker:       op.New,
		SegmentCount:     len(affected),
		AffectedSegments: affected,
		Description:      fmt.Sprintf("Reassigned %d segment(s) from %q to %q", len(affected), op.Old, op.New),
	}, fmt.Sprintf("Reassigned %d segments from %q to %q", len(affected), op.Old, op.New), nil
}

func (e *EditEngine) deleteSpeaker(segments []domain.Segment, op DeleteSpeaker) (*domain.AuditEntry, string, error) {
	if op.Name == domain.UnknownSpeaker {
		return nil, "", &domain.ValidationError{Field: "speaker", Reason: "the fallback speaker cannot be deleted"}
	}

	affected := relabel(segments, op.Name, domain.UnknownSpeaker)
	if len(affected) == 0 {
		return nil, "", &domain.ValidationError{Field: "speaker", Reason: fmt.Sprintf("speaker %q not found", op.Name)}
	}

	return &domain.AuditEntry{
		Timestamp:        e.now(),
		Action:           domain.ActionBulkSpeakerDelete,
		OldSpeaker:       op.Name,
		NewSpeaker:       domain.UnknownSpeaker,
		SegmentCount:     len(affected),
		AffectedSegments: affected,
		Description:      fmt.Sprintf("Deleted speaker %q; %d segment(s) moved to %q", op.Name, len(affected), domain.UnknownSpeaker),
	}, fmt.Sprintf("Deleted %q (%d segments moved to %s)", op.Name, len(affected), domain.UnknownSpeaker), nil
}

// editSegment handles the three individual-segment variants. The audit
// action records what actually changed, not what the request asked for: a
// request naming both fields but only changing one is audited as the
// single-field action.
func (e *EditEngine) editSegment(segments []domain.Segment, index int, newText, newSpeaker string, speakerGiven bool) (*domain.AuditEntry, string, error) {
	if index < 0 || index >= len(segments) {
		return nil, "", &domain.ValidationError{
			Field:  "segmentIndex",
			Reason: fmt.Sprintf("index %d out of range (%d segments)", index, len(segments)),
		}
	}

	seg := &segments[index]
	textGiven := newText != "" || !speakerGiven

	if textGiven {
		if err := ValidateSegmentText(newText); err != nil {
			return nil, "", err
		}
	}
	if speakerGiven {
		if err := ValidateSpeakerName(newSpeaker); err != nil {
			return nil, "", err
		}
	}

	textChanged := textGiven && newText != seg.Current.Text
	speakerChanged := speakerGiven && newSpeaker != seg.Current.Speaker
	if !textChanged && !speakerChanged {
		return nil, "", &domain.ValidationError{Field: "segment", Reason: "no changes detected"}
	}

	// First individual edit snapshots the pre-edit values so the change
	// markers survive later edits.
	if seg.Original == (domain.SpeakerText{}) {
		seg.Original = seg.Current
	}

	idx := index
	entry := &domain.AuditEntry{
		Timestamp:    e.now(),
		LineNumber:   seg.LineNumber,
		SegmentIndex: &idx,
		Speaker:      seg.Current.Speaker,
		StartTime:    seg.FormattedStart(),
	}

	switch {
	case textChanged && speakerChanged:
		entry.Action = domain.ActionEditWithSpeakerChange
		entry.OldText = seg.Current.Text
		entry.NewText = newText
		entry.OldSpeaker = seg.Current.Speaker
		entry.NewSpeaker = newSpeaker
	case speakerChanged:
		entry.Action = domain.ActionSpeakerChange
		entry.OldSpeaker = seg.Current.Speaker
		entry.NewSpeaker = newSpeaker
	default:
		entry.Action = domain.ActionSegmentEdit
		entry.OldText = seg.Current.Text
		entry.NewText = newText
	}

	if textChanged {
		seg.Current.Text = newText
	}
	if speakerChanged {
		seg.Current.Speaker = newSpeaker
	}

	return entry, fmt.Sprintf("Updated segment %d", seg.LineNumber), nil
}

// relabel moves every segment of speaker old to new and returns the
// affected indexes in order.
func relabel(segments []domain.Segment, old, new string) []int {
	affected := []int{}
	for i := range segments {
		if segments[i].Current.Speaker == old {
			segments[i].Current.Speaker = new
			affected = append(affected, i)
		}
	}
	return affected
}

// ValidateSpeakerName enforces the speaker naming rules shared by bulk and
// individual edits.
func ValidateSpeakerName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return &domain.ValidationError{Field: "speaker", Reason: "speaker name cannot be empty"}
	}
	if len(name) > MaxSpeakerNameLength {
		return &domain.ValidationError{
			Field:  "speaker",
			Reason: fmt.Sprintf("speaker name exceeds %d characters", MaxSpeakerNameLength),
		}
	}
	if strings.ContainsAny(name, "<>") {
		return &domain.ValidationError{Field: "speaker", Reason: "speaker name cannot contain angle brackets"}
	}
	return nil
}

// ValidateSegmentText enforces the segment text rules.
func ValidateSegmentText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &domain.ValidationError{Field: "text", Reason: "segment text cannot be empty"}
	}
	if len(text) > MaxSegmentTextLength {
		return &domain.ValidationError{
			Field:  "text",
			Reason: fmt.Sprintf("segment text exceeds %d characters", MaxSegmentTextLength),
		}
	}
	return nil
}

// validateSegments checks structural invariants of a submitted segment
// batch before any mutation. One bad segment rejects the whole batch.
func validateSegments(segments []domain.Segment) error {
	for i, s := range segments {
		if s.OffsetTicks < 0 {
			return &domain.ValidationError{
				Field:  fmt.Sprintf("segments[%d].offsetInTicks", i),
				Reason: "offset cannot be negative",
			}
		}
		if s.DurationTicks < 0 {
			return &domain.ValidationError{
				Field:  fmt.Sprintf("segments[%d].durationInTicks", i),
				Reason: "duration cannot be negative",
			}
		}
		if len(s.Current.Text) > MaxSegmentTextLength {
			return &domain.ValidationError{
				Field:  fmt.Sprintf("segments[%d].text", i),
				Reason: fmt.Sprintf("segment text exceeds %d characters", MaxSegmentTextLength),
			}
		}
		if len(s.Current.Speaker) > MaxSpeakerNameLength {
			return &domain.ValidationError{
				Field:  fmt.Sprintf("segments[%d].speaker", i),
				Reason: fmt.Sprintf("speaker name exceeds %d characters", MaxSpeakerNameLength),
			}
		}
	}
	return nil
}
