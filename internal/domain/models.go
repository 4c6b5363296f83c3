package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TicksPerSecond is the resolution the provider reports timestamps in
// (one tick = 100 nanoseconds).
const TicksPerSecond = 10_000_000

// UnknownSpeaker is the sentinel segments fall back to when their speaker
// is deleted.
const UnknownSpeaker = "Unknown"

// SpeakerText is the editable payload of a segment.
type SpeakerText struct {
	Speaker string
	Text    string
}

// Segment is one diarized utterance. Original holds the values assigned when
// the segment was finalized server-side; a zero Original field means the
// segment has never been individually edited, so the corresponding
// "was changed" predicate is false.
type Segment struct {
	Current       SpeakerText
	Original      SpeakerText
	OffsetTicks   int64
	DurationTicks int64
	LineNumber    int
}

func (s Segment) StartSeconds() float64 {
	return float64(s.OffsetTicks) / TicksPerSecond
}

func (s Segment) EndSeconds() float64 {
	return float64(s.OffsetTicks+s.DurationTicks) / TicksPerSecond
}

// SpeakerWasChanged reports whether the speaker differs from the finalized
// value. Segments that never had an original recorded always report false.
func (s Segment) SpeakerWasChanged() bool {
	return s.Original.Speaker != "" && s.Current.Speaker != s.Original.Speaker
}

func (s Segment) TextWasChanged() bool {
	return s.Original.Text != "" && s.Current.Text != s.Original.Text
}

// FormattedStart renders the start time as HH:MM:SS for display.
func (s Segment) FormattedStart() string {
	return FormatClock(s.StartSeconds())
}

// FormatClock renders a duration in seconds as HH:MM:SS.
func FormatClock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

type segmentJSON struct {
	Speaker              string  `json:"speaker"`
	Text                 string  `json:"text"`
	OffsetInTicks        int64   `json:"offsetInTicks"`
	DurationInTicks      int64   `json:"durationInTicks"`
	LineNumber           int     `json:"lineNumber"`
	OriginalSpeaker      string  `json:"originalSpeaker,omitempty"`
	OriginalText         string  `json:"originalText,omitempty"`
	StartTimeInSeconds   float64 `json:"startTimeInSeconds"`
	EndTimeInSeconds     float64 `json:"endTimeInSeconds"`
	UIFormattedStartTime string  `json:"uiFormattedStartTime"`
	SpeakerWasChanged    bool    `json:"speakerWasChanged"`
	TextWasChanged       bool    `json:"textWasChanged"`
}

// MarshalJSON emits the flat wire shape the UI consumes, including derived
// timing and change-tracking fields. Derived fields are ignored on the way
// back in and recomputed.
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{
		Speaker:              s.Current.Speaker,
		Text:                 s.Current.Text,
		OffsetInTicks:        s.OffsetTicks,
		DurationInTicks:      s.DurationTicks,
		LineNumber:           s.LineNumber,
		OriginalSpeaker:      s.Original.Speaker,
		OriginalText:         s.Original.Text,
		StartTimeInSeconds:   s.StartSeconds(),
		EndTimeInSeconds:     s.EndSeconds(),
		UIFormattedStartTime: s.FormattedStart(),
		SpeakerWasChanged:    s.SpeakerWasChanged(),
		TextWasChanged:       s.TextWasChanged(),
	})
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Current = SpeakerText{Speaker: raw.Speaker, Text: raw.Text}
	s.Original = SpeakerText{Speaker: raw.OriginalSpeaker, Text: raw.OriginalText}
	s.OffsetTicks = raw.OffsetInTicks
	s.DurationTicks = raw.DurationInTicks
	s.LineNumber = raw.LineNumber
	return nil
}

// SpeakerInfo is a derived per-speaker aggregate; it is always recomputed
// from segments, never persisted on its own.
type SpeakerInfo struct {
	Name                   string  `json:"name"`
	SegmentCount           int     `json:"segmentCount"`
	TotalSpeakTimeSeconds  float64 `json:"totalSpeakTimeSeconds"`
	FirstAppearanceSeconds float64 `json:"firstAppearanceSeconds"`
}

func (i SpeakerInfo) MarshalJSON() ([]byte, error) {
	type plain SpeakerInfo
	return json.Marshal(struct {
		plain
		TotalSpeakTimeFormatted  string `json:"totalSpeakTimeFormatted"`
		FirstAppearanceFormatted string `json:"firstAppearanceFormatted"`
	}{
		plain:                    plain(i),
		TotalSpeakTimeFormatted:  FormatClock(i.TotalSpeakTimeSeconds),
		FirstAppearanceFormatted: FormatClock(i.FirstAppearanceSeconds),
	})
}

// AuditEntry records one edit. Entries are append-only; optional fields are
// present only when the edit actually touched them.
type AuditEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	Action           string    `json:"action"`
	LineNumber       int       `json:"lineNumber,omitempty"`
	SegmentIndex     *int      `json:"segmentIndex,omitempty"`
	Speaker          string    `json:"speaker,omitempty"`
	OldText          string    `json:"oldText,omitempty"`
	NewText          string    `json:"newText,omitempty"`
	OldSpeaker       string    `json:"oldSpeaker,omitempty"`
	NewSpeaker       string    `json:"newSpeaker,omitempty"`
	SegmentCount     int       `json:"segmentCount,omitempty"`
	AffectedSegments []int     `json:"affectedSegments,omitempty"`
	StartTime        string    `json:"startTime,omitempty"`
	Description      string    `json:"description,omitempty"`
}

// Audit actions for individually edited segments.
const (
	ActionSegmentEdit           = "segment_edit"
	ActionSpeakerChange         = "speaker_change"
	ActionEditWithSpeakerChange = "edit_with_speaker_change"
)

// Audit actions for speaker-manager driven bulk operations. A bulk operation
// touching a single segment still carries its bulk tag.
const (
	ActionBulkSpeakerRename       = "bulk_speaker_rename"
	ActionBulkSpeakerReassignment = "bulk_speaker_reassignment"
	ActionBulkSpeakerDelete       = "bulk_speaker_delete"
)

// JobStatus is the provider-owned lifecycle state of a batch job.
type JobStatus string

const (
	JobNotStarted JobStatus = "NotStarted"
	JobRunning    JobStatus = "Running"
	JobSucceeded  JobStatus = "Succeeded"
	JobFailed     JobStatus = "Failed"
)

// Terminal reports whether the provider will never change this status again.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobProperties is the provider's post-processing aggregate; present only
// once the provider has processed the job.
type JobProperties struct {
	DurationTicks  int64  `json:"durationTicks,omitempty"`
	SucceededCount int    `json:"succeededCount"`
	FailedCount    int    `json:"failedCount"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// TranscriptionJob identifies one provider-side batch job. LastFetchTime is
// pure cache bookkeeping: it marks when this job's authoritative data was
// last retrieved fresh from the provider. It is never provider data.
type TranscriptionJob struct {
	ID            string         `json:"id"`
	DisplayName   string         `json:"displayName"`
	Status        JobStatus      `json:"status"`
	CreatedAt     time.Time      `json:"createdDateTime"`
	LastActionAt  time.Time      `json:"lastActionDateTime"`
	Locale        string         `json:"locale,omitempty"`
	Files         []string       `json:"files"`
	Properties    *JobProperties `json:"properties,omitempty"`
	Error         string         `json:"error,omitempty"`
	LastFetchTime time.Time      `json:"lastFetchTime"`
}

// FormattedDuration renders the processed audio duration as HH:MM:SS, or
// "N/A" before the provider has reported one.
func (j TranscriptionJob) FormattedDuration() string {
	if j.Properties == nil || j.Properties.DurationTicks == 0 {
		return "N/A"
	}
	return FormatClock(float64(j.Properties.DurationTicks) / TicksPerSecond)
}

// ResultFile describes one downloadable result file of a batch job, with the
// signed-URL expiry surfaced so the UI can indicate staleness.
type ResultFile struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Size       int64  `json:"size"`
	SASExpiry  string `json:"sasExpiry,omitempty"`
	SASExpired bool   `json:"sasExpired"`
}

// FileResult is the per-source-file breakdown inside a batch result.
type FileResult struct {
	Name          string    `json:"name"`
	Channel       int       `json:"channel"`
	DurationTicks int64     `json:"durationTicks"`
	Segments      []Segment `json:"segments"`
}

// TranscriptionResult is the aggregate a real-time transcription (or an edit
// round-trip) returns.
type TranscriptionResult struct {
	Success              bool          `json:"success"`
	Message              string        `json:"message"`
	Segments             []Segment     `json:"segments"`
	FullTranscript       string        `json:"fullTranscript"`
	AudioFileURL         string        `json:"audioFileUrl,omitempty"`
	RawJSONData          string        `json:"rawJsonData,omitempty"`
	GoldenRecordJSONData string        `json:"goldenRecordJsonData,omitempty"`
	AvailableSpeakers    []string      `json:"availableSpeakers"`
	SpeakerStatistics    []SpeakerInfo `json:"speakerStatistics"`
	AuditLog             []AuditEntry  `json:"auditLog"`
}

// BatchTranscriptionResult is the aggregate assembled from a batch job's
// result files.
type BatchTranscriptionResult struct {
	Success           bool          `json:"success"`
	Message           string        `json:"message"`
	JobID             string        `json:"jobId"`
	DisplayName       string        `json:"displayName"`
	Segments          []Segment     `json:"segments"`
	FullTranscript    string        `json:"fullTranscript"`
	AvailableSpeakers []string      `json:"availableSpeakers"`
	SpeakerStatistics []SpeakerInfo `json:"speakerStatistics"`
	FileResults       []FileResult  `json:"fileResults,omitempty"`
	RawJSONData       string        `json:"rawJsonData,omitempty"`
}

// LocaleInfo pairs a locale code with its display name.
type LocaleInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// AssignLineNumbers renumbers segments 1..N in their current order. Edits
// never reorder segments, so in practice this is idempotent, but it is
// recomputed on every submission anyway.
func AssignLineNumbers(segments []Segment) {
	for i := range segments {
		segments[i].LineNumber = i + 1
	}
}

// BuildTranscript renders the combined "[speaker]: text" transcript.
func BuildTranscript(segments []Segment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, fmt.Sprintf("[%s]: %s", s.Current.Speaker, s.Current.Text))
	}
	return strings.Join(lines, "\n")
}

// AvailableSpeakers returns the duplicate-free, lexicographically sorted set
// of speaker names present in segments, union any explicitly retained names
// (speakers the caller keeps around with zero segments).
func AvailableSpeakers(segments []Segment, retained []string) []string {
	seen := map[string]struct{}{}
	for _, s := range segments {
		if strings.TrimSpace(s.Current.Speaker) != "" {
			seen[s.Current.Speaker] = struct{}{}
		}
	}
	for _, name := range retained {
		if strings.TrimSpace(name) != "" {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SpeakerStatistics groups segments by speaker and aggregates speak time and
// first appearance. Ordering is by first appearance ascending, not by name:
// the speaker heard earliest in the audio is listed first.
func SpeakerStatistics(segments []Segment) []SpeakerInfo {
	order := []string{}
	groups := map[string][]Segment{}
	for _, s := range segments {
		if _, ok := groups[s.Current.Speaker]; !ok {
			order = append(order, s.Current.Speaker)
		}
		groups[s.Current.Speaker] = append(groups[s.Current.Speaker], s)
	}

	stats := make([]SpeakerInfo, 0, len(groups))
	for _, speaker := range order {
		group := groups[speaker]
		total := 0.0
		first := group[0].StartSeconds()
		for _, s := range group {
			total += s.EndSeconds() - s.StartSeconds()
			if s.StartSeconds() < first {
				first = s.StartSeconds()
			}
		}
		stats = append(stats, SpeakerInfo{
			Name:                   speaker,
			SegmentCount:           len(group),
			TotalSpeakTimeSeconds:  total,
			FirstAppearanceSeconds: first,
		})
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].FirstAppearanceSeconds < stats[j].FirstAppearanceSeconds
	})
	return stats
}
