package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"voicedesk/internal/domain"
)

// RealtimeAPI is the slice of the provider client the real-time flow needs.
type RealtimeAPI interface {
	Configured() bool
	TranscribeRealtime(ctx context.Context, audioPath, locale string) (TranscriptionPayload, error)
}

// RealtimeService runs synchronous single-file transcriptions.
type RealtimeService struct {
	api RealtimeAPI
}

func NewRealtimeService(api RealtimeAPI) *RealtimeService {
	return &RealtimeService{api: api}
}

// Transcribe recognizes one uploaded file and returns the assembled result.
// The synchronous endpoint does not report per-utterance durations, so each
// segment's duration is derived from the gap to the next utterance; the
// final utterance gets a word-rate estimate instead.
func (s *RealtimeService) Transcribe(ctx context.Context, audioPath, locale string) (domain.TranscriptionResult, error) {
	if !s.api.Configured() {
		return domain.TranscriptionResult{}, &domain.ValidationError{
			Field:  "provider",
			Reason: "speech provider is not configured",
		}
	}

	payload, err := s.api.TranscribeRealtime(ctx, audioPath, locale)
	if err != nil {
		return domain.TranscriptionResult{}, err
	}

	segments := segmentsFromPhrases(payload.RecognizedPhrases)
	segments = dropEmptyUnknown(segments)
	fillRealtimeDurations(segments)
	domain.AssignLineNumbers(segments)

	result := domain.TranscriptionResult{
		Success:           true,
		Segments:          segments,
		FullTranscript:    domain.BuildTranscript(segments),
		AvailableSpeakers: domain.AvailableSpeakers(segments, nil),
		SpeakerStatistics: domain.SpeakerStatistics(segments),
		AuditLog:          []domain.AuditEntry{},
	}
	if len(segments) == 0 {
		result.Message = "Transcription completed but no speech was recognized."
	} else {
		result.Message = fmt.Sprintf("Transcribed %d segments", len(segments))
	}

	if raw, err := json.Marshal(payload); err == nil {
		result.RawJSONData = string(raw)
	}
	return result, nil
}

// dropEmptyUnknown removes unattributed segments with no usable text; they
// are recognizer noise, not speech.
func dropEmptyUnknown(segments []domain.Segment) []domain.Segment {
	kept := segments[:0]
	for _, s := range segments {
		if s.Current.Speaker == domain.UnknownSpeaker && strings.TrimSpace(s.Current.Text) == "" {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// fillRealtimeDurations backfills zero durations: each segment runs until
// the next one starts, and the last one is estimated from its word count.
func fillRealtimeDurations(segments []domain.Segment) {
	for i := range segments {
		if segments[i].DurationTicks > 0 {
			continue
		}
		if i+1 < len(segments) {
			if gap := segments[i+1].OffsetTicks - segments[i].OffsetTicks; gap > 0 {
				segments[i].DurationTicks = gap
				continue
			}
		}
		words := len(strings.Fields(segments[i].Current.Text))
		estimated := int64(float64(words) / realtimeWordsPerSecond * domain.TicksPerSecond)
		if min := int64(realtimeMinLastDuration.Seconds() * domain.TicksPerSecond); estimated < min {
			estimated = min
		}
		segments[i].DurationTicks = estimated
	}
}
