package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"voicedesk/internal/domain"
)

// AssembleResults builds the combined transcription view for a finished
// batch job. fileIndices selects a subset of the job's transcription files,
// in caller order; nil or empty selects every file in manifest order.
//
// Segments from consecutive files are concatenated on a single timeline:
// each file's offsets are shifted by the accumulated duration of the files
// before it, so the combined transcript reads as one continuous recording.
func (s *BatchService) AssembleResults(ctx context.Context, jobID string, fileIndices []int) (domain.BatchTranscriptionResult, error) {
	job, err := s.api.GetJob(ctx, jobID)
	if err != nil {
		return domain.BatchTranscriptionResult{}, err
	}

	result := domain.BatchTranscriptionResult{
		JobID:             jobID,
		DisplayName:       job.DisplayName,
		Segments:          []domain.Segment{},
		AvailableSpeakers: []string{},
		SpeakerStatistics: []domain.SpeakerInfo{},
	}

	if job.Status != domain.JobSucceeded {
		result.Message = fmt.Sprintf("Job is not completed yet. Current status: %s", job.Status)
		if job.Status == domain.JobFailed {
			result.Message = "Job failed"
			if job.Error != "" {
				result.Message = "Job failed: " + job.Error
			}
		}
		return result, nil
	}

	files, err := s.ResultFiles(ctx, jobID)
	if err != nil {
		return domain.BatchTranscriptionResult{}, err
	}

	selected, err := selectResultFiles(files, fileIndices)
	if err != nil {
		return domain.BatchTranscriptionResult{}, err
	}

	now := s.now()
	var combined []domain.Segment
	var fileResults []domain.FileResult
	var rawPayloads []json.RawMessage
	var offsetShift int64
	skippedExpired := 0

	for channel, file := range selected {
		if file.SASExpired || IsSASExpired(file.URL, now) {
			log.Printf("skipping result file %q for job %s: signed url expired", file.Name, jobID)
			skippedExpired++
			continue
		}

		var raw json.RawMessage
		if err := s.api.FetchJSON(ctx, file.URL, &raw); err != nil {
			return domain.BatchTranscriptionResult{}, fmt.Errorf("fetch result file %q: %w", file.Name, err)
		}
		rawPayloads = append(rawPayloads, raw)

		var payload TranscriptionPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return domain.BatchTranscriptionResult{}, fmt.Errorf("decode result file %q: %w", file.Name, err)
		}

		segments := segmentsFromPhrases(payload.RecognizedPhrases)
		fileDuration := maxSegmentEnd(segments)
		for i := range segments {
			segments[i].OffsetTicks += offsetShift
		}

		fileResults = append(fileResults, domain.FileResult{
			Name:          file.Name,
			Channel:       channel,
			DurationTicks: fileDuration,
			Segments:      segments,
		})
		combined = append(combined, segments...)
		offsetShift += fileDuration
	}

	domain.AssignLineNumbers(combined)
	result.Success = true
	result.Segments = combined
	result.FullTranscript = domain.BuildTranscript(combined)
	result.AvailableSpeakers = domain.AvailableSpeakers(combined, nil)
	result.SpeakerStatistics = domain.SpeakerStatistics(combined)
	result.FileResults = fileResults

	switch {
	case len(combined) > 0:
		result.Message = fmt.Sprintf("Assembled %d segments from %d file(s)", len(combined), len(fileResults))
	case skippedExpired > 0:
		result.Message = "No segments available: all selected result files have expired download links. Refresh the job and try again."
	default:
		result.Message = "Transcription completed but no speech was recognized in the selected files."
	}

	if len(rawPayloads) > 0 {
		if rawJSON, err := json.Marshal(rawPayloads); err == nil {
			result.RawJSONData = string(rawJSON)
		}
	}
	return result, nil
}

// selectResultFiles resolves the caller's index selection against the
// manifest. Selection order is preserved; an out-of-range index rejects the
// whole request rather than silently shrinking the result.
func selectResultFiles(files []domain.ResultFile, indices []int) ([]domain.ResultFile, error) {
	if len(indices) == 0 {
		return files, nil
	}

	selected := make([]domain.ResultFile, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(files) {
			return nil, &domain.ValidationError{
				Field:  "fileIndices",
				Reason: fmt.Sprintf("index %d out of range (job has %d transcription files)", idx, len(files)),
			}
		}
		selected = append(selected, files[idx])
	}
	return selected, nil
}

// segmentsFromPhrases converts recognized phrases into segments. Phrases
// without a usable display text are dropped; phrases without a speaker tag
// fall back to the unknown-speaker sentinel.
func segmentsFromPhrases(phrases []RecognizedPhrase) []domain.Segment {
	segments := make([]domain.Segment, 0, len(phrases))
	for _, p := range phrases {
		text := ""
		if len(p.NBest) > 0 {
			text = p.NBest[0].Display
			if text == "" {
				text = p.NBest[0].Lexical
			}
		}
		if text == "" {
			continue
		}

		speaker := domain.UnknownSpeaker
		if p.Speaker != nil {
			speaker = fmt.Sprintf("Speaker %d", *p.Speaker)
		}

		segments = append(segments, domain.Segment{
			Current:       domain.SpeakerText{Speaker: speaker, Text: text},
			OffsetTicks:   p.OffsetInTicks,
			DurationTicks: p.DurationInTicks,
		})
	}
	return segments
}

func maxSegmentEnd(segments []domain.Segment) int64 {
	var max int64
	for _, s := range segments {
		if end := s.OffsetTicks + s.DurationTicks; end > max {
			max = end
		}
	}
	return max
}

// realtimeWordsPerSecond estimates speech rate when the provider omits a
// duration for the final utterance of a real-time session.
const (
	realtimeWordsPerSecond  = 2.5
	realtimeMinLastDuration = 2 * time.Second
)
