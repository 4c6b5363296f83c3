package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicedesk/internal/domain"
)

// fileFetchWorkers bounds the concurrent per-job file lookups during a
// refresh round.
const fileFetchWorkers = 8

// BatchAPI is the slice of the provider client the batch service needs.
type BatchAPI interface {
	Configured() bool
	SubmitJob(ctx context.Context, req SubmitJobRequest) (domain.TranscriptionJob, error)
	GetJob(ctx context.Context, id string) (domain.TranscriptionJob, error)
	ListJobs(ctx context.Context) ([]domain.TranscriptionJob, error)
	DeleteJob(ctx context.Context, id string) error
	ListJobFiles(ctx context.Context, id string) ([]ProviderFile, error)
	JobInputFiles(ctx context.Context, id string) ([]string, error)
	FetchJSON(ctx context.Context, url string, v any) error
}

// BatchService reconciles the client-held job cache against the provider's
// authoritative job list, keeping provider round-trips to the minimum the
// freshness window allows.
type BatchService struct {
	api         BatchAPI
	cacheWindow time.Duration
	now         func() time.Time
}

func NewBatchService(api BatchAPI, cacheWindow time.Duration) *BatchService {
	return &BatchService{
		api:         api,
		cacheWindow: cacheWindow,
		now:         time.Now,
	}
}

// IsCacheEligible reports whether a cached job snapshot may be served
// without a provider round-trip: the job must have reached a terminal
// status, carry a fetch timestamp, and that fetch must still be inside the
// freshness window. Non-terminal jobs are never eligible no matter how
// recently fetched.
func IsCacheEligible(job domain.TranscriptionJob, now time.Time, window time.Duration) bool {
	if !job.Status.Terminal() {
		return false
	}
	if job.LastFetchTime.IsZero() {
		return false
	}
	return now.Sub(job.LastFetchTime) < window
}

// ReconcileOutcome is the merged job view handed back to the client, with a
// degraded flag when the provider could not be reached and the cached view
// was served instead.
type ReconcileOutcome struct {
	Success  bool                      `json:"success"`
	Jobs     []domain.TranscriptionJob `json:"jobs"`
	Degraded bool                      `json:"degraded"`
	Warning  string                    `json:"warning,omitempty"`
}

// Reconcile merges the client's cached snapshots with the provider's job
// list. The provider list decides which jobs exist; the cache decides which
// snapshots are recent enough to keep. forceRefresh discards all cache
// eligibility and refetches everything.
//
// When the provider is unreachable the cached snapshots are served as-is
// (degraded); with nothing cached there is nothing to degrade to and the
// provider error surfaces.
func (s *BatchService) Reconcile(ctx context.Context, cached []domain.TranscriptionJob, forceRefresh bool) (ReconcileOutcome, error) {
	now := s.now()

	cachedByID := make(map[string]domain.TranscriptionJob, len(cached))
	for _, job := range cached {
		cachedByID[job.ID] = job
	}

	fresh, err := s.api.ListJobs(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ReconcileOutcome{}, err
		}
		if len(cached) == 0 {
			return ReconcileOutcome{}, fmt.Errorf("list jobs with empty cache: %w", err)
		}
		log.Printf("job list unavailable, serving %d cached jobs: %v", len(cached), err)
		jobs := append([]domain.TranscriptionJob(nil), cached...)
		sortJobsNewestFirst(jobs)
		return ReconcileOutcome{
			Success:  true,
			Jobs:     jobs,
			Degraded: true,
			Warning:  "Job list is temporarily unavailable; showing cached data.",
		}, nil
	}

	merged := make([]domain.TranscriptionJob, 0, len(fresh))
	for _, job := range fresh {
		prior, known := cachedByID[job.ID]
		// A cached terminal snapshot stays authoritative inside its
		// freshness window unless the provider reports a different
		// status, which means the cache is stale regardless of age.
		if known && !forceRefresh && prior.Status == job.Status && IsCacheEligible(prior, now, s.cacheWindow) {
			// Volatile fields still track the provider's listing even when
			// the snapshot itself is kept.
			prior.LastActionAt = job.LastActionAt
			merged = append(merged, prior)
			continue
		}
		job.LastFetchTime = now
		merged = append(merged, job)
	}

	s.fillMissingFiles(ctx, merged)
	sortJobsNewestFirst(merged)
	return ReconcileOutcome{Success: true, Jobs: merged}, nil
}

// fillMissingFiles resolves input file names for jobs whose listing entry
// did not carry any. Lookups fan out over a bounded worker pool and the
// merged view is only returned once every lookup has finished.
func (s *BatchService) fillMissingFiles(ctx context.Context, jobs []domain.TranscriptionJob) {
	pending := []int{}
	for i, job := range jobs {
		if len(job.Files) == 0 && job.Status != domain.JobNotStarted {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < fileFetchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				names, err := s.api.JobInputFiles(ctx, jobs[i].ID)
				if err != nil {
					log.Printf("resolve files for job %s: %v", jobs[i].ID, err)
					continue
				}
				jobs[i].Files = names
			}
		}()
	}
	for _, i := range pending {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
}

func sortJobsNewestFirst(jobs []domain.TranscriptionJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

// GetJob fetches one job, stamping the snapshot as freshly retrieved.
func (s *BatchService) GetJob(ctx context.Context, id string) (domain.TranscriptionJob, error) {
	job, err := s.api.GetJob(ctx, id)
	if err != nil {
		return domain.TranscriptionJob{}, err
	}
	if len(job.Files) == 0 && job.Status != domain.JobNotStarted {
		if names, ferr := s.api.JobInputFiles(ctx, id); ferr == nil {
			job.Files = names
		}
	}
	job.LastFetchTime = s.now()
	return job, nil
}

// DeleteJob removes a job provider-side. Callers must also drop their
// cached snapshot; a deleted job never reappears in reconciled lists.
func (s *BatchService) DeleteJob(ctx context.Context, id string) error {
	return s.api.DeleteJob(ctx, id)
}

// CreateJobRequest is a validated batch submission.
type CreateJobRequest struct {
	JobName           string
	Locale            string
	EnableDiarization bool
	MinSpeakers       int
	MaxSpeakers       int
	ContentURLs       []string
	FileNames         []string
}

// CreateJob submits a batch transcription. Without provider credentials a
// placeholder job is returned so the rest of the workflow stays exercisable
// in unconfigured deployments. Submission is never retried.
func (s *BatchService) CreateJob(ctx context.Context, req CreateJobRequest) (domain.TranscriptionJob, error) {
	if !s.api.Configured() {
		return s.placeholderJob(req), nil
	}

	job, err := s.api.SubmitJob(ctx, SubmitJobRequest{
		ContentURLs:       req.ContentURLs,
		DisplayName:       req.JobName,
		Locale:            req.Locale,
		EnableDiarization: req.EnableDiarization,
		MinSpeakers:       req.MinSpeakers,
		MaxSpeakers:       req.MaxSpeakers,
	})
	if err != nil {
		return domain.TranscriptionJob{}, err
	}
	if len(job.Files) == 0 {
		job.Files = append([]string(nil), req.FileNames...)
	}
	return job, nil
}

func (s *BatchService) placeholderJob(req CreateJobRequest) domain.TranscriptionJob {
	now := s.now()
	return domain.TranscriptionJob{
		ID:           "placeholder-" + uuid.NewString(),
		DisplayName:  req.JobName,
		Status:       domain.JobNotStarted,
		CreatedAt:    now,
		LastActionAt: now,
		Locale:       req.Locale,
		Files:        append([]string(nil), req.FileNames...),
		Error:        "Speech provider is not configured; job was not submitted.",
	}
}

// ResultFiles lists a job's transcription result files, mapped back to the
// job's input file names and annotated with signed-URL expiry.
func (s *BatchService) ResultFiles(ctx context.Context, jobID string) ([]domain.ResultFile, error) {
	job, err := s.api.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	manifest, err := s.api.ListJobFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	files := []domain.ResultFile{}
	idx := 0
	for _, entry := range manifest {
		if entry.Kind != "Transcription" {
			continue
		}

		name := entry.Name
		if idx < len(job.Files) {
			name = job.Files[idx]
		}
		files = append(files, domain.ResultFile{
			Index:      idx,
			Name:       name,
			URL:        entry.ContentURL,
			Size:       entry.Size,
			SASExpiry:  ParseSASExpiry(entry.ContentURL),
			SASExpired: IsSASExpired(entry.ContentURL, now),
		})
		idx++
	}
	return files, nil
}
