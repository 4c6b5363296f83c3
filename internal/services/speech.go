package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"voicedesk/internal/config"
	"voicedesk/internal/domain"
)

const (
	speechRequestTimeout = 10 * time.Minute
	listRetryAttempts    = 3
	listRetryBackoff     = 500 * time.Millisecond
)

// SpeechClient issues authenticated calls against the speech provider's
// batch transcription REST API. It is the only component that knows the
// provider's wire formats; everything above it works on domain types.
type SpeechClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewSpeechClient(cfg config.Config) *SpeechClient {
	return &SpeechClient{
		apiKey:  cfg.SpeechAPIKey,
		baseURL: strings.TrimRight(cfg.SpeechBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: speechRequestTimeout,
		},
	}
}

// Configured reports whether provider credentials are present. Unconfigured
// deployments still work in placeholder mode.
func (c *SpeechClient) Configured() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

func (c *SpeechClient) ensureAPIKey() error {
	if !c.Configured() {
		return errors.New("speech provider api key is not configured")
	}
	return nil
}

// SubmitJobRequest carries everything the provider needs to start a batch
// transcription.
type SubmitJobRequest struct {
	ContentURLs       []string
	DisplayName       string
	Locale            string
	EnableDiarization bool
	MinSpeakers       int
	MaxSpeakers       int
}

// SubmitJob starts a batch transcription. Submission is never retried: a
// duplicate submission would silently create a second billable job.
func (c *SpeechClient) SubmitJob(ctx context.Context, req SubmitJobRequest) (domain.TranscriptionJob, error) {
	if err := c.ensureAPIKey(); err != nil {
		return domain.TranscriptionJob{}, err
	}

	payload := map[string]any{
		"contentUrls": req.ContentURLs,
		"locale":      req.Locale,
		"displayName": req.DisplayName,
		"properties": map[string]any{
			"diarizationEnabled": req.EnableDiarization,
			"diarization": map[string]any{
				"speakers": map[string]any{
					"minCount": req.MinSpeakers,
					"maxCount": req.MaxSpeakers,
				},
			},
			"wordLevelTimestampsEnabled": true,
			"punctuationMode":            "DictatedAndAutomatic",
			"profanityFilterMode":        "Masked",
		},
	}

	var raw providerJob
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/transcriptions", payload, &raw, "submit job"); err != nil {
		return domain.TranscriptionJob{}, err
	}

	job := parseProviderJob(raw)
	if job.Status == "" {
		job.Status = domain.JobNotStarted
	}
	return job, nil
}

// GetJob fetches one job by id.
func (c *SpeechClient) GetJob(ctx context.Context, id string) (domain.TranscriptionJob, error) {
	if err := c.ensureAPIKey(); err != nil {
		return domain.TranscriptionJob{}, err
	}

	var raw providerJob
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/transcriptions/"+url.PathEscape(id), nil, &raw, "get job")
	if err != nil {
		return domain.TranscriptionJob{}, err
	}
	return parseProviderJob(raw), nil
}

// ListJobs fetches the authoritative job list. Listing is an idempotent
// read, so transient failures are retried a few times with backoff.
func (c *SpeechClient) ListJobs(ctx context.Context) ([]domain.TranscriptionJob, error) {
	if err := c.ensureAPIKey(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= listRetryAttempts; attempt++ {
		var raw struct {
			Values []providerJob `json:"values"`
		}
		err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/transcriptions?top=100", nil, &raw, "list jobs")
		if err == nil {
			jobs := make([]domain.TranscriptionJob, 0, len(raw.Values))
			for _, v := range raw.Values {
				jobs = append(jobs, parseProviderJob(v))
			}
			return jobs, nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || domain.IsNotFound(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * listRetryBackoff):
		}
	}
	return nil, lastErr
}

// DeleteJob removes a job provider-side.
func (c *SpeechClient) DeleteJob(ctx context.Context, id string) error {
	if err := c.ensureAPIKey(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/transcriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Op: "delete job", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &domain.NotFoundError{Resource: "job", ID: id}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeAPIError(resp, "delete job")
	}
	return nil
}

// ProviderFile is one entry of a job's result-file manifest.
type ProviderFile struct {
	Kind       string
	Name       string
	ContentURL string
	Size       int64
}

// ListJobFiles fetches the raw result-file manifest for a job.
func (c *SpeechClient) ListJobFiles(ctx context.Context, id string) ([]ProviderFile, error) {
	if err := c.ensureAPIKey(); err != nil {
		return nil, err
	}

	var raw struct {
		Values []struct {
			Kind       string `json:"kind"`
			Name       string `json:"name"`
			Properties struct {
				Size int64 `json:"size"`
			} `json:"properties"`
			Links struct {
				ContentURL string `json:"contentUrl"`
			} `json:"links"`
		} `json:"values"`
	}
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/transcriptions/"+url.PathEscape(id)+"/files", nil, &raw, "list job files")
	if err != nil {
		return nil, err
	}

	files := make([]ProviderFile, 0, len(raw.Values))
	for _, v := range raw.Values {
		files = append(files, ProviderFile{
			Kind:       v.Kind,
			Name:       v.Name,
			ContentURL: v.Links.ContentURL,
			Size:       v.Properties.Size,
		})
	}
	return files, nil
}

// JobInputFiles resolves the input audio file names of a job. The manifest's
// Audio entries are preferred; when the provider omits them, the
// transcription report's per-file details are used instead.
func (c *SpeechClient) JobInputFiles(ctx context.Context, id string) ([]string, error) {
	files, err := c.ListJobFiles(ctx, id)
	if err != nil {
		return nil, err
	}

	names := []string{}
	reportURL := ""
	for _, f := range files {
		switch {
		case strings.EqualFold(f.Kind, "Audio"), f.Kind == "LanguageData":
			name := f.Name
			if name == "" {
				name = fileNameFromURL(f.ContentURL)
			}
			if name != "" {
				names = append(names, name)
			}
		case f.Kind == "TranscriptionReport":
			reportURL = f.ContentURL
		}
	}

	if len(names) == 0 && reportURL != "" {
		var report struct {
			Details []struct {
				Source string `json:"source"`
			} `json:"details"`
		}
		if err := c.FetchJSON(ctx, reportURL, &report); err != nil {
			return nil, err
		}
		for _, d := range report.Details {
			if name := stripUploadPrefix(fileNameFromURL(d.Source)); name != "" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// TranscriptionPayload is the decoded content of one result file.
type TranscriptionPayload struct {
	RecognizedPhrases []RecognizedPhrase `json:"recognizedPhrases"`
	CombinedRecognizedPhrases []struct {
		Channel int    `json:"channel"`
		Display string `json:"display"`
	} `json:"combinedRecognizedPhrases"`
}

// RecognizedPhrase is one phrase-level recognition result.
type RecognizedPhrase struct {
	Speaker         *int  `json:"speaker"`
	Channel         int   `json:"channel"`
	OffsetInTicks   int64 `json:"offsetInTicks"`
	DurationInTicks int64 `json:"durationInTicks"`
	NBest           []struct {
		Display string `json:"display"`
		Lexical string `json:"lexical"`
	} `json:"nBest"`
}

// FetchJSON downloads and decodes the content behind a signed result URL.
func (c *SpeechClient) FetchJSON(ctx context.Context, contentURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return fmt.Errorf("create content request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Op: "fetch content", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &domain.NotFoundError{Resource: "result file", ID: fileNameFromURL(contentURL)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeAPIError(resp, "fetch content")
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode result content: %w", err)
	}
	return nil
}

// TranscribeRealtime runs a synchronous recognition of one uploaded file
// with diarization enabled.
func (c *SpeechClient) TranscribeRealtime(ctx context.Context, audioPath, locale string) (TranscriptionPayload, error) {
	if err := c.ensureAPIKey(); err != nil {
		return TranscriptionPayload{}, err
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return TranscriptionPayload{}, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return TranscriptionPayload{}, fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return TranscriptionPayload{}, fmt.Errorf("copy audio data: %w", err)
	}

	definition := map[string]any{
		"locales":     []string{locale},
		"diarization": map[string]any{"enabled": true},
	}
	defJSON, err := json.Marshal(definition)
	if err != nil {
		return TranscriptionPayload{}, fmt.Errorf("encode definition: %w", err)
	}
	if err := writer.WriteField("definition", string(defJSON)); err != nil {
		return TranscriptionPayload{}, fmt.Errorf("write definition field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return TranscriptionPayload{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcriptions:transcribe", body)
	if err != nil {
		return TranscriptionPayload{}, fmt.Errorf("create transcribe request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TranscriptionPayload{}, &domain.ProviderError{Op: "transcribe", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return TranscriptionPayload{}, c.decodeAPIError(resp, "transcribe")
	}

	var payload TranscriptionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return TranscriptionPayload{}, fmt.Errorf("decode transcribe response: %w", err)
	}
	return payload, nil
}

// ProviderModel is one recognition model advertised by the provider; only
// its locale fields matter here.
type ProviderModel struct {
	Locale      string `json:"locale"`
	DisplayName string `json:"displayName"`
}

// ListModels fetches the provider's model catalog, used to derive the
// supported-locale list.
func (c *SpeechClient) ListModels(ctx context.Context) ([]ProviderModel, error) {
	if err := c.ensureAPIKey(); err != nil {
		return nil, err
	}

	var raw struct {
		Values []ProviderModel `json:"values"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/models", nil, &raw, "list models"); err != nil {
		return nil, err
	}
	return raw.Values, nil
}

func (c *SpeechClient) doJSON(ctx context.Context, method, endpoint string, payload, out any, op string) error {
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return fmt.Errorf("encode %s payload: %w", op, err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &domain.NotFoundError{Resource: "job", ID: endpoint[strings.LastIndex(endpoint, "/")+1:]}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeAPIError(resp, op)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}

func (c *SpeechClient) decodeAPIError(resp *http.Response, op string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &domain.ProviderError{Op: op, Status: resp.StatusCode, Detail: apiErr.Error.Message}
	}
	return &domain.ProviderError{Op: op, Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
}

// ------------------------------------------------------------------------
// provider wire parsing

type providerJob struct {
	Self               string   `json:"self"`
	ID                 string   `json:"id"`
	DisplayName        string   `json:"displayName"`
	Status             string   `json:"status"`
	CreatedDateTime    string   `json:"createdDateTime"`
	LastActionDateTime string   `json:"lastActionDateTime"`
	Locale             string   `json:"locale"`
	ContentUrls        []string `json:"contentUrls"`
	Properties         *struct {
		Duration       string `json:"duration"`
		SucceededCount int    `json:"succeededCount"`
		FailedCount    int    `json:"failedCount"`
		Error          *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"properties"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseProviderJob(raw providerJob) domain.TranscriptionJob {
	id := raw.ID
	if raw.Self != "" {
		id = raw.Self[strings.LastIndex(raw.Self, "/")+1:]
	}

	job := domain.TranscriptionJob{
		ID:           id,
		DisplayName:  raw.DisplayName,
		Status:       domain.JobStatus(raw.Status),
		Locale:       raw.Locale,
		CreatedAt:    parseProviderTime(raw.CreatedDateTime),
		LastActionAt: parseProviderTime(raw.LastActionDateTime),
		Files:        []string{},
	}

	for _, u := range raw.ContentUrls {
		if name := stripUploadPrefix(fileNameFromURL(u)); name != "" {
			job.Files = append(job.Files, name)
		}
	}

	if raw.Properties != nil {
		props := &domain.JobProperties{
			DurationTicks:  parseISODurationTicks(raw.Properties.Duration),
			SucceededCount: raw.Properties.SucceededCount,
			FailedCount:    raw.Properties.FailedCount,
		}
		if raw.Properties.Error != nil {
			props.ErrorMessage = raw.Properties.Error.Message
		}
		job.Properties = props
	}

	if raw.Error != nil {
		job.Error = raw.Error.Message
	}
	return job
}

func parseProviderTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

var isoDurationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:([\d.]+)S)?$`)

// parseISODurationTicks converts an ISO 8601 duration ("PT1H2M3.5S") into
// 100ns ticks. Unparseable input yields zero.
func parseISODurationTicks(value string) int64 {
	if value == "" {
		return 0
	}
	m := isoDurationPattern.FindStringSubmatch(value)
	if m == nil {
		return 0
	}

	var hours, minutes int64
	var seconds float64
	if m[1] != "" {
		fmt.Sscanf(m[1], "%d", &hours)
	}
	if m[2] != "" {
		fmt.Sscanf(m[2], "%d", &minutes)
	}
	if m[3] != "" {
		fmt.Sscanf(m[3], "%g", &seconds)
	}

	total := float64(hours*3600+minutes*60) + seconds
	return int64(total * domain.TicksPerSecond)
}

func fileNameFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	path := rawURL
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	return path[strings.LastIndex(path, "/")+1:]
}

// stripUploadPrefix removes the "uuid_" staging prefix added when files are
// uploaded, recovering the user-visible name.
func stripUploadPrefix(name string) string {
	if idx := strings.Index(name, "_"); idx >= 0 && idx+1 < len(name) {
		return name[idx+1:]
	}
	return name
}

// ParseSASExpiry extracts the signed-URL expiry timestamp (the "se" query
// parameter) from a result URL; empty when absent or unparseable.
func ParseSASExpiry(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("se")
}

// IsSASExpired reports whether the signed URL's expiry has passed. URLs
// without a readable expiry are treated as still valid.
func IsSASExpired(rawURL string, now time.Time) bool {
	expiry := ParseSASExpiry(rawURL)
	if expiry == "" {
		return false
	}
	expiryTime, err := time.Parse("2006-01-02T15:04:05Z", expiry)
	if err != nil {
		return false
	}
	return !now.Before(expiryTime)
}
