package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicedesk/internal/config"
	"voicedesk/internal/domain"
	"voicedesk/internal/services"
	"voicedesk/internal/session"
	"voicedesk/internal/storage"
)

type API struct {
	cfg      config.Config
	files    *storage.FileManager
	batch    *services.BatchService
	realtime *services.RealtimeService
	locales  *services.LocaleService
	pdf      *services.PDFService
	share    *services.ShareService
	state    *session.State
}

func NewAPI(cfg config.Config, fm *storage.FileManager, batch *services.BatchService, realtime *services.RealtimeService, locales *services.LocaleService, pdf *services.PDFService, share *services.ShareService, state *session.State) *API {
	return &API{cfg: cfg, files: fm, batch: batch, realtime: realtime, locales: locales, pdf: pdf, share: share, state: state}
}

func registerRoutes(r *gin.Engine, api *API) {
	r.GET("/health", api.handleHealth)
	r.GET("/app-config", api.handleAppConfig)

	r.POST("/upload-and-transcribe", api.handleUploadAndTranscribe)

	r.POST("/create-batch-transcription", api.requireBatch, api.handleCreateBatchTranscription)
	r.GET("/batch-jobs", api.requireBatch, api.handleListBatchJobs)
	r.POST("/batch-jobs", api.requireBatch, api.handleReconcileBatchJobs)
	r.GET("/batch-job/:id", api.requireBatch, api.handleGetBatchJob)
	r.GET("/batch-job/:id/files", api.requireBatch, api.handleBatchJobFiles)
	r.GET("/batch-job/:id/results", api.requireBatch, api.handleBatchJobResults)
	r.POST("/batch-job/:id/results", api.requireBatch, api.handleBatchJobResults)
	r.DELETE("/batch-job/:id", api.requireBatch, api.handleDeleteBatchJob)

	r.GET("/current-result", api.handleCurrentResult)
	r.POST("/reset", api.handleReset)
	r.POST("/segment-edit/begin", api.handleBeginSegmentEdit)
	r.POST("/segment-edit/cancel", api.handleCancelSegmentEdit)
	r.POST("/update-speaker-names", api.handleUpdateSpeakerNames)
	r.POST("/update-segment-text", api.handleUpdateSegmentText)

	r.GET("/supported-locales", api.handleSupportedLocales)
	r.GET("/validation-rules/:mode", api.handleValidationRules)

	r.POST("/export/:kind", api.handleExport)
	r.GET("/export-file/:id", api.handleServeExport)
	r.POST("/download-raw-json", api.handleDownloadRawJSON)
	r.POST("/download-golden-record", api.handleDownloadGoldenRecord)

	// Staged uploads are served back for playback and for the provider to
	// fetch batch inputs from.
	r.Static("/audio", api.files.AudioDir())
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) handleAppConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"enableBatchTranscription": a.cfg.EnableBatch,
		"autoRefreshSeconds":       a.cfg.AutoRefreshSeconds,
		"defaultLocale":            a.cfg.DefaultLocale,
		"defaultMinSpeakers":       a.cfg.DefaultMinSpeakers,
		"defaultMaxSpeakers":       a.cfg.DefaultMaxSpeakers,
	})
}

// requireBatch rejects batch endpoints when the feature flag is off.
func (a *API) requireBatch(c *gin.Context) {
	if !a.cfg.EnableBatch {
		respondMessage(c, http.StatusForbidden, "batch transcription is disabled")
		c.Abort()
		return
	}
	c.Next()
}

func (a *API) handleUploadAndTranscribe(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "missing audio file")
		return
	}

	locale := strings.TrimSpace(c.PostForm("locale"))
	if locale == "" {
		locale = a.cfg.DefaultLocale
	}

	upload, err := fileHeader.Open()
	if err != nil {
		respondMessage(c, http.StatusInternalServerError, "unable to read uploaded file")
		return
	}
	defer upload.Close()

	saved, err := a.files.SaveUpload(storage.ModeRealtime, upload, fileHeader.Filename, fileHeader.Size)
	if err != nil {
		respondForError(c, err)
		return
	}

	result, err := a.realtime.Transcribe(c.Request.Context(), saved.Path, locale)
	if err != nil {
		a.files.RemoveUpload(saved.Path)
		log.Printf("realtime transcription failed: %v", err)
		respondForError(c, err)
		return
	}

	result.AudioFileURL = "/audio/" + saved.StoredName
	a.state.Replace(result)
	c.JSON(http.StatusOK, result)
}

func (a *API) handleCreateBatchTranscription(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid multipart form")
		return
	}

	fileHeaders := form.File["files"]
	if err := a.files.ValidateBatchCount(len(fileHeaders)); err != nil {
		respondForError(c, err)
		return
	}

	jobName := strings.TrimSpace(c.PostForm("jobName"))
	if jobName == "" {
		jobName = fmt.Sprintf("Batch %s", time.Now().Format("2006-01-02 15:04"))
	}

	locale := strings.TrimSpace(c.PostForm("locale"))
	if locale == "" {
		locale = a.cfg.DefaultLocale
	}

	enableDiarization := !strings.EqualFold(c.PostForm("enableDiarization"), "false")

	minSpeakers, maxSpeakers, err := a.parseSpeakerBounds(c)
	if err != nil {
		respondForError(c, err)
		return
	}

	// Validate the whole batch before staging anything so a rejected file
	// leaves no partial uploads behind.
	for _, fh := range fileHeaders {
		if err := a.files.ValidateUpload(storage.ModeBatch, fh.Filename, fh.Size); err != nil {
			respondForError(c, err)
			return
		}
	}

	var saved []storage.SavedUpload
	cleanupStaged := func() {
		for _, s := range saved {
			a.files.RemoveUpload(s.Path)
		}
	}

	for _, fh := range fileHeaders {
		upload, err := fh.Open()
		if err != nil {
			cleanupStaged()
			respondMessage(c, http.StatusInternalServerError, "unable to read uploaded file")
			return
		}
		s, err := a.files.SaveUpload(storage.ModeBatch, upload, fh.Filename, fh.Size)
		upload.Close()
		if err != nil {
			cleanupStaged()
			respondForError(c, err)
			return
		}
		saved = append(saved, s)
	}

	contentURLs := make([]string, 0, len(saved))
	fileNames := make([]string, 0, len(saved))
	for _, s := range saved {
		contentURLs = append(contentURLs, a.cfg.BaseURL+"/audio/"+s.StoredName)
		fileNames = append(fileNames, s.OriginalName)
	}

	job, err := a.batch.CreateJob(c.Request.Context(), services.CreateJobRequest{
		JobName:           jobName,
		Locale:            locale,
		EnableDiarization: enableDiarization,
		MinSpeakers:       minSpeakers,
		MaxSpeakers:       maxSpeakers,
		ContentURLs:       contentURLs,
		FileNames:         fileNames,
	})
	if err != nil {
		cleanupStaged()
		log.Printf("batch submission failed: %v", err)
		respondForError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (a *API) parseSpeakerBounds(c *gin.Context) (int, int, error) {
	minSpeakers := a.cfg.DefaultMinSpeakers
	maxSpeakers := a.cfg.DefaultMaxSpeakers

	if raw := strings.TrimSpace(c.PostForm("minSpeakers")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, &domain.ValidationError{Field: "minSpeakers", Reason: "must be an integer"}
		}
		minSpeakers = n
	}
	if raw := strings.TrimSpace(c.PostForm("maxSpeakers")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, &domain.ValidationError{Field: "maxSpeakers", Reason: "must be an integer"}
		}
		maxSpeakers = n
	}

	if minSpeakers < 1 {
		return 0, 0, &domain.ValidationError{Field: "minSpeakers", Reason: "must be at least 1"}
	}
	if maxSpeakers < minSpeakers {
		return 0, 0, &domain.ValidationError{Field: "maxSpeakers", Reason: "cannot be lower than minSpeakers"}
	}
	if maxSpeakers > 20 {
		return 0, 0, &domain.ValidationError{Field: "maxSpeakers", Reason: "cannot exceed 20"}
	}
	return minSpeakers, maxSpeakers, nil
}

func (a *API) handleListBatchJobs(c *gin.Context) {
	outcome, err := a.batch.Reconcile(c.Request.Context(), nil, false)
	if err != nil {
		respondForError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (a *API) handleReconcileBatchJobs(c *gin.Context) {
	var payload struct {
		CachedJobs   []domain.TranscriptionJob `json:"cachedJobs"`
		ForceRefresh bool                      `json:"forceRefresh"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondMessage(c, http.StatusBadRequest, "invalid payload")
			return
		}
	}

	outcome, err := a.batch.Reconcile(c.Request.Context(), payload.CachedJobs, payload.ForceRefresh)
	if err != nil {
		respondForError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (a *API) handleGetBatchJob(c *gin.Context) {
	job, err := a.batch.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondForError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (a *API) handleBatchJobFiles(c *gin.Context) {
	files, err := a.batch.ResultFiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondForError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "files": files})
}

func (a *API) handleBatchJobResults(c *gin.Context) {
	var payload struct {
		FileIndices []int `json:"fileIndices"`
	}
	if c.Request.Method == http.MethodPost && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondMessage(c, http.StatusBadRequest, "invalid payload")
			return
		}
	}

	result, err := a.batch.AssembleResults(c.Request.Context(), c.Param("id"), payload.FileIndices)
	if err != nil {
		respondForError(c, err)
		return
	}

	if result.Success {
		a.state.Replace(domain.TranscriptionResult{
			Success:           true,
			Message:           result.Message,
			Segments:          result.Segments,
			FullTranscript:    result.FullTranscript,
			AvailableSpeakers: result.AvailableSpeakers,
			SpeakerStatistics: result.SpeakerStatistics,
			RawJSONData:       result.RawJSONData,
			AuditLog:          []domain.AuditEntry{},
		})
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handleDeleteBatchJob(c *gin.Context) {
	if err := a.batch.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
		respondForError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) handleCurrentResult(c *gin.Context) {
	result, ok := a.state.Snapshot()
	if !ok {
		respondMessage(c, http.StatusNotFound, "no transcription loaded")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handleReset(c *gin.Context) {
	a.state.Clear()
	c.Status(http.StatusNoContent)
}

func (a *API) handleBeginSegmentEdit(c *gin.Context) {
	var payload struct {
		SegmentIndex *int `json:"segmentIndex" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := a.state.BeginEdit(*payload.SegmentIndex); err != nil {
		respondForError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"editing": *payload.SegmentIndex})
}

func (a *API) handleCancelSegmentEdit(c *gin.Context) {
	a.state.CancelEdit()
	c.Status(http.StatusNoContent)
}

func (a *API) handleUpdateSpeakerNames(c *gin.Context) {
	var payload struct {
		OperationType     string              `json:"operationType"`
		Action            string              `json:"action"`
		Speaker           string              `json:"speaker"`
		OldSpeaker        string              `json:"oldSpeaker"`
		NewSpeaker        string              `json:"newSpeaker"`
		Segments          []domain.Segment    `json:"segments"`
		AuditLog          []domain.AuditEntry `json:"auditLog"`
		AvailableSpeakers []string            `json:"availableSpeakers"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid payload")
		return
	}

	if payload.Segments != nil {
		a.replaceSegments(payload.Segments, payload.AuditLog, payload.AvailableSpeakers)
	}

	old := payload.OldSpeaker
	if old == "" {
		old = payload.Speaker
	}

	// operationType is the documented field name; action is accepted as a
	// legacy alias.
	op := payload.OperationType
	if op == "" {
		op = payload.Action
	}

	var edit services.Edit
	switch op {
	case "rename":
		edit = services.RenameSpeaker{Old: old, New: payload.NewSpeaker}
	case "reassign":
		edit = services.ReassignSpeaker{Old: old, New: payload.NewSpeaker}
	case "delete":
		edit = services.DeleteSpeaker{Name: old}
	default:
		respondMessage(c, http.StatusBadRequest, fmt.Sprintf("unknown operation %q", op))
		return
	}

	result, message, err := a.state.ApplyEdit(edit)
	if err != nil {
		respondForError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"message":           message,
		"segments":          result.Segments,
		"fullTranscript":    result.FullTranscript,
		"availableSpeakers": result.AvailableSpeakers,
		"speakerStatistics": result.SpeakerStatistics,
		"auditLog":          result.AuditLog,
	})
}

func (a *API) handleUpdateSegmentText(c *gin.Context) {
	var payload struct {
		SegmentIndex *int                `json:"segmentIndex" binding:"required"`
		NewText      *string             `json:"newText"`
		NewSpeaker   *string             `json:"newSpeaker"`
		Segments     []domain.Segment    `json:"segments"`
		AuditLog     []domain.AuditEntry `json:"auditLog"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid payload")
		return
	}

	if payload.Segments != nil {
		a.replaceSegments(payload.Segments, payload.AuditLog, nil)
	}

	var edit services.Edit
	switch {
	case payload.NewText != nil && payload.NewSpeaker != nil:
		edit = services.EditSegmentBoth{Index: *payload.SegmentIndex, NewText: *payload.NewText, NewSpeaker: *payload.NewSpeaker}
	case payload.NewSpeaker != nil:
		edit = services.EditSegmentSpeaker{Index: *payload.SegmentIndex, NewSpeaker: *payload.NewSpeaker}
	case payload.NewText != nil:
		edit = services.EditSegmentText{Index: *payload.SegmentIndex, NewText: *payload.NewText}
	default:
		respondMessage(c, http.StatusBadRequest, "newText or newSpeaker is required")
		return
	}

	result, message, err := a.state.ApplyEdit(edit)
	if err != nil {
		respondForError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"message":           message,
		"segments":          result.Segments,
		"fullTranscript":    result.FullTranscript,
		"availableSpeakers": result.AvailableSpeakers,
		"speakerStatistics": result.SpeakerStatistics,
		"auditLog":          result.AuditLog,
	})
}

// replaceSegments installs a client round-tripped segment list as the
// working copy. The client's audit log wins when supplied; otherwise the
// server-held one is kept. availableSpeakers entries survive as retained
// names so speakers with zero segments are not lost across round trips.
func (a *API) replaceSegments(segments []domain.Segment, auditLog []domain.AuditEntry, availableSpeakers []string) {
	current, ok := a.state.Snapshot()
	if !ok {
		current = domain.TranscriptionResult{Success: true, AuditLog: []domain.AuditEntry{}}
	}
	if auditLog != nil {
		current.AuditLog = auditLog
	}

	domain.AssignLineNumbers(segments)
	current.Segments = segments
	current.FullTranscript = domain.BuildTranscript(segments)
	current.AvailableSpeakers = domain.AvailableSpeakers(segments, availableSpeakers)
	current.SpeakerStatistics = domain.SpeakerStatistics(segments)
	a.state.Replace(current)

	for _, name := range availableSpeakers {
		a.state.RetainSpeaker(name)
	}
}

func (a *API) handleSupportedLocales(c *gin.Context) {
	locales := a.locales.SupportedLocales(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"locales": locales})
}

func (a *API) handleValidationRules(c *gin.Context) {
	rules, err := a.files.Rules(storage.UploadMode(c.Param("mode")))
	if err != nil {
		respondForError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (a *API) handleExport(c *gin.Context) {
	result, ok := a.state.Snapshot()
	if !ok {
		respondMessage(c, http.StatusBadRequest, "no transcription loaded")
		return
	}

	kind := c.Param("kind")
	exportID := uuid.NewString()
	outPath := a.files.ExportPath(exportID)
	title := "Transcript"

	var err error
	switch kind {
	case "transcript":
		err = a.pdf.GenerateTranscriptPDF(title, result.Segments, outPath)
	case "audit-log":
		err = a.pdf.GenerateAuditLogPDF("Edit History", result.AuditLog, outPath)
	case "combined":
		err = a.pdf.GenerateCombinedPDF(title, result.Segments, result.AuditLog, outPath)
	default:
		respondMessage(c, http.StatusBadRequest, fmt.Sprintf("unknown export kind %q", kind))
		return
	}
	if err != nil {
		respondForError(c, err)
		return
	}

	url, expiresAt, err := a.share.Generate(exportID)
	if err != nil {
		respondForError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url, "expiresAt": expiresAt.UTC()})
}

func (a *API) handleServeExport(c *gin.Context) {
	exportID := c.Param("id")
	expiresParam := c.Query("exp")
	signature := c.Query("sig")

	if expiresParam == "" || signature == "" {
		respondMessage(c, http.StatusBadRequest, "missing signature")
		return
	}

	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid expiration")
		return
	}

	if expires < time.Now().Unix() {
		respondMessage(c, http.StatusGone, "link expired")
		return
	}

	path := c.Request.URL.Path
	if !a.share.Validate(path, expires, signature) {
		respondMessage(c, http.StatusForbidden, "invalid signature")
		return
	}

	pdfPath := a.files.ExportPath(exportID)
	if _, err := os.Stat(pdfPath); err != nil {
		respondMessage(c, http.StatusNotFound, "export not found")
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.FileAttachment(pdfPath, filepath.Base(pdfPath))
}

func (a *API) handleDownloadRawJSON(c *gin.Context) {
	result, ok := a.state.Snapshot()
	if !ok || result.RawJSONData == "" {
		respondMessage(c, http.StatusNotFound, "no raw transcription data available")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="raw_transcription.json"`)
	c.Data(http.StatusOK, "application/json", []byte(result.RawJSONData))
}

func (a *API) handleDownloadGoldenRecord(c *gin.Context) {
	result, ok := a.state.Snapshot()
	if !ok {
		respondMessage(c, http.StatusNotFound, "no transcription loaded")
		return
	}

	record := gin.H{
		"exportedAt":        time.Now().UTC(),
		"segments":          result.Segments,
		"fullTranscript":    result.FullTranscript,
		"availableSpeakers": result.AvailableSpeakers,
		"speakerStatistics": result.SpeakerStatistics,
		"auditLog":          result.AuditLog,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="golden_record.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

// respondForError maps domain error kinds onto HTTP statuses.
func respondForError(c *gin.Context, err error) {
	var provider *domain.ProviderError
	switch {
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, err)
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, err)
	case errors.As(err, &provider):
		respondError(c, http.StatusBadGateway, err)
	default:
		respondError(c, http.StatusInternalServerError, err)
	}
}

func respondError(c *gin.Context, status int, err error) {
	respondMessage(c, status, err.Error())
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
