package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"voicedesk/internal/config"
	"voicedesk/internal/domain"
)

// UploadMode selects which validation rules apply to an upload.
type UploadMode string

const (
	ModeRealtime UploadMode = "realtime"
	ModeBatch    UploadMode = "batch"
)

// UploadRules is the per-mode validation policy, also served to clients so
// the UI can validate before uploading.
type UploadRules struct {
	Mode              UploadMode `json:"mode"`
	AllowedExtensions []string   `json:"allowedExtensions"`
	MaxFileBytes      int64      `json:"maxFileBytes"`
	MaxFileMB         int64      `json:"maxFileMB"`
	MaxFiles          int        `json:"maxFiles"`
}

// FileManager stages uploaded audio and generated exports on local disk.
// Uploaded files keep a "uuid_originalname" naming scheme so the original
// name can be recovered later.
type FileManager struct {
	baseDir   string
	audioDir  string
	exportDir string

	realtimeRules UploadRules
	batchRules    UploadRules
}

func NewFileManager(cfg config.Config) (*FileManager, error) {
	fm := &FileManager{
		baseDir:   cfg.DataDir,
		audioDir:  filepath.Join(cfg.DataDir, "audio"),
		exportDir: filepath.Join(cfg.DataDir, "exports"),
		realtimeRules: UploadRules{
			Mode:              ModeRealtime,
			AllowedExtensions: cfg.RealtimeExtensions,
			MaxFileBytes:      cfg.RealtimeMaxBytes,
			MaxFileMB:         cfg.RealtimeMaxBytes / (1024 * 1024),
			MaxFiles:          1,
		},
		batchRules: UploadRules{
			Mode:              ModeBatch,
			AllowedExtensions: cfg.BatchExtensions,
			MaxFileBytes:      cfg.BatchMaxBytes,
			MaxFileMB:         cfg.BatchMaxBytes / (1024 * 1024),
			MaxFiles:          cfg.BatchMaxFiles,
		},
	}

	dirs := []string{fm.baseDir, fm.audioDir, fm.exportDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	return fm, nil
}

// Rules returns the validation policy for a mode.
func (fm *FileManager) Rules(mode UploadMode) (UploadRules, error) {
	switch mode {
	case ModeRealtime:
		return fm.realtimeRules, nil
	case ModeBatch:
		return fm.batchRules, nil
	default:
		return UploadRules{}, &domain.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown upload mode %q", mode)}
	}
}

// ValidateUpload checks one file's name and declared size against a mode's
// policy without reading any content.
func (fm *FileManager) ValidateUpload(mode UploadMode, filename string, size int64) error {
	rules, err := fm.Rules(mode)
	if err != nil {
		return err
	}

	ext := normalizeExtension(filename)
	if ext == "" {
		return &domain.ValidationError{Field: "file", Reason: fmt.Sprintf("file %q has no extension", filename)}
	}
	allowed := false
	for _, candidate := range rules.AllowedExtensions {
		if ext == candidate {
			allowed = true
			break
		}
	}
	if !allowed {
		return &domain.ValidationError{
			Field:  "file",
			Reason: fmt.Sprintf("file type %s is not allowed for %s uploads (allowed: %s)", ext, mode, strings.Join(rules.AllowedExtensions, ", ")),
		}
	}

	if size > rules.MaxFileBytes {
		return &domain.ValidationError{
			Field:  "file",
			Reason: fmt.Sprintf("file %q exceeds the %d MB limit for %s uploads", filename, rules.MaxFileMB, mode),
		}
	}
	return nil
}

// ValidateBatchCount rejects batch submissions above the file-count limit.
func (fm *FileManager) ValidateBatchCount(count int) error {
	if count == 0 {
		return &domain.ValidationError{Field: "files", Reason: "at least one file is required"}
	}
	if count > fm.batchRules.MaxFiles {
		return &domain.ValidationError{
			Field:  "files",
			Reason: fmt.Sprintf("%d files exceeds the limit of %d per batch", count, fm.batchRules.MaxFiles),
		}
	}
	return nil
}

// SavedUpload describes one staged file.
type SavedUpload struct {
	Path         string
	StoredName   string
	OriginalName string
}

// SaveUpload validates and stages one uploaded file. The stored name embeds
// the original so downstream job listings can display it.
func (fm *FileManager) SaveUpload(mode UploadMode, file multipart.File, filename string, size int64) (SavedUpload, error) {
	if err := fm.ValidateUpload(mode, filename, size); err != nil {
		return SavedUpload{}, err
	}

	sample := make([]byte, 512)
	n, err := file.Read(sample)
	if err != nil && err != io.EOF {
		return SavedUpload{}, fmt.Errorf("read audio sample: %w", err)
	}
	sample = sample[:n]

	contentType := strings.ToLower(http.DetectContentType(sample))
	if contentType != "application/octet-stream" && !strings.HasPrefix(contentType, "audio/") && !strings.HasPrefix(contentType, "video/") {
		return SavedUpload{}, &domain.ValidationError{
			Field:  "file",
			Reason: fmt.Sprintf("file %q does not look like audio (detected %s)", filename, contentType),
		}
	}

	base := sanitizeFilename(filepath.Base(filename))
	storedName := fmt.Sprintf("%s_%s", uuid.NewString(), base)
	path := filepath.Join(fm.audioDir, storedName)

	rules, _ := fm.Rules(mode)
	if err := writeWithLimit(path, sample, file, rules.MaxFileBytes); err != nil {
		return SavedUpload{}, err
	}

	return SavedUpload{Path: path, StoredName: storedName, OriginalName: base}, nil
}

// RemoveUpload deletes a staged file; missing files are not an error.
func (fm *FileManager) RemoveUpload(path string) {
	if path == "" || !strings.HasPrefix(path, fm.audioDir) {
		return
	}
	_ = os.Remove(path)
}

// AudioPath resolves a stored name back to its on-disk location, rejecting
// names that escape the audio directory.
func (fm *FileManager) AudioPath(storedName string) (string, error) {
	clean := filepath.Base(storedName)
	if clean != storedName || clean == "." || clean == "" {
		return "", &domain.ValidationError{Field: "file", Reason: "invalid file name"}
	}
	return filepath.Join(fm.audioDir, clean), nil
}

// AudioDir returns the directory staged uploads live in.
func (fm *FileManager) AudioDir() string {
	return fm.audioDir
}

// ExportPath returns the on-disk location for a generated export.
func (fm *FileManager) ExportPath(id string) string {
	return filepath.Join(fm.exportDir, fmt.Sprintf("%s.pdf", id))
}

func writeWithLimit(path string, sample []byte, file multipart.File, maxBytes int64) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}

	total := int64(0)

	cleanup := func(err error) error {
		out.Close()
		os.Remove(path)
		return err
	}

	if len(sample) > 0 {
		if _, err := out.Write(sample); err != nil {
			return cleanup(fmt.Errorf("write audio sample: %w", err))
		}
		total += int64(len(sample))
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			total += int64(n)
			if maxBytes > 0 && total > maxBytes {
				return cleanup(&domain.ValidationError{Field: "file", Reason: "file exceeds maximum size"})
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				return cleanup(fmt.Errorf("write audio file: %w", werr))
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return cleanup(fmt.Errorf("read audio content: %w", err))
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close audio file: %w", err)
	}

	return nil
}

func normalizeExtension(filename string) string {
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(filename)))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// sanitizeFilename strips path separators and control characters from a
// client-supplied name.
func sanitizeFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		default:
			return r
		}
	}, name)
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		cleaned = "upload"
	}
	return cleaned
}
