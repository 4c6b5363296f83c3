package storage

import (
	"strings"
	"testing"

	"voicedesk/internal/config"
	"voicedesk/internal/domain"
)

type memFile struct {
	*strings.Reader
}

func (memFile) Close() error { return nil }

func newTestManager(t *testing.T) *FileManager {
	t.Helper()

	cfg := config.Config{
		DataDir:            t.TempDir(),
		RealtimeExtensions: []string{".wav"},
		BatchExtensions:    []string{".wav", ".mp3", ".ogg", ".flac", ".opus", ".m4a", ".webm"},
		RealtimeMaxBytes:   100 * 1024 * 1024,
		BatchMaxBytes:      1024 * 1024 * 1024,
		BatchMaxFiles:      100,
	}

	fm, err := NewFileManager(cfg)
	if err != nil {
		t.Fatalf("new file manager: %v", err)
	}
	return fm
}

func TestRules(t *testing.T) {
	fm := newTestManager(t)

	realtime, err := fm.Rules(ModeRealtime)
	if err != nil {
		t.Fatalf("realtime rules: %v", err)
	}
	if realtime.MaxFiles != 1 || realtime.MaxFileMB != 100 {
		t.Errorf("realtime rules = %+v", realtime)
	}

	batch, err := fm.Rules(ModeBatch)
	if err != nil {
		t.Fatalf("batch rules: %v", err)
	}
	if batch.MaxFiles != 100 || len(batch.AllowedExtensions) != 7 {
		t.Errorf("batch rules = %+v", batch)
	}

	if _, err := fm.Rules(UploadMode("nonsense")); !domain.IsValidation(err) {
		t.Errorf("unknown mode accepted: %v", err)
	}
}

func TestValidateUpload(t *testing.T) {
	fm := newTestManager(t)

	if err := fm.ValidateUpload(ModeRealtime, "meeting.wav", 1024); err != nil {
		t.Errorf("valid realtime upload rejected: %v", err)
	}
	if err := fm.ValidateUpload(ModeRealtime, "meeting.mp3", 1024); !domain.IsValidation(err) {
		t.Errorf("mp3 allowed in realtime mode: %v", err)
	}
	if err := fm.ValidateUpload(ModeBatch, "meeting.mp3", 1024); err != nil {
		t.Errorf("valid batch upload rejected: %v", err)
	}
	if err := fm.ValidateUpload(ModeBatch, "noextension", 1024); !domain.IsValidation(err) {
		t.Errorf("extensionless file accepted: %v", err)
	}
	if err := fm.ValidateUpload(ModeRealtime, "big.wav", 101*1024*1024); !domain.IsValidation(err) {
		t.Errorf("oversized realtime upload accepted: %v", err)
	}
	// Extension matching is case-insensitive via normalization.
	if err := fm.ValidateUpload(ModeRealtime, "MEETING.WAV", 1024); err != nil {
		t.Errorf("uppercase extension rejected: %v", err)
	}
}

func TestValidateBatchCount(t *testing.T) {
	fm := newTestManager(t)

	if err := fm.ValidateBatchCount(0); !domain.IsValidation(err) {
		t.Errorf("empty batch accepted: %v", err)
	}
	if err := fm.ValidateBatchCount(100); err != nil {
		t.Errorf("full batch rejected: %v", err)
	}
	if err := fm.ValidateBatchCount(101); !domain.IsValidation(err) {
		t.Errorf("oversized batch accepted: %v", err)
	}
}

func TestSaveUploadStoresWithPrefixedName(t *testing.T) {
	fm := newTestManager(t)

	// A RIFF/WAVE header so content sniffing sees audio.
	content := "RIFF\x24\x00\x00\x00WAVEfmt " + strings.Repeat("\x00", 64)
	saved, err := fm.SaveUpload(ModeRealtime, memFile{strings.NewReader(content)}, "team meeting.wav", int64(len(content)))
	if err != nil {
		t.Fatalf("save upload: %v", err)
	}

	if saved.OriginalName != "team meeting.wav" {
		t.Errorf("original name = %q", saved.OriginalName)
	}
	if !strings.HasSuffix(saved.StoredName, "_team meeting.wav") {
		t.Errorf("stored name should embed the original: %q", saved.StoredName)
	}

	path, err := fm.AudioPath(saved.StoredName)
	if err != nil {
		t.Fatalf("audio path: %v", err)
	}
	if path != saved.Path {
		t.Errorf("AudioPath mismatch: %q vs %q", path, saved.Path)
	}
}

func TestSaveUploadRejectsNonAudioContent(t *testing.T) {
	fm := newTestManager(t)

	html := "<!DOCTYPE html><html><body>not audio</body></html>"
	_, err := fm.SaveUpload(ModeRealtime, memFile{strings.NewReader(html)}, "fake.wav", int64(len(html)))
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error for html content, got %v", err)
	}
}

func TestAudioPathRejectsTraversal(t *testing.T) {
	fm := newTestManager(t)

	if _, err := fm.AudioPath("../secrets.txt"); !domain.IsValidation(err) {
		t.Errorf("path traversal accepted: %v", err)
	}
	if _, err := fm.AudioPath(""); !domain.IsValidation(err) {
		t.Errorf("empty name accepted: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"normal.wav":      "normal.wav",
		"a/b\\c.wav":      "a_b_c.wav",
		"..":              "upload",
		"":                "upload",
		"ctrl\x01byte.wav": "ctrlbyte.wav",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
