package services

import (
	"strings"
	"testing"
	"time"

	"voicedesk/internal/config"
)

func TestSignAndValidateURL(t *testing.T) {
	signed := SignURL("/export-file/abc", 1924992000, "secret")
	if !strings.Contains(signed, "exp=1924992000") || !strings.Contains(signed, "sig=") {
		t.Fatalf("unexpected signed url: %q", signed)
	}

	sig := signed[strings.Index(signed, "sig=")+4:]
	if !ValidateSignature("/export-file/abc", 1924992000, sig, "secret") {
		t.Error("valid signature rejected")
	}
	if ValidateSignature("/export-file/abc", 1924992000, sig, "other-secret") {
		t.Error("signature validated with the wrong secret")
	}
	if ValidateSignature("/export-file/other", 1924992000, sig, "secret") {
		t.Error("signature validated for a different path")
	}
	if ValidateSignature("/export-file/abc", 1924992001, sig, "secret") {
		t.Error("signature validated for a different expiry")
	}
}

func TestShareServiceGenerate(t *testing.T) {
	svc := NewShareService(config.Config{
		BaseURL:     "http://localhost:8080",
		ShareSecret: "secret",
		ShareTTL:    time.Hour,
	})

	url, expiresAt, err := svc.Generate("abc")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:8080/export-file/abc?exp=") {
		t.Errorf("url = %q", url)
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expiry %v not about an hour out", expiresAt)
	}
}
