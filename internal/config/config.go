package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// Speech provider
	SpeechAPIKey  string
	SpeechRegion  string
	SpeechBaseURL string
	DefaultLocale string

	// Diarization defaults
	DefaultMinSpeakers int
	DefaultMaxSpeakers int

	// Batch jobs
	EnableBatch        bool
	AutoRefreshSeconds int

	// Cache freshness. SASLifetime is the lifetime of the signed result
	// URLs the provider hands out; CacheValidDuration stays below it by a
	// safety margin so clients refresh before URLs expire mid-use.
	SASLifetime        time.Duration
	CacheValidDuration time.Duration

	// Uploads
	DataDir            string
	RealtimeExtensions []string
	BatchExtensions    []string
	RealtimeMaxBytes   int64
	BatchMaxBytes      int64
	BatchMaxFiles      int
	MaxUploadBytes     int64

	// Export links
	BaseURL     string
	ShareSecret string
	ShareTTL    time.Duration
}

func LoadConfig() (Config, error) {
	cfg := Config{}

	cfg.Port = envOrDefault("PORT", "8080")
	cfg.SpeechAPIKey = os.Getenv("SPEECH_API_KEY")
	cfg.SpeechRegion = envOrDefault("SPEECH_REGION", "eastus")
	cfg.SpeechBaseURL = envOrDefault("SPEECH_BASE_URL",
		fmt.Sprintf("https://%s.api.cognitive.microsoft.com/speechtotext/v3.1", cfg.SpeechRegion))
	cfg.DefaultLocale = envOrDefault("DEFAULT_LOCALE", "en-US")

	minSpeakers, err := parseIntEnv("DEFAULT_MIN_SPEAKERS", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse DEFAULT_MIN_SPEAKERS: %w", err)
	}
	cfg.DefaultMinSpeakers = int(minSpeakers)

	maxSpeakers, err := parseIntEnv("DEFAULT_MAX_SPEAKERS", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse DEFAULT_MAX_SPEAKERS: %w", err)
	}
	cfg.DefaultMaxSpeakers = int(maxSpeakers)

	cfg.EnableBatch = parseBoolEnv("ENABLE_BATCH_TRANSCRIPTION", true)

	autoRefresh, err := parseIntEnv("BATCH_JOB_AUTO_REFRESH_SECONDS", 60)
	if err != nil {
		return Config{}, fmt.Errorf("parse BATCH_JOB_AUTO_REFRESH_SECONDS: %w", err)
	}
	cfg.AutoRefreshSeconds = int(autoRefresh)

	sasHours, err := parseIntEnv("SAS_LIFETIME_HOURS", 12)
	if err != nil {
		return Config{}, fmt.Errorf("parse SAS_LIFETIME_HOURS: %w", err)
	}
	cfg.SASLifetime = time.Duration(sasHours) * time.Hour

	marginMinutes, err := parseIntEnv("CACHE_SAFETY_MARGIN_MINUTES", 60)
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_SAFETY_MARGIN_MINUTES: %w", err)
	}
	cfg.CacheValidDuration = cfg.SASLifetime - time.Duration(marginMinutes)*time.Minute
	if cfg.CacheValidDuration <= 0 {
		return Config{}, fmt.Errorf("cache safety margin %dm leaves no freshness window within SAS lifetime %s", marginMinutes, cfg.SASLifetime)
	}

	cfg.DataDir = envOrDefault("DATA_DIR", "data")
	cfg.RealtimeExtensions = splitExtensions(envOrDefault("REALTIME_ALLOWED_EXTENSIONS", ".wav"))
	cfg.BatchExtensions = splitExtensions(envOrDefault("BATCH_ALLOWED_EXTENSIONS", ".wav,.mp3,.ogg,.flac,.opus,.m4a,.webm"))

	realtimeMaxMB, err := parseIntEnv("REALTIME_MAX_FILE_MB", 100)
	if err != nil {
		return Config{}, fmt.Errorf("parse REALTIME_MAX_FILE_MB: %w", err)
	}
	cfg.RealtimeMaxBytes = realtimeMaxMB * 1024 * 1024

	batchMaxMB, err := parseIntEnv("BATCH_MAX_FILE_MB", 1024)
	if err != nil {
		return Config{}, fmt.Errorf("parse BATCH_MAX_FILE_MB: %w", err)
	}
	cfg.BatchMaxBytes = batchMaxMB * 1024 * 1024

	batchMaxFiles, err := parseIntEnv("BATCH_MAX_FILES", 100)
	if err != nil {
		return Config{}, fmt.Errorf("parse BATCH_MAX_FILES: %w", err)
	}
	cfg.BatchMaxFiles = int(batchMaxFiles)

	maxUploadMB, err := parseIntEnv("MAX_UPLOAD_MB", 1100)
	if err != nil {
		return Config{}, fmt.Errorf("parse MAX_UPLOAD_MB: %w", err)
	}
	cfg.MaxUploadBytes = maxUploadMB * 1024 * 1024

	cfg.BaseURL = envOrDefault("BASE_URL", fmt.Sprintf("http://localhost:%s", cfg.Port))
	cfg.ShareSecret = envOrDefault("SHARE_SECRET", "change-me")

	shareTTLSeconds, err := parseIntEnv("SHARE_TTL_SECONDS", 86400)
	if err != nil {
		return Config{}, fmt.Errorf("parse SHARE_TTL_SECONDS: %w", err)
	}
	cfg.ShareTTL = time.Duration(shareTTLSeconds) * time.Second

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = absDataDir

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseIntEnv(key string, fallback int64) (int64, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return num, nil
}

func parseBoolEnv(key string, fallback bool) bool {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback
	}
	return strings.EqualFold(value, "true")
}

func splitExtensions(raw string) []string {
	parts := strings.Split(raw, ",")
	exts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, ".") {
			p = "." + p
		}
		exts = append(exts, p)
	}
	return exts
}
