package services

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"voicedesk/internal/domain"
)

const localeCacheTTL = time.Hour

// LocaleAPI is the slice of the provider client the locale lookup needs.
type LocaleAPI interface {
	Configured() bool
	ListModels(ctx context.Context) ([]ProviderModel, error)
}

// LocaleService resolves the supported-locale list from the provider's
// model catalog, cached in-process for an hour. Provider failures fall back
// to a built-in list so locale selection always works.
type LocaleService struct {
	api LocaleAPI
	now func() time.Time

	mu        sync.Mutex
	cached    []domain.LocaleInfo
	fetchedAt time.Time
}

func NewLocaleService(api LocaleAPI) *LocaleService {
	return &LocaleService{api: api, now: time.Now}
}

// SupportedLocales returns the deduplicated, sorted locale list.
func (s *LocaleService) SupportedLocales(ctx context.Context) []domain.LocaleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.fetchedAt) < localeCacheTTL {
		return s.cached
	}

	locales := s.fetch(ctx)
	s.cached = locales
	s.fetchedAt = s.now()
	return locales
}

func (s *LocaleService) fetch(ctx context.Context) []domain.LocaleInfo {
	if !s.api.Configured() {
		return fallbackLocales()
	}

	models, err := s.api.ListModels(ctx)
	if err != nil {
		log.Printf("list models for locales: %v", err)
		return fallbackLocales()
	}

	seen := map[string]struct{}{}
	locales := []domain.LocaleInfo{}
	for _, m := range models {
		if m.Locale == "" {
			continue
		}
		if _, ok := seen[m.Locale]; ok {
			continue
		}
		seen[m.Locale] = struct{}{}
		locales = append(locales, domain.LocaleInfo{Code: m.Locale, Name: localeDisplayName(m.Locale)})
	}
	if len(locales) == 0 {
		return fallbackLocales()
	}

	sort.Slice(locales, func(i, j int) bool { return locales[i].Code < locales[j].Code })
	return locales
}

var localeNames = map[string]string{
	"ar-SA": "Arabic (Saudi Arabia)",
	"cs-CZ": "Czech (Czechia)",
	"da-DK": "Danish (Denmark)",
	"de-AT": "German (Austria)",
	"de-CH": "German (Switzerland)",
	"de-DE": "German (Germany)",
	"el-GR": "Greek (Greece)",
	"en-AU": "English (Australia)",
	"en-CA": "English (Canada)",
	"en-GB": "English (United Kingdom)",
	"en-IE": "English (Ireland)",
	"en-IN": "English (India)",
	"en-US": "English (United States)",
	"es-ES": "Spanish (Spain)",
	"es-MX": "Spanish (Mexico)",
	"fi-FI": "Finnish (Finland)",
	"fr-CA": "French (Canada)",
	"fr-FR": "French (France)",
	"hi-IN": "Hindi (India)",
	"it-IT": "Italian (Italy)",
	"ja-JP": "Japanese (Japan)",
	"ko-KR": "Korean (Korea)",
	"nb-NO": "Norwegian (Norway)",
	"nl-NL": "Dutch (Netherlands)",
	"pl-PL": "Polish (Poland)",
	"pt-BR": "Portuguese (Brazil)",
	"pt-PT": "Portuguese (Portugal)",
	"ru-RU": "Russian (Russia)",
	"sv-SE": "Swedish (Sweden)",
	"zh-CN": "Chinese (Mandarin, Simplified)",
}

func localeDisplayName(code string) string {
	if name, ok := localeNames[code]; ok {
		return name
	}
	return code
}

// fallbackLocales returns the built-in locale list used when the provider
// catalog is unavailable.
func fallbackLocales() []domain.LocaleInfo {
	codes := make([]string, 0, len(localeNames))
	for code := range localeNames {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	locales := make([]domain.LocaleInfo, 0, len(codes))
	for _, code := range codes {
		locales = append(locales, domain.LocaleInfo{Code: code, Name: localeNames[code]})
	}
	return locales
}
