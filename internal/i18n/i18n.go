package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const (
	LangEN = "en"
	LangPT = "pt"
)

//go:embed locales/*.json
var localeFS embed.FS

// Manager resolves message keys into localized text.
type Manager struct {
	defaultLanguage string
	locales         map[string]map[string]string
	supported       []string
}

// NewManager loads the embedded catalogs. defaultLanguage must be one of them.
func NewManager(defaultLanguage string) (*Manager, error) {
	manager := &Manager{
		locales: map[string]map[string]string{},
	}

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		language := strings.TrimSuffix(strings.ToLower(entry.Name()), ".json")
		content, err := localeFS.ReadFile("locales/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", language, err)
		}
		messages := map[string]string{}
		if err := json.Unmarshal(content, &messages); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", language, err)
		}
		if len(messages) == 0 {
			return nil, fmt.Errorf("locale %s is empty", language)
		}
		manager.locales[language] = messages
		manager.supported = append(manager.supported, language)
	}
	sort.Strings(manager.supported)

	defaultLanguage = manager.NormalizeLanguage(defaultLanguage)
	if _, ok := manager.locales[defaultLanguage]; !ok {
		return nil, fmt.Errorf("default language %q has no locale", defaultLanguage)
	}
	manager.defaultLanguage = defaultLanguage
	return manager, nil
}

// MustNewManager is NewManager for wiring code and tests with known-good catalogs.
func MustNewManager(defaultLanguage string) *Manager {
	m, err := NewManager(defaultLanguage)
	if err != nil {
		panic(err)
	}
	return m
}

// SupportedLanguages returns the loaded language codes in sorted order.
func (m *Manager) SupportedLanguages() []string {
	return append([]string(nil), m.supported...)
}

// DefaultLanguage returns the fallback language.
func (m *Manager) DefaultLanguage() string {
	return m.defaultLanguage
}

// NormalizeLanguage reduces tags like "pt_BR" or "en-US" to a supported base language,
// falling back to the default.
func (m *Manager) NormalizeLanguage(language string) string {
	base := strings.ToLower(strings.TrimSpace(language))
	if idx := strings.IndexAny(base, "-_"); idx > 0 {
		base = base[:idx]
	}
	if _, ok := m.locales[base]; ok {
		return base
	}
	return m.defaultLanguage
}

// T renders key in language. args are name/value pairs substituted into {name}
// placeholders. Missing keys fall back to the default language, then to the key.
func (m *Manager) T(language, key string, args ...interface{}) string {
	message, ok := m.locales[m.NormalizeLanguage(language)][key]
	if !ok {
		message, ok = m.locales[m.defaultLanguage][key]
	}
	if !ok {
		return key
	}
	if len(args) < 2 {
		return message
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+fmt.Sprint(args[i])+"}", fmt.Sprint(args[i+1]))
	}
	return strings.NewReplacer(pairs...).Replace(message)
}
